package places

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Plaça de l'Ajuntament", "placa de lajuntament"},
		{"  Colón  ", "colon"},
		{"COLON", "colon"},
		{"Xàtiva - Estació del Nord", "xativa  estacio del nord"},
		{"Àngel Guimerà (L1/L3)", "angel guimera l1l3"},
		{"Pl. Ajuntament", "pl ajuntament"},
		{"", ""},
		{"---", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeName(tt.in), "NormalizeName(%q)", tt.in)
	}
}

func TestNormalizeNameKeepsDistinctNamesDistinct(t *testing.T) {
	assert.NotEqual(t, NormalizeName("Plaça de l'Ajuntament"), NormalizeName("Pl Ajuntament"))
	assert.Equal(t, NormalizeName("Colón"), NormalizeName("Colon"))
}
