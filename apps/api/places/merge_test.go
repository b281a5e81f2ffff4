package places

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayline/wayline/apps/api/geo"
	"github.com/wayline/wayline/apps/api/models"
	"github.com/wayline/wayline/apps/api/providers"
)

var origin = geo.Point{Lat: 39.4699, Lon: -0.3763}

func groupsOf(t *testing.T, list ...providers.Provider) *providers.MergeGroups {
	t.Helper()
	reg, err := providers.New(list)
	require.NoError(t, err)
	return reg.Groups()
}

func stop(id, name, provider string, routes ...string) models.RawStop {
	s := models.RawStop{
		ID:         id,
		Name:       name,
		Lat:        39.4699,
		Lon:        -0.3763,
		ProviderID: provider,
	}
	for _, r := range routes {
		s.Routes = append(s.Routes, models.RouteRef{ShortName: r, Color: "#ff0000", Type: 1, ProviderID: provider})
	}
	return s
}

func mergeableAB(t *testing.T) *providers.MergeGroups {
	return groupsOf(t,
		providers.Provider{OnestopID: "A", Mergeable: map[string]interface{}{"B": true}},
		providers.Provider{OnestopID: "B"},
		providers.Provider{OnestopID: "C", Mergeable: map[string]interface{}{}},
	)
}

func TestMergeCombinesMergeableProviders(t *testing.T) {
	stops := []models.RawStop{
		stop("1", "Colon", "A", "L3", "L5"),
		stop("2", "Colón", "B", "19", "L3"),
	}

	out := Merge(origin, stops, mergeableAB(t))
	require.Len(t, out, 1)

	p := out[0]
	assert.True(t, p.Combined)
	assert.Equal(t, []string{"A", "B"}, p.ContributingProviders)
	assert.Equal(t, "Colon", p.Name)
	assert.Equal(t, "1", p.StopID)
	assert.Equal(t, 4, p.TotalRoutes)

	var keys []string
	for _, r := range p.Routes {
		keys = append(keys, r.Key())
	}
	// L3 from A and L3 from B are different routes
	assert.Equal(t, []string{"L3-A", "L5-A", "19-B", "L3-B"}, keys)
}

func TestMergeDeduplicatesRoutesAcrossStops(t *testing.T) {
	a := stop("1", "Colon", "A", "L3")
	b := stop("2", "Colon", "A", "L3", "L5")

	out := Merge(origin, []models.RawStop{a, b}, mergeableAB(t))
	require.Len(t, out, 1)
	assert.Len(t, out[0].Routes, 2)
	assert.Equal(t, []string{"A"}, out[0].ContributingProviders)
}

func TestMergeNeverCombinesDifferentGroups(t *testing.T) {
	stops := []models.RawStop{
		stop("1", "Colon", "A", "L3"),
		stop("2", "Colon", "C", "5"),
	}

	out := Merge(origin, stops, mergeableAB(t))
	require.Len(t, out, 2)
	for _, p := range out {
		assert.False(t, p.Combined)
	}
	assert.Equal(t, "A", out[0].FeedID)
	assert.Equal(t, "C", out[1].FeedID)
}

func TestMergeProvidersOutsideAnyGroupStaySeparate(t *testing.T) {
	stops := []models.RawStop{
		stop("1", "Colon", "Z"),
		stop("2", "Colon", "Z"),
	}
	out := Merge(origin, stops, mergeableAB(t))
	require.Len(t, out, 2)
	assert.False(t, out[0].Combined)
	assert.False(t, out[1].Combined)
}

func TestMergeBikeStationsPassThrough(t *testing.T) {
	capacity := 20
	bike := models.RawStop{
		ID:            "v-12",
		Name:          "Pl Ajuntament",
		Lat:           39.4700,
		Lon:           -0.3765,
		ProviderID:    "B",
		IsBikeStation: true,
		BikeCapacity:  &capacity,
	}
	gtfs := stop("1", "Plaça de l'Ajuntament", "A", "L1")

	groups := groupsOf(t,
		providers.Provider{OnestopID: "A", Mergeable: map[string]interface{}{"B": false}},
		providers.Provider{OnestopID: "B", Kind: providers.KindBike},
	)

	out := Merge(origin, []models.RawStop{gtfs, bike}, groups)
	require.Len(t, out, 2)
	assert.False(t, out[0].Combined)
	assert.Equal(t, models.PlaceStop, out[0].Kind)

	assert.False(t, out[1].Combined)
	assert.Equal(t, models.PlaceBike, out[1].Kind)
	assert.True(t, out[1].IsBikeStation)
	assert.Equal(t, 20, *out[1].BikeCapacity)
	assert.Empty(t, out[1].Routes)
	assert.NotNil(t, out[1].Routes)
}

func TestMergeBikeStationsNeverCombineEvenWhenMergeable(t *testing.T) {
	a := stop("1", "Colon", "A")
	b := stop("2", "Colon", "B")
	b.IsBikeStation = true

	out := Merge(origin, []models.RawStop{a, b}, mergeableAB(t))
	require.Len(t, out, 2)
	assert.False(t, out[0].Combined)
	assert.False(t, out[1].Combined)
}

func TestMergeFirstFitClustering(t *testing.T) {
	// A-B mergeable, C alone. C lands in its own sub-cluster, the second A joins the first.
	stops := []models.RawStop{
		stop("1", "Xativa", "A", "3"),
		stop("2", "Xativa", "C", "9"),
		stop("3", "Xativa", "B", "5"),
	}
	out := Merge(origin, stops, mergeableAB(t))
	require.Len(t, out, 2)

	assert.True(t, out[0].Combined)
	assert.Equal(t, []string{"A", "B"}, out[0].ContributingProviders)
	assert.False(t, out[1].Combined)
	assert.Equal(t, "C", out[1].FeedID)
}

func TestMergeOutputOrder(t *testing.T) {
	stops := []models.RawStop{
		stop("1", "Alpha", "A"),
		stop("2", "Colon", "A"),
		stop("3", "Beta", "B"),
		stop("4", "Colon", "B"),
	}
	out := Merge(origin, stops, mergeableAB(t))
	require.Len(t, out, 3)

	assert.Equal(t, "Colon", out[0].Name)
	assert.True(t, out[0].Combined)
	assert.Equal(t, "Alpha", out[1].Name)
	assert.Equal(t, "Beta", out[2].Name)
}

func TestMergeIsDeterministic(t *testing.T) {
	stops := []models.RawStop{
		stop("1", "Colon", "A", "L3"),
		stop("2", "Colon", "B", "L5"),
		stop("3", "Colon", "C", "7"),
		stop("4", "Angel Guimera", "A", "L1"),
		stop("5", "Àngel Guimerà", "B", "L1"),
	}
	groups := mergeableAB(t)

	first := Merge(origin, stops, groups)
	second := Merge(origin, stops, groups)
	assert.Equal(t, first, second)
}

func TestMergeCombinedPlaceIDIsStable(t *testing.T) {
	stops := []models.RawStop{
		stop("1", "Colon", "A"),
		stop("2", "Colon", "B"),
	}
	first := Merge(origin, stops, mergeableAB(t))
	second := Merge(origin, stops, mergeableAB(t))
	require.Len(t, first, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.NotEqual(t, "A:1", first[0].ID)

	single := Merge(origin, stops[:1], mergeableAB(t))
	assert.Equal(t, "A:1", single[0].ID)
}

func TestMergeRouteDefaults(t *testing.T) {
	s := stop("1", "Torrefiel", "A")
	s.Routes = []models.RouteRef{{ProviderID: "A"}, {ShortName: "12", Color: "00ff00", ProviderID: "A"}}

	out := Merge(origin, []models.RawStop{s}, mergeableAB(t))
	require.Len(t, out, 1)
	require.Len(t, out[0].Routes, 2)
	assert.Equal(t, models.RouteRef{ShortName: "R", Color: "#6b46c1", Type: 3, ProviderID: "A"}, out[0].Routes[0])
	assert.Equal(t, "#00ff00", out[0].Routes[1].Color)
}

func TestMergeDistance(t *testing.T) {
	s := stop("1", "Ruzafa", "A")
	s.Lat, s.Lon = 39.4702, -0.3711

	out := Merge(geo.Point{Lat: 39.4697, Lon: -0.3774}, []models.RawStop{s}, nil)
	require.Len(t, out, 1)
	assert.InDelta(t, 543, out[0].DistanceMeters, 10)
}

func TestFeatureCollection(t *testing.T) {
	out := Merge(origin, []models.RawStop{stop("1", "Colon", "A", "L3")}, nil)
	fc := FeatureCollection(out)

	data, err := json.Marshal(fc)
	require.NoError(t, err)

	var decoded struct {
		Type     string `json:"type"`
		Features []struct {
			Type     string `json:"type"`
			Geometry struct {
				Type        string     `json:"type"`
				Coordinates [2]float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]interface{} `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "FeatureCollection", decoded.Type)
	require.Len(t, decoded.Features, 1)
	f := decoded.Features[0]
	assert.Equal(t, "Point", f.Geometry.Type)
	assert.Equal(t, [2]float64{-0.3763, 39.4699}, f.Geometry.Coordinates)
	assert.Equal(t, "Colon", f.Properties["stopName"])
	assert.Equal(t, "stop", f.Properties["type"])
	assert.Equal(t, false, f.Properties["combined"])
}

func TestFeatureCollectionEmpty(t *testing.T) {
	data, err := json.Marshal(FeatureCollection(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"FeatureCollection","features":[]}`, string(data))
}
