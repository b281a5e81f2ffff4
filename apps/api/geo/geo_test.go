package geo

import (
	"math"
	"testing"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Point
		expected float64
		delta    float64
	}{
		{
			name:     "same point",
			a:        Point{Lat: 39.4699, Lon: -0.3763},
			b:        Point{Lat: 39.4699, Lon: -0.3763},
			expected: 0,
			delta:    0.001,
		},
		{
			name:     "one degree of latitude",
			a:        Point{Lat: 39, Lon: -0.37},
			b:        Point{Lat: 40, Lon: -0.37},
			expected: 111195,
			delta:    5,
		},
		{
			name:     "Valencia Ajuntament to Colon",
			a:        Point{Lat: 39.4697, Lon: -0.3774},
			b:        Point{Lat: 39.4702, Lon: -0.3711},
			expected: 543,
			delta:    10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.a, tt.b)
			if math.Abs(got-tt.expected) > tt.delta {
				t.Errorf("Distance(%v, %v) = %f, want %f ± %f", tt.a, tt.b, got, tt.expected, tt.delta)
			}
		})
	}
}

func TestBoundsAroundContainsCircle(t *testing.T) {
	center := Point{Lat: 39.4699, Lon: -0.3763}
	box := BoundsAround(center, 1000)

	// Points exactly 1000m north, south, east and west must be inside the box
	for _, bearing := range []float64{0, 90, 180, 270} {
		p := destination(center, bearing, 999)
		if !inside(box, p) {
			t.Errorf("point at bearing %.0f (%v) not inside %+v", bearing, p, box)
		}
	}

	far := Point{Lat: 39.50, Lon: -0.3763}
	if inside(box, far) {
		t.Errorf("point %v should be outside %+v", far, box)
	}
}

func inside(b BoundingBox, p Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}

func TestBoundsAroundPole(t *testing.T) {
	box := BoundsAround(Point{Lat: 90, Lon: 10}, 1000)
	if box.MinLon != -180 || box.MaxLon != 180 {
		t.Errorf("expected full longitude span at the pole, got %+v", box)
	}
	if box.MaxLat != 90 {
		t.Errorf("MaxLat should clamp to 90, got %f", box.MaxLat)
	}
}

func TestPointValid(t *testing.T) {
	if !(Point{Lat: 39.47, Lon: -0.37}).Valid() {
		t.Error("Valencia should be valid")
	}
	if (Point{Lat: 91, Lon: 0}).Valid() {
		t.Error("latitude 91 should be invalid")
	}
	if (Point{Lat: 0, Lon: -181}).Valid() {
		t.Error("longitude -181 should be invalid")
	}
}

func destination(p Point, bearingDeg, meters float64) Point {
	δ := meters / EarthRadiusMeters
	θ := bearingDeg * math.Pi / 180
	φ1 := p.Lat * math.Pi / 180
	λ1 := p.Lon * math.Pi / 180
	φ2 := math.Asin(math.Sin(φ1)*math.Cos(δ) + math.Cos(φ1)*math.Sin(δ)*math.Cos(θ))
	λ2 := λ1 + math.Atan2(math.Sin(θ)*math.Sin(δ)*math.Cos(φ1), math.Cos(δ)-math.Sin(φ1)*math.Sin(φ2))
	return Point{Lat: φ2 * 180 / math.Pi, Lon: λ2 * 180 / math.Pi}
}
