// Package geo holds the small amount of spherical math the API needs
package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used for haversine distances
const EarthRadiusMeters = 6371e3

// Point is a WGS84 coordinate
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the point lies inside the WGS84 coordinate ranges
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Distance returns the great-circle distance between a and b in meters
func Distance(a, b Point) float64 {
	φ1 := a.Lat * math.Pi / 180
	φ2 := b.Lat * math.Pi / 180
	dφ := (b.Lat - a.Lat) * math.Pi / 180
	dλ := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dφ/2)*math.Sin(dφ/2) +
		math.Cos(φ1)*math.Cos(φ2)*math.Sin(dλ/2)*math.Sin(dλ/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// BoundingBox is a lat/lon rectangle used to prefilter radius queries in SQL
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// BoundsAround returns a box that fully contains the circle of radiusMeters around center.
// Near the poles the longitude span is widened to the full range.
func BoundsAround(center Point, radiusMeters float64) BoundingBox {
	dLat := radiusMeters / EarthRadiusMeters * 180 / math.Pi

	cosLat := math.Cos(center.Lat * math.Pi / 180)
	dLon := 180.0
	if cosLat > 1e-6 {
		dLon = math.Min(180, dLat/cosLat)
	}

	return BoundingBox{
		MinLat: math.Max(-90, center.Lat-dLat),
		MaxLat: math.Min(90, center.Lat+dLat),
		MinLon: math.Max(-180, center.Lon-dLon),
		MaxLon: math.Min(180, center.Lon+dLon),
	}
}
