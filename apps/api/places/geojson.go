package places

import "github.com/wayline/wayline/apps/api/models"

// FeatureCollection renders places as GeoJSON point features
func FeatureCollection(places []models.Place) models.FeatureCollection {
	fc := models.NewFeatureCollection(len(places))
	for _, p := range places {
		fc.Features = append(fc.Features, models.Feature{
			Type: "Feature",
			Geometry: models.Geometry{
				Type:        "Point",
				Coordinates: p.Coordinates,
			},
			Properties: p,
		})
	}
	return fc
}
