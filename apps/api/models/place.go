package models

// PlaceKind distinguishes transit stops from bike-share stations
type PlaceKind string

const (
	PlaceStop PlaceKind = "stop"
	PlaceBike PlaceKind = "bike"
)

// Place is the client-facing representation of one or more physical stops
// that were judged to be the same place
type Place struct {
	ID          string     `json:"id"`
	Kind        PlaceKind  `json:"type"`
	Coordinates [2]float64 `json:"-"` // [lon, lat]

	StopID   string `json:"stopId"`
	Name     string `json:"stopName"`
	FeedID   string `json:"feedOnestopId"`
	FeedName string `json:"feedName"`

	Routes      []RouteRef `json:"routes"`
	TotalRoutes int        `json:"totalRoutes"`

	DistanceMeters int `json:"distance"`

	Combined              bool     `json:"combined"`
	ContributingProviders []string `json:"providers,omitempty"`

	// Bike-share only
	IsBikeStation  bool    `json:"isBikeStation,omitempty"`
	BikeCapacity   *int    `json:"bikeCapacity,omitempty"`
	ProviderType   *string `json:"providerType,omitempty"`
	BikeProviderID *string `json:"providerId,omitempty"`
}

// Feature is a GeoJSON feature with a point geometry
type Feature struct {
	Type       string      `json:"type"`
	Geometry   Geometry    `json:"geometry"`
	Properties interface{} `json:"properties"`
}

// Geometry is a GeoJSON geometry. Coordinates is left untyped because route
// lines carry LineString or MultiLineString arrays.
type Geometry struct {
	Type        string      `json:"type"`
	Coordinates interface{} `json:"coordinates"`
}

// FeatureCollection is a GeoJSON feature collection
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// NewFeatureCollection returns an empty, non-nil collection
func NewFeatureCollection(capacity int) FeatureCollection {
	return FeatureCollection{
		Type:     "FeatureCollection",
		Features: make([]Feature, 0, capacity),
	}
}
