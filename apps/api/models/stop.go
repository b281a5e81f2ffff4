package models

import (
	"errors"
	"strings"
)

// Defaults applied to routes that arrive without display metadata
const (
	DefaultRouteShortName = "R"
	DefaultRouteColor     = "#6b46c1"
	DefaultRouteType      = 3
)

// RouteRef is a route serving a stop, as shown on a place marker.
// Two refs describe the same route only if ShortName and ProviderID both match.
type RouteRef struct {
	ShortName  string `json:"routeShortName"`
	Color      string `json:"routeColor"`
	Type       int    `json:"routeType"`
	ProviderID string `json:"feedOnestopId"`
}

// Key returns the identity used to deduplicate routes across stops
func (r RouteRef) Key() string {
	return r.ShortName + "-" + r.ProviderID
}

// WithDefaults fills empty display fields with the defaults
func (r RouteRef) WithDefaults() RouteRef {
	if r.ShortName == "" {
		r.ShortName = DefaultRouteShortName
	}
	if r.Color == "" {
		r.Color = DefaultRouteColor
	} else if !strings.HasPrefix(r.Color, "#") {
		r.Color = "#" + r.Color
	}
	if r.Type == 0 {
		r.Type = DefaultRouteType
	}
	return r
}

// RawStop is one provider's stop record as returned by the stop store
type RawStop struct {
	ID         string     `json:"stopId"`
	Name       string     `json:"stopName"`
	Lat        float64    `json:"lat"`
	Lon        float64    `json:"lon"`
	ProviderID string     `json:"feedOnestopId"`
	FeedName   string     `json:"feedName"`
	Routes     []RouteRef `json:"routes"`

	LocationType int `json:"locationType"`

	// Bike-share station fields (nil for GTFS stops)
	IsBikeStation  bool    `json:"isBikeStation"`
	BikeCapacity   *int    `json:"bikeCapacity,omitempty"`
	ProviderType   *string `json:"providerType,omitempty"`
	BikeProviderID *string `json:"providerId,omitempty"`
}

// Validate checks the fields the merge engine relies on
func (s *RawStop) Validate() error {
	if s.ID == "" {
		return errors.New("stop_id is required")
	}
	if s.ProviderID == "" {
		return errors.New("feed onestop_id is required")
	}
	if s.Lat < -90 || s.Lat > 90 {
		return errors.New("latitude out of range: must be between -90 and 90")
	}
	if s.Lon < -180 || s.Lon > 180 {
		return errors.New("longitude out of range: must be between -180 and 180")
	}
	return nil
}

// Stop is a single stop looked up by feed and stop id
type Stop struct {
	ID         string  `json:"stopId"`
	Name       string  `json:"stopName"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	FeedID     string  `json:"feedOnestopId"`
	FeedName   string  `json:"feedName"`
	IsBike     bool    `json:"isBikeStation"`
	StopCode   *string `json:"stopCode,omitempty"`
	Wheelchair *int    `json:"wheelchairBoarding,omitempty"`
}

// NearbyQuery is a radius search around a point
type NearbyQuery struct {
	Lat          float64
	Lon          float64
	RadiusMeters float64
	// Limit caps the number of stops returned, nearest first
	Limit int
	// BikeOnly restricts the query to bike-share stations
	BikeOnly bool
}

// DefaultNearbyLimit is the page size of a nearby stop query
const DefaultNearbyLimit = 30
