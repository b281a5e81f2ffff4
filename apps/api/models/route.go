package models

import "encoding/json"

// RouteShape is a route line with its geometry as stored in the routes table
type RouteShape struct {
	ShortName string          `json:"routeShortName"`
	LongName  string          `json:"routeLongName"`
	Color     string          `json:"routeColor"`
	Type      int             `json:"routeType"`
	FeedID    string          `json:"feedOnestopId"`
	FeedName  string          `json:"feedName"`
	Geometry  json.RawMessage `json:"-"`
}
