package departures

import (
	"context"
	"errors"
	"time"

	"github.com/wayline/wayline/apps/api/models"
)

// ErrUpstreamUnavailable is returned when the upstream fetch fails and no
// cached entry can stand in for it
var ErrUpstreamUnavailable = errors.New("upstream departures unavailable")

// Key identifies one cached stop
type Key struct {
	FeedID string
	StopID string
}

func (k Key) String() string {
	return k.FeedID + ":" + k.StopID
}

// RawDeparture is one departure as returned by an upstream source.
// When At is set it takes precedence over the DepartureTime clock string.
type RawDeparture struct {
	DepartureTime        string
	ArrivalTime          string
	At                   time.Time
	ServiceDate          string
	TripID               string
	Headsign             string
	Route                models.RouteRef
	RouteID              string
	RouteLongName        string
	StopSequence         int
	Realtime             bool
	ScheduleRelationship string
}

// FetchRequest asks an upstream source for up to Limit departures of a stop
type FetchRequest struct {
	FeedID string
	StopID string
	Limit  int
}

// Fetcher performs the upstream call for one stop
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) ([]RawDeparture, error)
}

// FetcherFunc adapts a function to the Fetcher interface
type FetcherFunc func(ctx context.Context, req FetchRequest) ([]RawDeparture, error)

// Fetch calls f(ctx, req)
func (f FetcherFunc) Fetch(ctx context.Context, req FetchRequest) ([]RawDeparture, error) {
	return f(ctx, req)
}

// Departure is a departure with its minutes relative to the time it was read
type Departure struct {
	DepartureTime        string          `json:"departureTime"`
	ArrivalTime          string          `json:"arrivalTime,omitempty"`
	ServiceDate          string          `json:"serviceDate,omitempty"`
	TripID               string          `json:"tripId"`
	Headsign             string          `json:"headsign"`
	Route                models.RouteRef `json:"route"`
	RouteID              string          `json:"routeId,omitempty"`
	RouteLongName        string          `json:"routeLongName,omitempty"`
	StopSequence         int             `json:"stopSequence,omitempty"`
	MinutesFromNow       float64         `json:"minutesFromNow"`
	Realtime             bool            `json:"isRealtime"`
	ScheduleRelationship string          `json:"scheduleRelationship,omitempty"`
}

// Result is the three-bucket view returned to callers
type Result struct {
	Past     []Departure `json:"past"`
	Upcoming []Departure `json:"upcoming"`
	Later    []Departure `json:"later"`

	// ServedFromCache is false only when this call stored a fresh fetch
	ServedFromCache bool `json:"cached"`
	// Stale is set when the upstream failed and the last entry was served instead
	Stale bool `json:"stale"`

	FetchedAt time.Time `json:"fetchedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Clock supplies the current time. gcache.Clock satisfies it.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Metrics receives cache events. A nil Metrics is replaced with a no-op.
type Metrics interface {
	CacheHit()
	CacheMiss()
	StaleServed()
	UpstreamFetch(window string, elapsed time.Duration, err error)
	Evicted(n int)
	Entries(n int)
}

// Notifier is told about every successful upstream refresh
type Notifier interface {
	DeparturesRefreshed(key Key, res Result)
}

type noopMetrics struct{}

func (noopMetrics) CacheHit()                                  {}
func (noopMetrics) CacheMiss()                                 {}
func (noopMetrics) StaleServed()                               {}
func (noopMetrics) UpstreamFetch(string, time.Duration, error) {}
func (noopMetrics) Evicted(int)                                {}
func (noopMetrics) Entries(int)                                {}
