package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/wayline/wayline/apps/api/departures"
	"github.com/wayline/wayline/apps/api/providers"
)

// ErrNoSource is returned when a provider has no departure source configured
var ErrNoSource = errors.New("no departure source for provider")

// Router picks the departure source of each provider
type Router struct {
	transitland *Transitland
	client      *http.Client
	loc         *time.Location

	mu     sync.Mutex
	gtfsrt map[string]*GTFSRT
}

// NewRouter creates a router. transitland may be nil when no API key is configured.
func NewRouter(transitland *Transitland, client *http.Client, loc *time.Location) *Router {
	return &Router{
		transitland: transitland,
		client:      client,
		loc:         loc,
		gtfsrt:      make(map[string]*GTFSRT),
	}
}

// For returns the fetcher for a provider: its own GTFS-RT trip updates when
// declared, Transitland otherwise.
func (r *Router) For(p providers.Provider) departures.Fetcher {
	if p.HasTripUpdates() {
		r.mu.Lock()
		defer r.mu.Unlock()
		client, ok := r.gtfsrt[p.OnestopID]
		if !ok {
			client = NewGTFSRT(p.OnestopID, p.Realtime.TripUpdatesURL, p.Realtime.Headers, r.client, r.loc)
			r.gtfsrt[p.OnestopID] = client
		}
		return client
	}
	if r.transitland != nil {
		return r.transitland
	}
	return departures.FetcherFunc(func(context.Context, departures.FetchRequest) ([]departures.RawDeparture, error) {
		return nil, fmt.Errorf("%w: %s", ErrNoSource, p.OnestopID)
	})
}
