package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/wayline/wayline/apps/api/departures"
	"github.com/wayline/wayline/apps/api/models"
	"github.com/wayline/wayline/apps/api/providers"
	"github.com/wayline/wayline/apps/api/repository"
)

// StopRepository defines the single stop lookup used before fetching departures
type StopRepository interface {
	GetStop(ctx context.Context, feedID, stopID string) (*models.Stop, error)
}

// DepartureCache returns categorized departures for a stop
type DepartureCache interface {
	Get(ctx context.Context, key departures.Key, fetcher departures.Fetcher) (departures.Result, error)
}

// FetcherRouter picks the upstream departure source of a provider
type FetcherRouter interface {
	For(p providers.Provider) departures.Fetcher
}

// DeparturesHandler handles HTTP requests for stop departures
type DeparturesHandler struct {
	stops    StopRepository
	registry *providers.Registry
	cache    DepartureCache
	router   FetcherRouter
	now      func() time.Time
}

// NewDeparturesHandler creates a new handler
func NewDeparturesHandler(stops StopRepository, registry *providers.Registry, cache DepartureCache, router FetcherRouter) *DeparturesHandler {
	return &DeparturesHandler{
		stops:    stops,
		registry: registry,
		cache:    cache,
		router:   router,
		now:      time.Now,
	}
}

// DepartureBuckets groups departures relative to the time they were read
type DepartureBuckets struct {
	Past     []departures.Departure `json:"past"`
	Upcoming []departures.Departure `json:"upcoming"`
	Later    []departures.Departure `json:"later"`
}

// GetDeparturesResponse is the JSON response structure for GET /departures
type GetDeparturesResponse struct {
	StopID       string           `json:"stopId"`
	StopName     string           `json:"stopName"`
	FeedID       string           `json:"feedId"`
	CurrentTime  time.Time        `json:"currentTime"`
	ServerTime   int64            `json:"serverTime"` // unix millis of the upstream fetch
	Departures   DepartureBuckets `json:"departures"`
	Cached       bool             `json:"cached"`
	Stale        bool             `json:"stale"`
	CacheExpires time.Time        `json:"cacheExpires"`
}

// GetDepartures handles GET /departures?stopId&feedId
// stop_id and feed_onestop_id are accepted as aliases
func (h *DeparturesHandler) GetDepartures(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stopID := firstParam(r, "stopId", "stop_id")
	feedID := firstParam(r, "feedId", "feed_onestop_id")

	if stopID == "" || feedID == "" {
		writeError(w, http.StatusBadRequest, "stopId and feedId are required", nil)
		return
	}

	provider, err := h.registry.Get(feedID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Provider not found", map[string]interface{}{
			"feedId": feedID,
		})
		return
	}

	stop, err := h.stops.GetStop(ctx, feedID, stopID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Stop not found", map[string]interface{}{
				"feedId": feedID,
				"stopId": stopID,
			})
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to retrieve stop", map[string]interface{}{
			"internal": err.Error(),
		})
		return
	}

	key := departures.Key{FeedID: feedID, StopID: stopID}
	res, err := h.cache.Get(ctx, key, h.router.For(provider))
	if err != nil {
		if errors.Is(err, departures.ErrUpstreamUnavailable) {
			log.Printf("Departures: %v", err)
			writeError(w, http.StatusBadGateway, "Departure source unavailable", map[string]interface{}{
				"feedId": feedID,
				"stopId": stopID,
			})
			return
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			writeError(w, http.StatusGatewayTimeout, "Departure request cancelled", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to fetch departures", map[string]interface{}{
			"internal": err.Error(),
		})
		return
	}

	response := GetDeparturesResponse{
		StopID:      stop.ID,
		StopName:    stop.Name,
		FeedID:      feedID,
		CurrentTime: h.now().UTC(),
		ServerTime:  res.FetchedAt.UnixMilli(),
		Departures: DepartureBuckets{
			Past:     res.Past,
			Upcoming: res.Upcoming,
			Later:    res.Later,
		},
		Cached:       res.ServedFromCache,
		Stale:        res.Stale,
		CacheExpires: res.ExpiresAt.UTC(),
	}

	// Minutes shift every request, keep client caching short
	w.Header().Set("Cache-Control", "public, max-age=15, stale-while-revalidate=10")
	w.Header().Set("Vary", "Accept-Encoding")
	writeJSON(w, http.StatusOK, response)
}

func firstParam(r *http.Request, names ...string) string {
	q := r.URL.Query()
	for _, name := range names {
		if v := q.Get(name); v != "" {
			return v
		}
	}
	return ""
}
