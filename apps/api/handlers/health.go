package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/wayline/wayline/apps/api/departures"
)

// Pinger checks connectivity to the stop store
type Pinger interface {
	Ping(ctx context.Context) error
}

// CacheStats reports departure cache counters
type CacheStats interface {
	Stats() departures.Stats
}

// HealthHandler handles HTTP requests for service health
type HealthHandler struct {
	db        Pinger
	cache     CacheStats
	providers int
	startedAt time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db Pinger, cache CacheStats, providerCount int) *HealthHandler {
	return &HealthHandler{
		db:        db,
		cache:     cache,
		providers: providerCount,
		startedAt: time.Now(),
	}
}

// HealthResponse is the JSON response for GET /health
type HealthResponse struct {
	Status        string           `json:"status"`
	Database      string           `json:"database"`
	DatabaseError string           `json:"databaseError,omitempty"`
	Providers     int              `json:"providers"`
	Cache         departures.Stats `json:"cache"`
	UptimeSeconds int64            `json:"uptimeSeconds"`
	CheckedAt     time.Time        `json:"checkedAt"`
}

// GetHealth handles GET /health
// Reports database connectivity and departure cache counters
func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:        "ok",
		Database:      "ok",
		Providers:     h.providers,
		Cache:         h.cache.Stats(),
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		CheckedAt:     time.Now().UTC(),
	}

	status := http.StatusOK
	if err := h.db.Ping(ctx); err != nil {
		response.Status = "degraded"
		response.Database = "unavailable"
		response.DatabaseError = err.Error()
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, status, response)
}

// Liveness handles GET /healthz
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
