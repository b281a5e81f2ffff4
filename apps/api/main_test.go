package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wayline/wayline/apps/api/config"
	"github.com/wayline/wayline/apps/api/departures"
	"github.com/wayline/wayline/apps/api/handlers"
	"github.com/wayline/wayline/apps/api/metrics"
	"github.com/wayline/wayline/apps/api/models"
	"github.com/wayline/wayline/apps/api/providers"
	"github.com/wayline/wayline/apps/api/repository"
	"github.com/wayline/wayline/apps/api/upstream"
)

type emptyStore struct{}

func (emptyStore) FindStopsNear(context.Context, models.NearbyQuery) ([]models.RawStop, error) {
	return nil, nil
}

func (emptyStore) GetStop(_ context.Context, feedID, stopID string) (*models.Stop, error) {
	return nil, repository.ErrNotFound
}

func (emptyStore) GetRouteShapes(context.Context, []string) ([]models.RouteShape, error) {
	return nil, nil
}

func (emptyStore) Ping(context.Context) error { return nil }

func TestRouterMountsEndpoints(t *testing.T) {
	registry, err := providers.New([]providers.Provider{{OnestopID: "f-metro", Name: "Metro"}})
	if err != nil {
		t.Fatalf("providers.New() error = %v", err)
	}
	cache := departures.New(departures.DefaultConfig())
	collector := metrics.NewCollector()
	store := emptyStore{}

	r := newRouter(&config.Config{AllowedOrigins: []string{"http://localhost:5173"}}, routerDeps{
		places:     handlers.NewPlacesHandler(store, registry.Groups(), collector),
		departures: handlers.NewDeparturesHandler(store, registry, cache, upstream.NewRouter(nil, nil, nil)),
		routes:     handlers.NewRoutesHandler(store, registry.ShowLines()),
		health:     handlers.NewHealthHandler(store, cache, registry.Len()),
		metrics:    collector,
	})

	tests := []struct {
		path   string
		status int
	}{
		{"/places?lat=39.47&lon=-0.37", http.StatusOK},
		{"/api/places?lat=39.47&lon=-0.37", http.StatusOK},
		{"/places", http.StatusBadRequest},
		{"/departures?stopId=1&feedId=f-metro", http.StatusNotFound},
		{"/api/departures?stop_id=1&feed_onestop_id=f-metro", http.StatusNotFound},
		{"/routes", http.StatusOK},
		{"/api/routes", http.StatusOK},
		{"/health", http.StatusOK},
		{"/api/health", http.StatusOK},
		{"/healthz", http.StatusOK},
		{"/nope", http.StatusNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
			if rec.Code != tc.status {
				t.Errorf("GET %s = %d, want %d", tc.path, rec.Code, tc.status)
			}
		})
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `wayline_http_requests_total{code="200",route="/api/places"}`) {
		t.Errorf("request counter missing from /metrics output")
	}
}
