package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/wayline/wayline/apps/api/models"
)

// RouteRepository defines the route line query used by the routes endpoint
type RouteRepository interface {
	GetRouteShapes(ctx context.Context, feedIDs []string) ([]models.RouteShape, error)
}

// RoutesHandler serves the route lines of providers that show them on the map
type RoutesHandler struct {
	repo  RouteRepository
	feeds []string
}

// NewRoutesHandler creates a new handler for the given feeds
func NewRoutesHandler(repo RouteRepository, feeds []string) *RoutesHandler {
	return &RoutesHandler{repo: repo, feeds: feeds}
}

type routeFeature struct {
	Type       string            `json:"type"`
	Geometry   json.RawMessage   `json:"geometry"`
	Properties models.RouteShape `json:"properties"`
}

// GetRoutesResponse is the JSON response structure for GET /routes
type GetRoutesResponse struct {
	Type     string         `json:"type"`
	Features []routeFeature `json:"features"`
}

// GetRoutes handles GET /routes
// Returns a GeoJSON FeatureCollection of route lines
func (h *RoutesHandler) GetRoutes(w http.ResponseWriter, r *http.Request) {
	shapes, err := h.repo.GetRouteShapes(r.Context(), h.feeds)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve routes", map[string]interface{}{
			"internal": err.Error(),
		})
		return
	}

	response := GetRoutesResponse{
		Type:     "FeatureCollection",
		Features: make([]routeFeature, 0, len(shapes)),
	}
	for _, s := range shapes {
		if !json.Valid(s.Geometry) {
			continue
		}
		s = withRouteDefaults(s)
		response.Features = append(response.Features, routeFeature{
			Type:       "Feature",
			Geometry:   s.Geometry,
			Properties: s,
		})
	}

	// Route lines only change on feed imports
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("Vary", "Accept-Encoding")
	writeJSON(w, http.StatusOK, response)
}

func withRouteDefaults(s models.RouteShape) models.RouteShape {
	ref := models.RouteRef{ShortName: s.ShortName, Color: s.Color, Type: s.Type}.WithDefaults()
	s.ShortName, s.Color, s.Type = ref.ShortName, ref.Color, ref.Type
	return s
}
