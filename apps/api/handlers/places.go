package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/wayline/wayline/apps/api/geo"
	"github.com/wayline/wayline/apps/api/models"
	"github.com/wayline/wayline/apps/api/places"
	"github.com/wayline/wayline/apps/api/providers"
)

// DefaultRadiusMeters is used when the radius query parameter is omitted
const DefaultRadiusMeters = 1000

// MaxRadiusMeters bounds the search area of a single query
const MaxRadiusMeters = 20000

// PlaceRepository defines the nearby stop query used by the places endpoint
type PlaceRepository interface {
	FindStopsNear(ctx context.Context, q models.NearbyQuery) ([]models.RawStop, error)
}

// PlacesMetrics records how many places each query returned
type PlacesMetrics interface {
	PlacesServed(n int)
}

// PlacesHandler handles HTTP requests for nearby places
type PlacesHandler struct {
	repo    PlaceRepository
	groups  *providers.MergeGroups
	metrics PlacesMetrics
}

// NewPlacesHandler creates a new handler. metrics may be nil.
func NewPlacesHandler(repo PlaceRepository, groups *providers.MergeGroups, metrics PlacesMetrics) *PlacesHandler {
	return &PlacesHandler{repo: repo, groups: groups, metrics: metrics}
}

// GetPlaces handles GET /places?lat&lon&radius[&type=bike]
// Returns a GeoJSON FeatureCollection of merged places, nearest first.
// type=bike restricts the query to bike-share stations.
func (h *PlacesHandler) GetPlaces(w http.ResponseWriter, r *http.Request) {
	q, details := parseNearbyQuery(r)
	if details != nil {
		writeError(w, http.StatusBadRequest, "Invalid location query", details)
		return
	}

	stops, err := h.repo.FindStopsNear(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve stops", map[string]interface{}{
			"internal": err.Error(),
		})
		return
	}

	merged := places.Merge(geo.Point{Lat: q.Lat, Lon: q.Lon}, stops, h.groups)
	if h.metrics != nil {
		h.metrics.PlacesServed(len(merged))
	}

	// Stop data only changes on feed imports
	w.Header().Set("Cache-Control", "public, max-age=60")
	w.Header().Set("Vary", "Accept-Encoding")
	writeJSON(w, http.StatusOK, places.FeatureCollection(merged))
}

// parseNearbyQuery validates lat, lon, radius and type. details is non-nil when
// the query is invalid.
func parseNearbyQuery(r *http.Request) (models.NearbyQuery, map[string]interface{}) {
	params := r.URL.Query()
	details := make(map[string]interface{})

	lat, err := strconv.ParseFloat(params.Get("lat"), 64)
	if err != nil {
		details["lat"] = "lat is required and must be a number"
	}
	lon, err := strconv.ParseFloat(params.Get("lon"), 64)
	if err != nil {
		details["lon"] = "lon is required and must be a number"
	}
	if len(details) == 0 && !(geo.Point{Lat: lat, Lon: lon}).Valid() {
		details["coordinates"] = "lat must be within [-90, 90] and lon within [-180, 180]"
	}

	radius := DefaultRadiusMeters
	if raw := params.Get("radius"); raw != "" {
		radius, err = strconv.Atoi(raw)
		if err != nil || radius <= 0 || radius > MaxRadiusMeters {
			details["radius"] = "radius must be a positive integer of at most " + strconv.Itoa(MaxRadiusMeters) + " meters"
		}
	}

	bikeOnly := false
	switch params.Get("type") {
	case "", "all":
	case string(models.PlaceBike):
		bikeOnly = true
	default:
		details["type"] = "type must be \"all\" or \"bike\""
	}

	if len(details) > 0 {
		return models.NearbyQuery{}, details
	}
	return models.NearbyQuery{
		Lat:          lat,
		Lon:          lon,
		RadiusMeters: float64(radius),
		Limit:        models.DefaultNearbyLimit,
		BikeOnly:     bikeOnly,
	}, nil
}
