package repository

import (
	"context"
	"errors"
	"log"
	"sort"

	"github.com/wayline/wayline/apps/api/geo"
	"github.com/wayline/wayline/apps/api/models"
)

// ErrNotFound is returned when a stop or feed does not exist
var ErrNotFound = errors.New("not found")

// routeLoader returns the routes of the given stops of one feed, keyed by stop_id
type routeLoader func(ctx context.Context, feedID string, stopIDs []string) (map[string][]models.RouteRef, error)

// nearest keeps candidates inside the radius, nearest first, capped at limit
func nearest(q models.NearbyQuery, candidates []models.RawStop) []models.RawStop {
	center := geo.Point{Lat: q.Lat, Lon: q.Lon}

	type scored struct {
		stop     models.RawStop
		distance float64
	}
	inside := make([]scored, 0, len(candidates))
	for _, s := range candidates {
		d := geo.Distance(center, geo.Point{Lat: s.Lat, Lon: s.Lon})
		if d <= q.RadiusMeters {
			inside = append(inside, scored{s, d})
		}
	}
	sort.SliceStable(inside, func(i, j int) bool {
		return inside[i].distance < inside[j].distance
	})

	limit := q.Limit
	if limit <= 0 {
		limit = models.DefaultNearbyLimit
	}
	if len(inside) > limit {
		inside = inside[:limit]
	}

	out := make([]models.RawStop, 0, len(inside))
	for _, s := range inside {
		out = append(out, s.stop)
	}
	return out
}

// attachRoutes loads route associations feed by feed. A feed whose query
// fails is dropped from the result and the others are kept.
func attachRoutes(ctx context.Context, stops []models.RawStop, load routeLoader) []models.RawStop {
	byFeed := make(map[string][]string)
	var feedOrder []string
	for _, s := range stops {
		if s.IsBikeStation {
			continue
		}
		if _, ok := byFeed[s.ProviderID]; !ok {
			feedOrder = append(feedOrder, s.ProviderID)
		}
		byFeed[s.ProviderID] = append(byFeed[s.ProviderID], s.ID)
	}

	routes := make(map[string]map[string][]models.RouteRef, len(byFeed))
	failed := make(map[string]bool)
	for _, feedID := range feedOrder {
		r, err := load(ctx, feedID, byFeed[feedID])
		if err != nil {
			log.Printf("Repository: dropping provider %s from nearby results: %v", feedID, err)
			failed[feedID] = true
			continue
		}
		routes[feedID] = r
	}

	out := make([]models.RawStop, 0, len(stops))
	for _, s := range stops {
		if failed[s.ProviderID] && !s.IsBikeStation {
			continue
		}
		if !s.IsBikeStation {
			s.Routes = routes[s.ProviderID][s.ID]
		}
		if s.Routes == nil {
			s.Routes = []models.RouteRef{}
		}
		out = append(out, s)
	}
	return out
}
