// Package places turns the raw stops of several providers into the places
// shown on the map, combining stops that are the same physical place.
package places

import (
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/wayline/wayline/apps/api/geo"
	"github.com/wayline/wayline/apps/api/models"
	"github.com/wayline/wayline/apps/api/providers"
)

// namespace for combined place IDs so the same members always yield the same ID
var placeNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://wayline.app/places"))

type member struct {
	stop  models.RawStop
	index int
}

// Merge clusters stops into places.
//
// Stops are only combined when their normalized names are equal and their
// providers share a merge group. Within a name, a stop joins the first
// sub-cluster holding a compatible member, so the result depends on input
// order. Bike stations never combine.
//
// Places from names shared by several stops come first, in order of first
// appearance, followed by every other stop in input order.
func Merge(origin geo.Point, stops []models.RawStop, groups *providers.MergeGroups) []models.Place {
	byName := make(map[string][]member)
	var nameOrder []string
	for i, s := range stops {
		if s.IsBikeStation {
			continue
		}
		key := NormalizeName(s.Name)
		if key == "" {
			continue
		}
		if _, seen := byName[key]; !seen {
			nameOrder = append(nameOrder, key)
		}
		byName[key] = append(byName[key], member{stop: s, index: i})
	}

	out := make([]models.Place, 0, len(stops))
	processed := make(map[int]bool, len(stops))

	for _, key := range nameOrder {
		group := byName[key]
		if len(group) < 2 {
			continue
		}
		for _, cluster := range subClusters(group, groups) {
			if len(cluster) > 1 {
				out = append(out, combine(origin, cluster))
			} else {
				out = append(out, single(origin, cluster[0].stop))
			}
			for _, m := range cluster {
				processed[m.index] = true
			}
		}
	}

	for i, s := range stops {
		if !processed[i] {
			out = append(out, single(origin, s))
		}
	}
	return out
}

// subClusters partitions same-name stops first-fit by provider compatibility
func subClusters(group []member, groups *providers.MergeGroups) [][]member {
	var clusters [][]member
	for _, m := range group {
		assigned := false
		for j, cluster := range clusters {
			if compatible(m, cluster, groups) {
				clusters[j] = append(cluster, m)
				assigned = true
				break
			}
		}
		if !assigned {
			clusters = append(clusters, []member{m})
		}
	}
	return clusters
}

func compatible(m member, cluster []member, groups *providers.MergeGroups) bool {
	for _, other := range cluster {
		if groups.CanMerge(m.stop.ProviderID, other.stop.ProviderID) {
			return true
		}
	}
	return false
}

func combine(origin geo.Point, cluster []member) models.Place {
	first := cluster[0].stop
	place := single(origin, first)

	keys := make([]string, 0, len(cluster))
	var routes routeSet
	var providerIDs []string
	seenProvider := make(map[string]bool)
	for _, m := range cluster {
		keys = append(keys, stopKey(m.stop))
		routes.add(m.stop.Routes...)
		if !seenProvider[m.stop.ProviderID] {
			seenProvider[m.stop.ProviderID] = true
			providerIDs = append(providerIDs, m.stop.ProviderID)
		}
	}

	place.ID = uuid.NewSHA1(placeNamespace, []byte(strings.Join(keys, "|"))).String()
	place.Routes = routes.list()
	place.TotalRoutes = len(place.Routes)
	place.Combined = true
	place.ContributingProviders = providerIDs
	return place
}

func single(origin geo.Point, s models.RawStop) models.Place {
	var routes routeSet
	routes.add(s.Routes...)

	p := models.Place{
		ID:                    stopKey(s),
		Kind:                  models.PlaceStop,
		Coordinates:           [2]float64{s.Lon, s.Lat},
		StopID:                s.ID,
		Name:                  s.Name,
		FeedID:                s.ProviderID,
		FeedName:              s.FeedName,
		Routes:                routes.list(),
		DistanceMeters:        int(math.Round(geo.Distance(origin, geo.Point{Lat: s.Lat, Lon: s.Lon}))),
		ContributingProviders: []string{s.ProviderID},
	}
	p.TotalRoutes = len(p.Routes)

	if s.IsBikeStation {
		p.Kind = models.PlaceBike
		p.IsBikeStation = true
		p.BikeCapacity = s.BikeCapacity
		p.ProviderType = s.ProviderType
		p.BikeProviderID = s.BikeProviderID
	}
	return p
}

func stopKey(s models.RawStop) string {
	return s.ProviderID + ":" + s.ID
}

// routeSet is an insertion-ordered set of routes keyed by short name and provider
type routeSet struct {
	seen   map[string]bool
	routes []models.RouteRef
}

func (rs *routeSet) add(refs ...models.RouteRef) {
	if rs.seen == nil {
		rs.seen = make(map[string]bool)
	}
	for _, r := range refs {
		r = r.WithDefaults()
		if rs.seen[r.Key()] {
			continue
		}
		rs.seen[r.Key()] = true
		rs.routes = append(rs.routes, r)
	}
}

func (rs *routeSet) list() []models.RouteRef {
	if rs.routes == nil {
		return []models.RouteRef{}
	}
	return rs.routes
}
