package departures

import (
	"sort"
	"time"
)

const bucketSize = 5

func sortAscending(deps []Departure) {
	sort.SliceStable(deps, func(i, j int) bool {
		return deps[i].MinutesFromNow < deps[j].MinutesFromNow
	})
}

// buckets is a categorized view of departures at one instant
type buckets struct {
	past     []Departure // most recent first
	upcoming []Departure
	later    []Departure
}

// categorize splits ascending departures into past, upcoming and later.
// It never modifies deps.
func categorize(deps []Departure) buckets {
	b := buckets{
		past:     []Departure{},
		upcoming: []Departure{},
		later:    []Departure{},
	}
	split := sort.Search(len(deps), func(i int) bool {
		return deps[i].MinutesFromNow >= 0
	})

	for i := split - 1; i >= 0 && len(b.past) < bucketSize; i-- {
		b.past = append(b.past, deps[i])
	}
	future := deps[split:]
	for i, d := range future {
		switch {
		case i < bucketSize:
			b.upcoming = append(b.upcoming, d)
		case i < 2*bucketSize:
			b.later = append(b.later, d)
		}
	}
	return b
}

// mergePast combines salvaged past departures with newly fetched ones.
// Salvaged records win on (trip, departure time) collisions. The result is
// most recent first and capped at the bucket size.
func mergePast(salvaged, fresh []Departure) []Departure {
	type pastKey struct{ trip, at string }

	seen := make(map[pastKey]bool, len(salvaged)+len(fresh))
	merged := make([]Departure, 0, len(salvaged)+len(fresh))
	for _, list := range [][]Departure{salvaged, fresh} {
		for _, d := range list {
			k := pastKey{d.TripID, d.DepartureTime}
			if seen[k] {
				continue
			}
			seen[k] = true
			merged = append(merged, d)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].MinutesFromNow > merged[j].MinutesFromNow
	})
	if len(merged) > bucketSize {
		merged = merged[:bucketSize]
	}
	return merged
}

// entry is an immutable cached set of departures for one key.
// Minutes are relative to fetchedAt, ascending.
type entry struct {
	departures []Departure
	fetchedAt  time.Time
	expiresAt  time.Time
	evictAt    time.Time
}

// view re-derives every departure's minutes for now and re-buckets them
func (e *entry) view(now time.Time) buckets {
	elapsed := now.Sub(e.fetchedAt).Minutes()
	adjusted := make([]Departure, len(e.departures))
	for i, d := range e.departures {
		d.MinutesFromNow -= elapsed
		adjusted[i] = d
	}
	sortAscending(adjusted)
	return categorize(adjusted)
}

func (e *entry) fresh(now time.Time) bool {
	return now.Before(e.expiresAt)
}

func newEntry(b buckets, fetchedAt time.Time, ttl, staleFor time.Duration) *entry {
	deps := make([]Departure, 0, len(b.past)+len(b.upcoming)+len(b.later))
	for i := len(b.past) - 1; i >= 0; i-- {
		deps = append(deps, b.past[i])
	}
	deps = append(deps, b.upcoming...)
	deps = append(deps, b.later...)
	return &entry{
		departures: deps,
		fetchedAt:  fetchedAt,
		expiresAt:  fetchedAt.Add(ttl),
		evictAt:    fetchedAt.Add(ttl + staleFor),
	}
}

func (b buckets) result(e *entry, cached, stale bool) Result {
	return Result{
		Past:            b.past,
		Upcoming:        b.upcoming,
		Later:           b.later,
		ServedFromCache: cached,
		Stale:           stale,
		FetchedAt:       e.fetchedAt,
		ExpiresAt:       e.expiresAt,
	}
}
