// Package departures caches upstream departure predictions per stop and
// serves them as past, upcoming and later buckets whose minutes are kept
// current by the time elapsed since the fetch.
package departures

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/bluele/gcache"
	"golang.org/x/sync/singleflight"
)

// Config holds the cache tunables
type Config struct {
	// TTL is how long an entry may be served without refetching
	TTL time.Duration
	// StaleFor is how long an expired entry is kept for salvage and fallback
	StaleFor time.Duration
	// SweepInterval is the period of the background eviction pass
	SweepInterval time.Duration
	// Size bounds the number of cached stops (LRU)
	Size         int
	FetchTimeout time.Duration
	// NarrowLimit and BroadLimit are the upstream window sizes of the first
	// fetch and of the single broadening retry
	NarrowLimit int
	BroadLimit  int
	// MinUpcoming is the number of upcoming departures an entry must still
	// have to be served without a fetch
	MinUpcoming int
	// Location is the wall clock upstream HH:MM:SS times are read in
	Location *time.Location
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	loc, err := time.LoadLocation("Europe/Madrid")
	if err != nil {
		loc = time.UTC
	}
	return Config{
		TTL:           2 * time.Hour,
		StaleFor:      30 * time.Minute,
		SweepInterval: 10 * time.Minute,
		Size:          10000,
		FetchTimeout:  10 * time.Second,
		NarrowLimit:   30,
		BroadLimit:    60,
		MinUpcoming:   bucketSize,
		Location:      loc,
	}
}

// Stats is a snapshot of cache counters
type Stats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Stale   int64 `json:"staleServed"`
}

// Option configures a Cache
type Option func(*Cache)

// WithClock sets the clock used for adjustment, expiry and the store
func WithClock(c Clock) Option {
	return func(cache *Cache) { cache.clock = c }
}

// WithMetrics sets the metrics sink
func WithMetrics(m Metrics) Option {
	return func(cache *Cache) {
		if m != nil {
			cache.metrics = m
		}
	}
}

// WithNotifier sets the receiver of refresh notifications
func WithNotifier(n Notifier) Option {
	return func(cache *Cache) { cache.notifier = n }
}

// Cache is the process-wide departure cache
type Cache struct {
	cfg      Config
	clock    Clock
	store    gcache.Cache
	flight   singleflight.Group
	metrics  Metrics
	notifier Notifier

	hits   atomic.Int64
	misses atomic.Int64
	stale  atomic.Int64
}

// New creates a cache. Zero fields of cfg take their defaults.
func New(cfg Config, opts ...Option) *Cache {
	cfg = withDefaults(cfg)
	c := &Cache{
		cfg:     cfg,
		clock:   realClock{},
		metrics: noopMetrics{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.store = gcache.New(cfg.Size).
		LRU().
		Clock(c.clock).
		Build()
	return c
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.StaleFor < 0 {
		cfg.StaleFor = 0
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.Size <= 0 {
		cfg.Size = def.Size
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.NarrowLimit <= 0 {
		cfg.NarrowLimit = def.NarrowLimit
	}
	if cfg.BroadLimit < cfg.NarrowLimit {
		cfg.BroadLimit = cfg.NarrowLimit
	}
	if cfg.MinUpcoming <= 0 || cfg.MinUpcoming > bucketSize {
		cfg.MinUpcoming = bucketSize
	}
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	return cfg
}

// Get returns the departures of key, fetching through fetcher only when the
// cached entry is missing, expired or has too few upcoming departures left.
func (c *Cache) Get(ctx context.Context, key Key, fetcher Fetcher) (Result, error) {
	now := c.clock.Now()
	if e, ok := c.lookup(key); ok && e.fresh(now) {
		view := e.view(now)
		if len(view.upcoming) >= c.cfg.MinUpcoming {
			c.hits.Add(1)
			c.metrics.CacheHit()
			return view.result(e, true, false), nil
		}
	}

	c.misses.Add(1)
	c.metrics.CacheMiss()

	ch := c.flight.DoChan(key.String(), func() (interface{}, error) {
		return c.refresh(ctx, key, fetcher)
	})
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Result{}, res.Err
		}
		return res.Val.(Result), nil
	}
}

// refresh runs once per key at a time. It outlives the caller that started it.
func (c *Cache) refresh(ctx context.Context, key Key, fetcher Fetcher) (Result, error) {
	prev, hasPrev := c.lookup(key)
	if hasPrev {
		now := c.clock.Now()
		if view := prev.view(now); prev.fresh(now) && len(view.upcoming) >= c.cfg.MinUpcoming {
			return view.result(prev, true, false), nil
		}
	}

	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.FetchTimeout)
	defer cancel()

	raw, err := c.fetch(fetchCtx, fetcher, key, c.cfg.NarrowLimit, "narrow")
	if err != nil {
		if hasPrev {
			log.Printf("Departures: serving stale %s after upstream error: %v", key, err)
			c.stale.Add(1)
			c.metrics.StaleServed()
			return prev.view(c.clock.Now()).result(prev, true, true), nil
		}
		return Result{}, fmt.Errorf("%w: %s: %v", ErrUpstreamUnavailable, key, err)
	}

	fetchedAt := c.clock.Now()
	deps := toDepartures(raw, fetchedAt, c.cfg.Location)

	if c.cfg.BroadLimit > c.cfg.NarrowLimit && len(categorize(deps).upcoming) < c.cfg.MinUpcoming {
		broad, err := c.fetch(fetchCtx, fetcher, key, c.cfg.BroadLimit, "broad")
		if err != nil {
			log.Printf("Departures: broad fetch for %s failed, keeping narrow result: %v", key, err)
		} else {
			fetchedAt = c.clock.Now()
			deps = toDepartures(broad, fetchedAt, c.cfg.Location)
		}
	}

	b := categorize(deps)
	if hasPrev {
		b.past = mergePast(prev.view(fetchedAt).past, b.past)
	}

	e := newEntry(b, fetchedAt, c.cfg.TTL, c.cfg.StaleFor)
	if err := c.store.SetWithExpire(key, e, c.cfg.TTL+c.cfg.StaleFor); err != nil {
		log.Printf("Departures: failed to store %s: %v", key, err)
	}
	c.metrics.Entries(c.store.Len(false))

	res := b.result(e, false, false)
	if c.notifier != nil {
		c.notifier.DeparturesRefreshed(key, res)
	}
	return res, nil
}

func (c *Cache) fetch(ctx context.Context, fetcher Fetcher, key Key, limit int, window string) ([]RawDeparture, error) {
	start := time.Now()
	raw, err := fetcher.Fetch(ctx, FetchRequest{FeedID: key.FeedID, StopID: key.StopID, Limit: limit})
	c.metrics.UpstreamFetch(window, time.Since(start), err)
	return raw, err
}

func (c *Cache) lookup(key Key) (*entry, bool) {
	v, err := c.store.GetIFPresent(key)
	if err != nil {
		if !errors.Is(err, gcache.KeyNotFoundError) {
			log.Printf("Departures: cache lookup for %s failed: %v", key, err)
		}
		return nil, false
	}
	e, ok := v.(*entry)
	return e, ok
}

// Sweep removes entries whose stale window has passed and returns how many were removed
func (c *Cache) Sweep() int {
	now := c.clock.Now()
	removed := 0
	for _, k := range c.store.Keys(false) {
		v, err := c.store.GetIFPresent(k)
		if err != nil {
			// gcache drops expired items on access
			removed++
			continue
		}
		if e, ok := v.(*entry); ok && !now.Before(e.evictAt) {
			if c.store.Remove(k) {
				removed++
			}
		}
	}
	c.metrics.Evicted(removed)
	c.metrics.Entries(c.store.Len(false))
	return removed
}

// Run sweeps every SweepInterval until ctx is cancelled
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	log.Printf("Departures: sweeping every %v", c.cfg.SweepInterval)
	for {
		select {
		case <-ctx.Done():
			log.Println("Departures: sweep loop stopped")
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				log.Printf("Departures: evicted %d stale entries", n)
			}
		}
	}
}

// Stats returns the current counters
func (c *Cache) Stats() Stats {
	return Stats{
		Entries: c.store.Len(true),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Stale:   c.stale.Load(),
	}
}

// Config returns the effective configuration
func (c *Cache) Config() Config {
	return c.cfg
}
