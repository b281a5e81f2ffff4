package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the API's Prometheus metrics on a private registry
type Collector struct {
	reg *prometheus.Registry

	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheStale     prometheus.Counter
	CacheEntries   prometheus.Gauge
	CacheEvictions prometheus.Counter

	UpstreamFetches  *prometheus.CounterVec // window label: narrow|broad
	UpstreamErrors   *prometheus.CounterVec
	UpstreamDuration prometheus.Histogram

	PlacesReturned prometheus.Histogram

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	HTTPRequests *prometheus.CounterVec // route, code
}

// NewCollector creates and registers all metrics
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wayline_departures_cache_hits_total",
			Help: "Departure requests served from cache without an upstream call.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wayline_departures_cache_misses_total",
			Help: "Departure requests that needed an upstream refresh.",
		}),
		CacheStale: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wayline_departures_stale_served_total",
			Help: "Departure requests answered from an expired entry after an upstream failure.",
		}),
		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wayline_departures_cache_entries",
			Help: "Stops currently held in the departure cache.",
		}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wayline_departures_cache_evictions_total",
			Help: "Entries removed by the background sweep.",
		}),
		UpstreamFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wayline_upstream_fetches_total",
			Help: "Upstream departure fetches by window.",
		}, []string{"window"}),
		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wayline_upstream_errors_total",
			Help: "Failed upstream departure fetches by window.",
		}, []string{"window"}),
		UpstreamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wayline_upstream_fetch_duration_seconds",
			Help:    "Duration of upstream departure fetches.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		PlacesReturned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wayline_places_returned",
			Help:    "Places returned per nearby query after merging.",
			Buckets: prometheus.LinearBuckets(0, 5, 7),
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wayline_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wayline_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wayline_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wayline_http_requests_total",
			Help: "HTTP requests by route pattern and status code.",
		}, []string{"route", "code"}),
	}

	reg.MustRegister(
		c.CacheHits, c.CacheMisses, c.CacheStale, c.CacheEntries, c.CacheEvictions,
		c.UpstreamFetches, c.UpstreamErrors, c.UpstreamDuration,
		c.PlacesReturned,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.HTTPRequests,
	)

	return c
}

// Handler serves the registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Departure cache hooks

func (c *Collector) CacheHit()     { c.CacheHits.Inc() }
func (c *Collector) CacheMiss()    { c.CacheMisses.Inc() }
func (c *Collector) StaleServed()  { c.CacheStale.Inc() }
func (c *Collector) Entries(n int) { c.CacheEntries.Set(float64(n)) }
func (c *Collector) Evicted(n int) { c.CacheEvictions.Add(float64(n)) }

func (c *Collector) UpstreamFetch(window string, elapsed time.Duration, err error) {
	c.UpstreamFetches.WithLabelValues(window).Inc()
	c.UpstreamDuration.Observe(elapsed.Seconds())
	if err != nil {
		c.UpstreamErrors.WithLabelValues(window).Inc()
	}
}

// PlacesServed records the size of a merged places response
func (c *Collector) PlacesServed(n int) { c.PlacesReturned.Observe(float64(n)) }

// Publisher hooks

func (c *Collector) NATSPublishedInc()  { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc() { c.NATSPublishErrs.Inc() }
func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}

// Middleware counts requests by chi route pattern and status code
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	})
}
