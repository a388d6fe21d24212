// Package metrics exposes Prometheus metrics for adapters, cache and sessions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what adapters, the session store and the health checker report to.
type Recorder interface {
	RecordFetch(club string, result string, d time.Duration)
	RecordCacheHit(club string)
	RecordCacheMiss(club string)
	RecordSessionRefresh(key string, ok bool)
	RecordSlots(club string, n int)
	SetAdapterUp(club string, up bool)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordFetch(string, string, time.Duration) {}
func (Nop) RecordCacheHit(string)                      {}
func (Nop) RecordCacheMiss(string)                     {}
func (Nop) RecordSessionRefresh(string, bool)          {}
func (Nop) RecordSlots(string, int)                    {}
func (Nop) SetAdapterUp(string, bool)                  {}

// Collector is the Prometheus implementation of Recorder.
type Collector struct {
	fetches        *prometheus.CounterVec
	fetchLatency   *prometheus.HistogramVec
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	sessionRefresh *prometheus.CounterVec
	slots          *prometheus.CounterVec
	adapterUp      *prometheus.GaugeVec
}

// NewCollector registers the metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "padel_adapter_fetch_total",
			Help: "Upstream fetches per club and result.",
		}, []string{"club", "result"}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "padel_adapter_fetch_seconds",
			Help:    "Upstream fetch latency per club.",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"club"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "padel_cache_hits_total",
			Help: "Slot cache hits per club.",
		}, []string{"club"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "padel_cache_misses_total",
			Help: "Slot cache misses per club.",
		}, []string{"club"}),
		sessionRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "padel_session_refresh_total",
			Help: "Session refresh attempts per session key and result.",
		}, []string{"session", "result"}),
		slots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "padel_slots_emitted_total",
			Help: "Normalized slots emitted per club.",
		}, []string{"club"}),
		adapterUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "padel_adapter_up",
			Help: "1 when the last connection test of the club adapter succeeded.",
		}, []string{"club"}),
	}

	reg.MustRegister(
		c.fetches,
		c.fetchLatency,
		c.cacheHits,
		c.cacheMisses,
		c.sessionRefresh,
		c.slots,
		c.adapterUp,
	)

	return c
}

func (c *Collector) RecordFetch(club, result string, d time.Duration) {
	c.fetches.WithLabelValues(club, result).Inc()
	c.fetchLatency.WithLabelValues(club).Observe(d.Seconds())
}

func (c *Collector) RecordCacheHit(club string) {
	c.cacheHits.WithLabelValues(club).Inc()
}

func (c *Collector) RecordCacheMiss(club string) {
	c.cacheMisses.WithLabelValues(club).Inc()
}

func (c *Collector) RecordSessionRefresh(key string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	c.sessionRefresh.WithLabelValues(key, result).Inc()
}

func (c *Collector) RecordSlots(club string, n int) {
	c.slots.WithLabelValues(club).Add(float64(n))
}

func (c *Collector) SetAdapterUp(club string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	c.adapterUp.WithLabelValues(club).Set(v)
}

// Handler serves the registry for Prometheus scraping.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
