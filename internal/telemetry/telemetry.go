// Package telemetry reports cache hit/miss and debounce-fire counts,
// grounded on please's own src/metrics/prometheus.go counter/histogram
// pair, but wired behind a no-op default: unlike plz (a transient CLI
// process that must push before it exits), this core runs embedded in a
// long-lived language server, so pushing is optional and off unless a
// pushgateway URL is configured.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/please-build/bsmgr/internal/logging"
)

var log = logging.Get("telemetry")

// Telemetry records manager-internal counters. NoOp() returns one that
// counts but never pushes, so tests never need a pushgateway.
type Telemetry struct {
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	debounces   *prometheus.CounterVec
	pusher      *push.Pusher
}

// NoOp returns a Telemetry that records into an unregistered, never-pushed
// registry — safe to call unconditionally from the manager.
func NoOp() *Telemetry {
	return New("")
}

// New returns a Telemetry that pushes to pushgatewayURL once StartPushing
// is called, or never pushes at all if pushgatewayURL is empty.
func New(pushgatewayURL string) *Telemetry {
	registry := prometheus.NewRegistry()
	t := &Telemetry{
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bsmgr_cache_hits_total",
			Help: "Count of cache hits by cache name.",
		}, []string{"cache"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bsmgr_cache_misses_total",
			Help: "Count of cache misses by cache name.",
		}, []string{"cache"}),
		debounces: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bsmgr_debounce_fires_total",
			Help: "Count of debounced-event fires by kind.",
		}, []string{"kind"}),
	}
	registry.MustRegister(t.cacheHits, t.cacheMisses, t.debounces)
	if pushgatewayURL != "" {
		t.pusher = push.New(pushgatewayURL, "bsmgr").Gatherer(registry)
	}
	return t
}

// CacheHit records a coalescing-cache hit for the named cache.
func (t *Telemetry) CacheHit(cache string) { t.cacheHits.WithLabelValues(cache).Inc() }

// CacheMiss records a coalescing-cache miss (a fresh computation) for the
// named cache.
func (t *Telemetry) CacheMiss(cache string) { t.cacheMisses.WithLabelValues(cache).Inc() }

// DebounceFired records a debouncer firing for the named kind
// ("dependencies" or "settings").
func (t *Telemetry) DebounceFired(kind string) { t.debounces.WithLabelValues(kind).Inc() }

// StartPushing begins pushing metrics on the given interval; it is a no-op
// if no pushgateway URL was configured.
func (t *Telemetry) StartPushing(interval time.Duration, stop <-chan struct{}) {
	if t.pusher == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := t.pusher.Push(); err != nil {
					log.Warning("failed to push metrics: %s", err)
				}
			case <-stop:
				return
			}
		}
	}()
}

