// Package metrics exposes engine gauges and server counters in Prometheus
// format.
package metrics

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ducktracker/ducktracker/internal/engine"
)

// Version is stamped into the ducktracker_info metric.
const Version = "1.0.0"

// Collector wires engine stats and request counters into a registry.
type Collector struct {
	registry *prometheus.Registry

	pointsPosted     prometheus.Counter
	updatesDelivered prometheus.Counter
	authFailures     prometheus.Counter
}

// NewCollector builds a registry with all DuckTracker metrics. Gauges read
// live engine state on every scrape.
func NewCollector(hub *engine.Hub, start time.Time) *Collector {
	reg := prometheus.NewRegistry()

	newStatGauge := func(name, help string, read func(engine.Stats) float64) {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: name,
			Help: help,
		}, func() float64 { return read(hub.Stats()) }))
	}

	newStatGauge("ducktracker_active_fetches",
		"Number of active share sessions.",
		func(s engine.Stats) float64 { return float64(s.ActiveFetches) })
	newStatGauge("ducktracker_open_streams",
		"Number of open subscriber streams.",
		func(s engine.Stats) float64 { return float64(s.OpenStreams) })
	newStatGauge("ducktracker_total_points",
		"Total number of location points in memory.",
		func(s engine.Stats) float64 { return float64(s.TotalPoints) })
	newStatGauge("ducktracker_public_tags",
		"Number of live public tags.",
		func(s engine.Stats) float64 { return float64(s.PublicTags) })
	newStatGauge("ducktracker_private_tags",
		"Number of unique private tags across all sessions.",
		func(s engine.Stats) float64 { return float64(s.PrivateTags) })

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "uptime_seconds",
		Help: "Server process uptime in seconds.",
	}, func() float64 { return time.Since(start).Seconds() }))

	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ducktracker_info",
		Help: "Build information about the DuckTracker server.",
	}, []string{"version"})
	info.WithLabelValues(Version).Set(1)
	reg.MustRegister(info)

	c := &Collector{
		registry: reg,
		pointsPosted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ducktracker_points_posted_total",
			Help: "Location points accepted from publishers.",
		}),
		updatesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ducktracker_updates_delivered_total",
			Help: "Updates flushed to subscriber streams.",
		}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ducktracker_auth_failures_total",
			Help: "Rejected credential or token checks.",
		}),
	}
	reg.MustRegister(c.pointsPosted, c.updatesDelivered, c.authFailures)
	return c
}

// RecordPointsPosted counts accepted publisher points.
func (c *Collector) RecordPointsPosted(n int) { c.pointsPosted.Add(float64(n)) }

// RecordUpdateDelivered counts one flushed subscriber update.
func (c *Collector) RecordUpdateDelivered() { c.updatesDelivered.Inc() }

// RecordAuthFailure counts one rejected login, basic-auth or token check.
func (c *Collector) RecordAuthFailure() { c.authFailures.Inc() }

// Handler serves the metrics endpoint, optionally behind basic auth.
func (c *Collector) Handler(user, pass string) http.Handler {
	h := promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
	if user == "" {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		userOK := subtle.ConstantTimeCompare([]byte(u), []byte(user)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(p), []byte(pass)) == 1
		if !ok || !userOK || !passOK {
			w.Header().Set("WWW-Authenticate", `Basic realm="metrics"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	})
}
