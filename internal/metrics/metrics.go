// Package metrics exposes engine counters to Prometheus. A nil *Collector
// is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Turn outcomes, used as the "outcome" label.
const (
	OutcomeQuestion  = "question"
	OutcomeInvalid   = "invalid"
	OutcomeSummary   = "summary"
	OutcomeCancelled = "cancelled"
	OutcomeUnscoped  = "unresolved_scope"
	OutcomeCreated   = "created"
	OutcomeError     = "error"
)

type Collector struct {
	registry           *prometheus.Registry
	turns              *prometheus.CounterVec
	turnDuration       prometheus.Histogram
	rulesCreated       prometheus.Counter
	partialPersistence *prometheus.CounterVec
}

func New() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	f := promauto.With(registry)
	return &Collector{
		registry: registry,
		turns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "alertline_turns_total",
			Help: "Conversation turns processed, by outcome",
		}, []string{"outcome"}),
		turnDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "alertline_turn_duration_seconds",
			Help:    "Time taken to process a conversation turn",
			Buckets: prometheus.DefBuckets,
		}),
		rulesCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "alertline_rules_created_total",
			Help: "Rules persisted through the confirmation pipeline",
		}),
		partialPersistence: f.NewCounterVec(prometheus.CounterOpts{
			Name: "alertline_partial_persistence_total",
			Help: "Rules created whose targets or schedule write failed",
		}, []string{"stage"}),
	}
}

func (c *Collector) ObserveTurn(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.turns.WithLabelValues(outcome).Inc()
	c.turnDuration.Observe(d.Seconds())
}

func (c *Collector) RuleCreated() {
	if c == nil {
		return
	}
	c.rulesCreated.Inc()
}

func (c *Collector) PartialPersistence(stage string) {
	if c == nil {
		return
	}
	c.partialPersistence.WithLabelValues(stage).Inc()
}

// TrackDrafts exposes the live draft count, read on every scrape.
func (c *Collector) TrackDrafts(count func() int) {
	if c == nil || count == nil {
		return
	}
	promauto.With(c.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "alertline_drafts_active",
		Help: "Drafts currently held in memory",
	}, func() float64 { return float64(count()) })
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
