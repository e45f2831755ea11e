// Package metrics exposes Prometheus collectors for webhook handling and
// deploy execution.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "deployhook"

var durationBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800}

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	webhookEvents  *prometheus.CounterVec
	deploys        *prometheus.CounterVec
	deployDuration *prometheus.HistogramVec
	inFlight       *prometheus.GaugeVec
	rateLimitHits  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. Collectors that
// are already registered are reused.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Webhook deliveries by target, provider and result",
		}, []string{"target", "provider", "result"}),
		deploys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deploys_total",
			Help:      "Finished deploys by target and terminal state",
		}, []string{"target", "state"}),
		deployDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "deploy_duration_seconds",
			Help:      "Wall-clock duration of deploy script runs",
			Buckets:   durationBuckets,
		}, []string{"target"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "deploys_in_flight",
			Help:      "Deploy scripts currently running",
		}, []string{"target"}),
		rateLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Requests rejected by the per-IP rate limiter",
		}, []string{"scope"}),
	}

	if reg == nil {
		return m
	}

	m.webhookEvents = register(reg, m.webhookEvents)
	m.deploys = register(reg, m.deploys)
	m.deployDuration = register(reg, m.deployDuration)
	m.inFlight = register(reg, m.inFlight)
	m.rateLimitHits = register(reg, m.rateLimitHits)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

// WebhookEvent counts one webhook delivery. result is one of
// "triggered", "ignored", "unauthorized", "unsupported", "busy" or "invalid".
func (m *Metrics) WebhookEvent(target, provider, result string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(target, provider, result).Inc()
}

// DeployStarted marks a deploy as running.
func (m *Metrics) DeployStarted(target string) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(target).Inc()
}

// DeployFinished records the terminal state and duration of a deploy.
func (m *Metrics) DeployFinished(target, state string, d time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(target).Dec()
	m.deploys.WithLabelValues(target, state).Inc()
	m.deployDuration.WithLabelValues(target).Observe(d.Seconds())
}

// RateLimited counts a request rejected by a rate limiter.
func (m *Metrics) RateLimited(scope string) {
	if m == nil {
		return
	}
	m.rateLimitHits.WithLabelValues(scope).Inc()
}
