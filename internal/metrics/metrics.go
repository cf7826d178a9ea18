// Package metrics exports Prometheus collectors fed by transport events.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	eventbus "github.com/hanpama/gqlinput/internal/eventbus"
	events "github.com/hanpama/gqlinput/internal/events"
)

const namespace = "gqlinput"

// Metrics holds the collectors and the subscriptions that update them.
type Metrics struct {
	operations    *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	buildFailures *prometheus.CounterVec
	wsActive      prometheus.Gauge

	gatherer prometheus.Gatherer
	unsub    []func()
}

// New registers the collectors with reg, or the default registerer when reg
// is nil. Collectors already registered under the same names are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "GraphQL operations executed, by operation type and outcome.",
		}, []string{"type", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Time spent executing GraphQL operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		buildFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "input_build_failures_total",
			Help:      "Requests that could not be turned into an execution input, by reason.",
		}, []string{"reason"}),
		wsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections_active",
			Help:      "Open WebSocket connections.",
		}),
		gatherer: prometheus.DefaultGatherer,
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}

	for _, c := range []prometheus.Collector{m.operations, m.duration, m.buildFailures, m.wsActive} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return nil, err
			}
			switch c {
			case m.operations:
				m.operations = already.ExistingCollector.(*prometheus.CounterVec)
			case m.duration:
				m.duration = already.ExistingCollector.(*prometheus.HistogramVec)
			case m.buildFailures:
				m.buildFailures = already.ExistingCollector.(*prometheus.CounterVec)
			case m.wsActive:
				m.wsActive = already.ExistingCollector.(prometheus.Gauge)
			}
		}
	}
	return m, nil
}

// Subscribe attaches the collectors to b, or to the global bus when b is nil.
func (m *Metrics) Subscribe(b *eventbus.Bus) {
	m.unsub = append(m.unsub,
		on(b, func(_ context.Context, e events.GraphQLFinish) {
			m.ObserveOperation(e.OperationType, len(e.Errors) == 0, e.Duration)
		}),
		on(b, func(_ context.Context, e events.InputBuildFailed) {
			reason := e.Reason
			if reason == "" {
				reason = events.ReasonInvalidInput
			}
			m.buildFailures.WithLabelValues(reason).Inc()
		}),
		on(b, func(context.Context, events.WSConnect) { m.wsActive.Inc() }),
		on(b, func(context.Context, events.WSDisconnect) { m.wsActive.Dec() }),
	)
}

// Close removes the event subscriptions.
func (m *Metrics) Close() {
	for _, u := range m.unsub {
		u()
	}
	m.unsub = nil
}

func on[T any](b *eventbus.Bus, h eventbus.Handler[T]) func() {
	if b == nil {
		return eventbus.Subscribe(h)
	}
	return eventbus.On(b, h)
}

// ObserveOperation records one executed operation.
func (m *Metrics) ObserveOperation(opType string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	if opType == "" {
		opType = "unknown"
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.operations.WithLabelValues(opType, status).Inc()
	m.duration.WithLabelValues(opType).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
