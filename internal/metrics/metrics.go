// Package metrics provides Prometheus metrics for the portfolio agent.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	perrors "github.com/p-blackswan/portfolio-agent/internal/errors"
	"github.com/p-blackswan/portfolio-agent/internal/ledger"
	"github.com/p-blackswan/portfolio-agent/internal/orchestrator"
)

// Undo result labels.
const (
	UndoReverted      = "reverted"
	UndoAlreadyUndone = "already_undone"
	UndoRefused       = "refused"
	UndoNotFound      = "not_found"
	UndoError         = "error"
)

// Metrics holds all Prometheus metrics for the agent.
type Metrics struct {
	BatchesTotal       *prometheus.CounterVec
	ActionsTotal       *prometheus.CounterVec
	ModelAttemptsTotal *prometheus.CounterVec
	UndoTotal          *prometheus.CounterVec
	TurnDuration       prometheus.Histogram
	HTTPRequestsTotal  *prometheus.CounterVec

	registry *prometheus.Registry
}

var _ orchestrator.Observer = (*Metrics)(nil)

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		BatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_batches_total",
				Help: "Total number of action batches by final status.",
			},
			[]string{"status"},
		),
		ActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_actions_total",
				Help: "Total number of actions by type and outcome.",
			},
			[]string{"type", "status"},
		),
		ModelAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_model_attempts_total",
				Help: "Model round-trips in the validation-retry loop by result.",
			},
			[]string{"result"},
		),
		UndoTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_undo_total",
				Help: "Undo requests by result.",
			},
			[]string{"result"},
		),
		TurnDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "portfolio_turn_duration_seconds",
				Help:    "Wall time of a conversation turn from message to final report.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
			},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_http_requests_total",
				Help: "Management API requests by method and status code.",
			},
			[]string{"method", "status"},
		),
		registry: reg,
	}

	reg.MustRegister(m.BatchesTotal)
	reg.MustRegister(m.ActionsTotal)
	reg.MustRegister(m.ModelAttemptsTotal)
	reg.MustRegister(m.UndoTotal)
	reg.MustRegister(m.TurnDuration)
	reg.MustRegister(m.HTTPRequestsTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ActionFinished counts one action outcome.
func (m *Metrics) ActionFinished(_ context.Context, _ string, o orchestrator.Outcome) {
	m.ActionsTotal.WithLabelValues(string(o.Type), string(o.Status)).Inc()
}

// BatchFinished counts one batch by its final status.
func (m *Metrics) BatchFinished(_ context.Context, r orchestrator.Report) {
	m.BatchesTotal.WithLabelValues(string(r.Status)).Inc()
}

// UndoFinished counts one undo request.
func (m *Metrics) UndoFinished(_ context.Context, _ string, _ int, res ledger.UndoResult, err error) {
	m.UndoTotal.WithLabelValues(undoLabel(res, err)).Inc()
}

// RecordAttempt counts one model round-trip. It matches the assistant attempt hook.
func (m *Metrics) RecordAttempt(result string) {
	m.ModelAttemptsTotal.WithLabelValues(result).Inc()
}

// ObserveTurn records the duration of one conversation turn.
func (m *Metrics) ObserveTurn(seconds float64) {
	m.TurnDuration.Observe(seconds)
}

// RecordHTTP counts one management API request.
func (m *Metrics) RecordHTTP(method string, status int) {
	m.HTTPRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

func undoLabel(res ledger.UndoResult, err error) string {
	switch {
	case errors.Is(err, perrors.ErrHasDependents), errors.Is(err, perrors.ErrConflict), errors.Is(err, perrors.ErrSuspended):
		return UndoRefused
	case errors.Is(err, perrors.ErrNotFound):
		return UndoNotFound
	case res.AlreadyUndone:
		return UndoAlreadyUndone
	case err != nil && !res.Entry.Undone:
		return UndoError
	}
	return UndoReverted
}
