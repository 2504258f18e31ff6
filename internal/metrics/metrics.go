// Package metrics exposes per-operation counters and latencies for the ledger.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"agri-ledger/internal/apperr"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Total number of ledger operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_operation_duration_seconds",
			Help:    "Duration of ledger operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	scheduledRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_scheduled_payments_total",
			Help: "Scheduled payment executions by outcome",
		},
		[]string{"outcome"},
	)
)

// Outcome labels an operation result by its error kind.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperr.ErrInvalidAmount), errors.Is(err, apperr.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperr.ErrInsufficientFunds), errors.Is(err, apperr.ErrInsufficientEscrow):
		return "insufficient"
	case errors.Is(err, apperr.ErrIllegalState):
		return "illegal_state"
	case errors.Is(err, apperr.ErrLimitExceeded), errors.Is(err, apperr.ErrPinRequired):
		return "limit"
	case errors.Is(err, apperr.ErrDuplicate):
		return "duplicate"
	case errors.Is(err, apperr.ErrVersionConflict):
		return "conflict"
	case errors.Is(err, apperr.ErrTimeout):
		return "timeout"
	}
	return "error"
}

// Observe records one finished operation.
func Observe(operation string, start time.Time, err error) {
	operationsTotal.WithLabelValues(operation, Outcome(err)).Inc()
	operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func ObserveScheduled(err error) {
	scheduledRuns.WithLabelValues(Outcome(err)).Inc()
}

func Handler() http.Handler {
	return promhttp.Handler()
}
