package matchmetrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MatchMetrics records what the match engine does.
type MatchMetrics interface {
	RecordOperationAttempt(ctx context.Context, operation, service string)
	RecordOperationSuccess(ctx context.Context, operation, service string)
	RecordOperationFailure(ctx context.Context, operation, service string)
	RecordOperationDuration(ctx context.Context, operation, service string, duration time.Duration)

	RecordTimerFired(ctx context.Context, kind, result string)
	RecordAutoConfirmTie(ctx context.Context)
	RecordScannerOutcome(ctx context.Context, sweep, outcome string)
	RecordBracketAdvance(ctx context.Context, result string)
}

// PrometheusMetrics implements MatchMetrics with Prometheus collectors.
type PrometheusMetrics struct {
	attempts       *prometheus.CounterVec
	successes      *prometheus.CounterVec
	failures       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	timersFired    *prometheus.CounterVec
	autoConfirmTie prometheus.Counter
	scanner        *prometheus.CounterVec
	advances       *prometheus.CounterVec
}

// NewPrometheusMetrics registers the match collectors on reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matchflow",
			Name:      "operation_attempts_total",
			Help:      "Operations started, by operation and service.",
		}, []string{"operation", "service"}),
		successes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matchflow",
			Name:      "operation_success_total",
			Help:      "Operations that completed without an infrastructure error.",
		}, []string{"operation", "service"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matchflow",
			Name:      "operation_failures_total",
			Help:      "Operations that failed with an infrastructure error or panic.",
		}, []string{"operation", "service"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "matchflow",
			Name:      "operation_duration_seconds",
			Help:      "Operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "service"}),
		timersFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matchflow",
			Name:      "timers_fired_total",
			Help:      "Confirmation timers fired, by kind and result.",
		}, []string{"kind", "result"}),
		autoConfirmTie: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "matchflow",
			Name:      "auto_confirm_ties_total",
			Help:      "Auto-confirm deadlines reached with tied scores.",
		}),
		scanner: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matchflow",
			Name:      "scanner_outcomes_total",
			Help:      "Deadline scanner results per candidate.",
		}, []string{"sweep", "outcome"}),
		advances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matchflow",
			Name:      "bracket_advances_total",
			Help:      "Bracket advancement results.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.attempts,
		m.successes,
		m.failures,
		m.duration,
		m.timersFired,
		m.autoConfirmTie,
		m.scanner,
		m.advances,
	)
	return m
}

func (m *PrometheusMetrics) RecordOperationAttempt(_ context.Context, operation, service string) {
	m.attempts.WithLabelValues(operation, service).Inc()
}

func (m *PrometheusMetrics) RecordOperationSuccess(_ context.Context, operation, service string) {
	m.successes.WithLabelValues(operation, service).Inc()
}

func (m *PrometheusMetrics) RecordOperationFailure(_ context.Context, operation, service string) {
	m.failures.WithLabelValues(operation, service).Inc()
}

func (m *PrometheusMetrics) RecordOperationDuration(_ context.Context, operation, service string, duration time.Duration) {
	m.duration.WithLabelValues(operation, service).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordTimerFired(_ context.Context, kind, result string) {
	m.timersFired.WithLabelValues(kind, result).Inc()
}

func (m *PrometheusMetrics) RecordAutoConfirmTie(_ context.Context) {
	m.autoConfirmTie.Inc()
}

func (m *PrometheusMetrics) RecordScannerOutcome(_ context.Context, sweep, outcome string) {
	m.scanner.WithLabelValues(sweep, outcome).Inc()
}

func (m *PrometheusMetrics) RecordBracketAdvance(_ context.Context, result string) {
	m.advances.WithLabelValues(result).Inc()
}

// NoOpMetrics discards everything.
type NoOpMetrics struct{}

func NewNoop() MatchMetrics { return NoOpMetrics{} }

func (NoOpMetrics) RecordOperationAttempt(context.Context, string, string)                 {}
func (NoOpMetrics) RecordOperationSuccess(context.Context, string, string)                 {}
func (NoOpMetrics) RecordOperationFailure(context.Context, string, string)                 {}
func (NoOpMetrics) RecordOperationDuration(context.Context, string, string, time.Duration) {}
func (NoOpMetrics) RecordTimerFired(context.Context, string, string)                       {}
func (NoOpMetrics) RecordAutoConfirmTie(context.Context)                                   {}
func (NoOpMetrics) RecordScannerOutcome(context.Context, string, string)                   {}
func (NoOpMetrics) RecordBracketAdvance(context.Context, string)                           {}

var (
	_ MatchMetrics = (*PrometheusMetrics)(nil)
	_ MatchMetrics = NoOpMetrics{}
)
