package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	decisionsTotal *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	scores         *prometheus.HistogramVec
	dailyLoss      prometheus.Gauge
	openPositions  prometheus.Gauge
	latency        *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		decisionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ultraflow_decisions_total",
				Help: "Total number of terminal decisions by outcome and reason",
			},
			[]string{"outcome", "reason"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ultraflow_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		scores: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ultraflow_signal_score",
				Help:    "Weighted confidence score per scored signal",
				Buckets: prometheus.LinearBuckets(0, 10, 11),
			},
			[]string{"symbol"},
		),
		dailyLoss: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ultraflow_daily_realized_loss",
				Help: "Realized loss accumulated in the current trading day",
			},
		),
		openPositions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ultraflow_open_positions",
				Help: "Symbols currently counted against the position cap",
			},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ultraflow_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordDecision records a terminal decision.
func (r *Recorder) RecordDecision(outcome, reason string) {
	r.decisionsTotal.WithLabelValues(outcome, reason).Inc()
}

// RecordScore records the confidence score computed for a symbol.
func (r *Recorder) RecordScore(symbol string, score float64) {
	r.scores.WithLabelValues(symbol).Observe(score)
}

// RecordDailyLoss records the day's accumulated realized loss.
func (r *Recorder) RecordDailyLoss(loss float64) {
	r.dailyLoss.Set(loss)
}

// RecordOpenPositions records the number of live and pending positions.
func (r *Recorder) RecordOpenPositions(n int) {
	r.openPositions.Set(float64(n))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
