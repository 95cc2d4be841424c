// Package metrics provides Prometheus metrics for the prediction
// service.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// FlowMetrics collects and exposes flow-related Prometheus metrics.
type FlowMetrics struct {
	registry *prometheus.Registry

	// Flow metrics
	FlowRuns     *prometheus.CounterVec
	FlowDuration *prometheus.HistogramVec
	StageLatency *prometheus.HistogramVec

	// Payment metrics
	PurchasesTotal *prometheus.CounterVec
	SettlementWait *prometheus.HistogramVec

	// API client metrics
	ScheduleFetches   *prometheus.CounterVec
	PredictionFetches *prometheus.CounterVec
	LedgerReads       *prometheus.CounterVec

	// Streaming metrics
	StreamClients *prometheus.GaugeVec
}

// NewFlowMetrics creates a new flow metrics collector.
func NewFlowMetrics() *FlowMetrics {
	fm := &FlowMetrics{
		registry: prometheus.NewRegistry(),

		FlowRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predictor_flow_runs_total",
				Help: "Flow invocations by terminal outcome",
			},
			[]string{"outcome"},
		),
		FlowDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "predictor_flow_duration_seconds",
				Help:    "Total flow run duration",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~400s
			},
			[]string{},
		),
		StageLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "predictor_stage_latency_seconds",
				Help:    "Time spent in each flow state",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~160s
			},
			[]string{"state"},
		),

		PurchasesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predictor_purchases_total",
				Help: "Payment submissions by result",
			},
			[]string{"result"},
		),
		SettlementWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "predictor_settlement_wait_seconds",
				Help:    "Time from payment submission to mined receipt",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17m
			},
			[]string{},
		),

		ScheduleFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predictor_schedule_fetches_total",
				Help: "Schedule API fetches by status",
			},
			[]string{"status"},
		),
		PredictionFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predictor_prediction_fetches_total",
				Help: "Prediction API fetches by status",
			},
			[]string{"status"},
		),
		LedgerReads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predictor_ledger_reads_total",
				Help: "Access Ledger reads by method and status",
			},
			[]string{"method", "status"},
		),

		StreamClients: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "predictor_stream_clients",
				Help: "Connected WebSocket clients",
			},
			[]string{},
		),
	}

	fm.registerAll()

	return fm
}

func (fm *FlowMetrics) registerAll() {
	fm.registry.MustRegister(
		fm.FlowRuns,
		fm.FlowDuration,
		fm.StageLatency,
		fm.PurchasesTotal,
		fm.SettlementWait,
		fm.ScheduleFetches,
		fm.PredictionFetches,
		fm.LedgerReads,
		fm.StreamClients,
	)
}

// Registry returns the prometheus registry.
func (fm *FlowMetrics) Registry() *prometheus.Registry {
	return fm.registry
}

// --- Helper methods for recording metrics ---

// RecordFlowRun records a finished flow invocation.
func (fm *FlowMetrics) RecordFlowRun(outcome string, durationSec float64) {
	fm.FlowRuns.WithLabelValues(outcome).Inc()
	if durationSec > 0 {
		fm.FlowDuration.WithLabelValues().Observe(durationSec)
	}
}

// RecordStage records time spent in one flow state.
func (fm *FlowMetrics) RecordStage(state string, durationSec float64) {
	fm.StageLatency.WithLabelValues(state).Observe(durationSec)
}

// RecordPurchase records a payment submission result.
func (fm *FlowMetrics) RecordPurchase(result string) {
	fm.PurchasesTotal.WithLabelValues(result).Inc()
}

// RecordSettlementWait records the submission-to-receipt wait.
func (fm *FlowMetrics) RecordSettlementWait(seconds float64) {
	fm.SettlementWait.WithLabelValues().Observe(seconds)
}

// RecordScheduleFetch records a schedule API call.
func (fm *FlowMetrics) RecordScheduleFetch(status string) {
	fm.ScheduleFetches.WithLabelValues(status).Inc()
}

// RecordPredictionFetch records a prediction API call.
func (fm *FlowMetrics) RecordPredictionFetch(status string) {
	fm.PredictionFetches.WithLabelValues(status).Inc()
}

// RecordLedgerRead records an Access Ledger read.
func (fm *FlowMetrics) RecordLedgerRead(method, status string) {
	fm.LedgerReads.WithLabelValues(method, status).Inc()
}

// UpdateStreamClients updates the connected client count.
func (fm *FlowMetrics) UpdateStreamClients(count int) {
	fm.StreamClients.WithLabelValues().Set(float64(count))
}

// Global instance for convenience
var defaultMetrics *FlowMetrics
var once sync.Once

// Default returns the default global metrics instance.
func Default() *FlowMetrics {
	once.Do(func() {
		defaultMetrics = NewFlowMetrics()
	})
	return defaultMetrics
}
