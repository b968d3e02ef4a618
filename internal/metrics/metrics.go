// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var totalTokens atomic.Int64

var (
	InferenceTokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inference_tokens_total",
		Help: "The total number of tokens generated",
	})

	DecodeStepDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "decode_step_duration_seconds",
		Help: "Duration of single-token decode steps",
	})

	PrefillDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "prefill_duration_seconds",
		Help: "Duration of full-prompt prefill passes",
	})

	ContextLengthHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "context_length_tokens",
		Help:    "Distribution of context lengths processed",
		Buckets: []float64{16, 64, 128, 256, 512, 1024, 2048},
	})

	KVCacheCapacityBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kv_cache_capacity_bytes",
		Help: "Bytes currently held by the per-sequence KV cache",
	})

	NumericFaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "numeric_faults_total",
		Help: "NaN/Inf values surfaced by the engine",
	}, []string{"stage"})

	SequencesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sequences_total",
		Help: "Number of generation requests started",
	})

	StopReasonTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "generation_stop_total",
		Help: "Generation terminations by reason",
	}, []string{"reason"})
)

// RecordPrefill notes a completed prefill pass over n prompt tokens.
func RecordPrefill(n int, d time.Duration) {
	PrefillDuration.Observe(d.Seconds())
	ContextLengthHistogram.Observe(float64(n))
}

// RecordDecodeStep notes one incremental forward pass.
func RecordDecodeStep(d time.Duration) {
	DecodeStepDuration.Observe(d.Seconds())
}

// RecordToken counts one sampled token.
func RecordToken() {
	InferenceTokensTotal.Inc()
	totalTokens.Add(1)
}

// RecordKVCacheBytes updates the cache footprint gauge.
func RecordKVCacheBytes(n int64) {
	KVCacheCapacityBytes.Set(float64(n))
}

// RecordNumericFault counts a NaN/Inf detection at the given stage.
func RecordNumericFault(stage string) {
	NumericFaults.WithLabelValues(stage).Inc()
}

// RecordStop counts a generation termination.
func RecordStop(reason string) {
	StopReasonTotal.WithLabelValues(reason).Inc()
}

// TotalTokens returns the process-lifetime generated token count.
func TotalTokens() int64 {
	return totalTokens.Load()
}
