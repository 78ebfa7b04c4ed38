package monitoring

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// Metric names recorded by the service.
const (
	MetricPredictions      = "churn_predictions_total"
	MetricValidationErrors = "churn_validation_errors_total"
	MetricInferenceErrors  = "churn_inference_errors_total"
	MetricCacheHits        = "churn_cache_hits_total"
	MetricBatchRuns        = "churn_batch_runs_total"
	MetricBatchRows        = "churn_batch_rows_total"
)

var metricHelp = map[string]string{
	MetricPredictions:      "Predictions served",
	MetricValidationErrors: "Requests rejected by input validation",
	MetricInferenceErrors:  "Requests that failed during inference",
	MetricCacheHits:        "Predictions answered from the cache",
	MetricBatchRuns:        "Batch files processed",
	MetricBatchRows:        "Batch rows processed",
}

// MetricsCollector keeps in-process counters and prediction latency. It is
// safe for concurrent use.
type MetricsCollector struct {
	mu        sync.RWMutex
	counters  map[string]int64
	latency   time.Duration
	latencyN  int64
	startTime time.Time
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:  make(map[string]int64),
		startTime: time.Now(),
	}
}

func (mc *MetricsCollector) IncrCounter(name string, delta int64) {
	mc.mu.Lock()
	mc.counters[name] += delta
	mc.mu.Unlock()
}

// ObservePrediction counts one served prediction and its latency.
func (mc *MetricsCollector) ObservePrediction(elapsed time.Duration) {
	mc.mu.Lock()
	mc.counters[MetricPredictions]++
	mc.latency += elapsed
	mc.latencyN++
	mc.mu.Unlock()
}

func (mc *MetricsCollector) Counter(name string) int64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.counters[name]
}

// Snapshot is the JSON view served on the metrics endpoint.
type Snapshot struct {
	Counters         map[string]int64 `json:"counters"`
	AvgLatencyMillis float64          `json:"avg_latency_ms"`
	Uptime           string           `json:"uptime"`
	Goroutines       int              `json:"goroutines"`
	HeapAllocBytes   uint64           `json:"heap_alloc_bytes"`
}

func (mc *MetricsCollector) Snapshot() Snapshot {
	mc.mu.RLock()
	counters := make(map[string]int64, len(mc.counters))
	for name, v := range mc.counters {
		counters[name] = v
	}
	var avg float64
	if mc.latencyN > 0 {
		avg = float64(mc.latency) / float64(mc.latencyN) / float64(time.Millisecond)
	}
	mc.mu.RUnlock()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return Snapshot{
		Counters:         counters,
		AvgLatencyMillis: avg,
		Uptime:           time.Since(mc.startTime).Round(time.Second).String(),
		Goroutines:       runtime.NumGoroutine(),
		HeapAllocBytes:   mem.HeapAlloc,
	}
}

// ExportPrometheus renders the counters in the Prometheus text format.
func (mc *MetricsCollector) ExportPrometheus() string {
	snap := mc.Snapshot()
	names := make([]string, 0, len(snap.Counters))
	for name := range snap.Counters {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		help := metricHelp[name]
		if help == "" {
			help = fmt.Sprintf("Metric %s", name)
		}
		fmt.Fprintf(&b, "# HELP %s %s\n", name, help)
		fmt.Fprintf(&b, "# TYPE %s counter\n", name)
		fmt.Fprintf(&b, "%s %d\n", name, snap.Counters[name])
	}
	b.WriteString("# HELP churn_prediction_latency_avg_ms Average prediction latency\n")
	b.WriteString("# TYPE churn_prediction_latency_avg_ms gauge\n")
	fmt.Fprintf(&b, "churn_prediction_latency_avg_ms %g\n", snap.AvgLatencyMillis)
	return b.String()
}
