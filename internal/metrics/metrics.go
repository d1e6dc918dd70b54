// Package metrics holds the Prometheus collectors for runs, model calls and
// sandbox executions. Collectors register on the default registry at init,
// and Handler serves them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentcoder_runs_total",
		Help: "Finished runs by outcome (succeeded, exhausted, failed, canceled)",
	}, []string{"outcome"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "agentcoder_run_duration_seconds",
		Help:    "Wall time of a run from first step to terminal state",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	executionsPerRun = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "agentcoder_run_executions",
		Help:    "Executor invocations per run",
		Buckets: []float64{0, 1, 2, 3, 4},
	})

	activeRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentcoder_active_runs",
		Help: "Runs currently holding an orchestration slot",
	})

	modelCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentcoder_model_calls_total",
		Help: "Model service calls by call name and result",
	}, []string{"call", "result"})

	modelCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentcoder_model_call_duration_seconds",
		Help:    "Model service call latency",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
	}, []string{"call"})

	sandboxRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentcoder_sandbox_executions_total",
		Help: "Sandbox executions by sandbox kind and result (passed, failed, timeout, error)",
	}, []string{"sandbox", "result"})
)

// ObserveRun records a finished run.
func ObserveRun(outcome string, d time.Duration, executions int) {
	runsTotal.WithLabelValues(outcome).Inc()
	runDuration.Observe(d.Seconds())
	executionsPerRun.Observe(float64(executions))
}

// RunStarted and RunStopped track the active-runs gauge.
func RunStarted() { activeRuns.Inc() }
func RunStopped() { activeRuns.Dec() }

// ObserveModelCall records one model service call.
func ObserveModelCall(call string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	modelCalls.WithLabelValues(call, result).Inc()
	modelCallDuration.WithLabelValues(call).Observe(d.Seconds())
}

// ObserveSandbox records one sandbox execution.
func ObserveSandbox(sandbox, result string) {
	sandboxRuns.WithLabelValues(sandbox, result).Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
