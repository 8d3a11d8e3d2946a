// Package operational exposes the process metrics of the analysis
// pipeline through the Prometheus default registry.
package operational

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metricDefinition struct {
	Name string
	Help string
	Type string
}

var metricsOpts []metricDefinition

func NewCounter(opts prometheus.CounterOpts) prometheus.Counter {
	metricsOpts = append(metricsOpts, metricDefinition{
		Name: opts.Name,
		Help: opts.Help,
		Type: "counter",
	})
	return promauto.NewCounter(opts)
}

func NewCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
	metricsOpts = append(metricsOpts, metricDefinition{
		Name: opts.Name,
		Help: opts.Help,
		Type: "counter",
	})
	return promauto.NewCounterVec(opts, labelNames)
}

func NewGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	metricsOpts = append(metricsOpts, metricDefinition{
		Name: opts.Name,
		Help: opts.Help,
		Type: "gauge",
	})
	return promauto.NewGauge(opts)
}

func NewHistogramVec(opts prometheus.HistogramOpts, labelNames []string) *prometheus.HistogramVec {
	metricsOpts = append(metricsOpts, metricDefinition{
		Name: opts.Name,
		Help: opts.Help,
		Type: "histogram",
	})
	return promauto.NewHistogramVec(opts, labelNames)
}

var (
	RunsStarted = NewCounterVec(prometheus.CounterOpts{
		Name: "liftguard_runs_started_total",
		Help: "Analysis runs started, by mode (batch or realtime)",
	}, []string{"mode"})

	RunsFinished = NewCounterVec(prometheus.CounterOpts{
		Name: "liftguard_runs_finished_total",
		Help: "Analysis runs finished, by mode and terminal state",
	}, []string{"mode", "state"})

	ActiveRuns = NewGauge(prometheus.GaugeOpts{
		Name: "liftguard_active_runs",
		Help: "Analysis runs currently in flight",
	})

	RunDuration = NewHistogramVec(prometheus.HistogramOpts{
		Name:    "liftguard_run_duration_seconds",
		Help:    "Wall time of analysis runs, by mode",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"mode"})

	EventsEmitted = NewCounterVec(prometheus.CounterOpts{
		Name: "liftguard_events_emitted_total",
		Help: "Events delivered to sinks, by event type",
	}, []string{"type"})

	SamplesScored = NewCounter(prometheus.CounterOpts{
		Name: "liftguard_samples_scored_total",
		Help: "Samples that received a fused verdict",
	})

	FinalAnomalies = NewCounter(prometheus.CounterOpts{
		Name: "liftguard_final_anomalies_total",
		Help: "Samples whose fused verdict was anomalous",
	})

	EpochLoss = NewGauge(prometheus.GaugeOpts{
		Name: "liftguard_last_epoch_loss",
		Help: "Training loss of the most recently finished epoch",
	})
)

// GetDocumentation renders the registered metrics as markdown.
func GetDocumentation() string {
	doc := ""
	for _, opts := range metricsOpts {
		doc += fmt.Sprintf(
			`
### %s
| **Name** | %s |
|:---|:---|
| **Description** | %s |
| **Type** | %s |

`,
			opts.Name,
			opts.Name,
			opts.Help,
			opts.Type,
		)
	}

	return doc
}
