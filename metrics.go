package agewatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Process-wide metrics, served by the status server on /metrics.
var (
	samplesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agewatch_samples_written_total",
		Help: "Total number of samples appended to the sink",
	})

	samplerErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agewatch_sampler_errors_total",
		Help: "Total number of sampler failures",
	})

	resourceUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agewatch_resource_usage_percent",
			Help: "Most recent sampled utilization per resource",
		},
		[]string{"resource"},
	)

	monitoringProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agewatch_monitoring_progress_ratio",
		Help: "Fraction of the monitoring duration elapsed",
	})

	trainDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agewatch_train_duration_seconds",
			Help:    "Model training duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4min
		},
		[]string{"model"},
	)

	fitRMSE = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agewatch_fit_rmse",
			Help: "Root mean squared error of the in-sample fit",
		},
		[]string{"model", "resource"},
	)

	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agewatch_runs_total",
			Help: "Total number of framework runs by outcome",
		},
		[]string{"mode", "status"},
	)
)

// usageObserver mirrors every written sample into the usage gauges.
var usageObserver = SampleObserverFunc(func(s Sample) {
	for _, r := range AllResources {
		resourceUsage.WithLabelValues(string(r)).Set(s.Value(r))
	}
})
