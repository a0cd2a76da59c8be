package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	importsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polygon_imports_started_total",
		Help: "Number of import jobs started.",
	})
	importsSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polygon_imports_succeeded_total",
		Help: "Number of import jobs that completed successfully.",
	})
	importsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polygon_imports_failed_total",
		Help: "Number of import jobs that failed.",
	})
	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "polygon_import_duration_seconds",
		Help:    "Wall-clock duration of import jobs.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
	stagesReported = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polygon_import_stages_total",
		Help: "Stage transitions reported by import jobs.",
	}, []string{"stage"})
)
