package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "video_jobs_total",
		Help: "Finished ingestion jobs by outcome and failure reason",
	}, []string{"outcome", "reason"})
	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "video_job_duration_seconds",
		Help:    "Time from job start to terminal state",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
	activeJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "video_jobs_active",
		Help: "Jobs currently being processed",
	})
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "video_job_queue_depth",
		Help: "Jobs waiting in the in-process pool",
	})
	orphanKeys = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "video_orphan_keys_total",
		Help: "Storage keys registered as orphans and swept",
	}, []string{"action"})
)
