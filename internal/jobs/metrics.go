package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	JobsStartedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "surveyd_mapping_jobs_started_total",
		Help: "Total number of mapping jobs started",
	})
	JobsRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "surveyd_mapping_jobs_rejected_total",
		Help: "Total number of start requests rejected because a job was running",
	})
	JobsInProgress = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "surveyd_mapping_jobs_in_progress",
		Help: "Number of mapping jobs currently in progress",
	})
	JobsCompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "surveyd_mapping_jobs_completed_total",
		Help: "Total number of mapping jobs completed successfully",
	})
	JobsFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "surveyd_mapping_jobs_failed_total",
		Help: "Total number of mapping jobs failed",
	})
	JobsSimulatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "surveyd_mapping_jobs_simulated_total",
		Help: "Total number of mapping jobs that reported a simulated volume",
	})
	JobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "surveyd_mapping_job_duration_seconds",
		Help:    "Mapping job duration",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
	})
)

func init() {
	prometheus.MustRegister(JobsStartedTotal, JobsRejectedTotal, JobsInProgress,
		JobsCompletedTotal, JobsFailedTotal, JobsSimulatedTotal, JobDuration)
}
