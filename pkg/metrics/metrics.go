package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	draftforge = "draftforge"

	// Job metrics
	jobsProcessedTotal = "jobs_processed_total"
	jobsQueuedTotal    = "jobs_queued_total"

	// Section metrics
	sectionsGeneratedTotal = "sections_generated_total"
	sectionLatencySeconds  = "section_latency_seconds"

	// Billing metrics
	billedTokensTotal = "billed_tokens_total"

	// Worker liveness
	workerLastSeenTimestamp = "worker_last_seen_timestamp"

	// Labels
	jobTypeLabel   = "type"
	jobStatusLabel = "status"
	sectionLabel   = "outcome"
	presetLabel    = "preset"
)

/**
* Metrics definition
**/
var jobsProcessedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: draftforge,
		Name:      jobsProcessedTotal,
		Help:      "number of jobs the worker finished, by type and final status",
	},
	[]string{jobTypeLabel, jobStatusLabel},
)

var jobsQueuedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: draftforge,
		Name:      jobsQueuedTotal,
		Help:      "number of jobs admitted to the queue, by type",
	},
	[]string{jobTypeLabel},
)

var sectionsGeneratedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: draftforge,
		Name:      sectionsGeneratedTotal,
		Help:      "number of section generations, by outcome",
	},
	[]string{sectionLabel},
)

var sectionLatencySecondsMetric = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Subsystem: draftforge,
		Name:      sectionLatencySeconds,
		Help:      "latency of one section generation call",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30},
	},
)

var billedTokensTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: draftforge,
		Name:      billedTokensTotal,
		Help:      "billed tokens charged against organization budgets, by preset",
	},
	[]string{presetLabel},
)

var workerLastSeenMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Subsystem: draftforge,
		Name:      workerLastSeenTimestamp,
		Help:      "unix timestamp of the worker's last heartbeat",
	},
)

func IncreaseJobsProcessedMetric(jobType, status string) {
	jobsProcessedTotalMetric.With(prometheus.Labels{jobTypeLabel: jobType, jobStatusLabel: status}).Inc()
}

func IncreaseJobsQueuedMetric(jobType string) {
	jobsQueuedTotalMetric.With(prometheus.Labels{jobTypeLabel: jobType}).Inc()
}

func IncreaseSectionsGeneratedMetric(outcome string) {
	sectionsGeneratedTotalMetric.With(prometheus.Labels{sectionLabel: outcome}).Inc()
}

func ObserveSectionLatencyMetric(d time.Duration) {
	sectionLatencySecondsMetric.Observe(d.Seconds())
}

func AddBilledTokensMetric(preset string, tokens int64) {
	billedTokensTotalMetric.With(prometheus.Labels{presetLabel: preset}).Add(float64(tokens))
}

func UpdateWorkerHeartbeatMetric(at time.Time) {
	workerLastSeenMetric.Set(float64(at.Unix()))
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobsProcessedTotalMetric)
	prometheus.MustRegister(jobsQueuedTotalMetric)
	prometheus.MustRegister(sectionsGeneratedTotalMetric)
	prometheus.MustRegister(sectionLatencySecondsMetric)
	prometheus.MustRegister(billedTokensTotalMetric)
	prometheus.MustRegister(workerLastSeenMetric)
}
