package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	ParsingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "synsched_parse_seconds",
		Help:    "Time spent in a parse task, by language, lane and outcome.",
		Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"language", "lane", "outcome"})

	TasksLaunchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synsched_tasks_launched_total",
		Help: "Total number of parse tasks handed to a worker.",
	}, []string{"lane", "class"})

	TasksCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synsched_tasks_completed_total",
		Help: "Total number of parse tasks collected, by outcome.",
	}, []string{"lane", "outcome"})

	TasksDiscardedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "synsched_tasks_discarded_total",
		Help: "Total number of completed tasks dropped for a stale epoch or evicted document.",
	})
	ResultInboxFullTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "synsched_result_inbox_full_total",
		Help: "Total number of worker results that had to wait for room in the collector inbox.",
	})

	TreesInstalledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synsched_trees_installed_total",
		Help: "Total number of parse trees made live.",
	}, []string{"lane"})

	IncrementalFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "synsched_incremental_fallbacks_total",
		Help: "Total number of incremental updates that fell back to a full parse.",
	})

	TasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "synsched_tasks_in_flight",
		Help: "Current number of parse tasks holding a concurrency permit.",
	})

	ReadyQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "synsched_ready_queue_depth",
		Help: "Current number of planned tasks waiting for a concurrency permit.",
	})

	DocumentsTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "synsched_documents_tracked",
		Help: "Current number of documents with scheduler state.",
	})

	EpochBumpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synsched_epoch_bumps_total",
		Help: "Total number of per-document epoch bumps, by reason.",
	}, []string{"reason"})

	ConfigReloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synsched_config_reloads_total",
		Help: "Total number of configuration reload attempts.",
	}, []string{"result"})

	WatcherEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "synsched_watcher_events_total",
		Help: "Total number of file system events received by the watcher.",
	})
)
