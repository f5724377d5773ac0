package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики движка. Регистрируются в default registry и отдаются
// через /metrics.
var (
	// RunsStarted — количество запущенных runs.
	RunsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_runs_started_total",
		Help: "Total number of pipeline runs started",
	})

	// RunsFinished — завершённые runs по терминальному статусу.
	RunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_runs_finished_total",
		Help: "Total number of pipeline runs finished, by status",
	}, []string{"status"})

	// InstanceDuration — продолжительность выполнения instances.
	InstanceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "conveyor_instance_duration_seconds",
		Help:    "Job instance execution duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	// StepsExecuted — выполненные шаги по статусу.
	StepsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_steps_executed_total",
		Help: "Total number of steps executed, by terminal status",
	}, []string{"status"})

	// CacheLookups — резолюции кеша по результату (hit/miss).
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_cache_lookups_total",
		Help: "Total number of cache key resolutions, by result",
	}, []string{"result"})
)
