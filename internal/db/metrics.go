package db

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "starboard"
	metricsSubsystem = "db"
)

var (
	maintenanceRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "maintenance_runs_total",
			Help:      "Maintenance passes (WAL checkpoint + VACUUM) by outcome",
		},
		[]string{"outcome"},
	)

	maintenanceSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "maintenance_duration_seconds",
			Help:      "Time spent holding the exclusive maintenance lock",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		},
	)

	maintenanceLastRun = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "maintenance_last_run_timestamp_seconds",
			Help:      "Unix time of the last maintenance pass",
		},
	)

	maintenanceSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "maintenance_steps_total",
			Help:      "Completed maintenance steps (wal_checkpoint_<mode>, vacuum)",
		},
		[]string{"step"},
	)

	fileBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "file_bytes",
			Help:      "Database size after the last maintenance pass, and bytes reclaimed by it",
		},
		[]string{"kind"},
	)
)

// observeMaintenance records the outcome of one maintenance pass.
func observeMaintenance(elapsed time.Duration, sizeAfter int64, reclaimed uint64, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}

	maintenanceRuns.WithLabelValues(outcome).Inc()
	maintenanceSeconds.Observe(elapsed.Seconds())
	maintenanceLastRun.Set(float64(time.Now().UTC().Unix()))
	fileBytes.WithLabelValues("total").Set(float64(sizeAfter))
	fileBytes.WithLabelValues("reclaimed").Set(float64(reclaimed))
}

func maintenanceStepInc(step string) {
	maintenanceSteps.WithLabelValues(step).Inc()
}
