package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	cycleCompleted   = "completed"
	cycleSkipped     = "skipped"
	cycleInterrupted = "interrupted"
	cyclePanicked    = "panicked"
	cycleFailed      = "failed"

	accountOK             = "ok"
	accountNotFound       = "not_found"
	accountAPIUnavailable = "api_unavailable"
	accountInterrupted    = "interrupted"
	accountFailed         = "failed"

	deliveryBatch = "batch"
	deliveryError = "error"
)

var (
	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cfwatch",
		Subsystem: "monitor",
		Name:      "cycles_total",
		Help:      "Polling cycles by result.",
	}, []string{"result"})

	accountsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cfwatch",
		Subsystem: "monitor",
		Name:      "accounts_total",
		Help:      "Processed tracked accounts by outcome.",
	}, []string{"outcome"})

	notificationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cfwatch",
		Subsystem: "monitor",
		Name:      "notifications_total",
		Help:      "Newly solved problems queued for delivery, counted once per channel.",
	})

	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cfwatch",
		Subsystem: "monitor",
		Name:      "deliveries_total",
		Help:      "Channel deliveries by kind and outcome.",
	}, []string{"kind", "outcome"})

	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cfwatch",
		Subsystem: "monitor",
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of completed polling cycles.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})
)

func deliveryOutcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
