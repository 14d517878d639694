package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result labels
const (
	ResultOK         = "ok"
	ResultError      = "error"
	ResultStale      = "stale"
	ResultRetry      = "retry"
	ResultDeadLetter = "dead_letter"
	ResultDropped    = "dropped"
	ResultFailed     = "failed"
)

var (
	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "castdeck_dispatch_total",
		Help: "Commands dispatched to channel state documents by type and result",
	}, []string{"type", "result"})

	AuditEnqueueTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "castdeck_audit_enqueue_total",
		Help: "Audit writes handed to the durable queue by kind and result",
	}, []string{"kind", "result"})

	BackgroundTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "castdeck_background_tasks_total",
		Help: "Background task outcomes by task type",
	}, []string{"type", "result"})

	FeedCoalescedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "castdeck_feed_coalesced_total",
		Help: "Snapshots discarded for slow feed subscribers",
	}, []string{"kind"})

	FeedOverflowTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "castdeck_feed_overflow_total",
		Help: "Feed subscriptions ended because the subscriber fell behind",
	}, []string{"kind"})

	FeedSubscriptions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "castdeck_feed_subscriptions",
		Help: "Open change feed subscriptions",
	}, []string{"kind"})

	OfflineTransitionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "castdeck_offline_transitions_total",
		Help: "Channel transitions into disconnected handled by the reconciler",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "castdeck_background_queue_depth",
		Help: "Tasks waiting in the in-process ordered queue",
	})
)

// IncDispatch records one dispatch outcome.
func IncDispatch(commandType, result string) {
	if commandType == "" {
		commandType = "unknown"
	}
	DispatchTotal.WithLabelValues(commandType, result).Inc()
}

func IncAuditEnqueue(kind, result string) {
	AuditEnqueueTotal.WithLabelValues(kind, result).Inc()
}

func IncBackgroundTask(taskType, result string) {
	BackgroundTasksTotal.WithLabelValues(taskType, result).Inc()
}

func IncFeedCoalesced(kind string) {
	FeedCoalescedTotal.WithLabelValues(kind).Inc()
}

func IncFeedOverflow(kind string) {
	FeedOverflowTotal.WithLabelValues(kind).Inc()
}
