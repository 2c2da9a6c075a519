package observability

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	transitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dungeon_mirror",
		Subsystem: "runs",
		Name:      "transitions_total",
		Help:      "Number of accepted run transitions grouped by action.",
	}, []string{"action"})

	rejectedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dungeon_mirror",
		Subsystem: "runs",
		Name:      "rejected_transitions_total",
		Help:      "Number of run transitions rejected because of the current state.",
	}, []string{"action"})

	resyncCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dungeon_mirror",
		Subsystem: "stats",
		Name:      "resyncs_total",
		Help:      "Number of full statistics rebuilds from the completion log.",
	})

	resyncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dungeon_mirror",
		Subsystem: "stats",
		Name:      "resync_duration_seconds",
		Help:      "Time spent rebuilding statistics from the completion log.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
	})

	unresolvedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dungeon_mirror",
		Subsystem: "stats",
		Name:      "unresolved_records",
		Help:      "Records skipped by the last rebuild because no character or dungeon matched.",
	})

	recordsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dungeon_mirror",
		Subsystem: "records",
		Name:      "total",
		Help:      "Number of completion records in the log after the last rebuild.",
	})

	lastCompletionGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dungeon_mirror",
		Subsystem: "records",
		Name:      "last_completed_timestamp_seconds",
		Help:      "Unix timestamp of the most recent completed run.",
	})
)

// pipeline 最近一次重算/完成的快照，供 /api/status 读取
var pipeline struct {
	lastResyncAt     atomic.Int64
	lastResyncCostMs atomic.Int64
	lastRecords      atomic.Int64
	lastUnresolved   atomic.Int64
	lastCompletionAt atomic.Int64
	resyncs          atomic.Int64
}

func init() {
	prometheus.MustRegister(
		transitionCounter,
		rejectedCounter,
		resyncCounter,
		resyncDuration,
		unresolvedGauge,
		recordsGauge,
		lastCompletionGauge,
	)
}

// RecordTransition 记录一次成功的状态迁移（start/complete/cancel）
func RecordTransition(action string) {
	transitionCounter.WithLabelValues(action).Inc()
}

// RecordRejected 记录一次被拒绝的状态迁移
func RecordRejected(action string) {
	rejectedCounter.WithLabelValues(action).Inc()
}

// RecordResync 记录一次全量重算
func RecordResync(elapsed time.Duration, records, unresolved int) {
	resyncCounter.Inc()
	resyncDuration.Observe(elapsed.Seconds())
	recordsGauge.Set(float64(records))
	unresolvedGauge.Set(float64(unresolved))

	pipeline.lastResyncAt.Store(time.Now().UnixMilli())
	pipeline.lastResyncCostMs.Store(elapsed.Milliseconds())
	pipeline.lastRecords.Store(int64(records))
	pipeline.lastUnresolved.Store(int64(unresolved))
	pipeline.resyncs.Add(1)
}

// RecordCompletion 更新最近完成时间
func RecordCompletion(ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastCompletionGauge.Set(float64(ts.Unix()))
	pipeline.lastCompletionAt.Store(ts.UnixMilli())
}
