package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// queueDepth is only written by the writer goroutine.
var (
	flushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "companion",
			Subsystem: "store",
			Name:      "flushes_total",
			Help:      "Persistence batches by outcome (ok, failed, dropped).",
		},
		[]string{"result"},
	)

	keyWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "companion",
			Subsystem: "store",
			Name:      "key_writes_total",
			Help:      "Durable key writes successfully applied.",
		},
		[]string{"key"},
	)

	writeRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "companion",
			Subsystem: "store",
			Name:      "write_retries_total",
			Help:      "Batch write attempts retried after a store error.",
		},
	)

	flushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "companion",
			Subsystem: "store",
			Name:      "flush_duration_seconds",
			Help:      "Latency of a single batch write attempt.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "companion",
			Subsystem: "store",
			Name:      "queue_depth",
			Help:      "Batches waiting to be written.",
		},
	)

	chatMovesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "companion",
			Subsystem: "chat",
			Name:      "moves_total",
			Help:      "Chats moved between partitions.",
		},
		[]string{"to"},
	)
)
