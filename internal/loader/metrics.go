package loader

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	quiesceWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kiln",
		Subsystem: "loader",
		Name:      "quiesce_wait_seconds",
		Help:      "Time spent waiting for all workers to pass a safe point before staging.",
		Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "kiln",
		Subsystem: "loader",
		Name:      "queue_depth",
		Help:      "Background load requests queued and not yet applied.",
	})
)
