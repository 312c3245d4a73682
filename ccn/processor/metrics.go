package processor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	processedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ccn_processor_messages_processed_total",
		Help: "Messages that reached the processed status, per message type.",
	}, []string{"type"})
	rejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ccn_processor_messages_rejected_total",
		Help: "Messages permanently rejected, per error code.",
	}, []string{"code"})
	retriedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ccn_processor_messages_retried_total",
		Help: "Processing attempts that ended in a reschedule.",
	})
	duplicatesSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ccn_processor_duplicates_skipped_total",
		Help: "Pending rows dropped because their message already reached a terminal status.",
	})
	sweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ccn_processor_duplicates_swept_total",
		Help: "Pending rows removed by the high-water duplicate sweep.",
	})
	pendingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ccn_processor_pending_messages",
		Help: "Pending message rows awaiting processing.",
	})
	processingSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ccn_processor_processing_seconds",
		Help:    "Wall time of individual processing attempts.",
		Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60},
	})
)
