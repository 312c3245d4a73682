package chainsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultExpanded    = "expanded"
	resultInvalid     = "invalid"
	resultUnavailable = "unavailable"
	resultMissing     = "missing"
	resultFailed      = "failed"
)

var (
	txsExpandedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ccn_chainsync_txs_expanded_total",
		Help: "Pending transaction expansions by chain and outcome.",
	}, []string{"chain", "result"})
	txMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ccn_chainsync_tx_messages_total",
		Help: "Message candidates admitted out of sync transactions.",
	})
	pendingTxsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ccn_chainsync_pending_txs",
		Help: "Transactions currently awaiting expansion.",
	})
)
