package publisher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultAdmitted  = "admitted"
	resultDuplicate = "duplicate"
	resultRejected  = "rejected"
)

var (
	admissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ccn_publisher_admissions_total",
		Help: "Message admission attempts by origin and outcome.",
	}, []string{"origin", "result"})
	txsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ccn_publisher_pending_txs_total",
		Help: "Sync transactions recorded for expansion, by chain.",
	}, []string{"chain"})
)
