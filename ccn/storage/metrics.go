package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	sourceCache = "cache"
	sourceLocal = "local"
	sourceIPFS  = "ipfs"

	resultOK          = "ok"
	resultUnavailable = "unavailable"
	resultInvalid     = "invalid"
	resultFailed      = "failed"
)

var (
	readsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ccn_storage_reads_total",
		Help: "Content reads by source and outcome.",
	}, []string{"source", "result"})
	pinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ccn_storage_pins_total",
		Help: "Background IPFS pin attempts by outcome.",
	}, []string{"result"})
)
