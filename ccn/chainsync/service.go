package chainsync

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/aleph-im/go-ccn/ccn/db"
	"github.com/aleph-im/go-ccn/ccn/mq"
	"github.com/aleph-im/go-ccn/ccn/publisher"
	synctypes "github.com/aleph-im/go-ccn/types/chainsync"
	"github.com/aleph-im/go-ccn/types/message"
)

const (
	defaultScanInterval = 5 * time.Second
	defaultSeenIDsSize  = 10000

	// txPrefetch keeps a small delivery buffer; expansion is sequential and
	// the heavy lifting happens in the message pipeline anyway.
	txPrefetch = 8

	// txScanBatch bounds one safety-net sweep of the durable queue.
	txScanBatch = 256
)

// Admitter is the slice of the admission gate tx expansion feeds into.
type Admitter interface {
	AddPendingMessage(ctx context.Context, raw []byte, src publisher.Source) (*message.PendingMessage, error)
}

// Config bundles the dependencies of the pending tx service.
type Config struct {
	Store     db.Store
	ChainData *ChainData
	Admitter  Admitter

	// Consumer wakes the service on newly recorded transactions. The
	// service still works without one, at scan latency.
	Consumer mq.Consumer
	Queue    string

	ScanInterval time.Duration
	SeenIDsSize  int
}

// Service drains the durable pending tx queue: each recorded transaction is
// expanded into its message candidates and handed to the admitter, then the
// marker row is deleted. Broker deliveries give low latency; a periodic scan
// of the table guarantees progress when wakeups are lost.
type Service struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    *Config
	seen   *lru.Cache

	lock sync.RWMutex
	err  error
}

// NewService initializes the pending tx expansion service.
func NewService(ctx context.Context, cfg *Config) (*Service, error) {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = defaultScanInterval
	}
	if cfg.SeenIDsSize <= 0 {
		cfg.SeenIDsSize = defaultSeenIDsSize
	}
	seen, err := lru.New(cfg.SeenIDsSize)
	if err != nil {
		return nil, errors.Wrap(err, "could not create seen archive cache")
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Service{
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
		seen:   seen,
	}, nil
}

// Start launches the expansion loop.
func (s *Service) Start() {
	go s.run()
}

// Stop halts the service.
func (s *Service) Stop() error {
	s.cancel()
	return nil
}

// Status reports the consumer error, if any. The scan loop keeps the service
// functional while a broker subscription is down.
func (s *Service) Status() error {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.err
}

func (s *Service) setErr(err error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.err = err
}

func (s *Service) run() {
	var deliveries <-chan amqp.Delivery
	if s.cfg.Consumer != nil {
		d, err := s.cfg.Consumer.Consume(s.cfg.Queue, txPrefetch)
		if err != nil {
			log.WithError(err).Error("Could not subscribe to pending tx queue")
			s.setErr(err)
		} else {
			deliveries = d
		}
	}

	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				// Connection gone. The scan below keeps draining the
				// durable queue until the process is restarted.
				s.setErr(errors.New("pending tx subscription closed"))
				deliveries = nil
				continue
			}
			s.handleDelivery(d)
		case <-ticker.C:
			s.scanPendingTxs()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Service) handleDelivery(d amqp.Delivery) {
	var pending synctypes.PendingTx
	if err := json.Unmarshal(d.Body, &pending); err != nil {
		log.WithError(err).Warn("Dropping malformed pending tx wakeup")
		if err := d.Ack(false); err != nil {
			log.WithError(err).Debug("Could not ack delivery")
		}
		return
	}
	if retry := s.handlePendingTx(s.ctx, pending.TxHash); retry {
		if err := d.Nack(false, true); err != nil {
			log.WithError(err).Debug("Could not nack delivery")
		}
		return
	}
	if err := d.Ack(false); err != nil {
		log.WithError(err).Debug("Could not ack delivery")
	}
}

// handlePendingTx expands one recorded transaction. It reports whether the
// caller should retry later: the marker row is deleted exactly when the
// returned retry is false and the tx was still pending.
func (s *Service) handlePendingTx(ctx context.Context, txHash string) (retry bool) {
	tx, err := s.cfg.Store.GetPendingTx(ctx, txHash)
	if errors.Is(err, db.ErrNotFound) {
		// Another worker or an earlier scan already expanded it.
		log.WithField("txHash", txHash).Debug("Pending tx already handled")
		txsExpandedTotal.WithLabelValues("", resultMissing).Inc()
		return false
	}
	if err != nil {
		log.WithError(err).WithField("txHash", txHash).Error("Could not load pending tx")
		return true
	}

	msgs, err := s.cfg.ChainData.GetTxMessages(ctx, tx, s.seen)
	switch {
	case errors.Is(err, ErrContentUnavailable):
		// The archive may still propagate; keep the row and try again.
		log.WithError(err).WithField("txHash", txHash).Warn("Tx content not available yet")
		txsExpandedTotal.WithLabelValues(string(tx.Chain), resultUnavailable).Inc()
		return true
	case errors.Is(err, ErrInvalidContent):
		// Garbage on chain stays garbage. Drop the tx, keep the record.
		log.WithError(err).WithField("txHash", txHash).Warn("Discarding tx with invalid content")
		txsExpandedTotal.WithLabelValues(string(tx.Chain), resultInvalid).Inc()
		msgs = nil
	case err != nil:
		log.WithError(err).WithField("txHash", txHash).Error("Could not expand pending tx")
		txsExpandedTotal.WithLabelValues(string(tx.Chain), resultFailed).Inc()
		return true
	}

	// Smart contract events are synthesized by this node and carry no user
	// signature, so signature checks are waived for them only.
	src := publisher.ChainSource(tx, tx.Protocol != synctypes.SmartContract)
	admitted := 0
	for _, raw := range msgs {
		if _, err := s.cfg.Admitter.AddPendingMessage(ctx, raw, src); err != nil {
			var rej *message.Rejection
			if errors.As(err, &rej) {
				// Recorded as rejected; nothing left to do for this one.
				log.WithFields(logrus.Fields{
					"txHash": txHash,
					"reason": rej.Reason,
				}).Debug("Tx message candidate rejected")
				continue
			}
			log.WithError(err).WithField("txHash", txHash).Error("Could not admit tx message")
			return true
		}
		admitted++
	}

	if err := s.cfg.Store.DeletePendingTx(ctx, txHash); err != nil && !errors.Is(err, db.ErrNotFound) {
		log.WithError(err).WithField("txHash", txHash).Error("Could not delete pending tx")
		return true
	}
	txMessagesTotal.Add(float64(admitted))
	if msgs != nil {
		txsExpandedTotal.WithLabelValues(string(tx.Chain), resultExpanded).Inc()
		log.WithFields(logrus.Fields{
			"txHash":   txHash,
			"chain":    tx.Chain,
			"height":   tx.Height,
			"messages": admitted,
		}).Info("Expanded chain tx")
	}
	return false
}

// scanPendingTxs walks the durable queue directly. Rows normally disappear
// through broker deliveries before a scan sees them; whatever is left here
// was lost in transit or failed on an earlier attempt.
func (s *Service) scanPendingTxs() {
	n, err := s.cfg.Store.CountPendingTxs(s.ctx)
	if err == nil {
		pendingTxsGauge.Set(float64(n))
	}
	hashes, err := s.cfg.Store.ListPendingTxs(s.ctx, txScanBatch)
	if err != nil {
		log.WithError(err).Error("Could not list pending txs")
		return
	}
	for _, h := range hashes {
		if s.ctx.Err() != nil {
			return
		}
		s.handlePendingTx(s.ctx, h)
	}
}
