// Package processor drains the durable pending message queue. Each row walks
// the validation pipeline for its type and ends in exactly one of three
// places: the messages table, the rejected table, or back in the queue with a
// later attempt time. Broker wakeups provide latency, the periodic due-scan
// provides liveness, and the table itself is the only source of truth.
package processor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
	"golang.org/x/sync/semaphore"

	"github.com/aleph-im/go-ccn/ccn/db"
	"github.com/aleph-im/go-ccn/ccn/handlers"
	"github.com/aleph-im/go-ccn/ccn/mq"
	"github.com/aleph-im/go-ccn/ccn/storage"
	"github.com/aleph-im/go-ccn/types/message"
)

var log = logrus.WithField("prefix", "processor")

const (
	defaultMaxConcurrency  = 20
	defaultMaxRetries      = 10
	defaultBackoffBase     = 5 * time.Second
	defaultBackoffCap      = 5 * time.Minute
	defaultFetchTimeout    = 60 * time.Second
	defaultScanInterval    = 5 * time.Second
	defaultSeenIDsSize     = 10000
	defaultShutdownTimeout = 30 * time.Second

	messagePrefetch = 32

	// messageScanBatch bounds one due-scan over the durable queue.
	messageScanBatch = 256
)

// Verifier checks an envelope signature against the sender's chain scheme.
type Verifier interface {
	Verify(msg *message.Message) error
}

// Config bundles the dependencies and tuning knobs of the processor.
type Config struct {
	Store    db.Store
	Storage  *storage.Service
	Verifier Verifier
	Handlers *handlers.Registry

	// Consumer wakes the service on newly admitted messages. The service
	// still works without one, at scan latency.
	Consumer mq.Consumer
	Queue    string

	// Broker, when set, announces every processed message on
	// ProcessedExchange for downstream subscribers.
	Broker            mq.Broker
	ProcessedExchange string

	// MaxConcurrency bounds simultaneous processing across all types;
	// TypeConcurrency narrows it for individual types.
	MaxConcurrency  int
	TypeConcurrency map[string]int

	MaxRetries  int
	BackoffBase time.Duration
	BackoffCap  time.Duration

	FetchTimeout     time.Duration
	ScanInterval     time.Duration
	SeenIDsSize      int
	PendingHighWater int
	ShutdownTimeout  time.Duration
}

func (c *Config) concurrency(t message.MessageType) int64 {
	if n, ok := c.TypeConcurrency[string(t)]; ok && n > 0 {
		return int64(n)
	}
	return int64(c.MaxConcurrency)
}

// Service is the message processing engine.
type Service struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    *Config

	// seen remembers logical keys that reached a terminal status, so
	// broker redeliveries skip the database entirely.
	seen *lru.Cache

	// global caps workers across all types; sems narrow it per type.
	global *semaphore.Weighted

	lock     sync.Mutex
	sems     map[message.MessageType]*semaphore.Weighted
	inflight map[string]bool
	err      error

	wg sync.WaitGroup
}

// NewService initializes the processor.
func NewService(ctx context.Context, cfg *Config) (*Service, error) {
	if cfg.Store == nil || cfg.Storage == nil || cfg.Verifier == nil || cfg.Handlers == nil {
		return nil, errors.New("processor requires a store, storage, verifier and handlers")
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaultMaxConcurrency
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffCap < cfg.BackoffBase {
		cfg.BackoffCap = defaultBackoffCap
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = defaultScanInterval
	}
	if cfg.SeenIDsSize <= 0 {
		cfg.SeenIDsSize = defaultSeenIDsSize
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	seen, err := lru.New(cfg.SeenIDsSize)
	if err != nil {
		return nil, errors.Wrap(err, "could not create seen key cache")
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Service{
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		seen:     seen,
		global:   semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		sems:     make(map[message.MessageType]*semaphore.Weighted),
		inflight: make(map[string]bool),
	}, nil
}

// Start launches the processing loop.
func (s *Service) Start() {
	go s.run()
}

// Stop cancels the loop and waits for in-flight messages to settle, up to
// the shutdown timeout. Rows interrupted mid-flight stay pending and resume
// on the next start.
func (s *Service) Stop() error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownTimeout):
		log.Warn("Timed out waiting for in-flight messages")
	}
	return nil
}

// Status reports the consumer error, if any. The due-scan keeps the service
// functional while a broker subscription is down.
func (s *Service) Status() error {
	s.lock.Lock()
	defer s.lock.Unlock()
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
		d, err := s.cfg.Consumer.Consume(s.cfg.Queue, messagePrefetch)
		if err != nil {
			log.WithError(err).Error("Could not subscribe to pending message queue")
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
				s.setErr(errors.New("pending message subscription closed"))
				deliveries = nil
				continue
			}
			s.handleDelivery(d)
		case <-ticker.C:
			s.scanDue()
		case <-s.ctx.Done():
			return
		}
	}
}

// handleDelivery resolves a wakeup to its durable row and dispatches it.
// Deliveries are acked aggressively: the row and the due-scan are the safety
// net, not the broker.
func (s *Service) handleDelivery(d amqp.Delivery) {
	var key message.LogicalKey
	if err := json.Unmarshal(d.Body, &key); err != nil || key.ItemHash == "" {
		log.WithError(err).Warn("Dropping malformed message wakeup")
		s.ack(d)
		return
	}
	if s.seen.Contains(key.String()) {
		s.ack(d)
		return
	}
	pending, err := s.cfg.Store.GetPendingMessageByKey(s.ctx, key)
	if errors.Is(err, db.ErrNotFound) {
		// Already settled by an earlier attempt or swept as a duplicate.
		s.ack(d)
		return
	}
	if err != nil {
		log.WithError(err).Warn("Could not load pending message, requeueing wakeup")
		if err := d.Nack(false, true); err != nil {
			log.WithError(err).Debug("Could not nack delivery")
		}
		return
	}
	s.dispatch(pending)
	s.ack(d)
}

// ack is tolerant: a lost ack means at worst a redundant wakeup, which the
// seen cache or the pending table lookup absorbs.
func (s *Service) ack(d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		log.WithError(err).Debug("Could not ack delivery")
	}
}

// dispatch hands a row to a worker goroutine, bounded by the global ceiling
// and the type's semaphore. Rows already in flight are left to their worker.
func (s *Service) dispatch(pending *message.PendingMessage) {
	key := pending.Key().String()
	s.lock.Lock()
	if s.inflight[key] {
		s.lock.Unlock()
		return
	}
	s.inflight[key] = true
	sem := s.semFor(pending.Type)
	s.lock.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.lock.Lock()
			delete(s.inflight, key)
			s.lock.Unlock()
		}()
		if err := s.global.Acquire(s.ctx, 1); err != nil {
			return
		}
		defer s.global.Release(1)
		if err := sem.Acquire(s.ctx, 1); err != nil {
			return
		}
		defer sem.Release(1)
		s.processOne(s.ctx, pending)
	}()
}

func (s *Service) semFor(t message.MessageType) *semaphore.Weighted {
	sem, ok := s.sems[t]
	if !ok {
		sem = semaphore.NewWeighted(s.cfg.concurrency(t))
		s.sems[t] = sem
	}
	return sem
}
