package processor

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/aleph-im/go-ccn/ccn/db"
	"github.com/aleph-im/go-ccn/types/message"
)

// reschedule pushes a pending row to a later attempt with exponential
// backoff, or gives up and rejects once the retry budget is spent.
func (s *Service) reschedule(ctx context.Context, pending *message.PendingMessage, cause error, traceback string) {
	retries := pending.Retries + 1
	if retries > s.cfg.MaxRetries {
		rej := message.Reject(message.ErrCodeRetriesExceeded,
			"gave up after %d attempts: %v", retries, cause)
		s.reject(ctx, pending, rej, traceback)
		return
	}
	delay := backoffDelay(s.cfg.BackoffBase, s.cfg.BackoffCap, retries)
	next := time.Now().UTC().Add(delay)
	if err := s.cfg.Store.ReschedulePendingMessage(ctx, pending.ID, retries, next); err != nil {
		// A missing row was settled or swept concurrently; anything else
		// leaves the row due and the next scan retries immediately.
		if !errors.Is(err, db.ErrNotFound) {
			log.WithError(err).WithField("itemHash", pending.ItemHash).Error("Could not reschedule message")
		}
		return
	}
	retriedTotal.Inc()
	log.WithFields(logrus.Fields{
		"itemHash": pending.ItemHash,
		"retries":  retries,
		"delay":    delay,
	}).Debug("Rescheduled message")
}

// backoffDelay is base doubled per retry, capped at ceil. Randomization is
// off so the delay is a pure function of the persisted retry counter and
// survives process restarts.
func backoffDelay(base, ceil time.Duration, retries int) time.Duration {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = base
	policy.RandomizationFactor = 0
	policy.Multiplier = 2
	policy.MaxInterval = ceil
	policy.MaxElapsedTime = 0
	policy.Reset()

	d := policy.NextBackOff()
	for i := 1; i < retries; i++ {
		d = policy.NextBackOff()
	}
	return d
}

// scanDue walks the durable queue for rows whose next attempt has arrived.
// Rows normally move through broker wakeups; the scan catches lost wakeups,
// backoff expirations and whatever was pending when the process last stopped.
// When the queue grows past the high-water mark it also sheds rows that exist
// at a lower source height than another copy of the same message.
func (s *Service) scanDue() {
	n, err := s.cfg.Store.CountPendingMessages(s.ctx)
	if err != nil {
		log.WithError(err).Error("Could not count pending messages")
		return
	}
	pendingGauge.Set(float64(n))

	if s.cfg.PendingHighWater > 0 && n > s.cfg.PendingHighWater {
		swept, err := s.cfg.Store.SweepDuplicatePendingMessages(s.ctx)
		if err != nil {
			log.WithError(err).Error("Could not sweep duplicate pending messages")
		} else if swept > 0 {
			sweptTotal.Add(float64(swept))
			log.WithFields(logrus.Fields{
				"swept":   swept,
				"pending": n,
			}).Info("Swept duplicate pending messages")
		}
	}

	due, err := s.cfg.Store.ListDuePendingMessages(s.ctx, time.Now().UTC(), messageScanBatch)
	if err != nil {
		log.WithError(err).Error("Could not list due pending messages")
		return
	}
	for _, pending := range due {
		if s.ctx.Err() != nil {
			return
		}
		if s.seen.Contains(pending.Key().String()) {
			continue
		}
		s.dispatch(pending)
	}
}
