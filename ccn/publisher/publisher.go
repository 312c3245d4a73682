// Package publisher is the admission gate: every message and chain
// transaction enters the node through it, whatever the ingress path. It
// enforces the envelope rules, deduplicates on the logical key and fans
// admitted work out to the broker.
package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/aleph-im/go-ccn/ccn/db"
	"github.com/aleph-im/go-ccn/ccn/mq"
	"github.com/aleph-im/go-ccn/types/chainsync"
	"github.com/aleph-im/go-ccn/types/message"
)

var log = logrus.WithField("prefix", "publisher")

// Config names the exchanges admitted work is announced on.
type Config struct {
	PendingTxExchange      string
	PendingMessageExchange string
}

// Source describes the ingress path of a message: where it came from and
// how it relates to a chain transaction, if any.
type Source struct {
	Origin       message.Origin
	CheckMessage bool
	// Reception overrides the admission clock; zero means now.
	Reception time.Time

	// TxHash, SourceChain and SourceHeight are set for chain-synced copies
	// and make each confirmed sighting its own logical key.
	TxHash       string
	SourceChain  message.Chain
	SourceHeight int64
}

// P2PSource is the ingress of messages gossiped by peers.
func P2PSource() Source {
	return Source{Origin: message.OriginP2P, CheckMessage: true, SourceHeight: -1}
}

// APISource is the ingress of messages submitted directly to this node.
func APISource() Source {
	return Source{Origin: message.OriginAPI, CheckMessage: true, SourceHeight: -1}
}

// ChainSource is the ingress of messages expanded from a sync transaction.
// checkMessage is false only for messages synthesized by the node itself,
// such as smart contract store events.
func ChainSource(tx *chainsync.ChainTx, checkMessage bool) Source {
	return Source{
		Origin:       message.OriginOnChain,
		CheckMessage: checkMessage,
		TxHash:       tx.Hash,
		SourceChain:  tx.Chain,
		SourceHeight: tx.Height,
	}
}

// Publisher admits messages and transactions into the durable queues.
type Publisher struct {
	cfg    *Config
	store  db.Store
	broker mq.Broker
}

// New builds the admission gate.
func New(cfg *Config, store db.Store, broker mq.Broker) *Publisher {
	return &Publisher{cfg: cfg, store: store, broker: broker}
}

// AddPendingMessage admits a raw message envelope and returns the durable
// pending row recording it. Parsing keeps only the authorized envelope
// fields; anything else a peer smuggled in is dropped.
//
// Admission keeps one pending row per (item_hash, sender): replays and
// chain-synced copies of an already-pending message return the original row,
// reception time and all, and publish nothing. A chain copy still records
// its confirmation before deduplicating.
//
// A malformed envelope is recorded as rejected when its item hash is
// recoverable, and the returned error unwraps to a message.Rejection.
func (p *Publisher) AddPendingMessage(ctx context.Context, raw []byte, src Source) (*message.PendingMessage, error) {
	now := src.Reception
	if now.IsZero() {
		now = time.Now().UTC()
	}

	msg := &message.Message{}
	if err := json.Unmarshal(raw, msg); err != nil {
		rej := message.Reject(message.ErrCodeInvalidFormat, "malformed message json: %v", err)
		return nil, p.reject(ctx, src, probeItemHash(raw, ""), raw, now, rej)
	}
	if err := msg.ValidateEnvelope(); err != nil {
		rej := message.Reject(message.ErrCodeInvalidFormat, "%v", err)
		return nil, p.reject(ctx, src, probeItemHash(raw, msg.ItemHash), raw, now, rej)
	}
	// Content, size and confirmations are derived by this node, never
	// taken from the wire.
	msg.Content = nil
	msg.Size = 0
	msg.Confirmations = nil

	pending := &message.PendingMessage{
		Message:       *msg,
		ReceptionTime: now,
		NextAttempt:   nextAttempt(msg, now),
		Fetched:       msg.ItemType == message.ItemTypeInline,
		CheckMessage:  src.CheckMessage,
		Origin:        src.Origin,
		TxHash:        src.TxHash,
		SourceChain:   src.SourceChain,
		SourceHeight:  src.SourceHeight,
	}

	var existing *message.PendingMessage
	err := p.store.RunInTx(ctx, func(ctx context.Context, s db.Store) error {
		if err := s.EnsureMessageStatus(ctx, msg.ItemHash, message.StatusPending, now); err != nil {
			return err
		}
		if src.TxHash != "" {
			if err := s.UpsertMessageConfirmation(ctx, msg.ItemHash, src.TxHash); err != nil {
				return err
			}
		}
		// One pending row per (item_hash, sender), whichever ingress saw
		// it first. The confirmation above still records every tx.
		found, err := s.GetPendingMessageByPair(ctx, msg.ItemHash, msg.Sender)
		if err == nil {
			existing = found
			return nil
		}
		if !errors.Is(err, db.ErrNotFound) {
			return err
		}
		id, err := s.InsertPendingMessage(ctx, pending)
		if err != nil {
			return err
		}
		pending.ID = id
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not admit pending message")
	}
	if existing != nil {
		admissionsTotal.WithLabelValues(string(src.Origin), resultDuplicate).Inc()
		return existing, nil
	}
	admissionsTotal.WithLabelValues(string(src.Origin), resultAdmitted).Inc()

	// The wakeup carries the logical key only; consumers reload the durable
	// row before doing anything with it.
	body, err := json.Marshal(pending.Key())
	if err != nil {
		return nil, errors.Wrap(err, "could not encode admitted message key")
	}
	if err := p.broker.Publish(ctx, p.cfg.PendingMessageExchange, string(msg.Type), body); err != nil {
		// The durable row is committed; the scheduler scan picks it up
		// even when the wakeup is lost.
		log.WithError(err).WithField("itemHash", msg.ItemHash).Warn("Could not announce pending message")
	}
	return pending, nil
}

// AddPendingTx records a sync transaction and marks it for expansion. Like
// message admission, replays of an already-recorded tx are harmless.
func (p *Publisher) AddPendingTx(ctx context.Context, tx *chainsync.ChainTx) error {
	err := p.store.RunInTx(ctx, func(ctx context.Context, s db.Store) error {
		if err := s.UpsertChainTx(ctx, tx); err != nil {
			return err
		}
		return s.AddPendingTx(ctx, tx.Hash)
	})
	if err != nil {
		return errors.Wrap(err, "could not record pending tx")
	}
	txsTotal.WithLabelValues(string(tx.Chain)).Inc()

	body, err := json.Marshal(chainsync.PendingTx{TxHash: tx.Hash})
	if err != nil {
		return errors.Wrap(err, "could not encode pending tx")
	}
	if err := p.broker.Publish(ctx, p.cfg.PendingTxExchange, string(tx.Chain), body); err != nil {
		log.WithError(err).WithField("txHash", tx.Hash).Warn("Could not announce pending tx")
	}
	return nil
}

// reject records a permanently refused envelope and keeps terminal statuses
// stable: a hash that already reached processed or rejected is left alone.
func (p *Publisher) reject(ctx context.Context, src Source, itemHash string, raw []byte, now time.Time, rej *message.Rejection) error {
	admissionsTotal.WithLabelValues(string(src.Origin), resultRejected).Inc()
	if itemHash == "" {
		log.WithField("reason", rej.Reason).Warn("Dropping unidentifiable message")
		return rej
	}
	err := p.store.RunInTx(ctx, func(ctx context.Context, s db.Store) error {
		if err := s.EnsureMessageStatus(ctx, itemHash, message.StatusPending, now); err != nil {
			return err
		}
		row, err := s.GetMessageStatus(ctx, itemHash)
		if err != nil {
			return err
		}
		if row.Status != message.StatusPending {
			return nil
		}
		if err := s.SetMessageStatus(ctx, itemHash, message.StatusRejected); err != nil {
			return err
		}
		return s.UpsertRejectedMessage(ctx, &message.RejectedMessage{
			ItemHash:  itemHash,
			Message:   json.RawMessage(raw),
			ErrorCode: rej.Code,
			Details:   rej.DetailMap(),
		})
	})
	if err != nil {
		return errors.Wrap(err, "could not record rejection")
	}
	return rej
}

// probeItemHash pulls item_hash out of an otherwise unusable payload so the
// rejection can still be recorded against it.
func probeItemHash(raw []byte, fallback string) string {
	if fallback != "" {
		return fallback
	}
	var probe struct {
		ItemHash string `json:"item_hash"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.ItemHash
}

// nextAttempt schedules the first processing attempt. Backdating to the
// message time keeps chain-sync backlogs ordered by their original clock.
func nextAttempt(msg *message.Message, now time.Time) time.Time {
	if t := msg.TimeAsTime(); t.Before(now) {
		return t
	}
	return now
}
