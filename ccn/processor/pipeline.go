package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/aleph-im/go-ccn/ccn/db"
	"github.com/aleph-im/go-ccn/ccn/handlers"
	"github.com/aleph-im/go-ccn/ccn/storage"
	"github.com/aleph-im/go-ccn/types/files"
	"github.com/aleph-im/go-ccn/types/message"
)

// processOne runs a single attempt for a pending row and settles the outcome:
// processed, rejected, or rescheduled. Shutdown mid-attempt settles nothing;
// the row stays due and resumes on the next start.
func (s *Service) processOne(ctx context.Context, pending *message.PendingMessage) {
	started := time.Now()
	defer func() {
		processingSeconds.Observe(time.Since(started).Seconds())
	}()
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logrus.Fields{
				"itemHash": pending.ItemHash,
				"panic":    r,
			}).Error("Recovered from processing panic")
			s.reschedule(ctx, pending, errors.Errorf("panic: %v", r), string(debug.Stack()))
		}
	}()

	// The row may have been settled or swept by another worker between
	// dispatch and now; the durable table decides.
	row, err := s.cfg.Store.GetPendingMessageByKey(ctx, pending.Key())
	if errors.Is(err, db.ErrNotFound) {
		return
	}
	if err != nil {
		log.WithError(err).WithField("itemHash", pending.ItemHash).Error("Could not reload pending message")
		return
	}
	pending = row

	err = s.attempt(ctx, pending)
	if err == nil || ctx.Err() != nil {
		return
	}
	var rej *message.Rejection
	switch {
	case errors.As(err, &rej):
		s.reject(ctx, pending, rej, "")
	case errors.Is(err, storage.ErrContentUnavailable) || errors.Is(err, handlers.ErrRetryLater):
		s.reschedule(ctx, pending, err, "")
	default:
		log.WithError(err).WithField("itemHash", pending.ItemHash).Error("Unexpected processing failure")
		s.reschedule(ctx, pending, err, fmt.Sprintf("%+v", err))
	}
}

// attempt walks one pending message through the pipeline: duplicate check,
// content fetch, signature, schema, ownership, then the handler protocol with
// Validate and Commit inside one transaction. A returned *Rejection is
// permanent; every other error means try again later.
func (s *Service) attempt(ctx context.Context, pending *message.PendingMessage) error {
	status, err := s.cfg.Store.GetMessageStatus(ctx, pending.ItemHash)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return errors.Wrap(err, "could not load message status")
	}
	if err == nil && status.Status != message.StatusPending {
		return s.settleDuplicate(ctx, pending, status.Status)
	}

	raw, err := s.fetchContent(ctx, pending)
	if err != nil {
		return err
	}

	if pending.CheckMessage {
		if err := s.cfg.Verifier.Verify(&pending.Message); err != nil {
			return message.Reject(message.ErrCodeInvalidSignature, "%v", err)
		}
	}

	content, err := message.ParseContent(pending.Type, raw)
	if err != nil {
		return message.RejectWithDetails(message.ErrCodeContentValidationFailed,
			"content does not satisfy the schema",
			map[string]interface{}{"errors": []string{err.Error()}})
	}
	if owner := content.Owner(); owner != pending.Sender {
		return message.Reject(message.ErrCodePermissionDenied,
			"sender %s does not own content address %s", pending.Sender, owner)
	}

	handler, err := s.cfg.Handlers.For(pending.Type)
	if err != nil {
		return err
	}
	item := &handlers.Item{Message: &pending.Message, Content: content}
	if err := handler.FetchRelated(ctx, item); err != nil {
		return err
	}

	msg := pending.Message
	msg.Content = raw
	msg.Size = int64(len(raw))
	err = s.cfg.Store.RunInTx(ctx, func(ctx context.Context, store db.Store) error {
		if err := handler.Validate(ctx, store, item); err != nil {
			return err
		}
		if err := store.InsertMessage(ctx, &msg); err != nil {
			return errors.Wrap(err, "could not insert message")
		}
		if msg.ItemType != message.ItemTypeInline {
			if err := s.pinContent(ctx, store, pending, raw); err != nil {
				return err
			}
		}
		if err := store.SetMessageStatus(ctx, msg.ItemHash, message.StatusProcessed); err != nil {
			return errors.Wrap(err, "could not mark message processed")
		}
		if err := store.DeletePendingMessage(ctx, pending.ID); err != nil {
			return errors.Wrap(err, "could not delete pending message")
		}
		return handler.Commit(ctx, store, item)
	})
	if err != nil {
		return err
	}
	s.finish(pending, item, &msg)
	return nil
}

// fetchContent resolves the item content bytes. Inline and already-fetched
// rows are served from the envelope; everything else goes through storage and
// is persisted on the row so later retries skip the fetch.
func (s *Service) fetchContent(ctx context.Context, pending *message.PendingMessage) ([]byte, error) {
	if pending.ItemType == message.ItemTypeInline || pending.Fetched {
		return []byte(pending.ItemContent), nil
	}
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()
	content, err := s.cfg.Storage.Read(fetchCtx, pending.ItemHash)
	if errors.Is(err, storage.ErrInvalidContent) {
		return nil, message.Reject(message.ErrCodeContentHashMismatch, "%v", err)
	}
	if err != nil {
		return nil, err
	}
	if err := s.cfg.Store.MarkPendingMessageFetched(ctx, pending.ID, string(content)); err != nil {
		return nil, errors.Wrap(err, "could not persist fetched content")
	}
	pending.ItemContent = string(content)
	pending.Fetched = true
	return content, nil
}

// pinContent records non-inline item content as a stored file with a content
// pin, so the blob is tracked and garbage collected like any other file.
func (s *Service) pinContent(ctx context.Context, store db.Store, pending *message.PendingMessage, raw []byte) error {
	file := &files.StoredFile{
		Hash: pending.ItemHash,
		Type: files.FileTypeFile,
		Size: int64(len(raw)),
	}
	if err := store.UpsertStoredFile(ctx, file); err != nil {
		return errors.Wrap(err, "could not record content file")
	}
	pin := &files.FilePin{
		FileHash: pending.ItemHash,
		Type:     files.PinTypeContent,
		Owner:    pending.Sender,
		ItemHash: pending.ItemHash,
		Created:  pending.ReceptionTime,
	}
	if err := store.InsertFilePin(ctx, pin); err != nil {
		return errors.Wrap(err, "could not pin content file")
	}
	return nil
}

func (s *Service) finish(pending *message.PendingMessage, item *handlers.Item, msg *message.Message) {
	for _, hash := range item.GarbageFiles {
		if err := s.cfg.Storage.Delete(hash); err != nil {
			log.WithError(err).WithField("hash", hash).Warn("Could not delete unpinned blob")
		}
	}
	if s.cfg.Broker != nil {
		s.announce(msg)
	}
	s.seen.Add(pending.Key().String(), true)
	processedTotal.WithLabelValues(string(pending.Type)).Inc()
	log.WithFields(logrus.Fields{
		"itemHash": pending.ItemHash,
		"type":     pending.Type,
		"sender":   pending.Sender,
	}).Info("Processed message")
}

// announce publishes the settled message for downstream subscribers, keyed
// by type so consumers can bind to the slice they care about. Best effort;
// the message is already durable in the database.
func (s *Service) announce(msg *message.Message) {
	body, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := s.cfg.Broker.Publish(s.ctx, s.cfg.ProcessedExchange, string(msg.Type), body); err != nil {
		log.WithError(err).WithField("itemHash", msg.ItemHash).Warn("Could not announce processed message")
	}
}

// settleDuplicate clears a pending row whose message already reached a
// terminal status through another copy. The chain confirmation, if any, was
// recorded at admission.
func (s *Service) settleDuplicate(ctx context.Context, pending *message.PendingMessage, status message.Status) error {
	if err := s.cfg.Store.DeletePendingMessage(ctx, pending.ID); err != nil && !errors.Is(err, db.ErrNotFound) {
		return errors.Wrap(err, "could not delete duplicate pending message")
	}
	s.seen.Add(pending.Key().String(), true)
	duplicatesSkippedTotal.Inc()
	log.WithFields(logrus.Fields{
		"itemHash": pending.ItemHash,
		"status":   status,
	}).Debug("Pending message already settled")
	return nil
}

// reject records a permanent refusal: the raw envelope and the reason go to
// the rejected table, the status flips and the pending row is cleared, all in
// one transaction. A message settled by another copy keeps its outcome.
func (s *Service) reject(ctx context.Context, pending *message.PendingMessage, rej *message.Rejection, traceback string) {
	envelope, err := json.Marshal(&pending.Message)
	if err != nil {
		envelope = []byte("{}")
	}
	settled := false
	err = s.cfg.Store.RunInTx(ctx, func(ctx context.Context, store db.Store) error {
		status, err := store.GetMessageStatus(ctx, pending.ItemHash)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return err
		}
		if err == nil && status.Status != message.StatusPending {
			settled = true
			return store.DeletePendingMessage(ctx, pending.ID)
		}
		rejected := &message.RejectedMessage{
			ItemHash:  pending.ItemHash,
			Message:   envelope,
			ErrorCode: rej.Code,
			Details:   rej.DetailMap(),
			Traceback: traceback,
		}
		if err := store.UpsertRejectedMessage(ctx, rejected); err != nil {
			return err
		}
		if err := store.SetMessageStatus(ctx, pending.ItemHash, message.StatusRejected); err != nil {
			return err
		}
		return store.DeletePendingMessage(ctx, pending.ID)
	})
	if err != nil {
		log.WithError(err).WithField("itemHash", pending.ItemHash).Error("Could not record rejection")
		return
	}
	s.seen.Add(pending.Key().String(), true)
	if settled {
		duplicatesSkippedTotal.Inc()
		return
	}
	rejectedTotal.WithLabelValues(string(rej.Code)).Inc()
	log.WithFields(logrus.Fields{
		"itemHash": pending.ItemHash,
		"code":     rej.Code,
		"reason":   rej.Reason,
	}).Warn("Rejected message")
}
