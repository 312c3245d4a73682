package handlers

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/aleph-im/go-ccn/ccn/db"
	"github.com/aleph-im/go-ccn/types/message"
)

// ForgetHandler clears previously processed messages on request of their
// owner. A forgotten target loses its messages row, its derived state and its
// file pins; only a tombstone recording the envelope fields survives. Forget
// messages themselves may never be forgotten.
type ForgetHandler struct {
	noFetch
	registry *Registry
}

func (h *ForgetHandler) Validate(ctx context.Context, store db.Store, item *Item) error {
	content := item.Content.(*message.ForgetContent)
	for _, hash := range content.Hashes {
		if hash == item.Message.ItemHash {
			return message.Reject(message.ErrCodeContentValidationFailed,
				"forget message %s cannot target itself", hash)
		}
		if err := h.validateTarget(ctx, store, item, hash); err != nil {
			return err
		}
	}
	return nil
}

func (h *ForgetHandler) validateTarget(ctx context.Context, store db.Store, item *Item, targetHash string) error {
	status, err := store.GetMessageStatus(ctx, targetHash)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "could not load target status")
	}

	switch status.Status {
	case message.StatusPending:
		// The target may still become processed; retrying keeps forgets
		// that raced their target working.
		return errors.Wrapf(ErrRetryLater, "forget target %s is still pending", targetHash)

	case message.StatusProcessed:
		target, err := store.GetMessage(ctx, targetHash)
		if err != nil {
			return errors.Wrap(err, "could not load forget target")
		}
		if target.Type == message.ForgetType {
			return nil
		}
		return h.authorize(item, targetHash, target.Sender, targetOwner(target))

	case message.StatusForgotten:
		tombstone, err := store.GetForgottenMessage(ctx, targetHash)
		if err != nil {
			return errors.Wrap(err, "could not load tombstone")
		}
		return h.authorize(item, targetHash, tombstone.Sender, "")
	}
	return nil
}

// authorize accepts a forget whose sender signed the target or owns its
// content. One unauthorized target rejects the whole forget message.
func (h *ForgetHandler) authorize(item *Item, targetHash, targetSender, targetOwner string) error {
	sender := item.Message.Sender
	if sender == targetSender || (targetOwner != "" && sender == targetOwner) {
		return nil
	}
	return message.Reject(message.ErrCodePermissionDenied,
		"%s may not forget %s", sender, targetHash)
}

func (h *ForgetHandler) Commit(ctx context.Context, store db.Store, item *Item) error {
	content := item.Content.(*message.ForgetContent)
	for _, hash := range content.Hashes {
		if err := h.forgetTarget(ctx, store, item, hash); err != nil {
			return err
		}
	}
	for _, key := range content.Aggregates {
		elements, err := store.GetAggregateElements(ctx, key, content.Address)
		if err != nil {
			return errors.Wrap(err, "could not list aggregate elements")
		}
		for _, element := range elements {
			if err := h.forgetTarget(ctx, store, item, element.ItemHash); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *ForgetHandler) forgetTarget(ctx context.Context, store db.Store, item *Item, targetHash string) error {
	status, err := store.GetMessageStatus(ctx, targetHash)
	if errors.Is(err, db.ErrNotFound) {
		log.WithField("target", targetHash).Debug("Forget target was never seen, skipping")
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "could not load target status")
	}

	switch status.Status {
	case message.StatusProcessed:
		return h.tearDown(ctx, store, item, targetHash)
	case message.StatusForgotten:
		return store.AppendForgottenBy(ctx, targetHash, item.Message.ItemHash)
	default:
		log.WithFields(logrus.Fields{
			"target": targetHash,
			"status": status.Status,
		}).Debug("Forget target not processed, skipping")
		return nil
	}
}

// tearDown removes a processed target: pins first so file tags recompute
// without them, then the type's derived rows, then the message itself.
func (h *ForgetHandler) tearDown(ctx context.Context, store db.Store, item *Item, targetHash string) error {
	target, err := store.GetMessage(ctx, targetHash)
	if err != nil {
		return errors.Wrap(err, "could not load forget target")
	}
	if target.Type == message.ForgetType {
		log.WithField("target", targetHash).Warn("Forget messages cannot be forgotten, skipping")
		return nil
	}
	if err := store.SetMessageStatus(ctx, targetHash, message.StatusRemoving); err != nil {
		return errors.Wrap(err, "could not mark target removing")
	}

	freed, err := store.DeleteFilePinsByItem(ctx, targetHash)
	if err != nil {
		return errors.Wrap(err, "could not delete file pins")
	}
	for _, fileHash := range freed {
		count, err := store.CountFilePins(ctx, fileHash)
		if err != nil {
			return errors.Wrap(err, "could not count file pins")
		}
		if count > 0 {
			continue
		}
		if err := store.DeleteStoredFile(ctx, fileHash); err != nil && !errors.Is(err, db.ErrNotFound) {
			return errors.Wrap(err, "could not delete stored file")
		}
		item.GarbageFiles = append(item.GarbageFiles, fileHash)
	}

	if err := h.forgetContent(ctx, store, target); err != nil {
		return err
	}
	if err := store.DeleteMessage(ctx, targetHash); err != nil {
		return errors.Wrap(err, "could not delete message")
	}
	tombstone := &message.ForgottenMessage{
		ItemHash:    target.ItemHash,
		Type:        target.Type,
		Chain:       target.Chain,
		Sender:      target.Sender,
		Signature:   target.Signature,
		ItemType:    target.ItemType,
		Time:        target.Time,
		Channel:     target.Channel,
		ForgottenBy: []string{item.Message.ItemHash},
	}
	if err := store.InsertForgottenMessage(ctx, tombstone); err != nil {
		return errors.Wrap(err, "could not insert tombstone")
	}
	return store.SetMessageStatus(ctx, targetHash, message.StatusForgotten)
}

// forgetContent dispatches the target's type handler to drop derived rows.
func (h *ForgetHandler) forgetContent(ctx context.Context, store db.Store, target *message.Message) error {
	raw := target.Content
	if len(raw) == 0 {
		raw = []byte(target.ItemContent)
	}
	content, err := message.ParseContent(target.Type, raw)
	if err != nil {
		log.WithError(err).WithField("target", target.ItemHash).
			Warn("Could not reparse target content, dropping envelope only")
		return nil
	}
	handler, err := h.registry.For(target.Type)
	if err != nil {
		return err
	}
	return handler.Forget(ctx, store, target, content)
}

// Forget on a forget message never runs: targets of that type are skipped.
func (h *ForgetHandler) Forget(ctx context.Context, store db.Store, msg *message.Message, content message.Content) error {
	log.WithField("hash", msg.ItemHash).Warn("Refusing to tear down a forget message")
	return nil
}

func targetOwner(target *message.Message) string {
	raw := target.Content
	if len(raw) == 0 {
		raw = []byte(target.ItemContent)
	}
	content, err := message.ParseContent(target.Type, raw)
	if err != nil {
		return ""
	}
	return content.Owner()
}
