package handlers

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/aleph-im/go-ccn/ccn/db"
	"github.com/aleph-im/go-ccn/ccn/storage"
	"github.com/aleph-im/go-ccn/types/files"
	"github.com/aleph-im/go-ccn/types/message"
)

// StoreHandler pins the files announced by store messages. The referenced
// content is sized before validation so quota checks and the stored_files row
// see the real size; IPFS content is additionally pinned on the daemon.
type StoreHandler struct {
	storage *storage.Service
	quota   int64
}

func (h *StoreHandler) FetchRelated(ctx context.Context, item *Item) error {
	content := item.Content.(*message.StoreContent)
	info, err := h.storage.Stat(ctx, content.ItemHash)
	if err != nil {
		return errors.Wrapf(err, "could not stat store content %s", content.ItemHash)
	}
	item.StoredFile = &files.StoredFile{
		Hash: content.ItemHash,
		Type: info.Type,
		Size: info.Size,
	}
	if content.ItemType == message.ItemTypeIPFS {
		h.storage.PinAsync(content.ItemHash)
	}
	return nil
}

func (h *StoreHandler) Validate(ctx context.Context, store db.Store, item *Item) error {
	if h.quota <= 0 {
		return nil
	}
	content := item.Content.(*message.StoreContent)
	used, err := store.TotalPinnedSize(ctx, content.Address)
	if err != nil {
		return errors.Wrap(err, "could not compute pinned size")
	}
	if used+item.StoredFile.Size > h.quota {
		return message.Reject(message.ErrCodePermissionDenied,
			"%s exceeds its storage quota: %d + %d > %d bytes",
			content.Address, used, item.StoredFile.Size, h.quota)
	}
	return nil
}

func (h *StoreHandler) Commit(ctx context.Context, store db.Store, item *Item) error {
	content := item.Content.(*message.StoreContent)
	if err := store.UpsertStoredFile(ctx, item.StoredFile); err != nil {
		return errors.Wrap(err, "could not upsert stored file")
	}
	created := message.EpochTime(content.Time)
	pin := &files.FilePin{
		FileHash: content.ItemHash,
		Type:     files.PinTypeMessage,
		Owner:    content.Address,
		ItemHash: item.Message.ItemHash,
		Ref:      content.Ref,
		Created:  created,
	}
	if err := store.InsertFilePin(ctx, pin); err != nil {
		return errors.Wrap(err, "could not insert file pin")
	}
	return h.updateTag(ctx, store, content, item.Message.ItemHash, created)
}

// updateTag points the message's tag at the new content. A tag belongs to the
// address that created it and only moves forward in time, so stale replays
// and foreign uploads leave it untouched.
func (h *StoreHandler) updateTag(ctx context.Context, store db.Store, content *message.StoreContent, itemHash string, created time.Time) error {
	tag := itemHash
	if content.Ref != nil {
		tag = *content.Ref
	}
	existing, err := store.GetFileTag(ctx, tag)
	switch {
	case errors.Is(err, db.ErrNotFound):
	case err != nil:
		return errors.Wrap(err, "could not load file tag")
	case existing.Owner != content.Address:
		log.WithFields(logrus.Fields{
			"tag":    tag,
			"owner":  existing.Owner,
			"sender": content.Address,
		}).Warn("Tag belongs to another address, not updating")
		return nil
	case !created.After(existing.Updated):
		return nil
	}
	return store.UpsertFileTag(ctx, &files.FileTag{
		Tag:      tag,
		Owner:    content.Address,
		FileHash: content.ItemHash,
		Updated:  created,
	})
}

func (h *StoreHandler) Forget(ctx context.Context, store db.Store, msg *message.Message, content message.Content) error {
	c := content.(*message.StoreContent)
	tag := msg.ItemHash
	if c.Ref != nil {
		tag = *c.Ref
	}
	return store.RefreshFileTag(ctx, tag)
}
