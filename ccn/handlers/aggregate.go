package handlers

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/aleph-im/go-ccn/ccn/db"
	"github.com/aleph-im/go-ccn/types/message"
)

// AggregateHandler maintains the merged view of keyed aggregates. Elements
// sharing (key, owner) overlay each other in content-time order; an element
// arriving out of order forces a full recompute of the view.
type AggregateHandler struct {
	noFetch
}

func (h *AggregateHandler) Validate(ctx context.Context, store db.Store, item *Item) error {
	content := item.Content.(*message.AggregateContent)
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(content.Content, &probe); err != nil || probe == nil {
		return message.Reject(message.ErrCodeContentValidationFailed,
			"aggregate content must be a JSON object")
	}
	return nil
}

func (h *AggregateHandler) Commit(ctx context.Context, store db.Store, item *Item) error {
	content := item.Content.(*message.AggregateContent)
	element := &db.AggregateElement{
		ItemHash:         item.Message.ItemHash,
		Key:              content.Key,
		Owner:            content.Address,
		Content:          content.Content,
		CreationDatetime: message.EpochTime(content.Time),
	}
	if err := store.InsertAggregateElement(ctx, element); err != nil {
		return errors.Wrap(err, "could not insert aggregate element")
	}

	elements, err := store.GetAggregateElements(ctx, content.Key, content.Address)
	if err != nil {
		return errors.Wrap(err, "could not list aggregate elements")
	}
	if elements[len(elements)-1].ItemHash != element.ItemHash {
		// The new element lands in the middle of the timeline, so the
		// incremental view is stale. Mark it and recompute from scratch.
		if err := h.markDirty(ctx, store, content.Key, content.Address); err != nil {
			return err
		}
		return h.refreshAggregate(ctx, store, content.Key, content.Address, elements)
	}

	existing, err := store.GetAggregate(ctx, content.Key, content.Address)
	switch {
	case errors.Is(err, db.ErrNotFound):
		return store.UpsertAggregate(ctx, &db.Aggregate{
			Key:              content.Key,
			Owner:            content.Address,
			Content:          content.Content,
			CreationDatetime: element.CreationDatetime,
			LastRevisionHash: element.ItemHash,
		})
	case err != nil:
		return errors.Wrap(err, "could not load aggregate")
	case existing.Dirty:
		return h.refreshAggregate(ctx, store, content.Key, content.Address, elements)
	}

	merged, err := overlay(existing.Content, content.Content)
	if err != nil {
		return errors.Wrap(err, "could not merge aggregate content")
	}
	return store.UpsertAggregate(ctx, &db.Aggregate{
		Key:              content.Key,
		Owner:            content.Address,
		Content:          merged,
		CreationDatetime: existing.CreationDatetime,
		LastRevisionHash: element.ItemHash,
	})
}

func (h *AggregateHandler) Forget(ctx context.Context, store db.Store, msg *message.Message, content message.Content) error {
	c := content.(*message.AggregateContent)
	if err := store.DeleteAggregateElement(ctx, msg.ItemHash); err != nil && !errors.Is(err, db.ErrNotFound) {
		return errors.Wrap(err, "could not delete aggregate element")
	}
	elements, err := store.GetAggregateElements(ctx, c.Key, c.Address)
	if err != nil {
		return errors.Wrap(err, "could not list aggregate elements")
	}
	return h.refreshAggregate(ctx, store, c.Key, c.Address, elements)
}

func (h *AggregateHandler) markDirty(ctx context.Context, store db.Store, key, owner string) error {
	existing, err := store.GetAggregate(ctx, key, owner)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "could not load aggregate")
	}
	existing.Dirty = true
	return store.UpsertAggregate(ctx, existing)
}

// refreshAggregate rebuilds the merged view from every surviving element, or
// drops the view when none remains.
func (h *AggregateHandler) refreshAggregate(ctx context.Context, store db.Store, key, owner string, elements []*db.AggregateElement) error {
	if len(elements) == 0 {
		if err := store.DeleteAggregate(ctx, key, owner); err != nil && !errors.Is(err, db.ErrNotFound) {
			return errors.Wrap(err, "could not delete aggregate")
		}
		return nil
	}
	merged := elements[0].Content
	var err error
	for _, element := range elements[1:] {
		if merged, err = overlay(merged, element.Content); err != nil {
			return errors.Wrap(err, "could not merge aggregate content")
		}
	}
	return store.UpsertAggregate(ctx, &db.Aggregate{
		Key:              key,
		Owner:            owner,
		Content:          merged,
		CreationDatetime: elements[0].CreationDatetime,
		LastRevisionHash: elements[len(elements)-1].ItemHash,
	})
}

// overlay shallow-merges patch over base, both JSON objects. Keys present in
// the patch win; nested objects are replaced, not merged.
func overlay(base, patch json.RawMessage) (json.RawMessage, error) {
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(patch, &top); err != nil {
		return nil, err
	}
	if merged == nil {
		merged = make(map[string]json.RawMessage, len(top))
	}
	for k, v := range top {
		merged[k] = v
	}
	return json.Marshal(merged)
}
