package handlers

import (
	"context"

	"github.com/pkg/errors"

	"github.com/aleph-im/go-ccn/ccn/db"
	"github.com/aleph-im/go-ccn/types/message"
)

// PostHandler stores user posts. An amend post references the post it
// rewrites; readers resolve the newest amendment by content time.
type PostHandler struct {
	noFetch
}

func (h *PostHandler) Validate(ctx context.Context, store db.Store, item *Item) error {
	content := item.Content.(*message.PostContent)
	if content.PostType != "amend" {
		return nil
	}
	target, err := store.GetPost(ctx, *content.Ref)
	if errors.Is(err, db.ErrNotFound) {
		// The amended post may simply not have arrived yet.
		return errors.Wrapf(ErrRetryLater, "amend target %s not processed", *content.Ref)
	}
	if err != nil {
		return errors.Wrap(err, "could not load amend target")
	}
	if target.Owner != content.Address {
		return message.Reject(message.ErrCodePermissionDenied,
			"%s may not amend post %s owned by %s", content.Address, target.ItemHash, target.Owner)
	}
	if target.PostType == "amend" {
		original := target.ItemHash
		if target.Amends != nil {
			original = *target.Amends
		}
		return message.Reject(message.ErrCodeContentValidationFailed,
			"amends of amends are not allowed, amend %s instead", original)
	}
	return nil
}

func (h *PostHandler) Commit(ctx context.Context, store db.Store, item *Item) error {
	content := item.Content.(*message.PostContent)
	post := &db.Post{
		ItemHash:         item.Message.ItemHash,
		Owner:            content.Address,
		PostType:         content.PostType,
		Ref:              content.Ref,
		Channel:          item.Message.Channel,
		Content:          content.Content,
		CreationDatetime: message.EpochTime(content.Time),
	}
	if content.PostType == "amend" {
		post.Amends = content.Ref
	}
	return store.InsertPost(ctx, post)
}

func (h *PostHandler) Forget(ctx context.Context, store db.Store, msg *message.Message, content message.Content) error {
	if err := store.DeletePost(ctx, msg.ItemHash); err != nil && !errors.Is(err, db.ErrNotFound) {
		return errors.Wrap(err, "could not delete post")
	}
	return nil
}
