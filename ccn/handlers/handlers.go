// Package handlers implements the per-type content handlers the message
// pipeline dispatches to once an envelope has been fetched and verified.
// Each handler validates its content against current node state, derives the
// type's projection rows inside the pipeline's transaction, and knows how to
// tear those rows down again when a forget message clears the type.
package handlers

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/aleph-im/go-ccn/ccn/db"
	"github.com/aleph-im/go-ccn/ccn/storage"
	"github.com/aleph-im/go-ccn/types/files"
	"github.com/aleph-im/go-ccn/types/message"
)

var log = logrus.WithField("prefix", "handlers")

// ErrRetryLater marks a message whose dependencies are not ready yet: the
// pipeline reschedules it instead of rejecting. Handlers wrap it with the
// missing dependency.
var ErrRetryLater = errors.New("dependency not ready")

// Item is one message moving through the pipeline. Handlers read the parsed
// content and annotate the item with what they learn along the way.
type Item struct {
	Message *message.Message
	Content message.Content

	// StoredFile is filled by the store handler once the referenced file
	// has been sized.
	StoredFile *files.StoredFile

	// GarbageFiles collects hashes whose last pin was dropped inside the
	// commit transaction; the pipeline deletes the blobs after it commits.
	GarbageFiles []string
}

// Handler is the per-type protocol of the pipeline. FetchRelated runs before
// the commit transaction and may touch the network; Validate and Commit run
// inside it. Forget removes whatever Commit derived for a target message.
type Handler interface {
	FetchRelated(ctx context.Context, item *Item) error
	Validate(ctx context.Context, store db.Store, item *Item) error
	Commit(ctx context.Context, store db.Store, item *Item) error
	Forget(ctx context.Context, store db.Store, msg *message.Message, content message.Content) error
}

// Config carries the shared dependencies of the handler set.
type Config struct {
	Storage *storage.Service
	// StoreQuotaBytes caps the total pinned size per address for store
	// messages. Zero disables the quota.
	StoreQuotaBytes int64
}

// Registry maps message types to their handlers.
type Registry struct {
	handlers map[message.MessageType]Handler
}

// NewRegistry wires a handler for every processable message type.
func NewRegistry(cfg *Config) *Registry {
	r := &Registry{handlers: make(map[message.MessageType]Handler)}
	vm := &VMHandler{}
	r.handlers[message.AggregateType] = &AggregateHandler{}
	r.handlers[message.PostType] = &PostHandler{}
	r.handlers[message.StoreType] = &StoreHandler{storage: cfg.Storage, quota: cfg.StoreQuotaBytes}
	r.handlers[message.ProgramType] = vm
	r.handlers[message.InstanceType] = vm
	r.handlers[message.ForgetType] = &ForgetHandler{registry: r}
	return r
}

// For returns the handler for a message type.
func (r *Registry) For(t message.MessageType) (Handler, error) {
	h, ok := r.handlers[t]
	if !ok {
		return nil, errors.Errorf("no handler for message type %s", t)
	}
	return h, nil
}

// noFetch is embedded by handlers with nothing to fetch before commit.
type noFetch struct{}

func (noFetch) FetchRelated(context.Context, *Item) error { return nil }
