// Package db defines the storage interface shared by every ccn service.
// Postgres backs production nodes; an in-memory implementation backs tests.
package db

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/aleph-im/go-ccn/types/chainsync"
	"github.com/aleph-im/go-ccn/types/files"
	"github.com/aleph-im/go-ccn/types/message"
)

// ErrNotFound is returned by point lookups when no row matches.
var ErrNotFound = errors.New("db: not found")

// ErrAlreadyExists is returned by inserts that would violate a uniqueness
// constraint the caller is expected to have checked.
var ErrAlreadyExists = errors.New("db: already exists")

// TxStore tracks chain transactions and their pending-expansion markers.
type TxStore interface {
	UpsertChainTx(ctx context.Context, tx *chainsync.ChainTx) error
	GetChainTx(ctx context.Context, hash string) (*chainsync.ChainTx, error)
	// AddPendingTx marks a recorded ChainTx as awaiting expansion.
	AddPendingTx(ctx context.Context, txHash string) error
	// GetPendingTx resolves a pending marker to its transaction, or
	// ErrNotFound once the tx has been expanded (or never existed).
	GetPendingTx(ctx context.Context, txHash string) (*chainsync.ChainTx, error)
	DeletePendingTx(ctx context.Context, txHash string) error
	ListPendingTxs(ctx context.Context, limit int) ([]string, error)
	CountPendingTxs(ctx context.Context) (int, error)
}

// PendingMessageStore is the durable pending-message queue.
type PendingMessageStore interface {
	// InsertPendingMessage adds a new pending row and returns its id.
	// Inserting a row whose logical key already exists is an error; callers
	// dedup with GetPendingMessageByPair first inside a transaction.
	InsertPendingMessage(ctx context.Context, pending *message.PendingMessage) (int64, error)
	GetPendingMessageByKey(ctx context.Context, key message.LogicalKey) (*message.PendingMessage, error)
	// GetPendingMessageByPair returns the earliest pending row for an
	// (item_hash, sender) pair, whatever its source, or ErrNotFound. Copies
	// of one message seen over gossip and inside a chain tx dedup through
	// this lookup.
	GetPendingMessageByPair(ctx context.Context, itemHash, sender string) (*message.PendingMessage, error)
	DeletePendingMessage(ctx context.Context, id int64) error
	// MarkPendingMessageFetched stores the fetched item content and flips
	// the fetched flag.
	MarkPendingMessageFetched(ctx context.Context, id int64, itemContent string) error
	ReschedulePendingMessage(ctx context.Context, id int64, retries int, nextAttempt time.Time) error
	// ListDuePendingMessages returns rows with next_attempt <= now ordered
	// by (retries ASC, time ASC).
	ListDuePendingMessages(ctx context.Context, now time.Time, limit int) ([]*message.PendingMessage, error)
	CountPendingMessages(ctx context.Context) (int, error)
	// SweepDuplicatePendingMessages deletes rows that share (item_hash,
	// sender) with another row of strictly greater source height.
	SweepDuplicatePendingMessages(ctx context.Context) (int, error)
}

// MessageStore persists processed, rejected and forgotten messages together
// with the per-hash status row.
type MessageStore interface {
	InsertMessage(ctx context.Context, msg *message.Message) error
	GetMessage(ctx context.Context, itemHash string) (*message.Message, error)
	DeleteMessage(ctx context.Context, itemHash string) error

	// EnsureMessageStatus inserts a status row if none exists yet.
	EnsureMessageStatus(ctx context.Context, itemHash string, status message.Status, receptionTime time.Time) error
	SetMessageStatus(ctx context.Context, itemHash string, status message.Status) error
	GetMessageStatus(ctx context.Context, itemHash string) (*message.StatusRow, error)

	UpsertMessageConfirmation(ctx context.Context, itemHash, txHash string) error
	GetConfirmations(ctx context.Context, itemHash string) ([]message.Confirmation, error)

	UpsertRejectedMessage(ctx context.Context, rejected *message.RejectedMessage) error
	GetRejectedMessage(ctx context.Context, itemHash string) (*message.RejectedMessage, error)

	InsertForgottenMessage(ctx context.Context, forgotten *message.ForgottenMessage) error
	GetForgottenMessage(ctx context.Context, itemHash string) (*message.ForgottenMessage, error)
	// AppendForgottenBy records an additional forget message against an
	// already-forgotten target.
	AppendForgottenBy(ctx context.Context, targetHash, forgetHash string) error
}

// FileStore tracks content-addressed files, pins and tags.
type FileStore interface {
	UpsertStoredFile(ctx context.Context, file *files.StoredFile) error
	GetStoredFile(ctx context.Context, hash string) (*files.StoredFile, error)
	DeleteStoredFile(ctx context.Context, hash string) error

	// InsertFilePin is idempotent on the pin's identity (tx pins by
	// (file_hash, tx_hash), message pins by item_hash).
	InsertFilePin(ctx context.Context, pin *files.FilePin) error
	GetMessageFilePin(ctx context.Context, itemHash string) (*files.FilePin, error)
	// DeleteFilePinsByItem removes the pins held by a message and returns
	// the file hashes that lost a pin.
	DeleteFilePinsByItem(ctx context.Context, itemHash string) ([]string, error)
	CountFilePins(ctx context.Context, fileHash string) (int, error)
	// TotalPinnedSize sums the sizes of the files an owner holds message
	// pins on, for quota enforcement.
	TotalPinnedSize(ctx context.Context, owner string) (int64, error)

	UpsertFileTag(ctx context.Context, tag *files.FileTag) error
	GetFileTag(ctx context.Context, tag string) (*files.FileTag, error)
	// RefreshFileTag recomputes a tag from the most recent surviving message
	// pin referencing it, deleting the tag when none remains.
	RefreshFileTag(ctx context.Context, tag string) error
}

// AggregateStore persists aggregate elements and their merged views.
type AggregateStore interface {
	InsertAggregateElement(ctx context.Context, element *AggregateElement) error
	// GetAggregateElements returns every element of (key, owner) ordered by
	// content time ascending.
	GetAggregateElements(ctx context.Context, key, owner string) ([]*AggregateElement, error)
	GetAggregate(ctx context.Context, key, owner string) (*Aggregate, error)
	UpsertAggregate(ctx context.Context, aggregate *Aggregate) error
	DeleteAggregateElement(ctx context.Context, itemHash string) error
	DeleteAggregate(ctx context.Context, key, owner string) error
}

// PostStore persists posts and their amendment links.
type PostStore interface {
	InsertPost(ctx context.Context, post *Post) error
	GetPost(ctx context.Context, itemHash string) (*Post, error)
	DeletePost(ctx context.Context, itemHash string) error
}

// VMStore persists the derived state of executable messages.
type VMStore interface {
	InsertVM(ctx context.Context, vm *VM) error
	GetVM(ctx context.Context, itemHash string) (*VM, error)
	DeleteVM(ctx context.Context, itemHash string) error

	UpsertVMVersion(ctx context.Context, version *VMVersion) error
	GetVMVersion(ctx context.Context, vmHash string) (*VMVersion, error)
	// RefreshVMVersion recomputes the current version pointer of a program
	// ref after a deletion, removing the row when no version remains.
	RefreshVMVersion(ctx context.Context, programRef string) error
}

// Store is the full persistence surface of a ccn process.
type Store interface {
	TxStore
	PendingMessageStore
	MessageStore
	FileStore
	AggregateStore
	PostStore
	VMStore

	// RunInTx executes fn against a transaction-scoped view of the store.
	// The transaction commits when fn returns nil and rolls back otherwise.
	RunInTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error
	Close() error
}
