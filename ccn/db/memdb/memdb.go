// Package memdb implements db.Store entirely in memory. It backs tests and
// single-shot tooling; production nodes use the postgres implementation.
//
// Writes follow a replace-not-mutate discipline: rows are copied on insert
// and replaced wholesale on update, so a transaction rollback only needs to
// restore the map snapshots taken when the transaction began.
package memdb

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aleph-im/go-ccn/ccn/db"
	"github.com/aleph-im/go-ccn/types/chainsync"
	"github.com/aleph-im/go-ccn/types/files"
	"github.com/aleph-im/go-ccn/types/message"
)

// MemDB is the in-memory db.Store.
type MemDB struct {
	mu sync.Mutex
	st *state
}

type state struct {
	chainTxs   map[string]*chainsync.ChainTx
	pendingTxs map[string]bool

	nextPendingID   int64
	pendingMessages map[int64]*message.PendingMessage
	pendingByKey    map[string]int64

	messages      map[string]*message.Message
	statuses      map[string]*message.StatusRow
	confirmations map[string]map[string]bool
	rejected      map[string]*message.RejectedMessage
	forgotten     map[string]*message.ForgottenMessage

	files     map[string]*files.StoredFile
	nextPinID int64
	pins      []*files.FilePin
	tags      map[string]*files.FileTag

	aggregates        map[string]*db.Aggregate
	aggregateElements map[string]*db.AggregateElement

	posts map[string]*db.Post

	vms        map[string]*db.VM
	vmVersions map[string]*db.VMVersion
}

func newState() *state {
	return &state{
		chainTxs:          make(map[string]*chainsync.ChainTx),
		pendingTxs:        make(map[string]bool),
		pendingMessages:   make(map[int64]*message.PendingMessage),
		pendingByKey:      make(map[string]int64),
		messages:          make(map[string]*message.Message),
		statuses:          make(map[string]*message.StatusRow),
		confirmations:     make(map[string]map[string]bool),
		rejected:          make(map[string]*message.RejectedMessage),
		forgotten:         make(map[string]*message.ForgottenMessage),
		files:             make(map[string]*files.StoredFile),
		tags:              make(map[string]*files.FileTag),
		aggregates:        make(map[string]*db.Aggregate),
		aggregateElements: make(map[string]*db.AggregateElement),
		posts:             make(map[string]*db.Post),
		vms:               make(map[string]*db.VM),
		vmVersions:        make(map[string]*db.VMVersion),
	}
}

// snapshot copies every map header. Rows themselves are never mutated in
// place, so sharing them between snapshots is safe.
func (s *state) snapshot() *state {
	cp := &state{
		chainTxs:          make(map[string]*chainsync.ChainTx, len(s.chainTxs)),
		pendingTxs:        make(map[string]bool, len(s.pendingTxs)),
		nextPendingID:     s.nextPendingID,
		pendingMessages:   make(map[int64]*message.PendingMessage, len(s.pendingMessages)),
		pendingByKey:      make(map[string]int64, len(s.pendingByKey)),
		messages:          make(map[string]*message.Message, len(s.messages)),
		statuses:          make(map[string]*message.StatusRow, len(s.statuses)),
		confirmations:     make(map[string]map[string]bool, len(s.confirmations)),
		rejected:          make(map[string]*message.RejectedMessage, len(s.rejected)),
		forgotten:         make(map[string]*message.ForgottenMessage, len(s.forgotten)),
		files:             make(map[string]*files.StoredFile, len(s.files)),
		nextPinID:         s.nextPinID,
		pins:              append([]*files.FilePin(nil), s.pins...),
		tags:              make(map[string]*files.FileTag, len(s.tags)),
		aggregates:        make(map[string]*db.Aggregate, len(s.aggregates)),
		aggregateElements: make(map[string]*db.AggregateElement, len(s.aggregateElements)),
		posts:             make(map[string]*db.Post, len(s.posts)),
		vms:               make(map[string]*db.VM, len(s.vms)),
		vmVersions:        make(map[string]*db.VMVersion, len(s.vmVersions)),
	}
	for k, v := range s.chainTxs {
		cp.chainTxs[k] = v
	}
	for k, v := range s.pendingTxs {
		cp.pendingTxs[k] = v
	}
	for k, v := range s.pendingMessages {
		cp.pendingMessages[k] = v
	}
	for k, v := range s.pendingByKey {
		cp.pendingByKey[k] = v
	}
	for k, v := range s.messages {
		cp.messages[k] = v
	}
	for k, v := range s.statuses {
		cp.statuses[k] = v
	}
	for k, v := range s.confirmations {
		inner := make(map[string]bool, len(v))
		for tx := range v {
			inner[tx] = true
		}
		cp.confirmations[k] = inner
	}
	for k, v := range s.rejected {
		cp.rejected[k] = v
	}
	for k, v := range s.forgotten {
		cp.forgotten[k] = v
	}
	for k, v := range s.files {
		cp.files[k] = v
	}
	for k, v := range s.tags {
		cp.tags[k] = v
	}
	for k, v := range s.aggregates {
		cp.aggregates[k] = v
	}
	for k, v := range s.aggregateElements {
		cp.aggregateElements[k] = v
	}
	for k, v := range s.posts {
		cp.posts[k] = v
	}
	for k, v := range s.vms {
		cp.vms[k] = v
	}
	for k, v := range s.vmVersions {
		cp.vmVersions[k] = v
	}
	return cp
}

// New returns an empty in-memory store.
func New() *MemDB {
	return &MemDB{st: newState()}
}

// RunInTx runs fn under the store lock and restores the pre-transaction
// snapshot when fn fails.
func (m *MemDB) RunInTx(ctx context.Context, fn func(ctx context.Context, s db.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.st.snapshot()
	if err := fn(ctx, &txView{st: m.st}); err != nil {
		m.st = snap
		return err
	}
	return nil
}

// Close implements db.Store.
func (m *MemDB) Close() error { return nil }

// txView exposes the state inside a transaction; the MemDB lock is already
// held for the duration of the callback.
type txView struct {
	st *state
}

// RunInTx on a transaction view just runs fn in the same transaction.
func (t *txView) RunInTx(ctx context.Context, fn func(ctx context.Context, s db.Store) error) error {
	return fn(ctx, t)
}

func (t *txView) Close() error { return nil }
