package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleph-im/go-ccn/ccn/db"
	"github.com/aleph-im/go-ccn/ccn/db/memdb"
	"github.com/aleph-im/go-ccn/ccn/storage"
	"github.com/aleph-im/go-ccn/types/message"
)

const (
	testOwner  = "0x9319Ad3B7A8E0eE24f2E639c40D8eD124C5520Ba"
	otherOwner = "0xB5466F2e9A085306D18b38E1d644454A3F48E27e"

	baseEpoch = 1619017773.0
)

func newTestRegistry(t *testing.T) (*Registry, *memdb.MemDB) {
	t.Helper()
	reg, store, _ := newStorageRegistry(t, 0)
	return reg, store
}

// newStorageRegistry exposes the storage service for tests that write blobs,
// with an optional store quota in bytes.
func newStorageRegistry(t *testing.T, quota int64) (*Registry, *memdb.MemDB, *storage.Service) {
	t.Helper()
	store := memdb.New()
	storageSvc, err := storage.New(&storage.Config{Folder: t.TempDir()})
	require.NoError(t, err)
	reg := NewRegistry(&Config{Storage: storageSvc, StoreQuotaBytes: quota})
	return reg, store, storageSvc
}

func strPtr(s string) *string { return &s }

// newMessage builds an inline envelope around marshaled content. The item
// hash is unique per content so tests can mint targets freely.
func newMessage(t *testing.T, msgType message.MessageType, sender string, content interface{}) (*message.Message, []byte) {
	t.Helper()
	raw, err := json.Marshal(content)
	require.NoError(t, err)
	sig := "sig-" + message.Sha256Hex(raw)[:16]
	msg := &message.Message{
		ItemHash:    message.Sha256Hex(raw),
		ItemType:    message.ItemTypeInline,
		ItemContent: string(raw),
		Type:        msgType,
		Chain:       message.ChainEthereum,
		Sender:      sender,
		Signature:   &sig,
		Time:        baseEpoch,
		Channel:     "TEST",
		Content:     raw,
		Size:        int64(len(raw)),
	}
	return msg, raw
}

// commitMessage runs a message through the real handler path the way the
// pipeline does: validate, persist the envelope, commit derived state.
func commitMessage(t *testing.T, reg *Registry, store db.Store, msg *message.Message, raw []byte) *Item {
	t.Helper()
	ctx := context.Background()
	content, err := message.ParseContent(msg.Type, raw)
	require.NoError(t, err)
	item := &Item{Message: msg, Content: content}

	handler, err := reg.For(msg.Type)
	require.NoError(t, err)
	require.NoError(t, handler.FetchRelated(ctx, item))
	require.NoError(t, store.EnsureMessageStatus(ctx, msg.ItemHash, message.StatusPending, time.Now()))
	require.NoError(t, handler.Validate(ctx, store, item))
	require.NoError(t, store.InsertMessage(ctx, msg))
	require.NoError(t, store.SetMessageStatus(ctx, msg.ItemHash, message.StatusProcessed))
	require.NoError(t, handler.Commit(ctx, store, item))
	return item
}

func aggregateContent(key string, fields map[string]interface{}, epoch float64) *message.AggregateContent {
	raw, _ := json.Marshal(fields)
	return &message.AggregateContent{
		BaseContent: message.BaseContent{Address: testOwner, Time: epoch},
		Key:         key,
		Content:     raw,
	}
}

func TestRegistryCoversProcessableTypes(t *testing.T) {
	reg, _ := newTestRegistry(t)
	for _, typ := range []message.MessageType{
		message.AggregateType,
		message.PostType,
		message.StoreType,
		message.ProgramType,
		message.InstanceType,
		message.ForgetType,
	} {
		h, err := reg.For(typ)
		require.NoError(t, err, "type %s", typ)
		require.NotNil(t, h)
	}

	_, err := reg.For(message.MessageType("UNKNOWN"))
	assert.ErrorContains(t, err, "no handler")
}

func TestProgramAndInstanceShareHandler(t *testing.T) {
	reg, _ := newTestRegistry(t)
	program, err := reg.For(message.ProgramType)
	require.NoError(t, err)
	instance, err := reg.For(message.InstanceType)
	require.NoError(t, err)
	assert.Same(t, program, instance)
}

func TestRejectionErrorShape(t *testing.T) {
	rej := message.Reject(message.ErrCodePermissionDenied, "address %s denied", testOwner)
	assert.Equal(t, fmt.Sprintf("PERMISSION_DENIED: address %s denied", testOwner), rej.Error())
}
