package handlers

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleph-im/go-ccn/ccn/storage"
	"github.com/aleph-im/go-ccn/types/files"
	"github.com/aleph-im/go-ccn/types/message"
)

func writeBlob(t *testing.T, storageSvc *storage.Service, content []byte) string {
	t.Helper()
	hash := message.Sha256Hex(content)
	require.NoError(t, storageSvc.Write(hash, content))
	return hash
}

func storeContent(owner, fileHash string, ref *string, epoch float64) *message.StoreContent {
	return &message.StoreContent{
		BaseContent: message.BaseContent{Address: owner, Time: epoch},
		ItemType:    message.ItemTypeStorage,
		ItemHash:    fileHash,
		Ref:         ref,
	}
}

func TestStoreCommitPinsAndTagsFile(t *testing.T) {
	reg, store, storageSvc := newStorageRegistry(t, 0)
	ctx := context.Background()

	blob := []byte("hello content-addressed world")
	fileHash := writeBlob(t, storageSvc, blob)

	content := storeContent(testOwner, fileHash, nil, baseEpoch)
	msg, raw := newMessage(t, message.StoreType, testOwner, content)
	item := commitMessage(t, reg, store, msg, raw)

	require.NotNil(t, item.StoredFile)
	assert.Equal(t, int64(len(blob)), item.StoredFile.Size)

	stored, err := store.GetStoredFile(ctx, fileHash)
	require.NoError(t, err)
	assert.Equal(t, files.FileTypeFile, stored.Type)
	assert.Equal(t, int64(len(blob)), stored.Size)

	pin, err := store.GetMessageFilePin(ctx, msg.ItemHash)
	require.NoError(t, err)
	assert.Equal(t, fileHash, pin.FileHash)
	assert.Equal(t, files.PinTypeMessage, pin.Type)
	assert.Equal(t, testOwner, pin.Owner)

	// Without a ref the message's own hash becomes the tag.
	tag, err := store.GetFileTag(ctx, msg.ItemHash)
	require.NoError(t, err)
	assert.Equal(t, fileHash, tag.FileHash)
	assert.Equal(t, testOwner, tag.Owner)
}

func TestStoreRefMovesTagForward(t *testing.T) {
	reg, store, storageSvc := newStorageRegistry(t, 0)
	ctx := context.Background()

	v1 := writeBlob(t, storageSvc, []byte("version 1"))
	v2 := writeBlob(t, storageSvc, []byte("version 2"))
	v0 := writeBlob(t, storageSvc, []byte("version 0, late"))

	first, raw := newMessage(t, message.StoreType, testOwner, storeContent(testOwner, v1, strPtr("my-app"), baseEpoch))
	commitMessage(t, reg, store, first, raw)

	second, raw := newMessage(t, message.StoreType, testOwner, storeContent(testOwner, v2, strPtr("my-app"), baseEpoch+100))
	commitMessage(t, reg, store, second, raw)

	tag, err := store.GetFileTag(ctx, "my-app")
	require.NoError(t, err)
	assert.Equal(t, v2, tag.FileHash)

	// A replayed older upload must not move the tag back.
	late, raw := newMessage(t, message.StoreType, testOwner, storeContent(testOwner, v0, strPtr("my-app"), baseEpoch+50))
	commitMessage(t, reg, store, late, raw)

	tag, err = store.GetFileTag(ctx, "my-app")
	require.NoError(t, err)
	assert.Equal(t, v2, tag.FileHash)
}

func TestStoreForeignTagUntouched(t *testing.T) {
	reg, store, storageSvc := newStorageRegistry(t, 0)
	ctx := context.Background()

	mine := writeBlob(t, storageSvc, []byte("mine"))
	theirs := writeBlob(t, storageSvc, []byte("theirs"))

	first, raw := newMessage(t, message.StoreType, testOwner, storeContent(testOwner, mine, strPtr("shared-name"), baseEpoch))
	commitMessage(t, reg, store, first, raw)

	second, raw := newMessage(t, message.StoreType, otherOwner, storeContent(otherOwner, theirs, strPtr("shared-name"), baseEpoch+100))
	commitMessage(t, reg, store, second, raw)

	tag, err := store.GetFileTag(ctx, "shared-name")
	require.NoError(t, err)
	assert.Equal(t, testOwner, tag.Owner)
	assert.Equal(t, mine, tag.FileHash)
}

func TestStoreFetchMissingContentUnavailable(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	handler, err := reg.For(message.StoreType)
	require.NoError(t, err)

	missing := message.Sha256Hex([]byte("never written"))
	content := storeContent(testOwner, missing, nil, baseEpoch)
	msg, _ := newMessage(t, message.StoreType, testOwner, content)

	err = handler.FetchRelated(ctx, &Item{Message: msg, Content: content})
	assert.ErrorIs(t, err, storage.ErrContentUnavailable)
}

func TestStoreQuotaEnforced(t *testing.T) {
	blobA := bytes.Repeat([]byte("a"), 64)
	blobB := bytes.Repeat([]byte("b"), 50)
	reg, store, storageSvc := newStorageRegistry(t, 100)
	ctx := context.Background()

	hashA := writeBlob(t, storageSvc, blobA)
	hashB := writeBlob(t, storageSvc, blobB)

	first, raw := newMessage(t, message.StoreType, testOwner, storeContent(testOwner, hashA, nil, baseEpoch))
	commitMessage(t, reg, store, first, raw)

	handler, err := reg.For(message.StoreType)
	require.NoError(t, err)
	content := storeContent(testOwner, hashB, nil, baseEpoch+1)
	msg, _ := newMessage(t, message.StoreType, testOwner, content)
	item := &Item{Message: msg, Content: content}
	require.NoError(t, handler.FetchRelated(ctx, item))

	err = handler.Validate(ctx, store, item)
	var rej *message.Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, message.ErrCodePermissionDenied, rej.Code)

	// Another address still has its full quota.
	foreign := storeContent(otherOwner, hashB, nil, baseEpoch+1)
	foreignMsg, _ := newMessage(t, message.StoreType, otherOwner, foreign)
	foreignItem := &Item{Message: foreignMsg, Content: foreign}
	require.NoError(t, handler.FetchRelated(ctx, foreignItem))
	assert.NoError(t, handler.Validate(ctx, store, foreignItem))
}

func TestStoreForgetRecomputesTag(t *testing.T) {
	reg, store, storageSvc := newStorageRegistry(t, 0)
	ctx := context.Background()

	v1 := writeBlob(t, storageSvc, []byte("v1"))
	v2 := writeBlob(t, storageSvc, []byte("v2"))

	first, raw := newMessage(t, message.StoreType, testOwner, storeContent(testOwner, v1, strPtr("app"), baseEpoch))
	commitMessage(t, reg, store, first, raw)
	second, raw := newMessage(t, message.StoreType, testOwner, storeContent(testOwner, v2, strPtr("app"), baseEpoch+10))
	item := commitMessage(t, reg, store, second, raw)

	// The forget flow drops the pins before dispatching the type handler.
	_, err := store.DeleteFilePinsByItem(ctx, second.ItemHash)
	require.NoError(t, err)
	handler, err := reg.For(message.StoreType)
	require.NoError(t, err)
	require.NoError(t, handler.Forget(ctx, store, second, item.Content))

	tag, err := store.GetFileTag(ctx, "app")
	require.NoError(t, err)
	assert.Equal(t, v1, tag.FileHash)
}
