package chainsync

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleph-im/go-ccn/ccn/db/memdb"
	"github.com/aleph-im/go-ccn/ccn/storage"
	synctypes "github.com/aleph-im/go-ccn/types/chainsync"
)

func newTestChainData(t *testing.T) (*ChainData, *memdb.MemDB, *storage.Service) {
	t.Helper()
	store := memdb.New()
	storageSvc, err := storage.New(&storage.Config{Folder: t.TempDir()})
	require.NoError(t, err)
	return NewChainData(store, storageSvc), store, storageSvc
}

func testMessages(n int) []json.RawMessage {
	msgs := make([]json.RawMessage, 0, n)
	for i := 0; i < n; i++ {
		msgs = append(msgs, json.RawMessage(fmt.Sprintf(`{"item_hash":"hash-%04d","type":"POST"}`, i)))
	}
	return msgs
}

func TestDecodeSyncEnvelopeInline(t *testing.T) {
	data := []byte(`{
		"protocol": "aleph-sync",
		"version": 1,
		"content": {"messages": [{"item_hash": "a"}, {"item_hash": "b"}]}
	}`)
	batch, err := DecodeSyncEnvelope(data)
	require.NoError(t, err)
	require.Len(t, batch.Messages, 2)
	assert.Empty(t, batch.ContentHash)
}

func TestDecodeSyncEnvelopeOffChain(t *testing.T) {
	data := []byte(`{
		"protocol": "aleph-offchain-sync",
		"version": 1,
		"content": "QmTQPocJ8n3r7jhwYxmCDR5bM4SDDh48YK5CXQeYzey83p"
	}`)
	batch, err := DecodeSyncEnvelope(data)
	require.NoError(t, err)
	assert.Nil(t, batch.Messages)
	assert.Equal(t, "QmTQPocJ8n3r7jhwYxmCDR5bM4SDDh48YK5CXQeYzey83p", batch.ContentHash)
}

func TestDecodeSyncEnvelopeRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"not json":          `garbage`,
		"unknown protocol":  `{"protocol": "aleph-sync-v9", "version": 1, "content": {}}`,
		"unknown version":   `{"protocol": "aleph-sync", "version": 2, "content": {}}`,
		"missing messages":  `{"protocol": "aleph-sync", "version": 1, "content": {}}`,
		"empty hash":        `{"protocol": "aleph-offchain-sync", "version": 1, "content": ""}`,
		"hash not a string": `{"protocol": "aleph-offchain-sync", "version": 1, "content": {"hash": "x"}}`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeSyncEnvelope([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestPrepareSyncEnvelopeKeepsSmallBatchesInline(t *testing.T) {
	ctx := context.Background()
	cd, _, _ := newTestChainData(t)

	msgs := testMessages(3)
	data, err := cd.PrepareSyncEnvelope(ctx, msgs, DefaultBulkThreshold)
	require.NoError(t, err)

	batch, err := DecodeSyncEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, msgs, batch.Messages)
	assert.Empty(t, batch.ContentHash)
}

func TestPrepareSyncEnvelopeThresholdBoundary(t *testing.T) {
	ctx := context.Background()
	cd, _, _ := newTestChainData(t)
	msgs := testMessages(5)

	inline, err := cd.PrepareSyncEnvelope(ctx, msgs, 1<<20)
	require.NoError(t, err)

	// An envelope exactly at the threshold stays inline; one byte over
	// moves to the archive.
	same, err := cd.PrepareSyncEnvelope(ctx, msgs, len(inline))
	require.NoError(t, err)
	assert.Equal(t, inline, same)

	archived, err := cd.PrepareSyncEnvelope(ctx, msgs, len(inline)-1)
	require.NoError(t, err)
	batch, err := DecodeSyncEnvelope(archived)
	require.NoError(t, err)
	assert.NotEmpty(t, batch.ContentHash)
}

// Bulk batches archive off-chain and survive the round trip back through
// the expansion path, exactly as a peer node would replay them.
func TestPrepareSyncEnvelopeBulkRoundTrip(t *testing.T) {
	ctx := context.Background()
	cd, _, storageSvc := newTestChainData(t)

	msgs := testMessages(100)
	data, err := cd.PrepareSyncEnvelope(ctx, msgs, DefaultBulkThreshold)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(data), DefaultBulkThreshold, "on-chain footprint stays constant")

	batch, err := DecodeSyncEnvelope(data)
	require.NoError(t, err)
	require.NotEmpty(t, batch.ContentHash)
	assert.Nil(t, batch.Messages)

	// The archive holds the full inline envelope.
	archive, err := storageSvc.Read(ctx, batch.ContentHash)
	require.NoError(t, err)
	inner, err := DecodeSyncEnvelope(archive)
	require.NoError(t, err)
	assert.Equal(t, msgs, inner.Messages)

	// And a tx recorded against the hash expands to the same batch.
	tx := &synctypes.ChainTx{
		Hash:            "0xbulk",
		Chain:           "ETH",
		Height:          77,
		Protocol:        synctypes.OffChainSync,
		ProtocolVersion: synctypes.ProtocolVersion1,
		Content:         batch.ContentHash,
	}
	got, err := cd.GetTxMessages(ctx, tx, nil)
	require.NoError(t, err)
	assert.Equal(t, msgs, got)
}

func TestPrepareSyncEnvelopeEmptyBatch(t *testing.T) {
	ctx := context.Background()
	cd, _, _ := newTestChainData(t)

	data, err := cd.PrepareSyncEnvelope(ctx, nil, DefaultBulkThreshold)
	require.NoError(t, err)
	batch, err := DecodeSyncEnvelope(data)
	require.NoError(t, err)
	require.NotNil(t, batch.Messages, "an empty batch is still a batch")
	assert.Empty(t, batch.Messages)
}
