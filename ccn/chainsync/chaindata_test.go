package chainsync

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	synctypes "github.com/aleph-im/go-ccn/types/chainsync"
	"github.com/aleph-im/go-ccn/types/files"
	"github.com/aleph-im/go-ccn/types/message"
)

const contractAddr = "0x9319Ad3B7A8E0eE24f2E639c40D8eD124C5520Ba"

func onChainTx(t *testing.T, msgs []json.RawMessage) *synctypes.ChainTx {
	t.Helper()
	content, err := json.Marshal(&synctypes.SyncContent{Messages: msgs})
	require.NoError(t, err)
	env, err := json.Marshal(&synctypes.SyncEnvelope{
		Protocol: synctypes.WireNameOnChain,
		Version:  synctypes.ProtocolVersion1,
		Content:  content,
	})
	require.NoError(t, err)
	return &synctypes.ChainTx{
		Hash:            "0xonchain",
		Chain:           message.ChainEthereum,
		Height:          42,
		Datetime:        time.Now().UTC(),
		Protocol:        synctypes.OnChainSync,
		ProtocolVersion: synctypes.ProtocolVersion1,
		Content:         string(env),
	}
}

func TestGetTxMessagesOnChain(t *testing.T) {
	ctx := context.Background()
	cd, _, _ := newTestChainData(t)

	msgs := testMessages(3)
	got, err := cd.GetTxMessages(ctx, onChainTx(t, msgs), nil)
	require.NoError(t, err)
	assert.Equal(t, msgs, got)
}

func TestGetTxMessagesOnChainInvalid(t *testing.T) {
	ctx := context.Background()
	cd, _, _ := newTestChainData(t)

	tx := onChainTx(t, nil)
	tx.Content = "not json at all"
	_, err := cd.GetTxMessages(ctx, tx, nil)
	assert.ErrorIs(t, err, ErrInvalidContent)

	// An off-chain envelope recorded under the on-chain protocol can never
	// expand either.
	env, err := json.Marshal(&synctypes.SyncEnvelope{
		Protocol: synctypes.WireNameOffChain,
		Version:  synctypes.ProtocolVersion1,
		Content:  json.RawMessage(`"QmTQPocJ8n3r7jhwYxmCDR5bM4SDDh48YK5CXQeYzey83p"`),
	})
	require.NoError(t, err)
	tx = onChainTx(t, nil)
	tx.Content = string(env)
	_, err = cd.GetTxMessages(ctx, tx, nil)
	assert.ErrorIs(t, err, ErrInvalidContent)
}

func TestGetTxMessagesUnknownProtocol(t *testing.T) {
	ctx := context.Background()
	cd, _, _ := newTestChainData(t)

	tx := onChainTx(t, testMessages(1))
	tx.ProtocolVersion = 9
	_, err := cd.GetTxMessages(ctx, tx, nil)
	assert.ErrorIs(t, err, ErrInvalidContent)
}

// archiveBatch writes an off-chain archive into local storage and returns a
// tx recorded against its hash.
func archiveBatch(t *testing.T, storageSvc interface {
	Write(hash string, content []byte) error
}, msgs []json.RawMessage) *synctypes.ChainTx {
	t.Helper()
	content, err := json.Marshal(&synctypes.SyncContent{Messages: msgs})
	require.NoError(t, err)
	archive, err := json.Marshal(&synctypes.SyncEnvelope{
		Protocol: synctypes.WireNameOnChain,
		Version:  synctypes.ProtocolVersion1,
		Content:  content,
	})
	require.NoError(t, err)
	hash := message.Sha256Hex(archive)
	require.NoError(t, storageSvc.Write(hash, archive))
	return &synctypes.ChainTx{
		Hash:            "0xoffchain",
		Chain:           message.ChainEthereum,
		Height:          43,
		Datetime:        time.Now().UTC(),
		Protocol:        synctypes.OffChainSync,
		ProtocolVersion: synctypes.ProtocolVersion1,
		Content:         hash,
	}
}

func TestGetTxMessagesOffChain(t *testing.T) {
	ctx := context.Background()
	cd, store, storageSvc := newTestChainData(t)

	msgs := testMessages(4)
	tx := archiveBatch(t, storageSvc, msgs)
	got, err := cd.GetTxMessages(ctx, tx, nil)
	require.NoError(t, err)
	assert.Equal(t, msgs, got)

	// The archive is recorded as a file pinned by the tx so GC keeps it.
	file, err := store.GetStoredFile(ctx, tx.Content)
	require.NoError(t, err)
	assert.Equal(t, files.FileTypeFile, file.Type)
	assert.Positive(t, file.Size)

	n, err := store.CountFilePins(ctx, tx.Content)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGetTxMessagesOffChainUnavailable(t *testing.T) {
	ctx := context.Background()
	cd, _, _ := newTestChainData(t)

	tx := &synctypes.ChainTx{
		Hash:            "0xmissing",
		Chain:           message.ChainEthereum,
		Protocol:        synctypes.OffChainSync,
		ProtocolVersion: synctypes.ProtocolVersion1,
		Content:         message.Sha256Hex([]byte("never stored")),
	}
	_, err := cd.GetTxMessages(ctx, tx, nil)
	assert.ErrorIs(t, err, ErrContentUnavailable)
}

func TestGetTxMessagesOffChainGarbageArchive(t *testing.T) {
	ctx := context.Background()
	cd, _, storageSvc := newTestChainData(t)

	blob := []byte("not an envelope")
	hash := message.Sha256Hex(blob)
	require.NoError(t, storageSvc.Write(hash, blob))

	tx := &synctypes.ChainTx{
		Hash:            "0xgarbage",
		Chain:           message.ChainEthereum,
		Protocol:        synctypes.OffChainSync,
		ProtocolVersion: synctypes.ProtocolVersion1,
		Content:         hash,
	}
	_, err := cd.GetTxMessages(ctx, tx, nil)
	assert.ErrorIs(t, err, ErrInvalidContent)
}

func TestGetTxMessagesOffChainSeenArchiveSkipped(t *testing.T) {
	ctx := context.Background()
	cd, _, storageSvc := newTestChainData(t)
	seen, err := lru.New(16)
	require.NoError(t, err)

	tx := archiveBatch(t, storageSvc, testMessages(2))
	got, err := cd.GetTxMessages(ctx, tx, seen)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// A second tx pointing at the same archive expands to nothing.
	replay := *tx
	replay.Hash = "0xreplay"
	got, err = cd.GetTxMessages(ctx, &replay, seen)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGetTxMessagesOffChainFailedFetchStaysRetryable(t *testing.T) {
	ctx := context.Background()
	cd, _, storageSvc := newTestChainData(t)
	seen, err := lru.New(16)
	require.NoError(t, err)

	msgs := testMessages(2)
	content, err := json.Marshal(&synctypes.SyncContent{Messages: msgs})
	require.NoError(t, err)
	archive, err := json.Marshal(&synctypes.SyncEnvelope{
		Protocol: synctypes.WireNameOnChain,
		Version:  synctypes.ProtocolVersion1,
		Content:  content,
	})
	require.NoError(t, err)
	hash := message.Sha256Hex(archive)

	tx := &synctypes.ChainTx{
		Hash:            "0xlate",
		Chain:           message.ChainEthereum,
		Protocol:        synctypes.OffChainSync,
		ProtocolVersion: synctypes.ProtocolVersion1,
		Content:         hash,
	}

	// First attempt fails: the archive has not propagated yet. The failure
	// must not poison the seen cache.
	_, err = cd.GetTxMessages(ctx, tx, seen)
	require.ErrorIs(t, err, ErrContentUnavailable)

	require.NoError(t, storageSvc.Write(hash, archive))
	got, err := cd.GetTxMessages(ctx, tx, seen)
	require.NoError(t, err)
	assert.Equal(t, msgs, got)
}

func contractEventTx(t *testing.T, event *synctypes.ContractEvent) *synctypes.ChainTx {
	t.Helper()
	content, err := json.Marshal(event)
	require.NoError(t, err)
	return &synctypes.ChainTx{
		Hash:            "0xcontract",
		Chain:           message.ChainEthereum,
		Height:          99,
		Datetime:        time.Date(2021, 4, 21, 14, 29, 33, 0, time.UTC),
		Protocol:        synctypes.SmartContract,
		ProtocolVersion: synctypes.ProtocolVersion1,
		Content:         string(content),
	}
}

func TestGetTxMessagesSmartContract(t *testing.T) {
	ctx := context.Background()
	cd, _, _ := newTestChainData(t)

	tx := contractEventTx(t, &synctypes.ContractEvent{
		Timestamp:  1619015373,
		Addr:       contractAddr,
		MsgType:    synctypes.ContractMsgTypeStoreIPFS,
		MsgContent: "QmTQPocJ8n3r7jhwYxmCDR5bM4SDDh48YK5CXQeYzey83p",
	})
	got, err := cd.GetTxMessages(ctx, tx, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)

	msg := &message.Message{}
	require.NoError(t, json.Unmarshal(got[0], msg))
	assert.Equal(t, message.StoreType, msg.Type)
	assert.Equal(t, message.ItemTypeInline, msg.ItemType)
	assert.Equal(t, contractAddr, msg.Sender)
	assert.Equal(t, message.ChainEthereum, msg.Chain)
	assert.Nil(t, msg.Signature, "synthesized messages carry no signature")
	assert.Equal(t, message.Sha256Hex([]byte(msg.ItemContent)), msg.ItemHash)

	var content struct {
		Address  string  `json:"address"`
		Time     float64 `json:"time"`
		ItemType string  `json:"item_type"`
		ItemHash string  `json:"item_hash"`
	}
	require.NoError(t, json.Unmarshal([]byte(msg.ItemContent), &content))
	assert.Equal(t, contractAddr, content.Address)
	assert.Equal(t, float64(1619015373), content.Time)
	assert.Equal(t, "ipfs", content.ItemType)
	assert.Equal(t, "QmTQPocJ8n3r7jhwYxmCDR5bM4SDDh48YK5CXQeYzey83p", content.ItemHash)
}

func TestGetTxMessagesSmartContractRejectsOtherEvents(t *testing.T) {
	ctx := context.Background()
	cd, _, _ := newTestChainData(t)

	tx := contractEventTx(t, &synctypes.ContractEvent{
		Timestamp:  1619015373,
		Addr:       contractAddr,
		MsgType:    "TRANSFER",
		MsgContent: "whatever",
	})
	_, err := cd.GetTxMessages(ctx, tx, nil)
	assert.ErrorIs(t, err, ErrInvalidContent)

	tx = contractEventTx(t, &synctypes.ContractEvent{MsgType: synctypes.ContractMsgTypeStoreIPFS})
	_, err = cd.GetTxMessages(ctx, tx, nil)
	assert.ErrorIs(t, err, ErrInvalidContent)
}
