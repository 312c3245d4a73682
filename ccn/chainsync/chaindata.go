// Package chainsync expands recorded blockchain transactions into the
// candidate messages they carry and encodes outgoing batches for on-chain
// publication. Three protocols are spoken: batches embedded in the tx,
// batches archived off-chain behind a content hash, and single store events
// emitted by smart contracts.
package chainsync

import (
	"context"
	"encoding/json"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/aleph-im/go-ccn/ccn/db"
	"github.com/aleph-im/go-ccn/ccn/storage"
	synctypes "github.com/aleph-im/go-ccn/types/chainsync"
	"github.com/aleph-im/go-ccn/types/files"
	"github.com/aleph-im/go-ccn/types/message"
)

var log = logrus.WithField("prefix", "chainsync")

// Expansion failures split into two kinds so the pending-tx processor can
// tell a tx that will never expand from one whose archive is still missing.
var (
	// ErrInvalidContent marks chain data that can never be expanded.
	ErrInvalidContent = errors.New("invalid chain data")
	// ErrContentUnavailable marks an off-chain archive that could not be
	// fetched yet.
	ErrContentUnavailable = errors.New("chain data unavailable")
)

// DefaultBulkThreshold is the serialized envelope size in bytes above which
// outgoing batches move to an off-chain archive.
const DefaultBulkThreshold = 2000

// fetchTimeout bounds one off-chain archive fetch.
const fetchTimeout = 60 * time.Second

// ChainData turns a ChainTx into the ordered candidate messages it carries,
// and serializes outgoing batches (codec.go).
type ChainData struct {
	store   db.Store
	storage *storage.Service
}

// NewChainData wires the expansion service.
func NewChainData(store db.Store, storageSvc *storage.Service) *ChainData {
	return &ChainData{store: store, storage: storageSvc}
}

// GetTxMessages returns the candidate messages carried by a recorded tx, in
// order. Errors wrap ErrInvalidContent when the tx can never expand and
// ErrContentUnavailable when its off-chain archive is still unreachable.
// seen, when non-nil, suppresses re-expansion of an archive handled moments
// earlier by the same worker.
func (cd *ChainData) GetTxMessages(ctx context.Context, tx *synctypes.ChainTx, seen *lru.Cache) ([]json.RawMessage, error) {
	switch {
	case tx.Protocol == synctypes.OnChainSync && tx.ProtocolVersion == synctypes.ProtocolVersion1:
		return onChainTxMessages(tx)
	case tx.Protocol == synctypes.OffChainSync && tx.ProtocolVersion == synctypes.ProtocolVersion1:
		return cd.offChainTxMessages(ctx, tx, seen)
	case tx.Protocol == synctypes.SmartContract && tx.ProtocolVersion == synctypes.ProtocolVersion1:
		return smartContractTxMessages(tx)
	default:
		return nil, errors.Wrapf(ErrInvalidContent,
			"unknown protocol %s v%d in tx %s/%s", tx.Protocol, tx.ProtocolVersion, tx.Chain, tx.Hash)
	}
}

// onChainTxMessages reads a batch embedded in the transaction. tx.Content is
// the full sync envelope.
func onChainTxMessages(tx *synctypes.ChainTx) ([]json.RawMessage, error) {
	batch, err := DecodeSyncEnvelope([]byte(tx.Content))
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidContent, "bad data in tx %s/%s: %v", tx.Chain, tx.Hash, err)
	}
	if batch.Messages == nil {
		return nil, errors.Wrapf(ErrInvalidContent,
			"tx %s/%s announces an off-chain archive but is recorded as on-chain", tx.Chain, tx.Hash)
	}
	return batch.Messages, nil
}

// offChainTxMessages resolves a content hash to its archived batch. On
// success the archive itself is recorded as a stored file pinned by the tx,
// so it survives garbage collection and can be served to peers.
func (cd *ChainData) offChainTxMessages(ctx context.Context, tx *synctypes.ChainTx, seen *lru.Cache) ([]json.RawMessage, error) {
	fileHash := tx.Content
	if fileHash == "" {
		return nil, errors.Wrapf(ErrInvalidContent, "tx %s/%s carries no content hash", tx.Chain, tx.Hash)
	}
	if seen != nil && seen.Contains(fileHash) {
		log.WithField("hash", fileHash).Debug("Skipping already expanded archive")
		return []json.RawMessage{}, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	raw, err := cd.storage.Read(fetchCtx, fileHash)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidContent) {
			return nil, errors.Wrapf(ErrInvalidContent, "off-chain archive %s: %v", fileHash, err)
		}
		return nil, errors.Wrapf(ErrContentUnavailable, "off-chain archive %s: %v", fileHash, err)
	}

	batch, err := DecodeSyncEnvelope(raw)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidContent, "off-chain archive %s: %v", fileHash, err)
	}
	if batch.Messages == nil {
		return nil, errors.Wrapf(ErrInvalidContent, "off-chain archive %s points at another archive", fileHash)
	}
	log.WithFields(logrus.Fields{"hash": fileHash, "messages": len(batch.Messages)}).Info("Got bulk data")

	// Mark seen only now: a failed fetch must stay retryable.
	if seen != nil {
		seen.Add(fileHash, struct{}{})
	}

	err = cd.store.RunInTx(ctx, func(ctx context.Context, s db.Store) error {
		file := &files.StoredFile{Hash: fileHash, Type: files.FileTypeFile, Size: int64(len(raw))}
		if err := s.UpsertStoredFile(ctx, file); err != nil {
			return err
		}
		return s.InsertFilePin(ctx, &files.FilePin{
			FileHash: fileHash,
			Type:     files.PinTypeTx,
			TxHash:   tx.Hash,
			Created:  time.Now().UTC(),
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not record off-chain archive")
	}
	cd.storage.PinAsync(fileHash)

	return batch.Messages, nil
}

// smartContractTxMessages synthesizes the one store message declared by a
// contract event. The event's authenticity is anchored by the transaction,
// so the message carries no signature and skips signature checks downstream.
func smartContractTxMessages(tx *synctypes.ChainTx) ([]json.RawMessage, error) {
	ev := &synctypes.ContractEvent{}
	if err := json.Unmarshal([]byte(tx.Content), ev); err != nil {
		return nil, errors.Wrapf(ErrInvalidContent, "incompatible tx content for %s/%s: %v", tx.Chain, tx.Hash, err)
	}
	if ev.Addr == "" || ev.MsgContent == "" {
		return nil, errors.Wrapf(ErrInvalidContent, "incomplete contract event in tx %s/%s", tx.Chain, tx.Hash)
	}
	if ev.MsgType != synctypes.ContractMsgTypeStoreIPFS {
		return nil, errors.Wrapf(ErrInvalidContent, "unexpected contract message type %q", ev.MsgType)
	}

	// Key order is canonical: maps marshal with sorted keys.
	itemContent, err := json.Marshal(map[string]interface{}{
		"address":   ev.Addr,
		"time":      ev.Timestamp,
		"item_type": string(message.ItemTypeIPFS),
		"item_hash": ev.MsgContent,
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not encode store content")
	}

	raw, err := json.Marshal(&message.Message{
		ItemHash:    message.Sha256Hex(itemContent),
		ItemType:    message.ItemTypeInline,
		ItemContent: string(itemContent),
		Type:        message.StoreType,
		Chain:       tx.Chain,
		Sender:      ev.Addr,
		Signature:   nil,
		Time:        epochSeconds(tx.Datetime),
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not encode synthesized store message")
	}
	return []json.RawMessage{raw}, nil
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
