package chainsync

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	synctypes "github.com/aleph-im/go-ccn/types/chainsync"
)

// SyncBatch is a decoded sync envelope: an inline message batch, or the hash
// of an off-chain archive holding one. Exactly one of the fields is set.
type SyncBatch struct {
	Messages    []json.RawMessage
	ContentHash string
}

// DecodeSyncEnvelope parses a wire sync envelope. The wire names
// ("aleph-sync", "aleph-offchain-sync") live only here; everything else in
// the node speaks the ChainTx protocol enum.
func DecodeSyncEnvelope(data []byte) (*SyncBatch, error) {
	env := &synctypes.SyncEnvelope{}
	if err := json.Unmarshal(data, env); err != nil {
		return nil, errors.Wrap(err, "could not parse sync envelope")
	}
	if env.Version != synctypes.ProtocolVersion1 {
		return nil, errors.Errorf("unsupported sync envelope version %d", env.Version)
	}
	switch env.Protocol {
	case synctypes.WireNameOnChain:
		msgs, err := syncMessages(env.Content)
		if err != nil {
			return nil, err
		}
		return &SyncBatch{Messages: msgs}, nil
	case synctypes.WireNameOffChain:
		var hash string
		if err := json.Unmarshal(env.Content, &hash); err != nil || hash == "" {
			return nil, errors.New("off-chain sync envelope carries no content hash")
		}
		return &SyncBatch{ContentHash: hash}, nil
	default:
		return nil, errors.Errorf("unknown sync protocol %q", env.Protocol)
	}
}

func syncMessages(content json.RawMessage) ([]json.RawMessage, error) {
	var sc synctypes.SyncContent
	if err := json.Unmarshal(content, &sc); err != nil {
		return nil, errors.Wrap(err, "could not parse sync content")
	}
	if sc.Messages == nil {
		return nil, errors.New("sync content carries no message list")
	}
	return sc.Messages, nil
}

// PrepareSyncEnvelope encodes an outgoing batch. Batches whose inline
// envelope fits within threshold bytes are embedded directly; larger ones
// are archived through the storage service and referenced by hash, keeping
// the on-chain footprint constant.
func (cd *ChainData) PrepareSyncEnvelope(ctx context.Context, msgs []json.RawMessage, threshold int) ([]byte, error) {
	if threshold <= 0 {
		threshold = DefaultBulkThreshold
	}
	if msgs == nil {
		msgs = []json.RawMessage{}
	}
	content, err := json.Marshal(&synctypes.SyncContent{Messages: msgs})
	if err != nil {
		return nil, errors.Wrap(err, "could not encode sync content")
	}
	inline, err := json.Marshal(&synctypes.SyncEnvelope{
		Protocol: synctypes.WireNameOnChain,
		Version:  synctypes.ProtocolVersion1,
		Content:  content,
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not encode sync envelope")
	}
	if len(inline) <= threshold {
		return inline, nil
	}

	hash, err := cd.storage.Add(ctx, inline)
	if err != nil {
		return nil, errors.Wrap(err, "could not archive bulk sync data")
	}
	log.WithFields(logrus.Fields{"hash": hash, "messages": len(msgs)}).Debug("Archived bulk sync data")
	hashJSON, err := json.Marshal(hash)
	if err != nil {
		return nil, errors.Wrap(err, "could not encode archive hash")
	}
	return json.Marshal(&synctypes.SyncEnvelope{
		Protocol: synctypes.WireNameOffChain,
		Version:  synctypes.ProtocolVersion1,
		Content:  hashJSON,
	})
}
