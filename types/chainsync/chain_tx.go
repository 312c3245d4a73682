// Package chainsync defines the on-chain side of the ingestion pipeline: the
// recorded transaction, the sync protocols a transaction can speak, and the
// envelope payloads carried by each protocol version.
package chainsync

import (
	"encoding/json"
	"time"

	"github.com/aleph-im/go-ccn/types/message"
)

// Protocol is how a ChainTx encodes the messages it carries.
type Protocol string

const (
	// OnChainSync embeds the message batch in the transaction itself.
	OnChainSync Protocol = "on_chain_sync"
	// OffChainSync stores the batch in content-addressed storage and embeds
	// only its hash.
	OffChainSync Protocol = "off_chain_sync"
	// SmartContract events declare a single message through contract calls.
	SmartContract Protocol = "smart_contract"
)

// Wire names of the sync envelope protocol field. The transaction row keeps
// the Protocol enum; envelopes on the wire use these.
const (
	WireNameOnChain  = "aleph-sync"
	WireNameOffChain = "aleph-offchain-sync"
)

// ProtocolVersion1 is the only envelope version currently spoken.
const ProtocolVersion1 = 1

// ChainTx is a blockchain transaction carrying a sync payload. Rows are
// immutable once written; Hash is unique per chain.
type ChainTx struct {
	Hash            string
	Chain           message.Chain
	Height          int64
	Datetime        time.Time
	Publisher       string
	Protocol        Protocol
	ProtocolVersion int
	Content         string
}

// PendingTx marks a ChainTx whose messages have not all been admitted yet.
// The row is deleted once expansion finishes, so each tx expands at most
// once after commit. The same shape travels on the pending-tx exchange.
type PendingTx struct {
	TxHash string `json:"tx_hash"`
}

// SyncEnvelope is the wire structure published on-chain (or stored
// off-chain) for a batch of messages. Content is either the inline batch or
// a content hash string, depending on the protocol.
type SyncEnvelope struct {
	Protocol string          `json:"protocol"`
	Version  int             `json:"version"`
	Content  json.RawMessage `json:"content"`
}

// SyncContent is the inline form of a SyncEnvelope content field.
type SyncContent struct {
	Messages []json.RawMessage `json:"messages"`
}

// ContractEvent is the payload of a smart-contract sync transaction: one
// event emitted by an indexer-watched contract. For STORE_IPFS events the
// content is the IPFS hash to store.
type ContractEvent struct {
	Timestamp  float64 `json:"timestamp"`
	Addr       string  `json:"addr"`
	MsgType    string  `json:"msgtype"`
	MsgContent string  `json:"msgcontent"`
}

// ContractMsgTypeStoreIPFS is the only contract event kind accepted by the
// chain data service.
const ContractMsgTypeStoreIPFS = "STORE_IPFS"
