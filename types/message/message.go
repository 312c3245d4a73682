// Package message defines the aleph message domain: the wire envelope, typed
// content schemas, pending rows, status transitions and rejection codes shared
// by the chain-sync engine and the pending-message pipeline.
package message

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType discriminates the payload schema of a message.
type MessageType string

// ItemType tells where the message content lives: embedded in the envelope,
// in local content-addressed storage, or on IPFS.
type ItemType string

// Chain identifies the network a sender address (or confirming tx) belongs to.
type Chain string

// Status is the lifecycle state tracked in message_status.
type Status string

// Origin records which ingress path admitted a pending message.
type Origin string

const (
	AggregateType MessageType = "AGGREGATE"
	ForgetType    MessageType = "FORGET"
	PostType      MessageType = "POST"
	ProgramType   MessageType = "PROGRAM"
	StoreType     MessageType = "STORE"
	InstanceType  MessageType = "INSTANCE"

	ItemTypeInline  ItemType = "inline"
	ItemTypeStorage ItemType = "storage"
	ItemTypeIPFS    ItemType = "ipfs"

	ChainArbitrum Chain = "ARB"
	ChainAvax     Chain = "AVAX"
	ChainBase     Chain = "BASE"
	ChainBsc      Chain = "BSC"
	ChainCosmos   Chain = "CSDK"
	ChainEthereum Chain = "ETH"
	ChainNuls2    Chain = "NULS2"
	ChainPolkadot Chain = "DOT"
	ChainSolana   Chain = "SOL"
	ChainTezos    Chain = "TEZOS"

	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusRejected  Status = "rejected"
	StatusForgotten Status = "forgotten"
	StatusRemoving  Status = "removing"

	OriginOnChain Origin = "onchain"
	OriginP2P     Origin = "p2p"
	OriginAPI     Origin = "api"
	OriginIPFS    Origin = "ipfs"
)

var messageTypes = map[MessageType]bool{
	AggregateType: true,
	ForgetType:    true,
	PostType:      true,
	ProgramType:   true,
	StoreType:     true,
	InstanceType:  true,
}

var itemTypes = map[ItemType]bool{
	ItemTypeInline:  true,
	ItemTypeStorage: true,
	ItemTypeIPFS:    true,
}

var chains = map[Chain]bool{
	ChainArbitrum: true,
	ChainAvax:     true,
	ChainBase:     true,
	ChainBsc:      true,
	ChainCosmos:   true,
	ChainEthereum: true,
	ChainNuls2:    true,
	ChainPolkadot: true,
	ChainSolana:   true,
	ChainTezos:    true,
}

// KnownMessageType reports whether t is part of the wire protocol.
func KnownMessageType(t MessageType) bool { return messageTypes[t] }

// KnownItemType reports whether t is part of the wire protocol.
func KnownItemType(t ItemType) bool { return itemTypes[t] }

// KnownChain reports whether c is a network this node accepts senders from.
func KnownChain(c Chain) bool { return chains[c] }

// Confirmation records that a message was observed on-chain in a given tx.
// The embedded form (chain/hash/height) is what gets serialized back out to
// peers; persistence keys on (item_hash, tx_hash) only.
type Confirmation struct {
	Chain  Chain  `json:"chain"`
	Hash   string `json:"hash"`
	Height int64  `json:"height"`
}

// Message is the aleph message envelope. The same shape travels in sync
// envelopes, broker bodies and the messages table; Content and Size are only
// populated once the pipeline has fetched and validated the item content.
//
// Unknown fields in incoming JSON are dropped by construction: the authorized
// field set on admission is exactly the tagged fields of this struct.
type Message struct {
	ItemHash    string      `json:"item_hash"`
	ItemType    ItemType    `json:"item_type"`
	ItemContent string      `json:"item_content,omitempty"`
	Type        MessageType `json:"type"`
	Chain       Chain       `json:"chain"`
	Sender      string      `json:"sender"`
	Signature   *string     `json:"signature"`
	Time        float64     `json:"time"`
	Channel     string      `json:"channel,omitempty"`

	Content       json.RawMessage `json:"content,omitempty"`
	Size          int64           `json:"size,omitempty"`
	Confirmations []Confirmation  `json:"confirmations,omitempty"`
}

// VerificationBuffer is the byte string signed by the sender. Every chain
// signs the same buffer; only the signature scheme differs.
func (m *Message) VerificationBuffer() []byte {
	return []byte(fmt.Sprintf("%s\n%s\n%s\n%s", m.Chain, m.Sender, m.Type, m.ItemHash))
}

// TimeAsTime converts the epoch-seconds message time to a time.Time.
func (m *Message) TimeAsTime() time.Time {
	return EpochTime(m.Time)
}

// EpochTime converts epoch seconds with an optional fraction to a UTC time.
func EpochTime(epoch float64) time.Time {
	sec, frac := int64(epoch), epoch-float64(int64(epoch))
	return time.Unix(sec, int64(frac*float64(time.Second))).UTC()
}

// SignatureString returns the signature or "" when the field is null.
func (m *Message) SignatureString() string {
	if m.Signature == nil {
		return ""
	}
	return *m.Signature
}

// PendingMessage is a message admitted into the durable pending queue plus
// the bookkeeping the pipeline needs to fetch, retry and deduplicate it.
type PendingMessage struct {
	Message

	ID            int64
	ReceptionTime time.Time
	Retries       int
	NextAttempt   time.Time
	Fetched       bool
	CheckMessage  bool
	Origin        Origin

	// Confirming tx, when the message arrived through chain sync.
	TxHash       string
	SourceChain  Chain
	SourceHeight int64
}

// LogicalKey is the deduplication identity of a pending message. Messages
// admitted outside chain sync carry an empty chain and height -1. The JSON
// form doubles as the broker wakeup body for admitted messages.
type LogicalKey struct {
	ItemHash     string `json:"item_hash"`
	Sender       string `json:"sender"`
	SourceChain  Chain  `json:"source_chain,omitempty"`
	SourceHeight int64  `json:"source_height"`
}

func (k LogicalKey) String() string {
	return fmt.Sprintf("%s:%s:%s:%d", k.ItemHash, k.Sender, k.SourceChain, k.SourceHeight)
}

// Key returns the logical key of the pending message.
func (p *PendingMessage) Key() LogicalKey {
	return LogicalKey{
		ItemHash:     p.ItemHash,
		Sender:       p.Sender,
		SourceChain:  p.SourceChain,
		SourceHeight: p.SourceHeight,
	}
}

// StatusRow is the single source of truth for a message's lifecycle state.
type StatusRow struct {
	ItemHash      string
	Status        Status
	ReceptionTime time.Time
}

// RejectedMessage keeps the raw envelope of a permanently refused message
// together with the machine-readable reason.
type RejectedMessage struct {
	ItemHash  string
	Message   json.RawMessage
	ErrorCode ErrorCode
	Details   map[string]interface{}
	Traceback string
}

// ForgottenMessage is the tombstone left when a forget message clears a
// target. The envelope fields survive for audit; the content does not.
type ForgottenMessage struct {
	ItemHash  string
	Type      MessageType
	Chain     Chain
	Sender    string
	Signature *string
	ItemType  ItemType
	Time      float64
	Channel   string

	ForgottenBy []string
}
