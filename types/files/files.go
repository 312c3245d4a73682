// Package files defines the content-addressed file records tracked by the
// node: stored blobs, the pins holding them alive, and mutable tags binding
// a name to the latest content.
package files

import "time"

// FileType distinguishes flat blobs from IPFS directories.
type FileType string

// PinType records what kind of object holds a pin on a file.
type PinType string

const (
	FileTypeFile      FileType = "file"
	FileTypeDirectory FileType = "directory"

	// PinTypeTx pins the off-chain archive of a sync transaction.
	PinTypeTx PinType = "tx"
	// PinTypeMessage pins the file referenced by a store message.
	PinTypeMessage PinType = "message"
	// PinTypeContent pins the non-inline item content of a message.
	PinTypeContent PinType = "content"
)

// StoredFile is one content-addressed blob known to the node.
type StoredFile struct {
	Hash string
	Type FileType
	Size int64
}

// FilePin keeps a StoredFile alive. A file with no remaining pins is
// eligible for garbage collection.
type FilePin struct {
	ID       int64
	FileHash string
	Type     PinType
	Created  time.Time

	// TxHash is set for tx pins.
	TxHash string
	// Owner and ItemHash are set for message and content pins.
	Owner    string
	ItemHash string
	// Ref ties a message pin to the logical artifact it updates; tags
	// resolve through it.
	Ref *string
}

// FileTag binds a stable name to the most recent file uploaded for it.
// Volume references with use_latest resolve through tags instead of pins.
type FileTag struct {
	Tag      string
	Owner    string
	FileHash string
	Updated  time.Time
}
