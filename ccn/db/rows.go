package db

import (
	"encoding/json"
	"time"

	"github.com/aleph-im/go-ccn/types/message"
)

// AggregateElement is one aggregate message's contribution to a keyed
// aggregate, kept so the merged view can be recomputed.
type AggregateElement struct {
	ItemHash         string
	Key              string
	Owner            string
	Content          json.RawMessage
	CreationDatetime time.Time
}

// Aggregate is the merged view of every element sharing (key, owner).
// Dirty marks views that received an out-of-order element and need a full
// recompute.
type Aggregate struct {
	Key              string
	Owner            string
	Content          json.RawMessage
	CreationDatetime time.Time
	LastRevisionHash string
	Dirty            bool
}

// Post is a processed post message, possibly amending an earlier one.
type Post struct {
	ItemHash         string
	Owner            string
	PostType         string
	Ref              *string
	Amends           *string
	Channel          string
	Content          json.RawMessage
	CreationDatetime time.Time
}

// VM is the derived row of a processed program or instance message.
type VM struct {
	ItemHash       string
	Owner          string
	Type           message.MessageType
	AllowAmend     bool
	Replaces       *string
	Environment    message.Environment
	Resources      message.Resources
	Variables      map[string]string
	AuthorizedKeys []string
	Rootfs         *VMRootfs
	Program        *VMProgram
	Volumes        []VMVolume
	Created        time.Time
}

// VMRootfs describes the root filesystem of an instance.
type VMRootfs struct {
	ParentRef       string
	ParentUseLatest bool
	Persistence     string
	SizeMib         int64
}

// VMProgram carries the program-only columns of a VM row.
type VMProgram struct {
	CodeRef        string
	CodeEncoding   string
	CodeEntrypoint string
	RuntimeRef     string
	DataRef        *string
	HTTPTrigger    bool
	Persistent     bool
}

// VMVolume is one declared volume of a VM, flattened across the three
// volume kinds.
type VMVolume struct {
	Kind        string
	Comment     string
	Mount       string
	Ref         string
	UseLatest   bool
	ParentRef   *string
	Persistence string
	Name        string
	SizeMib     int64
}

// VMVersion points a program ref at the item hash of its newest version.
// The ref of the first version of a program is its own item hash; later
// versions keep the ref through their replaces field.
type VMVersion struct {
	VMHash         string
	Owner          string
	CurrentVersion string
	LastUpdated    time.Time
}
