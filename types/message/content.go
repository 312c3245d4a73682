package message

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// Content is the parsed, typed item content of a message. The concrete type
// is selected by the message type; raw JSON stays available on the Message
// row for forward compatibility with unknown fields.
type Content interface {
	ContentType() MessageType
	// Owner is the address the content claims to act for. It must match the
	// envelope sender unless an explicit delegation exists.
	Owner() string
	validate() error
}

// ParseContent decodes and validates item content for the given message
// type. A nil error means the content satisfies the type's schema.
func ParseContent(msgType MessageType, data []byte) (Content, error) {
	var c Content
	switch msgType {
	case AggregateType:
		c = &AggregateContent{}
	case PostType:
		c = &PostContent{}
	case StoreType:
		c = &StoreContent{}
	case ProgramType:
		c = &ProgramContent{}
	case InstanceType:
		c = &InstanceContent{}
	case ForgetType:
		c = &ForgetContent{}
	default:
		return nil, errors.Errorf("unsupported message type: %s", msgType)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, errors.Wrapf(err, "could not decode %s content", msgType)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// BaseContent carries the fields common to every content schema.
type BaseContent struct {
	Address string  `json:"address"`
	Time    float64 `json:"time"`
}

func (b *BaseContent) Owner() string { return b.Address }

func (b *BaseContent) validateBase() error {
	if b.Address == "" {
		return errors.New("content address is required")
	}
	return nil
}

// AggregateContent declares one element of a keyed aggregate owned by an
// address. Elements with the same (owner, key) merge by content time.
type AggregateContent struct {
	BaseContent
	Key     string          `json:"key"`
	Content json.RawMessage `json:"content"`
}

func (*AggregateContent) ContentType() MessageType { return AggregateType }

func (c *AggregateContent) validate() error {
	if err := c.validateBase(); err != nil {
		return err
	}
	if c.Key == "" {
		return errors.New("aggregate key is required")
	}
	if len(c.Content) == 0 {
		return errors.New("aggregate content is required")
	}
	return nil
}

// UnmarshalJSON accepts numeric aggregate keys and coerces them to their
// decimal string form, as senders in the wild use both.
func (c *AggregateContent) UnmarshalJSON(data []byte) error {
	type alias AggregateContent
	aux := struct {
		Key json.RawMessage `json:"key"`
		*alias
	}{alias: (*alias)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Key) == 0 {
		return nil
	}
	if aux.Key[0] == '"' {
		return json.Unmarshal(aux.Key, &c.Key)
	}
	c.Key = string(bytes.TrimSpace(aux.Key))
	return nil
}

// PostContent is user-defined content, optionally amending a previous post
// referenced by Ref.
type PostContent struct {
	BaseContent
	PostType string          `json:"type"`
	Ref      *string         `json:"ref,omitempty"`
	Content  json.RawMessage `json:"content,omitempty"`
}

func (*PostContent) ContentType() MessageType { return PostType }

func (c *PostContent) validate() error {
	if err := c.validateBase(); err != nil {
		return err
	}
	if c.PostType == "" {
		return errors.New("post type is required")
	}
	if c.PostType == "amend" && c.Ref == nil {
		return errors.New("amend posts require a ref")
	}
	return nil
}

// StoreContent pins a content-addressed file on the network.
type StoreContent struct {
	BaseContent
	ItemType ItemType `json:"item_type"`
	ItemHash string   `json:"item_hash"`
	Ref      *string  `json:"ref,omitempty"`
}

func (*StoreContent) ContentType() MessageType { return StoreType }

func (c *StoreContent) validate() error {
	if err := c.validateBase(); err != nil {
		return err
	}
	if c.ItemHash == "" {
		return errors.New("store item_hash is required")
	}
	if c.ItemType != ItemTypeStorage && c.ItemType != ItemTypeIPFS {
		return errors.Errorf("store item_type must be storage or ipfs, got %q", c.ItemType)
	}
	return nil
}

// ForgetContent asks the network to drop previously processed messages
// and/or whole aggregate keys owned by the sender.
type ForgetContent struct {
	BaseContent
	Hashes     []string `json:"hashes"`
	Aggregates []string `json:"aggregates,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

func (*ForgetContent) ContentType() MessageType { return ForgetType }

func (c *ForgetContent) validate() error {
	if err := c.validateBase(); err != nil {
		return err
	}
	if len(c.Hashes) == 0 && len(c.Aggregates) == 0 {
		return errors.New("forget requires at least one hash or aggregate")
	}
	return nil
}
