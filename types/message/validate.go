package message

import "github.com/pkg/errors"

// ValidateEnvelope checks the well-formedness rules enforced at admission.
// Only the envelope is judged here; content fetching, signatures and typed
// schemas are pipeline concerns.
func (m *Message) ValidateEnvelope() error {
	if m.ItemHash == "" {
		return errors.New("item_hash is required")
	}
	if m.Sender == "" {
		return errors.New("sender is required")
	}
	if !KnownMessageType(m.Type) {
		return errors.Errorf("unknown message type %q", m.Type)
	}
	if !KnownChain(m.Chain) {
		return errors.Errorf("unknown chain %q", m.Chain)
	}
	if !KnownItemType(m.ItemType) {
		return errors.Errorf("unknown item type %q", m.ItemType)
	}
	if m.Time <= 0 {
		return errors.New("message time must be a positive epoch timestamp")
	}
	if !HashMatchesItemType(m.ItemHash, m.ItemType) {
		return errors.Errorf("item hash %s does not match item type %s", m.ItemHash, m.ItemType)
	}

	if m.ItemType == ItemTypeInline {
		if m.ItemContent == "" {
			return errors.New("inline messages require item_content")
		}
		if len(m.ItemContent) > MaxInlineContentSize {
			return errors.Errorf("item content exceeds the %d byte inline limit", MaxInlineContentSize)
		}
		if Sha256Hex([]byte(m.ItemContent)) != m.ItemHash {
			return errors.New("inline item content does not hash to item_hash")
		}
	} else if m.ItemContent != "" {
		return errors.Errorf("item_content is not allowed for %s messages", m.ItemType)
	}
	return nil
}
