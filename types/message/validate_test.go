package message

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validInlineMessage() Message {
	content := `{"address": "0xabc", "time": 1619017773.0, "type": "blog", "content": {}}`
	sig := "0x1234"
	return Message{
		ItemHash:    Sha256Hex([]byte(content)),
		ItemType:    ItemTypeInline,
		ItemContent: content,
		Type:        PostType,
		Chain:       ChainEthereum,
		Sender:      "0xabc",
		Signature:   &sig,
		Time:        1619017773.0,
	}
}

func TestValidateEnvelope(t *testing.T) {
	msg := validInlineMessage()
	require.NoError(t, msg.ValidateEnvelope())
}

func TestValidateEnvelopeErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Message)
	}{
		{"missing item hash", func(m *Message) { m.ItemHash = "" }},
		{"missing sender", func(m *Message) { m.Sender = "" }},
		{"unknown type", func(m *Message) { m.Type = "SHOUT" }},
		{"unknown chain", func(m *Message) { m.Chain = "MOON" }},
		{"unknown item type", func(m *Message) { m.ItemType = "carrier-pigeon" }},
		{"zero time", func(m *Message) { m.Time = 0 }},
		{"hash mismatch", func(m *Message) { m.ItemContent = `{"tampered": true}` }},
		{"ipfs hash with inline type", func(m *Message) {
			m.ItemHash = "QmaMLRsvmDRCezZe2iebcKWtEzKNjBaQfwcu7mcpdm8eY2"
		}},
		{"inline without content", func(m *Message) { m.ItemContent = "" }},
		{"oversized inline content", func(m *Message) {
			m.ItemContent = strings.Repeat("a", MaxInlineContentSize+1)
			m.ItemHash = Sha256Hex([]byte(m.ItemContent))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := validInlineMessage()
			tt.mutate(&msg)
			assert.Error(t, msg.ValidateEnvelope())
		})
	}
}

func TestValidateEnvelopeStorageMessage(t *testing.T) {
	sig := "0x1234"
	msg := Message{
		ItemHash:  "734a1287a2b7b5be060312ff5b05ad1bcf838950492e3428f2ac6437a1acad26",
		ItemType:  ItemTypeStorage,
		Type:      StoreType,
		Chain:     ChainEthereum,
		Sender:    "0xabc",
		Signature: &sig,
		Time:      1619017773.0,
	}
	require.NoError(t, msg.ValidateEnvelope())

	// Non-inline messages must not embed their content.
	msg.ItemContent = `{"smuggled": true}`
	require.Error(t, msg.ValidateEnvelope())
}
