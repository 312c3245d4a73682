package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// LoadNodeKey reads the node's ed25519 secret key from a hex file. Both seed
// (32 byte) and expanded (64 byte) encodings are accepted.
func LoadNodeKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, errors.Wrapf(err, "could not read key file %s", path)
	}
	raw := strings.TrimSpace(string(data))
	raw = strings.TrimPrefix(raw, "0x")
	keyBytes, err := hex.DecodeString(raw)
	if err != nil {
		return nil, errors.Wrap(err, "node key is not valid hex")
	}
	switch len(keyBytes) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(keyBytes), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(keyBytes), nil
	default:
		return nil, errors.Errorf("node key must be %d or %d bytes, got %d",
			ed25519.SeedSize, ed25519.PrivateKeySize, len(keyBytes))
	}
}
