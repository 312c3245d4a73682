package message

import (
	"encoding/hex"
	"strings"

	sha256 "github.com/minio/sha256-simd"
	"github.com/pkg/errors"
)

// MaxInlineContentSize bounds item_content for inline messages. Larger
// payloads must go through storage or IPFS.
const MaxInlineContentSize = 200_000

// Sha256Hex returns the lowercase hex sha256 of data, the hash scheme used
// for inline item hashes and storage keys.
func Sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// ItemTypeFromHash infers where content for the given hash can live. CIDv0
// and CIDv1 hashes resolve on IPFS, 64-char sha256 hex resolves in local
// storage.
func ItemTypeFromHash(hash string) (ItemType, error) {
	switch {
	case strings.HasPrefix(hash, "Qm") && len(hash) >= 44 && len(hash) <= 46:
		return ItemTypeIPFS, nil
	case strings.HasPrefix(hash, "bafy") && len(hash) == 59:
		return ItemTypeIPFS, nil
	case len(hash) == 64 && isHex(hash):
		return ItemTypeStorage, nil
	default:
		return "", errors.Errorf("unknown hash shape: %s", hash)
	}
}

// HashMatchesItemType reports whether the declared item type is compatible
// with the hash shape. Inline hashes are sha256 hex, like storage hashes.
func HashMatchesItemType(hash string, itemType ItemType) bool {
	inferred, err := ItemTypeFromHash(hash)
	if err != nil {
		return false
	}
	if itemType == ItemTypeInline {
		return inferred == ItemTypeStorage
	}
	return inferred == itemType
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}
