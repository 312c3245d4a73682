package chains

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"

	sha256 "github.com/minio/sha256-simd"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"

	"github.com/aleph-im/go-ccn/types/message"
)

// Tezos base58check prefixes.
var (
	prefixEdpk  = []byte{13, 15, 37, 217}   // ed25519 public key
	prefixTz1   = []byte{6, 161, 159}       // ed25519 public key hash
	prefixEdsig = []byte{9, 245, 205, 134, 18} // ed25519 signature
	prefixSig   = []byte{4, 130, 43}        // generic signature
)

// TezosVerifier checks ed25519 signatures over the blake2b digest of the
// verification buffer. The signature field carries the edpk public key,
// whose tz1 hash must be the sender address.
type TezosVerifier struct{}

type tezosSignature struct {
	Signature string `json:"signature"`
	PublicKey string `json:"publicKey"`
}

func (TezosVerifier) Verify(msg *message.Message) error {
	var sig tezosSignature
	if err := json.Unmarshal([]byte(msg.SignatureString()), &sig); err != nil {
		return errors.Wrap(err, "malformed signature object")
	}
	pub, err := base58CheckDecode(sig.PublicKey, prefixEdpk)
	if err != nil {
		return errors.Wrap(err, "malformed public key")
	}
	if len(pub) != ed25519.PublicKeySize {
		return errors.Errorf("public key is %d bytes, want %d", len(pub), ed25519.PublicKeySize)
	}
	if keyHash(pub) != msg.Sender {
		return errors.Errorf("signing key hashes to %s, sender is %s", keyHash(pub), msg.Sender)
	}
	raw, err := base58CheckDecode(sig.Signature, prefixEdsig)
	if err != nil {
		// Wallets may emit the scheme-agnostic sig encoding instead.
		raw, err = base58CheckDecode(sig.Signature, prefixSig)
		if err != nil {
			return errors.Wrap(err, "malformed signature")
		}
	}
	digest := blake2b.Sum256(msg.VerificationBuffer())
	if !ed25519.Verify(pub, digest[:], raw) {
		return errors.New("signature does not verify")
	}
	return nil
}

// keyHash derives the tz1 address of an ed25519 public key: a 20-byte
// blake2b digest under the tz1 prefix.
func keyHash(pub []byte) string {
	h, _ := blake2b.New(20, nil)
	h.Write(pub)
	return base58CheckEncode(prefixTz1, h.Sum(nil))
}

func base58CheckDecode(s string, prefix []byte) ([]byte, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, err
	}
	if len(raw) < len(prefix)+4 {
		return nil, errors.New("encoded value too short")
	}
	payload, checksum := raw[:len(raw)-4], raw[len(raw)-4:]
	h1 := sha256.Sum256(payload)
	h2 := sha256.Sum256(h1[:])
	if !bytes.Equal(checksum, h2[:4]) {
		return nil, errors.New("checksum mismatch")
	}
	if !bytes.HasPrefix(payload, prefix) {
		return nil, errors.New("unexpected prefix")
	}
	return payload[len(prefix):], nil
}

func base58CheckEncode(prefix, payload []byte) string {
	data := append(append([]byte{}, prefix...), payload...)
	h1 := sha256.Sum256(data)
	h2 := sha256.Sum256(h1[:])
	return base58.Encode(append(data, h2[:4]...))
}
