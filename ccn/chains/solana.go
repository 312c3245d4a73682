package chains

import (
	"crypto/ed25519"
	"encoding/json"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/aleph-im/go-ccn/types/message"
)

// SolanaVerifier checks ed25519 signatures. The signature field is a JSON
// object carrying the base58 signature and the signing public key, which
// must be the sender address itself.
type SolanaVerifier struct{}

type solanaSignature struct {
	Signature string `json:"signature"`
	PublicKey string `json:"publicKey"`
}

func (SolanaVerifier) Verify(msg *message.Message) error {
	var sig solanaSignature
	if err := json.Unmarshal([]byte(msg.SignatureString()), &sig); err != nil {
		return errors.Wrap(err, "malformed signature object")
	}
	if sig.PublicKey != msg.Sender {
		return errors.Errorf("signing key %s is not the sender %s", sig.PublicKey, msg.Sender)
	}
	pub, err := base58.Decode(sig.PublicKey)
	if err != nil {
		return errors.Wrap(err, "malformed public key")
	}
	if len(pub) != ed25519.PublicKeySize {
		return errors.Errorf("public key is %d bytes, want %d", len(pub), ed25519.PublicKeySize)
	}
	raw, err := base58.Decode(sig.Signature)
	if err != nil {
		return errors.Wrap(err, "malformed signature")
	}
	if !ed25519.Verify(pub, msg.VerificationBuffer(), raw) {
		return errors.New("signature does not verify")
	}
	return nil
}
