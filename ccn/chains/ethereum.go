package chains

import (
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/aleph-im/go-ccn/types/message"
)

// EthereumVerifier recovers the signer of an EIP-191 personal-sign
// signature and compares it to the sender address. All EVM chains sign this
// way.
type EthereumVerifier struct{}

func (EthereumVerifier) Verify(msg *message.Message) error {
	sig, err := hex.DecodeString(strings.TrimPrefix(msg.SignatureString(), "0x"))
	if err != nil {
		return errors.Wrap(err, "malformed signature hex")
	}
	if len(sig) != crypto.SignatureLength {
		return errors.Errorf("signature is %d bytes, want %d", len(sig), crypto.SignatureLength)
	}
	// Wallets emit the yellow-paper V of 27/28; recovery wants 0/1.
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	digest := accounts.TextHash(msg.VerificationBuffer())
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return errors.Wrap(err, "could not recover public key")
	}
	recovered := crypto.PubkeyToAddress(*pub)
	if !strings.EqualFold(recovered.Hex(), msg.Sender) {
		return errors.Errorf("signature recovers %s, sender is %s", recovered.Hex(), msg.Sender)
	}
	return nil
}
