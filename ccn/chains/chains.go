// Package chains verifies message signatures. Every chain signs the same
// verification buffer; only the signature scheme and the sender address
// derivation differ per chain family.
package chains

import (
	"github.com/pkg/errors"

	"github.com/aleph-im/go-ccn/types/message"
)

// Verifier checks the signature of one chain family.
type Verifier interface {
	Verify(msg *message.Message) error
}

// Registry routes messages to the verifier of their chain. Chains without a
// registered verifier fail verification.
type Registry struct {
	verifiers map[message.Chain]Verifier
}

// NewRegistry returns a registry with the supported chain families wired:
// the EVM chains share the Ethereum scheme, Solana and Tezos use ed25519.
func NewRegistry() *Registry {
	eth := EthereumVerifier{}
	return &Registry{verifiers: map[message.Chain]Verifier{
		message.ChainEthereum: eth,
		message.ChainArbitrum: eth,
		message.ChainAvax:     eth,
		message.ChainBase:     eth,
		message.ChainBsc:      eth,
		message.ChainSolana:   SolanaVerifier{},
		message.ChainTezos:    TezosVerifier{},
	}}
}

// Verify checks msg's signature against its sender.
func (r *Registry) Verify(msg *message.Message) error {
	if msg.SignatureString() == "" {
		return errors.New("missing signature")
	}
	v, ok := r.verifiers[msg.Chain]
	if !ok {
		return errors.Errorf("no signature verifier for chain %s", msg.Chain)
	}
	return v.Verify(msg)
}
