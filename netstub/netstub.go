// Package netstub stands in for Block Propagation and Peer Discovery,
// the two peripheral collaborators spec §1 keeps explicitly outside the
// nine core components. It is deliberately thin: just enough to build a
// candidate block from mempool, collect validator attestations over it,
// and publish the one request (ValidateBlockRequest) that crosses into
// the core's bus from the outside, so the full choreography can be
// exercised end to end without a real P2P transport.
package netstub

import (
	"fmt"
	"time"

	"github.com/choreocore/node/bus"
	"github.com/choreocore/node/chain"
	"github.com/choreocore/node/consensus"
	"github.com/choreocore/node/crypto"
	"github.com/choreocore/node/envelope"
	"github.com/choreocore/node/mempool"
	"github.com/choreocore/node/sigverify"
)

// Proposer assembles and submits candidate blocks. It holds no
// consensus state of its own — Tip must be supplied by whoever is
// tracking the chain head (blockstore, via a ReadBlock request, in a
// real deployment).
type Proposer struct {
	b          *bus.Bus
	signingKey []byte
}

// New derives Block Propagation's envelope signing key from rootKey.
func New(b *bus.Bus, rootKey []byte) (*Proposer, error) {
	key, err := crypto.DeriveSenderKey(rootKey, string(envelope.SenderBlockPropagation))
	if err != nil {
		return nil, err
	}
	return &Proposer{b: b, signingKey: key}, nil
}

// BuildCandidateBlock pulls the highest-priority transactions out of
// pool under gasLimit and assembles and signs an unvalidated block on
// top of tip.
func BuildCandidateBlock(pool *mempool.Pool, tip consensus.Tip, proposerPriv crypto.PrivateKey, gasLimit uint64) *chain.Block {
	height := tip.Height + 1
	txs := pool.GetForBlock(height, gasLimit)
	block := chain.NewBlock(height, tip.Hash, proposerPriv.Public().Hex(), txs)
	block.Sign(proposerPriv)
	return block
}

// Attest signs block's hash on behalf of every supplied validator key,
// under the block-proposal domain, producing the attestation batch a
// real validator set would gossip over P2P.
func Attest(block *chain.Block, validatorIDs []string, keys []*sigverify.BLSPrivateKey) ([]sigverify.Attestation, error) {
	if len(validatorIDs) != len(keys) {
		return nil, fmt.Errorf("netstub: %d validator IDs but %d keys", len(validatorIDs), len(keys))
	}
	atts := make([]sigverify.Attestation, len(keys))
	for i, key := range keys {
		sig := key.Sign(sigverify.DomainAttestation, []byte(block.Hash))
		atts[i] = sigverify.Attestation{ValidatorID: validatorIDs[i], BlockHash: block.Hash, Signature: sig.Bytes()}
	}
	return atts, nil
}

// Submit publishes a ValidateBlockRequest for block, the sole point
// where this stub's activity crosses into the core's event bus.
func (p *Proposer) Submit(block *chain.Block, tip consensus.Tip, validators *chain.ValidatorSet, atts []sigverify.Attestation) error {
	env, err := envelope.New(envelope.SenderBlockPropagation, envelope.KindValidateBlockRequest,
		consensus.ValidateBlockRequestPayload{Block: block, Tip: tip, Validators: validators, Attestations: atts},
		p.signingKey, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("netstub: build ValidateBlockRequest: %w", err)
	}
	p.b.Publish(env)
	return nil
}
