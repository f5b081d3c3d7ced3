package stateroot

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/choreocore/node/bus"
	"github.com/choreocore/node/chain"
	"github.com/choreocore/node/consensus"
	"github.com/choreocore/node/crypto"
	"github.com/choreocore/node/envelope"
)

// StateRootComputedPayload is published once a block's candidate state
// root has been computed (spec §4.4, §6.1).
type StateRootComputedPayload struct {
	BlockHash string `json:"block_hash"`
	StateRoot string `json:"state_root"`
}

// Engine computes state roots. ComputeForBlock/PublishComputed support
// the pre-signature production path, where a root must be stamped into
// a block's header before it is hashed and signed. Run drives the
// reactive path: once consensus has validated a block, Engine
// re-derives its root independently rather than trusting the header.
type Engine struct {
	b          *bus.Bus
	verifier   *envelope.Verifier
	signingKey []byte
	store      Store
}

// NewEngine creates a state-root Engine over store.
func NewEngine(b *bus.Bus, rootKey []byte, store Store) (*Engine, error) {
	key, err := crypto.DeriveSenderKey(rootKey, string(envelope.SenderState))
	if err != nil {
		return nil, err
	}
	return &Engine{b: b, verifier: envelope.NewVerifier(rootKey), signingKey: key, store: store}, nil
}

// ComputeForBlock computes the root for block given txApplies (the
// balance/nonce deltas its transactions produce) and stamps it onto
// block.Header.StateRoot. This must run before the block is hashed and
// signed, the same ordering the block-production path this was
// generalized from relies on, so StateRootComputed cannot be published
// yet here — block.Hash is still empty at this point.
func (e *Engine) ComputeForBlock(block *chain.Block, txApplies []Apply) string {
	root := Compute(e.store, txApplies)
	block.Header.StateRoot = root
	return root
}

// PublishComputed announces a state root for a now-signed (and so
// hash-bearing) block. Call this after ComputeForBlock and after the
// block has been hashed and signed.
func (e *Engine) PublishComputed(block *chain.Block) {
	out, err := envelope.New(envelope.SenderState, envelope.KindStateRootComputed,
		StateRootComputedPayload{BlockHash: block.Hash, StateRoot: block.Header.StateRoot},
		e.signingKey, time.Now().UnixMilli())
	if err != nil {
		log.Printf("[stateroot] build StateRootComputed: %v", err)
		return
	}
	e.b.Publish(out)
}

// Run subscribes to BlockValidated and independently re-derives the
// state root for each arriving block, rather than trusting the root the
// proposer already stamped into the header. This is C7's half of the
// zero-trust posture the signature path (sigverify) also follows: a
// subsystem downstream of consensus re-computes rather than re-reads.
func (e *Engine) Run(ctx context.Context) {
	sub := e.b.Subscribe(bus.Filter{Kind: envelope.KindBlockValidated})
	defer e.b.Unsubscribe(sub)

	gc := time.NewTicker(time.Minute)
	defer gc.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-gc.C:
			e.verifier.GC()
		case env, ok := <-sub.C():
			if !ok {
				return
			}
			e.handleBlockValidated(env)
		}
	}
}

func (e *Engine) handleBlockValidated(env *envelope.Envelope) {
	if err := e.verifier.VerifyAndAuthorize(env); err != nil {
		log.Printf("[stateroot] rejected BlockValidated from %s: %v", env.SenderID, err)
		return
	}
	var payload consensus.BlockValidatedPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		log.Printf("[stateroot] malformed BlockValidated: %v", err)
		return
	}
	if payload.Block == nil {
		return
	}

	applies := ApplyTransactions(e.store, payload.Block.Transactions)
	root := Compute(e.store, applies)

	out, err := envelope.New(envelope.SenderState, envelope.KindStateRootComputed,
		StateRootComputedPayload{BlockHash: payload.BlockHash, StateRoot: root},
		e.signingKey, time.Now().UnixMilli())
	if err != nil {
		log.Printf("[stateroot] build StateRootComputed: %v", err)
		return
	}
	e.b.Publish(out)
}
