package merkle

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

// MerkleRootComputedPayload is published after a BlockValidated event is
// processed into a provable tree (spec §4.6, §6.2).
type MerkleRootComputedPayload struct {
	BlockHash  string `json:"block_hash"`
	MerkleRoot string `json:"merkle_root"`
	LeafCount  int    `json:"leaf_count"`
}

// GetTxHashesForBlockRequestPayload is the request this engine builds for
// storage (see RequestTxHashesForBlock) — C6 is the only authorized
// sender of that request kind and of GetTransactionLocation (spec §6.3), since indexing is a
// consumer of storage's authoritative tx-location index, not the other
// way around.
type GetTxHashesForBlockRequestPayload struct {
	BlockHash string `json:"block_hash"`
}

// Engine indexes validated blocks into provable Merkle trees, reacting
// to BlockValidated the same way C7 and C8 do — indexing, state-root
// computation, and storage are all independent downstream subscribers
// of consensus's output, not sequenced against each other.
type Engine struct {
	b          *bus.Bus
	verifier   *envelope.Verifier
	signingKey []byte
	cache      *Cache
}

// NewEngine creates an indexing Engine backed by an LRU of size
// cacheSize.
func NewEngine(b *bus.Bus, rootKey []byte, cacheSize int) (*Engine, error) {
	key, err := crypto.DeriveSenderKey(rootKey, string(envelope.SenderIndexing))
	if err != nil {
		return nil, err
	}
	return &Engine{
		b:          b,
		verifier:   envelope.NewVerifier(rootKey),
		signingKey: key,
		cache:      NewCache(cacheSize),
	}, nil
}

// Index builds and caches the Merkle tree for a validated block and
// publishes MerkleRootComputed.
func (e *Engine) Index(block *chain.Block) {
	hashes := make([]string, len(block.Transactions))
	for i, tx := range block.Transactions {
		hashes[i] = tx.Hash()
	}
	tree := Build(hashes)
	e.cache.Put(block.Hash, tree)

	payload := MerkleRootComputedPayload{
		BlockHash:  block.Hash,
		MerkleRoot: tree.Root(),
		LeafCount:  tree.LeafCount(),
	}
	out, err := envelope.New(envelope.SenderIndexing, envelope.KindMerkleRootComputed, payload, e.signingKey, time.Now().UnixMilli())
	if err != nil {
		log.Printf("[merkle] build MerkleRootComputed: %v", err)
		return
	}
	e.b.Publish(out)
}

// ProofFor returns an inclusion proof for txIndex within blockHash's
// cached tree, if present.
func (e *Engine) ProofFor(blockHash string, txIndex int) (*Proof, string, bool) {
	tree, ok := e.cache.Get(blockHash)
	if !ok {
		return nil, "", false
	}
	proof, ok := tree.Prove(txIndex)
	if !ok {
		return nil, "", false
	}
	return proof, tree.Root(), true
}

// RequestTxHashesForBlock asks storage for the authoritative transaction
// list of a block this node has not indexed locally, e.g. after
// restarting with a cold cache.
func (e *Engine) RequestTxHashesForBlock(blockHash string) (*envelope.Envelope, error) {
	return envelope.New(envelope.SenderIndexing, envelope.KindGetTxHashesForBlock,
		GetTxHashesForBlockRequestPayload{BlockHash: blockHash}, e.signingKey, time.Now().UnixMilli())
}

// Run subscribes to BlockValidated and indexes each arriving block.
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
		log.Printf("[merkle] rejected BlockValidated from %s: %v", env.SenderID, err)
		return
	}
	var payload consensus.BlockValidatedPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		log.Printf("[merkle] malformed BlockValidated: %v", err)
		return
	}
	if payload.Block == nil {
		return
	}
	e.Index(payload.Block)
}
