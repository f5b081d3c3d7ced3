// Package blockstore implements C8, the Block Assembler / Block Storage
// correlator. It is the only component that owns persistent block data;
// every other subsystem reaches it through the bus. It waits for three
// independently-arriving events naming the same block hash, then
// performs a single atomic write and announces durability.
package blockstore

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/choreocore/node/bus"
	"github.com/choreocore/node/consensus"
	"github.com/choreocore/node/crypto"
	"github.com/choreocore/node/envelope"
	"github.com/choreocore/node/merkle"
	"github.com/choreocore/node/stateroot"
	"github.com/choreocore/node/storage"
)

// BlockStoredPayload is published once a block has been durably
// committed.
type BlockStoredPayload struct {
	BlockHash string `json:"block_hash"`
	Height    int64  `json:"height"`
}

// BlockStorageConfirmationPayload tells the mempool which transactions
// can be dropped from the pending-inclusion set.
type BlockStorageConfirmationPayload struct {
	BlockHash string   `json:"block_hash"`
	TxHashes  []string `json:"tx_hashes"`
}

// BlockFinalizedPayload is published after MarkFinalized succeeds.
type BlockFinalizedPayload struct {
	BlockHash string `json:"block_hash"`
	Height    int64  `json:"height"`
}

// AssemblyTimeoutPayload reports a partial assembly that aged out.
type AssemblyTimeoutPayload struct {
	BlockHash string   `json:"block_hash"`
	Missing   []string `json:"missing"`
}

// AssemblyBufferFullPayload reports a tail-dropped BlockValidated.
type AssemblyBufferFullPayload struct {
	BlockHash string `json:"block_hash"`
}

// StorageCriticalPayload reports a pre-write check failure.
type StorageCriticalPayload struct {
	BlockHash string `json:"block_hash"`
	Reason    string `json:"reason"`
}

// MarkFinalizedRequestPayload is the request Finality sends.
type MarkFinalizedRequestPayload struct {
	BlockHash string `json:"block_hash"`
}

// Assembler is C8. Its assembly buffer is single-writer: only the Run
// goroutine ever touches it, so it needs no lock of its own. db is
// shared with storage.StateDB under a disjoint key prefix (see
// record.go); Assembler takes no lock around it either.
type Assembler struct {
	b          *bus.Bus
	verifier   *envelope.Verifier
	signingKey []byte
	db         storage.DB
	cfg        Config

	buf             *assemblyBuffer
	finalizedHeight int64
}

// NewAssembler creates an Assembler backed by db.
func NewAssembler(b *bus.Bus, rootKey []byte, db storage.DB, cfg Config) (*Assembler, error) {
	key, err := crypto.DeriveSenderKey(rootKey, string(envelope.SenderStorage))
	if err != nil {
		return nil, err
	}
	a := &Assembler{
		b:          b,
		verifier:   envelope.NewVerifier(rootKey),
		signingKey: key,
		db:         db,
		cfg:        cfg,
		buf:        newAssemblyBuffer(cfg.MaxPendingAssemblies),
	}
	if h, err := getChecked(db, []byte(keyFinalized)); err == nil {
		a.finalizedHeight = decodeHeight(h)
	}
	return a, nil
}

// Run processes every envelope the Assembler cares about from a single
// inbox subscription, matching the spec's "tagged variant messages in
// one inbox" correlator design, plus a GC ticker for assembly timeouts.
func (a *Assembler) Run(ctx context.Context) {
	sub := a.b.Subscribe(bus.Filter{})
	defer a.b.Unsubscribe(sub)

	sweepInterval := a.cfg.AssemblyTimeout / 2
	if sweepInterval <= 0 {
		sweepInterval = time.Second
	}
	gc := time.NewTicker(sweepInterval)
	defer gc.Stop()

	nonceGC := time.NewTicker(time.Minute)
	defer nonceGC.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-gc.C:
			a.sweepExpired(time.Now())
		case <-nonceGC.C:
			a.verifier.GC()
		case env, ok := <-sub.C():
			if !ok {
				return
			}
			a.dispatch(env)
		}
	}
}

func (a *Assembler) dispatch(env *envelope.Envelope) {
	// ReadBlock and ReadBlockRange replies reuse the request's kind; the
	// Assembler must not take its own replies for new requests.
	if env.SenderID == envelope.SenderStorage {
		return
	}
	switch env.Kind {
	case envelope.KindBlockValidated:
		a.handleBlockValidated(env)
	case envelope.KindMerkleRootComputed:
		a.handleMerkleRootComputed(env)
	case envelope.KindStateRootComputed:
		a.handleStateRootComputed(env)
	case envelope.KindMarkFinalizedRequest:
		a.handleMarkFinalized(env)
	case envelope.KindReadBlock:
		a.handleReadBlock(env)
	case envelope.KindReadBlockRange:
		a.handleReadBlockRange(env)
	case envelope.KindGetTransactionLocation:
		a.handleGetTransactionLocation(env)
	case envelope.KindGetTxHashesForBlock:
		a.handleGetTxHashesForBlock(env)
	}
}

func (a *Assembler) authorize(env *envelope.Envelope) bool {
	if err := a.verifier.VerifyAndAuthorize(env); err != nil {
		log.Printf("[blockstore] rejected envelope %s from %s: %v", env.Kind, env.SenderID, err)
		return false
	}
	return true
}

func (a *Assembler) handleBlockValidated(env *envelope.Envelope) {
	if !a.authorize(env) {
		return
	}
	var payload consensus.BlockValidatedPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil || payload.Block == nil {
		log.Printf("[blockstore] malformed BlockValidated: %v", err)
		return
	}

	now := time.Now()
	entry, ok := a.buf.getOrCreate(payload.BlockHash, payload.Height, now)
	if !ok {
		a.publishBufferFull(payload.BlockHash)
		return
	}
	entry.block = payload.Block
	a.maybeComplete(entry)
}

func (a *Assembler) handleMerkleRootComputed(env *envelope.Envelope) {
	if !a.authorize(env) {
		return
	}
	var payload merkle.MerkleRootComputedPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		log.Printf("[blockstore] malformed MerkleRootComputed: %v", err)
		return
	}
	now := time.Now()
	entry, ok := a.buf.getOrCreate(payload.BlockHash, 0, now)
	if !ok {
		a.publishBufferFull(payload.BlockHash)
		return
	}
	entry.merkleRoot = payload.MerkleRoot
	entry.hasMerkle = true
	a.maybeComplete(entry)
}

func (a *Assembler) handleStateRootComputed(env *envelope.Envelope) {
	if !a.authorize(env) {
		return
	}
	var payload stateroot.StateRootComputedPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		log.Printf("[blockstore] malformed StateRootComputed: %v", err)
		return
	}
	now := time.Now()
	entry, ok := a.buf.getOrCreate(payload.BlockHash, 0, now)
	if !ok {
		a.publishBufferFull(payload.BlockHash)
		return
	}
	entry.stateRoot = payload.StateRoot
	entry.hasState = true
	a.maybeComplete(entry)
}

// maybeComplete performs the atomic write once all three legs of an
// assembly have arrived, then discards the entry either way on success
// or permanent failure (malformed pre-checks never get another chance
// at the same hash; the source events will not replay spontaneously).
func (a *Assembler) maybeComplete(entry *pendingAssembly) {
	if !entry.complete() {
		return
	}
	defer a.buf.delete(entry.blockHash)

	if err := a.commit(entry); err != nil {
		log.Printf("[blockstore] commit %s failed: %v", entry.blockHash, err)
	}
}

func (a *Assembler) sweepExpired(now time.Time) {
	for _, hash := range a.buf.expired(now, a.cfg.AssemblyTimeout) {
		entry := a.buf.entries[hash]
		a.buf.delete(hash)
		a.publishTimeout(hash, entry.missing())
	}
}

func decodeHeight(raw []byte) int64 {
	var h int64
	_ = json.Unmarshal(raw, &h)
	return h
}
