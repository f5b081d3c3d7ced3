package blockstore

import (
	"time"

	"github.com/choreocore/node/chain"
)

// pendingAssembly is spec §3's PendingAssembly(H): a partially-arrived
// set of the three independent events a stored block is correlated
// from. Fields are populated as BlockValidated, MerkleRootComputed, and
// StateRootComputed arrive in any order.
type pendingAssembly struct {
	blockHash string
	height    int64
	startedAt time.Time

	block      *chain.Block
	merkleRoot string
	hasMerkle  bool
	stateRoot  string
	hasState   bool
}

// complete reports whether all three legs have arrived.
func (p *pendingAssembly) complete() bool {
	return p.block != nil && p.hasMerkle && p.hasState
}

// missing names the legs not yet received, for AssemblyTimeout's report.
func (p *pendingAssembly) missing() []string {
	var m []string
	if p.block == nil {
		m = append(m, "validated_block")
	}
	if !p.hasMerkle {
		m = append(m, "merkle_root")
	}
	if !p.hasState {
		m = append(m, "state_root")
	}
	return m
}

// assemblyBuffer is the bounded block_hash -> pendingAssembly map (spec
// §3's bounded-memory table). It is single-writer: the Assembler's Run
// loop is the only goroutine that ever touches it, so no mutex guards it
// — mirroring the spec's "single-writer correlator task" design note.
type assemblyBuffer struct {
	entries map[string]*pendingAssembly
	order   []string // insertion order, for deterministic GC sweep
	cap     int
}

func newAssemblyBuffer(capacity int) *assemblyBuffer {
	return &assemblyBuffer{
		entries: make(map[string]*pendingAssembly),
		cap:     capacity,
	}
}

// getOrCreate returns the entry for hash, creating one if there is room.
// ok is false when the buffer is full and hash is not already present —
// the caller must tail-drop and publish AssemblyBufferFull.
func (ab *assemblyBuffer) getOrCreate(hash string, height int64, now time.Time) (*pendingAssembly, bool) {
	if p, exists := ab.entries[hash]; exists {
		return p, true
	}
	if len(ab.entries) >= ab.cap {
		return nil, false
	}
	p := &pendingAssembly{blockHash: hash, height: height, startedAt: now}
	ab.entries[hash] = p
	ab.order = append(ab.order, hash)
	return p, true
}

func (ab *assemblyBuffer) delete(hash string) {
	delete(ab.entries, hash)
	for i, h := range ab.order {
		if h == hash {
			ab.order = append(ab.order[:i], ab.order[i+1:]...)
			break
		}
	}
}

func (ab *assemblyBuffer) len() int { return len(ab.entries) }

// expired returns hashes of entries older than timeout as of now, in
// insertion order.
func (ab *assemblyBuffer) expired(now time.Time, timeout time.Duration) []string {
	var out []string
	for _, h := range ab.order {
		p := ab.entries[h]
		if now.Sub(p.startedAt) >= timeout {
			out = append(out, h)
		}
	}
	return out
}
