package mempool

import (
	"time"

	"github.com/choreocore/node/chain"
)

// State is the 2PC lifecycle position of a pooled transaction (spec
// §4.4's Pending -> PendingInclusion -> deleted machine).
type State int

const (
	// Pending is the steady state: admitted, available for selection.
	Pending State = iota
	// PendingInclusion means a proposal has staged this tx into a
	// candidate block awaiting storage confirmation.
	PendingInclusion
)

func (s State) String() string {
	switch s {
	case Pending:
		return "Pending"
	case PendingInclusion:
		return "PendingInclusion"
	default:
		return "Unknown"
	}
}

// entry is spec §3's MempoolTx: a pooled transaction plus its 2PC
// bookkeeping.
type entry struct {
	tx    *chain.Transaction
	state State

	addedAt     time.Time
	blockHeight int64
	proposedAt  time.Time
}

// accountQueue is spec §3's AccountQueue: per-sender bookkeeping so
// get_for_block can enforce nonce ordering and Add can enforce the
// per-account cap.
type accountQueue struct {
	address string
	byNonce map[uint64]string // nonce -> tx hash
}

func newAccountQueue(address string) *accountQueue {
	return &accountQueue{address: address, byNonce: make(map[uint64]string)}
}

func (q *accountQueue) len() int { return len(q.byNonce) }
