// Package mempool implements C4: transaction admission, 2PC lifecycle,
// and priority-ordered selection for block production. The pool is
// single-writer per operation under one mutex, held for the minimum
// interval the spec's concurrency model calls for; no operation here
// blocks on bus I/O while holding it.
package mempool

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/choreocore/node/chain"
)

// Pool is the mempool itself.
type Pool struct {
	mu       sync.Mutex
	cfg      Config
	entries  map[string]*entry        // tx hash -> entry
	accounts map[string]*accountQueue // address -> queue
}

// NewPool creates an empty Pool.
func NewPool(cfg Config) *Pool {
	return &Pool{
		cfg:      cfg,
		entries:  make(map[string]*entry),
		accounts: make(map[string]*accountQueue),
	}
}

// Add admits tx, applying the §4.4 admission rules in order: duplicate
// hash, gas-price floor, size cap, replace-by-fee (when the nonce is
// already occupied), per-account cap, and finally strict-priority
// eviction if the pool is at capacity.
func (p *Pool) Add(tx *chain.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	hash := tx.Hash()
	if _, exists := p.entries[hash]; exists {
		return ErrDuplicateTx
	}
	if tx.GasPrice < p.cfg.MinGasPrice {
		return ErrBelowMinGasPrice
	}
	encoded, err := json.Marshal(tx)
	if err == nil && len(encoded) > p.cfg.MaxTxSize {
		return ErrSizeExceeded
	}

	account, ok := p.accounts[tx.From]
	if !ok {
		account = newAccountQueue(tx.From)
		p.accounts[tx.From] = account
	}

	if existingHash, occupied := account.byNonce[tx.Nonce]; occupied {
		return p.replaceByFee(existingHash, tx)
	}

	if account.len() >= p.cfg.MaxPerAccount {
		return ErrAccountQueueFull
	}

	if len(p.entries) >= p.cfg.MaxPoolSize {
		if !p.evictForNewTx(tx) {
			return ErrPoolFull
		}
	}

	p.insert(tx)
	return nil
}

// replaceByFee implements RBF: only Pending entries qualify, and only
// when the new gas price clears rbf_min_bump_percent over the old one.
func (p *Pool) replaceByFee(existingHash string, tx *chain.Transaction) error {
	old := p.entries[existingHash]
	if old.state != Pending {
		return ErrNotReplaceable
	}
	minBump := old.tx.GasPrice + (old.tx.GasPrice*p.cfg.RBFMinBumpPercent)/100
	if tx.GasPrice < minBump {
		return ErrRBFBumpTooSmall
	}
	delete(p.entries, existingHash)
	p.insert(tx)
	return nil
}

// evictForNewTx looks for the lowest-fee Pending entry and evicts it if
// tx strictly outranks it by the same (gas price desc, added_at asc)
// ordering get_for_block uses. Ties never displace.
func (p *Pool) evictForNewTx(tx *chain.Transaction) bool {
	var victim *entry
	var victimHash string
	for hash, e := range p.entries {
		if e.state != Pending {
			continue
		}
		if victim == nil || lowerFee(e, victim) {
			victim, victimHash = e, hash
		}
	}
	if victim == nil {
		return false
	}

	outranks := tx.GasPrice > victim.tx.GasPrice ||
		(tx.GasPrice == victim.tx.GasPrice && time.Unix(0, tx.Timestamp).Before(victim.addedAt))
	if !outranks {
		return false
	}

	p.removeEntry(victimHash)
	return true
}

// lowerFee reports whether a has strictly lower selection priority than
// b (lower gas price, or equal gas price and added later).
func lowerFee(a, b *entry) bool {
	if a.tx.GasPrice != b.tx.GasPrice {
		return a.tx.GasPrice < b.tx.GasPrice
	}
	return a.addedAt.After(b.addedAt)
}

func (p *Pool) insert(tx *chain.Transaction) {
	hash := tx.Hash()
	e := &entry{tx: tx, state: Pending, addedAt: time.Now()}
	p.entries[hash] = e
	account := p.accounts[tx.From]
	if account == nil {
		account = newAccountQueue(tx.From)
		p.accounts[tx.From] = account
	}
	account.byNonce[tx.Nonce] = hash
}

func (p *Pool) removeEntry(hash string) {
	e, ok := p.entries[hash]
	if !ok {
		return
	}
	delete(p.entries, hash)
	if account, ok := p.accounts[e.tx.From]; ok {
		delete(account.byNonce, e.tx.Nonce)
		if account.len() == 0 {
			delete(p.accounts, e.tx.From)
		}
	}
}

// GetForBlock selects a batch of Pending transactions ordered by gas
// price descending, added_at ascending, skipping any transaction whose
// account has a lower, still-unselected Pending nonce ahead of it.
// Selected transactions are not removed from the pool.
func (p *Pool) GetForBlock(height int64, gasLimit uint64) []*chain.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	var candidates []*entry
	pendingNonces := make(map[string]map[uint64]bool)
	for _, e := range p.entries {
		if e.state != Pending {
			continue
		}
		candidates = append(candidates, e)
		if pendingNonces[e.tx.From] == nil {
			pendingNonces[e.tx.From] = make(map[uint64]bool)
		}
		pendingNonces[e.tx.From][e.tx.Nonce] = true
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.tx.GasPrice != b.tx.GasPrice {
			return a.tx.GasPrice > b.tx.GasPrice
		}
		return a.addedAt.Before(b.addedAt)
	})

	selected := make(map[string]map[uint64]bool)
	var result []*chain.Transaction
	var gasUsed uint64

	for _, e := range candidates {
		if gasUsed+e.tx.GasLimit > gasLimit {
			continue
		}
		blocked := false
		for nonce := range pendingNonces[e.tx.From] {
			if nonce < e.tx.Nonce && !selected[e.tx.From][nonce] {
				blocked = true
				break
			}
		}
		if blocked {
			continue
		}
		result = append(result, e.tx)
		gasUsed += e.tx.GasLimit
		if selected[e.tx.From] == nil {
			selected[e.tx.From] = make(map[uint64]bool)
		}
		selected[e.tx.From][e.tx.Nonce] = true
	}
	return result
}

// Propose moves hashes from Pending to PendingInclusion, staging them
// into block_height's candidate assembly. Re-proposing an already
// PendingInclusion hash for the same height is a no-op (idempotent).
func (p *Pool) Propose(hashes []string, blockHeight int64, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, hash := range hashes {
		e, ok := p.entries[hash]
		if !ok {
			continue
		}
		if e.state == PendingInclusion && e.blockHeight == blockHeight {
			continue
		}
		e.state = PendingInclusion
		e.blockHeight = blockHeight
		e.proposedAt = now
	}
}

// Confirm permanently deletes hashes (the 2PC commit phase). Confirming
// an unknown hash is a no-op.
func (p *Pool) Confirm(hashes []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, hash := range hashes {
		p.removeEntry(hash)
	}
}

// Rollback moves hashes from PendingInclusion back to Pending.
func (p *Pool) Rollback(hashes []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, hash := range hashes {
		e, ok := p.entries[hash]
		if !ok || e.state != PendingInclusion {
			continue
		}
		e.state = Pending
		e.blockHeight = 0
		e.proposedAt = time.Time{}
	}
}

// GC rolls back any PendingInclusion entry older than pending_timeout,
// the equivalent path to an explicit rollback per spec §4.4.
func (p *Pool) GC(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.state == PendingInclusion && now.Sub(e.proposedAt) >= p.cfg.PendingTimeout {
			e.state = Pending
			e.blockHeight = 0
			e.proposedAt = time.Time{}
		}
	}
}

// Size returns the total number of pooled transactions across both
// states.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// StateOf reports a transaction's current 2PC state, for tests and
// observability.
func (p *Pool) StateOf(hash string) (State, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[hash]
	if !ok {
		return 0, false
	}
	return e.state, true
}
