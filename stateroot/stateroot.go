// Package stateroot implements C7: the state root computer. A root is a
// pure, deterministic function of committed state plus a block's
// transactions — computing it twice over the same inputs always yields
// the same digest, and it never mutates the state it reads (spec §4.4).
package stateroot

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/choreocore/node/chain"
	"github.com/choreocore/node/crypto"
)

// Store is the read-only view over committed account state that
// Compute needs. It is satisfied by whatever owns persistent state in a
// given deployment; stateroot does not own storage itself.
type Store interface {
	// Iterate calls fn for every committed account, in no particular
	// order; Compute sorts internally so Store implementations do not
	// need to.
	Iterate(fn func(addr string, acc chain.Account))
}

// prefixAccount namespaces account keys in the encoded key space, as
// the original per-domain prefix scheme generalizes here to a single
// account namespace (stateroot carries no game-specific state kinds).
const prefixAccount = "acct:"

// Apply is a pending balance/nonce delta a transaction would cause, used
// to fold in-flight transactions into the root before they are
// committed to Store.
type Apply struct {
	Address string
	Account chain.Account
}

// Compute returns the deterministic root hash of committed accounts in
// store overlaid with the pending deltas txApplies represents (the
// block's transactions, already executed against a scratch copy of
// state by the caller). Sorting by key before hashing, and length-
// prefixing every field, is what makes the result independent of
// iteration or transaction order in the input maps.
func Compute(store Store, txApplies []Apply) string {
	merged := make(map[string]chain.Account)
	store.Iterate(func(addr string, acc chain.Account) {
		merged[addr] = acc
	})
	for _, a := range txApplies {
		merged[a.Address] = a.Account
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	var lenBuf [4]byte
	var numBuf [8]byte
	for _, addr := range keys {
		acc := merged[addr]
		key := []byte(prefixAccount + addr)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(key)))
		buf.Write(lenBuf[:])
		buf.Write(key)

		binary.BigEndian.PutUint64(numBuf[:], acc.Balance)
		buf.Write(numBuf[:])
		binary.BigEndian.PutUint64(numBuf[:], acc.Nonce)
		buf.Write(numBuf[:])
	}
	return crypto.Hash(buf.Bytes())
}

// ApplyTransactions simulates txs against store's committed balances and
// returns the resulting per-address Apply set, without mutating store.
// Transfers below zero balance are clamped at zero rather than rejected
// here — by the time a block reaches C7, consensus has already accepted
// it, so this is bookkeeping, not admission control.
func ApplyTransactions(store Store, txs []*chain.Transaction) []Apply {
	scratch := make(map[string]chain.Account)
	store.Iterate(func(addr string, acc chain.Account) {
		scratch[addr] = acc
	})

	touch := func(addr string) chain.Account {
		acc, ok := scratch[addr]
		if !ok {
			acc = chain.Account{Address: addr}
		}
		return acc
	}

	for _, tx := range txs {
		from := touch(tx.From)
		if from.Balance >= tx.Amount {
			from.Balance -= tx.Amount
		} else {
			from.Balance = 0
		}
		from.Nonce = tx.Nonce + 1
		scratch[tx.From] = from

		if tx.To != "" {
			to := touch(tx.To)
			to.Balance += tx.Amount
			scratch[tx.To] = to
		}
	}

	applies := make([]Apply, 0, len(scratch))
	for addr, acc := range scratch {
		applies = append(applies, Apply{Address: addr, Account: acc})
	}
	return applies
}
