package stateroot

import (
	"testing"

	"github.com/choreocore/node/chain"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	accounts map[string]chain.Account
}

func newMemStore(accts map[string]chain.Account) *memStore {
	return &memStore{accounts: accts}
}

func (m *memStore) Iterate(fn func(addr string, acc chain.Account)) {
	for addr, acc := range m.accounts {
		fn(addr, acc)
	}
}

func TestComputeIsDeterministicRegardlessOfMapIterationOrder(t *testing.T) {
	store := newMemStore(map[string]chain.Account{
		"alice": {Address: "alice", Balance: 100, Nonce: 1},
		"bob":   {Address: "bob", Balance: 50, Nonce: 2},
		"carol": {Address: "carol", Balance: 0, Nonce: 0},
	})

	r1 := Compute(store, nil)
	r2 := Compute(store, nil)
	require.Equal(t, r1, r2)
}

func TestComputeChangesWhenBalanceChanges(t *testing.T) {
	store := newMemStore(map[string]chain.Account{
		"alice": {Address: "alice", Balance: 100, Nonce: 1},
	})
	before := Compute(store, nil)

	after := Compute(store, []Apply{
		{Address: "alice", Account: chain.Account{Address: "alice", Balance: 99, Nonce: 2}},
	})
	require.NotEqual(t, before, after)
}

func TestComputeOverlaysPendingApplyOnCommittedState(t *testing.T) {
	store := newMemStore(map[string]chain.Account{
		"alice": {Address: "alice", Balance: 100, Nonce: 1},
	})

	withApply := Compute(store, []Apply{
		{Address: "alice", Account: chain.Account{Address: "alice", Balance: 90, Nonce: 2}},
	})

	store2 := newMemStore(map[string]chain.Account{
		"alice": {Address: "alice", Balance: 90, Nonce: 2},
	})
	direct := Compute(store2, nil)

	require.Equal(t, direct, withApply, "overlaying an apply should match the equivalent committed state")
}

func TestComputeIsPureAndDoesNotMutateStore(t *testing.T) {
	store := newMemStore(map[string]chain.Account{
		"alice": {Address: "alice", Balance: 100, Nonce: 1},
	})
	_ = Compute(store, []Apply{
		{Address: "alice", Account: chain.Account{Address: "alice", Balance: 1, Nonce: 99}},
	})
	require.Equal(t, uint64(100), store.accounts["alice"].Balance, "Compute must not mutate the underlying store")
}

func TestComputeNewAccountFromApplyAffectsRoot(t *testing.T) {
	store := newMemStore(map[string]chain.Account{})
	before := Compute(store, nil)
	after := Compute(store, []Apply{
		{Address: "newcomer", Account: chain.Account{Address: "newcomer", Balance: 5, Nonce: 0}},
	})
	require.NotEqual(t, before, after)
}
