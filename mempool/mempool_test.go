package mempool

import (
	"testing"
	"time"

	"github.com/choreocore/node/chain"
	"github.com/stretchr/testify/require"
)

func tx(from string, nonce, gasPrice uint64) *chain.Transaction {
	t := chain.NewTransaction(from, "bob", 1, nonce, gasPrice, 21000, nil)
	t.ID = t.Hash()
	return t
}

func TestAddRejectsDuplicate(t *testing.T) {
	p := NewPool(DefaultConfig())
	t1 := tx("alice", 1, 5)
	require.NoError(t, p.Add(t1))
	require.ErrorIs(t, p.Add(t1), ErrDuplicateTx)
}

func TestAddRejectsBelowMinGasPrice(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinGasPrice = 10
	p := NewPool(cfg)
	require.ErrorIs(t, p.Add(tx("alice", 1, 5)), ErrBelowMinGasPrice)
}

func TestAddEnforcesPerAccountCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPerAccount = 2
	p := NewPool(cfg)
	require.NoError(t, p.Add(tx("alice", 1, 5)))
	require.NoError(t, p.Add(tx("alice", 2, 5)))
	require.ErrorIs(t, p.Add(tx("alice", 3, 5)), ErrAccountQueueFull)
}

func TestAddReplaceByFeeRequiresMinimumBump(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RBFMinBumpPercent = 10
	p := NewPool(cfg)
	original := tx("alice", 1, 100)
	require.NoError(t, p.Add(original))

	require.ErrorIs(t, p.Add(tx("alice", 1, 105)), ErrRBFBumpTooSmall)

	replacement := tx("alice", 1, 111)
	require.NoError(t, p.Add(replacement))
	require.Equal(t, 1, p.Size())
	// original's hash has been evicted by the replacement; re-submitting
	// it now competes against the replacement as another RBF attempt.
	require.ErrorIs(t, p.Add(original), ErrRBFBumpTooSmall)
}

func TestReplaceByFeeRejectsPendingInclusion(t *testing.T) {
	p := NewPool(DefaultConfig())
	original := tx("alice", 1, 100)
	require.NoError(t, p.Add(original))
	p.Propose([]string{original.Hash()}, 10, time.Now())

	require.ErrorIs(t, p.Add(tx("alice", 1, 1000)), ErrNotReplaceable)
}

func TestAddEvictsLowestFeeWhenPoolFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPoolSize = 2
	cfg.MaxPerAccount = 10
	p := NewPool(cfg)
	lowest := tx("alice", 1, 5)
	require.NoError(t, p.Add(lowest))
	require.NoError(t, p.Add(tx("bob", 1, 10)))

	require.NoError(t, p.Add(tx("carol", 1, 20)))
	require.Equal(t, 2, p.Size())
	_, stillThere := p.StateOf(lowest.Hash())
	require.False(t, stillThere)

	require.ErrorIs(t, p.Add(tx("dave", 1, 1)), ErrPoolFull)
}

func TestGetForBlockOrdersByGasPriceDescending(t *testing.T) {
	p := NewPool(DefaultConfig())
	require.NoError(t, p.Add(tx("alice", 1, 5)))
	require.NoError(t, p.Add(tx("bob", 1, 50)))
	require.NoError(t, p.Add(tx("carol", 1, 25)))

	batch := p.GetForBlock(1, 1_000_000)
	require.Len(t, batch, 3)
	require.Equal(t, uint64(50), batch[0].GasPrice)
	require.Equal(t, uint64(25), batch[1].GasPrice)
	require.Equal(t, uint64(5), batch[2].GasPrice)
}

func TestGetForBlockSkipsOutOfOrderNonce(t *testing.T) {
	p := NewPool(DefaultConfig())
	// alice's nonce-2 tx carries a higher fee than her nonce-1 tx, but
	// nonce 1 hasn't been confirmed or selected, so nonce 2 must not be
	// selected ahead of it.
	require.NoError(t, p.Add(tx("alice", 1, 1)))
	require.NoError(t, p.Add(tx("alice", 2, 100)))

	batch := p.GetForBlock(1, 1_000_000)
	require.Len(t, batch, 1)
	require.Equal(t, uint64(1), batch[0].Nonce)
}

func TestGetForBlockRespectsGasLimit(t *testing.T) {
	p := NewPool(DefaultConfig())
	require.NoError(t, p.Add(tx("alice", 1, 10)))
	require.NoError(t, p.Add(tx("bob", 1, 5)))

	batch := p.GetForBlock(1, 21000)
	require.Len(t, batch, 1)
	require.Equal(t, "alice", batch[0].From)
}

func TestTwoPhaseCommitLifecycle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PendingTimeout = 20 * time.Millisecond
	p := NewPool(cfg)

	t1 := tx("alice", 1, 10)
	t2 := tx("bob", 1, 10)
	require.NoError(t, p.Add(t1))
	require.NoError(t, p.Add(t2))

	p.Propose([]string{t1.Hash(), t2.Hash()}, 10, time.Now())
	s1, _ := p.StateOf(t1.Hash())
	require.Equal(t, PendingInclusion, s1)

	// Simulate pending_timeout elapsing without confirmation: both
	// transactions roll back to Pending and become selectable again.
	p.GC(time.Now().Add(time.Hour))
	s1, _ = p.StateOf(t1.Hash())
	s2, _ := p.StateOf(t2.Hash())
	require.Equal(t, Pending, s1)
	require.Equal(t, Pending, s2)
	batch := p.GetForBlock(10, 1_000_000)
	require.Len(t, batch, 2)

	// Repeat the proposal, then confirm only t1.
	p.Propose([]string{t1.Hash(), t2.Hash()}, 10, time.Now())
	p.Confirm([]string{t1.Hash()})

	_, found := p.StateOf(t1.Hash())
	require.False(t, found)
	s2, _ = p.StateOf(t2.Hash())
	require.Equal(t, PendingInclusion, s2)

	p.Rollback([]string{t2.Hash()})
	s2, _ = p.StateOf(t2.Hash())
	require.Equal(t, Pending, s2)
}
