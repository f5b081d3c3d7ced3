package storage_test

import (
	"testing"

	"github.com/choreocore/node/chain"
	"github.com/choreocore/node/internal/testutil"
	"github.com/stretchr/testify/require"
)

func TestStateDBSetGetRoundTrip(t *testing.T) {
	s := testutil.NewStateDB()
	require.NoError(t, s.SetAccount(chain.Account{Address: "alice", Balance: 100, Nonce: 1}))

	acc, err := s.GetAccount("alice")
	require.NoError(t, err)
	require.Equal(t, uint64(100), acc.Balance)
}

func TestStateDBGetUnknownAccountIsZeroValue(t *testing.T) {
	s := testutil.NewStateDB()
	acc, err := s.GetAccount("ghost")
	require.NoError(t, err)
	require.Equal(t, uint64(0), acc.Balance)
}

func TestStateDBCommitPersistsWriteBuffer(t *testing.T) {
	s := testutil.NewStateDB()
	require.NoError(t, s.SetAccount(chain.Account{Address: "alice", Balance: 50}))
	require.NoError(t, s.Commit())

	var seen bool
	s.Iterate(func(addr string, acc chain.Account) {
		if addr == "alice" {
			seen = true
			require.Equal(t, uint64(50), acc.Balance)
		}
	})
	require.True(t, seen)
}

func TestStateDBSnapshotRevert(t *testing.T) {
	s := testutil.NewStateDB()
	require.NoError(t, s.SetAccount(chain.Account{Address: "alice", Balance: 100}))
	snap := s.Snapshot()

	require.NoError(t, s.SetAccount(chain.Account{Address: "alice", Balance: 1}))
	acc, err := s.GetAccount("alice")
	require.NoError(t, err)
	require.Equal(t, uint64(1), acc.Balance)

	require.NoError(t, s.RevertToSnapshot(snap))
	acc, err = s.GetAccount("alice")
	require.NoError(t, err)
	require.Equal(t, uint64(100), acc.Balance)
}

func TestStateDBIterateSeesUncommittedWrites(t *testing.T) {
	s := testutil.NewStateDB()
	require.NoError(t, s.SetAccount(chain.Account{Address: "bob", Balance: 7}))

	found := false
	s.Iterate(func(addr string, acc chain.Account) {
		if addr == "bob" {
			found = true
		}
	})
	require.True(t, found, "Iterate must include uncommitted write-buffer entries")
}
