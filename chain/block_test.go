package chain

import (
	"testing"

	"github.com/choreocore/node/crypto"
	"github.com/stretchr/testify/require"
)

func signedTx(t *testing.T, priv crypto.PrivateKey, pub crypto.PublicKey, nonce uint64) *Transaction {
	t.Helper()
	tx := NewTransaction(pub.Hex(), "recipient", 10, nonce, 1, 21000, nil)
	tx.Sign(priv)
	return tx
}

func TestBlockSignAndVerify(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	tx := signedTx(t, priv, pub, 0)
	block := NewBlock(1, "genesis", pub.Hex(), []*Transaction{tx})
	block.Sign(priv)

	require.NoError(t, block.Verify(pub))
	require.NoError(t, block.VerifyIntegrity())
}

func TestBlockVerifyRejectsTamperedHeader(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	block := NewBlock(1, "genesis", pub.Hex(), nil)
	block.Sign(priv)

	block.Header.Height = 99
	require.Error(t, block.Verify(pub))
}

func TestComputeTxRootOrderSensitive(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	tx1 := signedTx(t, priv, pub, 0)
	tx2 := signedTx(t, priv, pub, 1)

	rootAB := ComputeTxRoot([]*Transaction{tx1, tx2})
	rootBA := ComputeTxRoot([]*Transaction{tx2, tx1})
	require.NotEqual(t, rootAB, rootBA, "tx root must depend on transaction order")

	rootAgain := ComputeTxRoot([]*Transaction{tx1, tx2})
	require.Equal(t, rootAB, rootAgain, "tx root must be deterministic")
}

func TestValidatorSetQuorumStake(t *testing.T) {
	vs := NewValidatorSet(1, []Validator{
		{ID: "a", Stake: 10},
		{ID: "b", Stake: 10},
		{ID: "c", Stake: 10},
	})
	require.Equal(t, uint64(30), vs.TotalStake())
	// 2/3 of 30 is exactly 20.
	require.Equal(t, uint64(20), vs.QuorumStake())
	_, ok := vs.Get("a")
	require.True(t, ok)
	_, ok = vs.Get("z")
	require.False(t, ok)
}
