package mempool

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/choreocore/node/bus"
	"github.com/choreocore/node/crypto"
	"github.com/choreocore/node/envelope"
	"github.com/stretchr/testify/require"
)

var testRootKey = []byte("mempool-suite-root-key-32bytes!!")

func senderKey(t *testing.T, sender envelope.SenderID) []byte {
	t.Helper()
	key, err := crypto.DeriveSenderKey(testRootKey, string(sender))
	require.NoError(t, err)
	return key
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *bus.Bus) {
	t.Helper()
	b := bus.New(64)
	e, err := NewEngine(b, testRootKey, cfg)
	require.NoError(t, err)
	return e, b
}

// drainDispatch feeds every envelope currently queued in inbox through
// the engine synchronously, so tests don't need a live Run goroutine.
func drainDispatch(e *Engine, inbox *bus.Subscription) {
	for {
		select {
		case env := <-inbox.C():
			e.dispatch(env)
		default:
			return
		}
	}
}

func TestEngineAddTransactionPublishesAdmissionResult(t *testing.T) {
	e, b := newTestEngine(t, DefaultConfig())
	inbox := b.Subscribe(bus.Filter{})
	result := b.Subscribe(bus.Filter{Kind: envelope.KindTransactionAdmissionResult})

	txn := tx("alice", 1, 5)
	req, err := envelope.New(envelope.SenderSignatureVerification, envelope.KindAddTransactionRequest,
		AddTransactionRequestPayload{Transaction: txn},
		senderKey(t, envelope.SenderSignatureVerification), time.Now().UnixMilli())
	require.NoError(t, err)
	b.Publish(req)
	drainDispatch(e, inbox)

	select {
	case env := <-result.C():
		var payload TransactionAdmissionResultPayload
		require.NoError(t, json.Unmarshal(env.Payload, &payload))
		require.Equal(t, txn.Hash(), payload.TxHash)
		require.Empty(t, payload.Err)
	default:
		t.Fatal("expected TransactionAdmissionResult")
	}
	require.Equal(t, 1, e.Pool().Size())
}

func TestEngineGetForBlockRepliesWithTransactions(t *testing.T) {
	e, b := newTestEngine(t, DefaultConfig())
	require.NoError(t, e.Pool().Add(tx("alice", 1, 50)))
	require.NoError(t, e.Pool().Add(tx("bob", 1, 10)))

	inbox := b.Subscribe(bus.Filter{})
	reply := b.Subscribe(bus.Filter{Kind: envelope.KindTransactionsForBlock})

	req, err := envelope.New(envelope.SenderConsensus, envelope.KindGetTransactionsRequest,
		GetTransactionsRequestPayload{Height: 10, GasLimit: 1_000_000},
		senderKey(t, envelope.SenderConsensus), time.Now().UnixMilli())
	require.NoError(t, err)
	b.Publish(req)
	drainDispatch(e, inbox)

	select {
	case env := <-reply.C():
		var payload TransactionsForBlockPayload
		require.NoError(t, json.Unmarshal(env.Payload, &payload))
		require.Len(t, payload.Transactions, 2)
		require.Equal(t, uint64(50), payload.Transactions[0].GasPrice)
	default:
		t.Fatal("expected TransactionsForBlock")
	}
}

// TestProposeRollbackConfirmCycle exercises the scenario where Consensus
// proposes a batch, rolls it back unconfirmed, re-proposes, then
// Storage confirms only part of it.
func TestProposeRollbackConfirmCycle(t *testing.T) {
	cfg := DefaultConfig()
	e, b := newTestEngine(t, cfg)
	inbox := b.Subscribe(bus.Filter{})

	t1 := tx("alice", 1, 10)
	t2 := tx("bob", 1, 10)
	require.NoError(t, e.Pool().Add(t1))
	require.NoError(t, e.Pool().Add(t2))

	propose := func(hashes []string) {
		env, err := envelope.New(envelope.SenderConsensus, envelope.KindProposeTransactionsRequest,
			ProposeTransactionsRequestPayload{TxHashes: hashes, BlockHeight: 10},
			senderKey(t, envelope.SenderConsensus), time.Now().UnixMilli())
		require.NoError(t, err)
		b.Publish(env)
		drainDispatch(e, inbox)
	}
	rollback := func(hashes []string) {
		env, err := envelope.New(envelope.SenderConsensus, envelope.KindRollbackTransactionsRequest,
			RollbackTransactionsRequestPayload{TxHashes: hashes},
			senderKey(t, envelope.SenderConsensus), time.Now().UnixMilli())
		require.NoError(t, err)
		b.Publish(env)
		drainDispatch(e, inbox)
	}
	confirm := func(hashes []string) {
		env, err := envelope.New(envelope.SenderStorage, envelope.KindBlockStorageConfirmation,
			BlockStorageConfirmationPayload{TxHashes: hashes},
			senderKey(t, envelope.SenderStorage), time.Now().UnixMilli())
		require.NoError(t, err)
		b.Publish(env)
		drainDispatch(e, inbox)
	}

	propose([]string{t1.Hash(), t2.Hash()})
	s1, _ := e.Pool().StateOf(t1.Hash())
	require.Equal(t, PendingInclusion, s1)

	rollback([]string{t1.Hash(), t2.Hash()})
	s1, _ = e.Pool().StateOf(t1.Hash())
	s2, _ := e.Pool().StateOf(t2.Hash())
	require.Equal(t, Pending, s1)
	require.Equal(t, Pending, s2)

	propose([]string{t1.Hash(), t2.Hash()})
	confirm([]string{t1.Hash()})

	_, found := e.Pool().StateOf(t1.Hash())
	require.False(t, found)
	s2, _ = e.Pool().StateOf(t2.Hash())
	require.Equal(t, PendingInclusion, s2)
}
