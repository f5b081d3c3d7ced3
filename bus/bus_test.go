package bus

import (
	"testing"

	"github.com/choreocore/node/envelope"
	"github.com/stretchr/testify/require"
)

func mustEnvelope(t *testing.T, sender envelope.SenderID, kind envelope.PayloadKind, nonce string) *envelope.Envelope {
	t.Helper()
	return &envelope.Envelope{
		Version:  envelope.CurrentVersion,
		SenderID: sender,
		Kind:     kind,
		Nonce:    nonce,
	}
}

func TestSubscriptionFiltersByKindAndSender(t *testing.T) {
	b := New(16)
	sub := b.Subscribe(Filter{Kind: envelope.KindBlockValidated, Sender: envelope.SenderConsensus})

	b.Publish(mustEnvelope(t, envelope.SenderConsensus, envelope.KindBlockValidated, "1"))
	b.Publish(mustEnvelope(t, envelope.SenderMempool, envelope.KindBlockValidated, "2"))
	b.Publish(mustEnvelope(t, envelope.SenderConsensus, envelope.KindStateRootComputed, "3"))

	select {
	case e := <-sub.C():
		require.Equal(t, "1", e.Nonce)
	default:
		t.Fatal("expected matching envelope")
	}

	select {
	case e := <-sub.C():
		t.Fatalf("unexpected second delivery: %+v", e)
	default:
	}
}

func TestSubscriptionPreservesFIFOOrder(t *testing.T) {
	b := New(16)
	sub := b.Subscribe(Filter{Kind: envelope.KindBlockValidated})

	for i := 0; i < 5; i++ {
		b.Publish(mustEnvelope(t, envelope.SenderConsensus, envelope.KindBlockValidated, string(rune('a'+i))))
	}

	for i := 0; i < 5; i++ {
		e, ok := sub.Next()
		require.True(t, ok)
		require.Equal(t, string(rune('a'+i)), e.Nonce)
	}
}

func TestOverflowDropsOldestAndCounts(t *testing.T) {
	b := New(16)
	sub := b.SubscribeWithQueueSize(Filter{Kind: envelope.KindBlockValidated}, 2)

	b.Publish(mustEnvelope(t, envelope.SenderConsensus, envelope.KindBlockValidated, "1"))
	b.Publish(mustEnvelope(t, envelope.SenderConsensus, envelope.KindBlockValidated, "2"))
	b.Publish(mustEnvelope(t, envelope.SenderConsensus, envelope.KindBlockValidated, "3"))

	require.Equal(t, uint64(1), sub.Dropped())

	e, ok := sub.Next()
	require.True(t, ok)
	require.Equal(t, "2", e.Nonce, "oldest entry should have been dropped, not newest")

	e, ok = sub.Next()
	require.True(t, ok)
	require.Equal(t, "3", e.Nonce)
}

func TestOverflowRecordsDeadLetter(t *testing.T) {
	b := New(16)
	b.SubscribeWithQueueSize(Filter{Kind: envelope.KindBlockValidated}, 1)

	b.Publish(mustEnvelope(t, envelope.SenderConsensus, envelope.KindBlockValidated, "1"))
	b.Publish(mustEnvelope(t, envelope.SenderConsensus, envelope.KindBlockValidated, "2"))

	select {
	case dl := <-b.DeadLetters():
		require.Equal(t, "1", dl.Envelope.Nonce)
	default:
		t.Fatal("expected a dead letter for the dropped envelope")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New(16)
	sub := b.Subscribe(Filter{})
	require.Equal(t, 1, b.SubscriptionCount())

	b.Unsubscribe(sub)
	require.Equal(t, 0, b.SubscriptionCount())

	_, ok := sub.Next()
	require.False(t, ok)

	require.NotPanics(t, func() { b.Unsubscribe(sub) })
}

func TestMultipleSubscriptionsEachGetTheirOwnCopy(t *testing.T) {
	b := New(16)
	a := b.Subscribe(Filter{Kind: envelope.KindBlockValidated})
	c := b.Subscribe(Filter{Kind: envelope.KindBlockValidated})

	b.Publish(mustEnvelope(t, envelope.SenderConsensus, envelope.KindBlockValidated, "1"))

	_, ok := a.Next()
	require.True(t, ok)
	_, ok = c.Next()
	require.True(t, ok)
}
