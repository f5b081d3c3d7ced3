package finality

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/choreocore/node/bus"
	"github.com/choreocore/node/chain"
	"github.com/choreocore/node/crypto"
	"github.com/choreocore/node/envelope"
	"github.com/stretchr/testify/require"
)

var testRootKey = []byte("finality-suite-root-key-32bytes!")

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

func publishAttestationBatch(t *testing.T, b *bus.Bus, vs *chain.ValidatorSet, height int64, atts []CheckpointAttestation) {
	t.Helper()
	env, err := envelope.New(envelope.SenderConsensus, envelope.KindAttestationBatch,
		AttestationBatchPayload{Height: height, Validators: vs, Attestations: atts},
		senderKey(t, envelope.SenderConsensus), time.Now().UnixMilli())
	require.NoError(t, err)
	b.Publish(env)
}

func TestEngineFinalizationPublishesMarkFinalizedRequest(t *testing.T) {
	tvs, vs := buildValidators(t, 3)
	e, b := newTestEngine(t, DefaultConfig())

	inbox := b.Subscribe(bus.Filter{})
	markFinalized := b.Subscribe(bus.Filter{Kind: envelope.KindMarkFinalizedRequest})

	publishAttestationBatch(t, b, vs, 50, []CheckpointAttestation{
		vote(t, tvs[0], 4, 5, "h5"),
		vote(t, tvs[1], 4, 5, "h5"),
		vote(t, tvs[2], 4, 5, "h5"),
	})
	drainDispatch(e, inbox)

	select {
	case <-markFinalized.C():
		t.Fatal("epoch 5 alone must not finalize")
	default:
	}

	publishAttestationBatch(t, b, vs, 60, []CheckpointAttestation{
		vote(t, tvs[0], 5, 6, "h6"),
		vote(t, tvs[1], 5, 6, "h6"),
		vote(t, tvs[2], 5, 6, "h6"),
	})
	drainDispatch(e, inbox)

	select {
	case env := <-markFinalized.C():
		var payload struct {
			BlockHash string `json:"block_hash"`
		}
		require.NoError(t, json.Unmarshal(env.Payload, &payload))
		require.Equal(t, "h5", payload.BlockHash)
	default:
		t.Fatal("expected MarkFinalizedRequest for h5")
	}
}

func TestEngineFinalityCheckRequestRoundTrip(t *testing.T) {
	tvs, vs := buildValidators(t, 3)
	e, b := newTestEngine(t, DefaultConfig())
	inbox := b.Subscribe(bus.Filter{})
	reply := b.Subscribe(bus.Filter{Kind: envelope.KindFinalityCheckResponse})

	publishAttestationBatch(t, b, vs, 50, []CheckpointAttestation{
		vote(t, tvs[0], 4, 5, "h5"),
		vote(t, tvs[1], 4, 5, "h5"),
		vote(t, tvs[2], 4, 5, "h5"),
	})
	drainDispatch(e, inbox)

	req, err := envelope.New(envelope.SenderConsensus, envelope.KindFinalityCheckRequest,
		FinalityCheckRequestPayload{Epoch: 5},
		senderKey(t, envelope.SenderConsensus), time.Now().UnixMilli())
	require.NoError(t, err)
	b.Publish(req)
	drainDispatch(e, inbox)

	select {
	case env := <-reply.C():
		var payload FinalityCheckResponsePayload
		require.NoError(t, json.Unmarshal(env.Payload, &payload))
		require.True(t, payload.Found)
		require.Equal(t, "Justified", payload.State)
	default:
		t.Fatal("expected FinalityCheckResponse")
	}
}

func TestEngineCircuitBreakerHaltsAndPublishesStateChanges(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSyncAttempts = 3
	e, b := newTestEngine(t, cfg)
	changes := b.Subscribe(bus.Filter{Kind: envelope.KindCircuitBreakerChange})

	now := time.Now()
	for i := 0; i < 4; i++ {
		now = now.Add(time.Hour)
		e.checkLivenessAt(now)
	}

	require.Equal(t, Halted, e.gadget.CircuitState().Kind)

	var last CircuitBreakerStateChangePayload
	count := 0
	for {
		select {
		case env := <-changes.C():
			count++
			require.NoError(t, json.Unmarshal(env.Payload, &last))
			continue
		default:
		}
		break
	}
	require.Equal(t, 4, count)
	require.Equal(t, "Halted", last.New)
}
