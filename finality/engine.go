package finality

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/choreocore/node/blockstore"
	"github.com/choreocore/node/bus"
	"github.com/choreocore/node/chain"
	"github.com/choreocore/node/crypto"
	"github.com/choreocore/node/envelope"
)

// AttestationBatchPayload carries one or more checkpoint votes plus the
// validator set to check them against, mirroring how
// ValidateBlockRequest carries its own ValidatorSet rather than Engine
// owning one globally.
type AttestationBatchPayload struct {
	Height       int64                   `json:"height"`
	Validators   *chain.ValidatorSet     `json:"validators"`
	Attestations []CheckpointAttestation `json:"attestations"`
}

// CircuitBreakerStateChangePayload announces a breaker transition.
type CircuitBreakerStateChangePayload struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// InactivityLeakActivePayload reports the gadget crossing the
// inactivity-leak threshold.
type InactivityLeakActivePayload struct {
	EpochsWithoutFinality int64 `json:"epochs_without_finality"`
}

// SlashingDetectedPayload reports one detected double-vote or
// surround-vote offense. Publishing this is the full extent of the
// gadget's response — it never mutates validator balances itself.
type SlashingDetectedPayload struct {
	ValidatorID string `json:"validator_id"`
}

// FinalityCheckRequestPayload asks whether epoch is finalized yet.
type FinalityCheckRequestPayload struct {
	Epoch int64 `json:"epoch"`
}

// FinalityCheckResponsePayload answers a FinalityCheckRequest.
type FinalityCheckResponsePayload struct {
	Epoch int64  `json:"epoch"`
	State string `json:"state"`
	Found bool   `json:"found"`
}

// FinalityProofRequestPayload asks for proof that a height is finalized,
// used by Cross-chain.
type FinalityProofRequestPayload struct {
	Height int64 `json:"height"`
}

// FinalityProofResponsePayload answers a FinalityProofRequest.
type FinalityProofResponsePayload struct {
	Height    int64 `json:"height"`
	Finalized bool  `json:"finalized"`
}

// Engine is the bus-facing wrapper around Gadget.
type Engine struct {
	b          *bus.Bus
	verifier   *envelope.Verifier
	signingKey []byte
	gadget     *Gadget
}

// NewEngine creates an Engine with a fresh Gadget backed by cfg.
func NewEngine(b *bus.Bus, rootKey []byte, cfg Config) (*Engine, error) {
	key, err := crypto.DeriveSenderKey(rootKey, string(envelope.SenderFinality))
	if err != nil {
		return nil, err
	}
	return &Engine{
		b:          b,
		verifier:   envelope.NewVerifier(rootKey),
		signingKey: key,
		gadget:     NewGadget(cfg),
	}, nil
}

// Gadget exposes the underlying state machine, for composition-root
// wiring that needs direct access (metrics, an operator reset endpoint).
func (e *Engine) Gadget() *Gadget { return e.gadget }

// Run subscribes to finality's three request kinds and drives the
// sync_timeout_secs liveness ticker.
func (e *Engine) Run(ctx context.Context) {
	sub := e.b.Subscribe(bus.Filter{})
	defer e.b.Unsubscribe(sub)

	livenessInterval := e.gadget.cfg.SyncTimeout
	if livenessInterval <= 0 {
		livenessInterval = time.Second
	}
	liveness := time.NewTicker(livenessInterval)
	defer liveness.Stop()

	nonceGC := time.NewTicker(time.Minute)
	defer nonceGC.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-liveness.C:
			e.checkLiveness()
		case <-nonceGC.C:
			e.verifier.GC()
		case env, ok := <-sub.C():
			if !ok {
				return
			}
			e.dispatch(env)
		}
	}
}

func (e *Engine) dispatch(env *envelope.Envelope) {
	switch env.Kind {
	case envelope.KindAttestationBatch:
		e.handleAttestationBatch(env)
	case envelope.KindFinalityCheckRequest:
		e.handleFinalityCheck(env)
	case envelope.KindFinalityProofRequest:
		e.handleFinalityProof(env)
	}
}

func (e *Engine) authorize(env *envelope.Envelope) bool {
	if err := e.verifier.VerifyAndAuthorize(env); err != nil {
		log.Printf("[finality] rejected envelope %s from %s: %v", env.Kind, env.SenderID, err)
		return false
	}
	return true
}

func (e *Engine) handleAttestationBatch(env *envelope.Envelope) {
	if !e.authorize(env) {
		return
	}
	var req AttestationBatchPayload
	if err := json.Unmarshal(env.Payload, &req); err != nil || req.Validators == nil {
		log.Printf("[finality] malformed AttestationBatch: %v", err)
		return
	}

	before := e.gadget.CircuitState()
	finalized, slashing, err := e.gadget.ProcessAttestationBatch(req.Validators, req.Height, req.Attestations)
	if err != nil {
		log.Printf("[finality] dropped AttestationBatch: %v", err)
		return
	}

	for _, s := range slashing {
		e.publishSlashing(s)
	}
	for _, cp := range finalized {
		e.publishMarkFinalized(cp.BlockHash)
	}
	e.maybePublishCircuitChange(before)
	if e.gadget.InactivityLeakExceeded() {
		e.publishInactivityLeak()
	}
}

func (e *Engine) checkLiveness() {
	e.checkLivenessAt(time.Now())
}

func (e *Engine) checkLivenessAt(now time.Time) {
	before := e.gadget.CircuitState()
	failed, _ := e.gadget.CheckLiveness(now)
	if failed {
		e.maybePublishCircuitChange(before)
	}
}

func (e *Engine) maybePublishCircuitChange(before CircuitState) {
	after := e.gadget.CircuitState()
	if before.Kind == after.Kind && before.Attempt == after.Attempt {
		return
	}
	e.publish(envelope.KindCircuitBreakerChange, CircuitBreakerStateChangePayload{
		Old: before.String(),
		New: after.String(),
	})
}

func (e *Engine) handleFinalityCheck(env *envelope.Envelope) {
	if !e.authorize(env) {
		return
	}
	var req FinalityCheckRequestPayload
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		log.Printf("[finality] malformed FinalityCheckRequest: %v", err)
		return
	}
	state, found := e.gadget.CheckpointState(req.Epoch)
	resp := FinalityCheckResponsePayload{Epoch: req.Epoch, Found: found}
	if found {
		resp.State = state.String()
	}
	e.reply(env, envelope.KindFinalityCheckResponse, resp)
}

func (e *Engine) handleFinalityProof(env *envelope.Envelope) {
	if !e.authorize(env) {
		return
	}
	var req FinalityProofRequestPayload
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		log.Printf("[finality] malformed FinalityProofRequest: %v", err)
		return
	}
	_, lastHeight := e.gadget.LastFinalized()
	e.reply(env, envelope.KindFinalityProofResponse, FinalityProofResponsePayload{
		Height:    req.Height,
		Finalized: req.Height <= lastHeight,
	})
}

func (e *Engine) publishSlashing(s SlashingEvent) {
	kind := envelope.KindDoubleVoteDetected
	if s.Kind == "surround_vote" {
		kind = envelope.KindSurroundVoteDetected
	}
	e.publish(kind, SlashingDetectedPayload{ValidatorID: s.ValidatorID})
}

func (e *Engine) publishMarkFinalized(blockHash string) {
	e.publish(envelope.KindMarkFinalizedRequest, blockstore.MarkFinalizedRequestPayload{BlockHash: blockHash})
}

func (e *Engine) publishInactivityLeak() {
	e.publish(envelope.KindInactivityLeakActive, InactivityLeakActivePayload{})
}

func (e *Engine) publish(kind envelope.PayloadKind, payload any) {
	out, err := envelope.New(envelope.SenderFinality, kind, payload, e.signingKey, time.Now().UnixMilli())
	if err != nil {
		log.Printf("[finality] failed to build %s: %v", kind, err)
		return
	}
	e.b.Publish(out)
}

func (e *Engine) reply(req *envelope.Envelope, kind envelope.PayloadKind, payload any) {
	out, err := envelope.Reply(req, envelope.SenderFinality, kind, payload, e.signingKey, time.Now().UnixMilli())
	if err != nil {
		log.Printf("[finality] failed to build reply %s: %v", kind, err)
		return
	}
	e.b.Publish(out)
}
