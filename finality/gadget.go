// Package finality implements C9: Casper-FFG-style checkpoint
// justification and finalization, double-vote/surround-vote slashing
// detection, and a deterministic circuit breaker that halts the gadget
// after repeated finality failures rather than livelocking.
package finality

import (
	"sync"
	"time"

	"github.com/choreocore/node/chain"
)

// FinalizedCheckpoint is what ProcessAttestationBatch returns when a
// checkpoint crosses into Finalized during this call, so the caller can
// emit MarkFinalizedRequest without the Gadget reaching back into the
// bus from deep inside its own mutex.
type FinalizedCheckpoint struct {
	Epoch     int64
	Height    int64
	BlockHash string
}

// SlashingEvent is a detected double-vote or surround-vote offense.
// Gadget never mutates validator balances itself; it only reports.
type SlashingEvent struct {
	Kind        string // "double_vote" or "surround_vote"
	ValidatorID string
}

// Gadget is C9's pure state: checkpoint table, per-validator vote
// history, inactivity tracking, and the circuit breaker. It holds no
// bus reference; Engine (engine.go) is the bus-facing wrapper.
type Gadget struct {
	cfg Config

	mu                    sync.Mutex
	checkpoints           map[int64]*Checkpoint
	voteHistory           map[string][]voteRecord
	epochsWithoutFinality int64
	lastFinalizedEpoch    int64
	lastFinalizedHeight   int64
	lastFinalizedAt       time.Time
	circuit               CircuitState
}

// NewGadget creates a Gadget starting in the Running circuit state.
func NewGadget(cfg Config) *Gadget {
	return &Gadget{
		cfg:             cfg,
		checkpoints:     make(map[int64]*Checkpoint),
		voteHistory:     make(map[string][]voteRecord),
		circuit:         CircuitState{Kind: Running},
		lastFinalizedAt: time.Now(),
	}
}

// CircuitState reports the breaker's current state.
func (g *Gadget) CircuitState() CircuitState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.circuit
}

// Reset applies an operator_reset input, the only way out of Halted.
func (g *Gadget) Reset() CircuitState {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.circuit = Transition(g.circuit, InputOperatorReset, g.cfg.MaxSyncAttempts)
	return g.circuit
}

// CheckpointState reports a checkpoint's current lifecycle state, for
// tests and FinalityCheckRequest responses.
func (g *Gadget) CheckpointState(epoch int64) (CheckpointState, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp, ok := g.checkpoints[epoch]
	if !ok {
		return 0, false
	}
	return cp.State, true
}

// LastFinalized reports the most recently finalized epoch and height.
func (g *Gadget) LastFinalized() (epoch, height int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastFinalizedEpoch, g.lastFinalizedHeight
}

// ProcessAttestationBatch re-verifies every attestation, folds the
// survivors into their target checkpoint's aggregated stake, runs
// slashing detection, and finalizes any checkpoint whose successor just
// became Justified. It returns ErrCircuitHalted without processing
// anything while the breaker is Halted, per spec §4.8's livelock block.
func (g *Gadget) ProcessAttestationBatch(
	validators *chain.ValidatorSet,
	height int64,
	atts []CheckpointAttestation,
) ([]FinalizedCheckpoint, []SlashingEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.circuit.Kind == Halted {
		return nil, nil, ErrCircuitHalted
	}

	verified, _ := verifyCheckpointAttestations(validators, atts)

	var slashing []SlashingEvent
	touched := make(map[int64]bool)

	for _, v := range verified {
		slashing = append(slashing, g.detectSlashing(v)...)
		g.recordVote(v)

		cp, ok := g.checkpoints[v.TargetEpoch]
		if !ok {
			cp = newCheckpoint(v.TargetEpoch, height, v.TargetHash)
			g.checkpoints[v.TargetEpoch] = cp
			g.epochsWithoutFinality++
		}
		if cp.State == Pending && !cp.Voted[v.ValidatorID] {
			cp.Voted[v.ValidatorID] = true
			cp.AggregatedStake += v.Stake
		}
		touched[v.TargetEpoch] = true
	}

	var finalized []FinalizedCheckpoint
	quorum := validators.QuorumStake()
	for epoch := range touched {
		cp := g.checkpoints[epoch]
		if cp.State == Pending && cp.AggregatedStake >= quorum {
			cp.State = Justified
			if prev, ok := g.checkpoints[epoch-1]; ok && prev.State == Justified {
				prev.State = Finalized
				g.lastFinalizedEpoch = prev.Epoch
				g.lastFinalizedHeight = prev.Height
				g.lastFinalizedAt = time.Now()
				g.epochsWithoutFinality = 0
				if g.circuit.Kind == Sync {
					g.circuit = Transition(g.circuit, InputSyncSuccess, g.cfg.MaxSyncAttempts)
				}
				finalized = append(finalized, FinalizedCheckpoint{
					Epoch:     prev.Epoch,
					Height:    prev.Height,
					BlockHash: prev.BlockHash,
				})
			}
		}
	}

	return finalized, slashing, nil
}

// detectSlashing checks v against this validator's recorded vote
// history for a double vote (two distinct attestations for the same
// target epoch) or a surround vote (one attestation strictly surrounds
// another by source/target epoch).
func (g *Gadget) detectSlashing(v verifiedVote) []SlashingEvent {
	var events []SlashingEvent
	for _, prior := range g.voteHistory[v.ValidatorID] {
		if prior.TargetEpoch == v.TargetEpoch && prior.TargetHash != v.TargetHash {
			events = append(events, SlashingEvent{Kind: "double_vote", ValidatorID: v.ValidatorID})
		}
		surrounds := v.SourceEpoch < prior.SourceEpoch && prior.TargetEpoch < v.TargetEpoch
		isSurrounded := prior.SourceEpoch < v.SourceEpoch && v.TargetEpoch < prior.TargetEpoch
		if surrounds || isSurrounded {
			events = append(events, SlashingEvent{Kind: "surround_vote", ValidatorID: v.ValidatorID})
		}
	}
	return events
}

func (g *Gadget) recordVote(v verifiedVote) {
	history := g.voteHistory[v.ValidatorID]
	history = append(history, voteRecord{SourceEpoch: v.SourceEpoch, TargetEpoch: v.TargetEpoch, TargetHash: v.TargetHash})
	if len(history) > g.cfg.MaxVoteHistoryPerValidator {
		history = history[len(history)-g.cfg.MaxVoteHistoryPerValidator:]
	}
	g.voteHistory[v.ValidatorID] = history
}

// CheckLiveness runs on a ticker from Engine.Run. If sync_timeout_secs
// has elapsed since the last successful finalization, that is a
// deterministic finality failure input to the circuit breaker.
// epochsWithoutFinality exceeding inactivity_leak_epochs is reported
// separately via InactivityLeakActive, not by this method.
func (g *Gadget) CheckLiveness(now time.Time) (failed bool, newState CircuitState) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.circuit.Kind == Halted {
		return false, g.circuit
	}
	if now.Sub(g.lastFinalizedAt) < g.cfg.SyncTimeout {
		return false, g.circuit
	}
	g.circuit = Transition(g.circuit, InputFinalityFailure, g.cfg.MaxSyncAttempts)
	g.lastFinalizedAt = now
	return true, g.circuit
}

// InactivityLeakExceeded reports whether epochs_without_finality has
// passed inactivity_leak_epochs.
func (g *Gadget) InactivityLeakExceeded() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.epochsWithoutFinality > g.cfg.InactivityLeakEpochs
}
