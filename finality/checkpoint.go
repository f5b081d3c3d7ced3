package finality

import "time"

// CheckpointState is spec §4.8's per-epoch checkpoint lifecycle.
type CheckpointState int

const (
	Pending CheckpointState = iota
	Justified
	Finalized
)

func (s CheckpointState) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Justified:
		return "Justified"
	case Finalized:
		return "Finalized"
	default:
		return "Unknown"
	}
}

// Checkpoint tracks one epoch boundary's justification progress.
// AggregatedStake and Voted only ever grow within an epoch: once a
// validator's vote for this target has been counted, a repeat delivery
// of the same attestation (e.g. a re-sent batch) cannot inflate stake.
type Checkpoint struct {
	Epoch           int64
	Height          int64
	BlockHash       string
	State           CheckpointState
	AggregatedStake uint64
	Voted           map[string]bool
}

func newCheckpoint(epoch, height int64, blockHash string) *Checkpoint {
	return &Checkpoint{
		Epoch:     epoch,
		Height:    height,
		BlockHash: blockHash,
		State:     Pending,
		Voted:     make(map[string]bool),
	}
}

// voteRecord is the minimal history kept per validator to detect double
// votes and surround votes against future attestations.
type voteRecord struct {
	SourceEpoch int64
	TargetEpoch int64
	TargetHash  string
}

// Config holds finality's tunables.
type Config struct {
	MaxSyncAttempts            int
	SyncTimeout                time.Duration
	InactivityLeakEpochs       int64
	MaxVoteHistoryPerValidator int
}

// DefaultConfig returns reasonable defaults for the tunables spec.md
// leaves to the deployer.
func DefaultConfig() Config {
	return Config{
		MaxSyncAttempts:            3,
		SyncTimeout:                30 * time.Second,
		InactivityLeakEpochs:       4,
		MaxVoteHistoryPerValidator: 128,
	}
}
