package consensus

import (
	"fmt"
	"time"

	"github.com/choreocore/node/chain"
	"github.com/choreocore/node/sigverify"
)

// maxBlockTimeDrift bounds how far into the future a block's timestamp
// may sit relative to this node's clock, same tolerance the
// proof-of-authority engine this was generalized from used.
const maxBlockTimeDrift = 15 * time.Second

// Stage names each step of the validation pipeline, so a rejection
// reports exactly where it failed (spec §4.5's five-stage pipeline).
type Stage string

const (
	StageStructure   Stage = "structure"
	StageProposer    Stage = "proposer"
	StageQuorum      Stage = "quorum"
	StageSignature   Stage = "signature"
	StageDuplication Stage = "duplication"
)

// RejectionError reports which stage rejected a block and why.
type RejectionError struct {
	Stage Stage
	Err   error
}

func (r *RejectionError) Error() string { return fmt.Sprintf("%s: %v", r.Stage, r.Err) }
func (r *RejectionError) Unwrap() error { return r.Err }

func reject(stage Stage, format string, args ...any) *RejectionError {
	return &RejectionError{Stage: stage, Err: fmt.Errorf(format, args...)}
}

// Seen is the anti-duplication ledger: block hashes this node has already
// run through the pipeline, bounded so a long-running node's memory does
// not grow without limit (spec §4.5 stage 5).
type Seen struct {
	cap   int
	order []string
	set   map[string]struct{}
}

// NewSeen creates a bounded duplicate-block tracker holding at most
// capacity hashes, evicting the oldest on overflow.
func NewSeen(capacity int) *Seen {
	return &Seen{cap: capacity, set: make(map[string]struct{}, capacity)}
}

// CheckAndRecord reports whether hash has already been seen; if not, it
// records hash and returns false.
func (s *Seen) CheckAndRecord(hash string) bool {
	if _, ok := s.set[hash]; ok {
		return true
	}
	s.set[hash] = struct{}{}
	s.order = append(s.order, hash)
	if len(s.order) > s.cap {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.set, oldest)
	}
	return false
}

// Validator runs the five-stage block validation pipeline. It holds no
// chain state of its own: the previous tip and validator set are passed
// in by the caller on every call, since in the choreographed design
// consensus does not own storage (C8 does).
type Validator struct {
	quorum QuorumRule
	seen   *Seen
}

// NewValidator creates a Validator using quorum as its attestation rule.
func NewValidator(quorum QuorumRule, dupCacheSize int) *Validator {
	return &Validator{quorum: quorum, seen: NewSeen(dupCacheSize)}
}

// Tip is the minimal parent-block context the pipeline needs: the
// previous block's hash, height, and timestamp, or the zero value for
// the chain's first block.
type Tip struct {
	Hash      string
	Height    int64
	Timestamp int64
	IsGenesis bool
}

// ValidateBlock runs block through all five stages in order, short-
// circuiting on the first rejection. validators must be the validator
// set in effect for block's epoch; attestations are the raw, unverified
// votes carried alongside the block — this pipeline re-verifies every
// one of them itself, just before the quorum check (stage 3), rather
// than trusting that they were already checked upstream.
func (v *Validator) ValidateBlock(block *chain.Block, tip Tip, validators *chain.ValidatorSet, attestations []sigverify.Attestation) error {
	if err := v.checkStructure(block, tip); err != nil {
		return err
	}
	if err := v.checkProposer(block, validators); err != nil {
		return err
	}
	verified, rejected := sigverify.VerifyAttestationBatch(validators, block.Hash, attestations)
	if err := v.checkQuorum(verified, rejected, validators); err != nil {
		return err
	}
	if err := v.checkSignature(block, validators); err != nil {
		return err
	}
	if err := v.checkDuplication(block); err != nil {
		return err
	}
	return nil
}

func (v *Validator) checkStructure(block *chain.Block, tip Tip) error {
	if err := block.VerifyIntegrity(); err != nil {
		return reject(StageStructure, "%w", err)
	}
	if tip.IsGenesis {
		return nil
	}
	if block.Header.PrevHash != tip.Hash {
		return reject(StageStructure, "prev_hash mismatch: got %s want %s", block.Header.PrevHash, tip.Hash)
	}
	if block.Header.Height != tip.Height+1 {
		return reject(StageStructure, "height mismatch: got %d want %d", block.Header.Height, tip.Height+1)
	}
	if block.Header.Timestamp < tip.Timestamp {
		return reject(StageStructure, "timestamp %d precedes parent %d", block.Header.Timestamp, tip.Timestamp)
	}
	now := time.Now().UnixNano()
	if block.Header.Timestamp > now+maxBlockTimeDrift.Nanoseconds() {
		return reject(StageStructure, "timestamp %d too far in future (now %d)", block.Header.Timestamp, now)
	}
	return nil
}

func (v *Validator) checkProposer(block *chain.Block, validators *chain.ValidatorSet) error {
	if len(validators.Validators) == 0 {
		return reject(StageProposer, "empty validator set")
	}
	idx := int(block.Header.Height % int64(len(validators.Validators)))
	expected := validators.Validators[idx].ID
	if block.Header.Proposer != expected {
		return reject(StageProposer, "wrong proposer: got %s want %s", block.Header.Proposer, expected)
	}
	if _, ok := validators.Get(block.Header.Proposer); !ok {
		return reject(StageProposer, "proposer %s not in validator set", block.Header.Proposer)
	}
	return nil
}

func (v *Validator) checkQuorum(verified []sigverify.VerifiedAttestation, rejected int, validators *chain.ValidatorSet) error {
	if !v.quorum.Satisfied(validators, verified) {
		return reject(StageQuorum, "quorum not reached: %d verified, %d rejected", len(verified), rejected)
	}
	return nil
}

// checkSignature re-verifies the proposer's signature independent of
// whatever block.VerifyIntegrity already checked structurally, and
// independent of any upstream claim that the signature was already
// validated — the zero-trust boundary named in spec §4.3.
func (v *Validator) checkSignature(block *chain.Block, validators *chain.ValidatorSet) error {
	if err := sigverify.VerifyProposerSignature(validators, block); err != nil {
		return reject(StageSignature, "%w", err)
	}
	return nil
}

func (v *Validator) checkDuplication(block *chain.Block) error {
	if v.seen.CheckAndRecord(block.Hash) {
		return reject(StageDuplication, "block %s already validated", block.Hash)
	}
	return nil
}
