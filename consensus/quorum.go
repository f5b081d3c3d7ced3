package consensus

import (
	"github.com/choreocore/node/chain"
	"github.com/choreocore/node/sigverify"
)

// QuorumRule decides whether a set of verified attestations is enough to
// consider a block attested, under whichever voting scheme a deployment
// chooses. Making this pluggable lets the same pipeline run a
// stake-weighted PoS network or a one-validator-one-vote PBFT network
// without a second copy of the validation stages.
type QuorumRule interface {
	Satisfied(validators *chain.ValidatorSet, verified []sigverify.VerifiedAttestation) bool
}

// StakeWeightedQuorum requires the attesting stake to reach the
// validator set's 2/3 supermajority threshold (spec §4.5 PoS path).
type StakeWeightedQuorum struct{}

func (StakeWeightedQuorum) Satisfied(validators *chain.ValidatorSet, verified []sigverify.VerifiedAttestation) bool {
	return sigverify.StakeOf(verified) >= validators.QuorumStake()
}

// PBFTCountQuorum requires at least 2/3 of the validator set's member
// count to have attested, ignoring stake (spec §4.5 PBFT path).
type PBFTCountQuorum struct{}

func (PBFTCountQuorum) Satisfied(validators *chain.ValidatorSet, verified []sigverify.VerifiedAttestation) bool {
	n := len(validators.Validators)
	if n == 0 {
		return false
	}
	need := (2*n + 2) / 3
	return len(verified) >= need
}
