package finality

import (
	"github.com/choreocore/node/chain"
	"github.com/choreocore/node/sigverify"
)

// CheckpointAttestation is a validator's Casper-FFG-style vote: "I attest
// that the chain transitions from the checkpoint at SourceEpoch to the
// checkpoint at TargetEpoch, whose block is TargetHash."
type CheckpointAttestation struct {
	ValidatorID string `json:"validator_id"`
	SourceEpoch int64  `json:"source_epoch"`
	TargetEpoch int64  `json:"target_epoch"`
	TargetHash  string `json:"target_hash"`
	Signature   []byte `json:"signature"`
}

// verifiedVote is a CheckpointAttestation whose BLS signature has been
// independently re-checked against the validator set. Only these, never
// raw CheckpointAttestations, ever contribute stake to a checkpoint.
type verifiedVote struct {
	ValidatorID string
	Stake       uint64
	SourceEpoch int64
	TargetEpoch int64
	TargetHash  string
}

// signingMaterial is the byte string a checkpoint vote's BLS signature
// covers: source epoch, target epoch, and target hash, domain-separated
// from block proposal and block-level attestation signatures.
func signingMaterial(sourceEpoch, targetEpoch int64, targetHash string) []byte {
	buf := make([]byte, 0, 16+len(targetHash))
	buf = appendInt64(buf, sourceEpoch)
	buf = appendInt64(buf, targetEpoch)
	buf = append(buf, targetHash...)
	return buf
}

func appendInt64(buf []byte, v int64) []byte {
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(v>>(8*(7-i))))
	}
	return buf
}

// verifyCheckpointAttestations re-verifies every attestation's BLS
// signature against validators, independent of whatever Consensus
// claimed upstream (spec §4.8's zero-trust re-verify rule). It does not
// check for double-vote or surround-vote; that is a separate pass over
// the already-verified set, since slashing detection needs historical
// context an individual signature check does not have.
func verifyCheckpointAttestations(validators *chain.ValidatorSet, atts []CheckpointAttestation) (verified []verifiedVote, rejected int) {
	for _, a := range atts {
		v, ok := validators.Get(a.ValidatorID)
		if !ok {
			rejected++
			continue
		}
		pk, err := sigverify.BLSPublicKeyFromBytes(v.BLSPubKey)
		if err != nil {
			rejected++
			continue
		}
		sig, err := sigverify.BLSSignatureFromBytes(a.Signature)
		if err != nil {
			rejected++
			continue
		}
		msg := signingMaterial(a.SourceEpoch, a.TargetEpoch, a.TargetHash)
		if !sigverify.VerifyBLS(pk, sig, sigverify.DomainCheckpointVote, msg) {
			rejected++
			continue
		}
		verified = append(verified, verifiedVote{
			ValidatorID: v.ID,
			Stake:       v.Stake,
			SourceEpoch: a.SourceEpoch,
			TargetEpoch: a.TargetEpoch,
			TargetHash:  a.TargetHash,
		})
	}
	return verified, rejected
}
