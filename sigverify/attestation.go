package sigverify

import (
	"fmt"

	"github.com/choreocore/node/chain"
	"github.com/choreocore/node/crypto"
)

// Attestation is a single validator's vote for a block, as carried in an
// AttestationBatch payload (spec §4.3, §6.2).
type Attestation struct {
	ValidatorID string `json:"validator_id"`
	BlockHash   string `json:"block_hash"`
	Signature   []byte `json:"signature"`
}

// VerifiedAttestation is an Attestation whose signature has been checked
// against the validator set's recorded BLS public key. Only these, never
// raw Attestations, may be handed to a quorum rule.
type VerifiedAttestation struct {
	ValidatorID string
	Stake       uint64
}

// VerifyAttestationBatch re-verifies every attestation in atts against
// validators, discarding any that name an unknown validator or fail the
// pairing check, and returns only the survivors plus a count of
// discarded ones for logging. A quorum computed from unverified
// attestations would let a single forged signature inflate stake.
func VerifyAttestationBatch(validators *chain.ValidatorSet, blockHash string, atts []Attestation) (verified []VerifiedAttestation, rejected int) {
	for _, a := range atts {
		v, ok := validators.Get(a.ValidatorID)
		if !ok {
			rejected++
			continue
		}
		pk, err := BLSPublicKeyFromBytes(v.BLSPubKey)
		if err != nil {
			rejected++
			continue
		}
		sig, err := BLSSignatureFromBytes(a.Signature)
		if err != nil {
			rejected++
			continue
		}
		if a.BlockHash != blockHash {
			rejected++
			continue
		}
		if !VerifyBLS(pk, sig, DomainAttestation, []byte(blockHash)) {
			rejected++
			continue
		}
		verified = append(verified, VerifiedAttestation{ValidatorID: v.ID, Stake: v.Stake})
	}
	return verified, rejected
}

// StakeOf sums the stake behind a set of already-verified attestations.
func StakeOf(verified []VerifiedAttestation) uint64 {
	var total uint64
	for _, v := range verified {
		total += v.Stake
	}
	return total
}

// VerifyProposerSignature independently re-verifies a block's proposer
// signature against the validator set, rather than trusting that
// b.Verify already ran (or ran honestly) somewhere upstream. The
// proposer's identity is looked up fresh in validators and the ed25519
// signature is checked against that looked-up key, not against whatever
// key the caller happened to attach to the block.
func VerifyProposerSignature(validators *chain.ValidatorSet, b *chain.Block) error {
	proposer, ok := validators.Get(b.Header.Proposer)
	if !ok {
		return fmt.Errorf("sigverify: unknown proposer %q", b.Header.Proposer)
	}
	pub, err := crypto.PubKeyFromHex(proposer.ID)
	if err != nil {
		return fmt.Errorf("sigverify: proposer identity %q is not a valid pubkey: %w", proposer.ID, err)
	}
	if err := b.Verify(pub); err != nil {
		return fmt.Errorf("sigverify: proposer signature invalid: %w", err)
	}
	return nil
}
