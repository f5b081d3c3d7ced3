// Package sigverify implements C3: the zero-trust signature verification
// boundary. Every signature that crosses into the core (block proposer
// signatures, validator attestations) is re-verified here regardless of
// any "valid" flag an upstream collaborator attached to it — an advisory
// claim from outside the trust boundary is never taken at face value
// (spec §4.3).
package sigverify

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

// Domain separation tags distinguish signatures over otherwise identical
// byte strings used in different protocol roles, so a block proposal
// signature can never be replayed as an attestation or vice versa.
const (
	DomainBlockProposal  = "choreocore/block-proposal/v1"
	DomainAttestation    = "choreocore/attestation/v1"
	DomainCheckpointVote = "choreocore/checkpoint-vote/v1"
)

const (
	BLSPrivateKeySize = 32
	BLSPublicKeySize  = 96
	BLSSignatureSize  = 48
)

var (
	blsInitOnce sync.Once
	g1Gen       bls12381.G1Affine
	g2Gen       bls12381.G2Affine
)

func initBLS() {
	blsInitOnce.Do(func() {
		_, _, g1Gen, g2Gen = bls12381.Generators()
	})
}

// BLSPrivateKey is a scalar in the BLS12-381 scalar field.
type BLSPrivateKey struct {
	scalar fr.Element
}

// BLSPublicKey is a point on G2.
type BLSPublicKey struct {
	point bls12381.G2Affine
}

// BLSSignature is a point on G1.
type BLSSignature struct {
	point bls12381.G1Affine
}

// GenerateBLSKeyPair produces a fresh validator BLS key pair.
func GenerateBLSKeyPair() (*BLSPrivateKey, *BLSPublicKey, error) {
	initBLS()
	var sk fr.Element
	if _, err := sk.SetRandom(); err != nil {
		return nil, nil, fmt.Errorf("generate bls scalar: %w", err)
	}
	priv := &BLSPrivateKey{scalar: sk}
	return priv, priv.Public(), nil
}

// Public derives the public key for sk.
func (sk *BLSPrivateKey) Public() *BLSPublicKey {
	var pk bls12381.G2Affine
	var skBig big.Int
	sk.scalar.BigInt(&skBig)
	pk.ScalarMultiplication(&g2Gen, &skBig)
	return &BLSPublicKey{point: pk}
}

// Sign produces a domain-separated BLS signature over message.
func (sk *BLSPrivateKey) Sign(domain string, message []byte) *BLSSignature {
	h := hashToG1(domain, message)
	var sig bls12381.G1Affine
	var skBig big.Int
	sk.scalar.BigInt(&skBig)
	sig.ScalarMultiplication(&h, &skBig)
	return &BLSSignature{point: sig}
}

// BLSPublicKeyFromBytes deserializes a compressed G2 point.
func BLSPublicKeyFromBytes(data []byte) (*BLSPublicKey, error) {
	initBLS()
	if len(data) != BLSPublicKeySize {
		return nil, fmt.Errorf("bls public key: want %d bytes, got %d", BLSPublicKeySize, len(data))
	}
	var pk bls12381.G2Affine
	if _, err := pk.SetBytes(data); err != nil {
		return nil, fmt.Errorf("decode bls public key: %w", err)
	}
	if !pk.IsOnCurve() || pk.IsInfinity() || !pk.IsInSubGroup() {
		return nil, errors.New("bls public key fails subgroup check")
	}
	return &BLSPublicKey{point: pk}, nil
}

// BLSSignatureFromBytes deserializes a compressed G1 point.
func BLSSignatureFromBytes(data []byte) (*BLSSignature, error) {
	initBLS()
	if len(data) != BLSSignatureSize {
		return nil, fmt.Errorf("bls signature: want %d bytes, got %d", BLSSignatureSize, len(data))
	}
	var sig bls12381.G1Affine
	if _, err := sig.SetBytes(data); err != nil {
		return nil, fmt.Errorf("decode bls signature: %w", err)
	}
	if !sig.IsOnCurve() || sig.IsInfinity() || !sig.IsInSubGroup() {
		return nil, errors.New("bls signature fails subgroup check")
	}
	return &BLSSignature{point: sig}, nil
}

func (pk *BLSPublicKey) Bytes() []byte {
	b := pk.point.Bytes()
	return b[:]
}

func (sig *BLSSignature) Bytes() []byte {
	b := sig.point.Bytes()
	return b[:]
}

// VerifyBLS re-verifies a single attestation signature via a pairing
// check: e(sig, G2) == e(H(domain||msg), pk). Never trust a caller's
// claim that this already passed upstream.
func VerifyBLS(pk *BLSPublicKey, sig *BLSSignature, domain string, message []byte) bool {
	initBLS()
	h := hashToG1(domain, message)

	var negPk bls12381.G2Affine
	negPk.Neg(&pk.point)

	ok, err := bls12381.PairingCheck(
		[]bls12381.G1Affine{sig.point, h},
		[]bls12381.G2Affine{g2Gen, negPk},
	)
	if err != nil {
		return false
	}
	return ok
}

// AggregateBLSSignatures sums signatures on G1, so that signatures over
// one message can be checked together with VerifyAggregateBLS. The
// consensus quorum check does not use it; it verifies each attestation
// on its own.
func AggregateBLSSignatures(sigs []*BLSSignature) (*BLSSignature, error) {
	if len(sigs) == 0 {
		return nil, errors.New("no signatures to aggregate")
	}
	var agg bls12381.G1Jac
	agg.FromAffine(&sigs[0].point)
	for _, s := range sigs[1:] {
		var jac bls12381.G1Jac
		jac.FromAffine(&s.point)
		agg.AddAssign(&jac)
	}
	var result bls12381.G1Affine
	result.FromJacobian(&agg)
	return &BLSSignature{point: result}, nil
}

// AggregateBLSPublicKeys sums public keys on G2.
func AggregateBLSPublicKeys(keys []*BLSPublicKey) (*BLSPublicKey, error) {
	if len(keys) == 0 {
		return nil, errors.New("no public keys to aggregate")
	}
	var agg bls12381.G2Jac
	agg.FromAffine(&keys[0].point)
	for _, k := range keys[1:] {
		var jac bls12381.G2Jac
		jac.FromAffine(&k.point)
		agg.AddAssign(&jac)
	}
	var result bls12381.G2Affine
	result.FromJacobian(&agg)
	return &BLSPublicKey{point: result}, nil
}

// VerifyAggregateBLS verifies a single aggregated signature against the
// aggregate of the signing set's public keys, for attestors who all
// signed the same checkpoint message.
func VerifyAggregateBLS(aggSig *BLSSignature, keys []*BLSPublicKey, domain string, message []byte) bool {
	if len(keys) == 0 {
		return false
	}
	aggPk, err := AggregateBLSPublicKeys(keys)
	if err != nil {
		return false
	}
	return VerifyBLS(aggPk, aggSig, domain, message)
}

// hashToG1 maps a domain-separated message onto a point in G1 using the
// hash-and-pray method: re-hash with an incrementing counter until the
// digest decodes to a valid curve point, falling back to hashing onto a
// scalar and multiplying the generator.
func hashToG1(domain string, message []byte) bls12381.G1Affine {
	initBLS()
	base := sha256.New()
	base.Write([]byte(domain))
	base.Write(message)
	seed := base.Sum(nil)

	var counter uint64
	for {
		h := sha256.New()
		h.Write(seed)
		binary.Write(h, binary.BigEndian, counter)
		digest := h.Sum(nil)

		var point bls12381.G1Affine
		if _, err := point.SetBytes(digest); err == nil && !point.IsInfinity() {
			return point
		}

		var scalar fr.Element
		scalar.SetBytes(digest)
		var scalarBig big.Int
		scalar.BigInt(&scalarBig)
		var result bls12381.G1Affine
		result.ScalarMultiplication(&g1Gen, &scalarBig)
		if !result.IsInfinity() {
			return result
		}

		counter++
		if counter > 1000 {
			return g1Gen
		}
	}
}
