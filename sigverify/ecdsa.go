package sigverify

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// ErrHighS is returned when a signature's S value is above the curve
// order's midpoint. A unique low-S form is enforced so one signature
// cannot be malleated into a second, distinct-but-valid encoding of the
// same signed statement (EIP-2).
var ErrHighS = errors.New("sigverify: signature has high S value")

// secp256k1Order is the well-known group order n of the secp256k1 curve.
// The v4 library models scalars as ModNScalar rather than exposing n as a
// big.Int directly, so the constant is reproduced here for the
// low-S / high-S comparison.
var secp256k1Order, _ = new(big.Int).SetString("FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFEBAAEDCE6AF48A03BBFD25E8CD0364141", 16)

var secp256k1HalfOrder = new(big.Int).Rsh(secp256k1Order, 1)

// ECDSAPublicKeyFromBytes parses a compressed or uncompressed secp256k1
// public key.
func ECDSAPublicKeyFromBytes(data []byte) (*secp256k1.PublicKey, error) {
	pk, err := secp256k1.ParsePubKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse secp256k1 public key: %w", err)
	}
	return pk, nil
}

// VerifyECDSA re-verifies a DER-encoded secp256k1 signature over
// sha256(message), rejecting malleable high-S encodings even though the
// underlying library would otherwise accept them. Within this module
// its caller is BatchVerifyECDSA; transactions and blocks are signed
// with ed25519 and do not pass through it.
func VerifyECDSA(pubKey *secp256k1.PublicKey, message, derSignature []byte) error {
	sig, err := ecdsa.ParseDERSignature(derSignature)
	if err != nil {
		return fmt.Errorf("parse der signature: %w", err)
	}
	if !isLowS(derSignature) {
		return ErrHighS
	}
	digest := sha256.Sum256(message)
	if !sig.Verify(digest[:], pubKey) {
		return errors.New("sigverify: ecdsa signature does not verify")
	}
	return nil
}

// isLowS reports whether the S component of the DER signature der is at
// most half the curve order. S is read from the encoding as received:
// the library does not expose R/S on the parsed type, and
// ecdsa.Signature.Serialize always re-encodes S in its low form.
func isLowS(der []byte) bool {
	s := extractS(der)
	if s == nil {
		return false
	}
	return s.Cmp(secp256k1HalfOrder) <= 0
}

// extractS pulls the S integer out of a DER-encoded ECDSA signature
// (SEQUENCE { r INTEGER, s INTEGER }) without a general ASN.1 decoder,
// matching the minimal encoding ecdsa.Signature.Serialize produces.
func extractS(der []byte) *big.Int {
	if len(der) < 2 || der[0] != 0x30 {
		return nil
	}
	i := 2
	if i >= len(der) || der[i] != 0x02 {
		return nil
	}
	i++
	if i >= len(der) {
		return nil
	}
	rLen := int(der[i])
	i += 1 + rLen
	if i >= len(der) || der[i] != 0x02 {
		return nil
	}
	i++
	if i >= len(der) {
		return nil
	}
	sLen := int(der[i])
	i++
	if i+sLen > len(der) {
		return nil
	}
	return new(big.Int).SetBytes(der[i : i+sLen])
}

// extractR pulls the R integer out of a DER-encoded ECDSA signature,
// mirroring extractS.
func extractR(der []byte) *big.Int {
	if len(der) < 2 || der[0] != 0x30 {
		return nil
	}
	i := 2
	if i >= len(der) || der[i] != 0x02 {
		return nil
	}
	i++
	if i >= len(der) {
		return nil
	}
	rLen := int(der[i])
	i++
	if i+rLen > len(der) {
		return nil
	}
	return new(big.Int).SetBytes(der[i : i+rLen])
}
