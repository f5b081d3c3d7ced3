package sigverify

import "github.com/decred/dcrd/dcrec/secp256k1/v4"

// ECDSASigned pairs a message with the public key and signature that
// claim to authorize it, for bulk re-verification.
type ECDSASigned struct {
	PubKey    *secp256k1.PublicKey
	Message   []byte
	Signature []byte
}

// BatchVerifyECDSA re-verifies every entry independently and returns the
// indices that failed. Nothing here short-circuits on the first failure:
// a batch of external-signer transactions must report every bad one, not
// just the first, so the mempool can reject each individually.
func BatchVerifyECDSA(items []ECDSASigned) (failed []int) {
	for i, it := range items {
		if err := VerifyECDSA(it.PubKey, it.Message, it.Signature); err != nil {
			failed = append(failed, i)
		}
	}
	return failed
}
