package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveSenderKey derives a per-sender HMAC key from a single root key using
// HKDF (HMAC-SHA256 extract-then-expand). The derivation is deterministic:
// the same (rootKey, senderID) pair always yields the same output, which is
// what lets a verifier reconstruct a sender's key on demand instead of
// storing one key per sender.
func DeriveSenderKey(rootKey []byte, senderID string) ([]byte, error) {
	info := []byte("envelope-v1|" + senderID)
	reader := hkdf.New(sha256.New, rootKey, nil, info)
	out := make([]byte, 32)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, fmt.Errorf("hkdf derive for sender %q: %w", senderID, err)
	}
	return out, nil
}
