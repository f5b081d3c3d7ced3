// Package envelope implements the authenticated wrapper every bus message
// travels in (C1): identity, HMAC, nonce, timestamp, and the static
// authorization matrix from spec §6.3. Payloads never carry identity or
// replay fields of their own — sender_id, as proven by the HMAC, is the
// sole source of truth for "who sent this."
package envelope

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// SenderID is one of the fixed subsystem identities, or "external" for
// collaborators outside the core (Block Propagation, Signature
// Verification, Cross-chain, etc).
type SenderID string

const (
	SenderConsensus             SenderID = "consensus"
	SenderIndexing              SenderID = "indexing"
	SenderState                 SenderID = "state"
	SenderStorage               SenderID = "storage"
	SenderFinality              SenderID = "finality"
	SenderMempool               SenderID = "mempool"
	SenderSignatureVerification SenderID = "signature_verification"
	SenderBlockPropagation      SenderID = "block_propagation"
	SenderCrossChain            SenderID = "cross_chain"
	SenderExternal              SenderID = "external"
)

// PayloadKind names the variant carried in an envelope's Payload field.
// This is the same enum the authorization matrix (§6.3) keys off.
type PayloadKind string

const (
	KindBlockValidated           PayloadKind = "BlockValidated"
	KindMerkleRootComputed       PayloadKind = "MerkleRootComputed"
	KindStateRootComputed        PayloadKind = "StateRootComputed"
	KindBlockStored              PayloadKind = "BlockStored"
	KindBlockStorageConfirmation PayloadKind = "BlockStorageConfirmation"
	KindBlockFinalized           PayloadKind = "BlockFinalized"
	KindAssemblyTimeout          PayloadKind = "AssemblyTimeout"
	KindAssemblyBufferFull       PayloadKind = "AssemblyBufferFull"
	KindStorageCritical          PayloadKind = "StorageCritical"
	KindCircuitBreakerChange     PayloadKind = "CircuitBreakerStateChange"
	KindInvalidBlock             PayloadKind = "InvalidBlock"

	KindValidateBlockRequest     PayloadKind = "ValidateBlockRequest"
	KindAddTransactionRequest    PayloadKind = "AddTransactionRequest"
	KindGetTransactionsRequest   PayloadKind = "GetTransactionsRequest"
	KindMarkFinalizedRequest     PayloadKind = "MarkFinalizedRequest"
	KindReadBlock                PayloadKind = "ReadBlock"
	KindReadBlockRange           PayloadKind = "ReadBlockRange"
	KindGetTransactionLocation   PayloadKind = "GetTransactionLocation"
	KindGetTxHashesForBlock      PayloadKind = "GetTransactionHashesForBlock"
	KindAttestationBatch         PayloadKind = "AttestationBatch"
	KindFinalityCheckRequest     PayloadKind = "FinalityCheckRequest"
	KindFinalityProofRequest     PayloadKind = "FinalityProofRequest"

	// KindFinalityCheckResponse and KindFinalityProofResponse are
	// Finality's replies to the two request kinds above.
	KindFinalityCheckResponse PayloadKind = "FinalityCheckResponse"
	KindFinalityProofResponse PayloadKind = "FinalityProofResponse"

	// KindInactivityLeakActive, KindDoubleVoteDetected, and
	// KindSurroundVoteDetected are Finality's observability events: the
	// inactivity-leak tracker and the two slashable-offense detectors
	// never mutate validator state themselves, only publish for an
	// external slashing module to act on.
	KindInactivityLeakActive PayloadKind = "InactivityLeakActive"
	KindDoubleVoteDetected   PayloadKind = "DoubleVoteDetected"
	KindSurroundVoteDetected PayloadKind = "SurroundVoteDetected"

	// KindTransactionLocation and KindTransactionHashesForBlock are
	// Storage's replies to the two Indexing-only requests above. They
	// are distinct kinds (rather than a same-kind echo) because the
	// request and response sides have different authorized senders.
	KindTransactionLocation       PayloadKind = "TransactionLocation"
	KindTransactionHashesForBlock PayloadKind = "TransactionHashesForBlock"

	// KindProposeTransactionsRequest and KindRollbackTransactionsRequest
	// are the mempool 2PC's other two Consensus/Storage-facing verbs
	// (propose and rollback/reject, spec §4.4); add and get_for_block
	// reuse KindAddTransactionRequest/KindGetTransactionsRequest above,
	// and confirm reuses KindBlockStorageConfirmation.
	KindProposeTransactionsRequest  PayloadKind = "ProposeTransactionsRequest"
	KindRollbackTransactionsRequest PayloadKind = "RollbackTransactionsRequest"

	// KindTransactionAdmissionResult and KindTransactionsForBlock are
	// Mempool's replies to AddTransactionRequest and
	// GetTransactionsRequest respectively.
	KindTransactionAdmissionResult PayloadKind = "TransactionAdmissionResult"
	KindTransactionsForBlock       PayloadKind = "TransactionsForBlock"
)

// Envelope wraps every message crossing the bus. Payload is left as
// json.RawMessage here; each subscriber unmarshals it into the concrete
// type its PayloadKind implies.
type Envelope struct {
	Version       int             `json:"version"`
	SenderID      SenderID        `json:"sender_id"`
	RecipientID   SenderID        `json:"recipient_id,omitempty"`
	TimestampMs   int64           `json:"timestamp_ms"`
	Nonce         string          `json:"nonce"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	ReplyTo       SenderID        `json:"reply_to,omitempty"`
	Kind          PayloadKind     `json:"kind"`
	Payload       json.RawMessage `json:"payload"`
	HMACTag       string          `json:"hmac_tag"`
}

// CurrentVersion is the only envelope wire version this core speaks.
const CurrentVersion = 1

// signingMaterial serialises the fields the HMAC tag covers, in a fixed
// field order, so sign and verify always hash identical bytes.
func signingMaterial(e *Envelope) []byte {
	buf, _ := json.Marshal(struct {
		Version       int         `json:"version"`
		SenderID      SenderID    `json:"sender_id"`
		TimestampMs   int64       `json:"timestamp_ms"`
		Nonce         string      `json:"nonce"`
		CorrelationID string      `json:"correlation_id"`
		Payload       []byte      `json:"payload"`
		Kind          PayloadKind `json:"kind"`
	}{e.Version, e.SenderID, e.TimestampMs, e.Nonce, e.CorrelationID, e.Payload, e.Kind})
	return buf
}

// Sign computes and sets HMACTag using key (the sender's derived key, see
// crypto.DeriveSenderKey).
func (e *Envelope) Sign(key []byte) {
	mac := hmac.New(sha256.New, key)
	mac.Write(signingMaterial(e))
	e.HMACTag = hex.EncodeToString(mac.Sum(nil))
}

// checkHMAC reports whether tag is a valid MAC of e's signing material
// under key, using constant-time comparison.
func checkHMAC(e *Envelope, key []byte) bool {
	mac := hmac.New(sha256.New, key)
	mac.Write(signingMaterial(e))
	expected := mac.Sum(nil)
	got, err := hex.DecodeString(e.HMACTag)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}
