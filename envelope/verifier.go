package envelope

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/choreocore/node/crypto"
)

// Kind enumerates the ways verification can fail. Unlike the bus payload
// kinds above, this is a closed set callers can switch on or compare with
// errors.Is via Error.
type Kind int

const (
	KindOK Kind = iota
	KindBadVersion
	KindBadHmac
	KindBadTimestamp
	KindReplayNonce
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "OK"
	case KindBadVersion:
		return "BadVersion"
	case KindBadHmac:
		return "BadHmac"
	case KindBadTimestamp:
		return "BadTimestamp"
	case KindReplayNonce:
		return "ReplayNonce"
	case KindUnauthorized:
		return "Unauthorized"
	default:
		return "Unknown"
	}
}

// Error reports a verification failure with its Kind, so callers can
// errors.As/errors.Is against it without string matching.
type Error struct {
	Kind Kind
	msg  string
}

func (e *Error) Error() string { return e.msg }

func newError(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, msg: fmt.Sprintf(format, args...)}
}

const (
	// PastWindow and FutureWindow bound the acceptable clock skew of an
	// incoming envelope's timestamp_ms, per spec §4.1.
	PastWindow   = 60 * time.Second
	FutureWindow = 10 * time.Second

	// NonceWindow is how long a (sender, nonce) pair is remembered before
	// it is eligible for GC and could, in principle, repeat. It must be at
	// least PastWindow + FutureWindow so a nonce can never be forgotten
	// while its envelope could still be within the timestamp window.
	NonceWindow = PastWindow + FutureWindow + 30*time.Second
)

// AuthMatrix is the §6.3 authorization table: for each payload kind, the
// set of sender IDs allowed to originate it. This is the single source of
// truth the verifier checks against — no subsystem re-implements its own
// sender check.
var AuthMatrix = map[PayloadKind]map[SenderID]bool{
	KindBlockValidated:           {SenderConsensus: true},
	KindMerkleRootComputed:       {SenderIndexing: true},
	KindStateRootComputed:        {SenderState: true},
	KindBlockStored:              {SenderStorage: true},
	KindBlockStorageConfirmation: {SenderStorage: true},
	KindBlockFinalized:           {SenderStorage: true},
	KindAssemblyTimeout:          {SenderStorage: true},
	KindAssemblyBufferFull:       {SenderStorage: true},
	KindStorageCritical:          {SenderStorage: true},
	KindCircuitBreakerChange:     {SenderFinality: true},
	KindInvalidBlock:             {SenderConsensus: true},
	KindMarkFinalizedRequest:     {SenderFinality: true},
	KindValidateBlockRequest:     {SenderBlockPropagation: true},
	KindAddTransactionRequest:    {SenderSignatureVerification: true},
	KindGetTransactionsRequest:   {SenderConsensus: true},
	KindGetTransactionLocation:   {SenderIndexing: true},
	KindGetTxHashesForBlock:      {SenderIndexing: true},
	KindTransactionLocation:      {SenderStorage: true},
	KindTransactionHashesForBlock: {SenderStorage: true},
	KindProposeTransactionsRequest:  {SenderConsensus: true},
	KindRollbackTransactionsRequest: {SenderConsensus: true, SenderStorage: true},
	KindTransactionAdmissionResult:  {SenderMempool: true},
	KindTransactionsForBlock:        {SenderMempool: true},
	KindAttestationBatch:         {SenderConsensus: true},
	KindFinalityCheckRequest:     {SenderConsensus: true},
	KindFinalityProofRequest:     {SenderCrossChain: true},
	KindFinalityCheckResponse:    {SenderFinality: true},
	KindFinalityProofResponse:    {SenderFinality: true},
	KindInactivityLeakActive:     {SenderFinality: true},
	KindDoubleVoteDetected:       {SenderFinality: true},
	KindSurroundVoteDetected:     {SenderFinality: true},
	// ReadBlock / ReadBlockRange are open to any authorized subsystem
	// identity (not "external") — enforced by rejecting SenderExternal only.
	KindReadBlock:      nil,
	KindReadBlockRange: nil,
}

// Authorize reports whether sender may originate a message of kind. A nil
// entry in AuthMatrix means "any non-external subsystem," matching the
// open read-request contract in spec §4.7.
func Authorize(sender SenderID, kind PayloadKind) bool {
	allowed, known := AuthMatrix[kind]
	if !known {
		return false
	}
	if allowed == nil {
		return sender != SenderExternal && sender != ""
	}
	return allowed[sender]
}

// nonceRecord is §3.2's NonceRecord: (sender, nonce, expires_at).
type nonceRecord struct {
	expiresAt time.Time
}

// Verifier implements C1: HMAC authentication, replay prevention via a
// bounded nonce cache, timestamp-window policy, and authorization.
type Verifier struct {
	rootKey []byte

	mu     sync.Mutex
	seen   map[string]nonceRecord // key = sender|nonce
	nowFn  func() time.Time

	// Counters for protocol-kind violations (logged and counted, not
	// silently dropped, per §4.1's policy distinction).
	unknownKindCount int
}

// NewVerifier creates a Verifier deriving per-sender keys from rootKey.
func NewVerifier(rootKey []byte) *Verifier {
	return &Verifier{
		rootKey: rootKey,
		seen:    make(map[string]nonceRecord),
		nowFn:   time.Now,
	}
}

// Verify checks version, timestamp window, HMAC, and nonce freshness, in
// that order, and records the nonce as seen on success. It does not check
// authorization — call Authorize (or VerifyAndAuthorize) for that, since
// §4.1 treats "unauthorized" as a distinct outcome from "unauthenticated."
func (v *Verifier) Verify(e *Envelope) error {
	if e.Version != CurrentVersion {
		return newError(KindBadVersion, "envelope version %d != %d", e.Version, CurrentVersion)
	}

	now := v.nowFn()
	ts := time.UnixMilli(e.TimestampMs)
	if ts.Before(now.Add(-PastWindow)) || ts.After(now.Add(FutureWindow)) {
		return newError(KindBadTimestamp, "timestamp %s outside [%s, %s]",
			ts, now.Add(-PastWindow), now.Add(FutureWindow))
	}

	key, err := crypto.DeriveSenderKey(v.rootKey, string(e.SenderID))
	if err != nil {
		return newError(KindBadHmac, "derive key for %q: %v", e.SenderID, err)
	}
	if !checkHMAC(e, key) {
		return newError(KindBadHmac, "hmac mismatch for sender %q", e.SenderID)
	}

	nonceKey := string(e.SenderID) + "|" + e.Nonce
	v.mu.Lock()
	defer v.mu.Unlock()
	v.gcLocked(now)
	if _, dup := v.seen[nonceKey]; dup {
		return newError(KindReplayNonce, "nonce %q replayed by %q", e.Nonce, e.SenderID)
	}
	v.seen[nonceKey] = nonceRecord{expiresAt: now.Add(NonceWindow)}
	return nil
}

// VerifyAndAuthorize runs Verify then checks the §6.3 matrix for e.Kind.
func (v *Verifier) VerifyAndAuthorize(e *Envelope) error {
	if err := v.Verify(e); err != nil {
		return err
	}
	if _, known := AuthMatrix[e.Kind]; !known {
		v.mu.Lock()
		v.unknownKindCount++
		v.mu.Unlock()
		log.Printf("[envelope] unknown payload kind %q from %q", e.Kind, e.SenderID)
		return newError(KindUnauthorized, "unknown payload kind %q from %q", e.Kind, e.SenderID)
	}
	if !Authorize(e.SenderID, e.Kind) {
		return newError(KindUnauthorized, "sender %q not authorized for %q", e.SenderID, e.Kind)
	}
	return nil
}

// gcLocked evicts expired nonce records. Callers must hold v.mu.
func (v *Verifier) gcLocked(now time.Time) {
	for k, rec := range v.seen {
		if now.After(rec.expiresAt) {
			delete(v.seen, k)
		}
	}
}

// GC runs the nonce-cache sweep on an external cadence (callers typically
// drive this from a ticker alongside a subsystem's other periodic work).
func (v *Verifier) GC() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.gcLocked(v.nowFn())
}

// NonceCacheSize reports the current number of tracked nonces, for tests
// and bounded-memory assertions.
func (v *Verifier) NonceCacheSize() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.seen)
}
