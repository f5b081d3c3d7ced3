package envelope

import (
	"testing"
	"time"

	"github.com/choreocore/node/crypto"
	"github.com/stretchr/testify/require"
)

var rootKey = []byte("test-root-key-do-not-use-in-prod")

func newTestEnvelope(t *testing.T, sender SenderID, kind PayloadKind, nowMs int64) *Envelope {
	t.Helper()
	key, err := crypto.DeriveSenderKey(rootKey, string(sender))
	require.NoError(t, err)
	e, err := New(sender, kind, map[string]string{"hello": "world"}, key, nowMs)
	require.NoError(t, err)
	return e
}

func TestVerifyAcceptsFreshEnvelope(t *testing.T) {
	v := NewVerifier(rootKey)
	now := time.Now()
	e := newTestEnvelope(t, SenderConsensus, KindBlockValidated, now.UnixMilli())
	require.NoError(t, v.Verify(e))
}

// TestEnvelopeReplay is spec §8 property 1: a second submission of the same
// envelope bytes is rejected with ReplayNonce.
func TestEnvelopeReplay(t *testing.T) {
	v := NewVerifier(rootKey)
	now := time.Now()
	e := newTestEnvelope(t, SenderConsensus, KindBlockValidated, now.UnixMilli())

	require.NoError(t, v.Verify(e))

	err := v.Verify(e)
	require.Error(t, err)
	var verr *Error
	require.ErrorAs(t, err, &verr)
	require.Equal(t, KindReplayNonce, verr.Kind)
}

// TestEnvelopeReplayWithNewNonceButStaleTimestamp is the second half of
// property 1: re-signing with a fresh nonce but a stale timestamp is
// rejected with BadTimestamp, not accepted as "not a replay."
func TestEnvelopeReplayWithNewNonceButStaleTimestamp(t *testing.T) {
	v := NewVerifier(rootKey)
	stale := time.Now().Add(-PastWindow - time.Minute)
	e := newTestEnvelope(t, SenderConsensus, KindBlockValidated, stale.UnixMilli())

	err := v.Verify(e)
	require.Error(t, err)
	var verr *Error
	require.ErrorAs(t, err, &verr)
	require.Equal(t, KindBadTimestamp, verr.Kind)
}

func TestVerifyRejectsBadHmac(t *testing.T) {
	v := NewVerifier(rootKey)
	e := newTestEnvelope(t, SenderConsensus, KindBlockValidated, time.Now().UnixMilli())
	e.HMACTag = "00"

	err := v.Verify(e)
	require.Error(t, err)
	var verr *Error
	require.ErrorAs(t, err, &verr)
	require.Equal(t, KindBadHmac, verr.Kind)
}

func TestVerifyRejectsBadVersion(t *testing.T) {
	v := NewVerifier(rootKey)
	e := newTestEnvelope(t, SenderConsensus, KindBlockValidated, time.Now().UnixMilli())
	e.Version = 99

	err := v.Verify(e)
	require.Error(t, err)
	var verr *Error
	require.ErrorAs(t, err, &verr)
	require.Equal(t, KindBadVersion, verr.Kind)
}

// TestAuthorizationClosure is spec §8 property 2.
func TestAuthorizationClosure(t *testing.T) {
	v := NewVerifier(rootKey)

	allowed := newTestEnvelope(t, SenderConsensus, KindBlockValidated, time.Now().UnixMilli())
	require.NoError(t, v.VerifyAndAuthorize(allowed))

	disallowed := newTestEnvelope(t, SenderMempool, KindBlockValidated, time.Now().UnixMilli())
	err := v.VerifyAndAuthorize(disallowed)
	require.Error(t, err)
	var verr *Error
	require.ErrorAs(t, err, &verr)
	require.Equal(t, KindUnauthorized, verr.Kind)
}

func TestGCBoundsNonceCache(t *testing.T) {
	v := NewVerifier(rootKey)
	base := time.Now()
	v.nowFn = func() time.Time { return base }

	for i := 0; i < 10; i++ {
		e := newTestEnvelope(t, SenderConsensus, KindBlockValidated, base.UnixMilli())
		require.NoError(t, v.Verify(e))
	}
	require.Equal(t, 10, v.NonceCacheSize())

	v.nowFn = func() time.Time { return base.Add(NonceWindow + time.Second) }
	v.GC()
	require.Equal(t, 0, v.NonceCacheSize())
}
