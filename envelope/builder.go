package envelope

import (
	"encoding/json"

	"github.com/google/uuid"
)

// New builds and signs an envelope for payload, using key as the sender's
// derived HMAC key (see crypto.DeriveSenderKey). Nonce and correlation_id
// are generated with google/uuid, giving each envelope a fresh,
// high-entropy nonce without the sender having to manage a counter.
func New(sender SenderID, kind PayloadKind, payload any, key []byte, nowMs int64) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	e := &Envelope{
		Version:       CurrentVersion,
		SenderID:      sender,
		TimestampMs:   nowMs,
		Nonce:         uuid.NewString(),
		CorrelationID: uuid.NewString(),
		Kind:          kind,
		Payload:       raw,
	}
	e.Sign(key)
	return e, nil
}

// Reply builds a response envelope whose ReplyTo and CorrelationID tie it
// back to req, per spec §3.1.
func Reply(req *Envelope, sender SenderID, kind PayloadKind, payload any, key []byte, nowMs int64) (*Envelope, error) {
	e, err := New(sender, kind, payload, key, nowMs)
	if err != nil {
		return nil, err
	}
	e.CorrelationID = req.CorrelationID
	e.ReplyTo = req.SenderID
	e.Sign(key)
	return e, nil
}
