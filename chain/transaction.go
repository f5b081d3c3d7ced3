package chain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/choreocore/node/crypto"
)

// Transaction is the atomic unit of work on the chain. From holds the
// sender's full hex-encoded ed25519 public key. Signature covers every
// field except Signature itself.
type Transaction struct {
	ID        string          `json:"id"`
	From      string          `json:"from"`
	To        string          `json:"to,omitempty"`
	Amount    uint64          `json:"amount,omitempty"`
	Nonce     uint64          `json:"nonce"`
	GasPrice  uint64          `json:"gas_price"`
	GasLimit  uint64          `json:"gas_limit"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Signature string          `json:"signature"`
}

// signingBody holds the fields covered by the signature.
type signingBody struct {
	From      string          `json:"from"`
	To        string          `json:"to,omitempty"`
	Amount    uint64          `json:"amount,omitempty"`
	Nonce     uint64          `json:"nonce"`
	GasPrice  uint64          `json:"gas_price"`
	GasLimit  uint64          `json:"gas_limit"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Hash returns a deterministic hash of the transaction (sans Signature).
func (tx *Transaction) Hash() string {
	body := signingBody{
		From:      tx.From,
		To:        tx.To,
		Amount:    tx.Amount,
		Nonce:     tx.Nonce,
		GasPrice:  tx.GasPrice,
		GasLimit:  tx.GasLimit,
		Timestamp: tx.Timestamp,
		Payload:   tx.Payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign computes the signature and sets ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	hash := tx.Hash()
	tx.Signature = crypto.Sign(priv, []byte(hash))
	tx.ID = hash
}

// Verify checks the signature and that From is a valid public key.
func (tx *Transaction) Verify() error {
	if tx.From == "" {
		return errors.New("missing from field")
	}
	pub, err := crypto.PubKeyFromHex(tx.From)
	if err != nil {
		return fmt.Errorf("invalid from (must be ed25519 pubkey hex): %w", err)
	}
	return crypto.Verify(pub, []byte(tx.Hash()), tx.Signature)
}

// NewTransaction creates an unsigned transaction stamped with the current
// wall-clock time.
func NewTransaction(from, to string, amount, nonce, gasPrice, gasLimit uint64, payload json.RawMessage) *Transaction {
	return &Transaction{
		From:      from,
		To:        to,
		Amount:    amount,
		Nonce:     nonce,
		GasPrice:  gasPrice,
		GasLimit:  gasLimit,
		Timestamp: time.Now().UnixNano(),
		Payload:   payload,
	}
}
