package wallet

import (
	"encoding/json"

	"github.com/choreocore/node/chain"
	"github.com/choreocore/node/crypto"
)

// Wallet holds a key pair and provides transaction-building helpers.
type Wallet struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
}

// New creates a Wallet from an existing private key.
func New(priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public()}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate() (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the hex-encoded ed25519 public key (used as "from" address).
func (w *Wallet) PubKey() string {
	return w.pub.Hex()
}

// Address returns the short human-readable address (first 20 bytes of SHA-256(pubkey)).
func (w *Wallet) Address() string {
	return w.pub.Address()
}

// NewTx builds and signs a transaction carrying an arbitrary payload.
// nonce should match the account's current nonce.
func (w *Wallet) NewTx(to string, amount, nonce, gasPrice, gasLimit uint64, payload any) (*chain.Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	tx := chain.NewTransaction(w.pub.Hex(), to, amount, nonce, gasPrice, gasLimit, raw)
	tx.Sign(w.priv)
	return tx, nil
}

// Transfer builds and signs a plain value-transfer transaction.
func (w *Wallet) Transfer(to string, amount, nonce, gasPrice, gasLimit uint64) (*chain.Transaction, error) {
	tx := chain.NewTransaction(w.pub.Hex(), to, amount, nonce, gasPrice, gasLimit, nil)
	tx.Sign(w.priv)
	return tx, nil
}
