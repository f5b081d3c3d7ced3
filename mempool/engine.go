package mempool

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/choreocore/node/bus"
	"github.com/choreocore/node/chain"
	"github.com/choreocore/node/crypto"
	"github.com/choreocore/node/envelope"
)

// AddTransactionRequestPayload carries a single transaction from
// Signature Verification.
type AddTransactionRequestPayload struct {
	Transaction *chain.Transaction `json:"transaction"`
}

// TransactionAdmissionResultPayload reports the outcome of an Add call.
type TransactionAdmissionResultPayload struct {
	TxHash string `json:"tx_hash"`
	Err    string `json:"error,omitempty"`
}

// GetTransactionsRequestPayload is Consensus's block-building request.
type GetTransactionsRequestPayload struct {
	Height   int64  `json:"height"`
	GasLimit uint64 `json:"gas_limit"`
}

// TransactionsForBlockPayload is the Mempool reply to GetTransactions.
type TransactionsForBlockPayload struct {
	Transactions []*chain.Transaction `json:"transactions"`
}

// ProposeTransactionsRequestPayload stages hashes into a candidate block.
type ProposeTransactionsRequestPayload struct {
	TxHashes    []string `json:"tx_hashes"`
	BlockHeight int64    `json:"block_height"`
}

// RollbackTransactionsRequestPayload returns hashes to Pending.
type RollbackTransactionsRequestPayload struct {
	TxHashes []string `json:"tx_hashes"`
}

// Engine is the bus-facing wrapper around Pool, implementing C4's
// choreography contract: it only reacts to the five message kinds
// spec §4.4 names, and never calls another subsystem directly.
type Engine struct {
	b          *bus.Bus
	verifier   *envelope.Verifier
	signingKey []byte
	pool       *Pool
}

// NewEngine creates an Engine with a fresh Pool backed by cfg.
func NewEngine(b *bus.Bus, rootKey []byte, cfg Config) (*Engine, error) {
	key, err := crypto.DeriveSenderKey(rootKey, string(envelope.SenderMempool))
	if err != nil {
		return nil, err
	}
	return &Engine{
		b:          b,
		verifier:   envelope.NewVerifier(rootKey),
		signingKey: key,
		pool:       NewPool(cfg),
	}, nil
}

// Pool exposes the underlying pool, for composition-root wiring that
// needs direct access (e.g. metrics scraping).
func (e *Engine) Pool() *Pool { return e.pool }

// Run drives the single-inbox subscription loop plus the
// pending_timeout GC sweep.
func (e *Engine) Run(ctx context.Context) {
	sub := e.b.Subscribe(bus.Filter{})
	defer e.b.Unsubscribe(sub)

	sweepInterval := e.pool.cfg.PendingTimeout / 2
	if sweepInterval <= 0 {
		sweepInterval = time.Second
	}
	gc := time.NewTicker(sweepInterval)
	defer gc.Stop()

	nonceGC := time.NewTicker(time.Minute)
	defer nonceGC.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-gc.C:
			e.pool.GC(time.Now())
		case <-nonceGC.C:
			e.verifier.GC()
		case env, ok := <-sub.C():
			if !ok {
				return
			}
			e.dispatch(env)
		}
	}
}

func (e *Engine) dispatch(env *envelope.Envelope) {
	switch env.Kind {
	case envelope.KindAddTransactionRequest:
		e.handleAdd(env)
	case envelope.KindGetTransactionsRequest:
		e.handleGetForBlock(env)
	case envelope.KindProposeTransactionsRequest:
		e.handlePropose(env)
	case envelope.KindRollbackTransactionsRequest:
		e.handleRollback(env)
	case envelope.KindBlockStorageConfirmation:
		e.handleConfirm(env)
	}
}

func (e *Engine) authorize(env *envelope.Envelope) bool {
	if err := e.verifier.VerifyAndAuthorize(env); err != nil {
		log.Printf("[mempool] rejected envelope %s from %s: %v", env.Kind, env.SenderID, err)
		return false
	}
	return true
}

func (e *Engine) handleAdd(env *envelope.Envelope) {
	if !e.authorize(env) {
		return
	}
	var req AddTransactionRequestPayload
	if err := json.Unmarshal(env.Payload, &req); err != nil || req.Transaction == nil {
		log.Printf("[mempool] malformed AddTransactionRequest: %v", err)
		return
	}

	result := TransactionAdmissionResultPayload{TxHash: req.Transaction.Hash()}
	if err := e.pool.Add(req.Transaction); err != nil {
		result.Err = err.Error()
	}
	e.reply(env, envelope.KindTransactionAdmissionResult, result)
}

func (e *Engine) handleGetForBlock(env *envelope.Envelope) {
	if !e.authorize(env) {
		return
	}
	var req GetTransactionsRequestPayload
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		log.Printf("[mempool] malformed GetTransactionsRequest: %v", err)
		return
	}
	txs := e.pool.GetForBlock(req.Height, req.GasLimit)
	e.reply(env, envelope.KindTransactionsForBlock, TransactionsForBlockPayload{Transactions: txs})
}

func (e *Engine) handlePropose(env *envelope.Envelope) {
	if !e.authorize(env) {
		return
	}
	var req ProposeTransactionsRequestPayload
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		log.Printf("[mempool] malformed ProposeTransactionsRequest: %v", err)
		return
	}
	e.pool.Propose(req.TxHashes, req.BlockHeight, time.Now())
}

func (e *Engine) handleRollback(env *envelope.Envelope) {
	if !e.authorize(env) {
		return
	}
	var req RollbackTransactionsRequestPayload
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		log.Printf("[mempool] malformed RollbackTransactionsRequest: %v", err)
		return
	}
	e.pool.Rollback(req.TxHashes)
}

// BlockStorageConfirmationPayload mirrors blockstore's published shape;
// mempool only reads the tx_hashes field, so it keeps its own minimal
// copy rather than importing blockstore (which itself imports merkle
// and stateroot, and must not import mempool back).
type BlockStorageConfirmationPayload struct {
	TxHashes []string `json:"tx_hashes"`
}

func (e *Engine) handleConfirm(env *envelope.Envelope) {
	if !e.authorize(env) {
		return
	}
	var payload BlockStorageConfirmationPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		log.Printf("[mempool] malformed BlockStorageConfirmation: %v", err)
		return
	}
	e.pool.Confirm(payload.TxHashes)
}

func (e *Engine) reply(req *envelope.Envelope, kind envelope.PayloadKind, payload any) {
	out, err := envelope.Reply(req, envelope.SenderMempool, kind, payload, e.signingKey, time.Now().UnixMilli())
	if err != nil {
		log.Printf("[mempool] failed to build reply %s: %v", kind, err)
		return
	}
	e.b.Publish(out)
}
