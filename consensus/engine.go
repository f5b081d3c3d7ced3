package consensus

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/choreocore/node/bus"
	"github.com/choreocore/node/chain"
	"github.com/choreocore/node/crypto"
	"github.com/choreocore/node/envelope"
	"github.com/choreocore/node/sigverify"
)

// ValidateBlockRequestPayload is the §6.2 request Block Propagation sends
// to ask consensus to run a candidate block through the pipeline.
type ValidateBlockRequestPayload struct {
	Block        *chain.Block            `json:"block"`
	Tip          Tip                     `json:"tip"`
	Validators   *chain.ValidatorSet     `json:"validators"`
	Attestations []sigverify.Attestation `json:"attestations"`
}

// BlockValidatedPayload is published on success. It carries the full
// block, not just its hash — C6, C7, and C8 each need the transaction
// list and header to build their own piece of the assembly (merkle
// tree, state root, stored record).
type BlockValidatedPayload struct {
	Block     *chain.Block `json:"block"`
	BlockHash string       `json:"block_hash"`
	Height    int64        `json:"height"`
}

// InvalidBlockPayload is published on rejection, naming the stage that
// rejected the block so operators do not have to parse free-form text.
type InvalidBlockPayload struct {
	BlockHash string `json:"block_hash"`
	Stage     Stage  `json:"stage"`
	Reason    string `json:"reason"`
}

// Engine wires the validation pipeline to the bus: it consumes
// ValidateBlockRequest envelopes and publishes BlockValidated or
// InvalidBlock in response, generalizing the teacher's ticker-driven
// Run loop into a subscription-driven one (consensus here never
// produces blocks itself — that is Block Propagation's job upstream of
// this boundary).
type Engine struct {
	b          *bus.Bus
	verifier   *envelope.Verifier
	signingKey []byte
	validator  *Validator
}

// NewEngine creates an Engine that authenticates incoming requests with
// rootKey and validates blocks using quorum.
func NewEngine(b *bus.Bus, rootKey []byte, quorum QuorumRule, dupCacheSize int) (*Engine, error) {
	key, err := crypto.DeriveSenderKey(rootKey, string(envelope.SenderConsensus))
	if err != nil {
		return nil, err
	}
	return &Engine{
		b:          b,
		verifier:   envelope.NewVerifier(rootKey),
		signingKey: key,
		validator:  NewValidator(quorum, dupCacheSize),
	}, nil
}

// Run subscribes to ValidateBlockRequest and processes envelopes until
// ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	sub := e.b.Subscribe(bus.Filter{Kind: envelope.KindValidateBlockRequest})
	defer e.b.Unsubscribe(sub)

	gc := time.NewTicker(time.Minute)
	defer gc.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-gc.C:
			e.verifier.GC()
		case env, ok := <-sub.C():
			if !ok {
				return
			}
			e.handle(env)
		}
	}
}

func (e *Engine) handle(env *envelope.Envelope) {
	if err := e.verifier.VerifyAndAuthorize(env); err != nil {
		log.Printf("[consensus] rejected envelope from %s: %v", env.SenderID, err)
		return
	}

	var req ValidateBlockRequestPayload
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		log.Printf("[consensus] malformed ValidateBlockRequest: %v", err)
		return
	}

	err := e.validator.ValidateBlock(req.Block, req.Tip, req.Validators, req.Attestations)
	if err != nil {
		e.publishInvalid(env, req.Block.Hash, err)
		return
	}
	e.publishValidated(env, req.Block)
}

func (e *Engine) publishValidated(req *envelope.Envelope, block *chain.Block) {
	out, err := envelope.Reply(req, envelope.SenderConsensus, envelope.KindBlockValidated,
		BlockValidatedPayload{Block: block, BlockHash: block.Hash, Height: block.Header.Height},
		e.signingKey, time.Now().UnixMilli())
	if err != nil {
		log.Printf("[consensus] build BlockValidated: %v", err)
		return
	}
	e.b.Publish(out)
}

func (e *Engine) publishInvalid(req *envelope.Envelope, blockHash string, cause error) {
	stage := Stage("unknown")
	if rej, ok := cause.(*RejectionError); ok {
		stage = rej.Stage
	}
	out, err := envelope.Reply(req, envelope.SenderConsensus, envelope.KindInvalidBlock,
		InvalidBlockPayload{BlockHash: blockHash, Stage: stage, Reason: cause.Error()},
		e.signingKey, time.Now().UnixMilli())
	if err != nil {
		log.Printf("[consensus] build InvalidBlock: %v", err)
		return
	}
	e.b.Publish(out)
}
