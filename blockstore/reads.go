package blockstore

import (
	"encoding/json"
	"log"
	"time"

	"github.com/choreocore/node/chain"
	"github.com/choreocore/node/envelope"
)

// ReadBlockRequestPayload asks for a single block by hash.
type ReadBlockRequestPayload struct {
	BlockHash string `json:"block_hash"`
}

// ReadBlockResponsePayload answers ReadBlockRequestPayload.
type ReadBlockResponsePayload struct {
	Block *chain.Block `json:"block,omitempty"`
	Found bool         `json:"found"`
}

// ReadBlockRangeRequestPayload asks for [StartHeight, EndHeight],
// inclusive, capped at max_batch_size.
type ReadBlockRangeRequestPayload struct {
	StartHeight int64 `json:"start_height"`
	EndHeight   int64 `json:"end_height"`
}

// ReadBlockRangeResponsePayload answers ReadBlockRangeRequestPayload.
type ReadBlockRangeResponsePayload struct {
	Blocks []*chain.Block `json:"blocks"`
	Err    string         `json:"error,omitempty"`
}

// GetTransactionLocationRequestPayload asks where a tx landed.
type GetTransactionLocationRequestPayload struct {
	TxHash string `json:"tx_hash"`
}

// TransactionLocationPayload is Storage's reply.
type TransactionLocationPayload struct {
	TxHash    string `json:"tx_hash"`
	BlockHash string `json:"block_hash,omitempty"`
	TxIndex   int    `json:"tx_index"`
	Found     bool   `json:"found"`
}

// GetTxHashesForBlockRequestPayload asks for a block's ordered tx hash
// list, mirroring merkle.GetTxHashesForBlockRequestPayload's wire shape.
type GetTxHashesForBlockRequestPayload struct {
	BlockHash string `json:"block_hash"`
}

// TransactionHashesForBlockPayload is Storage's reply.
type TransactionHashesForBlockPayload struct {
	BlockHash string   `json:"block_hash"`
	TxHashes  []string `json:"tx_hashes"`
	Found     bool     `json:"found"`
}

func (a *Assembler) handleReadBlock(env *envelope.Envelope) {
	if !a.authorize(env) {
		return
	}
	var req ReadBlockRequestPayload
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		log.Printf("[blockstore] malformed ReadBlock: %v", err)
		return
	}

	resp := ReadBlockResponsePayload{}
	if raw, err := getChecked(a.db, []byte(prefixBlock+req.BlockHash)); err == nil {
		var block chain.Block
		if err := json.Unmarshal(raw, &block); err == nil {
			resp.Block = &block
			resp.Found = true
		}
	}

	out, err := envelope.Reply(env, envelope.SenderStorage, envelope.KindReadBlock, resp, a.signingKey, time.Now().UnixMilli())
	if err != nil {
		return
	}
	a.b.Publish(out)
}

func (a *Assembler) handleReadBlockRange(env *envelope.Envelope) {
	if !a.authorize(env) {
		return
	}
	var req ReadBlockRangeRequestPayload
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		log.Printf("[blockstore] malformed ReadBlockRange: %v", err)
		return
	}

	resp := ReadBlockRangeResponsePayload{}
	count := req.EndHeight - req.StartHeight + 1
	if count < 0 || count > int64(a.cfg.MaxBatchSize) {
		resp.Err = ErrBatchTooLarge.Error()
	} else {
		for h := req.StartHeight; h <= req.EndHeight; h++ {
			hashRaw, err := getChecked(a.db, heightKey(h))
			if err != nil {
				continue
			}
			blockRaw, err := getChecked(a.db, []byte(prefixBlock+string(hashRaw)))
			if err != nil {
				continue
			}
			var block chain.Block
			if err := json.Unmarshal(blockRaw, &block); err == nil {
				resp.Blocks = append(resp.Blocks, &block)
			}
		}
	}

	out, err := envelope.Reply(env, envelope.SenderStorage, envelope.KindReadBlockRange, resp, a.signingKey, time.Now().UnixMilli())
	if err != nil {
		return
	}
	a.b.Publish(out)
}

func (a *Assembler) handleGetTransactionLocation(env *envelope.Envelope) {
	if !a.authorize(env) {
		return
	}
	var req GetTransactionLocationRequestPayload
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		log.Printf("[blockstore] malformed GetTransactionLocation: %v", err)
		return
	}

	resp := TransactionLocationPayload{TxHash: req.TxHash}
	if raw, err := getChecked(a.db, []byte(prefixTxLocation+req.TxHash)); err == nil {
		var loc txLocation
		if err := json.Unmarshal(raw, &loc); err == nil {
			resp.BlockHash = loc.BlockHash
			resp.TxIndex = loc.TxIndex
			resp.Found = true
		}
	}

	out, err := envelope.Reply(env, envelope.SenderStorage, envelope.KindTransactionLocation, resp, a.signingKey, time.Now().UnixMilli())
	if err != nil {
		return
	}
	a.b.Publish(out)
}

func (a *Assembler) handleGetTxHashesForBlock(env *envelope.Envelope) {
	if !a.authorize(env) {
		return
	}
	var req GetTxHashesForBlockRequestPayload
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		log.Printf("[blockstore] malformed GetTransactionHashesForBlock: %v", err)
		return
	}

	resp := TransactionHashesForBlockPayload{BlockHash: req.BlockHash}
	if raw, err := getChecked(a.db, []byte(prefixBlock+req.BlockHash)); err == nil {
		var block chain.Block
		if err := json.Unmarshal(raw, &block); err == nil {
			resp.Found = true
			for _, tx := range block.Transactions {
				resp.TxHashes = append(resp.TxHashes, tx.Hash())
			}
		}
	}

	out, err := envelope.Reply(env, envelope.SenderStorage, envelope.KindTransactionHashesForBlock, resp, a.signingKey, time.Now().UnixMilli())
	if err != nil {
		return
	}
	a.b.Publish(out)
}
