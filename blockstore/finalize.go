package blockstore

import (
	"encoding/json"
	"log"
	"time"

	"github.com/choreocore/node/chain"
	"github.com/choreocore/node/envelope"
)

func (a *Assembler) handleMarkFinalized(env *envelope.Envelope) {
	if !a.authorize(env) {
		return
	}
	var req MarkFinalizedRequestPayload
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		log.Printf("[blockstore] malformed MarkFinalizedRequest: %v", err)
		return
	}

	raw, err := getChecked(a.db, []byte(prefixBlock+req.BlockHash))
	if err != nil {
		log.Printf("[blockstore] MarkFinalized for unstored block %s", req.BlockHash)
		return
	}
	var block chain.Block
	if err := json.Unmarshal(raw, &block); err != nil {
		log.Printf("[blockstore] corrupt stored block %s: %v", req.BlockHash, err)
		return
	}

	if block.Header.Height <= a.finalizedHeight {
		log.Printf("[blockstore] reject non-monotonic MarkFinalized for height %d (finalized=%d)",
			block.Header.Height, a.finalizedHeight)
		return
	}

	a.finalizedHeight = block.Header.Height
	heightBytes, _ := json.Marshal(a.finalizedHeight)
	if err := a.db.Set([]byte(keyFinalized), encodeRecord(heightBytes)); err != nil {
		log.Printf("[blockstore] persist finalized height: %v", err)
		return
	}

	out, err := envelope.New(envelope.SenderStorage, envelope.KindBlockFinalized,
		BlockFinalizedPayload{BlockHash: req.BlockHash, Height: block.Header.Height},
		a.signingKey, time.Now().UnixMilli())
	if err != nil {
		return
	}
	a.b.Publish(out)
}
