package blockstore

import (
	"encoding/json"
	"fmt"

	"github.com/choreocore/node/chain"
	"github.com/choreocore/node/storage"
)

// SeedGenesisBlock writes block #0 directly, bypassing the normal
// BlockValidated-driven assembly pipeline: there is no merkle root or
// state root from upstream subsystems to wait on, since genesis has no
// predecessor to diff against. It is a bootstrap step the composition
// root runs once, before any engine starts its Run loop.
func SeedGenesisBlock(db storage.DB, block *chain.Block, merkleRoot, stateRoot string) error {
	if existing, err := getChecked(db, []byte(prefixBlock+block.Hash)); err == nil && existing != nil {
		return nil
	}

	blockBytes, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("marshal genesis block: %w", err)
	}

	batch := db.NewBatch()
	batch.Set([]byte(prefixBlock+block.Hash), encodeRecord(blockBytes))
	batch.Set(heightKey(block.Header.Height), encodeRecord([]byte(block.Hash)))
	batch.Set([]byte(prefixMerkleRoot+block.Hash), encodeRecord([]byte(merkleRoot)))
	batch.Set([]byte(prefixStateRoot+block.Hash), encodeRecord([]byte(stateRoot)))
	batch.Set([]byte(keyTotalBlocks), encodeRecord(mustMarshalInt(1)))
	batch.Set([]byte(keyLatestHeight), encodeRecord(mustMarshalInt(0)))
	batch.Set([]byte(keyTip), encodeRecord([]byte(block.Hash)))
	batch.Set([]byte(keyFinalized), encodeRecord(mustMarshalInt(0)))
	return batch.Write()
}
