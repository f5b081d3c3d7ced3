package blockstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/choreocore/node/envelope"
)

// commit runs the §4.7 pre-write checks and, if they all pass, performs
// one atomic batch write for the completed assembly, then publishes
// BlockStored and BlockStorageConfirmation.
func (a *Assembler) commit(entry *pendingAssembly) error {
	block := entry.block

	if block.Header.Height > 0 {
		if _, err := getChecked(a.db, []byte(prefixBlock+block.Header.PrevHash)); err != nil {
			a.publishCritical(entry.blockHash, ErrParentMissing.Error())
			return fmt.Errorf("%w: %s", ErrParentMissing, block.Header.PrevHash)
		}
	}

	if a.cfg.DataDir != "" {
		free, err := freeDiskPercent(a.cfg.DataDir)
		if err == nil && free < a.cfg.MinDiskSpacePercent {
			a.publishCritical(entry.blockHash, ErrDiskSpaceLow.Error())
			return ErrDiskSpaceLow
		}
	}

	blockBytes, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("marshal block: %w", err)
	}
	if len(blockBytes) > a.cfg.MaxBlockSize {
		a.publishCritical(entry.blockHash, ErrBlockTooLarge.Error())
		return ErrBlockTooLarge
	}

	batch := a.db.NewBatch()
	batch.Set([]byte(prefixBlock+entry.blockHash), encodeRecord(blockBytes))
	batch.Set(heightKey(block.Header.Height), encodeRecord([]byte(entry.blockHash)))
	batch.Set([]byte(prefixMerkleRoot+entry.blockHash), encodeRecord([]byte(entry.merkleRoot)))
	batch.Set([]byte(prefixStateRoot+entry.blockHash), encodeRecord([]byte(entry.stateRoot)))

	txHashes := make([]string, len(block.Transactions))
	for i, tx := range block.Transactions {
		txHashes[i] = tx.Hash()
		loc, err := json.Marshal(txLocation{BlockHash: entry.blockHash, TxIndex: i})
		if err != nil {
			return fmt.Errorf("marshal tx location: %w", err)
		}
		batch.Set([]byte(prefixTxLocation+txHashes[i]), encodeRecord(loc))
	}

	totalBlocks := a.readMetaInt(keyTotalBlocks) + 1
	batch.Set([]byte(keyTotalBlocks), encodeRecord(mustMarshalInt(totalBlocks)))
	batch.Set([]byte(keyLatestHeight), encodeRecord(mustMarshalInt(block.Header.Height)))
	batch.Set([]byte(keyTip), encodeRecord([]byte(entry.blockHash)))

	if err := batch.Write(); err != nil {
		a.publishCritical(entry.blockHash, err.Error())
		return fmt.Errorf("atomic batch write: %w", err)
	}

	a.publishStored(entry.blockHash, block.Header.Height)
	a.publishConfirmation(entry.blockHash, txHashes)
	return nil
}

func mustMarshalInt(v int64) []byte {
	b, _ := json.Marshal(v)
	return b
}

func (a *Assembler) readMetaInt(key string) int64 {
	raw, err := getChecked(a.db, []byte(key))
	if err != nil {
		return 0
	}
	var v int64
	_ = json.Unmarshal(raw, &v)
	return v
}

func (a *Assembler) publishStored(blockHash string, height int64) {
	out, err := envelope.New(envelope.SenderStorage, envelope.KindBlockStored,
		BlockStoredPayload{BlockHash: blockHash, Height: height}, a.signingKey, time.Now().UnixMilli())
	if err != nil {
		return
	}
	a.b.Publish(out)
}

func (a *Assembler) publishConfirmation(blockHash string, txHashes []string) {
	out, err := envelope.New(envelope.SenderStorage, envelope.KindBlockStorageConfirmation,
		BlockStorageConfirmationPayload{BlockHash: blockHash, TxHashes: txHashes}, a.signingKey, time.Now().UnixMilli())
	if err != nil {
		return
	}
	a.b.Publish(out)
}

func (a *Assembler) publishTimeout(blockHash string, missing []string) {
	out, err := envelope.New(envelope.SenderStorage, envelope.KindAssemblyTimeout,
		AssemblyTimeoutPayload{BlockHash: blockHash, Missing: missing}, a.signingKey, time.Now().UnixMilli())
	if err != nil {
		return
	}
	a.b.Publish(out)
}

func (a *Assembler) publishBufferFull(blockHash string) {
	out, err := envelope.New(envelope.SenderStorage, envelope.KindAssemblyBufferFull,
		AssemblyBufferFullPayload{BlockHash: blockHash}, a.signingKey, time.Now().UnixMilli())
	if err != nil {
		return
	}
	a.b.Publish(out)
}

func (a *Assembler) publishCritical(blockHash, reason string) {
	out, err := envelope.New(envelope.SenderStorage, envelope.KindStorageCritical,
		StorageCriticalPayload{BlockHash: blockHash, Reason: reason}, a.signingKey, time.Now().UnixMilli())
	if err != nil {
		return
	}
	a.b.Publish(out)
}
