package blockstore

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/choreocore/node/storage"
)

// castagnoli is the CRC32C polynomial table, matching the checksum
// scheme most production block stores use (it is what LevelDB's own
// internal block cache uses) — spec §4.7 requires a CRC32C per record,
// verified on every read.
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// encodeRecord prefixes payload with its CRC32C checksum.
func encodeRecord(payload []byte) []byte {
	sum := crc32.Checksum(payload, castagnoli)
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out[:4], sum)
	copy(out[4:], payload)
	return out
}

// decodeRecord verifies the CRC32C prefix and returns the payload.
func decodeRecord(raw []byte) ([]byte, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("%w: record too short", ErrChecksumMismatch)
	}
	want := binary.BigEndian.Uint32(raw[:4])
	payload := raw[4:]
	got := crc32.Checksum(payload, castagnoli)
	if got != want {
		return nil, fmt.Errorf("%w: want %08x got %08x", ErrChecksumMismatch, want, got)
	}
	return payload, nil
}

// Key prefixes for the blockstore's corner of the key-value namespace.
// Each subsystem that shares a DB (storage.StateDB uses "acct:") owns a
// disjoint prefix so a single LevelDB instance can back every package.
const (
	prefixBlock      = "bs:block:"     // hash -> block record
	prefixHeight     = "bs:height:"    // big-endian height -> hash
	prefixMerkleRoot = "bs:merkle:"    // hash -> merkle root string
	prefixStateRoot  = "bs:stateroot:" // hash -> state root string
	prefixTxLocation = "bs:txloc:"     // tx hash -> location record
	keyLatestHeight  = "bs:meta:latest_height"
	keyTotalBlocks   = "bs:meta:total_blocks"
	keyFinalized     = "bs:meta:finalized_height"
	keyTip           = "bs:meta:tip"
)

func heightKey(height int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(height))
	return append([]byte(prefixHeight), buf[:]...)
}

// getChecked reads key from db and verifies its checksum.
func getChecked(db storage.DB, key []byte) ([]byte, error) {
	raw, err := db.Get(key)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeRecord(raw)
}

// txLocation is the per-transaction index record: which block a tx
// landed in, and at what position, for Merkle proof regeneration on a
// C6 cache miss.
type txLocation struct {
	BlockHash string `json:"block_hash"`
	TxIndex   int    `json:"tx_index"`
}
