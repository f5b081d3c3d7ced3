package blockstore

import "errors"

// ErrParentMissing is returned when a block at height > 0 has no stored
// parent yet.
var ErrParentMissing = errors.New("blockstore: parent block not stored")

// ErrDiskSpaceLow is returned when free disk space is below
// min_disk_space_percent.
var ErrDiskSpaceLow = errors.New("blockstore: free disk space below minimum")

// ErrBlockTooLarge is returned when a block's encoded size exceeds
// max_block_size.
var ErrBlockTooLarge = errors.New("blockstore: block exceeds max_block_size")

// ErrChecksumMismatch is returned when a stored record's CRC32C does not
// match its recomputed value on read.
var ErrChecksumMismatch = errors.New("blockstore: checksum mismatch")

// ErrNotFound is returned when a requested block, height, or tx location
// does not exist.
var ErrNotFound = errors.New("blockstore: not found")

// ErrBatchTooLarge is returned when a range read request exceeds
// max_batch_size.
var ErrBatchTooLarge = errors.New("blockstore: range exceeds max_batch_size")

// ErrNotMonotonic is returned when a MarkFinalized request names a
// height at or below the current finalized height.
var ErrNotMonotonic = errors.New("blockstore: finalized height is not monotonic")
