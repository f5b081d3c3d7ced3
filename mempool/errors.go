package mempool

import "errors"

// ErrDuplicateTx is returned when a transaction hash is already in the
// pool, in either Pending or PendingInclusion.
var ErrDuplicateTx = errors.New("mempool: duplicate transaction")

// ErrBelowMinGasPrice is returned when a tx's gas price is below the
// configured floor.
var ErrBelowMinGasPrice = errors.New("mempool: gas price below minimum")

// ErrAccountQueueFull is returned when an account already has
// max_per_account entries pending.
var ErrAccountQueueFull = errors.New("mempool: per-account queue full")

// ErrPoolFull is returned when the pool is at capacity and the new
// transaction does not qualify for strict-priority eviction.
var ErrPoolFull = errors.New("mempool: pool full")

// ErrSizeExceeded is returned when a transaction exceeds the per-tx
// size cap.
var ErrSizeExceeded = errors.New("mempool: transaction exceeds size cap")

// ErrRBFBumpTooSmall is returned when a replacement transaction's gas
// price does not clear rbf_min_bump_percent over the entry it targets.
var ErrRBFBumpTooSmall = errors.New("mempool: replacement fee bump too small")

// ErrNotReplaceable is returned when RBF targets an entry already in
// PendingInclusion.
var ErrNotReplaceable = errors.New("mempool: entry is pending inclusion, not replaceable")
