package mempool

import "time"

// Config holds the admission and lifecycle tunables spec §4.4 names.
type Config struct {
	MaxPoolSize       int
	MaxPerAccount     int
	MinGasPrice       uint64
	RBFMinBumpPercent uint64
	MaxTxSize         int
	PendingTimeout    time.Duration
}

// DefaultConfig returns reasonable defaults for the tunables spec.md
// leaves to the deployer.
func DefaultConfig() Config {
	return Config{
		MaxPoolSize:       10_000,
		MaxPerAccount:     64,
		MinGasPrice:       1,
		RBFMinBumpPercent: 10,
		MaxTxSize:         32 * 1024,
		PendingTimeout:    30 * time.Second,
	}
}
