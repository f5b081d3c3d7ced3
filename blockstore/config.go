package blockstore

import "time"

// Config holds the tunables spec §4.7 names explicitly.
type Config struct {
	MaxPendingAssemblies int
	AssemblyTimeout      time.Duration
	MinDiskSpacePercent  float64
	MaxBlockSize         int
	MaxBatchSize         int
	DataDir              string
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig(dataDir string) Config {
	return Config{
		MaxPendingAssemblies: 1000,
		AssemblyTimeout:      30 * time.Second,
		MinDiskSpacePercent:  5.0,
		MaxBlockSize:         4 << 20, // 4 MiB
		MaxBatchSize:         100,
		DataDir:              dataDir,
	}
}
