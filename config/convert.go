package config

import (
	"github.com/choreocore/node/blockstore"
	"github.com/choreocore/node/consensus"
	"github.com/choreocore/node/finality"
	"github.com/choreocore/node/mempool"
)

// ToMempoolConfig converts the on-disk tunables into mempool.Config.
func (c *MempoolConfig) ToMempoolConfig() mempool.Config {
	return mempool.Config{
		MaxPoolSize:       c.MaxPoolSize,
		MaxPerAccount:     c.MaxPerAccount,
		MinGasPrice:       c.MinGasPrice,
		RBFMinBumpPercent: c.RBFMinBumpPercent,
		MaxTxSize:         c.MaxTxSizeBytes,
		PendingTimeout:    seconds(c.PendingTimeoutSeconds),
	}
}

// ToBlockstoreConfig converts the on-disk tunables into blockstore.Config.
func (c *BlockstoreConfig) ToBlockstoreConfig(dataDir string) blockstore.Config {
	return blockstore.Config{
		MaxPendingAssemblies: c.MaxPendingAssemblies,
		AssemblyTimeout:      seconds(c.AssemblyTimeoutSeconds),
		MinDiskSpacePercent:  c.MinDiskSpacePercent,
		MaxBlockSize:         c.MaxBlockSizeBytes,
		MaxBatchSize:         c.MaxBatchSize,
		DataDir:              dataDir,
	}
}

// ToFinalityConfig converts the on-disk tunables into finality.Config.
func (c *FinalityConfig) ToFinalityConfig() finality.Config {
	return finality.Config{
		MaxSyncAttempts:            c.MaxSyncAttempts,
		SyncTimeout:                seconds(c.SyncTimeoutSeconds),
		InactivityLeakEpochs:       c.InactivityLeakEpochs,
		MaxVoteHistoryPerValidator: c.MaxVoteHistoryPerValidator,
	}
}

// Rule resolves the configured quorum string into a
// consensus.QuorumRule implementation.
func (c *ConsensusConfig) Rule() consensus.QuorumRule {
	if c.QuorumRule == "pbft_count" {
		return consensus.PBFTCountQuorum{}
	}
	return consensus.StakeWeightedQuorum{}
}
