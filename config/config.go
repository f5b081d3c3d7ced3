// Package config loads and validates a node's on-disk configuration:
// the shared HMAC root key every subsystem derives its envelope signing
// key from, the validator roster, and each of the nine components'
// tunables.
package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/choreocore/node/chain"
)

// TLSConfig holds paths to the PEM files needed for mTLS on the
// inter-node transport. Nil or all-empty falls back to plain TCP.
type TLSConfig struct {
	CACert   string `json:"ca_cert"`
	NodeCert string `json:"node_cert"`
	NodeKey  string `json:"node_key"`
}

// SeedPeer identifies a remote node to dial on startup.
type SeedPeer struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

// ValidatorConfig is one roster entry as it appears on disk: hex-encoded
// keys, decoded into chain.Validator by Config.ValidatorSet.
type ValidatorConfig struct {
	ID        string `json:"id"`
	Stake     uint64 `json:"stake"`
	BLSPubKey string `json:"bls_pubkey"` // hex
}

// GenesisConfig describes the chain's initial account balances.
type GenesisConfig struct {
	ChainID string            `json:"chain_id"`
	Alloc   map[string]uint64 `json:"alloc"` // address hex -> initial balance
}

// MempoolConfig mirrors mempool.Config in on-disk, JSON-friendly form.
type MempoolConfig struct {
	MaxPoolSize          int     `json:"max_pool_size"`
	MaxPerAccount         int     `json:"max_per_account"`
	MinGasPrice           uint64  `json:"min_gas_price"`
	RBFMinBumpPercent     uint64  `json:"rbf_min_bump_percent"`
	MaxTxSizeBytes        int     `json:"max_tx_size_bytes"`
	PendingTimeoutSeconds float64 `json:"pending_timeout_seconds"`
}

// BlockstoreConfig mirrors blockstore.Config.
type BlockstoreConfig struct {
	MaxPendingAssemblies   int     `json:"max_pending_assemblies"`
	AssemblyTimeoutSeconds float64 `json:"assembly_timeout_seconds"`
	MinDiskSpacePercent    float64 `json:"min_disk_space_percent"`
	MaxBlockSizeBytes      int     `json:"max_block_size_bytes"`
	MaxBatchSize           int     `json:"max_batch_size"`
}

// FinalityConfig mirrors finality.Config.
type FinalityConfig struct {
	MaxSyncAttempts            int     `json:"max_sync_attempts"`
	SyncTimeoutSeconds         float64 `json:"sync_timeout_seconds"`
	InactivityLeakEpochs       int64   `json:"inactivity_leak_epochs"`
	MaxVoteHistoryPerValidator int     `json:"max_vote_history_per_validator"`
}

// ConsensusConfig selects the quorum rule and duplicate-attestation
// cache size for C5.
type ConsensusConfig struct {
	QuorumRule       string `json:"quorum_rule"` // "stake_weighted" or "pbft_count"
	DupCacheSize     int    `json:"dup_cache_size"`
}

// IndexingConfig mirrors merkle's cache tunable.
type IndexingConfig struct {
	CacheMaxEntries int `json:"cache_max_entries"`
}

// Config holds all node configuration.
type Config struct {
	NodeID      string `json:"node_id"`
	DataDir     string `json:"data_dir"`
	RPCPort     int    `json:"rpc_port"`
	P2PPort     int    `json:"p2p_port"`

	// RootKeyHex is the shared secret every subsystem's per-sender
	// envelope signing key is derived from (crypto.DeriveSenderKey).
	// Must decode to at least 32 bytes.
	RootKeyHex string `json:"root_key_hex"`

	BusDeadLetterCap int `json:"bus_dead_letter_cap"`

	Validators []ValidatorConfig `json:"validators"`
	Genesis    GenesisConfig     `json:"genesis"`
	SeedPeers  []SeedPeer        `json:"seed_peers,omitempty"`
	TLS        *TLSConfig        `json:"tls,omitempty"`

	Mempool    MempoolConfig    `json:"mempool"`
	Blockstore BlockstoreConfig `json:"blockstore"`
	Finality   FinalityConfig   `json:"finality"`
	Consensus  ConsensusConfig  `json:"consensus"`
	Indexing   IndexingConfig   `json:"indexing"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:           "node0",
		DataDir:          "./data",
		RPCPort:          8545,
		P2PPort:          30303,
		BusDeadLetterCap: 256,
		Genesis: GenesisConfig{
			ChainID: "choreocore-dev",
			Alloc:   map[string]uint64{},
		},
		Mempool: MempoolConfig{
			MaxPoolSize:           10_000,
			MaxPerAccount:         64,
			MinGasPrice:           1,
			RBFMinBumpPercent:     10,
			MaxTxSizeBytes:        32 * 1024,
			PendingTimeoutSeconds: 30,
		},
		Blockstore: BlockstoreConfig{
			MaxPendingAssemblies:   1000,
			AssemblyTimeoutSeconds: 30,
			MinDiskSpacePercent:    5.0,
			MaxBlockSizeBytes:      4 << 20,
			MaxBatchSize:           100,
		},
		Finality: FinalityConfig{
			MaxSyncAttempts:            3,
			SyncTimeoutSeconds:         30,
			InactivityLeakEpochs:       4,
			MaxVoteHistoryPerValidator: 128,
		},
		Consensus: ConsensusConfig{
			QuorumRule:   "stake_weighted",
			DupCacheSize: 4096,
		},
		Indexing: IndexingConfig{
			CacheMaxEntries: 4096,
		},
	}
}

// Load reads a JSON config file from path and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required fields are present and well-formed.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Genesis.ChainID == "" {
		return fmt.Errorf("genesis.chain_id must not be empty")
	}
	rootKey, err := hex.DecodeString(c.RootKeyHex)
	if err != nil || len(rootKey) < 32 {
		return fmt.Errorf("root_key_hex must be hex-encoded and at least 32 bytes")
	}
	if c.RPCPort <= 0 || c.RPCPort > 65535 {
		return fmt.Errorf("rpc_port must be 1-65535, got %d", c.RPCPort)
	}
	if c.P2PPort <= 0 || c.P2PPort > 65535 {
		return fmt.Errorf("p2p_port must be 1-65535, got %d", c.P2PPort)
	}
	if c.RPCPort == c.P2PPort {
		return fmt.Errorf("rpc_port and p2p_port must not be the same (%d)", c.RPCPort)
	}
	if len(c.Validators) == 0 {
		return fmt.Errorf("validators list must not be empty")
	}
	for i, v := range c.Validators {
		if v.ID == "" {
			return fmt.Errorf("validators[%d]: id must not be empty", i)
		}
		if _, err := hex.DecodeString(v.BLSPubKey); err != nil {
			return fmt.Errorf("validators[%d]: bls_pubkey must be hex, got %q", i, v.BLSPubKey)
		}
	}
	switch c.Consensus.QuorumRule {
	case "stake_weighted", "pbft_count":
	default:
		return fmt.Errorf("consensus.quorum_rule must be stake_weighted or pbft_count, got %q", c.Consensus.QuorumRule)
	}
	if c.TLS != nil {
		t := c.TLS
		allSet := t.CACert != "" && t.NodeCert != "" && t.NodeKey != ""
		allEmpty := t.CACert == "" && t.NodeCert == "" && t.NodeKey == ""
		if !allSet && !allEmpty {
			return fmt.Errorf("tls: all three paths (ca_cert, node_cert, node_key) must be set or all empty")
		}
	}
	return nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// RootKey decodes RootKeyHex. Callers must call Validate first.
func (c *Config) RootKey() []byte {
	key, _ := hex.DecodeString(c.RootKeyHex)
	return key
}

// ValidatorSet decodes the on-disk validator roster into chain form, at
// epoch 1 (the genesis epoch; a production deployment would rotate this
// via whatever epoch-transition mechanism sits above these nine
// components, outside this repo's scope).
func (c *Config) ValidatorSet() (*chain.ValidatorSet, error) {
	validators := make([]chain.Validator, 0, len(c.Validators))
	for _, v := range c.Validators {
		pub, err := hex.DecodeString(v.BLSPubKey)
		if err != nil {
			return nil, fmt.Errorf("validator %s: %w", v.ID, err)
		}
		validators = append(validators, chain.Validator{ID: v.ID, Stake: v.Stake, BLSPubKey: pub})
	}
	return chain.NewValidatorSet(1, validators), nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
