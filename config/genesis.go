package config

import (
	"strings"

	"github.com/choreocore/node/blockstore"
	"github.com/choreocore/node/chain"
	"github.com/choreocore/node/crypto"
	"github.com/choreocore/node/stateroot"
	"github.com/choreocore/node/storage"
)

// GenesisHash is the canonical previous-hash for the genesis block.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000000000000000"

// IsGenesisHash reports whether h is the canonical genesis prev-hash.
func IsGenesisHash(h string) bool {
	return h == GenesisHash
}

// SeedGenesis credits every Genesis.Alloc account into state, computes
// the resulting state root, builds and signs block #0, and writes it
// straight into db. It is the only point in the system that bypasses
// the BlockValidated-driven pipeline, since genesis has no consensus
// round or predecessor to validate against.
func SeedGenesis(cfg *Config, state *storage.StateDB, db storage.DB, proposerPriv crypto.PrivateKey) (*chain.Block, error) {
	for address, balance := range cfg.Genesis.Alloc {
		if err := state.SetAccount(chain.Account{Address: address, Balance: balance, Nonce: 0}); err != nil {
			return nil, err
		}
	}
	stateRoot := stateroot.Compute(state, nil)
	if err := state.Commit(); err != nil {
		return nil, err
	}

	proposerPub := proposerPriv.Public()
	block := chain.NewBlock(0, GenesisHash, proposerPub.Hex(), nil)
	block.Header.StateRoot = stateRoot
	block.Sign(proposerPriv)

	if err := blockstore.SeedGenesisBlock(db, block, emptyMerkleRoot(), stateRoot); err != nil {
		return nil, err
	}
	return block, nil
}

func emptyMerkleRoot() string {
	return crypto.Hash([]byte(strings.Repeat("genesis", 1)))
}
