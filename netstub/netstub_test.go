package netstub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/choreocore/node/blockstore"
	"github.com/choreocore/node/bus"
	"github.com/choreocore/node/chain"
	"github.com/choreocore/node/consensus"
	"github.com/choreocore/node/crypto"
	"github.com/choreocore/node/envelope"
	"github.com/choreocore/node/internal/testutil"
	"github.com/choreocore/node/mempool"
	"github.com/choreocore/node/merkle"
	"github.com/choreocore/node/sigverify"
	"github.com/choreocore/node/stateroot"
	"github.com/choreocore/node/storage"
	"github.com/stretchr/testify/require"
)

var testRootKey = []byte("netstub-suite-root-key-32bytes!!")

// TestEndToEndBlockFlowsThroughConsensusIndexingAndStorage exercises the
// full choreography from a single external ValidateBlockRequest: a
// candidate block built from mempool transactions, attested by a
// validator set, crosses consensus, and lands in storage, indexing, and
// state-root computation without any of those three ever talking to
// each other directly — each engine runs its own Run loop, and the only
// thing this test wires by hand is the bus they all share.
func TestEndToEndBlockFlowsThroughConsensusIndexingAndStorage(t *testing.T) {
	b := bus.New(64)

	pool := mempool.NewPool(mempool.DefaultConfig())
	fromPriv, fromPub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	tx := chain.NewTransaction(fromPub.Hex(), "recipient", 10, 0, 5, 21000, nil)
	tx.Sign(fromPriv)
	require.NoError(t, pool.Add(tx))

	var validatorIDs []string
	var validatorKeys []*sigverify.BLSPrivateKey
	var validatorEdPrivs []crypto.PrivateKey
	var chainValidators []chain.Validator
	for i := 0; i < 3; i++ {
		blsPriv, blsPub, err := sigverify.GenerateBLSKeyPair()
		require.NoError(t, err)
		edPriv, edPub, err := crypto.GenerateKeyPair()
		require.NoError(t, err)
		id := edPub.Hex()
		validatorIDs = append(validatorIDs, id)
		validatorKeys = append(validatorKeys, blsPriv)
		validatorEdPrivs = append(validatorEdPrivs, edPriv)
		chainValidators = append(chainValidators, chain.Validator{ID: id, Stake: 10, BLSPubKey: blsPub.Bytes()})
	}
	validators := chain.NewValidatorSet(1, chainValidators)

	consensusEngine, err := consensus.NewEngine(b, testRootKey, consensus.StakeWeightedQuorum{}, 1024)
	require.NoError(t, err)
	merkleEngine, err := merkle.NewEngine(b, testRootKey, 1024)
	require.NoError(t, err)
	stateDB := storage.NewStateDB(testutil.NewMemDB())
	stateRootEngine, err := stateroot.NewEngine(b, testRootKey, stateDB)
	require.NoError(t, err)
	// The assembler only commits a block whose parent it already stores,
	// so the chain starts from a seeded genesis block.
	blockDB := testutil.NewMemDB()
	genesis := chain.NewBlock(0, "", "", nil)
	genesis.Hash = genesis.ComputeHash()
	require.NoError(t, blockstore.SeedGenesisBlock(blockDB, genesis, "", ""))
	assembler, err := blockstore.NewAssembler(b, testRootKey, blockDB, blockstore.DefaultConfig(""))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, e := range []interface{ Run(context.Context) }{consensusEngine, merkleEngine, stateRootEngine, assembler} {
		go e.Run(ctx)
	}

	stored := b.Subscribe(bus.Filter{Kind: envelope.KindBlockStored})

	tip := consensus.Tip{Hash: genesis.Hash, Height: 0, IsGenesis: true}
	proposerIndex := int(tip.Height+1) % len(chainValidators)
	proposerPriv := validatorEdPrivs[proposerIndex]
	block := BuildCandidateBlock(pool, tip, proposerPriv, 1_000_000)
	atts, err := Attest(block, validatorIDs, validatorKeys)
	require.NoError(t, err)

	proposer, err := New(b, testRootKey)
	require.NoError(t, err)
	require.NoError(t, proposer.Submit(block, tip, validators, atts))

	select {
	case env := <-stored.C():
		var payload blockstore.BlockStoredPayload
		require.NoError(t, json.Unmarshal(env.Payload, &payload))
		require.Equal(t, block.Hash, payload.BlockHash)
	case <-time.After(2 * time.Second):
		t.Fatal("expected BlockStored after full choreography")
	}
}
