package consensus

import (
	"testing"

	"github.com/choreocore/node/chain"
	"github.com/choreocore/node/crypto"
	"github.com/choreocore/node/sigverify"
	"github.com/stretchr/testify/require"
)

type testValidator struct {
	id        string
	ed25519   crypto.PrivateKey
	blsPriv   *sigverify.BLSPrivateKey
	blsPub    *sigverify.BLSPublicKey
	stake     uint64
}

func buildValidatorSet(t *testing.T, n int) ([]testValidator, *chain.ValidatorSet) {
	t.Helper()
	var tvs []testValidator
	var chainValidators []chain.Validator
	for i := 0; i < n; i++ {
		priv, pub, err := crypto.GenerateKeyPair()
		require.NoError(t, err)
		blsPriv, blsPub, err := sigverify.GenerateBLSKeyPair()
		require.NoError(t, err)
		tv := testValidator{id: pub.Hex(), ed25519: priv, blsPriv: blsPriv, blsPub: blsPub, stake: 10}
		tvs = append(tvs, tv)
		chainValidators = append(chainValidators, chain.Validator{ID: tv.id, Stake: tv.stake, BLSPubKey: blsPub.Bytes()})
	}
	return tvs, chain.NewValidatorSet(1, chainValidators)
}

func attestAll(t *testing.T, tvs []testValidator, blockHash string) []sigverify.Attestation {
	t.Helper()
	var atts []sigverify.Attestation
	for _, tv := range tvs {
		sig := tv.blsPriv.Sign(sigverify.DomainAttestation, []byte(blockHash))
		atts = append(atts, sigverify.Attestation{ValidatorID: tv.id, BlockHash: blockHash, Signature: sig.Bytes()})
	}
	return atts
}

func proposeBlock(t *testing.T, tvs []testValidator, vs *chain.ValidatorSet, height int64, prevHash string) (*chain.Block, testValidator) {
	t.Helper()
	idx := int(height % int64(len(tvs)))
	proposer := tvs[idx]
	block := chain.NewBlock(height, prevHash, proposer.id, nil)
	block.Sign(proposer.ed25519)
	return block, proposer
}

func TestValidateBlockAcceptsWellFormedBlock(t *testing.T) {
	tvs, vs := buildValidatorSet(t, 3)
	block, _ := proposeBlock(t, tvs, vs, 1, "genesis")
	atts := attestAll(t, tvs, block.Hash)

	v := NewValidator(StakeWeightedQuorum{}, 100)
	err := v.ValidateBlock(block, Tip{IsGenesis: true}, vs, atts)
	require.NoError(t, err)
}

func TestValidateBlockRejectsWrongProposer(t *testing.T) {
	tvs, vs := buildValidatorSet(t, 3)
	// Height 1 expects validator index 1, sign with validator 0 instead.
	block := chain.NewBlock(1, "genesis", tvs[0].id, nil)
	block.Sign(tvs[0].ed25519)
	atts := attestAll(t, tvs, block.Hash)

	v := NewValidator(StakeWeightedQuorum{}, 100)
	err := v.ValidateBlock(block, Tip{IsGenesis: true}, vs, atts)
	require.Error(t, err)
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	require.Equal(t, StageProposer, rej.Stage)
}

func TestValidateBlockRejectsInsufficientQuorum(t *testing.T) {
	tvs, vs := buildValidatorSet(t, 3)
	block, _ := proposeBlock(t, tvs, vs, 1, "genesis")
	// Only one of three validators attests: 10/30 stake, short of the 20 quorum.
	atts := attestAll(t, tvs[:1], block.Hash)

	v := NewValidator(StakeWeightedQuorum{}, 100)
	err := v.ValidateBlock(block, Tip{IsGenesis: true}, vs, atts)
	require.Error(t, err)
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	require.Equal(t, StageQuorum, rej.Stage)
}

func TestValidateBlockRejectsForgedAttestation(t *testing.T) {
	tvs, vs := buildValidatorSet(t, 3)
	block, _ := proposeBlock(t, tvs, vs, 1, "genesis")

	// An attacker signs with a key that is not in the validator set.
	forgedPriv, _, err := sigverify.GenerateBLSKeyPair()
	require.NoError(t, err)
	forgedSig := forgedPriv.Sign(sigverify.DomainAttestation, []byte(block.Hash))

	atts := []sigverify.Attestation{
		{ValidatorID: tvs[0].id, BlockHash: block.Hash, Signature: forgedSig.Bytes()},
	}

	v := NewValidator(StakeWeightedQuorum{}, 100)
	err = v.ValidateBlock(block, Tip{IsGenesis: true}, vs, atts)
	require.Error(t, err)
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	require.Equal(t, StageQuorum, rej.Stage, "forged signature must not count toward quorum")
}

func TestValidateBlockRejectsDuplicateSubmission(t *testing.T) {
	tvs, vs := buildValidatorSet(t, 3)
	block, _ := proposeBlock(t, tvs, vs, 1, "genesis")
	atts := attestAll(t, tvs, block.Hash)

	v := NewValidator(StakeWeightedQuorum{}, 100)
	require.NoError(t, v.ValidateBlock(block, Tip{IsGenesis: true}, vs, atts))

	err := v.ValidateBlock(block, Tip{IsGenesis: true}, vs, atts)
	require.Error(t, err)
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	require.Equal(t, StageDuplication, rej.Stage)
}

func TestValidateBlockRejectsBrokenChainLinkage(t *testing.T) {
	tvs, vs := buildValidatorSet(t, 3)
	block, _ := proposeBlock(t, tvs, vs, 2, "not-the-real-tip")
	atts := attestAll(t, tvs, block.Hash)

	v := NewValidator(StakeWeightedQuorum{}, 100)
	err := v.ValidateBlock(block, Tip{Hash: "actual-tip", Height: 1, Timestamp: 0}, vs, atts)
	require.Error(t, err)
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	require.Equal(t, StageStructure, rej.Stage)
}

func TestPBFTCountQuorumIgnoresStake(t *testing.T) {
	tvs, vs := buildValidatorSet(t, 3)
	block, _ := proposeBlock(t, tvs, vs, 1, "genesis")
	atts := attestAll(t, tvs[:2], block.Hash) // 2 of 3 validators, equal stake anyway

	v := NewValidator(PBFTCountQuorum{}, 100)
	require.NoError(t, v.ValidateBlock(block, Tip{IsGenesis: true}, vs, atts))
}
