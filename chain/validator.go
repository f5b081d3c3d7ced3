package chain

// Validator describes one epoch participant: its identity, its stake
// weight (PoS path) or just its presence (PBFT path), and its BLS public
// key used for attestation aggregation.
type Validator struct {
	ID        string `json:"id"`         // ed25519 pubkey hex, also the proposer identity
	Stake     uint64 `json:"stake"`      // PoS voting weight
	BLSPubKey []byte `json:"bls_pubkey"` // BLS12-381 G2 point, used by sigverify
}

// ValidatorSet is the fixed validator roster for one epoch, fetched through
// the bus rather than owned by any single subsystem.
type ValidatorSet struct {
	Epoch      int64                `json:"epoch"`
	Validators []Validator          `json:"validators"`
	byID       map[string]Validator `json:"-"`
}

// NewValidatorSet builds a ValidatorSet and its lookup index.
func NewValidatorSet(epoch int64, validators []Validator) *ValidatorSet {
	vs := &ValidatorSet{Epoch: epoch, Validators: validators, byID: make(map[string]Validator, len(validators))}
	for _, v := range validators {
		vs.byID[v.ID] = v
	}
	return vs
}

// Get returns the validator with the given ID, if present.
func (vs *ValidatorSet) Get(id string) (Validator, bool) {
	v, ok := vs.byID[id]
	return v, ok
}

// TotalStake sums the stake of every validator in the set.
func (vs *ValidatorSet) TotalStake() uint64 {
	var total uint64
	for _, v := range vs.Validators {
		total += v.Stake
	}
	return total
}

// QuorumStake returns the minimum aggregated stake (>= 2/3) needed for a
// supermajority over this set, per §4.5 / §4.8.
func (vs *ValidatorSet) QuorumStake() uint64 {
	total := vs.TotalStake()
	// ceil(2*total/3) without floating point.
	return (2*total + 2) / 3
}

// Account holds a participant's token balance and replay-protection nonce.
type Account struct {
	Address string `json:"address"` // pubkey hex
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}
