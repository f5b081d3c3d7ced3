package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/choreocore/node/chain"
)

const prefixAccount = "acct:"

type stateSnapshot struct {
	dirty   map[string][]byte
	deleted map[string]bool
}

// StateDB holds the committed account ledger on top of a DB, with an
// in-memory write buffer, snapshot/rollback, and deterministic
// iteration for stateroot.Compute. It is the Store the state-root
// computer reads through.
type StateDB struct {
	db        DB
	dirty     map[string][]byte
	deleted   map[string]bool
	snapshots []stateSnapshot
}

// NewStateDB creates a StateDB backed by db.
func NewStateDB(db DB) *StateDB {
	return &StateDB{
		db:      db,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

func (s *StateDB) get(key string) ([]byte, error) {
	if s.deleted[key] {
		return nil, ErrNotFound
	}
	if v, ok := s.dirty[key]; ok {
		return v, nil
	}
	return s.db.Get([]byte(key))
}

func (s *StateDB) set(key string, val []byte) {
	delete(s.deleted, key)
	s.dirty[key] = val
}

// GetAccount returns the account at address, or a zero-value account if
// it has never been set.
func (s *StateDB) GetAccount(address string) (chain.Account, error) {
	data, err := s.get(prefixAccount + address)
	if errors.Is(err, ErrNotFound) {
		return chain.Account{Address: address}, nil
	}
	if err != nil {
		return chain.Account{}, err
	}
	var acc chain.Account
	if err := json.Unmarshal(data, &acc); err != nil {
		return chain.Account{}, err
	}
	return acc, nil
}

// SetAccount writes acc into the write buffer.
func (s *StateDB) SetAccount(acc chain.Account) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return err
	}
	s.set(prefixAccount+acc.Address, data)
	return nil
}

// Iterate satisfies stateroot.Store: it walks every committed account
// (DB plus the in-memory write buffer, less anything deleted), handing
// each to fn. Order is unspecified — stateroot.Compute sorts.
func (s *StateDB) Iterate(fn func(addr string, acc chain.Account)) {
	merged := make(map[string][]byte)

	it := s.db.NewIterator([]byte(prefixAccount))
	for it.Next() {
		k := string(it.Key())
		v := make([]byte, len(it.Value()))
		copy(v, it.Value())
		merged[k] = v
	}
	it.Release()

	for k, v := range s.dirty {
		merged[k] = v
	}
	for k := range s.deleted {
		delete(merged, k)
	}

	for k, v := range merged {
		var acc chain.Account
		if err := json.Unmarshal(v, &acc); err != nil {
			continue
		}
		fn(k[len(prefixAccount):], acc)
	}
}

// Snapshot saves the current write buffer and returns a snapshot ID.
func (s *StateDB) Snapshot() int {
	snap := stateSnapshot{
		dirty:   make(map[string][]byte, len(s.dirty)),
		deleted: make(map[string]bool, len(s.deleted)),
	}
	for k, v := range s.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		snap.dirty[k] = cp
	}
	for k, v := range s.deleted {
		snap.deleted[k] = v
	}
	s.snapshots = append(s.snapshots, snap)
	return len(s.snapshots) - 1
}

// RevertToSnapshot restores the write buffer to a previously saved
// snapshot. The snapshot maps are deep-copied so subsequent writes
// cannot corrupt them.
func (s *StateDB) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	snap := s.snapshots[id]

	dirty := make(map[string][]byte, len(snap.dirty))
	for k, v := range snap.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		dirty[k] = cp
	}
	deleted := make(map[string]bool, len(snap.deleted))
	for k, v := range snap.deleted {
		deleted[k] = v
	}

	s.dirty = dirty
	s.deleted = deleted
	s.snapshots = s.snapshots[:id]
	return nil
}

// Commit atomically flushes the write buffer via a WriteBatch and
// clears it.
func (s *StateDB) Commit() error {
	batch := s.db.NewBatch()
	for k, v := range s.dirty {
		batch.Set([]byte(k), v)
	}
	for k := range s.deleted {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.snapshots = nil
	return nil
}
