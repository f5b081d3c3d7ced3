// Package node is the composition root: it owns the single event bus
// and shared HMAC root key, constructs the six bus-facing engines over
// it (consensus, merkle, stateroot, blockstore, mempool, finality), and
// drives their Run loops until the supplied context is
// cancelled. Nothing outside this package wires two engines together
// directly — they only ever meet on the bus.
package node

import (
	"context"
	"fmt"
	"sync"

	"github.com/choreocore/node/blockstore"
	"github.com/choreocore/node/bus"
	"github.com/choreocore/node/config"
	"github.com/choreocore/node/consensus"
	"github.com/choreocore/node/finality"
	"github.com/choreocore/node/mempool"
	"github.com/choreocore/node/merkle"
	"github.com/choreocore/node/stateroot"
	"github.com/choreocore/node/storage"
	"github.com/prometheus/client_golang/prometheus"
)

// Node owns the bus, the shared state store, and every subsystem
// engine built from cfg.
type Node struct {
	cfg *config.Config
	bus *bus.Bus

	db    storage.DB
	state *storage.StateDB

	metrics *prometheus.Registry

	consensus  *consensus.Engine
	merkle     *merkle.Engine
	stateroot  *stateroot.Engine
	blockstore *blockstore.Assembler
	mempool    *mempool.Engine
	finality   *finality.Engine

	wg sync.WaitGroup
}

// New opens the node's LevelDB instance and constructs every engine.
// It does not start any Run loop; call Run for that.
func New(cfg *config.Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open data dir %s: %w", cfg.DataDir, err)
	}

	rootKey := cfg.RootKey()
	state := storage.NewStateDB(db)
	b := bus.New(cfg.BusDeadLetterCap)

	n := &Node{cfg: cfg, bus: b, db: db, state: state}

	registry := prometheus.NewRegistry()
	if err := b.Register(registry); err != nil {
		return nil, n.closeAfterFailure(fmt.Errorf("register bus metrics: %w", err))
	}
	n.metrics = registry

	n.consensus, err = consensus.NewEngine(b, rootKey, cfg.Consensus.Rule(), cfg.Consensus.DupCacheSize)
	if err != nil {
		return nil, n.closeAfterFailure(fmt.Errorf("consensus engine: %w", err))
	}
	n.merkle, err = merkle.NewEngine(b, rootKey, cfg.Indexing.CacheMaxEntries)
	if err != nil {
		return nil, n.closeAfterFailure(fmt.Errorf("merkle engine: %w", err))
	}
	n.stateroot, err = stateroot.NewEngine(b, rootKey, state)
	if err != nil {
		return nil, n.closeAfterFailure(fmt.Errorf("stateroot engine: %w", err))
	}
	n.blockstore, err = blockstore.NewAssembler(b, rootKey, db, cfg.Blockstore.ToBlockstoreConfig(cfg.DataDir))
	if err != nil {
		return nil, n.closeAfterFailure(fmt.Errorf("blockstore assembler: %w", err))
	}
	n.mempool, err = mempool.NewEngine(b, rootKey, cfg.Mempool.ToMempoolConfig())
	if err != nil {
		return nil, n.closeAfterFailure(fmt.Errorf("mempool engine: %w", err))
	}
	n.finality, err = finality.NewEngine(b, rootKey, cfg.Finality.ToFinalityConfig())
	if err != nil {
		return nil, n.closeAfterFailure(fmt.Errorf("finality engine: %w", err))
	}

	return n, nil
}

func (n *Node) closeAfterFailure(cause error) error {
	_ = n.db.Close()
	return cause
}

// Bus exposes the shared event bus, for a composition-root caller that
// needs to publish bootstrap events (e.g. a genesis BlockStored) or
// subscribe for observability.
func (n *Node) Bus() *bus.Bus { return n.bus }

// DB exposes the underlying key-value store, for genesis seeding.
func (n *Node) DB() storage.DB { return n.db }

// State exposes the world-state store, for genesis seeding.
func (n *Node) State() *storage.StateDB { return n.state }

// Finality exposes the gadget directly, for an operator-reset endpoint
// that needs to call Gadget().Reset() outside the bus.
func (n *Node) Finality() *finality.Engine { return n.finality }

// Mempool exposes the pool directly, for a read-only RPC surface.
func (n *Node) Mempool() *mempool.Engine { return n.mempool }

// Metrics exposes the node's Prometheus registry, for a deployment that
// wants to attach its own exporter; none is wired here.
func (n *Node) Metrics() *prometheus.Registry { return n.metrics }

// Run starts every engine's Run loop in its own goroutine and blocks
// until ctx is cancelled, then waits for all of them to return.
func (n *Node) Run(ctx context.Context) {
	engines := []interface{ Run(context.Context) }{
		n.consensus,
		n.merkle,
		n.stateroot,
		n.blockstore,
		n.mempool,
		n.finality,
	}
	for _, e := range engines {
		n.wg.Add(1)
		go func(e interface{ Run(context.Context) }) {
			defer n.wg.Done()
			e.Run(ctx)
		}(e)
	}
	<-ctx.Done()
	n.wg.Wait()
}

// Close releases the underlying database. Call it after Run has
// returned.
func (n *Node) Close() error {
	return n.db.Close()
}
