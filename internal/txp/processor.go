// Package txp implements the transaction-processing core: the UTXO
// overlay, the mempool, single-transaction admission, and the block
// apply/verify/rollback/normalize algorithms that keep the mempool
// consistent with the chain tip.
//
// Processor is the single authoritative, process-wide instance of this
// state (TxpLD in the component design: the UtxoView, the mempool, the
// per-tx undo records, and the tip they are all coherent with). All of
// its fields are guarded by one mutex, the same discipline
// internal/chain.Chain uses for its own state mutations.
package txp

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/vela-chain/klingnet/config"
	"github.com/vela-chain/klingnet/internal/log"
	"github.com/vela-chain/klingnet/internal/utxo"
	"github.com/vela-chain/klingnet/pkg/types"
)

// UtxoStore is the durable TxIn -> TxOutAux mapping this package
// consumes. internal/utxo.Store implements it; tests back it with
// internal/storage.NewMemory().
type UtxoStore interface {
	utxo.Getter
	Tip() (types.Hash, error)
	WriteBatch(ops []utxo.BatchOp) error
}

// Processor is the composite transaction-processing state (TxpLD) plus
// the UtxoStore handle it is kept coherent with.
type Processor struct {
	mu sync.Mutex // Guards view, pool, undos, tip — the single TxpLD.

	view  *utxo.View
	pool  *Pool
	undos map[types.Hash]Undo
	tip   types.Hash

	store       UtxoStore
	maxLocalTxs int
	log         zerolog.Logger
}

// New creates a Processor rooted at store's current tip, with an empty
// view, empty mempool, and the given mempool capacity (MAX_LOCAL_TXS).
// maxLocalTxs <= 0 falls back to config.DefaultMaxLocalTxs.
func New(store UtxoStore, maxLocalTxs int) (*Processor, error) {
	if maxLocalTxs <= 0 {
		maxLocalTxs = config.DefaultMaxLocalTxs
	}
	tip, err := store.Tip()
	if err != nil {
		return nil, err
	}
	return &Processor{
		view:        utxo.NewView(store),
		pool:        NewPool(),
		undos:       make(map[types.Hash]Undo),
		tip:         tip,
		store:       store,
		maxLocalTxs: maxLocalTxs,
		log:         log.Txp,
	}, nil
}

// TxpLD is a read-only snapshot of the Processor's composite state,
// exposed for inspection (metrics, tests) — callers must not mutate it.
type TxpLD struct {
	View  *utxo.View
	Pool  *Pool
	Undos map[types.Hash]Undo
	Tip   types.Hash
}

// Snapshot returns the current TxpLD. The returned value aliases live
// Processor state; treat it as read-only.
func (p *Processor) Snapshot() TxpLD {
	p.mu.Lock()
	defer p.mu.Unlock()
	return TxpLD{View: p.view, Pool: p.pool, Undos: p.undos, Tip: p.tip}
}
