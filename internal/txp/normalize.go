package txp

import (
	"github.com/vela-chain/klingnet/internal/utxo"
	"github.com/vela-chain/klingnet/pkg/tx"
	"github.com/vela-chain/klingnet/pkg/types"
)

// Normalize re-validates the mempool against the UtxoStore's current
// tip, dropping any transaction that no longer verifies (because a block
// consumed an input it relied on, or because one of its own mempool
// dependencies was dropped). Call it after any operation that moves the
// tip outside of ApplyBlocks, which already calls it internally —
// notably, after a RollbackBlocks sequence completes.
func (p *Processor) Normalize() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.normalizeLocked()
}

// normalizeLocked is Normalize's body, run with p.mu already held.
func (p *Processor) normalizeLocked() {
	newTip, err := p.store.Tip()
	if err != nil {
		contractViolation("read tip: %s", err)
	}

	sorted, ok := topsortTxs(p.pool)
	if !ok {
		// Cycles are impossible for valid UTXO transactions (see
		// topsortTxs); reaching here means a bug elsewhere let one
		// through. Reset rather than propagate the corruption.
		p.log.Warn().Msg("mempool dependency cycle detected, resetting mempool")
		p.view = utxo.NewView(p.store)
		p.pool = NewPool()
		p.undos = make(map[types.Hash]Undo)
		p.tip = newTip
		return
	}

	view := utxo.NewView(p.store)
	kept := NewPool()
	undos := make(map[types.Hash]Undo, len(sorted))
	dropped := 0

	for _, id := range sorted {
		transaction, _ := p.pool.Get(id)
		resolve := func(op types.Outpoint) (*utxo.UTXO, bool) { return view.Get(op) }
		if _, err := verifyTx(resolve, transaction, false); err != nil {
			dropped++
			continue
		}
		undo := resolveUndo(resolve, transaction)
		view.ApplyTx(id, inputOutpoints(transaction), txOutputsToUTXO(transaction))
		kept.Insert(id, transaction)
		undos[id] = undo
	}

	p.view = view
	p.pool = kept
	p.undos = undos
	p.tip = newTip

	p.log.Debug().Int("kept", kept.Size()).Int("dropped", dropped).Msg("normalized mempool")
}

// topsortTxs orders pool's transactions so that any tx spending an output
// of another tx still in pool comes after it, via Kahn's algorithm on the
// induced dependency graph. Ties (no dependency relationship yet
// resolvable) break by insertion order. Returns ok == false only if a
// cycle is detected, which cannot happen for valid UTXO transactions —
// admission never admits a tx whose inputs are not already resolvable.
func topsortTxs(pool *Pool) (sorted []types.Hash, ok bool) {
	ids := pool.Ids()
	position := make(map[types.Hash]int, len(ids))
	for i, id := range ids {
		position[id] = i
	}

	// producer maps an outpoint created by a mempool tx to that tx's id,
	// so a dependent tx's input can be resolved to its in-pool parent.
	producer := make(map[types.Outpoint]types.Hash)
	pool.Each(func(id types.Hash, transaction *tx.Transaction) {
		for j := range transaction.Outputs {
			producer[types.Outpoint{TxID: id, Index: uint32(j)}] = id
		}
	})

	indegree := make(map[types.Hash]int, len(ids))
	children := make(map[types.Hash][]types.Hash, len(ids))
	for _, id := range ids {
		indegree[id] = 0
	}
	pool.Each(func(id types.Hash, transaction *tx.Transaction) {
		for _, in := range transaction.Inputs {
			parent, isLocal := producer[in.PrevOut]
			if !isLocal || parent == id {
				continue
			}
			children[parent] = append(children[parent], id)
			indegree[id]++
		}
	})

	// Ready holds ids with indegree 0, always processed in insertion
	// order (the tie-break); a min-position scan over a small slice is
	// simpler and cache-friendlier than a heap for mempool-scale inputs.
	ready := make([]types.Hash, 0, len(ids))
	for _, id := range ids {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	sorted = make([]types.Hash, 0, len(ids))
	for len(ready) > 0 {
		best := 0
		for i := 1; i < len(ready); i++ {
			if position[ready[i]] < position[ready[best]] {
				best = i
			}
		}
		id := ready[best]
		ready = append(ready[:best], ready[best+1:]...)

		sorted = append(sorted, id)
		for _, child := range children[id] {
			indegree[child]--
			if indegree[child] == 0 {
				ready = append(ready, child)
			}
		}
	}

	if len(sorted) != len(ids) {
		return nil, false
	}
	return sorted, true
}
