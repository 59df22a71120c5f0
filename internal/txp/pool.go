package txp

import (
	"github.com/vela-chain/klingnet/pkg/tx"
	"github.com/vela-chain/klingnet/pkg/types"
)

// Pool is the mempool: an insertion-ordered map of admitted, not yet
// confirmed transactions. Insertion order matters — Normalize falls back
// to it as a tie-breaker after the dependency topological sort.
type Pool struct {
	order []types.Hash
	txs   map[types.Hash]*tx.Transaction
}

// NewPool returns an empty mempool.
func NewPool() *Pool {
	return &Pool{txs: make(map[types.Hash]*tx.Transaction)}
}

// Size returns the number of transactions currently held.
func (p *Pool) Size() int { return len(p.txs) }

// Contains reports whether id is already admitted.
func (p *Pool) Contains(id types.Hash) bool {
	_, ok := p.txs[id]
	return ok
}

// Get returns the transaction for id, if present.
func (p *Pool) Get(id types.Hash) (*tx.Transaction, bool) {
	t, ok := p.txs[id]
	return t, ok
}

// Insert admits transaction under id, appending it to insertion order the
// first time id is seen. Re-inserting an existing id updates the stored
// transaction without moving its position.
func (p *Pool) Insert(id types.Hash, transaction *tx.Transaction) {
	if _, exists := p.txs[id]; !exists {
		p.order = append(p.order, id)
	}
	p.txs[id] = transaction
}

// Remove drops id from the pool, if present.
func (p *Pool) Remove(id types.Hash) {
	if _, ok := p.txs[id]; !ok {
		return
	}
	delete(p.txs, id)
	for i, oid := range p.order {
		if oid == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// Each calls fn for every transaction in insertion order.
func (p *Pool) Each(fn func(id types.Hash, transaction *tx.Transaction)) {
	for _, id := range p.order {
		fn(id, p.txs[id])
	}
}

// Ids returns the admitted transaction ids in insertion order.
func (p *Pool) Ids() []types.Hash {
	out := make([]types.Hash, len(p.order))
	copy(out, p.order)
	return out
}
