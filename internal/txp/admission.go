package txp

import (
	"github.com/vela-chain/klingnet/internal/utxo"
	"github.com/vela-chain/klingnet/pkg/tx"
	"github.com/vela-chain/klingnet/pkg/types"
)

// Outcome enumerates the possible results of Processor.ProcessTx.
type Outcome int

const (
	// Added means the transaction was admitted.
	Added Outcome = iota
	// Known means an identical id was already admitted; state unchanged.
	Known
	// Overwhelmed means the mempool is at capacity; state unchanged.
	Overwhelmed
	// Invalid means verification rejected the transaction, or the tip
	// moved between the caller's snapshot and the admission lock; the
	// reason is in ProcessTxResult.Reason. State unchanged.
	Invalid
)

func (o Outcome) String() string {
	switch o {
	case Added:
		return "Added"
	case Known:
		return "Known"
	case Overwhelmed:
		return "Overwhelmed"
	case Invalid:
		return "Invalid"
	default:
		return "Unknown"
	}
}

// ProcessTxResult is the outcome of admitting one transaction.
type ProcessTxResult struct {
	Outcome Outcome
	Reason  string // populated when Outcome == Invalid
}

func added() ProcessTxResult       { return ProcessTxResult{Outcome: Added} }
func known() ProcessTxResult       { return ProcessTxResult{Outcome: Known} }
func overwhelmed() ProcessTxResult { return ProcessTxResult{Outcome: Overwhelmed} }
func invalid(reason string) ProcessTxResult {
	return ProcessTxResult{Outcome: Invalid, Reason: reason}
}

// ProcessTx atomically admits transaction into the mempool, provided the
// UtxoStore tip has not moved since this call started and the mempool is
// below capacity.
//
// The tip is snapshotted and every input pre-resolved against the
// UtxoStore *before* the admission lock is taken, so disk I/O never
// happens while the lock is held; the tip comparison inside the lock is
// what makes that safe despite a block commit racing this call (see the
// package-level concurrency discussion in processor.go).
func (p *Processor) ProcessTx(transaction *tx.Transaction) ProcessTxResult {
	id := transaction.Hash()

	tipBefore, err := p.store.Tip()
	if err != nil {
		return invalid(err.Error())
	}

	resolved := make(map[types.Outpoint]*utxo.UTXO, len(transaction.Inputs))
	for _, in := range transaction.Inputs {
		if in.PrevOut.IsZero() {
			continue
		}
		if u, err := p.store.Get(in.PrevOut); err == nil {
			resolved[in.PrevOut] = u
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tip != tipBefore {
		return invalid(ErrTipsChanged.Error())
	}
	if p.pool.Size() >= p.maxLocalTxs {
		return overwhelmed()
	}
	if p.pool.Contains(id) {
		return known()
	}

	resolve := func(op types.Outpoint) (*utxo.UTXO, bool) {
		if _, deleted := p.view.Deleted()[op]; deleted {
			return nil, false
		}
		if u, ok := p.view.Added()[op]; ok {
			return u, true
		}
		u, ok := resolved[op]
		return u, ok
	}

	if _, err := verifyTx(resolve, transaction, true); err != nil {
		return invalid(err.Error())
	}

	undo := resolveUndo(resolve, transaction)
	p.view.ApplyTx(id, inputOutpoints(transaction), txOutputsToUTXO(transaction))
	p.pool.Insert(id, transaction)
	p.undos[id] = undo

	return added()
}
