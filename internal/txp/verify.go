package txp

import (
	"fmt"

	"github.com/vela-chain/klingnet/internal/mempool"
	"github.com/vela-chain/klingnet/internal/utxo"
	"github.com/vela-chain/klingnet/pkg/tx"
	"github.com/vela-chain/klingnet/pkg/types"
)

// Resolver looks up the UTXO behind an outpoint. It plays the role the
// UtxoView plays during normal verification and the role a pre-resolved,
// non-disk-touching closure plays during admission (see admission.go) —
// verifyTx does not care which.
type Resolver func(types.Outpoint) (*utxo.UTXO, bool)

// resolverProvider adapts a Resolver to tx.UTXOProvider so verification
// can reuse Transaction.ValidateWithUTXOs instead of re-implementing
// balance and witness checks here.
type resolverProvider struct {
	resolve Resolver
}

func (r resolverProvider) HasUTXO(outpoint types.Outpoint) bool {
	_, ok := r.resolve(outpoint)
	return ok
}

func (r resolverProvider) GetUTXO(outpoint types.Outpoint) (uint64, types.Script, error) {
	u, ok := r.resolve(outpoint)
	if !ok {
		return 0, types.Script{}, tx.ErrInputNotFound
	}
	return u.Value, u.Script, nil
}

// policy carries the structural/size checks applied only when verifying
// a standalone admission candidate (pure == true). Block replay
// (pure == false) skips it: those transactions already cleared policy
// once, either at their own admission or at the producing node.
var policy = mempool.DefaultPolicy()

// verifyTx checks transaction against resolve: every input must resolve,
// value must be conserved, and every input's witness must check out.
// When pure is true it additionally enforces the structural/size policy
// appropriate to admitting a standalone transaction.
func verifyTx(resolve Resolver, transaction *tx.Transaction, pure bool) (fee uint64, err error) {
	if pure {
		if err := policy.Check(transaction); err != nil {
			return 0, err
		}
	}
	return transaction.ValidateWithUTXOs(resolverProvider{resolve: resolve})
}

// resolveUndo builds the Undo record for transaction by resolving each of
// its inputs through resolve, in input order. verifyTx must already have
// succeeded against the same resolver — a miss here means a logic fault
// in the caller, not an ordinary verification failure.
func resolveUndo(resolve Resolver, transaction *tx.Transaction) Undo {
	undo := make(Undo, len(transaction.Inputs))
	for i, in := range transaction.Inputs {
		if in.PrevOut.IsZero() {
			continue
		}
		u, ok := resolve(in.PrevOut)
		if !ok {
			contractViolation("input %d (%s) not resolved building undo for an already-verified tx", i, in.PrevOut)
		}
		undo[i] = u
	}
	return undo
}

// inputOutpoints returns the real (non-coinbase-marker) outpoints
// transaction spends, in input order.
func inputOutpoints(transaction *tx.Transaction) []types.Outpoint {
	ops := make([]types.Outpoint, 0, len(transaction.Inputs))
	for _, in := range transaction.Inputs {
		if in.PrevOut.IsZero() {
			continue
		}
		ops = append(ops, in.PrevOut)
	}
	return ops
}

// txOutputsToUTXO converts transaction's outputs into the UTXO records a
// View stores them as.
func txOutputsToUTXO(transaction *tx.Transaction) []*utxo.UTXO {
	outs := make([]*utxo.UTXO, len(transaction.Outputs))
	for j, out := range transaction.Outputs {
		outs[j] = &utxo.UTXO{
			Value:        out.Value,
			Script:       out.Script,
			Token:        out.Token,
			Distribution: out.Distribution,
		}
	}
	return outs
}

// verifyAndApplyTxs verifies each transaction in order against view and,
// on success, applies it to view. Returns the per-tx Undo in the same
// order as txs. Short-circuits on the first failure, leaving view
// mutated only by the transactions that verified before it.
func verifyAndApplyTxs(pure bool, view *utxo.View, txs []*tx.Transaction) (BlockUndo, error) {
	undos := make(BlockUndo, 0, len(txs))
	for i, transaction := range txs {
		resolve := func(op types.Outpoint) (*utxo.UTXO, bool) { return view.Get(op) }
		if _, err := verifyTx(resolve, transaction, pure); err != nil {
			return nil, fmt.Errorf("tx %d (%s): %w", i, transaction.Hash(), err)
		}
		undo := resolveUndo(resolve, transaction)
		view.ApplyTx(transaction.Hash(), inputOutpoints(transaction), txOutputsToUTXO(transaction))
		undos = append(undos, undo)
	}
	return undos, nil
}
