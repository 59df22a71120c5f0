package txp

import (
	"github.com/vela-chain/klingnet/internal/utxo"
	"github.com/vela-chain/klingnet/pkg/block"
	"github.com/vela-chain/klingnet/pkg/types"
)

// BlockUndoPair pairs a previously applied block with the Undo recorded
// when it (or its replay during VerifyBlocks) was applied.
type BlockUndoPair struct {
	Block *block.Block
	Undo  BlockUndo
}

// RollbackBlocks reverses pairs — a non-empty, youngest-first sequence of
// previously applied blocks and their recorded Undo — committing one
// atomic UtxoStore batch per block. It does not touch the mempool:
// callers must invoke Normalize once the whole rollback sequence has
// completed, since a partially-rolled-back chain has no single
// well-defined tip to normalize against.
//
// A length mismatch between a block's transactions and its Undo (or
// between a transaction's inputs and its per-tx Undo entry) means the
// Undo handed in does not belong to this block — a contract violation,
// not a recoverable error.
func (p *Processor) RollbackBlocks(pairs []BlockUndoPair) {
	if len(pairs) == 0 {
		contractViolation("RollbackBlocks called with an empty sequence")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, pair := range pairs {
		b, undo := pair.Block, pair.Undo
		if len(undo) != len(b.Transactions) {
			contractViolation("block %s: undo has %d entries, want %d", b.Header.Hash(), len(undo), len(b.Transactions))
		}

		ops := make([]utxo.BatchOp, 0, 1+len(b.Transactions)*2)
		for i, transaction := range b.Transactions {
			txUndo := undo[i]
			if len(txUndo) != len(transaction.Inputs) {
				contractViolation("tx %s: undo has %d entries, want %d", transaction.Hash(), len(txUndo), len(transaction.Inputs))
			}
			for k, in := range transaction.Inputs {
				if in.PrevOut.IsZero() {
					continue
				}
				ops = append(ops, utxo.AddTxOut(in.PrevOut, txUndo[k]))
			}
			txID := transaction.Hash()
			for j := range transaction.Outputs {
				ops = append(ops, utxo.DelTxIn(types.Outpoint{TxID: txID, Index: uint32(j)}))
			}
		}
		ops = append([]utxo.BatchOp{utxo.PutTip(b.Header.PrevHash)}, ops...)

		if err := p.store.WriteBatch(ops); err != nil {
			contractViolation("commit rollback of block %s: %s", b.Header.Hash(), err)
		}
		p.tip = b.Header.PrevHash
	}

	p.log.Info().Int("blocks", len(pairs)).Str("tip", p.tip.String()).Msg("rolled back blocks")
}
