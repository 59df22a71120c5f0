package txp

import "github.com/vela-chain/klingnet/internal/utxo"

// Undo is the ordered list of previously resolved outputs a transaction's
// inputs consumed, aligned with tx.Inputs (nil entries mark a zero-outpoint
// coinbase-like input, which consumed nothing). Replaying it — AddTxOut per
// non-nil entry — reverses the transaction's spend effects.
type Undo []*utxo.UTXO

// BlockUndo is the per-transaction Undo list for one block, aligned with
// block.Transactions.
type BlockUndo []Undo
