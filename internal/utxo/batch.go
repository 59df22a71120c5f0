package utxo

import "github.com/vela-chain/klingnet/pkg/types"

// OpKind identifies the kind of a BatchOp.
type OpKind int

const (
	// OpPutTip records the new UtxoStore tip after the batch commits.
	OpPutTip OpKind = iota
	// OpAddTxOut creates a new UTXO at an outpoint.
	OpAddTxOut
	// OpDelTxIn removes the UTXO at an outpoint (it has been spent).
	OpDelTxIn
)

// BatchOp is one operation in an atomic UtxoStore write batch. Ordering
// within a batch does not affect correctness — WriteBatch applies the
// whole slice as a single atomic transaction — but a valid chain never
// produces colliding keys within one batch, so callers are free to order
// deletions and additions however is convenient to construct.
type BatchOp struct {
	Kind OpKind
	Tip  types.Hash     // valid for OpPutTip
	In   types.Outpoint // valid for OpAddTxOut, OpDelTxIn
	Aux  *UTXO          // valid for OpAddTxOut; Aux.Outpoint is set to In
}

// PutTip builds an operation that sets the UtxoStore tip.
func PutTip(hash types.Hash) BatchOp {
	return BatchOp{Kind: OpPutTip, Tip: hash}
}

// AddTxOut builds an operation that creates a UTXO at outpoint `in` from
// the given TxOutAux (value/script/token/distribution).
func AddTxOut(in types.Outpoint, aux *UTXO) BatchOp {
	out := *aux
	out.Outpoint = in
	return BatchOp{Kind: OpAddTxOut, In: in, Aux: &out}
}

// DelTxIn builds an operation that removes the UTXO at outpoint `in`
// because it has just been consumed as a transaction input.
func DelTxIn(in types.Outpoint) BatchOp {
	return BatchOp{Kind: OpDelTxIn, In: in}
}
