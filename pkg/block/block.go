// Package block defines block types and validation.
package block

import "github.com/vela-chain/klingnet/pkg/tx"

// Block represents a block in the chain.
type Block struct {
	Header       *Header           `json:"header"`
	Transactions []*tx.Transaction `json:"transactions"`
}

// NewBlock creates a new block with the given header and transactions.
func NewBlock(header *Header, txs []*tx.Transaction) *Block {
	return &Block{
		Header:       header,
		Transactions: txs,
	}
}

// IsBoundary reports whether this is an epoch-delimiting block carrying no
// transactions. Boundary blocks still move the tip but are skipped by
// txp.VerifyBlocks, which only replays transaction effects.
func (b *Block) IsBoundary() bool {
	return len(b.Transactions) == 0
}
