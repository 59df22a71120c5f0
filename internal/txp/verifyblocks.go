package txp

import (
	"fmt"

	"github.com/vela-chain/klingnet/internal/utxo"
	"github.com/vela-chain/klingnet/pkg/block"
)

// VerifyBlocks replays chain — oldest first — against a fresh view
// rooted at the current UtxoStore, without writing anything to the
// store. Boundary blocks (no transactions, e.g. genesis/epoch markers)
// are skipped. On success it returns the per-block Undo, one entry per
// non-boundary block, oldest first. On the first verification failure it
// returns an error decorated with the failing block's height.
func (p *Processor) VerifyBlocks(chain []*block.Block) ([]BlockUndo, error) {
	if len(chain) == 0 {
		contractViolation("VerifyBlocks called with an empty chain")
	}

	view := utxo.NewView(p.store)

	undos := make([]BlockUndo, 0, len(chain))
	for _, b := range chain {
		if b.IsBoundary() {
			continue
		}
		undo, err := verifyAndApplyTxs(false, view, b.Transactions)
		if err != nil {
			return nil, fmt.Errorf("[block's slot = %d] %w", b.Header.Height, err)
		}
		undos = append(undos, undo)
	}
	return undos, nil
}
