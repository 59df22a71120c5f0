package txp

import (
	"github.com/vela-chain/klingnet/internal/utxo"
	"github.com/vela-chain/klingnet/pkg/block"
	"github.com/vela-chain/klingnet/pkg/types"
)

// ApplyBlocks applies chain — a non-empty, oldest-first sequence of
// blocks whose first block extends the current tip — to the UtxoStore:
// each block's effects are committed as one atomic batch, its
// transactions are pruned from the mempool, and Normalize runs once
// afterward to bring the mempool back in line with the new tip.
//
// assertValid, when true, re-runs VerifyBlocks over chain before
// touching the store; a failure there means the caller handed in blocks
// it had no business calling "definitely valid", which is a contract
// violation and fails the process rather than returning an error.
//
// Every precondition failure below (tip mismatch, either at entry or
// discovered mid-chain) is likewise a contract violation: a correctly
// behaving caller never presents a chain that does not extend the
// store's own tip.
func (p *Processor) ApplyBlocks(chain []*block.Block, assertValid bool) {
	if len(chain) == 0 {
		contractViolation("ApplyBlocks called with an empty chain")
	}

	storeTip, err := p.store.Tip()
	if err != nil {
		contractViolation("read tip: %s", err)
	}
	if storeTip != chain[0].Header.PrevHash {
		contractViolation("oldest block in chain is not based on tip")
	}

	if assertValid {
		if _, err := p.VerifyBlocks(chain); err != nil {
			contractViolation("ApplyBlocks given a chain that does not verify: %s", err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, b := range chain {
		tip, err := p.store.Tip()
		if err != nil {
			contractViolation("read tip: %s", err)
		}
		if tip != b.Header.PrevHash {
			contractViolation("block %s does not extend current tip", b.Header.Hash())
		}

		ops := make([]utxo.BatchOp, 0, 1+len(b.Transactions)*2)
		ops = append(ops, utxo.PutTip(b.Header.Hash()))
		for _, transaction := range b.Transactions {
			txID := transaction.Hash()
			for _, in := range transaction.Inputs {
				if in.PrevOut.IsZero() {
					continue
				}
				ops = append(ops, utxo.DelTxIn(in.PrevOut))
			}
			for j, out := range transaction.Outputs {
				op := types.Outpoint{TxID: txID, Index: uint32(j)}
				ops = append(ops, utxo.AddTxOut(op, &utxo.UTXO{
					Value:        out.Value,
					Script:       out.Script,
					Token:        out.Token,
					Distribution: out.Distribution,
					Height:       b.Header.Height,
				}))
			}
			p.pool.Remove(txID)
			delete(p.undos, txID)
		}

		if err := p.store.WriteBatch(ops); err != nil {
			contractViolation("commit block %s: %s", b.Header.Hash(), err)
		}
		p.tip = b.Header.Hash()
	}

	p.log.Info().Int("blocks", len(chain)).Str("tip", p.tip.String()).Msg("applied blocks")
	p.normalizeLocked()
}
