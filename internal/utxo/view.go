package utxo

import "github.com/vela-chain/klingnet/pkg/types"

// Getter is the read-only slice of Store that a View needs from its base.
// Verification and normalization only ever read through a View, never
// write the base store directly, so View depends on this narrow interface
// rather than the full Set.
type Getter interface {
	Get(outpoint types.Outpoint) (*UTXO, error)
}

// View is an in-memory overlay atop a base UtxoStore: pending additions
// and pending deletions not yet committed. Reading a key applies the
// overlay first and only falls through to the base store if the key is
// in neither add nor del.
//
// Invariant: add and del are always disjoint (applyTx below maintains
// this by removing from the opposite map whenever it writes to one).
type View struct {
	add map[types.Outpoint]*UTXO
	del map[types.Outpoint]struct{}
	base Getter
}

// NewView creates an empty overlay rooted at base.
func NewView(base Getter) *View {
	return &View{
		add:  make(map[types.Outpoint]*UTXO),
		del:  make(map[types.Outpoint]struct{}),
		base: base,
	}
}

// Get resolves an outpoint through the overlay: deleted entries are
// absent regardless of what the base store says, added entries shadow
// the base, and anything else falls through to the base store. Base
// errors (including "not found") are treated as absent — View has no
// way to distinguish a genuine I/O fault from a missing key given the
// storage.DB contract, and callers that need the distinction should not
// be routing unresolvable inputs through View in the first place.
func (v *View) Get(outpoint types.Outpoint) (*UTXO, bool) {
	if _, deleted := v.del[outpoint]; deleted {
		return nil, false
	}
	if u, ok := v.add[outpoint]; ok {
		return u, true
	}
	u, err := v.base.Get(outpoint)
	if err != nil {
		return nil, false
	}
	return u, true
}

// ApplyTx records the effect of admitting or confirming a transaction:
// every input it consumes moves into del (and out of add, if it was only
// ever a pending addition itself), and every output it creates moves into
// add (and out of del, in case a prior step marked the same outpoint
// deleted — impossible for a real chain, but kept for overlay consistency).
func (v *View) ApplyTx(txID types.Hash, inputs []types.Outpoint, outputs []*UTXO) {
	for _, in := range inputs {
		delete(v.add, in)
		v.del[in] = struct{}{}
	}
	for j, out := range outputs {
		op := types.Outpoint{TxID: txID, Index: uint32(j)}
		u := *out
		u.Outpoint = op
		delete(v.del, op)
		v.add[op] = &u
	}
}

// Added returns the pending additions, keyed by outpoint. Callers must
// not mutate the returned map.
func (v *View) Added() map[types.Outpoint]*UTXO {
	return v.add
}

// Deleted returns the pending deletions. Callers must not mutate the
// returned map.
func (v *View) Deleted() map[types.Outpoint]struct{} {
	return v.del
}
