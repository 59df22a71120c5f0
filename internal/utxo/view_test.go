package utxo

import (
	"testing"

	"github.com/vela-chain/klingnet/pkg/crypto"
	"github.com/vela-chain/klingnet/pkg/types"
)

func TestView_GetFallsThroughToBase(t *testing.T) {
	s := testStore(t)
	u := makeUTXO("tx1", 0, 100)
	if err := s.Put(u); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	v := NewView(s)
	got, ok := v.Get(u.Outpoint)
	if !ok {
		t.Fatal("Get() should fall through to base store")
	}
	if got.Value != u.Value {
		t.Errorf("Value = %d, want %d", got.Value, u.Value)
	}
}

func TestView_GetMissing(t *testing.T) {
	v := NewView(testStore(t))
	if _, ok := v.Get(makeOutpoint("missing", 0)); ok {
		t.Error("Get() for missing outpoint should report false")
	}
}

func TestView_ApplyTxAddsOutputsAndDeletesInputs(t *testing.T) {
	s := testStore(t)
	src := makeUTXO("t0", 0, 100)
	if err := s.Put(src); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	v := NewView(s)
	txID := crypto.Hash([]byte("t1"))
	out := &UTXO{Value: 100, Script: src.Script}

	v.ApplyTx(txID, []types.Outpoint{src.Outpoint}, []*UTXO{out})

	if _, ok := v.Get(src.Outpoint); ok {
		t.Error("spent input should be absent through the view")
	}

	newOp := types.Outpoint{TxID: txID, Index: 0}
	got, ok := v.Get(newOp)
	if !ok {
		t.Fatal("new output should resolve through the view")
	}
	if got.Value != 100 {
		t.Errorf("Value = %d, want 100", got.Value)
	}
	if got.Outpoint != newOp {
		t.Errorf("Outpoint = %v, want %v", got.Outpoint, newOp)
	}
}

func TestView_ApplyTxKeepsAddAndDelDisjoint(t *testing.T) {
	s := testStore(t)
	v := NewView(s)

	txA := crypto.Hash([]byte("a"))
	opA := types.Outpoint{TxID: txA, Index: 0}
	v.ApplyTx(txA, nil, []*UTXO{{Value: 1}})
	if _, ok := v.Added()[opA]; !ok {
		t.Fatal("output should be in add after creation")
	}

	txB := crypto.Hash([]byte("b"))
	v.ApplyTx(txB, []types.Outpoint{opA}, nil)

	if _, ok := v.Added()[opA]; ok {
		t.Error("spent output must be removed from add")
	}
	if _, ok := v.Deleted()[opA]; !ok {
		t.Error("spent output must be recorded in del")
	}
	for op := range v.Added() {
		if _, deleted := v.Deleted()[op]; deleted {
			t.Errorf("outpoint %v present in both add and del", op)
		}
	}
}
