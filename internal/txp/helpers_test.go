package txp

import (
	"testing"

	"github.com/vela-chain/klingnet/internal/storage"
	"github.com/vela-chain/klingnet/internal/utxo"
	"github.com/vela-chain/klingnet/pkg/block"
	"github.com/vela-chain/klingnet/pkg/crypto"
	"github.com/vela-chain/klingnet/pkg/tx"
	"github.com/vela-chain/klingnet/pkg/types"
)

// testWallet is a single-key test fixture: a private key, its address,
// and the P2PKH script locking outputs to it.
type testWallet struct {
	key  *crypto.PrivateKey
	addr types.Address
}

func newWallet(t *testing.T) testWallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	return testWallet{key: key, addr: crypto.AddressFromPubKey(key.PublicKey())}
}

func (w testWallet) script() types.Script {
	return types.Script{Type: types.ScriptTypeP2PKH, Data: w.addr[:]}
}

// spendFrom builds and signs a one-input, one-output P2PKH transaction
// spending in, paying value to dest (defaulting to the same wallet's
// script when dest is the zero value).
func spendFrom(t *testing.T, w testWallet, in types.Outpoint, value uint64, dest types.Script) *tx.Transaction {
	t.Helper()
	if dest.Type == 0 && dest.Data == nil {
		dest = w.script()
	}
	b := tx.NewBuilder().AddInput(in).AddOutput(value, dest)
	if err := b.Sign(w.key); err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	return b.Build()
}

// newProcessor returns a Processor over a fresh in-memory UtxoStore
// seeded with seed, each keyed by its own outpoint.
func newProcessor(t *testing.T, maxLocalTxs int, seed ...*utxo.UTXO) (*Processor, *utxo.Store) {
	t.Helper()
	store := utxo.NewStore(storage.NewMemory())
	for _, u := range seed {
		if err := store.Put(u); err != nil {
			t.Fatalf("seed Put() error: %v", err)
		}
	}
	p, err := New(store, maxLocalTxs)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return p, store
}

// newProcessorAt is like newProcessor but additionally sets the store's
// tip to tip before constructing the Processor, so ApplyBlocks'
// precondition check has something real to compare against.
func newProcessorAt(t *testing.T, tip types.Hash, maxLocalTxs int, seed ...*utxo.UTXO) (*Processor, *utxo.Store) {
	t.Helper()
	store := utxo.NewStore(storage.NewMemory())
	for _, u := range seed {
		if err := store.Put(u); err != nil {
			t.Fatalf("seed Put() error: %v", err)
		}
	}
	if err := store.WriteBatch([]utxo.BatchOp{utxo.PutTip(tip)}); err != nil {
		t.Fatalf("seed tip WriteBatch() error: %v", err)
	}
	p, err := New(store, maxLocalTxs)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return p, store
}

// singleTxBlock wraps txs (none for a boundary block) into a block
// extending prevHash at the given height, with a deterministic header
// hash derived from nonce.
func singleTxBlock(prevHash types.Hash, height uint64, nonce uint64, txs ...*tx.Transaction) *block.Block {
	h := &block.Header{
		Version:   1,
		PrevHash:  prevHash,
		Height:    height,
		Timestamp: 1,
		Nonce:     nonce,
	}
	return block.NewBlock(h, txs)
}
