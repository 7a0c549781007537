package mempool

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/Quigles1337/COINjecture1337/chain"
	"github.com/Quigles1337/COINjecture1337/crypto"
	"github.com/Quigles1337/COINjecture1337/logs"
)

func testBackend(t *testing.T) *logs.Backend {
	t.Helper()
	b, err := logs.NewBackend(filepath.Join(t.TempDir(), "test.log"))
	if err != nil {
		t.Fatalf("logs.NewBackend: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func signedTx(t *testing.T, from *crypto.KeyPair, to chain.Address, fee, nonce uint64) *chain.Transaction {
	t.Helper()
	fromAddr, err := chain.AddressFromPublicKey(from.PublicKey)
	if err != nil {
		t.Fatalf("AddressFromPublicKey: %v", err)
	}
	tx := &chain.Transaction{
		CodecVersion: chain.CodecVersion,
		TxType:       chain.TxTypeTransfer,
		From:         fromAddr,
		To:           to,
		Amount:       1,
		Fee:          fee,
		GasLimit:     chain.MinTransferGasLimit,
		GasPrice:     1,
		Nonce:        nonce,
	}
	tx.Sign(from)
	return tx
}

func TestAddRejectsDuplicate(t *testing.T) {
	m := New(Config{MaxSize: 10}, testBackend(t))
	defer m.Close()

	kp, _ := crypto.GenerateKeyPair()
	tx := signedTx(t, kp, chain.Address{1}, 100, 0)

	if err := m.Add(tx); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if err := m.Add(tx); err != ErrDuplicate {
		t.Fatalf("second Add = %v, want ErrDuplicate", err)
	}
}

func TestAddRejectsInvalidSignature(t *testing.T) {
	m := New(Config{MaxSize: 10}, testBackend(t))
	defer m.Close()

	kp, _ := crypto.GenerateKeyPair()
	tx := signedTx(t, kp, chain.Address{1}, 100, 0)
	tx.Amount = 999 // tampering after signing must fail VerifySignature

	if err := m.Add(tx); err != ErrInvalidSignature {
		t.Fatalf("Add tampered tx = %v, want ErrInvalidSignature", err)
	}
}

func TestAddRejectsBelowThreshold(t *testing.T) {
	m := New(Config{MaxSize: 10, PriorityThreshold: 1000}, testBackend(t))
	defer m.Close()

	kp, _ := crypto.GenerateKeyPair()
	tx := signedTx(t, kp, chain.Address{1}, 1, 0)
	if err := m.Add(tx); err != ErrBelowThreshold {
		t.Fatalf("Add = %v, want ErrBelowThreshold", err)
	}
}

func TestFullEvictsLowestPriority(t *testing.T) {
	m := New(Config{MaxSize: 2}, testBackend(t))
	defer m.Close()

	kp1, _ := crypto.GenerateKeyPair()
	kp2, _ := crypto.GenerateKeyPair()
	kp3, _ := crypto.GenerateKeyPair()

	low := signedTx(t, kp1, chain.Address{1}, 1, 0)
	mid := signedTx(t, kp2, chain.Address{1}, 50, 0)
	high := signedTx(t, kp3, chain.Address{1}, 1000, 0)

	if err := m.Add(low); err != nil {
		t.Fatalf("Add low: %v", err)
	}
	if err := m.Add(mid); err != nil {
		t.Fatalf("Add mid: %v", err)
	}
	if m.Size() != 2 {
		t.Fatalf("Size() = %d, want 2", m.Size())
	}

	if err := m.Add(high); err != nil {
		t.Fatalf("Add high (should evict low): %v", err)
	}
	if m.Size() != 2 {
		t.Fatalf("Size() after eviction = %d, want 2", m.Size())
	}
	if m.Contains(low.Hash()) {
		t.Fatal("expected lowest-priority tx to have been evicted")
	}
	if !m.Contains(high.Hash()) || !m.Contains(mid.Hash()) {
		t.Fatal("expected mid and high priority txs to remain")
	}
}

func TestFullRejectsWhenNewTxIsLowestPriority(t *testing.T) {
	m := New(Config{MaxSize: 1}, testBackend(t))
	defer m.Close()

	kp1, _ := crypto.GenerateKeyPair()
	kp2, _ := crypto.GenerateKeyPair()
	high := signedTx(t, kp1, chain.Address{1}, 1000, 0)
	low := signedTx(t, kp2, chain.Address{1}, 1, 0)

	if err := m.Add(high); err != nil {
		t.Fatalf("Add high: %v", err)
	}
	if err := m.Add(low); err != ErrFull {
		t.Fatalf("Add low into full pool = %v, want ErrFull", err)
	}
}

func TestPopBestOrdersByPriorityDescending(t *testing.T) {
	m := New(Config{MaxSize: 10}, testBackend(t))
	defer m.Close()

	kp1, _ := crypto.GenerateKeyPair()
	kp2, _ := crypto.GenerateKeyPair()
	low := signedTx(t, kp1, chain.Address{1}, 1, 0)
	high := signedTx(t, kp2, chain.Address{1}, 1000, 0)

	_ = m.Add(low)
	_ = m.Add(high)

	best := m.PopBest(10)
	if len(best) != 2 {
		t.Fatalf("PopBest returned %d txs, want 2", len(best))
	}
	if best[0].Hash() != high.Hash() {
		t.Fatal("expected higher fee-per-gas tx to rank first")
	}

	// PopBest must not mutate the pool.
	if m.Size() != 2 {
		t.Fatalf("Size() after PopBest = %d, want 2 (PopBest must be non-destructive)", m.Size())
	}
}

func TestRemoveDropsTransaction(t *testing.T) {
	m := New(Config{MaxSize: 10}, testBackend(t))
	defer m.Close()

	kp, _ := crypto.GenerateKeyPair()
	tx := signedTx(t, kp, chain.Address{1}, 100, 0)
	_ = m.Add(tx)

	m.Remove(tx.Hash())
	if m.Contains(tx.Hash()) {
		t.Fatal("expected transaction to be removed")
	}
	if m.Size() != 0 {
		t.Fatalf("Size() = %d, want 0", m.Size())
	}
}

func TestJanitorSweepsExpiredTransactions(t *testing.T) {
	m := New(Config{MaxSize: 10, MaxTxAge: 10 * time.Millisecond, CleanupInterval: 5 * time.Millisecond}, testBackend(t))
	defer m.Close()

	kp, _ := crypto.GenerateKeyPair()
	tx := signedTx(t, kp, chain.Address{1}, 100, 0)
	_ = m.Add(tx)

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if !m.Contains(tx.Hash()) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected aged-out transaction to be swept by the janitor")
}
