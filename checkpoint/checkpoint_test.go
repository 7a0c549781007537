package checkpoint

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

// TestCheckpointFastSync covers fast-syncing a new node from the latest checkpoint.
func TestCheckpointFastSync(t *testing.T) {
	kp, _ := crypto.GenerateKeyPair()
	m := New(Config{Interval: 100, MaxCheckpoints: 10}, kp, testBackend(t))

	blockHash := crypto.Sum256([]byte("block-100"))
	stateRoot := crypto.Sum256([]byte("state-100"))
	now := time.Unix(1700000000, 0)

	cp, err := m.MaybeCreate(100, blockHash, stateRoot, 5, now)
	if err != nil {
		t.Fatalf("MaybeCreate: %v", err)
	}
	if cp == nil {
		t.Fatal("expected a checkpoint at height 100 (multiple of interval)")
	}

	if got, err := m.MaybeCreate(150, blockHash, stateRoot, 0, now); err != nil || got != nil {
		t.Fatalf("MaybeCreate(150) = %v, %v; want nil, nil (not a multiple of interval)", got, err)
	}

	got, next := m.SyncFrom(250)
	if got == nil {
		t.Fatal("expected SyncFrom(250) to return the checkpoint at 100")
	}
	if got.BlockNumber != 100 {
		t.Fatalf("SyncFrom(250) checkpoint height = %d, want 100", got.BlockNumber)
	}
	if next != 101 {
		t.Fatalf("SyncFrom(250) next_block_to_fetch = %d, want 101", next)
	}
}

func TestVerifyRejectsUnsignedCheckpoint(t *testing.T) {
	m := New(Config{Interval: 100, MaxCheckpoints: 10}, nil, testBackend(t))
	cp, err := m.Create(100, crypto.Sum256([]byte("h")), crypto.Sum256([]byte("s")), 1, time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if m.Verify(cp) {
		t.Fatal("expected Verify to reject an unsigned checkpoint")
	}
}

func TestVerifyRejectsMalformedCheckpoints(t *testing.T) {
	kp, _ := crypto.GenerateKeyPair()
	m := New(Config{}, kp, testBackend(t))

	cases := []*chain.Checkpoint{
		{BlockNumber: 0, Timestamp: 1, BlockHash: crypto.Sum256([]byte("x"))},
		{BlockNumber: 1, Timestamp: 0, BlockHash: crypto.Sum256([]byte("x"))},
		{BlockNumber: 1, Timestamp: 1, BlockHash: crypto.Hash{}},
	}
	for i, cp := range cases {
		if m.Verify(cp) {
			t.Fatalf("case %d: expected Verify to reject malformed checkpoint %+v", i, cp)
		}
	}
}

func TestFIFOPruning(t *testing.T) {
	kp, _ := crypto.GenerateKeyPair()
	m := New(Config{Interval: 1, MaxCheckpoints: 2}, kp, testBackend(t))

	now := time.Unix(1700000000, 0)
	for i := uint64(1); i <= 3; i++ {
		if _, err := m.Create(i, crypto.Sum256([]byte{byte(i)}), crypto.Sum256([]byte{byte(i)}), 0, now); err != nil {
			t.Fatalf("Create(%d): %v", i, err)
		}
	}

	list := m.List()
	if len(list) != 2 {
		t.Fatalf("len(List()) = %d, want 2", len(list))
	}
	if list[0].BlockNumber != 2 || list[1].BlockNumber != 3 {
		t.Fatalf("expected oldest checkpoint (height 1) pruned, got heights %d,%d", list[0].BlockNumber, list[1].BlockNumber)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	kp, _ := crypto.GenerateKeyPair()
	m := New(Config{Interval: 1, MaxCheckpoints: 10}, kp, testBackend(t))
	if _, err := m.Create(1, crypto.Sum256([]byte("h")), crypto.Sum256([]byte("s")), 3, time.Unix(1700000000, 0)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	data, err := m.Export(1)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	m2 := New(Config{Interval: 1, MaxCheckpoints: 10}, nil, testBackend(t))
	imported, err := m2.Import(data)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if imported.BlockNumber != 1 || imported.TxCount != 3 {
		t.Fatalf("imported checkpoint = %+v, want BlockNumber=1 TxCount=3", imported)
	}
}
