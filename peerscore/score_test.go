package peerscore

import (
	"path/filepath"
	"testing"
	"time"

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

// TestPeerBanAfterTenInvalidMessages covers a peer accumulating ten invalid-message penalties.
func TestPeerBanAfterTenInvalidMessages(t *testing.T) {
	table := New(Config{QuarantineThreshold: 10, BanThreshold: 0}, testBackend(t))
	defer table.Close()

	now := time.Unix(1700000000, 0)
	last := table.Observe("peer-1", EventInvalid, now)
	for i := 1; i < 10; i++ {
		last = table.Observe("peer-1", EventInvalid, now)
	}
	if last.Score != 0 {
		t.Fatalf("score after 10 invalid messages = %d, want 0", last.Score)
	}
	if !last.Banned {
		t.Fatal("expected peer to be banned at score 0")
	}
	if !table.IsBanned("peer-1") {
		t.Fatal("IsBanned should report true for a banned peer")
	}
}

func TestQuarantineThreshold(t *testing.T) {
	table := New(Config{QuarantineThreshold: 10, BanThreshold: 0}, testBackend(t))
	defer table.Close()

	now := time.Unix(1700000000, 0)
	// Two invalid messages: 100 - 20 = 80, still above quarantine.
	rec := table.Observe("peer-1", EventInvalid, now)
	rec = table.Observe("peer-1", EventInvalid, now)
	if rec.Quarantined {
		t.Fatal("peer should not be quarantined at score 80")
	}

	// Nine invalid messages: 100 - 90 = 10, at the threshold (not below it).
	table2 := New(Config{QuarantineThreshold: 10, BanThreshold: 0}, testBackend(t))
	defer table2.Close()
	last := table2.Observe("peer-2", EventInvalid, now)
	for i := 1; i < 9; i++ {
		last = table2.Observe("peer-2", EventInvalid, now)
	}
	if last.Score != 10 {
		t.Fatalf("score = %d, want 10", last.Score)
	}
	if last.Quarantined {
		t.Fatal("score exactly at threshold should not be quarantined (quarantine is score < threshold)")
	}

	last = table2.Observe("peer-2", EventMalformed, now)
	if !last.Quarantined {
		t.Fatal("expected quarantine once score drops below threshold")
	}
}

func TestDecayRestoresScoreAndLiftsBan(t *testing.T) {
	table := New(Config{QuarantineThreshold: 10, BanThreshold: 0, DecayInterval: 0, StaleTimeout: 0}, testBackend(t))
	defer table.Close()

	now := time.Unix(1700000000, 0)
	rec := table.Observe("peer-1", EventInvalid, now)
	for i := 1; i < 10; i++ {
		rec = table.Observe("peer-1", EventInvalid, now)
	}
	if !rec.Banned {
		t.Fatal("expected peer to be banned")
	}

	for i := 0; i < 11; i++ {
		table.decayAndEvict(now)
	}
	got := table.Get("peer-1")
	if got.Banned {
		t.Fatalf("expected ban lifted after sufficient decay, score=%d", got.Score)
	}
}

func TestStalePeerEviction(t *testing.T) {
	table := New(Config{QuarantineThreshold: 10, BanThreshold: 0, StaleTimeout: 5 * time.Minute}, testBackend(t))
	defer table.Close()

	now := time.Unix(1700000000, 0)
	table.Observe("peer-1", EventValid, now)

	later := now.Add(6 * time.Minute)
	table.decayAndEvict(later)

	if table.Get("peer-1") != nil {
		t.Fatal("expected stale peer to be evicted from the table")
	}
}
