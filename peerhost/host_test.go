package peerhost

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/Quigles1337/COINjecture1337/logs"
	"github.com/Quigles1337/COINjecture1337/peerscore"
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

func newTestHost(t *testing.T) *Host {
	t.Helper()
	h, _ := newTestHostWithScores(t)
	return h
}

func newTestHostWithScores(t *testing.T) (*Host, *peerscore.Table) {
	t.Helper()
	id, err := LoadOrGenerateIdentity(filepath.Join(t.TempDir(), "validator.key"))
	if err != nil {
		t.Fatalf("LoadOrGenerateIdentity: %v", err)
	}
	backend := testBackend(t)
	scores := peerscore.New(peerscore.Config{}, backend)
	t.Cleanup(func() { scores.Close() })
	h := New(Config{ListenPort: 0, MaxPeers: 10}, id, NewRouter(), scores, backend)
	if err := h.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h, scores
}

func waitForPeerCount(t *testing.T, h *Host, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.PeerCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("PeerCount() never reached %d, stuck at %d", want, h.PeerCount())
}

func TestConnectBootstrapAndPublish(t *testing.T) {
	a := newTestHost(t)
	b := newTestHost(t)

	if err := a.ConnectBootstrap(addrsOf(t, b)); err != nil {
		t.Fatalf("ConnectBootstrap: %v", err)
	}

	waitForPeerCount(t, a, 1)
	waitForPeerCount(t, b, 1)

	received := make(chan string, 1)
	b.Router().Subscribe("/coinjecture/tx/1.0.0", func(senderID string, payload []byte) {
		received <- string(payload)
	})

	if err := a.Publish("/coinjecture/tx/1.0.0", []byte("hello")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-received:
		if msg != "hello" {
			t.Fatalf("received payload %q, want %q", msg, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestSelfMessageSuppression(t *testing.T) {
	a := newTestHost(t)
	b := newTestHost(t)
	if err := a.ConnectBootstrap(addrsOf(t, b)); err != nil {
		t.Fatalf("ConnectBootstrap: %v", err)
	}
	waitForPeerCount(t, a, 1)

	calls := make(chan struct{}, 1)
	a.Router().Subscribe(handshakeTopic, func(senderID string, payload []byte) {
		if senderID == a.ID() {
			calls <- struct{}{}
		}
	})

	// a's own handshake frame, if ever looped back, must never reach its
	// own handler.
	select {
	case <-calls:
		t.Fatal("received a self-originated message; self-message suppression failed")
	case <-time.After(200 * time.Millisecond):
	}
}

// TestBannedPeerIsDroppedAndIgnored covers the "banned peer's connection is
// dropped and its messages are ignored" requirement: once a bans b, a frame
// arriving from b must neither reach a's subscriber nor leave the
// connection registered.
func TestBannedPeerIsDroppedAndIgnored(t *testing.T) {
	a, scoresA := newTestHostWithScores(t)
	b := newTestHost(t)

	if err := a.ConnectBootstrap(addrsOf(t, b)); err != nil {
		t.Fatalf("ConnectBootstrap: %v", err)
	}
	waitForPeerCount(t, a, 1)
	waitForPeerCount(t, b, 1)

	received := make(chan string, 1)
	a.Router().Subscribe("/coinjecture/tx/1.0.0", func(senderID string, payload []byte) {
		received <- string(payload)
	})

	// Drive b's score from a's perspective below the default ban
	// threshold (0) with repeated malformed-message penalties.
	for i := 0; i < 10; i++ {
		scoresA.Observe(b.ID(), peerscore.EventMalformed, time.Now())
	}
	if !scoresA.IsBanned(b.ID()) {
		t.Fatal("expected b to be banned after repeated malformed-event penalties")
	}

	if err := b.Publish("/coinjecture/tx/1.0.0", []byte("hello")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-received:
		t.Fatalf("received %q from a banned peer; expected it to be dropped", msg)
	case <-time.After(300 * time.Millisecond):
	}

	waitForPeerCount(t, a, 0)
}

// addrsOf returns b's advertised multiaddresses for a to dial.
func addrsOf(t *testing.T, b *Host) []Multiaddr {
	t.Helper()
	addrs := b.Addrs()
	if len(addrs) == 0 {
		t.Fatal("expected at least one advertised multiaddress")
	}
	return addrs
}
