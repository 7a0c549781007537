package gossip

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/Quigles1337/COINjecture1337/chain"
	"github.com/Quigles1337/COINjecture1337/crypto"
	"github.com/Quigles1337/COINjecture1337/logs"
	"github.com/Quigles1337/COINjecture1337/mempool"
	"github.com/Quigles1337/COINjecture1337/peerhost"
	"github.com/Quigles1337/COINjecture1337/peerscore"
	"github.com/Quigles1337/COINjecture1337/statestore"
)

type harness struct {
	host   *peerhost.Host
	pool   *mempool.Mempool
	store  *statestore.Store
	scores *peerscore.Table
	backend *logs.Backend
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	backend, err := logs.NewBackend(filepath.Join(dir, "test.log"))
	if err != nil {
		t.Fatalf("logs.NewBackend: %v", err)
	}
	t.Cleanup(func() { backend.Close() })

	id, err := peerhost.LoadOrGenerateIdentity(filepath.Join(dir, "validator.key"))
	if err != nil {
		t.Fatalf("LoadOrGenerateIdentity: %v", err)
	}

	scores := peerscore.New(peerscore.Config{QuarantineThreshold: 10, BanThreshold: 0}, backend)
	t.Cleanup(func() { scores.Close() })

	host := peerhost.New(peerhost.Config{ListenPort: 0, MaxPeers: 10}, id, peerhost.NewRouter(), scores, backend)
	if err := host.Start(); err != nil {
		t.Fatalf("host.Start: %v", err)
	}
	t.Cleanup(func() { host.Close() })

	store, err := statestore.Open(filepath.Join(dir, "state.db"), filepath.Join(dir, "index"), backend)
	if err != nil {
		t.Fatalf("statestore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	pool := mempool.New(mempool.Config{MaxSize: 100}, backend)
	t.Cleanup(func() { pool.Close() })

	return &harness{host: host, pool: pool, store: store, scores: scores, backend: backend}
}

func connect(t *testing.T, a, b *harness) {
	t.Helper()
	if err := a.host.ConnectBootstrap(b.host.Addrs()); err != nil {
		t.Fatalf("ConnectBootstrap: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a.host.PeerCount() > 0 && b.host.PeerCount() > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("peers never connected")
}

func transfer(t *testing.T, from *crypto.KeyPair, to chain.Address, amount, fee, nonce uint64) *chain.Transaction {
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
		Amount:       amount,
		Fee:          fee,
		GasLimit:     chain.MinTransferGasLimit,
		GasPrice:     1,
		Nonce:        nonce,
	}
	tx.Sign(from)
	return tx
}

func addr(b byte) chain.Address {
	var a chain.Address
	a[0] = b
	return a
}

func TestTxGossipPropagatesToMempool(t *testing.T) {
	a := newHarness(t)
	b := newHarness(t)
	connect(t, a, b)

	txGossipA := NewTxGossip(1000, 100, 20*time.Millisecond, a.host, a.pool, a.store, a.scores, a.backend)
	txGossipA.Start()
	defer txGossipA.Close()
	txGossipB := NewTxGossip(1000, 100, 20*time.Millisecond, b.host, b.pool, b.store, b.scores, b.backend)
	txGossipB.Start()
	defer txGossipB.Close()

	kp, _ := crypto.GenerateKeyPair()
	sender, _ := chain.AddressFromPublicKey(kp.PublicKey)
	if err := a.store.CreateAccount(sender, 1000); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if err := b.store.CreateAccount(sender, 1000); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	tx := transfer(t, kp, addr(0xBB), 100, 10, 0)
	if err := txGossipA.Broadcast(tx); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b.pool.Contains(tx.Hash()) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("transaction never arrived in b's mempool via gossip")
}

type fakeApplier struct {
	applied []*chain.Block
}

func (f *fakeApplier) ApplyReceived(block *chain.Block, expectedHash crypto.Hash) (*statestore.ApplyResult, error) {
	if block.Header.Hash() != expectedHash {
		return nil, errors.New("hash mismatch")
	}
	f.applied = append(f.applied, block)
	return &statestore.ApplyResult{StateRoot: block.Header.StateRoot}, nil
}

func TestBlockGossipAppliesAndRepublishes(t *testing.T) {
	a := newHarness(t)
	b := newHarness(t)
	connect(t, a, b)

	applierA := &fakeApplier{}
	applierB := &fakeApplier{}
	bgA := NewBlockGossip(5*time.Second, a.host, applierA, a.store, a.scores, a.backend)
	_ = NewBlockGossip(5*time.Second, b.host, applierB, b.store, b.scores, b.backend)

	block := &chain.Block{Header: chain.BlockHeader{BlockNumber: 1, Validator: addr(0x01)}}

	if err := bgA.Publish(block); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(applierB.applied) > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("block never applied on b via gossip")
}

func TestCIDGossipPropagatesToConsumers(t *testing.T) {
	a := newHarness(t)
	b := newHarness(t)
	connect(t, a, b)

	cidGossipA := NewCIDGossip(1000, 50, 20*time.Millisecond, a.host, a.scores, a.backend)
	cidGossipA.Start()
	defer cidGossipA.Close()
	cidGossipB := NewCIDGossip(1000, 50, 20*time.Millisecond, b.host, b.scores, b.backend)
	cidGossipB.Start()
	defer cidGossipB.Close()

	received := make(chan CIDMessage, 1)
	cidGossipB.OnCID(func(m CIDMessage) { received <- m })

	msg := CIDMessage{CID: "bafy123", Type: "solution", BlockNumber: 5, Publisher: a.host.ID(), Size: 42}
	if err := cidGossipA.Broadcast(msg); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	select {
	case got := <-received:
		if got.CID != "bafy123" || got.Type != "solution" {
			t.Fatalf("received %+v, want CID=bafy123 Type=solution", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cid gossip to propagate")
	}
}

// quarantine pushes peerID's score, as tracked by scores, below the
// quarantine threshold but keeps it above the ban threshold.
func quarantine(scores *peerscore.Table, peerID string) {
	for i := 0; i < 9; i++ {
		scores.Observe(peerID, peerscore.EventInvalid, time.Now())
	}
	scores.Observe(peerID, peerscore.EventTimeout, time.Now())
}

// TestTxGossipQuarantinedSenderNotAdmitted covers the "quarantined peer's
// messages are not acted on" requirement for transaction gossip.
func TestTxGossipQuarantinedSenderNotAdmitted(t *testing.T) {
	a := newHarness(t)
	b := newHarness(t)
	connect(t, a, b)

	txGossipA := NewTxGossip(1000, 100, 20*time.Millisecond, a.host, a.pool, a.store, a.scores, a.backend)
	txGossipA.Start()
	defer txGossipA.Close()
	txGossipB := NewTxGossip(1000, 100, 20*time.Millisecond, b.host, b.pool, b.store, b.scores, b.backend)
	txGossipB.Start()
	defer txGossipB.Close()

	kp, _ := crypto.GenerateKeyPair()
	sender, _ := chain.AddressFromPublicKey(kp.PublicKey)
	if err := a.store.CreateAccount(sender, 1000); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if err := b.store.CreateAccount(sender, 1000); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	quarantine(b.scores, a.host.ID())
	if !b.scores.IsQuarantined(a.host.ID()) || b.scores.IsBanned(a.host.ID()) {
		t.Fatal("expected a to be quarantined but not banned, as seen by b")
	}

	tx := transfer(t, kp, addr(0xBB), 100, 10, 0)
	if err := txGossipA.Broadcast(tx); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	time.Sleep(300 * time.Millisecond)
	if b.pool.Contains(tx.Hash()) {
		t.Fatal("transaction from a quarantined sender was admitted to the mempool")
	}
}

// TestCIDGossipQuarantinedSenderNotForwarded covers the "quarantined
// peer's messages are not gossiped onward" requirement for content-id
// gossip: a quarantined sender's announcement must never reach a
// registered consumer.
func TestCIDGossipQuarantinedSenderNotForwarded(t *testing.T) {
	a := newHarness(t)
	b := newHarness(t)
	connect(t, a, b)

	cidGossipA := NewCIDGossip(1000, 50, 20*time.Millisecond, a.host, a.scores, a.backend)
	cidGossipA.Start()
	defer cidGossipA.Close()
	cidGossipB := NewCIDGossip(1000, 50, 20*time.Millisecond, b.host, b.scores, b.backend)
	cidGossipB.Start()
	defer cidGossipB.Close()

	quarantine(b.scores, a.host.ID())
	if !b.scores.IsQuarantined(a.host.ID()) {
		t.Fatal("expected a to be quarantined as seen by b")
	}

	received := make(chan CIDMessage, 1)
	cidGossipB.OnCID(func(m CIDMessage) { received <- m })

	msg := CIDMessage{CID: "bafy999", Type: "solution", BlockNumber: 5, Publisher: a.host.ID(), Size: 42}
	if err := cidGossipA.Broadcast(msg); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	select {
	case got := <-received:
		t.Fatalf("received %+v from a quarantined sender; expected it to be dropped", got)
	case <-time.After(300 * time.Millisecond):
	}
}

// TestBlockGossipQuarantinedSenderNotRepublished covers the "quarantined
// peer's block is applied locally but not relayed onward" requirement: b
// quarantines a and must still apply a's block, but must not forward it to
// c.
func TestBlockGossipQuarantinedSenderNotRepublished(t *testing.T) {
	a := newHarness(t)
	b := newHarness(t)
	c := newHarness(t)
	connect(t, a, b)
	connect(t, b, c)

	applierA := &fakeApplier{}
	applierB := &fakeApplier{}
	applierC := &fakeApplier{}
	bgA := NewBlockGossip(5*time.Second, a.host, applierA, a.store, a.scores, a.backend)
	_ = NewBlockGossip(5*time.Second, b.host, applierB, b.store, b.scores, b.backend)
	_ = NewBlockGossip(5*time.Second, c.host, applierC, c.store, c.scores, c.backend)

	quarantine(b.scores, a.host.ID())
	if !b.scores.IsQuarantined(a.host.ID()) {
		t.Fatal("expected a to be quarantined as seen by b")
	}

	block := &chain.Block{Header: chain.BlockHeader{BlockNumber: 1, Validator: addr(0x01)}}
	if err := bgA.Publish(block); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(applierB.applied) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(applierB.applied) == 0 {
		t.Fatal("expected b to apply the block from a quarantined sender locally")
	}

	time.Sleep(300 * time.Millisecond)
	if len(applierC.applied) > 0 {
		t.Fatal("expected b not to republish a quarantined sender's block to c")
	}
}
