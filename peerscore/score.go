// Package peerscore maintains the per-peer reputation table:
// a signed score starting at 100, moved by message outcomes, gating
// quarantine/ban state and aged out by periodic decay. Grounded on
// daglabs-btcd's addrmgr peer bookkeeping (AddressManager.Good/Attempt/Connected
// state transitions) and connmgr's banning of repeatedly misbehaving
// peers, adapted from daglabs-btcd's boolean ban flag to a numeric,
// decaying score.
package peerscore

import (
	"sync"
	"time"

	"github.com/Quigles1337/COINjecture1337/chain"
	"github.com/Quigles1337/COINjecture1337/logs"
)

// Config is the peer_scoring{...} configuration group of the node's configuration surface.
type Config struct {
	QuarantineThreshold int32
	BanThreshold        int32
	DecayInterval       time.Duration
	StaleTimeout        time.Duration
}

// Score deltas applied for each observed event.
const (
	DeltaValid     int32 = 1
	DeltaInvalid   int32 = -10
	DeltaTimeout   int32 = -5
	DeltaMalformed int32 = -20
)

// Event identifies which kind of observation a score update reflects.
type Event int

const (
	EventValid Event = iota
	EventInvalid
	EventTimeout
	EventMalformed
)

func (e Event) delta() int32 {
	switch e {
	case EventValid:
		return DeltaValid
	case EventInvalid:
		return DeltaInvalid
	case EventTimeout:
		return DeltaTimeout
	case EventMalformed:
		return DeltaMalformed
	default:
		return 0
	}
}

// Table is the reputation table for every peer the node has observed.
type Table struct {
	cfg Config
	log *logs.Logger

	mu    sync.Mutex
	peers map[string]*chain.PeerRecord

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs a Table and starts its decay/stale-eviction maintenance
// loop, one of the node's background maintenance tasks.
func New(cfg Config, backend *logs.Backend) *Table {
	t := &Table{
		cfg:    cfg,
		log:    backend.Logger(logs.SubsystemScoring),
		peers:  make(map[string]*chain.PeerRecord),
		stopCh: make(chan struct{}),
	}
	if cfg.DecayInterval > 0 {
		t.wg.Add(1)
		go t.maintenanceLoop()
	}
	return t
}

func (t *Table) maintenanceLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.cfg.DecayInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.decayAndEvict(time.Now())
		case <-t.stopCh:
			return
		}
	}
}

// Observe records an Event from peerID and returns the peer's record after
// applying the score delta and any quarantine/ban transition.
func (t *Table) Observe(peerID string, event Event, now time.Time) *chain.PeerRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.peers[peerID]
	if !ok {
		rec = chain.NewPeerRecord(peerID, now)
		t.peers[peerID] = rec
	}

	rec.Score += event.delta()
	rec.LastSeen = now
	if event == EventValid {
		rec.ValidCount++
	} else {
		rec.InvalidCount++
	}
	t.applyThresholdsLocked(rec)
	return rec
}

func (t *Table) applyThresholdsLocked(rec *chain.PeerRecord) {
	rec.Banned = rec.Score <= t.cfg.BanThreshold
	rec.Quarantined = rec.Score < t.cfg.QuarantineThreshold
}

// Get returns the current record for peerID, or nil if it has never been
// observed.
func (t *Table) Get(peerID string) *chain.PeerRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.peers[peerID]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

// IsBanned reports whether peerID is currently banned, treating an
// unobserved peer as not banned.
func (t *Table) IsBanned(peerID string) bool {
	rec := t.Get(peerID)
	return rec != nil && rec.Banned
}

// IsQuarantined reports whether peerID is currently quarantined, treating
// an unobserved peer as not quarantined.
func (t *Table) IsQuarantined(peerID string) bool {
	rec := t.Get(peerID)
	return rec != nil && rec.Quarantined
}

// decayAndEvict runs the periodic maintenance sweep: scores below
// the initial value move +1 (capped at InitialPeerScore), thresholds are
// re-evaluated so a peer can transition out of quarantine/ban, and peers
// idle past stale_timeout are dropped from the table entirely.
func (t *Table) decayAndEvict(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, rec := range t.peers {
		if t.cfg.StaleTimeout > 0 && now.Sub(rec.LastSeen) > t.cfg.StaleTimeout {
			delete(t.peers, id)
			t.log.Debugf("evicted stale peer %s (idle since %s)", id, rec.LastSeen)
			continue
		}
		if rec.Score < chain.InitialPeerScore {
			rec.Score++
		}
		t.applyThresholdsLocked(rec)
	}
}

// Close stops the maintenance loop and waits for it to exit.
func (t *Table) Close() error {
	t.stopOnce.Do(func() { close(t.stopCh) })
	t.wg.Wait()
	return nil
}
