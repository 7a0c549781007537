// Package checkpoint manages periodic signed state snapshots that let a
// fresh node fast-sync instead of replaying the archive from genesis.
// Grounded on daglabs-btcd's blockdag/reachabilitydata pruning
// idiom (FIFO-bounded retention of historical markers) and the
// validator-signing pattern of domain/consensus block validation.
package checkpoint

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/Quigles1337/COINjecture1337/chain"
	"github.com/Quigles1337/COINjecture1337/crypto"
	"github.com/Quigles1337/COINjecture1337/logs"
)

// Config is the checkpoint{...} configuration group of the node's configuration surface.
type Config struct {
	Interval       uint64
	MaxCheckpoints int
}

// ErrNotFound is returned by Get/GetAtOrBefore when no matching checkpoint
// exists.
var ErrNotFound = errors.New("checkpoint: not found")

// Manager holds an in-memory, FIFO-bounded ledger of signed checkpoints.
// It is not itself durable: a restarted node rebuilds its checkpoint
// history from scratch (or imports one via Import), matching the
// framing of checkpoints as a sync aid rather than part of the canonical
// state.
type Manager struct {
	cfg    Config
	signer *crypto.KeyPair // nil when no validator key is configured
	log    *logs.Logger

	mu          sync.Mutex
	checkpoints []*chain.Checkpoint // kept sorted ascending by BlockNumber
}

// New constructs a Manager. signer may be nil, in which case checkpoints
// created by this manager are left unsigned and Verify will reject them,
// since unsigned checkpoints must never be trusted in production.
func New(cfg Config, signer *crypto.KeyPair, backend *logs.Backend) *Manager {
	return &Manager{cfg: cfg, signer: signer, log: backend.Logger(logs.SubsystemCheckpt)}
}

// MaybeCreate is called by the node after each block it produces and
// applies itself; blocks applied from gossip or block-sync are not passed
// to it. If blockNumber is a
// multiple of the configured interval it creates and signs (when a
// validator key is configured) a checkpoint and returns it; otherwise it
// returns nil, nil.
func (m *Manager) MaybeCreate(blockNumber uint64, blockHash, stateRoot crypto.Hash, txCount uint64, now time.Time) (*chain.Checkpoint, error) {
	if m.cfg.Interval == 0 || blockNumber%m.cfg.Interval != 0 {
		return nil, nil
	}
	return m.Create(blockNumber, blockHash, stateRoot, txCount, now)
}

// Create unconditionally builds, signs (if configured), and retains a
// checkpoint at the given height, evicting the oldest entry FIFO if the
// ledger is at capacity.
func (m *Manager) Create(blockNumber uint64, blockHash, stateRoot crypto.Hash, txCount uint64, now time.Time) (*chain.Checkpoint, error) {
	cp := &chain.Checkpoint{
		BlockNumber: blockNumber,
		BlockHash:   blockHash,
		StateRoot:   stateRoot,
		Timestamp:   now.Unix(),
		TxCount:     txCount,
	}
	if m.signer != nil {
		if err := cp.Sign(m.signer); err != nil {
			return nil, errors.Wrap(err, "checkpoint: signing new checkpoint")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints = append(m.checkpoints, cp)
	sort.Slice(m.checkpoints, func(i, j int) bool { return m.checkpoints[i].BlockNumber < m.checkpoints[j].BlockNumber })
	if m.cfg.MaxCheckpoints > 0 && len(m.checkpoints) > m.cfg.MaxCheckpoints {
		dropped := m.checkpoints[0]
		m.checkpoints = m.checkpoints[1:]
		m.log.Debugf("pruned checkpoint at height %d (FIFO, max_checkpoints=%d)", dropped.BlockNumber, m.cfg.MaxCheckpoints)
	}
	return cp, nil
}

// Get returns the checkpoint at exactly number, or ErrNotFound.
func (m *Manager) Get(number uint64) (*chain.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cp := range m.checkpoints {
		if cp.BlockNumber == number {
			return cp, nil
		}
	}
	return nil, ErrNotFound
}

// GetLatest returns the highest-numbered checkpoint, or ErrNotFound if the
// ledger is empty.
func (m *Manager) GetLatest() (*chain.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.checkpoints) == 0 {
		return nil, ErrNotFound
	}
	return m.checkpoints[len(m.checkpoints)-1], nil
}

// GetAtOrBefore returns the highest-numbered checkpoint whose BlockNumber
// is <= number, or ErrNotFound if none qualifies.
func (m *Manager) GetAtOrBefore(number uint64) (*chain.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *chain.Checkpoint
	for _, cp := range m.checkpoints {
		if cp.BlockNumber <= number {
			best = cp
		} else {
			break
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

// List returns every retained checkpoint, sorted ascending by height.
func (m *Manager) List() []*chain.Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*chain.Checkpoint, len(m.checkpoints))
	copy(out, m.checkpoints)
	return out
}

// Clear drops every retained checkpoint.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints = nil
}

// checkpointJSON mirrors chain.Checkpoint's fields for marshaling; a
// distinct type keeps the wire representation decoupled from the in-memory
// struct's layout.
type checkpointJSON struct {
	BlockNumber  uint64       `json:"block_number"`
	BlockHash    crypto.Hash  `json:"block_hash"`
	StateRoot    crypto.Hash  `json:"state_root"`
	Timestamp    int64        `json:"timestamp"`
	TxCount      uint64       `json:"tx_count"`
	ValidatorKey chain.Address `json:"validator_key"`
	ValidatorSig [crypto.SignatureSize]byte `json:"validator_sig"`
}

// Export serializes the checkpoint at number to JSON bytes, or returns
// ErrNotFound.
func (m *Manager) Export(number uint64) ([]byte, error) {
	cp, err := m.Get(number)
	if err != nil {
		return nil, err
	}
	return json.Marshal(checkpointJSON(*cp))
}

// Import parses data as an exported checkpoint, verifies it, and retains
// it (subject to the same FIFO capacity bound as Create).
func (m *Manager) Import(data []byte) (*chain.Checkpoint, error) {
	var raw checkpointJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "checkpoint: parsing imported checkpoint")
	}
	cp := chain.Checkpoint(raw)
	if !m.Verify(&cp) {
		return nil, errors.New("checkpoint: imported checkpoint failed verification")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.checkpoints {
		if existing.BlockNumber == cp.BlockNumber {
			return existing, nil
		}
	}
	m.checkpoints = append(m.checkpoints, &cp)
	sort.Slice(m.checkpoints, func(i, j int) bool { return m.checkpoints[i].BlockNumber < m.checkpoints[j].BlockNumber })
	if m.cfg.MaxCheckpoints > 0 && len(m.checkpoints) > m.cfg.MaxCheckpoints {
		m.checkpoints = m.checkpoints[1:]
	}
	return &cp, nil
}

// Verify reports whether cp is well-formed and, in production, properly
// signed: Verify rejects a zero block_number, zero timestamp, all-zero
// block hash, or an unsigned/invalid signature.
func (m *Manager) Verify(cp *chain.Checkpoint) bool {
	if cp.BlockNumber == 0 || cp.Timestamp == 0 || cp.BlockHash.IsZero() {
		return false
	}
	return cp.VerifySignature()
}

// SyncFrom returns the highest retained checkpoint at or before target and
// the block number a fast-syncing node should fetch next. If no checkpoint
// qualifies, it returns (nil, 0): the caller must replay from genesis.
func (m *Manager) SyncFrom(target uint64) (*chain.Checkpoint, uint64) {
	cp, err := m.GetAtOrBefore(target)
	if err != nil {
		return nil, 0
	}
	return cp, cp.BlockNumber + 1
}
