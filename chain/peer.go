package chain

import "time"

// InitialPeerScore is the score a freshly observed peer starts at, per
// the peer-scoring table.
const InitialPeerScore = 100

// PeerRecord is the per-peer reputation bookkeeping kept by the scoring table.
type PeerRecord struct {
	PeerID       string
	Score        int32
	Quarantined  bool
	Banned       bool
	LastSeen     time.Time
	ValidCount   uint64
	InvalidCount uint64
}

// NewPeerRecord returns a freshly observed peer record at InitialPeerScore.
func NewPeerRecord(peerID string, now time.Time) *PeerRecord {
	return &PeerRecord{
		PeerID:   peerID,
		Score:    InitialPeerScore,
		LastSeen: now,
	}
}
