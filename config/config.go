// Package config defines the node's configuration surface as a
// single immutable struct assembled once at startup, grounded on the
// jessevdk/go-flags usage in cmd/addsubnetwork/config.go, cmd/txgen/config.go
// and mining/simulator/config.go. No component reads a package-global
// configuration; every constructor in this module takes its slice of this
// struct as a plain argument instead.
package config

import (
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

// MempoolConfig is the mempool{...} group of the configuration surface.
type MempoolConfig struct {
	MaxSize         uint32        `long:"mempool-max-size" default:"5000" description:"maximum pending transactions held in the mempool"`
	MaxTxAge        time.Duration `long:"mempool-max-tx-age" default:"1h" description:"maximum age before a pending transaction is pruned"`
	CleanupInterval time.Duration `long:"mempool-cleanup-interval" default:"1m" description:"interval between aging sweeps"`
	PriorityThreshold float64     `long:"mempool-priority-threshold" default:"0" description:"minimum priority score admitted into the mempool"`
}

// BlockConfig is the block{...} group of the configuration surface.
type BlockConfig struct {
	MaxTxPerBlock uint32 `long:"block-max-tx" default:"1000" description:"maximum transactions included per built block"`
	GasLimit      uint64 `long:"block-gas-limit" default:"30000000" description:"per-block gas cap enforced when building"`
}

// CheckpointConfig is the checkpoint{...} group of the configuration surface.
type CheckpointConfig struct {
	Interval       uint64 `long:"checkpoint-interval" default:"100" description:"block-number interval between checkpoints"`
	MaxCheckpoints uint32 `long:"checkpoint-max" default:"50" description:"maximum retained checkpoints before FIFO pruning"`
}

// PeerScoringConfig is the peer_scoring{...} group of the configuration surface.
type PeerScoringConfig struct {
	QuarantineThreshold int32         `long:"peer-quarantine-threshold" default:"10" description:"score below which a peer is quarantined"`
	BanThreshold         int32         `long:"peer-ban-threshold" default:"0" description:"score at or below which a peer is banned"`
	DecayInterval        time.Duration `long:"peer-decay-interval" default:"5m" description:"interval between score-decay sweeps"`
	StaleTimeout         time.Duration `long:"peer-stale-timeout" default:"5m" description:"inactivity duration after which a peer is evicted"`
}

// GossipConfig is the gossip{...} group of the configuration surface.
type GossipConfig struct {
	TxBatchInterval       time.Duration `long:"gossip-tx-batch-interval" default:"14.140s" description:"flush interval for the transaction broadcast queue"`
	TxBatchMax            int           `long:"gossip-tx-batch-max" default:"100" description:"maximum transactions per gossip batch"`
	CIDBatchInterval      time.Duration `long:"gossip-cid-batch-interval" default:"14.140s" description:"flush interval for the content-id broadcast queue"`
	CIDBatchMax           int           `long:"gossip-cid-batch-max" default:"50" description:"maximum content ids per gossip batch"`
	BlockPublishTimeout   time.Duration `long:"gossip-block-publish-timeout" default:"5s" description:"timeout for publishing a block to the gossip topic"`
	QueueCapacity         int           `long:"gossip-queue-capacity" default:"1000" description:"bounded capacity of the tx/cid broadcast queues"`
}

// StorageConfig is the storage{...} group of the configuration surface.
type StorageConfig struct {
	Path string `long:"storage-path" default:"./data/coinjecture.db" description:"path to the embedded SQLite state store file"`
}

// Config is the complete configuration surface the node honors.
type Config struct {
	ListenPort      int      `long:"listen-port" default:"9090" description:"TCP port the peer host listens on"`
	BootstrapPeers  []string `long:"bootstrap-peer" description:"multiaddress of a bootstrap peer; may be repeated"`
	MaxPeers        int      `long:"max-peers" default:"64" description:"maximum simultaneously connected peers"`
	ValidatorKeyPath string  `long:"validator-key-path" description:"path to a persisted Ed25519 validator key; generated on first start if absent"`
	LogPath          string  `long:"log-path" default:"./logs/coinjecture.log" description:"path to the rotating log file"`
	BlockInterval    time.Duration `long:"block-interval" default:"5s" description:"interval between locally produced blocks"`
	ProduceBlocks    bool    `long:"produce-blocks" description:"run the periodic block-production loop using this node's own validator identity"`

	Mempool     MempoolConfig     `group:"mempool"`
	Block       BlockConfig       `group:"block"`
	Checkpoint  CheckpointConfig  `group:"checkpoint"`
	PeerScoring PeerScoringConfig `group:"peer_scoring"`
	Gossip      GossipConfig      `group:"gossip"`
	Storage     StorageConfig     `group:"storage"`
}

// Parse parses args (typically os.Args[1:]) into a Config, applying
// defaults and validating the cross-field constraints block production imposes.
func Parse(args []string) (*Config, error) {
	cfg := &Config{}
	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the cross-field invariants: the build gas
// limit must not exceed the hard per-block cap, and max-tx-per-block must
// be positive.
func (c *Config) Validate() error {
	const hardGasCap = 50_000_000
	if c.Block.GasLimit > hardGasCap {
		return errors.Errorf("config: block.gas_limit %d exceeds hard cap %d", c.Block.GasLimit, hardGasCap)
	}
	if c.Block.MaxTxPerBlock == 0 {
		return errors.New("config: block.max_tx_per_block must be > 0")
	}
	if c.Checkpoint.Interval == 0 {
		return errors.New("config: checkpoint.interval must be > 0")
	}
	if c.PeerScoring.BanThreshold > c.PeerScoring.QuarantineThreshold {
		return errors.New("config: peer_scoring.ban_threshold must be <= quarantine_threshold")
	}
	return nil
}
