// Package node wires every core subsystem into one process and owns its
// boot/shutdown order: crypto identity, state store, mempool, block
// builder, checkpoint manager, peer host, and gossip, in that order, with
// shutdown running the reverse. Grounded on kaspad.go's kaspad wrapper
// struct (cfg + service handles + started/shutdown guards) and
// protocol/manager.go's NewManager/Start/Stop pair, generalized to a
// single context.Context cancellation cascading to every background
// goroutine this process owns.
package node

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/Quigles1337/COINjecture1337/blockbuilder"
	"github.com/Quigles1337/COINjecture1337/chain"
	"github.com/Quigles1337/COINjecture1337/checkpoint"
	"github.com/Quigles1337/COINjecture1337/config"
	"github.com/Quigles1337/COINjecture1337/crypto"
	"github.com/Quigles1337/COINjecture1337/gossip"
	"github.com/Quigles1337/COINjecture1337/logs"
	"github.com/Quigles1337/COINjecture1337/mempool"
	"github.com/Quigles1337/COINjecture1337/peerhost"
	"github.com/Quigles1337/COINjecture1337/peerscore"
	"github.com/Quigles1337/COINjecture1337/statestore"
)

// Node is a wrapper for every core service this process runs.
type Node struct {
	cfg     *config.Config
	backend *logs.Backend
	log     *logs.Logger

	identity *peerhost.Identity

	store       *statestore.Store
	pool        *mempool.Mempool
	builder     *blockbuilder.Builder
	checkpoints *checkpoint.Manager
	scores      *peerscore.Table

	host        *peerhost.Host
	txGossip    *gossip.TxGossip
	blockGossip *gossip.BlockGossip
	cidGossip   *gossip.CIDGossip

	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// New builds every subsystem in dependency order but starts nothing; call
// Start to begin accepting connections and (optionally) producing blocks.
func New(cfg *config.Config) (*Node, error) {
	backend, err := logs.NewBackend(cfg.LogPath)
	if err != nil {
		return nil, errors.Wrap(err, "node: opening log backend")
	}
	log := backend.Logger(logs.SubsystemNode)

	identity, err := peerhost.LoadOrGenerateIdentity(cfg.ValidatorKeyPath)
	if err != nil {
		backend.Close()
		return nil, errors.Wrap(err, "node: loading validator identity")
	}

	indexPath := filepath.Join(filepath.Dir(cfg.Storage.Path), "index")
	store, err := statestore.Open(cfg.Storage.Path, indexPath, backend)
	if err != nil {
		backend.Close()
		return nil, errors.Wrap(err, "node: opening state store")
	}

	pool := mempool.New(mempool.Config{
		MaxSize:           cfg.Mempool.MaxSize,
		MaxTxAge:          cfg.Mempool.MaxTxAge,
		CleanupInterval:   cfg.Mempool.CleanupInterval,
		PriorityThreshold: cfg.Mempool.PriorityThreshold,
	}, backend)

	builder := blockbuilder.New(blockbuilder.Config{
		GasLimit:      cfg.Block.GasLimit,
		MaxTxPerBlock: int(cfg.Block.MaxTxPerBlock),
	}, store, pool, backend)

	// A checkpoint signer requires a validator identity; an unsigned node
	// still retains checkpoints in memory, but Verify will reject them.
	var signer *crypto.KeyPair
	if cfg.ValidatorKeyPath != "" {
		signer = identity.KeyPair
	}
	checkpoints := checkpoint.New(checkpoint.Config{
		Interval:       cfg.Checkpoint.Interval,
		MaxCheckpoints: int(cfg.Checkpoint.MaxCheckpoints),
	}, signer, backend)

	scores := peerscore.New(peerscore.Config{
		QuarantineThreshold: cfg.PeerScoring.QuarantineThreshold,
		BanThreshold:        cfg.PeerScoring.BanThreshold,
		DecayInterval:       cfg.PeerScoring.DecayInterval,
		StaleTimeout:        cfg.PeerScoring.StaleTimeout,
	}, backend)

	router := peerhost.NewRouter()
	host := peerhost.New(peerhost.Config{
		ListenPort: uint16(cfg.ListenPort),
		MaxPeers:   cfg.MaxPeers,
	}, identity, router, scores, backend)

	txGossip := gossip.NewTxGossip(cfg.Gossip.QueueCapacity, cfg.Gossip.TxBatchMax, cfg.Gossip.TxBatchInterval, host, pool, store, scores, backend)
	blockGossip := gossip.NewBlockGossip(cfg.Gossip.BlockPublishTimeout, host, builder, store, scores, backend)
	cidGossip := gossip.NewCIDGossip(cfg.Gossip.QueueCapacity, cfg.Gossip.CIDBatchMax, cfg.Gossip.CIDBatchInterval, host, scores, backend)

	n := &Node{
		cfg:         cfg,
		backend:     backend,
		log:         log,
		identity:    identity,
		store:       store,
		pool:        pool,
		builder:     builder,
		checkpoints: checkpoints,
		scores:      scores,
		host:        host,
		txGossip:    txGossip,
		blockGossip: blockGossip,
		cidGossip:   cidGossip,
	}
	blockGossip.OnSyncResponse = n.handleSyncResponse
	return n, nil
}

// Start brings every subsystem online: the peer host listener, bootstrap
// dialing, the gossip batching workers, and — if configured — the local
// block-production loop. Safe to call only once.
func (n *Node) Start() error {
	var startErr error
	n.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		n.cancel = cancel

		if err := n.host.Start(); err != nil {
			startErr = errors.Wrap(err, "node: starting peer host")
			return
		}

		if len(n.cfg.BootstrapPeers) > 0 {
			addrs := make([]peerhost.Multiaddr, len(n.cfg.BootstrapPeers))
			for i, s := range n.cfg.BootstrapPeers {
				addrs[i] = peerhost.Multiaddr(s)
			}
			if err := n.host.ConnectBootstrap(addrs); err != nil {
				n.log.Warnf("connecting to bootstrap peers: %v", err)
			}
		}

		n.txGossip.Start()
		n.cidGossip.Start()

		if n.cfg.ProduceBlocks {
			n.wg.Add(1)
			go n.productionLoop(ctx)
		}

		n.log.Infof("node started, peer id %s, listening on %v", n.identity.PeerID, n.host.Addrs())
	})
	return startErr
}

// Stop cancels the production loop and tears down every subsystem in the
// reverse of its boot order. Safe to call only once; idempotent beyond
// that via sync.Once.
func (n *Node) Stop() error {
	n.stopOnce.Do(func() {
		if n.cancel != nil {
			n.cancel()
		}
		n.wg.Wait()

		if err := n.cidGossip.Close(); err != nil {
			n.log.Errorf("closing cid gossip: %v", err)
		}
		if err := n.txGossip.Close(); err != nil {
			n.log.Errorf("closing tx gossip: %v", err)
		}
		if err := n.host.Close(); err != nil {
			n.log.Errorf("closing peer host: %v", err)
		}
		if err := n.scores.Close(); err != nil {
			n.log.Errorf("closing peer score table: %v", err)
		}
		n.checkpoints.Clear()
		if err := n.pool.Close(); err != nil {
			n.log.Errorf("closing mempool: %v", err)
		}
		if err := n.store.Close(); err != nil {
			n.log.Errorf("closing state store: %v", err)
		}
		n.log.Infof("node stopped")
		n.backend.Close()
	})
	return nil
}

// productionLoop builds and applies one block per tick using this node's
// own validator identity. There is no leader election in this system: a
// permissioned deployment runs exactly one producer per chain.
func (n *Node) productionLoop(ctx context.Context) {
	defer n.wg.Done()
	ticker := time.NewTicker(n.cfg.BlockInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := n.produceOnce(); err != nil {
				n.log.Errorf("producing block: %v", err)
			}
		}
	}
}

func (n *Node) produceOnce() error {
	validator, err := chain.AddressFromPublicKey(n.identity.KeyPair.PublicKey)
	if err != nil {
		return errors.Wrap(err, "node: deriving validator address from identity")
	}

	var parentHash crypto.Hash
	blockNumber := uint64(1)
	latest, err := n.store.GetLatestBlock()
	switch {
	case err == nil:
		parentHash = latest.Header.Hash()
		blockNumber = latest.Header.BlockNumber + 1
	case errors.Is(err, statestore.ErrNotFound):
		// No blocks archived yet: build genesis with a zero parent hash.
	default:
		return errors.Wrap(err, "node: reading latest block")
	}

	block, err := n.builder.Build(parentHash, blockNumber, validator, time.Now().Unix())
	if err != nil {
		return errors.Wrap(err, "node: building block")
	}

	result, err := n.builder.Apply(block)
	if err != nil {
		// A locally produced block failing its own apply is a programming
		// bug, not a network fault: surface it loudly rather than retrying.
		return errors.Wrap(err, "node: applying locally produced block")
	}

	cp, err := n.checkpoints.MaybeCreate(block.Header.BlockNumber, block.Header.Hash(), result.StateRoot, uint64(len(block.Body)), time.Now())
	if err != nil {
		n.log.Errorf("creating checkpoint at block %d: %v", block.Header.BlockNumber, err)
	} else if cp != nil {
		n.log.Infof("checkpoint created at block %d", cp.BlockNumber)
	}

	if err := n.blockGossip.Publish(block); err != nil {
		n.log.Warnf("publishing produced block %d: %v", block.Header.BlockNumber, err)
	}
	return nil
}

// handleSyncResponse applies blocks received from a block-sync response in
// order, skipping any block that is not the next one after the current
// head and stopping at the first apply failure so a later sync round can
// retry it.
func (n *Node) handleSyncResponse(blocks []*chain.Block) {
	for _, b := range blocks {
		head, err := n.store.GetBlockCount()
		if err != nil {
			n.log.Errorf("reading block count during sync: %v", err)
			return
		}
		if b.Header.BlockNumber != head+1 {
			continue
		}
		if _, err := n.builder.ApplyReceived(b, b.Header.Hash()); err != nil {
			n.log.Warnf("applying synced block %d: %v", b.Header.BlockNumber, err)
			return
		}
	}
}

// RequestSync asks connected peers for the block range [from, to].
func (n *Node) RequestSync(from, to, maxBlocks uint64) error {
	return n.blockGossip.RequestSync(from, to, maxBlocks)
}

// The following read-only accessors back the local query hooks consumed
// by an external read-only "faucet" collaborator (see the configuration
// surface's storage group): none of them acquire the state store's
// exclusive writer lock, so they never block block production.

// GetBlockByNumber returns the archived block at number.
func (n *Node) GetBlockByNumber(number uint64) (*chain.Block, error) {
	return n.store.GetBlockByNumber(number)
}

// GetBlockByHash returns the archived block with the given hash.
func (n *Node) GetBlockByHash(hash crypto.Hash) (*chain.Block, error) {
	return n.store.GetBlockByHash(hash)
}

// GetLatestBlock returns the most recently archived block.
func (n *Node) GetLatestBlock() (*chain.Block, error) {
	return n.store.GetLatestBlock()
}

// GetBlockRange returns archived blocks in [start, end].
func (n *Node) GetBlockRange(start, end uint64) ([]*chain.Block, error) {
	return n.store.GetBlockRange(start, end)
}

// GetAccount returns the account at addr.
func (n *Node) GetAccount(addr chain.Address) (chain.Account, error) {
	return n.store.GetAccount(addr)
}

// ExportCheckpoint returns the JSON-encoded checkpoint at number.
func (n *Node) ExportCheckpoint(number uint64) ([]byte, error) {
	return n.checkpoints.Export(number)
}

// SubmitTransaction admits tx to the local mempool and queues it for
// broadcast, the entry point for a locally originated transaction.
func (n *Node) SubmitTransaction(tx *chain.Transaction) error {
	if err := n.pool.Add(tx); err != nil {
		return err
	}
	return n.txGossip.Broadcast(tx)
}

// PeerID returns the local node's network identity.
func (n *Node) PeerID() string {
	return n.identity.PeerID
}

// Addrs returns the multiaddresses this node's peer host is reachable on.
func (n *Node) Addrs() []peerhost.Multiaddr {
	return n.host.Addrs()
}
