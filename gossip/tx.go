package gossip

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/Quigles1337/COINjecture1337/chain"
	"github.com/Quigles1337/COINjecture1337/logs"
	"github.com/Quigles1337/COINjecture1337/mempool"
	"github.com/Quigles1337/COINjecture1337/peerhost"
	"github.com/Quigles1337/COINjecture1337/peerscore"
	"github.com/Quigles1337/COINjecture1337/statestore"
)

// ErrQueueFull is returned by TxGossip.Broadcast when the outgoing queue
// is at capacity.
var ErrQueueFull = errors.New("gossip: transaction broadcast queue is full")

// TxGossip is the transaction gossip sub-component: a
// bounded outgoing queue drained by a single background worker into
// batches, plus an incoming handler that verifies, applies to mempool, and
// scores the sender. Grounded on
// protocol/flowcontext/transactions.go's OnTransactionAddedToMempool
// broadcast queue.
type TxGossip struct {
	host   *peerhost.Host
	pool   *mempool.Mempool
	store  *statestore.Store
	scores *peerscore.Table
	log    *logs.Logger

	batchMax int
	interval time.Duration

	queue chan *chain.Transaction

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewTxGossip constructs a TxGossip and subscribes its incoming handler to
// host's router. Call Start to begin the outgoing batching worker.
func NewTxGossip(queueCapacity, batchMax int, interval time.Duration, host *peerhost.Host, pool *mempool.Mempool, store *statestore.Store, scores *peerscore.Table, backend *logs.Backend) *TxGossip {
	g := &TxGossip{
		host:     host,
		pool:     pool,
		store:    store,
		scores:   scores,
		log:      backend.Logger(logs.SubsystemGossip),
		batchMax: batchMax,
		interval: interval,
		queue:    make(chan *chain.Transaction, queueCapacity),
		stopCh:   make(chan struct{}),
	}
	host.Router().Subscribe(TopicTransactions, g.handleIncoming)
	return g
}

// Start begins the outgoing batching worker.
func (g *TxGossip) Start() {
	g.wg.Add(1)
	go g.workerLoop()
}

// Broadcast queues tx for outgoing gossip, returning ErrQueueFull if the
// bounded queue is at capacity rather than blocking the caller.
func (g *TxGossip) Broadcast(tx *chain.Transaction) error {
	select {
	case g.queue <- tx:
		return nil
	default:
		return ErrQueueFull
	}
}

func (g *TxGossip) workerLoop() {
	defer g.wg.Done()
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	batch := make([]*chain.Transaction, 0, g.batchMax)
	for {
		select {
		case tx := <-g.queue:
			batch = append(batch, tx)
			if len(batch) >= g.batchMax {
				g.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				g.flush(batch)
				batch = batch[:0]
			}
		case <-g.stopCh:
			for {
				select {
				case tx := <-g.queue:
					batch = append(batch, tx)
					if len(batch) >= g.batchMax {
						g.flush(batch)
						batch = batch[:0]
					}
				default:
					if len(batch) > 0 {
						g.flush(batch)
					}
					return
				}
			}
		}
	}
}

func (g *TxGossip) flush(batch []*chain.Transaction) {
	wire := make([]txMessage, len(batch))
	for i, tx := range batch {
		wire[i] = txToWire(tx)
	}
	payload, err := json.Marshal(wire)
	if err != nil {
		g.log.Errorf("marshaling tx batch: %v", err)
		return
	}
	if err := g.host.Publish(TopicTransactions, payload); err != nil {
		g.log.Warnf("publishing tx batch: %v", err)
	}
}

// handleIncoming decodes an incoming transaction batch, verifies and
// cross-checks each transaction against state, admits valid ones to the
// mempool, and adjusts the sender's peer score accordingly. A banned
// sender's batch is dropped outright; a quarantined sender's transactions
// are validated and scored but not admitted, since quarantined peers'
// traffic is deprioritized rather than acted on.
func (g *TxGossip) handleIncoming(senderID string, payload []byte) {
	if g.scores.IsBanned(senderID) {
		return
	}
	quarantined := g.scores.IsQuarantined(senderID)

	var wire []txMessage
	if err := json.Unmarshal(payload, &wire); err != nil {
		g.scores.Observe(senderID, peerscore.EventMalformed, time.Now())
		return
	}

	for _, m := range wire {
		tx, err := txFromWire(m)
		if err != nil {
			g.scores.Observe(senderID, peerscore.EventMalformed, time.Now())
			continue
		}
		if err := tx.ValidateStructure(); err != nil {
			g.scores.Observe(senderID, peerscore.EventInvalid, time.Now())
			continue
		}
		if _, err := g.store.GetAccount(tx.From); err != nil && !errors.Is(err, statestore.ErrNotFound) {
			g.log.Errorf("checking sender account during tx gossip: %v", err)
			continue
		}
		if quarantined {
			continue
		}
		if err := g.pool.Add(tx); err != nil {
			if errors.Is(err, mempool.ErrInvalidSignature) {
				g.scores.Observe(senderID, peerscore.EventInvalid, time.Now())
			}
			continue
		}
		g.scores.Observe(senderID, peerscore.EventValid, time.Now())
	}
}

// Close stops the outgoing batching worker after it drains the queue,
// flushing everything still queued and any partial batch.
func (g *TxGossip) Close() error {
	g.stopOnce.Do(func() { close(g.stopCh) })
	g.wg.Wait()
	return nil
}
