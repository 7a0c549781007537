package gossip

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/Quigles1337/COINjecture1337/logs"
	"github.com/Quigles1337/COINjecture1337/peerhost"
	"github.com/Quigles1337/COINjecture1337/peerscore"
)

// ErrCIDQueueFull is returned by CIDGossip.Broadcast when the outgoing
// queue is at capacity.
var ErrCIDQueueFull = errors.New("gossip: content-id broadcast queue is full")

// CIDMessage is the consumer-facing form of a content-id announcement,
// the content-id gossip topic.
type CIDMessage struct {
	CID         string
	Type        string
	BlockNumber uint64
	Timestamp   int64
	Publisher   string
	Size        uint64
	ProblemHash string
	Tags        []string
}

// CIDGossip is the content-id gossip sub-component: same
// batching model as TxGossip (14.140s tick, 50 per batch by default), with
// consumers registered as callbacks rather than a mempool-like store,
// since the payload itself is retrieved out-of-band.
type CIDGossip struct {
	host *peerhost.Host
	log  *logs.Logger

	batchMax int
	interval time.Duration

	queue chan CIDMessage

	mu        sync.RWMutex
	consumers []func(CIDMessage)

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCIDGossip constructs a CIDGossip and subscribes its incoming handler
// to host's router. Call Start to begin the outgoing batching worker.
func NewCIDGossip(queueCapacity, batchMax int, interval time.Duration, host *peerhost.Host, scores *peerscore.Table, backend *logs.Backend) *CIDGossip {
	g := &CIDGossip{
		host:     host,
		log:      backend.Logger(logs.SubsystemGossip),
		batchMax: batchMax,
		interval: interval,
		queue:    make(chan CIDMessage, queueCapacity),
		stopCh:   make(chan struct{}),
	}
	host.Router().Subscribe(TopicCIDs, func(senderID string, payload []byte) {
		g.handleIncoming(senderID, payload, scores)
	})
	return g
}

// Start begins the outgoing batching worker.
func (g *CIDGossip) Start() {
	g.wg.Add(1)
	go g.workerLoop()
}

// OnCID registers a consumer callback invoked for every content-id
// announcement received from the network (not ones this node publishes
// itself).
func (g *CIDGossip) OnCID(consumer func(CIDMessage)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.consumers = append(g.consumers, consumer)
}

// Broadcast queues msg for outgoing gossip, returning ErrCIDQueueFull if
// the bounded queue is at capacity.
func (g *CIDGossip) Broadcast(msg CIDMessage) error {
	select {
	case g.queue <- msg:
		return nil
	default:
		return ErrCIDQueueFull
	}
}

func (g *CIDGossip) workerLoop() {
	defer g.wg.Done()
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	batch := make([]CIDMessage, 0, g.batchMax)
	for {
		select {
		case msg := <-g.queue:
			batch = append(batch, msg)
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
				case msg := <-g.queue:
					batch = append(batch, msg)
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

func (g *CIDGossip) flush(batch []CIDMessage) {
	wire := make([]cidMessage, len(batch))
	for i, m := range batch {
		wire[i] = cidMessage{
			CID:         m.CID,
			Type:        m.Type,
			BlockNumber: m.BlockNumber,
			Timestamp:   m.Timestamp,
			Publisher:   m.Publisher,
			Metadata:    cidMetadata{Size: m.Size, ProblemHash: m.ProblemHash, Tags: m.Tags},
		}
	}
	payload, err := json.Marshal(wire)
	if err != nil {
		g.log.Errorf("marshaling cid batch: %v", err)
		return
	}
	if err := g.host.Publish(TopicCIDs, payload); err != nil {
		g.log.Warnf("publishing cid batch: %v", err)
	}
}

// handleIncoming decodes an incoming content-id batch and fans it out to
// registered consumers. A banned sender's batch is dropped outright; a
// quarantined sender's announcements are not forwarded to consumers, since
// quarantined peers' traffic is not gossiped onward.
func (g *CIDGossip) handleIncoming(senderID string, payload []byte, scores *peerscore.Table) {
	if scores.IsBanned(senderID) {
		return
	}
	var wire []cidMessage
	if err := json.Unmarshal(payload, &wire); err != nil {
		scores.Observe(senderID, peerscore.EventMalformed, time.Now())
		return
	}
	if scores.IsQuarantined(senderID) {
		return
	}
	g.mu.RLock()
	consumers := append([]func(CIDMessage){}, g.consumers...)
	g.mu.RUnlock()

	for _, m := range wire {
		msg := CIDMessage{
			CID: m.CID, Type: m.Type, BlockNumber: m.BlockNumber, Timestamp: m.Timestamp,
			Publisher: m.Publisher, Size: m.Metadata.Size, ProblemHash: m.Metadata.ProblemHash, Tags: m.Metadata.Tags,
		}
		for _, c := range consumers {
			c(msg)
		}
	}
	scores.Observe(senderID, peerscore.EventValid, time.Now())
}

// Close stops the outgoing batching worker after it drains the queue,
// flushing everything still queued and any partial batch.
func (g *CIDGossip) Close() error {
	g.stopOnce.Do(func() { close(g.stopCh) })
	g.wg.Wait()
	return nil
}
