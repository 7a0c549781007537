package gossip

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/Quigles1337/COINjecture1337/chain"
	"github.com/Quigles1337/COINjecture1337/crypto"
	"github.com/Quigles1337/COINjecture1337/logs"
	"github.com/Quigles1337/COINjecture1337/peerhost"
	"github.com/Quigles1337/COINjecture1337/peerscore"
	"github.com/Quigles1337/COINjecture1337/statestore"
)

// ErrPublishTimeout is returned when publishing a block does not complete
// within the configured block_publish_timeout.
var ErrPublishTimeout = errors.New("gossip: block publish timed out")

// maxSyncBlocks bounds a single block-sync response, independent of
// whatever max_blocks a requester asks for.
const maxSyncBlocks = 500

// blockApplier is the subset of blockbuilder.Builder's surface BlockGossip
// needs: applying a block received from the network. Declared as an
// interface here so this package does not import blockbuilder, avoiding
// an import cycle (gossip is a consumer of block
// application, not the other way around).
type blockApplier interface {
	ApplyReceived(block *chain.Block, expectedHash crypto.Hash) (*statestore.ApplyResult, error)
}

// BlockGossip is the block broadcast and pull-based sync sub-component of
// no batching, immediate republish of every valid block, and a
// request/response stream keyed by topic rather than connection.
type BlockGossip struct {
	host    *peerhost.Host
	applier blockApplier
	store   *statestore.Store
	scores  *peerscore.Table
	log     *logs.Logger

	publishTimeout time.Duration

	// OnSyncResponse, if set, is invoked with every batch of blocks
	// received via a block-sync response. The orchestrator wires this to
	// its sync logic.
	OnSyncResponse func(blocks []*chain.Block)
}

// NewBlockGossip constructs a BlockGossip and subscribes its incoming
// handlers to host's router.
func NewBlockGossip(publishTimeout time.Duration, host *peerhost.Host, applier blockApplier, store *statestore.Store, scores *peerscore.Table, backend *logs.Backend) *BlockGossip {
	g := &BlockGossip{
		host:           host,
		applier:        applier,
		store:          store,
		scores:         scores,
		log:            backend.Logger(logs.SubsystemGossip),
		publishTimeout: publishTimeout,
	}
	host.Router().Subscribe(TopicBlocks, g.handleIncoming)
	host.Router().Subscribe(TopicBlockSync, g.handleSync)
	return g
}

// Publish republishes block immediately, bounded by publish_timeout.
func (g *BlockGossip) Publish(block *chain.Block) error {
	payload, err := json.Marshal(blockToWire(block))
	if err != nil {
		return errors.Wrap(err, "gossip: marshaling block")
	}

	done := make(chan error, 1)
	go func() { done <- g.host.Publish(TopicBlocks, payload) }()

	select {
	case err := <-done:
		return err
	case <-time.After(g.publishTimeout):
		return ErrPublishTimeout
	}
}

// handleIncoming decodes an incoming block, applies it, and republishes it
// immediately. A banned sender's block is dropped outright. A quarantined
// sender's block is still applied locally once it independently validates
// (the apply path re-derives every invariant from the block itself,
// regardless of who sent it) but is not relayed onward, limiting how far a
// suspect source's traffic can spread.
func (g *BlockGossip) handleIncoming(senderID string, payload []byte) {
	if g.scores.IsBanned(senderID) {
		return
	}
	var wire blockMessage
	if err := json.Unmarshal(payload, &wire); err != nil {
		g.scores.Observe(senderID, peerscore.EventMalformed, time.Now())
		return
	}
	block, err := blockFromWire(wire)
	if err != nil {
		g.scores.Observe(senderID, peerscore.EventMalformed, time.Now())
		return
	}

	expectedHash := block.Header.Hash()
	if _, err := g.applier.ApplyReceived(block, expectedHash); err != nil {
		g.scores.Observe(senderID, peerscore.EventInvalid, time.Now())
		return
	}
	g.scores.Observe(senderID, peerscore.EventValid, time.Now())

	if g.scores.IsQuarantined(senderID) {
		return
	}
	if err := g.Publish(block); err != nil {
		g.log.Warnf("republishing received block %d: %v", block.Header.BlockNumber, err)
	}
}

// syncEnvelope wraps a block-sync request or response so both can share
// the single TopicBlockSync subscription; a real request/response
// correlation id is out of scope here (see OnSyncResponse).
type syncEnvelope struct {
	Kind     string             `json:"kind"` // "request" or "response"
	Request  *blockSyncRequest  `json:"request,omitempty"`
	Response *blockSyncResponse `json:"response,omitempty"`
}

// RequestSync publishes a block-sync request for the range [from, to],
// bounded by maxBlocks.
func (g *BlockGossip) RequestSync(from, to, maxBlocks uint64) error {
	payload, err := json.Marshal(syncEnvelope{Kind: "request", Request: &blockSyncRequest{FromBlock: from, ToBlock: to, MaxBlocks: maxBlocks}})
	if err != nil {
		return errors.Wrap(err, "gossip: marshaling sync request")
	}
	return g.host.Publish(TopicBlockSync, payload)
}

func (g *BlockGossip) handleSync(senderID string, payload []byte) {
	if g.scores.IsBanned(senderID) {
		return
	}
	var env syncEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		g.scores.Observe(senderID, peerscore.EventMalformed, time.Now())
		return
	}
	switch env.Kind {
	case "request":
		g.respondToSync(env.Request)
	case "response":
		if g.OnSyncResponse != nil && env.Response != nil {
			blocks := make([]*chain.Block, 0, len(env.Response.Blocks))
			for _, bm := range env.Response.Blocks {
				b, err := blockFromWire(bm)
				if err != nil {
					continue
				}
				blocks = append(blocks, b)
			}
			g.OnSyncResponse(blocks)
		}
	}
}

func (g *BlockGossip) respondToSync(req *blockSyncRequest) {
	if req == nil {
		return
	}
	max := req.MaxBlocks
	if max == 0 || max > maxSyncBlocks {
		max = maxSyncBlocks
	}
	to := req.ToBlock
	if to > req.FromBlock+max-1 {
		to = req.FromBlock + max - 1
	}
	blocks, err := g.store.GetBlockRange(req.FromBlock, to)
	if err != nil {
		g.log.Warnf("serving block-sync request [%d,%d]: %v", req.FromBlock, to, err)
		return
	}
	wire := make([]blockMessage, len(blocks))
	for i, b := range blocks {
		wire[i] = blockToWire(b)
	}
	payload, err := json.Marshal(syncEnvelope{Kind: "response", Response: &blockSyncResponse{Blocks: wire}})
	if err != nil {
		g.log.Errorf("marshaling block-sync response: %v", err)
		return
	}
	if err := g.host.Publish(TopicBlockSync, payload); err != nil {
		g.log.Warnf("publishing block-sync response: %v", err)
	}
}
