// Package gossip implements the pub/sub topics on top
// of a peerhost.Host: batched transaction and content-id broadcast, and
// immediate block broadcast with a pull-based sync stream. Grounded on
// protocol/manager.go's flow-registration shape and
// protocol/flowcontext/transactions.go's batched-queue broadcast worker.
package gossip

// Topic strings, versioned.
const (
	TopicTransactions = "/coinjecture/tx/1.0.0"
	TopicBlocks       = "/coinjecture/blocks/1.0.0"
	TopicCIDs         = "/coinjecture/cids/1.0.0"
	TopicBlockSync    = "/coinjecture/blocksync/1.0.0"
)
