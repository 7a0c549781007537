// Package blockbuilder assembles candidate blocks from mempool contents
// and re-validates received blocks before handing them to the state store,
// Grounded on the snapshot-then-walk shape of daglabs-btcd's
// domain/miningmanager block template assembly, adapted from UTXO selection
// to the account model's nonce/balance walk.
package blockbuilder

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/Quigles1337/COINjecture1337/chain"
	"github.com/Quigles1337/COINjecture1337/crypto"
	"github.com/Quigles1337/COINjecture1337/logs"
	"github.com/Quigles1337/COINjecture1337/mempool"
	"github.com/Quigles1337/COINjecture1337/merkle"
	"github.com/Quigles1337/COINjecture1337/statestore"
)

// Config is the block{...} configuration group of the node's configuration surface.
type Config struct {
	GasLimit      uint64
	MaxTxPerBlock int
}

// DefaultConfig returns the chain package's default gas limit and per-block transaction cap.
func DefaultConfig() Config {
	return Config{GasLimit: chain.DefaultBuildGasLimit, MaxTxPerBlock: chain.DefaultMaxTxPerBlock}
}

// Builder produces candidate blocks from a mempool against a state store's
// current account snapshot.
type Builder struct {
	cfg   Config
	store *statestore.Store
	pool  *mempool.Mempool
	log   *logs.Logger
}

// New constructs a Builder bound to store and pool.
func New(cfg Config, store *statestore.Store, pool *mempool.Mempool, backend *logs.Backend) *Builder {
	return &Builder{cfg: cfg, store: store, pool: pool, log: backend.Logger(logs.SubsystemBuilder)}
}

// snapshotAccount is a mutable in-memory projection of an account used while
// walking mempool candidates, kept separate from the durable accountRow so
// rejected candidates never touch the store.
type snapshotAccount struct {
	balance uint64
	nonce   uint64
}

// Build runs a five-step algorithm: snapshot, drain
// pop_best, walk candidates applying nonce/balance/gas-cap checks, stop on
// exhaustion or either cap, then fill the header and compute its hashes.
// The returned block has not been applied; the caller must still call
// Apply (or let the orchestrator do so) to make it durable.
func (b *Builder) Build(parentHash crypto.Hash, blockNumber uint64, validator chain.Address, timestamp int64) (*chain.Block, error) {
	candidates := b.pool.PopBest(-1)

	// Walk each sender's candidates in ascending nonce order: PopBest ranks an
	// older transaction below a newer one of equal fee-per-gas.
	slots := make(map[chain.Address][]int)
	for i, tx := range candidates {
		slots[tx.From] = append(slots[tx.From], i)
	}
	for _, idxs := range slots {
		txs := make([]*chain.Transaction, len(idxs))
		for k, i := range idxs {
			txs[k] = candidates[i]
		}
		sort.Slice(txs, func(a, c int) bool { return txs[a].Nonce < txs[c].Nonce })
		for k, i := range idxs {
			candidates[i] = txs[k]
		}
	}

	snapshot := make(map[chain.Address]*snapshotAccount)
	loadSnapshot := func(addr chain.Address) (*snapshotAccount, error) {
		if acc, ok := snapshot[addr]; ok {
			return acc, nil
		}
		stored, err := b.store.GetAccount(addr)
		if err != nil && !errors.Is(err, statestore.ErrNotFound) {
			return nil, errors.Wrap(err, "blockbuilder: loading account snapshot")
		}
		acc := &snapshotAccount{balance: stored.Balance, nonce: stored.Nonce}
		snapshot[addr] = acc
		return acc, nil
	}

	var (
		body    []*chain.Transaction
		gasUsed uint64
	)
	touched := make(map[chain.Address]*snapshotAccount)
	for _, tx := range candidates {
		if len(body) >= b.cfg.MaxTxPerBlock {
			break
		}
		sender, err := loadSnapshot(tx.From)
		if err != nil {
			return nil, err
		}
		if tx.Nonce != sender.nonce {
			b.log.Debugf("skipping %s: nonce %d != expected %d", tx.Hash(), tx.Nonce, sender.nonce)
			continue
		}
		total := tx.Amount + tx.Fee
		if total < tx.Amount || sender.balance < total {
			b.log.Debugf("skipping %s: insufficient projected balance", tx.Hash())
			continue
		}
		cost := tx.GasCost()
		if gasUsed+cost > b.cfg.GasLimit {
			continue
		}

		recipient, err := loadSnapshot(tx.To)
		if err != nil {
			return nil, err
		}
		sender.balance -= total
		sender.nonce++
		recipient.balance += tx.Amount
		touched[tx.From] = sender
		touched[tx.To] = recipient

		body = append(body, tx)
		gasUsed += cost

		if gasUsed >= b.cfg.GasLimit {
			break
		}
	}

	txHashes := make([]crypto.Hash, len(body))
	for i, tx := range body {
		txHashes[i] = tx.Hash()
	}
	txRoot := merkle.Root(txHashes)

	header := chain.BlockHeader{
		BlockNumber: blockNumber,
		ParentHash:  parentHash,
		TxRoot:      txRoot,
		Timestamp:   timestamp,
		Validator:   validator,
		GasLimit:    b.cfg.GasLimit,
		GasUsed:     gasUsed,
	}
	header.StateRoot = projectedStateRoot(touched)

	return &chain.Block{Header: header, Body: body}, nil
}

// projectedStateRoot computes the same account-leaf Merkle root the
// applier will compute once the block is actually applied, over every
// account touched by the included transactions, so build_block's provisional
// state_root matches apply_block's once the block is unmodified between
// the two calls.
func projectedStateRoot(snapshot map[chain.Address]*snapshotAccount) crypto.Hash {
	addrs := make([]chain.Address, 0, len(snapshot))
	for addr := range snapshot {
		addrs = append(addrs, addr)
	}
	for i := 1; i < len(addrs); i++ {
		for j := i; j > 0 && addrs[j].Less(addrs[j-1]); j-- {
			addrs[j], addrs[j-1] = addrs[j-1], addrs[j]
		}
	}
	hashes := make([]crypto.Hash, 0, len(addrs))
	for _, addr := range addrs {
		acc := snapshot[addr]
		buf := make([]byte, 0, 32+8+8)
		buf = append(buf, addr[:]...)
		buf = crypto.PutUint64LE(buf, acc.balance)
		buf = crypto.PutUint64LE(buf, acc.nonce)
		hashes = append(hashes, crypto.Sum256(buf))
	}
	return merkle.Root(hashes)
}

// Include removes every transaction of body from the mempool because it was
// selected into a successfully applied block; rejected candidates remain
// pooled: the builder only ever removes what it used.
func (b *Builder) Include(body []*chain.Transaction) {
	for _, tx := range body {
		b.pool.Remove(tx.Hash())
	}
}
