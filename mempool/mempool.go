// Package mempool is the bounded, deduplicated, priority-ordered pool of
// pending transactions. Grounded on the Config/Policy shape
// of domain/mempool/mempool.go and the simpler transactions_pool split of
// domain/miningmanager/mempool/transactions_pool.go — since the account
// model has no UTXO orphans, there is a single pool rather than a
// primary/orphan split.
package mempool

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/Quigles1337/COINjecture1337/chain"
	"github.com/Quigles1337/COINjecture1337/crypto"
	"github.com/Quigles1337/COINjecture1337/logs"
)

// Sentinel errors returned by Add, matching the add() result contract of
// admission and eviction rules below.
var (
	ErrDuplicate        = errors.New("mempool: duplicate transaction")
	ErrBelowThreshold   = errors.New("mempool: priority below admission threshold")
	ErrFull             = errors.New("mempool: pool is full")
	ErrInvalidSignature = errors.New("mempool: invalid signature")
)

// Config is the mempool{...} configuration group of the node's configuration surface.
type Config struct {
	MaxSize           uint32
	MaxTxAge          time.Duration
	CleanupInterval   time.Duration
	PriorityThreshold float64
}

type entry struct {
	tx      *chain.Transaction
	hash    crypto.Hash
	addedAt time.Time
}

// priority is monotonic in fee-per-gas and inverse in age, matching the
// "contract, not formula" — any re-ranking-preserving formula is
// acceptable as long as it holds those two monotonicity properties.
func priorityOf(tx *chain.Transaction, now, addedAt time.Time) float64 {
	if tx.GasLimit == 0 {
		return 0
	}
	feePerGas := float64(tx.Fee) / float64(tx.GasLimit)
	ageMinutes := now.Sub(addedAt).Minutes()
	if ageMinutes < 0 {
		ageMinutes = 0
	}
	return feePerGas / (1 + ageMinutes)
}

// Mempool is the bounded pending-transaction pool.
type Mempool struct {
	cfg Config
	log *logs.Logger

	mu       sync.Mutex
	byHash   map[crypto.Hash]*entry
	bySender map[chain.Address]map[uint64]*entry // sender -> nonce -> entry

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs a Mempool and starts its cleanup_interval janitor
// goroutine (the "mempool janitor" background task).
func New(cfg Config, backend *logs.Backend) *Mempool {
	m := &Mempool{
		cfg:      cfg,
		log:      backend.Logger(logs.SubsystemMempool),
		byHash:   make(map[crypto.Hash]*entry),
		bySender: make(map[chain.Address]map[uint64]*entry),
		stopCh:   make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		m.wg.Add(1)
		go m.janitorLoop()
	}
	return m
}

func (m *Mempool) janitorLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweepExpired()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Mempool) sweepExpired() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for hash, e := range m.byHash {
		if now.Sub(e.addedAt) > m.cfg.MaxTxAge {
			m.removeLocked(hash)
		}
	}
}

// Add validates tx's signature and admits it, enforcing deduplication,
// the priority threshold, and bounded size with lowest-priority eviction,
// per the admission policy.
func (m *Mempool) Add(tx *chain.Transaction) error {
	if !tx.VerifySignature() {
		return ErrInvalidSignature
	}
	hash := tx.Hash()
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byHash[hash]; ok {
		return ErrDuplicate
	}

	prio := priorityOf(tx, now, now)
	if prio < m.cfg.PriorityThreshold {
		return ErrBelowThreshold
	}

	if m.cfg.MaxSize > 0 && uint32(len(m.byHash)) >= m.cfg.MaxSize {
		lowestHash, lowestPrio, ok := m.lowestPriorityLocked(now)
		if !ok || prio <= lowestPrio {
			return ErrFull
		}
		m.removeLocked(lowestHash)
		m.log.Debugf("evicted %s to admit higher-priority %s", lowestHash, hash)
	}

	m.insertLocked(tx, hash, now)
	return nil
}

func (m *Mempool) insertLocked(tx *chain.Transaction, hash crypto.Hash, now time.Time) {
	e := &entry{tx: tx, hash: hash, addedAt: now}
	m.byHash[hash] = e
	if m.bySender[tx.From] == nil {
		m.bySender[tx.From] = make(map[uint64]*entry)
	}
	m.bySender[tx.From][tx.Nonce] = e
}

func (m *Mempool) removeLocked(hash crypto.Hash) {
	e, ok := m.byHash[hash]
	if !ok {
		return
	}
	delete(m.byHash, hash)
	if bySender, ok := m.bySender[e.tx.From]; ok {
		delete(bySender, e.tx.Nonce)
		if len(bySender) == 0 {
			delete(m.bySender, e.tx.From)
		}
	}
}

func (m *Mempool) lowestPriorityLocked(now time.Time) (crypto.Hash, float64, bool) {
	var (
		lowestHash crypto.Hash
		lowestPrio float64
		found      bool
	)
	for hash, e := range m.byHash {
		p := priorityOf(e.tx, now, e.addedAt)
		if !found || p < lowestPrio {
			lowestHash, lowestPrio, found = hash, p, true
		}
	}
	return lowestHash, lowestPrio, found
}

// Remove drops hash from the pool, a no-op if it is absent. The builder
// calls this only for transactions it actually includes in a block;
// transactions it rejects (bad nonce, insufficient balance, gas overflow)
// stay in the pool.
func (m *Mempool) Remove(hash crypto.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(hash)
}

// Contains reports whether hash is currently pending.
func (m *Mempool) Contains(hash crypto.Hash) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byHash[hash]
	return ok
}

// Size returns the number of pending transactions.
func (m *Mempool) Size() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint32(len(m.byHash))
}

// PopBest returns up to n pending transactions ordered by descending
// priority, with ties broken by ascending (sender, nonce) then ascending
// tx.hash. It does not remove anything from the pool — the
// caller (the block builder) removes only the transactions it actually
// includes, via Remove.
func (m *Mempool) PopBest(n int) []*chain.Transaction {
	now := time.Now()
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.byHash))
	for _, e := range m.byHash {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		pi := priorityOf(entries[i].tx, now, entries[i].addedAt)
		pj := priorityOf(entries[j].tx, now, entries[j].addedAt)
		if pi != pj {
			return pi > pj
		}
		if entries[i].tx.From != entries[j].tx.From {
			return entries[i].tx.From.Less(entries[j].tx.From)
		}
		if entries[i].tx.Nonce != entries[j].tx.Nonce {
			return entries[i].tx.Nonce < entries[j].tx.Nonce
		}
		return lessHash(entries[i].hash, entries[j].hash)
	})

	if n > len(entries) || n < 0 {
		n = len(entries)
	}
	out := make([]*chain.Transaction, n)
	for i := 0; i < n; i++ {
		out[i] = entries[i].tx
	}
	return out
}

func lessHash(a, b crypto.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// PendingNonce returns the highest pending nonce queued for sender, if
// any.
func (m *Mempool) PendingNonce(sender chain.Address) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bySender, ok := m.bySender[sender]
	if !ok || len(bySender) == 0 {
		return 0, false
	}
	var max uint64
	first := true
	for nonce := range bySender {
		if first || nonce > max {
			max, first = nonce, false
		}
	}
	return max, true
}

// Close stops the janitor goroutine and waits for it to exit.
func (m *Mempool) Close() error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
	return nil
}
