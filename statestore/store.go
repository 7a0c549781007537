// Package statestore is the durable, crash-safe home for the account map
// and block archive. It is backed by a single-file embedded
// SQLite database via github.com/jinzhu/gorm, with schema migrations
// applied by github.com/golang-migrate/migrate/v4, and a secondary
// github.com/syndtr/goleveldb hash index for O(1) lookups. The store is
// the only globally shared mutable resource in the module: one
// exclusive writer, many concurrent readers, enforced with a sync.RWMutex.
package statestore

import (
	"database/sql"
	"embed"
	"sort"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/sqlite"
	"github.com/pkg/errors"

	"github.com/Quigles1337/COINjecture1337/chain"
	"github.com/Quigles1337/COINjecture1337/crypto"
	"github.com/Quigles1337/COINjecture1337/logs"
	"github.com/Quigles1337/COINjecture1337/merkle"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Sentinel errors surfaced to callers, matching the typed-discriminator
// error taxonomy below.
var (
	ErrNotFound      = errors.New("statestore: not found")
	ErrAlreadyExists = errors.New("statestore: already exists")
	ErrDuplicateBlockNumber = errors.New("statestore: duplicate block number")
	ErrNonceMismatch = errors.New("statestore: nonce mismatch")
	ErrInsufficientBalance = errors.New("statestore: insufficient balance")
	ErrInvalidBlockSequence = errors.New("statestore: block number does not follow chain head")
	ErrParentHashMismatch   = errors.New("statestore: parent hash does not match chain head")
	ErrInvalidTimestamp     = errors.New("statestore: block timestamp is not monotonic or is too far in the future")
	ErrClosed        = errors.New("statestore: store is closed")
)

// maxFutureDrift bounds how far a block's timestamp may sit ahead of wall
// clock time before ApplyBlock rejects it.
const maxFutureDrift = 15 * time.Second

// Store is the durable account map + block archive.
type Store struct {
	mu     sync.RWMutex
	db     *gorm.DB
	sqlDB  *sql.DB
	index  *hashIndex
	log    *logs.Logger
	closed bool

	genesisHash crypto.Hash
}

// Open opens (creating if absent) the SQLite file at dbPath and the
// goleveldb index alongside it, applies pending migrations, and
// self-heals the hash index against the archive if it is behind.
func Open(dbPath, indexPath string, backend *logs.Backend) (*Store, error) {
	db, err := gorm.Open("sqlite3", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "statestore: opening sqlite database")
	}
	sqlDB := db.DB()

	if err := migrateUp(sqlDB); err != nil {
		db.Close()
		return nil, err
	}

	idx, err := openHashIndex(indexPath)
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:    db,
		sqlDB: sqlDB,
		index: idx,
		log:   backend.Logger(logs.SubsystemStore),
	}

	if err := s.ensureChainState(); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.rebuildIndexIfStale(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func migrateUp(sqlDB *sql.DB) error {
	srcDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return errors.Wrap(err, "statestore: loading embedded migrations")
	}
	dbDriver, err := sqlite3.WithInstance(sqlDB, &sqlite3.Config{})
	if err != nil {
		return errors.Wrap(err, "statestore: constructing migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", srcDriver, "sqlite3", dbDriver)
	if err != nil {
		return errors.Wrap(err, "statestore: constructing migrator")
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "statestore: applying migrations")
	}
	return nil
}

func (s *Store) ensureChainState() error {
	var row chainStateRow
	err := s.db.Table("chain_state").Where("id = ?", 1).First(&row).Error
	if err == nil {
		copy(s.genesisHash[:], row.GenesisHash)
		return nil
	}
	if !gorm.IsRecordNotFoundError(err) {
		return errors.Wrap(err, "statestore: reading chain_state")
	}
	now := time.Now().Unix()
	var zeroHash crypto.Hash
	row = chainStateRow{
		ID:               1,
		HeadBlockHash:    zeroHash[:],
		GenesisHash:      zeroHash[:],
		GenesisTimestamp: now,
		UpdatedAt:        now,
	}
	if err := s.db.Table("chain_state").Create(&row).Error; err != nil {
		return errors.Wrap(err, "statestore: initializing chain_state")
	}
	return nil
}

// rebuildIndexIfStale replays any archived blocks the goleveldb index has
// not yet seen, so killing the process between a gorm commit and an index
// write self-heals on next boot.
func (s *Store) rebuildIndexIfStale() error {
	through, err := s.index.rebuiltThrough()
	if err != nil {
		return err
	}
	var rows []blockRow
	if err := s.db.Table("blocks").Where("block_number > ?", through).Order("block_number asc").Find(&rows).Error; err != nil {
		return errors.Wrap(err, "statestore: scanning archive to rebuild hash index")
	}
	for _, row := range rows {
		if err := s.index.putBlockHash(row.BlockHash, row.BlockNumber); err != nil {
			return err
		}
		body, err := decodeBody(row.TxData)
		if err != nil {
			return errors.Wrapf(err, "statestore: decoding body of archived block %d", row.BlockNumber)
		}
		for _, tx := range body {
			h := tx.Hash()
			if err := s.index.putTxHash(h[:], row.BlockNumber); err != nil {
				return err
			}
		}
		if err := s.index.setRebuiltThrough(row.BlockNumber); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the store's database handles.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var firstErr error
	if err := s.db.Close(); err != nil {
		firstErr = err
	}
	if err := s.index.close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// GetAccount returns the account at addr, or ErrNotFound.
func (s *Store) GetAccount(addr chain.Address) (chain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getAccountLocked(addr)
}

func (s *Store) getAccountLocked(addr chain.Address) (chain.Account, error) {
	var row accountRow
	err := s.db.Table("accounts").Where("address = ?", addr[:]).First(&row).Error
	if gorm.IsRecordNotFoundError(err) {
		return chain.Account{}, ErrNotFound
	}
	if err != nil {
		return chain.Account{}, errors.Wrap(err, "statestore: reading account")
	}
	return chain.Account{Address: addr, Balance: row.Balance, Nonce: row.Nonce}, nil
}

// CreateAccount explicitly creates addr with initialBalance, or returns
// ErrAlreadyExists.
func (s *Store) CreateAccount(addr chain.Address, initialBalance uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	_, err := s.getAccountLocked(addr)
	if err == nil {
		return ErrAlreadyExists
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	row := accountRow{Address: addr[:], Balance: initialBalance, CreatedAt: time.Now().Unix()}
	if err := s.db.Table("accounts").Create(&row).Error; err != nil {
		return errors.Wrap(err, "statestore: creating account")
	}
	return nil
}

// GetBlockCount returns the number of archived blocks via the chain_state
// fast path rather than a table scan.
func (s *Store) GetBlockCount() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var row chainStateRow
	if err := s.db.Table("chain_state").Where("id = ?", 1).First(&row).Error; err != nil {
		return 0, errors.Wrap(err, "statestore: reading chain_state")
	}
	return row.TotalBlocks, nil
}

// GetBlockByNumber returns the archived block at number, or ErrNotFound.
func (s *Store) GetBlockByNumber(number uint64) (*chain.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var row blockRow
	err := s.db.Table("blocks").Where("block_number = ?", number).First(&row).Error
	if gorm.IsRecordNotFoundError(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "statestore: reading block by number")
	}
	return rowToBlock(row)
}

// GetBlockByHash returns the archived block with the given hash, using the
// goleveldb index, or ErrNotFound.
func (s *Store) GetBlockByHash(hash crypto.Hash) (*chain.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	number, ok, err := s.index.blockNumberForHash(hash[:])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	var row blockRow
	if err := s.db.Table("blocks").Where("block_number = ?", number).First(&row).Error; err != nil {
		return nil, errors.Wrap(err, "statestore: reading block by hash")
	}
	return rowToBlock(row)
}

// GetLatestBlock returns the most recently archived block, or ErrNotFound
// if the archive is empty.
func (s *Store) GetLatestBlock() (*chain.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var row blockRow
	err := s.db.Table("blocks").Order("block_number desc").Limit(1).First(&row).Error
	if gorm.IsRecordNotFoundError(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "statestore: reading latest block")
	}
	return rowToBlock(row)
}

// GetBlockRange returns archived blocks in [start, end], sorted ascending
// by block_number, read-only: it takes only the shared read lock, so it
// runs alongside other readers but waits for an in-progress writer.
func (s *Store) GetBlockRange(start, end uint64) ([]*chain.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rows []blockRow
	if err := s.db.Table("blocks").Where("block_number >= ? AND block_number <= ?", start, end).
		Order("block_number asc").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "statestore: reading block range")
	}
	blocks := make([]*chain.Block, 0, len(rows))
	for _, row := range rows {
		b, err := rowToBlock(row)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

func rowToBlock(row blockRow) (*chain.Block, error) {
	body, err := decodeBody(row.TxData)
	if err != nil {
		return nil, errors.Wrap(err, "statestore: decoding archived block body")
	}
	h := chain.BlockHeader{BlockNumber: row.BlockNumber, Timestamp: row.Timestamp,
		Difficulty: row.Difficulty, Nonce: row.Nonce, GasLimit: row.GasLimit, GasUsed: row.GasUsed}
	copy(h.ParentHash[:], row.ParentHash)
	copy(h.StateRoot[:], row.StateRoot)
	copy(h.TxRoot[:], row.TxRoot)
	copy(h.Validator[:], row.Validator)
	copy(h.ExtraData[:], row.ExtraData)
	return &chain.Block{Header: h, Body: body}, nil
}

// ApplyResult carries the post-apply state root returned by ApplyBlock.
type ApplyResult struct {
	StateRoot crypto.Hash
}

// ApplyBlock applies block's body to the account map and archives it,
// atomically: all or none of the body's transactions mutate accounts. On
// any per-tx failure the state is left untouched and the block is not
// archived. This is the sole write path that mutates both accounts and the
// archive, guaranteeing the ownership/atomicity invariants of a block apply.
func (s *Store) ApplyBlock(block *chain.Block) (*ApplyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	tx := s.db.Begin()
	if tx.Error != nil {
		return nil, errors.Wrap(tx.Error, "statestore: beginning transaction")
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if err := s.checkBlockSequenceTx(tx, block); err != nil {
		return nil, err
	}

	touched := make(map[chain.Address]*accountRow)
	order := make([]chain.Address, 0, len(block.Body)*2)

	loadAccount := func(addr chain.Address) (*accountRow, error) {
		if row, ok := touched[addr]; ok {
			return row, nil
		}
		var row accountRow
		err := tx.Table("accounts").Where("address = ?", addr[:]).First(&row).Error
		if gorm.IsRecordNotFoundError(err) {
			row = accountRow{Address: append([]byte{}, addr[:]...), CreatedAt: time.Now().Unix()}
		} else if err != nil {
			return nil, errors.Wrap(err, "statestore: loading account during apply")
		}
		touched[addr] = &row
		order = append(order, addr)
		return &row, nil
	}

	now := time.Now().Unix()
	for i, txn := range block.Body {
		sender, err := loadAccount(txn.From)
		if err != nil {
			return nil, err
		}
		if sender.Nonce != txn.Nonce {
			return nil, errors.Wrapf(ErrNonceMismatch, "tx %d: sender nonce %d != tx nonce %d", i, sender.Nonce, txn.Nonce)
		}
		total := txn.Amount + txn.Fee
		if sender.Balance < total {
			return nil, errors.Wrapf(ErrInsufficientBalance, "tx %d: balance %d < amount+fee %d", i, sender.Balance, total)
		}
		recipient, err := loadAccount(txn.To)
		if err != nil {
			return nil, err
		}

		sender.Balance -= total
		sender.Nonce++
		recipient.Balance += txn.Amount

		if err := tx.Table("transactions").Create(&transactionRow{
			TxHash:      txHashBytes(txn),
			BlockNumber: block.Header.BlockNumber,
			FromAddress: txn.From[:],
			ToAddress:   txn.To[:],
			Amount:      txn.Amount,
			Fee:         txn.Fee,
			Nonce:       txn.Nonce,
			GasUsed:     txn.GasCost(),
			Timestamp:   now,
		}).Error; err != nil {
			return nil, errors.Wrapf(err, "statestore: recording tx %d", i)
		}
	}

	for _, addr := range order {
		row := touched[addr]
		if err := tx.Table("accounts").Save(row).Error; err != nil {
			return nil, errors.Wrap(err, "statestore: saving account during apply")
		}
	}

	stateRoot := computeStateRoot(touched, order, func(addr chain.Address) (chain.Account, error) {
		if row, ok := touched[addr]; ok {
			return chain.Account{Address: addr, Balance: row.Balance, Nonce: row.Nonce}, nil
		}
		return s.getAccountLocked(addr)
	})

	if err := s.archiveBlockTx(tx, block, stateRoot, now); err != nil {
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, errors.Wrap(err, "statestore: committing block apply")
	}
	committed = true

	blockHash := block.Header.Hash()
	if err := s.index.putBlockHash(blockHash[:], block.Header.BlockNumber); err != nil {
		return nil, err
	}
	for _, txn := range block.Body {
		h := txn.Hash()
		if err := s.index.putTxHash(h[:], block.Header.BlockNumber); err != nil {
			return nil, err
		}
	}
	if err := s.index.setRebuiltThrough(block.Header.BlockNumber); err != nil {
		return nil, err
	}

	return &ApplyResult{StateRoot: stateRoot}, nil
}

func txHashBytes(tx *chain.Transaction) []byte {
	h := tx.Hash()
	return h[:]
}

// computeStateRoot computes the Merkle root over SHA-256(address ‖ balance
// ‖ nonce) for every account touched by the block, in ascending address
// order.
func computeStateRoot(touched map[chain.Address]*accountRow, order []chain.Address, lookup func(chain.Address) (chain.Account, error)) crypto.Hash {
	sorted := make([]chain.Address, len(order))
	copy(sorted, order)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	hashes := make([]crypto.Hash, 0, len(sorted))
	for _, addr := range sorted {
		acc, err := lookup(addr)
		if err != nil {
			continue
		}
		buf := make([]byte, 0, 32+8+8)
		buf = append(buf, addr[:]...)
		buf = crypto.PutUint64LE(buf, acc.Balance)
		buf = crypto.PutUint64LE(buf, acc.Nonce)
		hashes = append(hashes, crypto.Sum256(buf))
	}
	return merkle.Root(hashes)
}

// checkBlockSequenceTx enforces the chain's linking invariants against the
// current head, read inside the same transaction as the rest of the apply
// so the check and the archive write are atomic: block_number must be
// exactly head+1 (or 1 for a genesis block), parent_hash must equal the
// head's block hash (or the zero hash for genesis), and timestamp must be
// no more than maxFutureDrift ahead of wall-clock time; for every
// non-genesis block, timestamp must also strictly exceed the head's.
func (s *Store) checkBlockSequenceTx(tx *gorm.DB, block *chain.Block) error {
	var head blockRow
	err := tx.Table("blocks").Order("block_number desc").Limit(1).First(&head).Error
	hasHead := true
	if gorm.IsRecordNotFoundError(err) {
		hasHead = false
	} else if err != nil {
		return errors.Wrap(err, "statestore: reading chain head for sequence check")
	}

	var parentTimestamp int64
	if hasHead {
		if block.Header.BlockNumber != head.BlockNumber+1 {
			return errors.Wrapf(ErrInvalidBlockSequence, "block %d does not follow head %d", block.Header.BlockNumber, head.BlockNumber)
		}
		var headHash crypto.Hash
		copy(headHash[:], head.BlockHash)
		if block.Header.ParentHash != headHash {
			return errors.Wrapf(ErrParentHashMismatch, "block %d parent hash %s does not match head hash %s", block.Header.BlockNumber, block.Header.ParentHash, headHash)
		}
		parentTimestamp = head.Timestamp
	} else {
		if block.Header.BlockNumber != 1 {
			return errors.Wrapf(ErrInvalidBlockSequence, "genesis block must have block number 1, got %d", block.Header.BlockNumber)
		}
		var zero crypto.Hash
		if block.Header.ParentHash != zero {
			return errors.Wrapf(ErrParentHashMismatch, "genesis block must have a zero parent hash, got %s", block.Header.ParentHash)
		}
	}

	if hasHead && block.Header.Timestamp <= parentTimestamp {
		return errors.Wrapf(ErrInvalidTimestamp, "block %d timestamp %d does not exceed parent timestamp %d", block.Header.BlockNumber, block.Header.Timestamp, parentTimestamp)
	}
	maxAllowed := time.Now().Add(maxFutureDrift).Unix()
	if block.Header.Timestamp > maxAllowed {
		return errors.Wrapf(ErrInvalidTimestamp, "block %d timestamp %d is more than %s ahead of wall clock", block.Header.BlockNumber, block.Header.Timestamp, maxFutureDrift)
	}
	return nil
}

// archiveBlockTx records block's header and body into the blocks table and
// updates chain_state/validators transactionally, rejecting duplicate
// block numbers. Must run inside the same *gorm.DB transaction as the
// account mutations it accompanies.
func (s *Store) archiveBlockTx(tx *gorm.DB, block *chain.Block, stateRoot crypto.Hash, now int64) error {
	var existing blockRow
	err := tx.Table("blocks").Where("block_number = ?", block.Header.BlockNumber).First(&existing).Error
	if err == nil {
		return ErrDuplicateBlockNumber
	}
	if !gorm.IsRecordNotFoundError(err) {
		return errors.Wrap(err, "statestore: checking for duplicate block number")
	}

	row := blockRow{
		BlockNumber: block.Header.BlockNumber,
		BlockHash:   blockHashBytes(block),
		ParentHash:  block.Header.ParentHash[:],
		StateRoot:   stateRoot[:],
		TxRoot:      block.Header.TxRoot[:],
		Timestamp:   block.Header.Timestamp,
		Validator:   block.Header.Validator[:],
		Difficulty:  block.Header.Difficulty,
		Nonce:       block.Header.Nonce,
		GasLimit:    block.Header.GasLimit,
		GasUsed:     block.Header.GasUsed,
		ExtraData:   block.Header.ExtraData[:],
		TxCount:     uint64(len(block.Body)),
		TxData:      encodeBody(block.Body),
		CreatedAt:   now,
	}
	if err := tx.Table("blocks").Create(&row).Error; err != nil {
		return errors.Wrap(err, "statestore: archiving block")
	}

	var cs chainStateRow
	if err := tx.Table("chain_state").Where("id = ?", 1).First(&cs).Error; err != nil {
		return errors.Wrap(err, "statestore: reading chain_state for update")
	}
	cs.HeadBlockNumber = block.Header.BlockNumber
	cs.HeadBlockHash = row.BlockHash
	cs.TotalBlocks++
	cs.TotalTransactions += uint64(len(block.Body))
	cs.UpdatedAt = now
	if cs.TotalBlocks == 1 {
		cs.GenesisHash = row.BlockHash
		cs.GenesisTimestamp = block.Header.Timestamp
	} else if cs.TotalBlocks > 1 {
		cs.BlockTimeSeconds = block.Header.Timestamp - existingParentTimestamp(tx, block.Header.BlockNumber)
	}
	if err := tx.Table("chain_state").Save(&cs).Error; err != nil {
		return errors.Wrap(err, "statestore: updating chain_state")
	}

	return s.upsertValidatorTx(tx, block, now)
}

func existingParentTimestamp(tx *gorm.DB, blockNumber uint64) int64 {
	if blockNumber == 0 {
		return 0
	}
	var parent blockRow
	if err := tx.Table("blocks").Where("block_number = ?", blockNumber-1).First(&parent).Error; err != nil {
		return 0
	}
	return parent.Timestamp
}

func (s *Store) upsertValidatorTx(tx *gorm.DB, block *chain.Block, now int64) error {
	var v validatorRow
	err := tx.Table("validators").Where("address = ?", block.Header.Validator[:]).First(&v).Error
	if gorm.IsRecordNotFoundError(err) {
		v = validatorRow{
			Address:      append([]byte{}, block.Header.Validator[:]...),
			Active:       true,
			RegisteredAt: now,
		}
	} else if err != nil {
		return errors.Wrap(err, "statestore: reading validator row")
	}
	v.BlocksProduced++
	v.LastBlockNumber = block.Header.BlockNumber
	v.LastBlockTimestamp = block.Header.Timestamp
	v.UpdatedAt = now
	if gorm.IsRecordNotFoundError(err) {
		return tx.Table("validators").Create(&v).Error
	}
	return tx.Table("validators").Save(&v).Error
}

func blockHashBytes(block *chain.Block) []byte {
	h := block.Header.Hash()
	return h[:]
}
