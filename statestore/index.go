package statestore

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
)

// hashIndex is a secondary goleveldb-backed index giving O(1) lookups from
// tx_hash or block_hash to block_number, grounded on daglabs-btcd's
// database/ffldb and database2/drivers leveldb-family embedded stores. The
// relational schema remains the source of truth; this index
// exists purely to avoid scanning it for the hot-path lookup
// get_block_by_hash. The mempool keeps its own dedup map and does not
// consult this index.
type hashIndex struct {
	db *leveldb.DB
}

const (
	txHashPrefix    = "t:"
	blockHashPrefix = "b:"
	metaKey         = "m:rebuilt-through"
)

func openHashIndex(path string) (*hashIndex, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrap(err, "statestore: opening goleveldb hash index")
	}
	return &hashIndex{db: db}, nil
}

func (idx *hashIndex) close() error {
	return idx.db.Close()
}

func (idx *hashIndex) putTxHash(txHash []byte, blockNumber uint64) error {
	return idx.db.Put(append([]byte(txHashPrefix), txHash...), encodeUint64(blockNumber), nil)
}

func (idx *hashIndex) txBlockNumber(txHash []byte) (uint64, bool, error) {
	v, err := idx.db.Get(append([]byte(txHashPrefix), txHash...), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "statestore: reading tx hash index")
	}
	return decodeUint64(v), true, nil
}

func (idx *hashIndex) putBlockHash(blockHash []byte, blockNumber uint64) error {
	return idx.db.Put(append([]byte(blockHashPrefix), blockHash...), encodeUint64(blockNumber), nil)
}

func (idx *hashIndex) blockNumberForHash(blockHash []byte) (uint64, bool, error) {
	v, err := idx.db.Get(append([]byte(blockHashPrefix), blockHash...), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "statestore: reading block hash index")
	}
	return decodeUint64(v), true, nil
}

func (idx *hashIndex) rebuiltThrough() (uint64, error) {
	v, err := idx.db.Get([]byte(metaKey), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "statestore: reading hash index watermark")
	}
	return decodeUint64(v), nil
}

func (idx *hashIndex) setRebuiltThrough(n uint64) error {
	return idx.db.Put([]byte(metaKey), encodeUint64(n), nil)
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
