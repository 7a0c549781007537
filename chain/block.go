package chain

import "github.com/Quigles1337/COINjecture1337/crypto"

// MaxBlockGasLimit is the hard validity cap on gas_used/gas_limit for any
// applied block.
const MaxBlockGasLimit = 50_000_000

// DefaultBuildGasLimit is the gas cap the builder targets by default,
// below the hard MaxBlockGasLimit.
const DefaultBuildGasLimit = 30_000_000

// DefaultMaxTxPerBlock is the default per-block transaction count cap of
// the block builder.
const DefaultMaxTxPerBlock = 1000

// ExtraDataSize is the fixed width of the header's opaque extra_data field.
const ExtraDataSize = 32

// BlockHeader is the fixed-order block header. Field order here is
// the exact order the block_hash preimage concatenates, little-endian.
type BlockHeader struct {
	BlockNumber uint64
	ParentHash  crypto.Hash
	StateRoot   crypto.Hash
	TxRoot      crypto.Hash
	Timestamp   int64
	Validator   Address
	Difficulty  uint64
	Nonce       uint64
	GasLimit    uint64
	GasUsed     uint64
	ExtraData   [ExtraDataSize]byte
}

// Block is a header plus its ordered transaction body.
type Block struct {
	Header BlockHeader
	Body   []*Transaction
}

// preimage returns the canonical little-endian concatenation of the header
// fields in a fixed order.
func (h *BlockHeader) preimage() []byte {
	buf := make([]byte, 0, 8+32*3+8+32+8*4+32)
	buf = crypto.PutUint64LE(buf, h.BlockNumber)
	buf = append(buf, h.ParentHash[:]...)
	buf = append(buf, h.StateRoot[:]...)
	buf = append(buf, h.TxRoot[:]...)
	buf = crypto.PutUint64LE(buf, uint64(h.Timestamp))
	buf = append(buf, h.Validator[:]...)
	buf = crypto.PutUint64LE(buf, h.Difficulty)
	buf = crypto.PutUint64LE(buf, h.Nonce)
	buf = crypto.PutUint64LE(buf, h.GasLimit)
	buf = crypto.PutUint64LE(buf, h.GasUsed)
	buf = append(buf, h.ExtraData[:]...)
	return buf
}

// Hash returns the block_hash: SHA-256 of the header's canonical encoding.
func (h *BlockHeader) Hash() crypto.Hash {
	return crypto.Sum256(h.preimage())
}

// TxHashes returns the ordered list of transaction hashes in the body, the
// leaf set that tx_root is built over.
func (b *Block) TxHashes() []crypto.Hash {
	hashes := make([]crypto.Hash, len(b.Body))
	for i, tx := range b.Body {
		hashes[i] = tx.Hash()
	}
	return hashes
}

// GasUsedByBody sums GasCost() over the body, the value that must equal
// Header.GasUsed for a structurally valid block.
func (b *Block) GasUsedByBody() uint64 {
	var sum uint64
	for _, tx := range b.Body {
		sum += tx.GasCost()
	}
	return sum
}
