package gossip

import (
	"encoding/hex"

	"github.com/pkg/errors"

	"github.com/Quigles1337/COINjecture1337/chain"
	"github.com/Quigles1337/COINjecture1337/crypto"
)

// txMessage is the JSON wire encoding of a Transaction:
// snake_case fields, byte arrays hex-encoded.
type txMessage struct {
	CodecVersion uint8  `json:"codec_version"`
	TxType       uint8  `json:"tx_type"`
	From         string `json:"from"`
	To           string `json:"to"`
	Amount       uint64 `json:"amount"`
	Fee          uint64 `json:"fee"`
	GasLimit     uint64 `json:"gas_limit"`
	GasPrice     uint64 `json:"gas_price"`
	Nonce        uint64 `json:"nonce"`
	Data         string `json:"data"`
	Timestamp    int64  `json:"timestamp"`
	Signature    string `json:"signature"`
}

func txToWire(tx *chain.Transaction) txMessage {
	return txMessage{
		CodecVersion: tx.CodecVersion,
		TxType:       uint8(tx.TxType),
		From:         hex.EncodeToString(tx.From[:]),
		To:           hex.EncodeToString(tx.To[:]),
		Amount:       tx.Amount,
		Fee:          tx.Fee,
		GasLimit:     tx.GasLimit,
		GasPrice:     tx.GasPrice,
		Nonce:        tx.Nonce,
		Data:         hex.EncodeToString(tx.Data),
		Timestamp:    tx.Timestamp,
		Signature:    hex.EncodeToString(tx.Signature[:]),
	}
}

func txFromWire(m txMessage) (*chain.Transaction, error) {
	from, err := decodeAddress(m.From)
	if err != nil {
		return nil, errors.Wrap(err, "gossip: decoding from address")
	}
	to, err := decodeAddress(m.To)
	if err != nil {
		return nil, errors.Wrap(err, "gossip: decoding to address")
	}
	data, err := hex.DecodeString(m.Data)
	if err != nil {
		return nil, errors.Wrap(err, "gossip: decoding data payload")
	}
	sig, err := hex.DecodeString(m.Signature)
	if err != nil {
		return nil, errors.Wrap(err, "gossip: decoding signature")
	}
	if len(sig) != crypto.SignatureSize {
		return nil, errors.Errorf("gossip: signature is %d bytes, want %d", len(sig), crypto.SignatureSize)
	}
	tx := &chain.Transaction{
		CodecVersion: m.CodecVersion,
		TxType:       chain.TxType(m.TxType),
		From:         from,
		To:           to,
		Amount:       m.Amount,
		Fee:          m.Fee,
		GasLimit:     m.GasLimit,
		GasPrice:     m.GasPrice,
		Nonce:        m.Nonce,
		Data:         data,
		Timestamp:    m.Timestamp,
	}
	copy(tx.Signature[:], sig)
	return tx, nil
}

func decodeAddress(s string) (chain.Address, error) {
	var a chain.Address
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, err
	}
	if len(b) != len(a) {
		return a, errors.Errorf("address is %d bytes, want %d", len(b), len(a))
	}
	copy(a[:], b)
	return a, nil
}

func decodeHash(s string) (crypto.Hash, error) {
	var h crypto.Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != len(h) {
		return h, errors.Errorf("hash is %d bytes, want %d", len(b), len(h))
	}
	copy(h[:], b)
	return h, nil
}

// blockMessage is the JSON wire encoding of a Block.
type blockMessage struct {
	BlockNumber uint64      `json:"block_number"`
	ParentHash  string      `json:"parent_hash"`
	StateRoot   string      `json:"state_root"`
	TxRoot      string      `json:"tx_root"`
	Timestamp   int64       `json:"timestamp"`
	Validator   string      `json:"validator"`
	Difficulty  uint64      `json:"difficulty"`
	Nonce       uint64      `json:"nonce"`
	GasLimit    uint64      `json:"gas_limit"`
	GasUsed     uint64      `json:"gas_used"`
	ExtraData   string      `json:"extra_data"`
	Transactions []txMessage `json:"transactions"`
}

func blockToWire(b *chain.Block) blockMessage {
	txs := make([]txMessage, len(b.Body))
	for i, tx := range b.Body {
		txs[i] = txToWire(tx)
	}
	return blockMessage{
		BlockNumber:  b.Header.BlockNumber,
		ParentHash:   hex.EncodeToString(b.Header.ParentHash[:]),
		StateRoot:    hex.EncodeToString(b.Header.StateRoot[:]),
		TxRoot:       hex.EncodeToString(b.Header.TxRoot[:]),
		Timestamp:    b.Header.Timestamp,
		Validator:    hex.EncodeToString(b.Header.Validator[:]),
		Difficulty:   b.Header.Difficulty,
		Nonce:        b.Header.Nonce,
		GasLimit:     b.Header.GasLimit,
		GasUsed:      b.Header.GasUsed,
		ExtraData:    hex.EncodeToString(b.Header.ExtraData[:]),
		Transactions: txs,
	}
}

func blockFromWire(m blockMessage) (*chain.Block, error) {
	parentHash, err := decodeHash(m.ParentHash)
	if err != nil {
		return nil, errors.Wrap(err, "gossip: decoding parent_hash")
	}
	stateRoot, err := decodeHash(m.StateRoot)
	if err != nil {
		return nil, errors.Wrap(err, "gossip: decoding state_root")
	}
	txRoot, err := decodeHash(m.TxRoot)
	if err != nil {
		return nil, errors.Wrap(err, "gossip: decoding tx_root")
	}
	validator, err := decodeAddress(m.Validator)
	if err != nil {
		return nil, errors.Wrap(err, "gossip: decoding validator")
	}
	extraData, err := hex.DecodeString(m.ExtraData)
	if err != nil {
		return nil, errors.Wrap(err, "gossip: decoding extra_data")
	}
	if len(extraData) != chain.ExtraDataSize {
		return nil, errors.Errorf("gossip: extra_data is %d bytes, want %d", len(extraData), chain.ExtraDataSize)
	}

	body := make([]*chain.Transaction, len(m.Transactions))
	for i, txm := range m.Transactions {
		tx, err := txFromWire(txm)
		if err != nil {
			return nil, errors.Wrapf(err, "gossip: decoding body tx %d", i)
		}
		body[i] = tx
	}

	header := chain.BlockHeader{
		BlockNumber: m.BlockNumber,
		ParentHash:  parentHash,
		StateRoot:   stateRoot,
		TxRoot:      txRoot,
		Timestamp:   m.Timestamp,
		Validator:   validator,
		Difficulty:  m.Difficulty,
		Nonce:       m.Nonce,
		GasLimit:    m.GasLimit,
		GasUsed:     m.GasUsed,
	}
	copy(header.ExtraData[:], extraData)
	return &chain.Block{Header: header, Body: body}, nil
}

// cidMetadata is the metadata{size, problem_hash?, tags[]} object of spec
// §4.7.
type cidMetadata struct {
	Size        uint64   `json:"size"`
	ProblemHash string   `json:"problem_hash,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// cidMessage is the content-id gossip message.
type cidMessage struct {
	CID         string      `json:"cid"`
	Type        string      `json:"type"` // one of "problem", "solution", "block"
	BlockNumber uint64      `json:"block_number"`
	Timestamp   int64       `json:"timestamp"`
	Publisher   string      `json:"publisher"`
	Metadata    cidMetadata `json:"metadata"`
}

// blockSyncRequest is the block-sync request.
type blockSyncRequest struct {
	FromBlock uint64 `json:"from_block"`
	ToBlock   uint64 `json:"to_block"`
	MaxBlocks uint64 `json:"max_blocks"`
}

// blockSyncResponse is the block-sync response.
type blockSyncResponse struct {
	Blocks []blockMessage `json:"blocks"`
}
