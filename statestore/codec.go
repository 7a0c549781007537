package statestore

import (
	"encoding/binary"

	"github.com/Quigles1337/COINjecture1337/chain"
	"github.com/Quigles1337/COINjecture1337/crypto"
	"github.com/pkg/errors"
)

// encodeBody serializes a block's transaction list into the tx_data BLOB
// column, using the hand-rolled length-prefixed binary framing daglabs-btcd's
// wire/ package uses for every wire message, rather than a
// general-purpose stdlib serializer: a transaction count followed by each
// transaction's fields in struct order with a length-prefixed data field.
func encodeBody(body []*chain.Transaction) []byte {
	buf := make([]byte, 0, 64*len(body)+4)
	buf = crypto.PutUint32LE(buf, uint32(len(body)))
	for _, tx := range body {
		buf = append(buf, tx.CodecVersion, byte(tx.TxType))
		buf = append(buf, tx.From[:]...)
		buf = append(buf, tx.To[:]...)
		buf = crypto.PutUint64LE(buf, tx.Amount)
		buf = crypto.PutUint64LE(buf, tx.Fee)
		buf = crypto.PutUint64LE(buf, tx.GasLimit)
		buf = crypto.PutUint64LE(buf, tx.GasPrice)
		buf = crypto.PutUint64LE(buf, tx.Nonce)
		buf = crypto.PutUint32LE(buf, uint32(len(tx.Data)))
		buf = append(buf, tx.Data...)
		buf = crypto.PutUint64LE(buf, uint64(tx.Timestamp))
		buf = append(buf, tx.Signature[:]...)
	}
	return buf
}

// decodeBody is the inverse of encodeBody.
func decodeBody(data []byte) ([]*chain.Transaction, error) {
	r := &byteReader{buf: data}
	count, err := r.readUint32()
	if err != nil {
		return nil, errors.Wrap(err, "statestore: reading tx count")
	}
	body := make([]*chain.Transaction, 0, count)
	for i := uint32(0); i < count; i++ {
		tx := &chain.Transaction{}
		codecVersion, err := r.readByte()
		if err != nil {
			return nil, errors.Wrapf(err, "statestore: reading tx %d codec version", i)
		}
		tx.CodecVersion = codecVersion
		txType, err := r.readByte()
		if err != nil {
			return nil, errors.Wrapf(err, "statestore: reading tx %d type", i)
		}
		tx.TxType = chain.TxType(txType)
		if err := r.readAddress(&tx.From); err != nil {
			return nil, errors.Wrapf(err, "statestore: reading tx %d from", i)
		}
		if err := r.readAddress(&tx.To); err != nil {
			return nil, errors.Wrapf(err, "statestore: reading tx %d to", i)
		}
		if tx.Amount, err = r.readUint64(); err != nil {
			return nil, errors.Wrapf(err, "statestore: reading tx %d amount", i)
		}
		if tx.Fee, err = r.readUint64(); err != nil {
			return nil, errors.Wrapf(err, "statestore: reading tx %d fee", i)
		}
		if tx.GasLimit, err = r.readUint64(); err != nil {
			return nil, errors.Wrapf(err, "statestore: reading tx %d gas_limit", i)
		}
		if tx.GasPrice, err = r.readUint64(); err != nil {
			return nil, errors.Wrapf(err, "statestore: reading tx %d gas_price", i)
		}
		if tx.Nonce, err = r.readUint64(); err != nil {
			return nil, errors.Wrapf(err, "statestore: reading tx %d nonce", i)
		}
		dataLen, err := r.readUint32()
		if err != nil {
			return nil, errors.Wrapf(err, "statestore: reading tx %d data length", i)
		}
		if tx.Data, err = r.readBytes(int(dataLen)); err != nil {
			return nil, errors.Wrapf(err, "statestore: reading tx %d data", i)
		}
		ts, err := r.readUint64()
		if err != nil {
			return nil, errors.Wrapf(err, "statestore: reading tx %d timestamp", i)
		}
		tx.Timestamp = int64(ts)
		sig, err := r.readBytes(crypto.SignatureSize)
		if err != nil {
			return nil, errors.Wrapf(err, "statestore: reading tx %d signature", i)
		}
		copy(tx.Signature[:], sig)
		body = append(body, tx)
	}
	return body, nil
}

type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) readByte() (byte, error) {
	if r.pos+1 > len(r.buf) {
		return 0, errors.New("unexpected end of buffer")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *byteReader) readBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, errors.New("unexpected end of buffer")
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+n])
	r.pos += n
	return out, nil
}

func (r *byteReader) readAddress(a *chain.Address) error {
	b, err := r.readBytes(len(a))
	if err != nil {
		return err
	}
	copy(a[:], b)
	return nil
}

func (r *byteReader) readUint32() (uint32, error) {
	b, err := r.readBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *byteReader) readUint64() (uint64, error) {
	b, err := r.readBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}
