package chain

import (
	"github.com/Quigles1337/COINjecture1337/crypto"
	"github.com/pkg/errors"
)

// TxType is a tagged variant in place of dynamic
// signature/verification polymorphism: the switch over TxType in
// ValidateStructure rejects an unhandled value with ErrUnknownTxType in
// its default branch, never a silent no-op.
type TxType uint8

const (
	// TxTypeTransfer is a plain value transfer.
	TxTypeTransfer TxType = 0
	// TxTypeEscrow is a value transfer whose data payload carries
	// escrow-release terms interpreted by a collaborator outside the core.
	TxTypeEscrow TxType = 1
)

// MinTransferGasLimit is the minimum gas_limit required for a
// transfer transaction.
const MinTransferGasLimit = 21000

// CodecVersion is the only transaction codec version this implementation
// emits and accepts.
const CodecVersion uint8 = 1

// ErrUnknownTxType is returned by any exhaustive TxType switch that
// encounters a value outside TxTypeTransfer/TxTypeEscrow.
var ErrUnknownTxType = errors.New("chain: unknown transaction type")

// Transaction is the immutable signed record of value moved between accounts.
type Transaction struct {
	CodecVersion uint8
	TxType       TxType
	From         Address
	To           Address
	Amount       uint64
	Fee          uint64
	GasLimit     uint64
	GasPrice     uint64
	Nonce        uint64
	Data         []byte
	Timestamp    int64
	Signature    [crypto.SignatureSize]byte
}

// signingPreimage returns the canonical encoding of every field that
// precedes Signature in struct order ("signature ... over the
// canonical encoding of all preceding fields").
func (tx *Transaction) signingPreimage() []byte {
	buf := make([]byte, 0, 2+2*len(Address{})+8*5+4+len(tx.Data)+8)
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
	return buf
}

// hashPreimage returns the canonical hashing preimage:
// codec_version ‖ tx_type ‖ from ‖ to ‖ amount ‖ nonce ‖ gas_limit ‖
// gas_price ‖ len(data) ‖ data ‖ timestamp. Fee is deliberately absent here
// even though it is covered by the signature (signingPreimage, above) —
// the wire format defines the hash preimage without it.
func (tx *Transaction) hashPreimage() []byte {
	buf := make([]byte, 0, 2+2*len(Address{})+8*4+4+len(tx.Data)+8)
	buf = append(buf, tx.CodecVersion, byte(tx.TxType))
	buf = append(buf, tx.From[:]...)
	buf = append(buf, tx.To[:]...)
	buf = crypto.PutUint64LE(buf, tx.Amount)
	buf = crypto.PutUint64LE(buf, tx.Nonce)
	buf = crypto.PutUint64LE(buf, tx.GasLimit)
	buf = crypto.PutUint64LE(buf, tx.GasPrice)
	buf = crypto.PutUint32LE(buf, uint32(len(tx.Data)))
	buf = append(buf, tx.Data...)
	buf = crypto.PutUint64LE(buf, uint64(tx.Timestamp))
	return buf
}

// Hash returns the derived SHA-256 digest of the transaction's canonical
// hash preimage. It is not re-signed; it is purely a content identifier.
func (tx *Transaction) Hash() crypto.Hash {
	return crypto.Sum256(tx.hashPreimage())
}

// Sign computes and sets tx.Signature using kp. The caller is responsible
// for ensuring tx.From matches kp's derived address.
func (tx *Transaction) Sign(kp *crypto.KeyPair) {
	tx.Signature = kp.Sign(tx.signingPreimage())
}

// VerifySignature reports whether tx.Signature is a valid Ed25519
// signature over the transaction's signing preimage under tx.From.
func (tx *Transaction) VerifySignature() bool {
	return crypto.Verify(tx.From, tx.signingPreimage(), tx.Signature)
}

// GasCost returns the gas this transaction consumes when applied. The core
// meters a transfer/escrow at its declared GasLimit (no sub-metering of
// opcodes exists in this system), matching the block builder's gas accounting.
func (tx *Transaction) GasCost() uint64 {
	return tx.GasLimit
}

// ValidateStructure checks the stateless invariants: signature
// verifies, amount is positive, sender != recipient, and the gas floor for
// transfers. It does not check nonce or balance, which require state.
func (tx *Transaction) ValidateStructure() error {
	switch tx.TxType {
	case TxTypeTransfer, TxTypeEscrow:
	default:
		return ErrUnknownTxType
	}
	if tx.CodecVersion != CodecVersion {
		return errors.Errorf("chain: unsupported codec version %d", tx.CodecVersion)
	}
	if tx.Amount == 0 {
		return errors.New("chain: amount must be > 0")
	}
	if tx.From == tx.To {
		return errors.New("chain: from and to must differ")
	}
	if tx.TxType == TxTypeTransfer && tx.GasLimit < MinTransferGasLimit {
		return errors.Errorf("chain: gas_limit %d below minimum %d for transfer", tx.GasLimit, MinTransferGasLimit)
	}
	total := tx.Amount + tx.Fee
	if total < tx.Amount {
		return errors.New("chain: amount+fee overflows uint64")
	}
	if !tx.VerifySignature() {
		return errors.New("chain: signature does not verify")
	}
	return nil
}
