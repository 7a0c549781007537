package chain

import "github.com/Quigles1337/COINjecture1337/crypto"

// Checkpoint is a signed snapshot of chain state at a given height, used by
// new nodes to fast-sync instead of replaying the full archive from
// genesis.
type Checkpoint struct {
	BlockNumber   uint64
	BlockHash     crypto.Hash
	StateRoot     crypto.Hash
	Timestamp     int64
	TxCount       uint64
	ValidatorKey  Address
	ValidatorSig  [crypto.SignatureSize]byte
}

// signingPreimage is the canonical encoding a checkpoint signature covers:
// every field except the signature itself, in struct order.
func (c *Checkpoint) signingPreimage() []byte {
	buf := make([]byte, 0, 8+32*2+8+8+32)
	buf = crypto.PutUint64LE(buf, c.BlockNumber)
	buf = append(buf, c.BlockHash[:]...)
	buf = append(buf, c.StateRoot[:]...)
	buf = crypto.PutUint64LE(buf, uint64(c.Timestamp))
	buf = crypto.PutUint64LE(buf, c.TxCount)
	buf = append(buf, c.ValidatorKey[:]...)
	return buf
}

// Sign sets c.ValidatorSig and c.ValidatorKey from kp.
func (c *Checkpoint) Sign(kp *crypto.KeyPair) error {
	addr, err := AddressFromPublicKey(kp.PublicKey)
	if err != nil {
		return err
	}
	c.ValidatorKey = addr
	c.ValidatorSig = kp.Sign(c.signingPreimage())
	return nil
}

// VerifySignature reports whether c.ValidatorSig is a valid signature over
// c's canonical preimage under c.ValidatorKey.
func (c *Checkpoint) VerifySignature() bool {
	return crypto.Verify(c.ValidatorKey, c.signingPreimage(), c.ValidatorSig)
}
