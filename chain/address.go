// Package chain holds the data model shared by the state store, mempool,
// block builder, checkpoint manager, and gossip layer: addresses, accounts,
// transactions, blocks, and checkpoints, along with their canonical
// encodings and derived hashes.
package chain

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/Quigles1337/COINjecture1337/crypto"
)

// Address is a 32-byte public-key identifier. Equality is by byte value.
type Address [crypto.AddressSize]byte

// ZeroAddress is the all-zero address, used for the genesis parent hash
// field and as a not-a-validator sentinel.
var ZeroAddress Address

// String returns the hex encoding of a.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// Less reports whether a sorts before b, used for the ascending-by-address
// canonical ordering the state store requires when computing the state root.
func (a Address) Less(b Address) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

// AddressFromPublicKey copies an Ed25519 public key into an Address.
func AddressFromPublicKey(pub []byte) (Address, error) {
	var a Address
	if len(pub) != len(a) {
		return a, fmt.Errorf("chain: public key must be %d bytes, got %d", len(a), len(pub))
	}
	copy(a[:], pub)
	return a, nil
}
