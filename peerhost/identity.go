// Package peerhost manages the local node's network identity and
// transport: an Ed25519 keypair, multiaddress-style listen/peer addresses,
// and a connection manager that caps connected peers at max_peers; it has
// no low/high watermark trimming.
// Grounded on netadapter/netadapter.go's NetAdapter/Router shape, composed
// with the older wire/message.go length-prefixed framing in place of a
// grpc transport (see the module's domain-stack notes on
// why codegen-dependent transports were not adopted).
package peerhost

import (
	"crypto/ed25519"
	"os"

	"github.com/pkg/errors"

	"github.com/Quigles1337/COINjecture1337/crypto"
)

// Identity is the local node's signing keypair and derived peer ID.
type Identity struct {
	KeyPair *crypto.KeyPair
	PeerID  string
}

// LoadOrGenerateIdentity loads an Ed25519 seed from keyPath, or generates
// and persists a fresh one if the file does not exist: loaded from
// persistent storage in production, generated on first start otherwise.
func LoadOrGenerateIdentity(keyPath string) (*Identity, error) {
	seed, err := os.ReadFile(keyPath)
	if err == nil {
		if len(seed) != ed25519.SeedSize {
			return nil, errors.Errorf("peerhost: validator key file %s has %d bytes, want %d", keyPath, len(seed), ed25519.SeedSize)
		}
		kp, err := crypto.KeyPairFromSeed(seed)
		if err != nil {
			return nil, errors.Wrap(err, "peerhost: loading identity from seed")
		}
		return newIdentity(kp)
	}
	if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "peerhost: reading validator key file %s", keyPath)
	}

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, errors.Wrap(err, "peerhost: generating identity")
	}
	if err := os.WriteFile(keyPath, kp.PrivateKey.Seed(), 0600); err != nil {
		return nil, errors.Wrapf(err, "peerhost: persisting new validator key to %s", keyPath)
	}
	return newIdentity(kp)
}

func newIdentity(kp *crypto.KeyPair) (*Identity, error) {
	hash := crypto.Sum256(kp.PublicKey)
	return &Identity{KeyPair: kp, PeerID: hash.String()}, nil
}
