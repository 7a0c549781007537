// Package crypto provides the hashing and signature primitives shared by
// every other package in the module: SHA-256 content hashing, Ed25519
// sign/verify, and the canonical little-endian byte encodings that feed
// both.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"

	"github.com/pkg/errors"
)

// HashSize is the length in bytes of a SHA-256 digest.
const HashSize = 32

// AddressSize is the length in bytes of an Ed25519 public key, used
// directly as an account address.
const AddressSize = ed25519.PublicKeySize // 32

// SignatureSize is the length in bytes of an Ed25519 signature.
const SignatureSize = ed25519.SignatureSize // 64

// Hash is a 32-byte SHA-256 digest.
type Hash [HashSize]byte

// IsZero reports whether h is the all-zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// String returns the hex encoding of h.
func (h Hash) String() string {
	return hexEncode(h[:])
}

// Sum256 returns the SHA-256 digest of data.
func Sum256(data []byte) Hash {
	return Hash(sha256.Sum256(data))
}

// HashWriter incrementally feeds data into a SHA-256 digest, mirroring the
// write-then-finalize idiom daglabs-btcd uses for merkle branch hashing.
type HashWriter struct {
	h interface {
		Write([]byte) (int, error)
		Sum([]byte) []byte
	}
}

// NewHashWriter returns a HashWriter ready to accept writes.
func NewHashWriter() *HashWriter {
	return &HashWriter{h: sha256.New()}
}

// Write implements io.Writer.
func (w *HashWriter) Write(p []byte) (int, error) {
	return w.h.Write(p)
}

// Finalize returns the digest of everything written so far.
func (w *HashWriter) Finalize() Hash {
	var out Hash
	copy(out[:], w.h.Sum(nil))
	return out
}

// KeyPair is an Ed25519 identity: a signing key and its derived address.
type KeyPair struct {
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
}

// GenerateKeyPair creates a fresh Ed25519 identity.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "generating ed25519 keypair")
	}
	return &KeyPair{PrivateKey: priv, PublicKey: pub}, nil
}

// KeyPairFromSeed reconstructs a deterministic identity from a 32-byte seed,
// used when loading a validator key from persistent storage.
func KeyPairFromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, errors.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &KeyPair{PrivateKey: priv, PublicKey: priv.Public().(ed25519.PublicKey)}, nil
}

// Sign signs message and returns a 64-byte Ed25519 signature.
func (kp *KeyPair) Sign(message []byte) [SignatureSize]byte {
	var sig [SignatureSize]byte
	copy(sig[:], ed25519.Sign(kp.PrivateKey, message))
	return sig
}

// Verify reports whether sig is a valid Ed25519 signature over message
// under pubKey.
func Verify(pubKey [AddressSize]byte, message []byte, sig [SignatureSize]byte) bool {
	return ed25519.Verify(ed25519.PublicKey(pubKey[:]), message, sig[:])
}

// PutUint64LE appends the little-endian encoding of v to dst and returns the
// extended slice, matching the canonical little-endian encoding rule used throughout the wire formats.
func PutUint64LE(dst []byte, v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return append(dst, buf[:]...)
}

// PutUint32LE appends the little-endian encoding of v to dst.
func PutUint32LE(dst []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(dst, buf[:]...)
}

func hexEncode(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexdigits[c>>4]
		out[i*2+1] = hexdigits[c&0x0f]
	}
	return string(out)
}
