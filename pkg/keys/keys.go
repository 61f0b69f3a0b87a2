// Package keys provides Ed25519 primitives and did:key encoding for the
// Attestix signing infrastructure.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// Multicodec prefix for an Ed25519 public key (0xed 0x01).
var ed25519Multicodec = []byte{0xed, 0x01}

const didKeyPrefix = "did:key:z"

var (
	ErrInvalidDIDKey = errors.New("keys: invalid did:key")
	ErrKeySize       = errors.New("keys: invalid key size")
)

// Generate creates a new Ed25519 keypair.
func Generate() (ed25519.PrivateKey, ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("keys: generation failed: %w", err)
	}
	return priv, pub, nil
}

// PrivateFromSeed reconstructs a private key from its raw 32-byte seed.
func PrivateFromSeed(seed []byte) (ed25519.PrivateKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed is %d bytes", ErrKeySize, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// Seed returns the raw 32-byte seed of a private key.
func Seed(priv ed25519.PrivateKey) []byte {
	return priv.Seed()
}

// Sign produces the 64-byte Ed25519 signature over message.
func Sign(priv ed25519.PrivateKey, message []byte) []byte {
	return ed25519.Sign(priv, message)
}

// Verify reports whether sig is a valid signature over message.
// Malformed keys or signatures are treated as invalid; nothing escapes.
func Verify(pub ed25519.PublicKey, sig, message []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	defer func() { _ = recover() }()
	return ed25519.Verify(pub, message, sig)
}

// PubToDIDKey encodes a public key as did:key:z + base58btc(0xed01 || pub32).
func PubToDIDKey(pub ed25519.PublicKey) string {
	payload := append(append([]byte{}, ed25519Multicodec...), pub...)
	return didKeyPrefix + base58.Encode(payload)
}

// DIDKeyToPub extracts the Ed25519 public key from a did:key identifier.
// Rejects identifiers without the multibase "z" prefix or with a multicodec
// other than 0xed01.
func DIDKeyToPub(did string) (ed25519.PublicKey, error) {
	if !strings.HasPrefix(did, didKeyPrefix) {
		return nil, fmt.Errorf("%w: %q lacks %q prefix", ErrInvalidDIDKey, did, didKeyPrefix)
	}
	decoded, err := base58.Decode(did[len(didKeyPrefix):])
	if err != nil {
		return nil, fmt.Errorf("%w: base58 decode: %v", ErrInvalidDIDKey, err)
	}
	if len(decoded) != len(ed25519Multicodec)+ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: decoded length %d, want 34", ErrInvalidDIDKey, len(decoded))
	}
	if decoded[0] != ed25519Multicodec[0] || decoded[1] != ed25519Multicodec[1] {
		return nil, fmt.Errorf("%w: multicodec [%x %x] is not Ed25519", ErrInvalidDIDKey, decoded[0], decoded[1])
	}
	return ed25519.PublicKey(decoded[2:]), nil
}
