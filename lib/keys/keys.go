// Package keys wraps ed25519 signing and verification of image headers and
// resolves the trusted key for an update channel.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/subgraph/citadel/lib/header"
)

// devSeedHex is the seed of the built in signing key for the dev channel.
const devSeedHex = "bc02a3a4fd4a0471a8cb2f96d8be0a0a2d060798c024e60d7a98482f23197fc0"

// PublicKey verifies detached signatures.
type PublicKey struct {
	key ed25519.PublicKey
}

// PublicKeyFromHex decodes a hex encoded 32-byte public key.
func PublicKeyFromHex(s string) (*PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: decode public key: %v", ErrInvalidKey, err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: public key has length %d", ErrInvalidKey, len(b))
	}
	return &PublicKey{key: ed25519.PublicKey(b)}, nil
}

// Hex returns the hex encoding of the key.
func (k *PublicKey) Hex() string {
	return hex.EncodeToString(k.key)
}

// Verify reports whether sig is a valid signature of data.
func (k *PublicKey) Verify(data, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(k.key, data, sig)
}

// KeyPair is a signing key stored as its 32-byte seed.
type KeyPair struct {
	seed []byte
}

// GenerateKeyPair creates a key pair from a random seed.
func GenerateKeyPair() (*KeyPair, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("generate seed: %w", err)
	}
	return &KeyPair{seed: seed}, nil
}

// KeyPairFromHex decodes a hex encoded seed.
func KeyPairFromHex(s string) (*KeyPair, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: decode key pair: %v", ErrInvalidKey, err)
	}
	if len(b) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: key pair seed has length %d", ErrInvalidKey, len(b))
	}
	return &KeyPair{seed: b}, nil
}

// DevKeyPair returns the built in key pair of the dev channel.
func DevKeyPair() *KeyPair {
	kp, err := KeyPairFromHex(devSeedHex)
	if err != nil {
		panic(err)
	}
	return kp
}

func (kp *KeyPair) private() ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(kp.seed)
}

// Hex returns the hex encoded seed.
func (kp *KeyPair) Hex() string {
	return hex.EncodeToString(kp.seed)
}

// PublicKey returns the verifying half of the pair.
func (kp *KeyPair) PublicKey() *PublicKey {
	return &PublicKey{key: kp.private().Public().(ed25519.PublicKey)}
}

// Sign returns a detached signature of data.
func (kp *KeyPair) Sign(data []byte) []byte {
	return ed25519.Sign(kp.private(), data)
}

// SignHeader signs the metainfo of h and stores the signature in it.
func (kp *KeyPair) SignHeader(h *header.Header) error {
	return h.SetSignature(kp.Sign(h.MetaInfoBytes()))
}

// VerifyHeader checks the signature of h against key.
func VerifyHeader(h *header.Header, key *PublicKey) error {
	if !h.HasSignature() {
		return ErrNoSignature
	}
	if !key.Verify(h.MetaInfoBytes(), h.Signature()) {
		return ErrSignatureInvalid
	}
	return nil
}
