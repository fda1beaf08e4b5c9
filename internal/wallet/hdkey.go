package wallet

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/tyler-smith/go-bip32"

	"github.com/Klingon-tech/klingvault/pkg/crypto"
)

// HDKey represents a hierarchical deterministic key (BIP-32).
type HDKey struct {
	key *bip32.Key
}

// NewMasterKey creates a master HD key from a 64-byte seed.
func NewMasterKey(seed []byte) (*HDKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("%w: seed must be %d bytes, got %d", ErrInvalidParameter, SeedSize, len(seed))
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("%w: master key: %v", ErrKeyDerivation, err)
	}
	return &HDKey{key: master}, nil
}

// DeriveChild derives a child key at the given index.
// For hardened derivation, add HardenedKeyStart to the index.
func (k *HDKey) DeriveChild(index uint32) (*HDKey, error) {
	child, err := k.key.NewChildKey(index)
	if err != nil {
		return nil, fmt.Errorf("%w: child %d: %v", ErrKeyDerivation, index, err)
	}
	return &HDKey{key: child}, nil
}

// DerivePath derives a key along a path. Intermediate keys are wiped.
func (k *HDKey) DerivePath(path DerivationPath) (*HDKey, error) {
	current := k
	for _, idx := range path {
		child, err := current.DeriveChild(idx)
		if current != k {
			current.Zero()
		}
		if err != nil {
			return nil, err
		}
		current = child
	}
	if current == k {
		return k.clone(), nil
	}
	return current, nil
}

func (k *HDKey) clone() *HDKey {
	c := *k.key
	c.Key = append([]byte(nil), k.key.Key...)
	c.ChainCode = append([]byte(nil), k.key.ChainCode...)
	return &HDKey{key: &c}
}

// PrivateKey returns the secp256k1 private key. The caller should Zero it
// when done.
func (k *HDKey) PrivateKey() (*secp256k1.PrivateKey, error) {
	if !k.key.IsPrivate {
		return nil, fmt.Errorf("%w: public-only key", ErrKeyDerivation)
	}
	return crypto.PrivateKeyFromBytes(k.key.Key)
}

// PublicKeyBytes returns the compressed 33-byte public key.
func (k *HDKey) PublicKeyBytes() []byte {
	return k.key.PublicKey().Key
}

// Fingerprint returns the first four bytes of HASH160 of the public key.
func (k *HDKey) Fingerprint() uint32 {
	return binary.BigEndian.Uint32(btcutil.Hash160(k.PublicKeyBytes())[:4])
}

// IsPrivate returns true if this key contains a private key.
func (k *HDKey) IsPrivate() bool {
	return k.key.IsPrivate
}

// Depth returns the derivation depth (0 for master).
func (k *HDKey) Depth() uint8 {
	return k.key.Depth
}

// Neuter returns a public-key-only copy.
func (k *HDKey) Neuter() *HDKey {
	pub := k.key.PublicKey()
	pub.ChainCode = append([]byte(nil), pub.ChainCode...)
	return &HDKey{key: pub}
}

// String returns the base58 extended key serialization.
func (k *HDKey) String() string {
	return k.key.B58Serialize()
}

// Zero wipes the key and chain code.
func (k *HDKey) Zero() {
	if k == nil || k.key == nil {
		return
	}
	crypto.Zero(k.key.Key)
	crypto.Zero(k.key.ChainCode)
}
