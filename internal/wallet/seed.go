package wallet

import (
	"fmt"

	"github.com/tyler-smith/go-bip39"

	"github.com/Klingon-tech/klingvault/pkg/crypto"
)

// SeedSize is the length of a derived seed in bytes (512 bits).
const SeedSize = 64

// SeedFromMnemonic derives a 512-bit seed from a mnemonic and optional passphrase
// using PBKDF2-SHA512 as specified in BIP-39.
func SeedFromMnemonic(mnemonic, passphrase string) ([]byte, error) {
	if err := CheckMnemonic(mnemonic); err != nil {
		return nil, err
	}
	seed, err := bip39.NewSeedWithErrorChecking(NormalizeMnemonic(mnemonic), passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeedPhrase, err)
	}
	return seed, nil
}

// SecretMaterial is what the key store encrypts: the BIP-39 seed and, when
// the wallet was created from a phrase, the phrase itself so it can be
// revealed for backup.
type SecretMaterial struct {
	Seed     []byte
	Mnemonic []byte
}

// MaterialFromMnemonic derives the seed for a phrase and bundles both.
func MaterialFromMnemonic(mnemonic, passphrase string) (*SecretMaterial, error) {
	seed, err := SeedFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return nil, err
	}
	return &SecretMaterial{
		Seed:     seed,
		Mnemonic: []byte(NormalizeMnemonic(mnemonic)),
	}, nil
}

// Clone returns a deep copy.
func (m *SecretMaterial) Clone() *SecretMaterial {
	c := &SecretMaterial{
		Seed:     make([]byte, len(m.Seed)),
		Mnemonic: make([]byte, len(m.Mnemonic)),
	}
	copy(c.Seed, m.Seed)
	copy(c.Mnemonic, m.Mnemonic)
	return c
}

// Zero wipes the seed and phrase.
func (m *SecretMaterial) Zero() {
	if m == nil {
		return
	}
	crypto.Zero(m.Seed)
	crypto.Zero(m.Mnemonic)
}
