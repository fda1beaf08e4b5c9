package wallet

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"github.com/Klingon-tech/klingvault/pkg/crypto"
)

// SaltSize is the length of the per-record KDF salt.
const SaltSize = 32

// KDF names a password-based key derivation function.
type KDF string

const (
	KDFArgon2id KDF = "argon2id"
	KDFScrypt   KDF = "scrypt"
)

// Upper bounds for KDF parameters read from disk.
const (
	maxArgonMemoryKiB  = 4 * 1024 * 1024
	maxArgonIterations = 64
	maxScryptLogN      = 22
)

var errUnsupportedKDF = errors.New("unsupported kdf")

// EncryptionParams selects the KDF and its cost. Only the fields of the
// selected algorithm are used.
type EncryptionParams struct {
	Algorithm KDF `json:"algorithm"`

	// Argon2id.
	Memory      uint32 `json:"memory_kib,omitempty"`
	Iterations  uint32 `json:"iterations,omitempty"`
	Parallelism uint8  `json:"parallelism,omitempty"`

	// scrypt: N = 2^LogN.
	LogN uint8  `json:"log_n,omitempty"`
	R    uint32 `json:"r,omitempty"`
	P    uint32 `json:"p,omitempty"`
}

// DefaultParams returns recommended Argon2id parameters.
func DefaultParams() EncryptionParams {
	return EncryptionParams{
		Algorithm:   KDFArgon2id,
		Memory:      64 * 1024, // 64 MiB
		Iterations:  3,
		Parallelism: 4,
	}
}

// DefaultScryptParams returns scrypt parameters (N=2^18, r=8, p=1).
func DefaultScryptParams() EncryptionParams {
	return EncryptionParams{
		Algorithm: KDFScrypt,
		LogN:      18,
		R:         8,
		P:         1,
	}
}

// Validate checks that the parameters are usable and within bounds.
func (p EncryptionParams) Validate() error {
	switch p.Algorithm {
	case KDFArgon2id:
		if p.Iterations < 1 || p.Iterations > maxArgonIterations {
			return fmt.Errorf("argon2id iterations %d out of range", p.Iterations)
		}
		if p.Parallelism < 1 {
			return fmt.Errorf("argon2id parallelism must be at least 1")
		}
		if p.Memory < 8*uint32(p.Parallelism) || p.Memory > maxArgonMemoryKiB {
			return fmt.Errorf("argon2id memory %d KiB out of range", p.Memory)
		}
	case KDFScrypt:
		if p.LogN < 1 || p.LogN > maxScryptLogN {
			return fmt.Errorf("scrypt log_n %d out of range", p.LogN)
		}
		if p.R < 1 || p.P < 1 || uint64(p.R)*uint64(p.P) >= 1<<30 {
			return fmt.Errorf("scrypt r=%d p=%d out of range", p.R, p.P)
		}
	default:
		return fmt.Errorf("%w %q", errUnsupportedKDF, p.Algorithm)
	}
	return nil
}

// deriveKey stretches password and salt into a 32-byte AEAD key.
func deriveKey(password, salt []byte, p EncryptionParams) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	switch p.Algorithm {
	case KDFScrypt:
		return scrypt.Key(password, salt, 1<<p.LogN, int(p.R), int(p.P), chacha20poly1305.KeySize)
	default:
		return argon2.IDKey(
			password,
			salt,
			p.Iterations,
			p.Memory,
			p.Parallelism,
			chacha20poly1305.KeySize,
		), nil
	}
}

// seal encrypts plaintext under password into a new record with a fresh
// salt and nonce.
func seal(plaintext, password []byte, params EncryptionParams) (*EncryptedRecord, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	key, err := deriveKey(password, salt, params)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	rec := &EncryptedRecord{
		FormatVersion: RecordFormatVersion,
		KDFSalt:       salt,
		KDFParams:     params,
		Nonce:         nonce,
	}
	sealed := aead.Seal(nil, nonce, plaintext, rec.associatedData())
	split := len(sealed) - aead.Overhead()
	rec.Ciphertext = sealed[:split]
	rec.AuthTag = sealed[split:]
	return rec, nil
}

// open authenticates and decrypts a record. Any failure after parameter
// checks is reported as the same error, whatever the cause.
func open(rec *EncryptedRecord, password []byte) ([]byte, error) {
	if err := rec.KDFParams.Validate(); err != nil {
		return nil, err
	}
	key, err := deriveKey(password, rec.KDFSalt, rec.KDFParams)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	if len(rec.Nonce) != aead.NonceSize() || len(rec.AuthTag) != aead.Overhead() {
		return nil, errAuthFailed
	}

	sealed := make([]byte, 0, len(rec.Ciphertext)+len(rec.AuthTag))
	sealed = append(sealed, rec.Ciphertext...)
	sealed = append(sealed, rec.AuthTag...)
	plaintext, err := aead.Open(nil, rec.Nonce, sealed, rec.associatedData())
	if err != nil {
		return nil, errAuthFailed
	}
	return plaintext, nil
}

var errAuthFailed = errors.New("message authentication failed")
