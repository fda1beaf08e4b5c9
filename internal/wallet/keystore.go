package wallet

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	klog "github.com/Klingon-tech/klingvault/internal/log"
	"github.com/Klingon-tech/klingvault/internal/storage"
	"github.com/Klingon-tech/klingvault/pkg/crypto"
)

// State is the lifecycle state of a KeyStore.
type State int32

const (
	StateUninitialized State = iota
	StateLocked
	StateUnlocked
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLocked:
		return "locked"
	case StateUnlocked:
		return "unlocked"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var recordKey = []byte("record")

// KeyDeriver hands out derived keys while the wallet is unlocked.
type KeyDeriver interface {
	DeriveKey(path DerivationPath) (*HDKey, error)
	IsUnlocked() bool
}

// KeyStore holds the password-encrypted wallet seed.
//
// State changing operations (Setup, Unlock, Lock, ChangePassword, Destroy)
// run one at a time. DeriveKey calls run in parallel with each other and
// block Lock until they return.
type KeyStore struct {
	db     storage.DB
	params EncryptionParams
	log    zerolog.Logger

	opMu sync.Mutex // serializes state changing operations

	mu       sync.RWMutex // guards the fields below
	state    State
	walletID string
	material *SecretMaterial
	root     *HDKey
}

// NewKeyStore opens the key store kept in db. New records are sealed with
// params. The store starts Locked if a record exists and Uninitialized
// otherwise.
func NewKeyStore(db storage.DB, params EncryptionParams) (*KeyStore, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	ks := &KeyStore{
		db:     db,
		params: params,
		log:    klog.KeyStore,
		state:  StateUninitialized,
	}
	ok, err := db.Has(recordKey)
	if err != nil {
		return nil, fmt.Errorf("open key store: %w", err)
	}
	if ok {
		ks.state = StateLocked
		if rec, err := ks.loadRecord(); err == nil {
			ks.walletID = rec.WalletID
		}
	}
	return ks, nil
}

// State returns the current state.
func (ks *KeyStore) State() State {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.state
}

// IsUnlocked reports whether decrypted key material is held in memory.
func (ks *KeyStore) IsUnlocked() bool {
	return ks.State() == StateUnlocked
}

// HasRecord reports whether an encrypted record is persisted.
func (ks *KeyStore) HasRecord() bool {
	s := ks.State()
	return s == StateLocked || s == StateUnlocked
}

// WalletID returns the non-secret wallet identifier, empty before Setup.
func (ks *KeyStore) WalletID() string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.walletID
}

// Setup encrypts material under password, persists the record and leaves
// the store Unlocked. The store keeps its own copy of material.
func (ks *KeyStore) Setup(material *SecretMaterial, password []byte) error {
	ks.opMu.Lock()
	defer ks.opMu.Unlock()

	switch ks.State() {
	case StateUninitialized:
	case StateDestroyed:
		return ErrDestroyed
	default:
		return ErrAlreadyInitialized
	}
	if len(password) == 0 {
		return fmt.Errorf("%w: empty password", ErrInvalidParameter)
	}
	if material == nil || len(material.Seed) != SeedSize {
		return fmt.Errorf("%w: seed must be %d bytes", ErrInvalidParameter, SeedSize)
	}
	if len(material.Mnemonic) > 0 && !ValidateMnemonic(string(material.Mnemonic)) {
		return ErrInvalidSeedPhrase
	}

	root, err := NewMasterKey(material.Seed)
	if err != nil {
		ks.log.Debug().Err(err).Msg("setup: master key")
		return ErrDerivationFailed
	}

	plaintext := encodeSecret(material)
	defer crypto.Zero(plaintext)

	done := klog.Benchmark("keystore seal")
	rec, err := seal(plaintext, password, ks.params)
	done()
	if err != nil {
		root.Zero()
		ks.log.Debug().Err(err).Msg("setup: seal")
		return ErrUnknown
	}
	rec.WalletID = crypto.WalletID(root.Neuter().PublicKeyBytes())
	rec.CreatedAt = time.Now().UTC()

	if err := ks.saveRecord(rec); err != nil {
		root.Zero()
		return err
	}

	ks.mu.Lock()
	ks.state = StateUnlocked
	ks.walletID = rec.WalletID
	ks.material = material.Clone()
	ks.root = root
	ks.mu.Unlock()

	ks.log.Info().Str("wallet", rec.WalletID).Str("kdf", string(ks.params.Algorithm)).Msg("Wallet created")
	return nil
}

// Unlock decrypts the stored record with password. Every decryption
// failure, including a damaged record, is ErrWrongPassword and leaves the
// store Locked. Unlocking an unlocked store only checks the password.
func (ks *KeyStore) Unlock(password []byte) error {
	_, err := ks.unlock(password)
	return err
}

// unlock reports whether this call moved the store from Locked to Unlocked.
func (ks *KeyStore) unlock(password []byte) (bool, error) {
	ks.opMu.Lock()
	defer ks.opMu.Unlock()

	switch ks.State() {
	case StateUninitialized, StateDestroyed:
		return false, ErrSeedNotFound
	case StateUnlocked:
		material, err := ks.decrypt(password)
		material.Zero()
		return false, err
	}

	material, err := ks.decrypt(password)
	if err != nil {
		return false, err
	}
	root, err := NewMasterKey(material.Seed)
	if err != nil {
		material.Zero()
		ks.log.Debug().Err(err).Msg("unlock: master key")
		return false, ErrDerivationFailed
	}

	ks.mu.Lock()
	ks.state = StateUnlocked
	ks.material = material
	ks.root = root
	ks.mu.Unlock()

	ks.log.Debug().Str("wallet", ks.WalletID()).Msg("Wallet unlocked")
	return true, nil
}

// Lock wipes decrypted material from memory. Locking a store that is not
// unlocked does nothing.
func (ks *KeyStore) Lock() {
	ks.opMu.Lock()
	defer ks.opMu.Unlock()
	ks.wipe(StateLocked)
}

// wipe zeroes secrets and moves an unlocked store to next.
func (ks *KeyStore) wipe(next State) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.material.Zero()
	ks.material = nil
	ks.root.Zero()
	ks.root = nil
	if ks.state == StateUnlocked || next == StateDestroyed {
		ks.state = next
	}
}

// WithUnlocked checks password, unlocking the store if needed, and runs fn.
// A store this call unlocked is locked again on every exit path, including
// a panic in fn; a store that was already unlocked stays unlocked.
func (ks *KeyStore) WithUnlocked(password []byte, fn func() error) error {
	unlocked, err := ks.unlock(password)
	if err != nil {
		return err
	}
	if unlocked {
		defer ks.Lock()
	}
	return fn()
}

// ChangePassword re-encrypts the stored material under newPassword with a
// fresh salt. The lock state is unchanged.
func (ks *KeyStore) ChangePassword(oldPassword, newPassword []byte) error {
	ks.opMu.Lock()
	defer ks.opMu.Unlock()

	if !ks.hasRecordLocked() {
		return ErrSeedNotFound
	}
	if len(newPassword) == 0 {
		return fmt.Errorf("%w: empty password", ErrInvalidParameter)
	}
	material, err := ks.decrypt(oldPassword)
	if err != nil {
		return err
	}
	defer material.Zero()

	plaintext := encodeSecret(material)
	defer crypto.Zero(plaintext)

	rec, err := seal(plaintext, newPassword, ks.params)
	if err != nil {
		ks.log.Debug().Err(err).Msg("change password: seal")
		return ErrUnknown
	}
	rec.WalletID = ks.WalletID()
	rec.CreatedAt = time.Now().UTC()
	if err := ks.saveRecord(rec); err != nil {
		return err
	}
	ks.log.Info().Str("wallet", rec.WalletID).Msg("Wallet password changed")
	return nil
}

// Destroy irreversibly deletes the stored record and wipes memory. It is a
// no-op on an uninitialized or already destroyed store.
func (ks *KeyStore) Destroy() error {
	ks.opMu.Lock()
	defer ks.opMu.Unlock()

	switch ks.State() {
	case StateUninitialized, StateDestroyed:
		return nil
	}
	if err := ks.db.Delete(recordKey); err != nil {
		ks.log.Debug().Err(err).Msg("destroy: delete record")
		return ErrSaveFailed
	}
	ks.wipe(StateDestroyed)
	ks.log.Warn().Str("wallet", ks.WalletID()).Msg("Wallet destroyed")
	return nil
}

// Verify reports whether password decrypts the stored record.
func (ks *KeyStore) Verify(password []byte) bool {
	ks.opMu.Lock()
	defer ks.opMu.Unlock()
	if !ks.hasRecordLocked() {
		return false
	}
	material, err := ks.decrypt(password)
	material.Zero()
	return err == nil
}

// RevealSeedPhrase decrypts the record and returns the backup phrase.
// Wallets set up from a raw seed have no phrase and return ErrSeedNotFound.
func (ks *KeyStore) RevealSeedPhrase(password []byte) (string, error) {
	ks.opMu.Lock()
	defer ks.opMu.Unlock()
	if !ks.hasRecordLocked() {
		return "", ErrSeedNotFound
	}
	material, err := ks.decrypt(password)
	if err != nil {
		return "", err
	}
	defer material.Zero()
	if len(material.Mnemonic) == 0 {
		return "", ErrSeedNotFound
	}
	return string(material.Mnemonic), nil
}

// DeriveKey derives the key at path from the unlocked root. The caller owns
// the result and should Zero it after use.
func (ks *KeyStore) DeriveKey(path DerivationPath) (*HDKey, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	if ks.state != StateUnlocked || ks.root == nil {
		return nil, ErrLocked
	}
	key, err := ks.root.DerivePath(path)
	if err != nil {
		if errors.Is(err, ErrKeyDerivation) {
			ks.log.Debug().Err(err).Str("path", path.String()).Msg("derive key")
			return nil, ErrDerivationFailed
		}
		return nil, err
	}
	return key, nil
}

// SetupAsync runs Setup on a new goroutine. The password must not be
// modified until the result is received.
func (ks *KeyStore) SetupAsync(material *SecretMaterial, password []byte) <-chan error {
	return async(func() error { return ks.Setup(material, password) })
}

// UnlockAsync runs Unlock on a new goroutine.
func (ks *KeyStore) UnlockAsync(password []byte) <-chan error {
	return async(func() error { return ks.Unlock(password) })
}

// ChangePasswordAsync runs ChangePassword on a new goroutine.
func (ks *KeyStore) ChangePasswordAsync(oldPassword, newPassword []byte) <-chan error {
	return async(func() error { return ks.ChangePassword(oldPassword, newPassword) })
}

func async(fn func() error) <-chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- fn()
	}()
	return ch
}

func (ks *KeyStore) hasRecordLocked() bool {
	s := ks.State()
	return s == StateLocked || s == StateUnlocked
}

// decrypt loads and opens the record. Must be called with opMu held.
func (ks *KeyStore) decrypt(password []byte) (*SecretMaterial, error) {
	rec, err := ks.loadRecord()
	if err != nil {
		return nil, err
	}

	done := klog.Benchmark("keystore open")
	plaintext, err := open(rec, password)
	done()
	if err != nil {
		if errors.Is(err, errUnsupportedKDF) {
			ks.log.Debug().Err(err).Msg("open record")
			return nil, ErrUnsupportedFormat
		}
		ks.log.Debug().Err(err).Msg("open record")
		return nil, ErrWrongPassword
	}
	defer crypto.Zero(plaintext)

	material, err := decodeSecret(plaintext)
	if err != nil {
		ks.log.Debug().Err(err).Msg("decode secret")
		return nil, ErrWrongPassword
	}
	return material, nil
}

func (ks *KeyStore) loadRecord() (*EncryptedRecord, error) {
	data, err := ks.db.Get(recordKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrSeedNotFound
	}
	if err != nil {
		ks.log.Debug().Err(err).Msg("read record")
		return nil, ErrUnknown
	}
	rec, err := DecodeRecord(data)
	switch {
	case errors.Is(err, errUnknownFormat):
		ks.log.Debug().Err(err).Msg("decode record")
		return nil, ErrUnsupportedFormat
	case err != nil:
		ks.log.Debug().Err(err).Msg("decode record")
		return nil, ErrWrongPassword
	}
	return rec, nil
}

func (ks *KeyStore) saveRecord(rec *EncryptedRecord) error {
	data, err := rec.Encode()
	if err != nil {
		ks.log.Debug().Err(err).Msg("encode record")
		return ErrSaveFailed
	}
	if err := ks.db.Put(recordKey, data); err != nil {
		ks.log.Debug().Err(err).Msg("write record")
		return ErrSaveFailed
	}
	return nil
}
