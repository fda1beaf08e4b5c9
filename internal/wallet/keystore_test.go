package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/Klingon-tech/klingvault/internal/storage"
	"github.com/Klingon-tech/klingvault/pkg/coin"
)

func testKeyStore(t *testing.T) (*KeyStore, *storage.MemoryDB) {
	t.Helper()
	db := storage.NewMemory()
	ks, err := NewKeyStore(db, fastParams())
	if err != nil {
		t.Fatalf("NewKeyStore() error: %v", err)
	}
	return ks, db
}

func testMaterial(t *testing.T) *SecretMaterial {
	t.Helper()
	m, err := MaterialFromMnemonic(testMnemonic12, "")
	if err != nil {
		t.Fatalf("MaterialFromMnemonic() error: %v", err)
	}
	return m
}

func setupKeyStore(t *testing.T, password string) (*KeyStore, *storage.MemoryDB) {
	t.Helper()
	ks, db := testKeyStore(t)
	if err := ks.Setup(testMaterial(t), []byte(password)); err != nil {
		t.Fatalf("Setup() error: %v", err)
	}
	return ks, db
}

// rewriteRecord decodes the stored record, applies fn and stores it again.
func rewriteRecord(t *testing.T, db storage.DB, fn func(map[string]any)) {
	t.Helper()
	data, err := db.Get(recordKey)
	if err != nil {
		t.Fatalf("Get(record) error: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	fn(doc)
	data, err = json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	if err := db.Put(recordKey, data); err != nil {
		t.Fatalf("Put(record) error: %v", err)
	}
}

func TestKeyStore_NewIsUninitialized(t *testing.T) {
	ks, _ := testKeyStore(t)
	if ks.State() != StateUninitialized {
		t.Errorf("State() = %v, want uninitialized", ks.State())
	}
	if ks.HasRecord() || ks.IsUnlocked() {
		t.Error("new key store should have no record and be locked")
	}
	if err := ks.Unlock([]byte("pass")); !errors.Is(err, ErrSeedNotFound) {
		t.Errorf("Unlock() error = %v, want ErrSeedNotFound", err)
	}
}

func TestKeyStore_SetupUnlockLock(t *testing.T) {
	ks, db := setupKeyStore(t, "correct horse")

	if ks.State() != StateUnlocked {
		t.Fatalf("State() after Setup = %v, want unlocked", ks.State())
	}
	if id := ks.WalletID(); len(id) != 32 {
		t.Errorf("WalletID() = %q, want 32 hex chars", id)
	}

	ks.Lock()
	if ks.State() != StateLocked {
		t.Fatalf("State() after Lock = %v, want locked", ks.State())
	}
	ks.Lock() // idempotent

	if err := ks.Unlock([]byte("wrong horse")); !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("Unlock(wrong) error = %v, want ErrWrongPassword", err)
	}
	if ks.State() != StateLocked {
		t.Errorf("State() after failed unlock = %v, want locked", ks.State())
	}

	if err := ks.Unlock([]byte("correct horse")); err != nil {
		t.Fatalf("Unlock() error: %v", err)
	}
	if !ks.IsUnlocked() {
		t.Error("IsUnlocked() = false after Unlock")
	}

	// A second store over the same database starts locked with the same id.
	reopened, err := NewKeyStore(db, fastParams())
	if err != nil {
		t.Fatalf("NewKeyStore() error: %v", err)
	}
	if reopened.State() != StateLocked {
		t.Errorf("reopened State() = %v, want locked", reopened.State())
	}
	if reopened.WalletID() != ks.WalletID() {
		t.Errorf("reopened WalletID() = %q, want %q", reopened.WalletID(), ks.WalletID())
	}
	if err := reopened.Unlock([]byte("correct horse")); err != nil {
		t.Fatalf("reopened Unlock() error: %v", err)
	}
}

func TestKeyStore_SetupScrypt(t *testing.T) {
	db := storage.NewMemory()
	ks, err := NewKeyStore(db, fastScryptParams())
	if err != nil {
		t.Fatalf("NewKeyStore() error: %v", err)
	}
	if err := ks.Setup(testMaterial(t), []byte("pass")); err != nil {
		t.Fatalf("Setup() error: %v", err)
	}
	ks.Lock()
	if err := ks.Unlock([]byte("pass")); err != nil {
		t.Fatalf("Unlock() error: %v", err)
	}
}

func TestKeyStore_SetupErrors(t *testing.T) {
	ks, _ := testKeyStore(t)

	if err := ks.Setup(testMaterial(t), nil); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("Setup(empty password) error = %v, want ErrInvalidParameter", err)
	}
	bad := testMaterial(t)
	bad.Mnemonic = []byte("abandon abandon abandon")
	if err := ks.Setup(bad, []byte("pass")); !errors.Is(err, ErrInvalidSeedPhrase) {
		t.Errorf("Setup(bad phrase) error = %v, want ErrInvalidSeedPhrase", err)
	}
	if err := ks.Setup(&SecretMaterial{Seed: make([]byte, 16)}, []byte("pass")); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("Setup(short seed) error = %v, want ErrInvalidParameter", err)
	}
	if ks.State() != StateUninitialized {
		t.Fatalf("failed Setup changed state to %v", ks.State())
	}

	if err := ks.Setup(testMaterial(t), []byte("pass")); err != nil {
		t.Fatalf("Setup() error: %v", err)
	}
	err := ks.Setup(testMaterial(t), []byte("pass"))
	if !errors.Is(err, ErrAlreadyInitialized) || !errors.Is(err, ErrUnknown) {
		t.Errorf("second Setup() error = %v, want ErrAlreadyInitialized", err)
	}
}

func TestKeyStore_SetupCopiesMaterial(t *testing.T) {
	ks, _ := testKeyStore(t)
	m := testMaterial(t)
	if err := ks.Setup(m, []byte("pass")); err != nil {
		t.Fatalf("Setup() error: %v", err)
	}
	m.Zero()

	phrase, err := ks.RevealSeedPhrase([]byte("pass"))
	if err != nil {
		t.Fatalf("RevealSeedPhrase() error: %v", err)
	}
	if phrase != testMnemonic12 {
		t.Errorf("RevealSeedPhrase() = %q", phrase)
	}
}

type failingDB struct {
	*storage.MemoryDB
}

func (failingDB) Put(key, value []byte) error { return errors.New("disk full") }

func TestKeyStore_SetupSaveFailed(t *testing.T) {
	ks, err := NewKeyStore(failingDB{storage.NewMemory()}, fastParams())
	if err != nil {
		t.Fatalf("NewKeyStore() error: %v", err)
	}
	err = ks.Setup(testMaterial(t), []byte("pass"))
	if !errors.Is(err, ErrSaveFailed) {
		t.Fatalf("Setup() error = %v, want ErrSaveFailed", err)
	}
	if err.Error() != "failed to save wallet" {
		t.Errorf("Error() = %q leaks the cause", err.Error())
	}
	if ks.State() != StateUninitialized {
		t.Errorf("State() = %v, want uninitialized", ks.State())
	}
}

func TestKeyStore_DamagedRecord(t *testing.T) {
	tests := []struct {
		name   string
		modify func(doc map[string]any)
		want   error
	}{
		{"flipped ciphertext", func(doc map[string]any) {
			ct := []byte(doc["ciphertext"].(string))
			if ct[0] == 'A' {
				ct[0] = 'B'
			} else {
				ct[0] = 'A'
			}
			doc["ciphertext"] = string(ct)
		}, ErrWrongPassword},
		{"missing tag", func(doc map[string]any) { delete(doc, "auth_tag") }, ErrWrongPassword},
		{"changed iterations", func(doc map[string]any) {
			doc["kdf_parameters"].(map[string]any)["iterations"] = 2
		}, ErrWrongPassword},
		{"future version", func(doc map[string]any) { doc["format_version"] = 7 }, ErrUnsupportedFormat},
		{"unknown kdf", func(doc map[string]any) {
			doc["kdf_parameters"].(map[string]any)["algorithm"] = "pbkdf2"
		}, ErrUnsupportedFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ks, db := setupKeyStore(t, "pass")
			ks.Lock()
			rewriteRecord(t, db, tt.modify)

			err := ks.Unlock([]byte("pass"))
			if !errors.Is(err, tt.want) {
				t.Fatalf("Unlock() error = %v, want %v", err, tt.want)
			}
			if ks.State() != StateLocked {
				t.Errorf("State() = %v, want locked", ks.State())
			}
		})
	}
}

func TestKeyStore_TruncatedRecord(t *testing.T) {
	ks, db := setupKeyStore(t, "pass")
	ks.Lock()
	data, _ := db.Get(recordKey)
	if err := db.Put(recordKey, data[:len(data)/2]); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if err := ks.Unlock([]byte("pass")); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("Unlock() error = %v, want ErrWrongPassword", err)
	}
}

func TestKeyStore_DeriveKeyRequiresUnlock(t *testing.T) {
	ks, _ := setupKeyStore(t, "pass")
	btc, _ := coin.ByID(coin.Bitcoin)
	path, _ := AddressPath(btc, coin.Segwit, 0, ChainExternal, 0)

	key, err := ks.DeriveKey(path)
	if err != nil {
		t.Fatalf("DeriveKey() error: %v", err)
	}
	addr, _ := btc.EncodeAddress(key.PublicKeyBytes(), coin.Segwit)
	if addr != "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu" {
		t.Errorf("derived address = %s", addr)
	}

	ks.Lock()
	if _, err := ks.DeriveKey(path); !errors.Is(err, ErrLocked) {
		t.Errorf("DeriveKey() while locked error = %v, want ErrLocked", err)
	}
}

func TestKeyStore_WithUnlocked(t *testing.T) {
	ks, _ := setupKeyStore(t, "pass")
	ks.Lock()

	ran := false
	err := ks.WithUnlocked([]byte("pass"), func() error {
		ran = true
		if !ks.IsUnlocked() {
			t.Error("store should be unlocked inside fn")
		}
		return nil
	})
	if err != nil || !ran {
		t.Fatalf("WithUnlocked() error = %v, ran = %v", err, ran)
	}
	if ks.State() != StateLocked {
		t.Errorf("State() after WithUnlocked = %v, want locked", ks.State())
	}

	sentinel := errors.New("boom")
	if err := ks.WithUnlocked([]byte("pass"), func() error { return sentinel }); !errors.Is(err, sentinel) {
		t.Errorf("WithUnlocked() error = %v, want fn error", err)
	}
	if ks.State() != StateLocked {
		t.Errorf("State() after failing fn = %v, want locked", ks.State())
	}

	if err := ks.WithUnlocked([]byte("nope"), func() error { t.Error("fn ran"); return nil }); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("WithUnlocked(wrong) error = %v, want ErrWrongPassword", err)
	}
}

func TestKeyStore_WithUnlockedKeepsUnlocked(t *testing.T) {
	ks, _ := setupKeyStore(t, "pass")
	if !ks.IsUnlocked() {
		t.Fatal("store should be unlocked after Setup")
	}

	if err := ks.WithUnlocked([]byte("pass"), func() error { return nil }); err != nil {
		t.Fatalf("WithUnlocked() error: %v", err)
	}
	if !ks.IsUnlocked() {
		t.Error("WithUnlocked() locked a store it did not unlock")
	}

	if err := ks.WithUnlocked([]byte("nope"), func() error { t.Error("fn ran"); return nil }); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("WithUnlocked(wrong) error = %v, want ErrWrongPassword", err)
	}
	if !ks.IsUnlocked() {
		t.Error("wrong password locked an unlocked store")
	}
}

func TestKeyStore_WithUnlockedPanic(t *testing.T) {
	ks, _ := setupKeyStore(t, "pass")
	ks.Lock()

	func() {
		defer func() {
			if recover() == nil {
				t.Error("panic was swallowed")
			}
		}()
		_ = ks.WithUnlocked([]byte("pass"), func() error { panic("fn failed") })
	}()
	if ks.State() != StateLocked {
		t.Errorf("State() after panic = %v, want locked", ks.State())
	}
}

func TestKeyStore_ChangePassword(t *testing.T) {
	ks, _ := setupKeyStore(t, "old-pass")
	ks.Lock()

	if err := ks.ChangePassword([]byte("bad"), []byte("new-pass")); !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("ChangePassword(wrong old) error = %v, want ErrWrongPassword", err)
	}
	if err := ks.ChangePassword([]byte("old-pass"), []byte("new-pass")); err != nil {
		t.Fatalf("ChangePassword() error: %v", err)
	}
	if ks.State() != StateLocked {
		t.Errorf("State() = %v, want locked", ks.State())
	}
	if ks.Verify([]byte("old-pass")) {
		t.Error("old password still verifies")
	}
	if !ks.Verify([]byte("new-pass")) {
		t.Error("new password does not verify")
	}
	phrase, err := ks.RevealSeedPhrase([]byte("new-pass"))
	if err != nil || phrase != testMnemonic12 {
		t.Errorf("RevealSeedPhrase() = %q, %v", phrase, err)
	}
}

func TestKeyStore_Destroy(t *testing.T) {
	ks, db := setupKeyStore(t, "pass")

	if err := ks.Destroy(); err != nil {
		t.Fatalf("Destroy() error: %v", err)
	}
	if ks.State() != StateDestroyed {
		t.Errorf("State() = %v, want destroyed", ks.State())
	}
	if ok, _ := db.Has(recordKey); ok {
		t.Error("record still stored after Destroy")
	}
	if _, err := ks.DeriveKey(DerivationPath{0}); !errors.Is(err, ErrLocked) {
		t.Errorf("DeriveKey() after Destroy error = %v, want ErrLocked", err)
	}
	if err := ks.Unlock([]byte("pass")); !errors.Is(err, ErrSeedNotFound) {
		t.Errorf("Unlock() after Destroy error = %v, want ErrSeedNotFound", err)
	}
	if err := ks.Setup(testMaterial(t), []byte("pass")); !errors.Is(err, ErrDestroyed) {
		t.Errorf("Setup() after Destroy error = %v, want ErrDestroyed", err)
	}
	if err := ks.Destroy(); err != nil {
		t.Errorf("second Destroy() error: %v", err)
	}

	fresh, _ := testKeyStore(t)
	if err := fresh.Destroy(); err != nil {
		t.Errorf("Destroy() on uninitialized store error: %v", err)
	}
	if fresh.State() != StateUninitialized {
		t.Errorf("State() = %v, want uninitialized", fresh.State())
	}
}

func TestKeyStore_RevealSeedPhrase_RawSeed(t *testing.T) {
	ks, _ := testKeyStore(t)
	seed, _ := SeedFromMnemonic(testMnemonic12, "")
	if err := ks.Setup(&SecretMaterial{Seed: seed}, []byte("pass")); err != nil {
		t.Fatalf("Setup() error: %v", err)
	}
	if _, err := ks.RevealSeedPhrase([]byte("pass")); !errors.Is(err, ErrSeedNotFound) {
		t.Errorf("RevealSeedPhrase() error = %v, want ErrSeedNotFound", err)
	}
	if _, err := ks.RevealSeedPhrase([]byte("wrong")); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("RevealSeedPhrase(wrong) error = %v, want ErrWrongPassword", err)
	}
}

func TestKeyStore_Async(t *testing.T) {
	ks, _ := testKeyStore(t)

	if err := <-ks.SetupAsync(testMaterial(t), []byte("pass")); err != nil {
		t.Fatalf("SetupAsync() error: %v", err)
	}
	ks.Lock()
	if err := <-ks.UnlockAsync([]byte("wrong")); !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("UnlockAsync(wrong) error = %v", err)
	}
	if err := <-ks.ChangePasswordAsync([]byte("pass"), []byte("next")); err != nil {
		t.Fatalf("ChangePasswordAsync() error: %v", err)
	}
	if err := <-ks.UnlockAsync([]byte("next")); err != nil {
		t.Fatalf("UnlockAsync() error: %v", err)
	}
	if !ks.IsUnlocked() {
		t.Error("store should be unlocked")
	}
}

func TestKeyStore_ConcurrentDeriveAndLock(t *testing.T) {
	ks, _ := setupKeyStore(t, "pass")
	btc, _ := coin.ByID(coin.Bitcoin)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path, _ := AddressPath(btc, coin.Segwit, 0, ChainExternal, uint32(i))
			key, err := ks.DeriveKey(path)
			if err != nil && !errors.Is(err, ErrLocked) {
				t.Errorf("DeriveKey() error: %v", err)
				return
			}
			if key != nil {
				if len(key.PublicKeyBytes()) != 33 {
					t.Error("bad public key")
				}
				key.Zero()
			}
		}(i)
	}
	ks.Lock()
	wg.Wait()

	if ks.State() != StateLocked {
		t.Errorf("State() = %v, want locked", ks.State())
	}
}

func TestKeyStoreError(t *testing.T) {
	if !errors.Is(ErrAlreadyInitialized, ErrUnknown) {
		t.Error("ErrAlreadyInitialized should match the Unknown code")
	}
	if errors.Is(ErrAlreadyInitialized, ErrDestroyed) {
		t.Error("distinct Unknown errors should not match each other")
	}
	if errors.Is(ErrWrongPassword, ErrSeedNotFound) {
		t.Error("different codes matched")
	}

	var kse *KeyStoreError
	if !errors.As(ErrSaveFailed, &kse) || kse.Code != CodeSaveFailed {
		t.Errorf("errors.As() code = %v", kse.Code)
	}
	if CodeDerivationFailed.String() != "DerivationFailed" {
		t.Errorf("String() = %q", CodeDerivationFailed.String())
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrWrongPassword, "The password is incorrect."},
		{ErrDestroyed, "Wallet has been destroyed."},
		{ErrLocked, "Unlock the wallet first."},
		{ErrInsufficientFunds, "Not enough funds to cover the amount and fee."},
		{fmt.Errorf("%w: %s", ErrBroadcast, "txn-mempool-conflict"), "The network rejected the transaction: txn-mempool-conflict"},
		{errors.New("something odd"), "Something went wrong."},
	}
	for _, tt := range tests {
		if got := UserMessage(tt.err); got != tt.want {
			t.Errorf("UserMessage(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
