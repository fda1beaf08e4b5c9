package wallet

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

// fastParams returns low-cost Argon2 params for fast tests.
func fastParams() EncryptionParams {
	return EncryptionParams{
		Algorithm:   KDFArgon2id,
		Memory:      64, // 64 KiB (minimal)
		Iterations:  1,
		Parallelism: 1,
	}
}

// fastScryptParams returns low-cost scrypt params for fast tests.
func fastScryptParams() EncryptionParams {
	return EncryptionParams{Algorithm: KDFScrypt, LogN: 4, R: 8, P: 1}
}

func TestSealOpen_Roundtrip(t *testing.T) {
	for name, params := range map[string]EncryptionParams{
		"argon2id": fastParams(),
		"scrypt":   fastScryptParams(),
	} {
		t.Run(name, func(t *testing.T) {
			plaintext := []byte("secret wallet data")
			password := []byte("strong-password-123")

			rec, err := seal(plaintext, password, params)
			if err != nil {
				t.Fatalf("seal() error: %v", err)
			}
			if len(rec.KDFSalt) != SaltSize || len(rec.Nonce) != 24 || len(rec.AuthTag) != 16 {
				t.Errorf("salt/nonce/tag = %d/%d/%d bytes", len(rec.KDFSalt), len(rec.Nonce), len(rec.AuthTag))
			}

			got, err := open(rec, password)
			if err != nil {
				t.Fatalf("open() error: %v", err)
			}
			if !bytes.Equal(got, plaintext) {
				t.Errorf("decrypted = %q, want %q", got, plaintext)
			}
		})
	}
}

func TestOpen_WrongPassword(t *testing.T) {
	rec, err := seal([]byte("secret data"), []byte("correct"), fastParams())
	if err != nil {
		t.Fatalf("seal() error: %v", err)
	}

	if _, err := open(rec, []byte("wrong")); !errors.Is(err, errAuthFailed) {
		t.Errorf("open() with wrong password error = %v, want errAuthFailed", err)
	}
}

func TestOpen_TamperedRecord(t *testing.T) {
	tests := []struct {
		name   string
		tamper func(r *EncryptedRecord)
	}{
		{"ciphertext", func(r *EncryptedRecord) { r.Ciphertext[0] ^= 0x01 }},
		{"auth tag", func(r *EncryptedRecord) { r.AuthTag[15] ^= 0x80 }},
		{"nonce", func(r *EncryptedRecord) { r.Nonce[3] ^= 0x10 }},
		{"salt", func(r *EncryptedRecord) { r.KDFSalt[0] ^= 0x01 }},
		{"truncated ciphertext", func(r *EncryptedRecord) { r.Ciphertext = r.Ciphertext[:len(r.Ciphertext)-1] }},
		{"short tag", func(r *EncryptedRecord) { r.AuthTag = r.AuthTag[:8] }},
		{"kdf iterations", func(r *EncryptedRecord) { r.KDFParams.Iterations = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := seal([]byte("data"), []byte("pass"), fastParams())
			if err != nil {
				t.Fatalf("seal() error: %v", err)
			}
			tt.tamper(rec)
			if _, err := open(rec, []byte("pass")); !errors.Is(err, errAuthFailed) {
				t.Errorf("open() error = %v, want errAuthFailed", err)
			}
		})
	}
}

func TestSeal_DifferentEachTime(t *testing.T) {
	plaintext := []byte("same data")
	password := []byte("same pass")

	r1, err := seal(plaintext, password, fastParams())
	if err != nil {
		t.Fatalf("seal() error: %v", err)
	}
	r2, err := seal(plaintext, password, fastParams())
	if err != nil {
		t.Fatalf("seal() error: %v", err)
	}

	if bytes.Equal(r1.KDFSalt, r2.KDFSalt) || bytes.Equal(r1.Nonce, r2.Nonce) {
		t.Error("salt and nonce should be fresh for every record")
	}
	if bytes.Equal(r1.Ciphertext, r2.Ciphertext) {
		t.Error("encrypting same data twice should produce different output")
	}
}

func TestEncryptionParams_Validate(t *testing.T) {
	tests := []struct {
		name   string
		params EncryptionParams
		ok     bool
	}{
		{"default argon2id", DefaultParams(), true},
		{"default scrypt", DefaultScryptParams(), true},
		{"fast", fastParams(), true},
		{"no algorithm", EncryptionParams{Memory: 64, Iterations: 1, Parallelism: 1}, false},
		{"unknown algorithm", EncryptionParams{Algorithm: "pbkdf2"}, false},
		{"zero iterations", EncryptionParams{Algorithm: KDFArgon2id, Memory: 64, Parallelism: 1}, false},
		{"memory below lanes", EncryptionParams{Algorithm: KDFArgon2id, Memory: 8, Iterations: 1, Parallelism: 4}, false},
		{"huge memory", EncryptionParams{Algorithm: KDFArgon2id, Memory: 1 << 30, Iterations: 1, Parallelism: 1}, false},
		{"scrypt log_n too big", EncryptionParams{Algorithm: KDFScrypt, LogN: 40, R: 8, P: 1}, false},
		{"scrypt zero r", EncryptionParams{Algorithm: KDFScrypt, LogN: 10, P: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("Validate() error = %v, want ok=%v", err, tt.ok)
			}
		})
	}

	if err := (EncryptionParams{Algorithm: "pbkdf2"}).Validate(); !errors.Is(err, errUnsupportedKDF) {
		t.Errorf("unknown algorithm error = %v, want errUnsupportedKDF", err)
	}
}

func TestDefaultParams(t *testing.T) {
	p := DefaultParams()
	if p.Algorithm != KDFArgon2id {
		t.Errorf("Algorithm = %q, want argon2id", p.Algorithm)
	}
	if p.Memory != 64*1024 {
		t.Errorf("Memory = %d, want %d", p.Memory, 64*1024)
	}
	if p.Iterations != 3 {
		t.Errorf("Iterations = %d, want 3", p.Iterations)
	}
	if p.Parallelism != 4 {
		t.Errorf("Parallelism = %d, want 4", p.Parallelism)
	}
}

func TestRecord_EncodeDecode(t *testing.T) {
	rec, err := seal([]byte("payload"), []byte("pass"), fastParams())
	if err != nil {
		t.Fatalf("seal() error: %v", err)
	}
	data, err := rec.Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("record is not JSON: %v", err)
	}
	for _, field := range []string{"format_version", "kdf_salt", "kdf_parameters", "nonce", "ciphertext", "auth_tag", "created_at"} {
		if _, ok := doc[field]; !ok {
			t.Errorf("record is missing %q", field)
		}
	}

	decoded, err := DecodeRecord(data)
	if err != nil {
		t.Fatalf("DecodeRecord() error: %v", err)
	}
	got, err := open(decoded, []byte("pass"))
	if err != nil {
		t.Fatalf("open() error: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("payload = %q", got)
	}
}

func TestDecodeRecord_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"not json", "{", errMalformed},
		{"future version", `{"format_version": 2, "whatever": true}`, errUnknownFormat},
		{"missing version", `{"kdf_salt": ""}`, errUnknownFormat},
		{"short salt", `{"format_version": 1, "kdf_salt": "AAAA"}`, errMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeRecord([]byte(tt.data)); !errors.Is(err, tt.want) {
				t.Errorf("DecodeRecord() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSecretEncoding(t *testing.T) {
	m, err := MaterialFromMnemonic(testMnemonic12, "")
	if err != nil {
		t.Fatalf("MaterialFromMnemonic() error: %v", err)
	}
	got, err := decodeSecret(encodeSecret(m))
	if err != nil {
		t.Fatalf("decodeSecret() error: %v", err)
	}
	if !bytes.Equal(got.Seed, m.Seed) || !bytes.Equal(got.Mnemonic, m.Mnemonic) {
		t.Error("secret did not survive encoding")
	}

	raw := &SecretMaterial{Seed: m.Seed}
	got, err = decodeSecret(encodeSecret(raw))
	if err != nil {
		t.Fatalf("decodeSecret() error: %v", err)
	}
	if len(got.Mnemonic) != 0 {
		t.Errorf("mnemonic = %q, want empty", got.Mnemonic)
	}

	enc := encodeSecret(m)
	for _, bad := range [][]byte{nil, enc[:10], append(enc, 0), {32}} {
		if _, err := decodeSecret(bad); !errors.Is(err, errMalformed) {
			t.Errorf("decodeSecret(%d bytes) error = %v, want errMalformed", len(bad), err)
		}
	}
}
