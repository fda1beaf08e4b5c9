package wallet

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// RecordFormatVersion is the only EncryptedRecord layout this build reads.
const RecordFormatVersion = 1

var (
	errUnknownFormat = errors.New("unknown record format version")
	errMalformed     = errors.New("malformed record")
)

// EncryptedRecord is the persisted, password-encrypted key material.
// Byte fields are base64 in JSON.
type EncryptedRecord struct {
	FormatVersion int              `json:"format_version"`
	WalletID      string           `json:"wallet_id,omitempty"`
	KDFSalt       []byte           `json:"kdf_salt"`
	KDFParams     EncryptionParams `json:"kdf_parameters"`
	Nonce         []byte           `json:"nonce"`
	Ciphertext    []byte           `json:"ciphertext"`
	AuthTag       []byte           `json:"auth_tag"`
	CreatedAt     time.Time        `json:"created_at"`
}

// associatedData binds the header fields to the ciphertext so that edits
// to the version, salt or KDF parameters fail authentication.
func (r *EncryptedRecord) associatedData() []byte {
	params, _ := json.Marshal(r.KDFParams)
	ad := make([]byte, 0, 16+len(r.KDFSalt)+len(params))
	ad = append(ad, "klingvault/"...)
	ad = strconv.AppendInt(ad, int64(r.FormatVersion), 10)
	ad = append(ad, r.KDFSalt...)
	ad = append(ad, params...)
	return ad
}

// Encode serializes the record.
func (r *EncryptedRecord) Encode() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// DecodeRecord parses a stored record. An unknown format version returns
// errUnknownFormat without looking at the rest of the document.
func DecodeRecord(data []byte) (*EncryptedRecord, error) {
	var header struct {
		FormatVersion int `json:"format_version"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if header.FormatVersion != RecordFormatVersion {
		return nil, fmt.Errorf("%w: %d", errUnknownFormat, header.FormatVersion)
	}

	var rec EncryptedRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if len(rec.KDFSalt) != SaltSize {
		return nil, fmt.Errorf("%w: salt is %d bytes", errMalformed, len(rec.KDFSalt))
	}
	return &rec, nil
}

// Secret payload layout:
//
//	seedLen(1) | seed | phraseLen(2, big endian) | phrase
func encodeSecret(m *SecretMaterial) []byte {
	out := make([]byte, 0, 3+len(m.Seed)+len(m.Mnemonic))
	out = append(out, byte(len(m.Seed)))
	out = append(out, m.Seed...)
	out = binary.BigEndian.AppendUint16(out, uint16(len(m.Mnemonic)))
	out = append(out, m.Mnemonic...)
	return out
}

func decodeSecret(b []byte) (*SecretMaterial, error) {
	if len(b) < 1 {
		return nil, errMalformed
	}
	n := int(b[0])
	if n != SeedSize || len(b) < 1+n+2 {
		return nil, errMalformed
	}
	seed := append([]byte(nil), b[1:1+n]...)
	rest := b[1+n:]
	pn := int(binary.BigEndian.Uint16(rest))
	if len(rest) != 2+pn {
		return nil, errMalformed
	}
	phrase := append([]byte(nil), rest[2:]...)
	return &SecretMaterial{Seed: seed, Mnemonic: phrase}, nil
}
