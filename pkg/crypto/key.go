package crypto

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// PrivateKeyFromBytes parses a secp256k1 scalar. BIP-32 serializes private
// keys as 33 bytes with a leading zero; that form is accepted too.
func PrivateKeyFromBytes(b []byte) (*secp256k1.PrivateKey, error) {
	if len(b) == 33 && b[0] == 0 {
		b = b[1:]
	}
	if len(b) != secp256k1.PrivKeyBytesLen {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", secp256k1.PrivKeyBytesLen, len(b))
	}
	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(b); overflow || scalar.IsZero() {
		return nil, fmt.Errorf("private key out of range")
	}
	return secp256k1.NewPrivateKey(&scalar), nil
}

// ParsePublicKey validates a compressed or uncompressed public key and
// returns it in compressed form.
func ParsePublicKey(b []byte) ([]byte, error) {
	pub, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return pub.SerializeCompressed(), nil
}
