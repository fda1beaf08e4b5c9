// Package crypto provides small cryptographic helpers shared by the wallet.
package crypto

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// walletIDContext separates wallet identifiers from any other BLAKE3 use.
const walletIDContext = "klingvault 2024 wallet id"

// Hash computes a BLAKE3-256 hash of the input data.
func Hash(data []byte) [32]byte {
	return blake3.Sum256(data)
}

// WalletID derives a stable, non-secret identifier from a master public key.
// It names the wallet on disk and in logs without revealing any key.
func WalletID(masterPubKey []byte) string {
	var id [16]byte
	blake3.DeriveKey(walletIDContext, masterPubKey, id[:])
	return hex.EncodeToString(id[:])
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
