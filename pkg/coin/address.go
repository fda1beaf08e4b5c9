package coin

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"

	"github.com/Klingon-tech/klingvault/pkg/crypto"
)

// ErrInvalidAddress is returned for malformed addresses or addresses that
// belong to a different network.
var ErrInvalidAddress = errors.New("invalid address")

// Encoding selects the address format of a derived key.
type Encoding uint8

const (
	// Legacy is pay-to-pubkey-hash with base58check encoding.
	Legacy Encoding = iota
	// Segwit is native pay-to-witness-pubkey-hash with bech32 encoding.
	Segwit
)

// Purpose returns the BIP-43 purpose used for keys of this encoding.
func (e Encoding) Purpose() uint32 {
	if e == Segwit {
		return 84
	}
	return 44
}

func (e Encoding) String() string {
	switch e {
	case Legacy:
		return "legacy"
	case Segwit:
		return "segwit"
	default:
		return fmt.Sprintf("encoding(%d)", uint8(e))
	}
}

// ParseEncoding parses "legacy" or "segwit".
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "legacy", "p2pkh":
		return Legacy, nil
	case "segwit", "p2wpkh", "bech32":
		return Segwit, nil
	default:
		return 0, fmt.Errorf("unknown address encoding %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (e Encoding) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *Encoding) UnmarshalText(b []byte) error {
	v, err := ParseEncoding(string(b))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// EncodeAddress returns the address string for a public key. Uncompressed
// keys are compressed first.
func (c *Coin) EncodeAddress(pubKey []byte, enc Encoding) (string, error) {
	compressed, err := crypto.ParsePublicKey(pubKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	hash := btcutil.Hash160(compressed)

	var addr btcutil.Address
	switch enc {
	case Legacy:
		addr, err = btcutil.NewAddressPubKeyHash(hash, c.Params)
	case Segwit:
		addr, err = btcutil.NewAddressWitnessPubKeyHash(hash, c.Params)
	default:
		return "", fmt.Errorf("unsupported encoding %v", enc)
	}
	if err != nil {
		return "", fmt.Errorf("encode %s address: %w", c.Ticker, err)
	}
	return addr.EncodeAddress(), nil
}

// DecodeAddress parses and checksums an address for this coin. The result
// reports the address family: witness programs are Segwit, base58 forms are
// Legacy.
func (c *Coin) DecodeAddress(s string) (btcutil.Address, Encoding, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, 0, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	// Bech32 may be written all upper case, as in QR codes.
	if lower := strings.ToLower(s); s == strings.ToUpper(s) &&
		strings.HasPrefix(lower, c.Params.Bech32HRPSegwit+"1") {
		s = lower
	}
	addr, err := btcutil.DecodeAddress(s, c.Params)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if !addr.IsForNet(c.Params) {
		return nil, 0, fmt.Errorf("%w: not a %s address", ErrInvalidAddress, c.Ticker)
	}
	switch addr.(type) {
	case *btcutil.AddressPubKeyHash, *btcutil.AddressScriptHash:
		return addr, Legacy, nil
	case *btcutil.AddressWitnessPubKeyHash, *btcutil.AddressWitnessScriptHash,
		*btcutil.AddressTaproot:
		return addr, Segwit, nil
	default:
		return nil, 0, fmt.Errorf("%w: unsupported address type", ErrInvalidAddress)
	}
}

// NormalizeAddress returns the canonical string form of an address, which
// lower-cases bech32 input.
func (c *Coin) NormalizeAddress(s string) (string, error) {
	addr, _, err := c.DecodeAddress(s)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

// PayToAddrScript returns the output script paying to an address string.
func (c *Coin) PayToAddrScript(s string) ([]byte, error) {
	addr, _, err := c.DecodeAddress(s)
	if err != nil {
		return nil, err
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return script, nil
}
