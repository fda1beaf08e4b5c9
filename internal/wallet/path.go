package wallet

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tyler-smith/go-bip32"

	"github.com/Klingon-tech/klingvault/pkg/coin"
)

// HardenedKeyStart is the first hardened child index.
const HardenedKeyStart = bip32.FirstHardenedChild

// Address chains of a BIP-44 account.
const (
	ChainExternal uint32 = 0 // receiving addresses
	ChainInternal uint32 = 1 // change addresses
)

// DerivationPath is a sequence of child indexes from the master key.
// Hardened steps carry HardenedKeyStart.
type DerivationPath []uint32

// AddressPath returns purpose'/coin'/account'/chain/index for an encoding.
// Each level holds at most 2^31 indexes; going past that is
// ErrDerivationExhausted.
func AddressPath(c *coin.Coin, enc coin.Encoding, account, chain, index uint32) (DerivationPath, error) {
	if account >= HardenedKeyStart || index >= HardenedKeyStart {
		return nil, fmt.Errorf("%w: account %d index %d", ErrDerivationExhausted, account, index)
	}
	if chain != ChainExternal && chain != ChainInternal {
		return nil, fmt.Errorf("%w: chain %d", ErrInvalidParameter, chain)
	}
	return DerivationPath{
		HardenedKeyStart + enc.Purpose(),
		HardenedKeyStart + c.CoinType,
		HardenedKeyStart + account,
		chain,
		index,
	}, nil
}

// ParseDerivationPath parses paths like "m/84'/0'/0'/0/5". Both ' and h
// mark hardened steps.
func ParseDerivationPath(s string) (DerivationPath, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) == 0 || parts[0] != "m" {
		return nil, fmt.Errorf("%w: path %q must start with m", ErrInvalidParameter, s)
	}
	path := make(DerivationPath, 0, len(parts)-1)
	for _, p := range parts[1:] {
		hardened := strings.HasSuffix(p, "'") || strings.HasSuffix(p, "h")
		if hardened {
			p = p[:len(p)-1]
		}
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: path %q: bad index %q", ErrInvalidParameter, s, p)
		}
		if n >= uint64(HardenedKeyStart) {
			return nil, fmt.Errorf("%w: path %q: index %d", ErrDerivationExhausted, s, n)
		}
		idx := uint32(n)
		if hardened {
			idx += HardenedKeyStart
		}
		path = append(path, idx)
	}
	return path, nil
}

// String formats the path with ' for hardened steps.
func (p DerivationPath) String() string {
	var b strings.Builder
	b.WriteString("m")
	for _, idx := range p {
		b.WriteByte('/')
		if idx >= HardenedKeyStart {
			b.WriteString(strconv.FormatUint(uint64(idx-HardenedKeyStart), 10))
			b.WriteByte('\'')
		} else {
			b.WriteString(strconv.FormatUint(uint64(idx), 10))
		}
	}
	return b.String()
}

// IsAddressPath reports whether p has the five-level address layout.
func (p DerivationPath) IsAddressPath() bool {
	return len(p) == 5 && p[0] >= HardenedKeyStart && p[1] >= HardenedKeyStart &&
		p[2] >= HardenedKeyStart && p[3] < HardenedKeyStart && p[4] < HardenedKeyStart
}

// Chain returns the chain level of an address path.
func (p DerivationPath) Chain() uint32 {
	if !p.IsAddressPath() {
		return 0
	}
	return p[3]
}

// Index returns the address index of an address path.
func (p DerivationPath) Index() uint32 {
	if !p.IsAddressPath() {
		return 0
	}
	return p[4]
}

// MarshalText implements encoding.TextMarshaler.
func (p DerivationPath) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *DerivationPath) UnmarshalText(b []byte) error {
	v, err := ParseDerivationPath(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
