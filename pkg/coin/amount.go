package coin

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/shopspring/decimal"
)

// Decimals is the number of decimal places of a whole coin.
const Decimals = 8

// MaxUnits is the largest amount accepted anywhere in the wallet.
const MaxUnits = uint64(84_000_000) * btcutil.SatoshiPerBitcoin

// FormatAmount formats smallest units as a whole-coin decimal string.
func FormatAmount(units uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -Decimals).StringFixed(Decimals)
}

// ParseAmount parses a whole-coin decimal string into smallest units.
// More than eight decimal places is an error, not a rounding.
func ParseAmount(s string) (uint64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if d.Sign() < 0 {
		return 0, fmt.Errorf("invalid amount %q: negative", s)
	}
	units := d.Shift(Decimals)
	if !units.IsInteger() {
		return 0, fmt.Errorf("invalid amount %q: more than %d decimals", s, Decimals)
	}
	if units.GreaterThan(decimal.New(int64(MaxUnits), 0)) {
		return 0, fmt.Errorf("invalid amount %q: too large", s)
	}
	return uint64(units.IntPart()), nil
}

// FormatAmount formats units with the coin's ticker.
func (c *Coin) FormatAmount(units uint64) string {
	return FormatAmount(units) + " " + c.Ticker
}
