// Package coin defines the closed set of supported coins and the per-coin
// capabilities the wallet needs: network parameters, BIP-44 coin type,
// address encoding and dust policy.
package coin

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcwallet/wallet/txrules"
)

// ErrUnknownCoin is returned when a ticker or ID does not name a supported coin.
var ErrUnknownCoin = errors.New("unknown coin")

// ID identifies a coin variant.
type ID uint8

const (
	Bitcoin ID = iota + 1
	BitcoinTestnet
	Litecoin
	LitecoinTestnet
)

// Coin describes one supported network. Values are immutable and shared.
type Coin struct {
	ID       ID
	Ticker   string
	Name     string
	Testnet  bool
	Params   *chaincfg.Params
	CoinType uint32 // BIP-44 coin type, unhardened.

	// RelayFeePerKb is the minimum relay fee of the coin's reference node,
	// used for dust thresholds.
	RelayFeePerKb btcutil.Amount

	// DefaultFeeRate is the fee rate (sat/kvB) used when no estimate is
	// available.
	DefaultFeeRate int64
}

var (
	btcMain = &Coin{
		ID:             Bitcoin,
		Ticker:         "BTC",
		Name:           "Bitcoin",
		Params:         &chaincfg.MainNetParams,
		CoinType:       0,
		RelayFeePerKb:  txrules.DefaultRelayFeePerKb,
		DefaultFeeRate: 5000,
	}
	btcTest = &Coin{
		ID:             BitcoinTestnet,
		Ticker:         "TBTC",
		Name:           "Bitcoin Testnet",
		Testnet:        true,
		Params:         &chaincfg.TestNet3Params,
		CoinType:       1,
		RelayFeePerKb:  txrules.DefaultRelayFeePerKb,
		DefaultFeeRate: 1000,
	}
	ltcMain = &Coin{
		ID:             Litecoin,
		Ticker:         "LTC",
		Name:           "Litecoin",
		Params:         &litecoinMainNetParams,
		CoinType:       2,
		RelayFeePerKb:  10000,
		DefaultFeeRate: 10000,
	}
	ltcTest = &Coin{
		ID:             LitecoinTestnet,
		Ticker:         "TLTC",
		Name:           "Litecoin Testnet",
		Testnet:        true,
		Params:         &litecoinTestNetParams,
		CoinType:       1,
		RelayFeePerKb:  10000,
		DefaultFeeRate: 10000,
	}

	all = []*Coin{btcMain, btcTest, ltcMain, ltcTest}
)

// All returns every supported coin in ID order.
func All() []*Coin {
	out := make([]*Coin, len(all))
	copy(out, all)
	return out
}

// ForNetwork returns the mainnet or testnet coins.
func ForNetwork(testnet bool) []*Coin {
	var out []*Coin
	for _, c := range all {
		if c.Testnet == testnet {
			out = append(out, c)
		}
	}
	return out
}

// ByID looks up a coin by ID.
func ByID(id ID) (*Coin, error) {
	for _, c := range all {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: id %d", ErrUnknownCoin, id)
}

// ByTicker looks up a coin by ticker, case-insensitively.
func ByTicker(ticker string) (*Coin, error) {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	for _, c := range all {
		if c.Ticker == t {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCoin, ticker)
}

// String returns the ticker.
func (c *Coin) String() string {
	return c.Ticker
}

// String returns the ticker of the coin with this ID.
func (id ID) String() string {
	c, err := ByID(id)
	if err != nil {
		return fmt.Sprintf("coin(%d)", uint8(id))
	}
	return c.Ticker
}

// MarshalText encodes the ID as its ticker.
func (id ID) MarshalText() ([]byte, error) {
	c, err := ByID(id)
	if err != nil {
		return nil, err
	}
	return []byte(c.Ticker), nil
}

// UnmarshalText decodes a ticker.
func (id *ID) UnmarshalText(b []byte) error {
	c, err := ByTicker(string(b))
	if err != nil {
		return err
	}
	*id = c.ID
	return nil
}
