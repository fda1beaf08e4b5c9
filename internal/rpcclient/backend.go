package rpcclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/Klingon-tech/klingvault/pkg/coin"
	"github.com/Klingon-tech/klingvault/pkg/tx"
	"github.com/Klingon-tech/klingvault/pkg/types"
)

// ErrNoBackend is returned for a coin with no node registered.
var ErrNoBackend = errors.New("no backend for coin")

// ErrNoEstimate is returned when the node has too little data for a fee
// estimate.
var ErrNoEstimate = errors.New("no fee estimate available")

// ChainBackend answers the wallet's chain queries from one node per coin.
// It implements the wallet's UTXO, fee and broadcast interfaces.
type ChainBackend struct {
	mu      sync.RWMutex
	clients map[coin.ID]*Client
}

// NewChainBackend returns an empty backend.
func NewChainBackend() *ChainBackend {
	return &ChainBackend{clients: make(map[coin.ID]*Client)}
}

// Register routes queries for a coin to client.
func (b *ChainBackend) Register(id coin.ID, client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[id] = client
}

func (b *ChainBackend) client(c *coin.Coin) (*Client, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	cl, ok := b.clients[c.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoBackend, c.Ticker)
	}
	return cl, nil
}

type unspent struct {
	TxID          string          `json:"txid"`
	Vout          uint32          `json:"vout"`
	Address       string          `json:"address"`
	Amount        decimal.Decimal `json:"amount"`
	Confirmations int64           `json:"confirmations"`
}

// ListUnspent returns the unspent outputs of one address, including
// unconfirmed ones. The node must be watching the address.
func (b *ChainBackend) ListUnspent(ctx context.Context, c *coin.Coin, address string) ([]types.UTXO, error) {
	cl, err := b.client(c)
	if err != nil {
		return nil, err
	}
	var raw []unspent
	params := []interface{}{0, 9999999, []string{address}}
	if err := cl.Call(ctx, "listunspent", params, &raw); err != nil {
		return nil, err
	}

	out := make([]types.UTXO, 0, len(raw))
	for _, u := range raw {
		op, err := types.NewOutpoint(u.TxID, u.Vout)
		if err != nil {
			return nil, fmt.Errorf("listunspent: %w", err)
		}
		amount, err := toUnits(u.Amount)
		if err != nil {
			return nil, fmt.Errorf("listunspent %s: %w", op, err)
		}
		conf := uint32(0)
		if u.Confirmations > 0 {
			conf = uint32(u.Confirmations)
		}
		addr := u.Address
		if addr == "" {
			addr = address
		}
		out = append(out, types.UTXO{
			Outpoint:      op,
			Amount:        amount,
			Address:       addr,
			Confirmations: conf,
		})
	}
	return out, nil
}

type smartFee struct {
	FeeRate *decimal.Decimal `json:"feerate"`
	Errors  []string         `json:"errors"`
	Blocks  int              `json:"blocks"`
}

// EstimateFeeRate asks the node for a fee rate that confirms within
// targetBlocks. The node reports whole coins per kvB.
func (b *ChainBackend) EstimateFeeRate(ctx context.Context, c *coin.Coin, targetBlocks int) (tx.FeeRate, error) {
	cl, err := b.client(c)
	if err != nil {
		return 0, err
	}
	var res smartFee
	if err := cl.Call(ctx, "estimatesmartfee", []interface{}{targetBlocks}, &res); err != nil {
		return 0, err
	}
	if res.FeeRate == nil || res.FeeRate.Sign() <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoEstimate, strings.Join(res.Errors, "; "))
	}
	units, err := toUnits(*res.FeeRate)
	if err != nil {
		return 0, fmt.Errorf("estimatesmartfee: %w", err)
	}
	return tx.FeeRate(units), nil
}

// Broadcast submits a signed transaction and returns its txid.
func (b *ChainBackend) Broadcast(ctx context.Context, c *coin.Coin, rawTxHex string) (string, error) {
	cl, err := b.client(c)
	if err != nil {
		return "", err
	}
	var txid string
	if err := cl.Call(ctx, "sendrawtransaction", []interface{}{rawTxHex}, &txid); err != nil {
		return "", err
	}
	return txid, nil
}

type blockchainInfo struct {
	Chain  string `json:"chain"`
	Blocks int64  `json:"blocks"`
}

// CheckNetwork verifies that the node registered for c runs c's network.
// It returns the node's block height.
func (b *ChainBackend) CheckNetwork(ctx context.Context, c *coin.Coin) (int64, error) {
	cl, err := b.client(c)
	if err != nil {
		return 0, err
	}
	var info blockchainInfo
	if err := cl.Call(ctx, "getblockchaininfo", nil, &info); err != nil {
		return 0, err
	}
	if (info.Chain == "main") == c.Testnet {
		return 0, fmt.Errorf("node for %s is on chain %q", c.Ticker, info.Chain)
	}
	return info.Blocks, nil
}

// toUnits converts a whole-coin decimal to smallest units.
func toUnits(d decimal.Decimal) (uint64, error) {
	units := d.Shift(coin.Decimals)
	if units.Sign() < 0 || !units.IsInteger() {
		return 0, fmt.Errorf("invalid amount %s", d)
	}
	if units.GreaterThan(decimal.New(int64(coin.MaxUnits), 0)) {
		return 0, fmt.Errorf("amount %s out of range", d)
	}
	return uint64(units.IntPart()), nil
}
