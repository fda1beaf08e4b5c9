package wallet

import (
	"context"

	"github.com/Klingon-tech/klingvault/pkg/coin"
	"github.com/Klingon-tech/klingvault/pkg/tx"
	"github.com/Klingon-tech/klingvault/pkg/types"
)

// UTXOSource lists the unspent outputs of an address.
type UTXOSource interface {
	ListUnspent(ctx context.Context, c *coin.Coin, address string) ([]types.UTXO, error)
}

// FeeSource estimates a fee rate for confirmation within targetBlocks.
type FeeSource interface {
	EstimateFeeRate(ctx context.Context, c *coin.Coin, targetBlocks int) (tx.FeeRate, error)
}

// Broadcaster relays a signed transaction and returns its txid.
type Broadcaster interface {
	Broadcast(ctx context.Context, c *coin.Coin, rawTxHex string) (string, error)
}
