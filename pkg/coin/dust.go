package coin

import (
	"github.com/btcsuite/btcd/mempool"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
)

// DustThreshold returns the smallest non-dust value for an output with the
// given script under the coin's relay fee.
func (c *Coin) DustThreshold(pkScript []byte) uint64 {
	spendCost := mempool.GetDustThreshold(wire.NewTxOut(0, pkScript))
	relay := int64(c.RelayFeePerKb)
	return uint64((spendCost*relay + 999) / 1000)
}

// IsDust reports whether an output of value paying to pkScript is dust.
func (c *Coin) IsDust(value uint64, pkScript []byte) bool {
	return txrules.IsDustOutput(wire.NewTxOut(int64(value), pkScript), c.RelayFeePerKb)
}

// CheckOutput rejects outputs that are dust or out of range for relay.
func (c *Coin) CheckOutput(value uint64, pkScript []byte) error {
	return txrules.CheckOutput(wire.NewTxOut(int64(value), pkScript), c.RelayFeePerKb)
}
