// Package types defines the primitive values exchanged between the wallet
// and its chain backends.
package types

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Outpoint references a specific output in a transaction.
type Outpoint struct {
	TxID  chainhash.Hash
	Index uint32
}

// NewOutpoint builds an outpoint from a display-order txid hex string.
func NewOutpoint(txid string, index uint32) (Outpoint, error) {
	h, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return Outpoint{}, fmt.Errorf("invalid txid %q: %w", txid, err)
	}
	return Outpoint{TxID: *h, Index: index}, nil
}

// ParseOutpoint parses "txid:index".
func ParseOutpoint(s string) (Outpoint, error) {
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return Outpoint{}, fmt.Errorf("invalid outpoint %q: missing index", s)
	}
	idx, err := strconv.ParseUint(s[i+1:], 10, 32)
	if err != nil {
		return Outpoint{}, fmt.Errorf("invalid outpoint %q: %w", s, err)
	}
	return NewOutpoint(s[:i], uint32(idx))
}

// IsZero returns true if the outpoint has a zero TxID and zero index.
func (o Outpoint) IsZero() bool {
	return o.TxID == chainhash.Hash{} && o.Index == 0
}

// String returns "txid:index" with the txid in display order.
func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID.String(), o.Index)
}

// Wire converts the outpoint to its wire form.
func (o Outpoint) Wire() wire.OutPoint {
	return wire.OutPoint{Hash: o.TxID, Index: o.Index}
}

// Less orders outpoints by txid bytes, then index.
func (o Outpoint) Less(other Outpoint) bool {
	if c := bytes.Compare(o.TxID[:], other.TxID[:]); c != 0 {
		return c < 0
	}
	return o.Index < other.Index
}

// MarshalText implements encoding.TextMarshaler.
func (o Outpoint) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Outpoint) UnmarshalText(b []byte) error {
	v, err := ParseOutpoint(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}
