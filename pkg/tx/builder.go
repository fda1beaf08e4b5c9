// Package tx assembles, sizes and signs UTXO transactions in the wire format
// shared by Bitcoin and Litecoin.
package tx

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/Klingon-tech/klingvault/pkg/types"
)

// Version is the transaction version used for new transactions.
const Version = 2

// InputKind is the spend type of an input, derived from its previous
// output script.
type InputKind uint8

const (
	KindUnknown InputKind = iota
	KindP2PKH
	KindP2WPKH
)

func (k InputKind) String() string {
	switch k {
	case KindP2PKH:
		return "p2pkh"
	case KindP2WPKH:
		return "p2wpkh"
	default:
		return "unknown"
	}
}

// Input is an output being spent, with the data needed to size and sign it.
type Input struct {
	Outpoint types.Outpoint
	Amount   uint64
	PkScript []byte
}

// Kind classifies the input by its previous output script.
func (in Input) Kind() InputKind {
	switch {
	case txscript.IsPayToWitnessPubKeyHash(in.PkScript):
		return KindP2WPKH
	case txscript.IsPayToPubKeyHash(in.PkScript):
		return KindP2PKH
	default:
		return KindUnknown
	}
}

// Output is a value paid to a script.
type Output struct {
	PkScript []byte
	Value    uint64
}

// Builder constructs unsigned wire transactions.
type Builder struct {
	inputs   []Input
	outputs  []Output
	lockTime uint32
}

// NewBuilder creates a new transaction builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddInput appends an input.
func (b *Builder) AddInput(in Input) *Builder {
	b.inputs = append(b.inputs, in)
	return b
}

// AddOutput appends an output.
func (b *Builder) AddOutput(value uint64, pkScript []byte) *Builder {
	b.outputs = append(b.outputs, Output{PkScript: pkScript, Value: value})
	return b
}

// SetLockTime sets the transaction lock time.
func (b *Builder) SetLockTime(lockTime uint32) *Builder {
	b.lockTime = lockTime
	return b
}

// Inputs returns the inputs added so far.
func (b *Builder) Inputs() []Input {
	return b.inputs
}

// Outputs returns the outputs added so far.
func (b *Builder) Outputs() []Output {
	return b.outputs
}

// Build returns the unsigned transaction. Inputs keep their order.
func (b *Builder) Build() *wire.MsgTx {
	msgTx := wire.NewMsgTx(Version)
	for _, in := range b.inputs {
		op := in.Outpoint.Wire()
		txIn := wire.NewTxIn(&op, nil, nil)
		msgTx.AddTxIn(txIn)
	}
	for _, out := range b.outputs {
		msgTx.AddTxOut(wire.NewTxOut(int64(out.Value), out.PkScript))
	}
	msgTx.LockTime = b.lockTime
	return msgTx
}

// Serialize returns the wire encoding of msgTx, including witness data.
func Serialize(msgTx *wire.MsgTx) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(msgTx.SerializeSize())
	if err := msgTx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("serialize tx: %w", err)
	}
	return buf.Bytes(), nil
}

// SerializeHex returns the hex wire encoding of msgTx.
func SerializeHex(msgTx *wire.MsgTx) (string, error) {
	raw, err := Serialize(msgTx)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// Deserialize decodes a hex wire transaction.
func Deserialize(rawHex string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, fmt.Errorf("decode tx hex: %w", err)
	}
	msgTx := wire.NewMsgTx(Version)
	if err := msgTx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("deserialize tx: %w", err)
	}
	return msgTx, nil
}
