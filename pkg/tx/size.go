package tx

import (
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/mempool"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
)

const (
	// maxDERSigSize is the largest DER signature plus sighash byte.
	maxDERSigSize = 73
	// compressedPubKeySize is a serialized compressed public key.
	compressedPubKeySize = 33
)

// Size is the measured size of a transaction.
type Size struct {
	Raw     int   // serialized bytes, witness included
	Virtual int64 // ceil(weight / 4)
	Weight  int64
}

// EstimateSize measures the transaction that inputs and outputs would form
// once signed. Every input gets a worst-case placeholder signature so the
// estimate never undershoots the signed size.
func EstimateSize(inputs []Input, outputs []Output) (Size, error) {
	b := NewBuilder()
	for _, in := range inputs {
		b.AddInput(in)
	}
	for _, out := range outputs {
		b.AddOutput(out.Value, out.PkScript)
	}
	msgTx := b.Build()

	for i, in := range inputs {
		switch in.Kind() {
		case KindP2PKH:
			msgTx.TxIn[i].SignatureScript = make([]byte, txsizes.RedeemP2PKHSigScriptSize)
		case KindP2WPKH:
			msgTx.TxIn[i].Witness = wire.TxWitness{
				make([]byte, maxDERSigSize),
				make([]byte, compressedPubKeySize),
			}
		default:
			return Size{}, fmt.Errorf("input %d (%s): unsupported script", i, in.Outpoint)
		}
	}
	return Measure(msgTx), nil
}

// Measure returns the size of an already signed transaction.
func Measure(msgTx *wire.MsgTx) Size {
	t := btcutil.NewTx(msgTx)
	return Size{
		Raw:     msgTx.SerializeSize(),
		Virtual: mempool.GetTxVirtualSize(t),
		Weight:  blockchain.GetTransactionWeight(t),
	}
}
