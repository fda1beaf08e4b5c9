package tx

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// ErrKeyCount is returned when the number of keys does not match the inputs.
var ErrKeyCount = errors.New("signing key count does not match inputs")

// prevOutFetcher returns a fetcher over the outputs spent by inputs.
func prevOutFetcher(inputs []Input) *txscript.MultiPrevOutFetcher {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for _, in := range inputs {
		fetcher.AddPrevOut(in.Outpoint.Wire(), wire.NewTxOut(int64(in.Amount), in.PkScript))
	}
	return fetcher
}

// Sign signs every input of msgTx in place with SIGHASH_ALL. keys[i] must
// own inputs[i]. The signed transaction is verified with the script engine
// before returning.
func Sign(msgTx *wire.MsgTx, inputs []Input, keys []*btcec.PrivateKey) error {
	if len(keys) != len(inputs) || len(inputs) != len(msgTx.TxIn) {
		return ErrKeyCount
	}
	fetcher := prevOutFetcher(inputs)
	sigHashes := txscript.NewTxSigHashes(msgTx, fetcher)

	for i, in := range inputs {
		if err := signInput(msgTx, i, in, keys[i], sigHashes); err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
	}
	return verify(msgTx, inputs, fetcher, sigHashes)
}

func signInput(msgTx *wire.MsgTx, idx int, in Input, key *btcec.PrivateKey, sigHashes *txscript.TxSigHashes) error {
	switch in.Kind() {
	case KindP2WPKH:
		witness, err := txscript.WitnessSignature(
			msgTx, sigHashes, idx, int64(in.Amount), in.PkScript,
			txscript.SigHashAll, key, true,
		)
		if err != nil {
			return err
		}
		msgTx.TxIn[idx].Witness = witness
		msgTx.TxIn[idx].SignatureScript = nil
	case KindP2PKH:
		sigScript, err := txscript.SignatureScript(
			msgTx, idx, in.PkScript, txscript.SigHashAll, key, true,
		)
		if err != nil {
			return err
		}
		msgTx.TxIn[idx].SignatureScript = sigScript
		msgTx.TxIn[idx].Witness = nil
	default:
		return fmt.Errorf("unsupported script for %s", in.Outpoint)
	}
	return nil
}

// Verify runs the script engine over every input of a signed transaction.
func Verify(msgTx *wire.MsgTx, inputs []Input) error {
	if len(inputs) != len(msgTx.TxIn) {
		return fmt.Errorf("have %d prevouts for %d inputs", len(inputs), len(msgTx.TxIn))
	}
	fetcher := prevOutFetcher(inputs)
	return verify(msgTx, inputs, fetcher, txscript.NewTxSigHashes(msgTx, fetcher))
}

func verify(msgTx *wire.MsgTx, inputs []Input, fetcher txscript.PrevOutputFetcher, sigHashes *txscript.TxSigHashes) error {
	for i, in := range inputs {
		vm, err := txscript.NewEngine(
			in.PkScript, msgTx, i, txscript.StandardVerifyFlags,
			nil, sigHashes, int64(in.Amount), fetcher,
		)
		if err != nil {
			return fmt.Errorf("input %d: script engine: %w", i, err)
		}
		if err := vm.Execute(); err != nil {
			return fmt.Errorf("input %d: verify: %w", i, err)
		}
	}
	return nil
}
