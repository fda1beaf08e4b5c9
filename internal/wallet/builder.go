package wallet

import (
	"context"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/rs/zerolog"

	klog "github.com/Klingon-tech/klingvault/internal/log"
	"github.com/Klingon-tech/klingvault/pkg/coin"
	"github.com/Klingon-tech/klingvault/pkg/tx"
	"github.com/Klingon-tech/klingvault/pkg/types"
)

// ChangePolicy decides where change goes.
type ChangePolicy uint8

const (
	// ChangeFresh pays change to a newly derived internal-chain address.
	ChangeFresh ChangePolicy = iota
	// ChangeReuseSource pays change back to the first input's address.
	ChangeReuseSource
)

func (p ChangePolicy) String() string {
	if p == ChangeReuseSource {
		return "reuse-source"
	}
	return "fresh"
}

// BuildRequest describes a payment to one recipient.
type BuildRequest struct {
	Coin      *coin.Coin
	Recipient string
	Amount    uint64
	FeeRate   tx.FeeRate

	// UTXOs are the unspent outputs known for the wallet's addresses.
	UTXOs  []types.UTXO
	Policy SelectionPolicy
	Manual []types.Outpoint

	Change ChangePolicy

	// ChangeEncoding is the format of a fresh change address. Nil selects
	// native segwit.
	ChangeEncoding *coin.Encoding
	SubtractFee    bool
}

func (r BuildRequest) changeEncoding() coin.Encoding {
	if r.ChangeEncoding == nil {
		return coin.Segwit
	}
	return *r.ChangeEncoding
}

// DraftInput is a spent output and the key path that signs it.
type DraftInput struct {
	Outpoint types.Outpoint
	Amount   uint64
	Address  string
	Path     DerivationPath
	PkScript []byte
}

// DraftOutput is a created output. A fresh change output has no address
// until the draft is signed.
type DraftOutput struct {
	Address  string
	Value    uint64
	PkScript []byte
	Change   bool

	fresh    bool
	encoding coin.Encoding
}

// Draft is a built transaction awaiting confirmation and signing. It stays
// valid after a failed broadcast.
type Draft struct {
	Coin       *coin.Coin
	Inputs     []DraftInput
	Outputs    []DraftOutput
	Fee        uint64
	FeeRate    tx.FeeRate
	DustFolded uint64

	// Size is the worst-case estimate the fee was computed from.
	Size       tx.Size
	// SignedSize is measured by Sign and never exceeds Size.
	SignedSize tx.Size

	signed *wire.MsgTx
}

// Builder turns payment requests into drafts and signs them.
type Builder struct {
	registry *Registry
	log      zerolog.Logger
}

// NewBuilder returns a builder that resolves input ownership and change
// addresses through reg.
func NewBuilder(reg *Registry) *Builder {
	return &Builder{registry: reg, log: klog.TxBuilder}
}

// Build selects inputs and lays out the outputs of a payment. Outputs are
// ordered recipient first, then change.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (*Draft, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := req.Coin
	if c == nil {
		return nil, fmt.Errorf("%w: no coin", ErrInvalidParameter)
	}
	if req.Amount == 0 || req.Amount > coin.MaxUnits {
		return nil, fmt.Errorf("%w: amount %d", ErrInvalidParameter, req.Amount)
	}
	if req.FeeRate < 0 {
		return nil, fmt.Errorf("%w: fee rate %d", ErrInvalidParameter, req.FeeRate)
	}

	recipient, err := c.NormalizeAddress(req.Recipient)
	if err != nil {
		return nil, err
	}
	recipientScript, err := c.PayToAddrScript(recipient)
	if err != nil {
		return nil, err
	}
	if !req.SubtractFee {
		if err := c.CheckOutput(req.Amount, recipientScript); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
		}
	}

	candidates, err := b.candidates(req)
	if err != nil {
		return nil, err
	}

	var changeScript []byte
	if req.Change == ChangeFresh {
		changeScript, err = placeholderScript(c, req.changeEncoding())
		if err != nil {
			return nil, err
		}
	}

	sel, err := SelectCoins(SelectRequest{
		Coin:            c,
		Candidates:      candidates,
		Policy:          req.Policy,
		Manual:          req.Manual,
		Target:          req.Amount,
		FeeRate:         req.FeeRate,
		RecipientScript: recipientScript,
		ChangeScript:    changeScript,
		SubtractFee:     req.SubtractFee,
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d := &Draft{
		Coin:       c,
		Fee:        sel.Fee,
		FeeRate:    req.FeeRate,
		DustFolded: sel.DustFolded,
		Size:       sel.Size,
	}
	for _, in := range sel.Inputs {
		d.Inputs = append(d.Inputs, DraftInput{
			Outpoint: in.Outpoint,
			Amount:   in.Amount,
			Address:  in.Address,
			Path:     in.Path,
			PkScript: in.PkScript,
		})
	}
	d.Outputs = append(d.Outputs, DraftOutput{
		Address:  recipient,
		Value:    sel.Recipient,
		PkScript: recipientScript,
	})

	if sel.Change > 0 {
		d.Outputs = append(d.Outputs, changeOutput(req, sel, d.Inputs[0]))
	}

	b.log.Debug().
		Str("coin", c.Ticker).
		Int("inputs", len(d.Inputs)).
		Uint64("amount", sel.Recipient).
		Uint64("fee", d.Fee).
		Uint64("change", sel.Change).
		Uint64("dust_folded", d.DustFolded).
		Int64("vsize", d.Size.Virtual).
		Msg("Transaction built")
	return d, nil
}

// candidates resolves the owning address of each UTXO. Outputs of unknown
// or watch-only addresses are skipped, unless the user chose them.
func (b *Builder) candidates(req BuildRequest) ([]Candidate, error) {
	chosen := make(map[types.Outpoint]bool, len(req.Manual))
	for _, op := range req.Manual {
		chosen[op] = true
	}

	out := make([]Candidate, 0, len(req.UTXOs))
	for _, u := range req.UTXOs {
		a, err := b.registry.Lookup(req.Coin, u.Address)
		if err != nil || !a.Derived() {
			if req.Policy == Manual && chosen[u.Outpoint] {
				return nil, fmt.Errorf("%w: %s is not spendable by this wallet", ErrInvalidParameter, u.Outpoint)
			}
			continue
		}
		script, err := req.Coin.PayToAddrScript(a.Address)
		if err != nil {
			return nil, err
		}
		u.Address = a.Address
		out = append(out, Candidate{UTXO: u, PkScript: script, Path: a.Path})
	}
	return out, nil
}

// changeOutput lays out the change. A fresh change address is only derived
// at signing, so a draft that is never signed leaves the change chain
// watermark where it was.
func changeOutput(req BuildRequest, sel *CoinSelection, first DraftInput) DraftOutput {
	if req.Change == ChangeReuseSource {
		return DraftOutput{
			Address:  first.Address,
			Value:    sel.Change,
			PkScript: first.PkScript,
			Change:   true,
		}
	}
	return DraftOutput{
		Value:    sel.Change,
		PkScript: sel.ChangeScript,
		Change:   true,
		fresh:    true,
		encoding: req.changeEncoding(),
	}
}

// assignChange derives the fresh change address of d. Its script has the
// size of the placeholder the fee was estimated with.
func (b *Builder) assignChange(d *Draft, ks KeyDeriver) error {
	for i := range d.Outputs {
		out := &d.Outputs[i]
		if !out.fresh {
			continue
		}
		a, err := b.registry.CreateChangeAddress(ks, d.Coin, out.encoding)
		if err != nil {
			return err
		}
		script, err := d.Coin.PayToAddrScript(a.Address)
		if err != nil {
			return err
		}
		if len(script) != len(out.PkScript) {
			return fmt.Errorf("change script is %d bytes, estimated %d", len(script), len(out.PkScript))
		}
		out.Address = a.Address
		out.PkScript = script
		out.fresh = false
	}
	return nil
}

// placeholderScript returns an output script of the same size as a real
// one of the encoding, for sizing.
func placeholderScript(c *coin.Coin, enc coin.Encoding) ([]byte, error) {
	hash := make([]byte, 20)
	var (
		addr btcutil.Address
		err  error
	)
	switch enc {
	case coin.Legacy:
		addr, err = btcutil.NewAddressPubKeyHash(hash, c.Params)
	case coin.Segwit:
		addr, err = btcutil.NewAddressWitnessPubKeyHash(hash, c.Params)
	default:
		return nil, fmt.Errorf("%w: change encoding %v", ErrInvalidParameter, enc)
	}
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(addr)
}

// Sign derives the key of every input and signs the draft. Each input is
// checked with the script engine.
func (b *Builder) Sign(d *Draft, ks KeyDeriver) error {
	if !ks.IsUnlocked() {
		return fmt.Errorf("%w: %w", ErrSigning, ErrLocked)
	}
	inputs := d.txInputs()
	keys := make([]*btcec.PrivateKey, len(d.Inputs))
	defer func() {
		for _, k := range keys {
			if k != nil {
				k.Zero()
			}
		}
	}()
	for i, in := range d.Inputs {
		hd, err := ks.DeriveKey(in.Path)
		if err != nil {
			return fmt.Errorf("%w: input %d: %w", ErrSigning, i, err)
		}
		priv, err := hd.PrivateKey()
		hd.Zero()
		if err != nil {
			return fmt.Errorf("%w: input %d: %v", ErrSigning, i, err)
		}
		keys[i] = priv
	}
	if err := b.assignChange(d, ks); err != nil {
		return fmt.Errorf("%w: change address: %w", ErrSigning, err)
	}

	msgTx := d.unsigned()
	if err := tx.Sign(msgTx, inputs, keys); err != nil {
		b.log.Debug().Err(err).Str("coin", d.Coin.Ticker).Msg("Signing failed")
		return fmt.Errorf("%w: %v", ErrSigning, err)
	}
	d.signed = msgTx
	d.SignedSize = tx.Measure(msgTx)

	b.log.Info().
		Str("coin", d.Coin.Ticker).
		Str("txid", msgTx.TxHash().String()).
		Int64("vsize", d.SignedSize.Virtual).
		Uint64("fee", d.Fee).
		Msg("Transaction signed")
	return nil
}

func (d *Draft) txInputs() []tx.Input {
	inputs := make([]tx.Input, len(d.Inputs))
	for i, in := range d.Inputs {
		inputs[i] = tx.Input{Outpoint: in.Outpoint, Amount: in.Amount, PkScript: in.PkScript}
	}
	return inputs
}

func (d *Draft) unsigned() *wire.MsgTx {
	b := tx.NewBuilder()
	for _, in := range d.txInputs() {
		b.AddInput(in)
	}
	for _, out := range d.Outputs {
		b.AddOutput(out.Value, out.PkScript)
	}
	return b.Build()
}

// Signed reports whether Sign has completed.
func (d *Draft) Signed() bool {
	return d.signed != nil
}

// SignedHex returns the hex wire encoding of the signed transaction.
func (d *Draft) SignedHex() (string, error) {
	if d.signed == nil {
		return "", ErrNotSigned
	}
	return tx.SerializeHex(d.signed)
}

// TxID returns the id of the signed transaction.
func (d *Draft) TxID() (string, error) {
	if d.signed == nil {
		return "", ErrNotSigned
	}
	return d.signed.TxHash().String(), nil
}

// TotalIn returns the sum of the inputs.
func (d *Draft) TotalIn() uint64 {
	var total uint64
	for _, in := range d.Inputs {
		total += in.Amount
	}
	return total
}

// Preview is the summary shown to the user before signing.
type Preview struct {
	Coin          string
	Recipient     string
	Amount        uint64
	Fee           uint64
	FeeRate       tx.FeeRate
	Change        uint64
	ChangeAddress string
	DustFolded    uint64
	Inputs        int
	VSize         int64
}

// Preview summarizes the draft.
func (d *Draft) Preview() Preview {
	p := Preview{
		Coin:    d.Coin.Ticker,
		Fee:     d.Fee,
		FeeRate: d.FeeRate,
		Inputs:  len(d.Inputs),
		VSize:   d.Size.Virtual,

		DustFolded: d.DustFolded,
	}
	for _, out := range d.Outputs {
		if out.Change {
			p.Change = out.Value
			p.ChangeAddress = out.Address
			continue
		}
		p.Recipient = out.Address
		p.Amount = out.Value
	}
	return p
}

// String formats the preview for a terminal.
func (p Preview) String() string {
	c, err := coin.ByTicker(p.Coin)
	format := coin.FormatAmount
	if err == nil {
		format = c.FormatAmount
	}
	var s strings.Builder
	fmt.Fprintf(&s, "Send:      %s\n", format(p.Amount))
	fmt.Fprintf(&s, "To:        %s\n", p.Recipient)
	fmt.Fprintf(&s, "Fee:       %s (%s, %d vB)\n", format(p.Fee), p.FeeRate, p.VSize)
	switch {
	case p.Change > 0 && p.ChangeAddress == "":
		fmt.Fprintf(&s, "Change:    %s to a new change address\n", format(p.Change))
	case p.Change > 0:
		fmt.Fprintf(&s, "Change:    %s to %s\n", format(p.Change), p.ChangeAddress)
	}
	if p.DustFolded > 0 {
		fmt.Fprintf(&s, "Dust fee:  %s (change too small to keep)\n", format(p.DustFolded))
	}
	fmt.Fprintf(&s, "Inputs:    %d\n", p.Inputs)
	fmt.Fprintf(&s, "Total:     %s\n", format(p.Amount+p.Fee))
	return s.String()
}
