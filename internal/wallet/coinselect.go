package wallet

import (
	"fmt"
	"sort"

	"github.com/Klingon-tech/klingvault/pkg/coin"
	"github.com/Klingon-tech/klingvault/pkg/tx"
	"github.com/Klingon-tech/klingvault/pkg/types"
)

// SelectionPolicy decides which outputs fund a transaction.
type SelectionPolicy uint8

const (
	// Automatic picks from all spendable outputs.
	Automatic SelectionPolicy = iota
	// Manual spends exactly the outputs the user chose.
	Manual
)

func (p SelectionPolicy) String() string {
	if p == Manual {
		return "manual"
	}
	return "automatic"
}

// Candidate is a spendable output of a derived wallet address.
type Candidate struct {
	types.UTXO
	PkScript []byte
	Path     DerivationPath
}

func (c Candidate) input() tx.Input {
	return tx.Input{Outpoint: c.Outpoint, Amount: c.Amount, PkScript: c.PkScript}
}

// SelectRequest describes what a selection has to pay for.
type SelectRequest struct {
	Coin       *coin.Coin
	Candidates []Candidate
	Policy     SelectionPolicy
	Manual     []types.Outpoint // for Manual, in input order

	Target          uint64
	FeeRate         tx.FeeRate
	RecipientScript []byte
	// ChangeScript sizes the change output. Nil pays change back to the
	// script of the first selected input.
	ChangeScript []byte
	SubtractFee  bool
}

// CoinSelection is a funded set of inputs with exact accounting:
// Total = Recipient + Fee + Change.
type CoinSelection struct {
	Inputs       []Candidate
	Total        uint64
	Recipient    uint64
	Fee          uint64
	Change       uint64
	ChangeScript []byte // nil when there is no change output
	// DustFolded is change below the dust threshold that was added to Fee.
	DustFolded uint64
	Size       tx.Size
}

// SelectCoins funds req.Target from req.Candidates.
//
// Automatic orders candidates confirmed first, then by amount descending,
// then by outpoint, and adds them until the fee for the current input set
// is covered. Manual uses the listed outpoints as given and never adds
// more.
func SelectCoins(req SelectRequest) (*CoinSelection, error) {
	if req.Coin == nil || req.Target == 0 || req.FeeRate < 0 || len(req.RecipientScript) == 0 {
		return nil, fmt.Errorf("%w: selection needs a coin, a positive target and a recipient", ErrInvalidParameter)
	}
	if req.Policy == Manual {
		return selectManual(req)
	}
	return selectAutomatic(req)
}

func selectAutomatic(req SelectRequest) (*CoinSelection, error) {
	candidates := make([]Candidate, 0, len(req.Candidates))
	seen := make(map[types.Outpoint]bool, len(req.Candidates))
	for _, c := range req.Candidates {
		if c.Amount == 0 || seen[c.Outpoint] {
			continue
		}
		seen[c.Outpoint] = true
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no spendable outputs", ErrInsufficientFunds)
	}
	sortCandidates(candidates)

	var (
		selected []Candidate
		total    uint64
		need     uint64
	)
	for _, c := range candidates {
		selected = append(selected, c)
		total += c.Amount

		fee, _, err := feeFor(req, selected, nil)
		if err != nil {
			return nil, err
		}
		need = req.Target
		if !req.SubtractFee {
			need += fee
		}
		if total >= need {
			return resolve(req, selected, total)
		}
	}
	return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, total, need)
}

func selectManual(req SelectRequest) (*CoinSelection, error) {
	if len(req.Manual) == 0 {
		return nil, fmt.Errorf("%w: no outputs chosen", ErrInvalidParameter)
	}
	available := make(map[types.Outpoint]Candidate, len(req.Candidates))
	for _, c := range req.Candidates {
		available[c.Outpoint] = c
	}

	selected := make([]Candidate, 0, len(req.Manual))
	used := make(map[types.Outpoint]bool, len(req.Manual))
	var total uint64
	for _, op := range req.Manual {
		c, ok := available[op]
		if !ok {
			return nil, fmt.Errorf("%w: %s is not a spendable wallet output", ErrInvalidParameter, op)
		}
		if used[op] {
			return nil, fmt.Errorf("%w: %s chosen twice", ErrInvalidParameter, op)
		}
		used[op] = true
		selected = append(selected, c)
		total += c.Amount
	}

	fee, _, err := feeFor(req, selected, nil)
	if err != nil {
		return nil, err
	}
	need := req.Target
	if !req.SubtractFee {
		need += fee
	}
	if total < need {
		return nil, fmt.Errorf("%w: chosen outputs hold %d, need %d", ErrInsufficientFunds, total, need)
	}
	return resolve(req, selected, total)
}

func sortCandidates(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.Confirmed() != b.Confirmed() {
			return a.Confirmed()
		}
		if a.Amount != b.Amount {
			return a.Amount > b.Amount
		}
		return a.Outpoint.Less(b.Outpoint)
	})
}

// feeFor sizes a transaction spending selected to the recipient and, when
// changeScript is set, a change output.
func feeFor(req SelectRequest, selected []Candidate, changeScript []byte) (uint64, tx.Size, error) {
	inputs := make([]tx.Input, len(selected))
	for i, c := range selected {
		inputs[i] = c.input()
	}
	outputs := []tx.Output{{PkScript: req.RecipientScript, Value: req.Target}}
	if changeScript != nil {
		outputs = append(outputs, tx.Output{PkScript: changeScript})
	}
	size, err := tx.EstimateSize(inputs, outputs)
	if err != nil {
		return 0, tx.Size{}, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	return req.FeeRate.FeeForVSize(size.Virtual), size, nil
}

// resolve splits total into recipient, fee and change. Change that would be
// dust is folded into the fee. The caller guarantees total covers the
// target plus the no-change fee.
func resolve(req SelectRequest, selected []Candidate, total uint64) (*CoinSelection, error) {
	changeScript := req.ChangeScript
	if changeScript == nil {
		changeScript = selected[0].PkScript
	}

	sel := &CoinSelection{Inputs: selected, Total: total}

	feeWith, sizeWith, err := feeFor(req, selected, changeScript)
	if err != nil {
		return nil, err
	}
	if req.SubtractFee {
		change := total - req.Target
		if change > 0 && !req.Coin.IsDust(change, changeScript) {
			if feeWith >= req.Target {
				return nil, fmt.Errorf("%w: fee %d exceeds amount %d", ErrInvalidParameter, feeWith, req.Target)
			}
			sel.Recipient = req.Target - feeWith
			sel.Fee = feeWith
			sel.Change = change
			sel.ChangeScript = changeScript
			sel.Size = sizeWith
			return checkRecipient(req, sel)
		}
	} else if total >= req.Target+feeWith {
		change := total - req.Target - feeWith
		if change > 0 && !req.Coin.IsDust(change, changeScript) {
			sel.Recipient = req.Target
			sel.Fee = feeWith
			sel.Change = change
			sel.ChangeScript = changeScript
			sel.Size = sizeWith
			return checkRecipient(req, sel)
		}
	}

	feeNo, sizeNo, err := feeFor(req, selected, nil)
	if err != nil {
		return nil, err
	}
	sel.Size = sizeNo
	if req.SubtractFee {
		if feeNo >= req.Target {
			return nil, fmt.Errorf("%w: fee %d exceeds amount %d", ErrInvalidParameter, feeNo, req.Target)
		}
		sel.Recipient = req.Target - feeNo
		sel.DustFolded = total - req.Target
	} else {
		sel.Recipient = req.Target
		sel.DustFolded = total - req.Target - feeNo
	}
	sel.Fee = feeNo + sel.DustFolded
	return checkRecipient(req, sel)
}

func checkRecipient(req SelectRequest, sel *CoinSelection) (*CoinSelection, error) {
	if err := req.Coin.CheckOutput(sel.Recipient, req.RecipientScript); err != nil {
		return nil, fmt.Errorf("%w: recipient output of %d: %v", ErrInvalidParameter, sel.Recipient, err)
	}
	return sel, nil
}
