package types

// UTXO is an unspent output reported by a chain backend. Amounts are in the
// coin's smallest unit.
type UTXO struct {
	Outpoint      Outpoint `json:"outpoint"`
	Amount        uint64   `json:"amount"`
	Address       string   `json:"address"`
	Confirmations uint32   `json:"confirmations"`
}

// Confirmed reports whether the output is in a block.
func (u UTXO) Confirmed() bool {
	return u.Confirmations > 0
}

// Sum returns the total amount of utxos.
func Sum(utxos []UTXO) uint64 {
	var total uint64
	for _, u := range utxos {
		total += u.Amount
	}
	return total
}
