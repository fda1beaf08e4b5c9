package wallet

import (
	"time"

	"github.com/Klingon-tech/klingvault/pkg/coin"
)

// Address is a wallet address entry. Derived addresses carry the path of
// their key; watch-only addresses have no path and cannot sign.
type Address struct {
	Coin      coin.ID        `json:"coin"`
	Address   string         `json:"address"`
	Encoding  coin.Encoding  `json:"encoding"`
	Path      DerivationPath `json:"path,omitempty"`
	WatchOnly bool           `json:"watch_only,omitempty"`
	Label     string         `json:"label,omitempty"`
	Comment   string         `json:"comment,omitempty"`
	Hidden    bool           `json:"hidden,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Derived reports whether the wallet holds the key for this address.
func (a *Address) Derived() bool {
	return !a.WatchOnly && a.Path.IsAddressPath()
}

// IsChange reports whether the address is on the internal chain.
func (a *Address) IsChange() bool {
	return a.Derived() && a.Path.Chain() == ChainInternal
}

func (a *Address) clone() *Address {
	c := *a
	c.Path = append(DerivationPath(nil), a.Path...)
	return &c
}
