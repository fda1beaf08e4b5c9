// derive_address.go prints the public key and address at a derivation path
// for a seed phrase read from stdin.
// Usage: echo "<phrase>" | go run scripts/derive_address.go <ticker> <path>
package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/Klingon-tech/klingvault/internal/wallet"
	"github.com/Klingon-tech/klingvault/pkg/coin"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: derive_address <ticker> <path>  (phrase on stdin)")
		os.Exit(1)
	}
	c, err := coin.ByTicker(os.Args[1])
	if err != nil {
		fail(err)
	}
	path, err := wallet.ParseDerivationPath(os.Args[2])
	if err != nil {
		fail(err)
	}
	phrase, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && phrase == "" {
		fail(err)
	}

	material, err := wallet.MaterialFromMnemonic(phrase, "")
	if err != nil {
		fail(err)
	}
	defer material.Zero()
	master, err := wallet.NewMasterKey(material.Seed)
	if err != nil {
		fail(err)
	}
	defer master.Zero()
	key, err := master.DerivePath(path)
	if err != nil {
		fail(err)
	}
	defer key.Zero()

	enc := coin.Legacy
	if len(path) > 0 && path[0] == wallet.HardenedKeyStart+coin.Segwit.Purpose() {
		enc = coin.Segwit
	}
	pub := key.PublicKeyBytes()
	addr, err := c.EncodeAddress(pub, enc)
	if err != nil {
		fail(err)
	}
	fmt.Printf("path=%s\n", path)
	fmt.Printf("pubkey=%s\n", hex.EncodeToString(pub))
	fmt.Printf("address=%s\n", addr)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
