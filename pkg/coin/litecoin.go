package coin

import (
	"errors"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	ltcchaincfg "github.com/ltcsuite/ltcd/chaincfg"
)

var (
	litecoinMainNetParams = litecoinParams(chaincfg.MainNetParams, &ltcchaincfg.MainNetParams)
	litecoinTestNetParams = litecoinParams(chaincfg.TestNet3Params, &ltcchaincfg.TestNet4Params)
)

// litecoinParams copies the Litecoin network constants into a btcd params
// value so btcutil and txscript can encode and decode Litecoin addresses.
func litecoinParams(base chaincfg.Params, ltc *ltcchaincfg.Params) chaincfg.Params {
	p := base
	p.Name = ltc.Name
	p.Net = wire.BitcoinNet(ltc.Net)
	p.DefaultPort = ltc.DefaultPort
	p.CoinbaseMaturity = ltc.CoinbaseMaturity
	p.GenesisBlock = nil

	// GenesisHash is a pointer into btcd's params; never write through it.
	var genesis chainhash.Hash
	copy(genesis[:], ltc.GenesisHash[:])
	p.GenesisHash = &genesis

	p.PubKeyHashAddrID = ltc.PubKeyHashAddrID
	p.ScriptHashAddrID = ltc.ScriptHashAddrID
	p.PrivateKeyID = ltc.PrivateKeyID
	p.WitnessPubKeyHashAddrID = ltc.WitnessPubKeyHashAddrID
	p.WitnessScriptHashAddrID = ltc.WitnessScriptHashAddrID
	p.Bech32HRPSegwit = ltc.Bech32HRPSegwit

	copy(p.HDPrivateKeyID[:], ltc.HDPrivateKeyID[:])
	copy(p.HDPublicKeyID[:], ltc.HDPublicKeyID[:])
	p.HDCoinType = ltc.HDCoinType

	checkpoints := make([]chaincfg.Checkpoint, len(ltc.Checkpoints))
	for i, cp := range ltc.Checkpoints {
		var h chainhash.Hash
		copy(h[:], cp.Hash[:])
		checkpoints[i] = chaincfg.Checkpoint{Height: cp.Height, Hash: &h}
	}
	p.Checkpoints = checkpoints
	p.DNSSeeds = nil
	return p
}

func init() {
	// Registration makes btcutil recognise the Litecoin bech32 prefixes.
	for _, p := range []*chaincfg.Params{&litecoinMainNetParams, &litecoinTestNetParams} {
		if err := chaincfg.Register(p); err != nil && !errors.Is(err, chaincfg.ErrDuplicateNet) {
			panic("coin: register " + p.Name + ": " + err.Error())
		}
	}
}
