package config

import (
	"time"

	"github.com/Klingon-tech/klingvault/internal/wallet"
	"github.com/Klingon-tech/klingvault/pkg/coin"
)

// DefaultMainnet returns the default configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		KDF:     wallet.DefaultParams(),
		Fee: FeeConfig{
			TargetBlocks: wallet.DefaultTargetBlocks,
			Rates:        make(map[coin.ID]int64),
		},
		Backend: BackendConfig{
			// Local nodes on their default RPC ports.
			Nodes: map[coin.ID]NodeConfig{
				coin.Bitcoin:  {URL: "http://127.0.0.1:8332"},
				coin.Litecoin: {URL: "http://127.0.0.1:9332"},
			},
			Timeout:           10 * time.Second,
			RequestsPerSecond: 20,
			LookupConcurrency: wallet.DefaultLookupConcurrency,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultTestnet returns the default configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Testnet
	cfg.Backend.Nodes = map[coin.ID]NodeConfig{
		coin.BitcoinTestnet:  {URL: "http://127.0.0.1:18332"},
		coin.LitecoinTestnet: {URL: "http://127.0.0.1:19332"},
	}
	return cfg
}

// Default returns the default configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Testnet:
		return DefaultTestnet()
	default:
		return DefaultMainnet()
	}
}
