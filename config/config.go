// Package config handles wallet configuration.
//
// Settings come from, in increasing precedence: per-network defaults, the
// klingvault.conf file in the data directory, and command-line flags.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/Klingon-tech/klingvault/internal/wallet"
	"github.com/Klingon-tech/klingvault/pkg/coin"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// Config holds the wallet's runtime configuration.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// Key store encryption for new and re-encrypted records.
	KDF wallet.EncryptionParams

	// Fee estimation
	Fee FeeConfig

	// Chain backends
	Backend BackendConfig

	// Logging
	Log LogConfig
}

// FeeConfig holds fee settings.
type FeeConfig struct {
	TargetBlocks int `conf:"fee.target"`
	// Fallback rates in sat/kvB, used when no estimate is available.
	Rates map[coin.ID]int64 `conf:"fee.<ticker>"`
}

// NodeConfig addresses one coin's node.
type NodeConfig struct {
	URL      string `conf:"backend.<ticker>.url"`
	User     string `conf:"backend.<ticker>.user"`
	Password string `conf:"backend.<ticker>.password"`
}

// BackendConfig holds chain backend settings.
type BackendConfig struct {
	Nodes             map[coin.ID]NodeConfig
	Timeout           time.Duration `conf:"backend.timeout"`
	RequestsPerSecond int           `conf:"backend.rps"`
	LookupConcurrency int           `conf:"backend.concurrency"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.klingvault
//	macOS:   ~/Library/Application Support/Klingvault
//	Windows: %APPDATA%\Klingvault
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".klingvault"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Klingvault")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Klingvault")
		}
		return filepath.Join(home, "AppData", "Roaming", "Klingvault")
	default:
		return filepath.Join(home, ".klingvault")
	}
}

// NetworkDataDir returns the network-specific data directory.
func (c *Config) NetworkDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// WalletDir returns the wallet database directory.
func (c *Config) WalletDir() string {
	return filepath.Join(c.NetworkDataDir(), "wallet")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "klingvault.conf")
}

// Testnet reports whether the config selects the test networks.
func (c *Config) Testnet() bool {
	return c.Network == Testnet
}

// Coins returns the coins of the configured network.
func (c *Config) Coins() []*coin.Coin {
	return coin.ForNetwork(c.Testnet())
}

// FeeRate returns the configured fallback rate for a coin, or zero.
func (c *Config) FeeRate(id coin.ID) int64 {
	return c.Fee.Rates[id]
}
