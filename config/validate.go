package config

import (
	"fmt"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingvault/pkg/coin"
)

// Validate checks runtime config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Mainnet, Testnet)
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("datadir is empty")
	}
	if err := cfg.KDF.Validate(); err != nil {
		return fmt.Errorf("kdf: %w", err)
	}

	if cfg.Fee.TargetBlocks < 1 || cfg.Fee.TargetBlocks > 1008 {
		return fmt.Errorf("fee.target must be in range [1, 1008]")
	}
	for id, rate := range cfg.Fee.Rates {
		if rate <= 0 {
			return fmt.Errorf("fee.%s must be positive", id)
		}
	}

	if cfg.Backend.Timeout <= 0 {
		return fmt.Errorf("backend.timeout must be positive")
	}
	if cfg.Backend.RequestsPerSecond < 1 {
		return fmt.Errorf("backend.rps must be at least 1")
	}
	if cfg.Backend.LookupConcurrency < 1 {
		return fmt.Errorf("backend.concurrency must be at least 1")
	}
	for id, node := range cfg.Backend.Nodes {
		c, err := coin.ByID(id)
		if err != nil {
			return err
		}
		if c.Testnet != cfg.Testnet() {
			continue
		}
		if err := validateURL(node.URL); err != nil {
			return fmt.Errorf("backend.%s.url: %w", c.Ticker, err)
		}
	}

	if cfg.Log.Level != "" {
		if _, err := zerolog.ParseLevel(cfg.Log.Level); err != nil {
			return fmt.Errorf("log.level: %w", err)
		}
	}
	return nil
}

func validateURL(s string) error {
	if s == "" {
		return fmt.Errorf("empty")
	}
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
