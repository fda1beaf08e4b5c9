package config

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Klingon-tech/klingvault/internal/wallet"
	"github.com/Klingon-tech/klingvault/pkg/coin"
)

// LoadFile loads configuration values from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse key = value
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.ToLower(strings.TrimSpace(parts[0]))
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct. Keys are
// applied in sorted order, so "kdf" resets the parameters before any
// "kdf.*" override.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := setConfigValue(cfg, key, values[key]); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a config value by key.
func setConfigValue(cfg *Config, key, value string) error {
	switch key {
	// Core
	case "network":
		cfg.Network = NetworkType(strings.ToLower(value))
	case "datadir":
		cfg.DataDir = value

	// Key store encryption
	case "kdf.algorithm", "kdf":
		switch wallet.KDF(strings.ToLower(value)) {
		case wallet.KDFArgon2id:
			cfg.KDF = wallet.DefaultParams()
		case wallet.KDFScrypt:
			cfg.KDF = wallet.DefaultScryptParams()
		default:
			return fmt.Errorf("unknown kdf %q", value)
		}
	case "kdf.memory":
		n, err := parseUint(value, 32)
		if err != nil {
			return err
		}
		cfg.KDF.Memory = uint32(n)
	case "kdf.iterations":
		n, err := parseUint(value, 32)
		if err != nil {
			return err
		}
		cfg.KDF.Iterations = uint32(n)
	case "kdf.parallelism":
		n, err := parseUint(value, 8)
		if err != nil {
			return err
		}
		cfg.KDF.Parallelism = uint8(n)
	case "kdf.scrypt_log_n":
		n, err := parseUint(value, 8)
		if err != nil {
			return err
		}
		cfg.KDF.LogN = uint8(n)
	case "kdf.scrypt_r":
		n, err := parseUint(value, 32)
		if err != nil {
			return err
		}
		cfg.KDF.R = uint32(n)
	case "kdf.scrypt_p":
		n, err := parseUint(value, 32)
		if err != nil {
			return err
		}
		cfg.KDF.P = uint32(n)

	// Fees
	case "fee.target":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Fee.TargetBlocks = n

	// Backends
	case "backend.timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		cfg.Backend.Timeout = d
	case "backend.rps":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Backend.RequestsPerSecond = n
	case "backend.concurrency":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Backend.LookupConcurrency = n

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)

	default:
		return setCoinValue(cfg, key, value)
	}
	return nil
}

// setCoinValue handles the per-coin keys fee.<ticker> and
// backend.<ticker>.{url,user,password}. Other unknown keys are ignored.
func setCoinValue(cfg *Config, key, value string) error {
	parts := strings.Split(key, ".")
	switch {
	case len(parts) == 2 && parts[0] == "fee":
		c, err := coin.ByTicker(parts[1])
		if err != nil {
			return nil
		}
		rate, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		if cfg.Fee.Rates == nil {
			cfg.Fee.Rates = make(map[coin.ID]int64)
		}
		cfg.Fee.Rates[c.ID] = rate
	case len(parts) == 3 && parts[0] == "backend":
		c, err := coin.ByTicker(parts[1])
		if err != nil {
			return nil
		}
		if cfg.Backend.Nodes == nil {
			cfg.Backend.Nodes = make(map[coin.ID]NodeConfig)
		}
		node := cfg.Backend.Nodes[c.ID]
		switch parts[2] {
		case "url":
			node.URL = value
		case "user":
			node.User = value
		case "password":
			node.Password = value
		default:
			return nil
		}
		cfg.Backend.Nodes[c.ID] = node
	}
	return nil
}

// parseBool parses a boolean value.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

func parseUint(s string, bits int) (uint64, error) {
	return strconv.ParseUint(s, 10, bits)
}

// WriteDefaultConfig writes a default configuration file.
func WriteDefaultConfig(path string, network NetworkType) error {
	btc, ltc := "btc", "ltc"
	btcPort, ltcPort := "8332", "9332"
	if network == Testnet {
		btc, ltc = "tbtc", "tltc"
		btcPort, ltcPort = "18332", "19332"
	}
	content := `# Klingvault Wallet Configuration

# Network: mainnet or testnet
network = ` + string(network) + `

# Data directory (default: ~/.klingvault)
# datadir = ~/.klingvault

# ============================================================================
# Key Store Encryption
# ============================================================================

# argon2id (default) or scrypt. Applies to new and re-encrypted wallets;
# existing wallets keep the parameters they were written with.
kdf = argon2id
# kdf.memory = 65536
# kdf.iterations = 3
# kdf.parallelism = 4
# kdf.scrypt_log_n = 18

# ============================================================================
# Fees
# ============================================================================

# Confirmation target in blocks for fee estimates
fee.target = 6

# Fallback fee rates in sat/kvB when the node has no estimate
# fee.` + btc + ` = 5000
# fee.` + ltc + ` = 10000

# ============================================================================
# Chain Backends (bitcoind / litecoind JSON-RPC)
# ============================================================================

backend.` + btc + `.url = http://127.0.0.1:` + btcPort + `
# backend.` + btc + `.user =
# backend.` + btc + `.password =
backend.` + ltc + `.url = http://127.0.0.1:` + ltcPort + `
# backend.` + ltc + `.user =
# backend.` + ltc + `.password =

backend.timeout = 10s
backend.rps = 20
backend.concurrency = 8

# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0600)
}
