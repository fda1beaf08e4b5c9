package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Klingon-tech/klingvault/internal/wallet"
	"github.com/Klingon-tech/klingvault/pkg/coin"
)

// ErrHelp is returned by ParseFlags when -h or --help was given.
var ErrHelp = flag.ErrHelp

// Flags holds parsed global command-line flags.
type Flags struct {
	// Commands
	Version bool

	// Core
	Network string
	Testnet bool
	DataDir string
	Config  string

	// Backends
	RPC         string
	RPCUser     string
	RPCPassword string

	// Key store and fees
	KDF       string
	FeeTarget int

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Remaining args: the subcommand and its arguments.
	Args []string

	// Explicitly-set bool flags (for true/false overrides).
	SetLogJSON bool
}

// ParseFlags parses global flags. Parsing stops at the first non-flag
// argument, which starts the subcommand.
func ParseFlags(args []string) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet("klingvault", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	// Commands; -h and --help are left to the flag set, which reports
	// them as flag.ErrHelp.
	fs.BoolVar(&f.Version, "version", false, "Show version information")

	// Core
	fs.StringVar(&f.Network, "network", "", "Network type (mainnet or testnet)")
	fs.BoolVar(&f.Testnet, "testnet", false, "Use testnet (shorthand for --network=testnet)")
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")

	// Backends
	fs.StringVar(&f.RPC, "rpc", "", "Node endpoints as ticker=url, comma-separated")
	fs.StringVar(&f.RPCUser, "rpc-user", "", "RPC user for the nodes given with --rpc")
	fs.StringVar(&f.RPCPassword, "rpc-password", "", "RPC password for the nodes given with --rpc")

	// Key store and fees
	fs.StringVar(&f.KDF, "kdf", "", "Key derivation function for new wallets (argon2id or scrypt)")
	fs.IntVar(&f.FeeTarget, "fee-target", 0, "Confirmation target in blocks for fee estimates")

	// Logging
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, ErrHelp
		}
		return nil, err
	}

	if f.Testnet {
		f.Network = string(Testnet)
	}
	f.SetLogJSON = isFlagSet(fs, "log-json")
	f.Args = fs.Args()
	return f, nil
}

// ApplyFlags applies command-line flags to a Config struct.
func ApplyFlags(cfg *Config, f *Flags) error {
	// Core
	if f.Network != "" {
		cfg.Network = NetworkType(strings.ToLower(f.Network))
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}

	// Backends
	if f.RPC != "" {
		endpoints, err := parseEndpoints(f.RPC)
		if err != nil {
			return err
		}
		if cfg.Backend.Nodes == nil {
			cfg.Backend.Nodes = make(map[coin.ID]NodeConfig)
		}
		for id, url := range endpoints {
			cfg.Backend.Nodes[id] = NodeConfig{URL: url, User: f.RPCUser, Password: f.RPCPassword}
		}
	}

	// Key store and fees
	if f.KDF != "" {
		switch wallet.KDF(strings.ToLower(f.KDF)) {
		case wallet.KDFArgon2id:
			cfg.KDF = wallet.DefaultParams()
		case wallet.KDFScrypt:
			cfg.KDF = wallet.DefaultScryptParams()
		default:
			return fmt.Errorf("unknown kdf %q", f.KDF)
		}
	}
	if f.FeeTarget != 0 {
		cfg.Fee.TargetBlocks = f.FeeTarget
	}

	// Logging
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
	return nil
}

// parseEndpoints parses "btc=http://host:8332,ltc=http://host:9332".
func parseEndpoints(s string) (map[coin.ID]string, error) {
	out := make(map[coin.ID]string)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		ticker, url, ok := strings.Cut(part, "=")
		if !ok || url == "" {
			return nil, fmt.Errorf("--rpc entry %q: expected ticker=url", part)
		}
		c, err := coin.ByTicker(ticker)
		if err != nil {
			return nil, fmt.Errorf("--rpc entry %q: %w", part, err)
		}
		out[c.ID] = strings.TrimSpace(url)
	}
	return out, nil
}

// isFlagSet checks if a flag was explicitly set.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// Usage is the global flag help shared by the command-line tools.
const Usage = `Global Options:
  --network       Network type: mainnet (default) or testnet
  --testnet       Shorthand for --network=testnet
  --datadir       Data directory (default: ~/.klingvault)
  --config, -c    Config file path (default: <datadir>/klingvault.conf)
  --rpc           Node endpoints, e.g. btc=http://127.0.0.1:8332,ltc=http://127.0.0.1:9332
  --rpc-user      RPC user for the nodes given with --rpc
  --rpc-password  RPC password for the nodes given with --rpc
  --kdf           Key derivation for new wallets: argon2id (default) or scrypt
  --fee-target    Confirmation target in blocks (default: 6)
  --log-level     Log level: debug, info, warn, error (default: info)
  --log-file      Log file path
  --log-json      Output logs as JSON
`

// Load loads configuration with the following precedence:
// 1. Default values for the network (flag, then config file, then mainnet)
// 2. Auto-create data dirs + default config (idempotent)
// 3. Config file
// 4. Command-line flags
func Load(args []string) (*Config, *Flags, error) {
	flags, err := ParseFlags(args)
	if err != nil {
		return nil, nil, err
	}
	if flags.Version {
		return nil, flags, nil
	}

	dataDir := flags.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	configPath := flags.Config
	if configPath == "" {
		configPath = (&Config{DataDir: dataDir}).ConfigFile()
	}

	// Load config file (a missing file yields no values)
	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config file: %w", err)
	}

	// Determine network first (needed for defaults)
	network := Mainnet
	switch {
	case flags.Network != "":
		network = NetworkType(strings.ToLower(flags.Network))
	case fileValues["network"] != "":
		network = NetworkType(strings.ToLower(fileValues["network"]))
	}

	// Start with defaults
	cfg := Default(network)
	cfg.Network = network
	cfg.DataDir = dataDir

	// Apply file config
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, nil, fmt.Errorf("applying config file: %w", err)
	}

	// Apply flags (highest precedence)
	if err := ApplyFlags(cfg, flags); err != nil {
		return nil, nil, fmt.Errorf("applying flags: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	// Auto-create data directories and default config on first start.
	if err := EnsureDataDirs(cfg); err != nil {
		return nil, nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	return cfg, flags, nil
}

// EnsureDataDirs creates the data directory structure and a default config
// file if they don't already exist. Safe to call on every startup.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.NetworkDataDir(),
		cfg.WalletDir(),
		cfg.LogsDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	// Create default config if it doesn't exist.
	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath, cfg.Network); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}

	return nil
}
