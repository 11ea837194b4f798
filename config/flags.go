package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// Flags holds parsed command-line flags.
type Flags struct {
	// Commands
	Help    bool
	Version bool

	// Core
	Network string
	DataDir string
	Config  string

	// Ledger
	LedgerEndpoint string
	LedgerNetwork  string

	// Storage
	Storage     string
	RedisAddr   string
	PostgresDSN string

	// Devnet server
	DevnetAddr    string
	DevnetPort    int
	DevnetAllowed string
	DevnetCORS    string
	Faucet        bool

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Remaining args
	Args []string

	// Explicitly-set bool flags (for true/false overrides).
	SetFaucet  bool
	SetLogJSON bool
}

// ParseFlags parses command-line flags.
func ParseFlags() *Flags {
	f := &Flags{}
	fs := flag.NewFlagSet("klingwallet-devnet", flag.ContinueOnError)

	// Commands
	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")
	fs.BoolVar(&f.Version, "v", false, "Show version (shorthand)")

	// Core
	fs.StringVar(&f.Network, "network", "", "Network type (mainnet or testnet)")
	fs.StringVar(&f.Network, "testnet", "", "Use testnet (shorthand for --network=testnet)")
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")

	// Ledger
	fs.StringVar(&f.LedgerEndpoint, "ledger", "", "Ledger JSON-RPC endpoint")
	fs.StringVar(&f.LedgerNetwork, "ledger-network", "", "Ledger network id bound into signatures")

	// Storage
	fs.StringVar(&f.Storage, "storage", "", "Keystore backend (memory, badger, redis, postgres, sqlite)")
	fs.StringVar(&f.RedisAddr, "redis-addr", "", "Redis address for the redis backend")
	fs.StringVar(&f.PostgresDSN, "postgres-dsn", "", "Postgres DSN for the postgres backend")

	// Devnet
	fs.StringVar(&f.DevnetAddr, "addr", "", "Devnet listen address")
	fs.IntVar(&f.DevnetPort, "port", 0, "Devnet listen port")
	fs.StringVar(&f.DevnetAllowed, "allowed", "", "Allowed IPs for the devnet server")
	fs.StringVar(&f.DevnetCORS, "cors", "", "Allowed CORS origins (comma-separated)")
	fs.BoolVar(&f.Faucet, "faucet", true, "Expose ledger_fund")

	// Logging
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	fs.Usage = func() {
		printUsage()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	// Handle --testnet shorthand
	if isFlagSet(fs, "testnet") {
		f.Network = "testnet"
	}
	f.SetFaucet = isFlagSet(fs, "faucet")
	f.SetLogJSON = isFlagSet(fs, "log-json")

	f.Args = fs.Args()

	// Detect unparsed flags caused by positional arguments stopping the parser.
	for _, arg := range f.Args {
		if strings.HasPrefix(arg, "-") {
			fmt.Fprintf(os.Stderr, "Error: flag %q was not parsed (positional argument stopped parsing)\n", arg)
			fmt.Fprintf(os.Stderr, "Hint: --faucet is a boolean flag. Use --faucet=false to disable it\n")
			os.Exit(1)
		}
	}

	return f
}

// ApplyFlags applies command-line flags to a Config struct.
func ApplyFlags(cfg *Config, f *Flags) {
	// Core
	if f.Network != "" {
		cfg.Network = NetworkType(f.Network)
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}

	// Ledger
	if f.LedgerEndpoint != "" {
		cfg.Ledger.Endpoint = f.LedgerEndpoint
	}
	if f.LedgerNetwork != "" {
		cfg.Ledger.NetworkID = f.LedgerNetwork
	}

	// Storage
	if f.Storage != "" {
		cfg.Storage.Backend = strings.ToLower(f.Storage)
	}
	if f.RedisAddr != "" {
		cfg.Storage.RedisAddr = f.RedisAddr
	}
	if f.PostgresDSN != "" {
		cfg.Storage.PostgresDSN = f.PostgresDSN
	}

	// Devnet
	if f.DevnetAddr != "" {
		cfg.Devnet.Addr = f.DevnetAddr
	}
	if f.DevnetPort != 0 {
		cfg.Devnet.Port = f.DevnetPort
	}
	if f.DevnetAllowed != "" {
		cfg.Devnet.AllowedIPs = parseStringList(f.DevnetAllowed)
	}
	if f.DevnetCORS != "" {
		cfg.Devnet.CORSOrigins = parseStringList(f.DevnetCORS)
	}
	if f.SetFaucet {
		cfg.Devnet.Faucet = f.Faucet
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

func printUsage() {
	usage := `klingwallet-devnet - in-memory ledger served over JSON-RPC

Usage:
  klingwallet-devnet [options]
  klingwallet-devnet --help

Commands:
  --help, -h      Show this help message
  --version, -v   Show version information

Core Options:
  --network         Network type: mainnet (default) or testnet
  --testnet         Shorthand for --network=testnet
  --datadir         Data directory (default: ~/.klingwallet)
  --config, -c      Config file path (default: <datadir>/klingwallet.conf)
  --ledger-network  Network id bound into signatures

Server Options:
  --addr          Listen address (default: 127.0.0.1)
  --port          Listen port (mainnet: 8545, testnet: 8645)
  --allowed       Allowed IPs (comma-separated)
  --cors          Allowed CORS origins (comma-separated)
  --faucet        Expose ledger_fund (default: true)

Logging Options:
  --log-level     Log level: debug, info, warn, error (default: info)
  --log-file      Log file path (default: stdout)
  --log-json      Output logs as JSON

Examples:
  # Start a mainnet-addressed devnet
  klingwallet-devnet

  # Testnet addresses on a custom port, faucet disabled
  klingwallet-devnet --testnet --port=9000 --faucet=false
`
	fmt.Print(usage)
}

// Load loads configuration with the following precedence:
// 1. Default values
// 2. Auto-create data dirs + default config (idempotent)
// 3. Config file
// 4. Command-line flags
func Load() (*Config, *Flags, error) {
	flags := ParseFlags()

	// Handle help/version
	if flags.Help {
		printUsage()
		os.Exit(0)
	}
	if flags.Version {
		fmt.Println("klingwallet-devnet version 0.1.0")
		os.Exit(0)
	}

	// Determine network first (needed for defaults)
	network := Mainnet
	if flags.Network == "testnet" || strings.ToLower(flags.Network) == "testnet" {
		network = Testnet
	}

	// Start with defaults
	cfg := Default(network)

	// Override datadir if specified
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}

	// Auto-create data directories and default config on first start.
	if err := EnsureDataDirs(cfg); err != nil {
		return nil, nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	// Determine config file path
	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}

	// Load config file
	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config file: %w", err)
	}

	// Apply file config
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, nil, fmt.Errorf("applying config file: %w", err)
	}

	// Apply flags (highest precedence)
	ApplyFlags(cfg, flags)
	if err := Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, flags, nil
}

// LoadFromFile loads config from defaults + conf file only (no CLI flags).
// Used by the wallet CLI, which parses its own per-command flags.
func LoadFromFile(dataDir string, network NetworkType) (*Config, error) {
	cfg := Default(network)
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if err := EnsureDataDirs(cfg); err != nil {
		return nil, fmt.Errorf("ensuring data dirs: %w", err)
	}
	fileValues, err := LoadFile(cfg.ConfigFile())
	if err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, fmt.Errorf("applying config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// EnsureDataDirs creates the data directory structure and a default config
// file if they don't already exist. This is idempotent and safe to call on
// every startup.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.NetworkDataDir(),
		cfg.KeystoreDir(),
		cfg.LogsDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
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
