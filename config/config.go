// Package config handles wallet configuration.
//
// Settings come from three layers, later ones winning: built-in defaults
// for the selected network, the key=value config file in the data
// directory, and command-line flags.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/Klingon-tech/klingnet-wallet/pkg/types"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// AddressHRP returns the bech32 prefix for addresses on this network.
func (n NetworkType) AddressHRP() string {
	if n == Testnet {
		return types.TestnetHRP
	}
	return types.MainnetHRP
}

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Config holds wallet runtime configuration.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// Ledger node the wallet talks to
	Ledger LedgerConfig

	// Keystore backend
	Storage StorageConfig

	// Passphrase hashing
	KDF KDFConfig

	// Wallet
	Wallet WalletConfig

	// Local devnet ledger server
	Devnet DevnetConfig

	// Logging
	Log LogConfig
}

// LedgerConfig holds ledger client settings.
type LedgerConfig struct {
	Endpoint     string        `conf:"ledger.endpoint"`
	Timeout      time.Duration `conf:"ledger.timeout"`
	NetworkID    string        `conf:"ledger.network"` // Bound into every signature.
	AssetCode    string        `conf:"ledger.asset.code"`
	AssetIssuer  string        `conf:"ledger.asset.issuer"`
	PollInterval time.Duration `conf:"ledger.poll"` // Event polling period for watches.
}

// StorageConfig selects and configures the keystore backend.
type StorageConfig struct {
	Backend        string `conf:"storage.backend"` // memory, badger, redis, postgres, sqlite
	RedisAddr      string `conf:"storage.redis.addr"`
	RedisPassword  string `conf:"storage.redis.password"`
	RedisDB        int    `conf:"storage.redis.db"`
	RedisNamespace string `conf:"storage.redis.namespace"`
	PostgresDSN    string `conf:"storage.postgres.dsn"`
	PostgresTable  string `conf:"storage.postgres.table"`
	SQLitePath     string `conf:"storage.sqlite.path"` // Defaults to SQLiteFile().
}

// KDFConfig holds Argon2id parameters. Memory is in KiB.
type KDFConfig struct {
	Memory      uint32 `conf:"kdf.memory"`
	Iterations  uint32 `conf:"kdf.iterations"`
	Parallelism uint8  `conf:"kdf.parallelism"`
}

// WalletConfig holds wallet settings.
type WalletConfig struct {
	AppID string `conf:"wallet.appid"` // Optional 4-character memo prefix.
}

// DevnetConfig holds the devnet ledger server settings.
type DevnetConfig struct {
	Addr        string   `conf:"devnet.addr"`
	Port        int      `conf:"devnet.port"`
	AllowedIPs  []string `conf:"devnet.allowed"`
	CORSOrigins []string `conf:"devnet.cors"` // Allowed CORS origins ("*" = all).
	Faucet      bool     `conf:"devnet.faucet"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.klingwallet
//	macOS:   ~/Library/Application Support/KlingWallet
//	Windows: %APPDATA%\KlingWallet
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".klingwallet"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "KlingWallet")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "KlingWallet")
		}
		return filepath.Join(home, "AppData", "Roaming", "KlingWallet")
	default:
		return filepath.Join(home, ".klingwallet")
	}
}

// NetworkDataDir returns the network-specific data directory.
func (c *Config) NetworkDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// KeystoreDir returns the badger keystore directory.
func (c *Config) KeystoreDir() string {
	return filepath.Join(c.NetworkDataDir(), "keystore")
}

// SQLiteFile returns the sqlite keystore path.
func (c *Config) SQLiteFile() string {
	if c.Storage.SQLitePath != "" {
		return c.Storage.SQLitePath
	}
	return filepath.Join(c.NetworkDataDir(), "keystore.sqlite")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "klingwallet.conf")
}
