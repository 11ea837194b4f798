package config

import "time"

// DefaultMainnet returns the default wallet configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		Ledger: LedgerConfig{
			Endpoint:     "http://127.0.0.1:8545/",
			Timeout:      10 * time.Second,
			NetworkID:    "klingnet-mainnet",
			PollInterval: time.Second,
		},
		Storage: StorageConfig{
			Backend:        BackendBadger,
			RedisAddr:      "127.0.0.1:6379",
			RedisNamespace: "klingwallet",
			PostgresTable:  "wallet_kv",
		},
		// libsodium "interactive" limits.
		KDF: KDFConfig{
			Memory:      64 * 1024,
			Iterations:  2,
			Parallelism: 1,
		},
		Devnet: DevnetConfig{
			Addr:       "127.0.0.1",
			Port:       8545,
			AllowedIPs: []string{"127.0.0.1"},
			Faucet:     true,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultTestnet returns the default wallet configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Testnet
	cfg.Ledger.Endpoint = "http://127.0.0.1:8645/"
	cfg.Ledger.NetworkID = "klingnet-testnet"
	cfg.Devnet.Port = 8645
	return cfg
}

// Default returns the default wallet configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Testnet:
		return DefaultTestnet()
	default:
		return DefaultMainnet()
	}
}
