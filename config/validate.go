package config

import (
	"fmt"
	"net/url"
)

// Validate checks runtime config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Mainnet, Testnet)
	}

	if cfg.Ledger.Endpoint == "" {
		return fmt.Errorf("ledger.endpoint is required")
	}
	if u, err := url.Parse(cfg.Ledger.Endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("ledger.endpoint must be an http(s) URL")
	}
	if cfg.Ledger.Timeout <= 0 {
		return fmt.Errorf("ledger.timeout must be positive")
	}
	if cfg.Ledger.NetworkID == "" {
		return fmt.Errorf("ledger.network is required")
	}
	if cfg.Ledger.AssetCode != "" && cfg.Ledger.AssetIssuer == "" {
		return fmt.Errorf("ledger.asset.issuer is required when ledger.asset.code is set")
	}
	if cfg.Ledger.PollInterval <= 0 {
		return fmt.Errorf("ledger.poll must be positive")
	}

	switch cfg.Storage.Backend {
	case BackendMemory, BackendBadger, BackendSQLite:
	case BackendRedis:
		if cfg.Storage.RedisAddr == "" {
			return fmt.Errorf("storage.redis.addr is required for the redis backend")
		}
	case BackendPostgres:
		if cfg.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend must be memory, badger, redis, postgres, or sqlite")
	}

	if cfg.KDF.Iterations < 1 {
		return fmt.Errorf("kdf.iterations must be at least 1")
	}
	if cfg.KDF.Parallelism < 1 {
		return fmt.Errorf("kdf.parallelism must be at least 1")
	}
	if cfg.KDF.Memory < 8*uint32(cfg.KDF.Parallelism) {
		return fmt.Errorf("kdf.memory must be at least 8 KiB per lane")
	}

	if cfg.Devnet.Port < 0 || cfg.Devnet.Port > 65535 {
		return fmt.Errorf("devnet.port must be in range [0, 65535]")
	}

	return nil
}
