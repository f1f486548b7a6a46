// Package config defines the top-level configuration for the fantasy market
// settlement engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by FANTASY_* environment variables.
type Config struct {
	Operator   OperatorConfig   `toml:"operator"`
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Chain      ChainConfig      `toml:"chain"`
	Bridge     BridgeConfig     `toml:"bridge"`
	Settlement SettlementConfig `toml:"settlement"`
	League     LeagueConfig     `toml:"league"`
	Queue      QueueConfig      `toml:"queue"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// OperatorConfig holds the key that signs mint and burn transactions.
type OperatorConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	PriceTTL     duration `toml:"price_ttl"`
	StreamMaxLen int      `toml:"stream_max_len"`
	KeyPrefix    string   `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters. Settlement reports
// are archived here.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ChainConfig describes the chain that holds the reward token and the
// destination chain for bridged stablecoins.
type ChainConfig struct {
	RPCURL            string   `toml:"rpc_url"`
	RewardChain       string   `toml:"reward_chain"`
	RewardToken       string   `toml:"reward_token"`
	RewardDecimals    int      `toml:"reward_decimals"`
	DestinationChain  string   `toml:"destination_chain"`
	DestinationRPCURL string   `toml:"destination_rpc_url"`
	Confirmations     int      `toml:"confirmations"`
	ConfirmTimeout    duration `toml:"confirm_timeout"`
	GasLimit          uint64   `toml:"gas_limit"`
	ProxyFactory      string   `toml:"proxy_factory"`
	ProxyInitCodeHash string   `toml:"proxy_init_code_hash"`
}

// BridgeConfig holds the external bridge provider and transfer guard rails.
type BridgeConfig struct {
	ProviderURL         string   `toml:"provider_url"`
	ProviderAPIKey      string   `toml:"provider_api_key"`
	SourceChain         string   `toml:"source_chain"`
	MaxAmount           string   `toml:"max_amount"`
	RateLimitCount      int      `toml:"rate_limit_count"`
	RateLimitWindow     duration `toml:"rate_limit_window"`
	WebhookSecret       string   `toml:"webhook_secret"`
	WebhookSigningKey   string   `toml:"webhook_signing_key"`
	FallbackDestination string   `toml:"fallback_destination"`
	PollInterval        duration `toml:"poll_interval"`
	PollMaxAttempts     int      `toml:"poll_max_attempts"`
	RequestTimeout      duration `toml:"request_timeout"`
}

// SettlementConfig holds the reconciler retry policy.
type SettlementConfig struct {
	MaxAttempts int      `toml:"max_attempts"`
	RetryDelay  duration `toml:"retry_delay"`
	LockTTL     duration `toml:"lock_ttl"`
	ArchivePath string   `toml:"archive_path"`
}

// LeagueConfig holds per-period league rules. The values are business
// constants carried over as-is.
type LeagueConfig struct {
	MaxPicksPerPeriod int     `toml:"max_picks_per_period"`
	MaxSwapsPerPeriod int     `toml:"max_swaps_per_period"`
	SlippageTolerance float64 `toml:"slippage_tolerance"`
}

// QueueConfig holds background job parameters.
type QueueConfig struct {
	MaxWorkers    int  `toml:"max_workers"`
	RunMigrations bool `toml:"run_migrations"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	APIKey          string   `toml:"api_key"`
	CORSOrigins     []string `toml:"cors_origins"`
	RateLimitCount  int      `toml:"rate_limit_count"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			KeyPrefix:    "fantasy",
			PoolSize:     20,
			MaxRetries:   3,
			PriceTTL:     duration{30 * time.Second},
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "fantasymarket-settlements",
			ForcePathStyle: true,
		},
		Chain: ChainConfig{
			RewardChain:      "base",
			RewardDecimals:   0,
			DestinationChain: "polygon",
			Confirmations:    1,
			ConfirmTimeout:   duration{2 * time.Minute},
			GasLimit:         120_000,
		},
		Bridge: BridgeConfig{
			SourceChain:     "base",
			MaxAmount:       "10000",
			RateLimitCount:  5,
			RateLimitWindow: duration{time.Minute},
			PollInterval:    duration{15 * time.Second},
			PollMaxAttempts: 80,
			RequestTimeout:  duration{15 * time.Second},
		},
		Settlement: SettlementConfig{
			MaxAttempts: 3,
			RetryDelay:  duration{time.Second},
			LockTTL:     duration{10 * time.Minute},
			ArchivePath: "settlements",
		},
		League: LeagueConfig{
			MaxPicksPerPeriod: 5,
			MaxSwapsPerPeriod: 3,
			SlippageTolerance: 0.10,
		},
		Queue: QueueConfig{
			MaxWorkers:    10,
			RunMigrations: true,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitCount:  120,
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"settlement_failed", "transfer_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"worker": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// MaxBridgeAmount parses Bridge.MaxAmount. Validate has already rejected
// malformed values, so callers on a validated config can ignore the error.
func (c *Config) MaxBridgeAmount() (decimal.Decimal, error) {
	return decimal.NewFromString(c.Bridge.MaxAmount)
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, worker, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Operator key: finalize submits mint/burn transactions from the API.
	needsOperator := c.Mode == "server" || c.Mode == "full"
	if needsOperator {
		if c.Operator.PrivateKey == "" && c.Operator.EncryptedKeyPath == "" {
			errs = append(errs, "operator: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Operator.EncryptedKeyPath != "" && c.Operator.KeyPassword == "" {
			errs = append(errs, "operator: key_password is required when encrypted_key_path is set")
		}
		if c.Chain.RewardToken == "" {
			errs = append(errs, "chain: reward_token must be set for mode "+c.Mode)
		}
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis is optional; without it caches, locks and the bus are
	// process-local.
	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
	}

	// Chain
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.RewardToken != "" && !common.IsHexAddress(c.Chain.RewardToken) {
		errs = append(errs, fmt.Sprintf("chain: reward_token %q is not a hex address", c.Chain.RewardToken))
	}
	if c.Chain.RewardDecimals < 0 || c.Chain.RewardDecimals > 18 {
		errs = append(errs, "chain: reward_decimals must be 0-18")
	}
	if c.Chain.Confirmations < 1 {
		errs = append(errs, "chain: confirmations must be >= 1")
	}
	if c.Chain.ProxyFactory != "" {
		if !common.IsHexAddress(c.Chain.ProxyFactory) {
			errs = append(errs, fmt.Sprintf("chain: proxy_factory %q is not a hex address", c.Chain.ProxyFactory))
		}
		if len(common.FromHex(c.Chain.ProxyInitCodeHash)) != common.HashLength {
			errs = append(errs, "chain: proxy_init_code_hash must be a 32-byte hex hash when proxy_factory is set")
		}
	}

	// Bridge
	maxAmount, err := decimal.NewFromString(c.Bridge.MaxAmount)
	if err != nil {
		errs = append(errs, fmt.Sprintf("bridge: max_amount %q is not a number", c.Bridge.MaxAmount))
	} else if !maxAmount.IsPositive() {
		errs = append(errs, "bridge: max_amount must be > 0")
	}
	if c.Bridge.RateLimitCount < 1 {
		errs = append(errs, "bridge: rate_limit_count must be >= 1")
	}
	if c.Bridge.RateLimitWindow.Duration <= 0 {
		errs = append(errs, "bridge: rate_limit_window must be > 0")
	}
	if c.Bridge.FallbackDestination != "" && !common.IsHexAddress(c.Bridge.FallbackDestination) {
		errs = append(errs, fmt.Sprintf("bridge: fallback_destination %q is not a hex address", c.Bridge.FallbackDestination))
	}
	if (c.Mode == "worker" || c.Mode == "full") && c.Bridge.ProviderURL == "" {
		errs = append(errs, "bridge: provider_url must be set for mode "+c.Mode)
	}
	if c.Server.Enabled && c.Mode != "worker" && c.Bridge.WebhookSecret == "" {
		errs = append(errs, "bridge: webhook_secret is required when the HTTP server is enabled")
	}

	// Settlement
	if c.Settlement.MaxAttempts < 1 {
		errs = append(errs, "settlement: max_attempts must be >= 1")
	}
	if c.Settlement.RetryDelay.Duration < 0 {
		errs = append(errs, "settlement: retry_delay must be >= 0")
	}
	if need := c.settleStepBudget(); c.Settlement.LockTTL.Duration <= need {
		errs = append(errs, fmt.Sprintf("settlement: lock_ttl must exceed %s (confirm_timeout plus retry backoff for one user)", need))
	}

	// League rules
	if c.League.MaxPicksPerPeriod < 1 {
		errs = append(errs, "league: max_picks_per_period must be >= 1")
	}
	if c.League.MaxSwapsPerPeriod < 0 {
		errs = append(errs, "league: max_swaps_per_period must be >= 0")
	}
	if c.League.SlippageTolerance < 0 || c.League.SlippageTolerance > 1 {
		errs = append(errs, "league: slippage_tolerance must be within [0, 1]")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitCount > 0 && c.Server.RateLimitWindow.Duration <= 0 {
			errs = append(errs, "server: rate_limit_window must be > 0 when rate_limit_count is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// settleStepBudget is the longest a finalize run can spend on one user
// between lock extensions: every submit backoff plus one confirmation wait.
func (c *Config) settleStepBudget() time.Duration {
	n := c.Settlement.MaxAttempts
	if n < 1 {
		n = 1
	}
	backoff := time.Duration(n*(n-1)/2) * c.Settlement.RetryDelay.Duration
	return c.Chain.ConfirmTimeout.Duration + backoff
}
