package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// envPrefix namespaces every override variable.
const envPrefix = "FANTASY_"

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FANTASY_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load. An empty path skips the
// file and uses defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides lets operators inject secrets and endpoints at deploy
// time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Operator ──
	setStr(&cfg.Operator.PrivateKey, "OPERATOR_PRIVATE_KEY")
	setStr(&cfg.Operator.EncryptedKeyPath, "OPERATOR_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Operator.KeyPassword, "OPERATOR_KEY_PASSWORD")

	// ── Database ──
	setStr(&cfg.Database.DSN, "DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "DATABASE_HOST")
	setInt(&cfg.Database.Port, "DATABASE_PORT")
	setStr(&cfg.Database.Database, "DATABASE_NAME")
	setStr(&cfg.Database.User, "DATABASE_USER")
	setStr(&cfg.Database.Password, "DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.PriceTTL, "REDIS_PRICE_TTL")
	setStr(&cfg.Redis.KeyPrefix, "REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "CHAIN_RPC_URL")
	setStr(&cfg.Chain.RewardChain, "CHAIN_REWARD_CHAIN")
	setStr(&cfg.Chain.RewardToken, "CHAIN_REWARD_TOKEN")
	setStr(&cfg.Chain.DestinationChain, "CHAIN_DESTINATION_CHAIN")
	setStr(&cfg.Chain.DestinationRPCURL, "CHAIN_DESTINATION_RPC_URL")
	setInt(&cfg.Chain.Confirmations, "CHAIN_CONFIRMATIONS")
	setStr(&cfg.Chain.ProxyFactory, "CHAIN_PROXY_FACTORY")
	setStr(&cfg.Chain.ProxyInitCodeHash, "CHAIN_PROXY_INIT_CODE_HASH")

	// ── Bridge ──
	setStr(&cfg.Bridge.ProviderURL, "BRIDGE_PROVIDER_URL")
	setStr(&cfg.Bridge.ProviderAPIKey, "BRIDGE_PROVIDER_API_KEY")
	setStr(&cfg.Bridge.MaxAmount, "BRIDGE_MAX_AMOUNT")
	setInt(&cfg.Bridge.RateLimitCount, "BRIDGE_RATE_LIMIT_COUNT")
	setDuration(&cfg.Bridge.RateLimitWindow, "BRIDGE_RATE_LIMIT_WINDOW")
	setStr(&cfg.Bridge.WebhookSecret, "BRIDGE_WEBHOOK_SECRET")
	setStr(&cfg.Bridge.WebhookSigningKey, "BRIDGE_WEBHOOK_SIGNING_KEY")
	setStr(&cfg.Bridge.FallbackDestination, "BRIDGE_FALLBACK_DESTINATION")

	// ── Settlement ──
	setInt(&cfg.Settlement.MaxAttempts, "SETTLEMENT_MAX_ATTEMPTS")
	setDuration(&cfg.Settlement.RetryDelay, "SETTLEMENT_RETRY_DELAY")

	// ── League ──
	setInt(&cfg.League.MaxPicksPerPeriod, "LEAGUE_MAX_PICKS_PER_PERIOD")
	setInt(&cfg.League.MaxSwapsPerPeriod, "LEAGUE_MAX_SWAPS_PER_PERIOD")
	setFloat64(&cfg.League.SlippageTolerance, "LEAGUE_SLIPPAGE_TOLERANCE")

	// ── Queue ──
	setInt(&cfg.Queue.MaxWorkers, "QUEUE_MAX_WORKERS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStr(&cfg.Server.APIKey, "SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimitCount, "SERVER_RATE_LIMIT_COUNT")
	setDuration(&cfg.Server.RateLimitWindow, "SERVER_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the prefixed
// environment variable is present and non-empty.

func lookup(key string) string {
	return os.Getenv(envPrefix + key)
}

func setStr(dst *string, key string) {
	if v := lookup(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := lookup(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := lookup(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := lookup(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := lookup(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := lookup(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
