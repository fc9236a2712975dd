package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRADETRIGGER_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRADETRIGGER_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "TRADETRIGGER_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "TRADETRIGGER_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "TRADETRIGGER_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "TRADETRIGGER_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "TRADETRIGGER_POLYMARKET_SIGNATURE_TYPE")

	// ── Kalshi ──
	setStr(&cfg.Kalshi.BaseURL, "TRADETRIGGER_KALSHI_BASE_URL")
	setStr(&cfg.Kalshi.WsURL, "TRADETRIGGER_KALSHI_WS_URL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "TRADETRIGGER_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "TRADETRIGGER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRADETRIGGER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRADETRIGGER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRADETRIGGER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRADETRIGGER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRADETRIGGER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TRADETRIGGER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TRADETRIGGER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TRADETRIGGER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TRADETRIGGER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADETRIGGER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADETRIGGER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADETRIGGER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRADETRIGGER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRADETRIGGER_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "TRADETRIGGER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "TRADETRIGGER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRADETRIGGER_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRADETRIGGER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRADETRIGGER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRADETRIGGER_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "TRADETRIGGER_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "TRADETRIGGER_S3_RETENTION_DAYS")
	setDuration(&cfg.S3.Interval, "TRADETRIGGER_S3_INTERVAL")

	// ── Engine ──
	setDuration(&cfg.Engine.ScanInterval, "TRADETRIGGER_ENGINE_SCAN_INTERVAL")
	setInt(&cfg.Engine.TriggerBuffer, "TRADETRIGGER_ENGINE_TRIGGER_BUFFER")
	setDuration(&cfg.Engine.ExecuteTimeout, "TRADETRIGGER_ENGINE_EXECUTE_TIMEOUT")
	setFloat64(&cfg.Engine.Epsilon, "TRADETRIGGER_ENGINE_EPSILON")

	// ── Refresh ──
	setDuration(&cfg.Refresh.Interval, "TRADETRIGGER_REFRESH_INTERVAL")
	setInt(&cfg.Refresh.PageSize, "TRADETRIGGER_REFRESH_PAGE_SIZE")
	setInt(&cfg.Refresh.MaxMarkets, "TRADETRIGGER_REFRESH_MAX_MARKETS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRADETRIGGER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TRADETRIGGER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TRADETRIGGER_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "TRADETRIGGER_SERVER_API_KEY")

	// ── Security ──
	setStr(&cfg.Security.MasterKey, "TRADETRIGGER_MASTER_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRADETRIGGER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRADETRIGGER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRADETRIGGER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TRADETRIGGER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "TRADETRIGGER_MODE")
	setStr(&cfg.LogLevel, "TRADETRIGGER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
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
