package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"floor-price-bot/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Discord     DiscordConfig     `mapstructure:"discord"`
	Bot         BotConfig         `mapstructure:"bot"`
	Marketplace MarketplaceConfig `mapstructure:"marketplace"`
	Ethereum    EthereumConfig    `mapstructure:"ethereum"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Health      HealthConfig      `mapstructure:"health"`
	Watchlist   WatchlistConfig   `mapstructure:"watchlist"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	Export      ExportConfig      `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DiscordConfig covers gateway and REST connectivity to Discord.
type DiscordConfig struct {
	Token          string          `mapstructure:"token"`
	APIBase        string          `mapstructure:"api_base"`
	GatewayURL     string          `mapstructure:"gateway_url"`
	Reconnect      ReconnectConfig `mapstructure:"reconnect"`
	ReplyMaxLength int             `mapstructure:"reply_max_length"`
	RequestTimeout time.Duration   `mapstructure:"request_timeout"`
}

// ReconnectConfig tunes the gateway reconnect backoff.
type ReconnectConfig struct {
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
}

// BotConfig governs command handling.
type BotConfig struct {
	Trigger              string        `mapstructure:"trigger"`
	LookupTimeout        time.Duration `mapstructure:"lookup_timeout"`
	MaxConcurrentLookups int           `mapstructure:"max_concurrent_lookups"`
	ShutdownGrace        time.Duration `mapstructure:"shutdown_grace"`
}

// MarketplaceConfig captures marketplace API connectivity.
type MarketplaceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// EthereumConfig covers the on-chain ETH/USD feed used to enrich replies.
type EthereumConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	EthUsdFeed     string        `mapstructure:"ethusd_feed"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// CacheConfig controls the optional floor quote cache.
type CacheConfig struct {
	RedisAddr string        `mapstructure:"redis_addr"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// HealthConfig sets the liveness endpoint listener.
type HealthConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// WatchlistConfig governs the scheduled floor tracker.
type WatchlistConfig struct {
	Collections     []string      `mapstructure:"collections"`
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	TickTimeout     time.Duration `mapstructure:"tick_timeout"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// AlertingConfig defines floor-move alert thresholds and routing.
type AlertingConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	ThresholdPct float64       `mapstructure:"threshold_pct"`
	Cooldown     time.Duration `mapstructure:"cooldown"`
	ChannelID    string        `mapstructure:"channel_id"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FLOORBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "floorbot")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("discord.api_base", "https://discord.com/api/v10")
	v.SetDefault("discord.gateway_url", "wss://gateway.discord.gg/?v=10&encoding=json")
	v.SetDefault("discord.reconnect.initial_backoff", "1s")
	v.SetDefault("discord.reconnect.max_backoff", "60s")
	v.SetDefault("discord.reconnect.max_attempts", 0)
	v.SetDefault("discord.reply_max_length", 2000)
	v.SetDefault("discord.request_timeout", "10s")

	v.SetDefault("bot.trigger", "f")
	v.SetDefault("bot.lookup_timeout", "5s")
	v.SetDefault("bot.max_concurrent_lookups", 4)
	v.SetDefault("bot.shutdown_grace", "5s")

	v.SetDefault("marketplace.base_url", "https://api.opensea.io")
	v.SetDefault("marketplace.request_timeout", "5s")
	v.SetDefault("marketplace.user_agent", "floorbot/1.0")

	v.SetDefault("ethereum.ethusd_feed", "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419")
	v.SetDefault("ethereum.request_timeout", "10s")

	v.SetDefault("cache.ttl", "60s")

	v.SetDefault("health.listen_addr", ":8080")

	v.SetDefault("watchlist.interval", "5m")
	v.SetDefault("watchlist.align_to_bucket", true)
	v.SetDefault("watchlist.startup_delay", "0s")
	v.SetDefault("watchlist.tick_timeout", "30s")
	v.SetDefault("watchlist.advisory_lock_key", 0)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.threshold_pct", 5.0)
	v.SetDefault("alerting.cooldown", "30m")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Bot.Trigger) == "" {
		return fmt.Errorf("bot.trigger must not be empty")
	}
	if strings.ContainsAny(c.Bot.Trigger, " \t\n") {
		return fmt.Errorf("bot.trigger must be a single token")
	}
	if c.Bot.LookupTimeout <= 0 {
		return fmt.Errorf("bot.lookup_timeout must be greater than zero")
	}
	if c.Bot.MaxConcurrentLookups <= 0 {
		return fmt.Errorf("bot.max_concurrent_lookups must be greater than zero")
	}
	if c.Discord.ReplyMaxLength <= 0 {
		return fmt.Errorf("discord.reply_max_length must be greater than zero")
	}
	if c.Discord.Reconnect.InitialBackoff <= 0 {
		return fmt.Errorf("discord.reconnect.initial_backoff must be greater than zero")
	}
	if c.Discord.Reconnect.MaxBackoff < c.Discord.Reconnect.InitialBackoff {
		return fmt.Errorf("discord.reconnect.max_backoff must not be below initial_backoff")
	}
	if c.Watchlist.Interval <= 0 {
		return fmt.Errorf("watchlist.interval must be greater than zero")
	}
	if c.Alerting.ThresholdPct < 0 {
		return fmt.Errorf("alerting.threshold_pct cannot be negative")
	}
	if c.Alerting.Enabled && c.Alerting.ChannelID == "" {
		return fmt.Errorf("alerting.channel_id must be configured when alerting is enabled")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	return nil
}

// ValidateRun checks the extra requirements of the long-running bot. Missing
// credentials are fatal here rather than in Validate so that offline commands
// (show, export, lookup) keep working without a Discord token.
func (c *Config) ValidateRun() error {
	if strings.TrimSpace(c.Discord.Token) == "" {
		return fmt.Errorf("discord.token is required to run the bot")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
