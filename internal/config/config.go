package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"fundingwatch/internal/logging"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Supported feed sources.
const (
	SourceHTTP    = "http"
	SourceBinance = "binance"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Bot      BotConfig      `mapstructure:"bot"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects and tunes the alert store backend.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// FeedConfig covers the market-data endpoint.
type FeedConfig struct {
	Source         string        `mapstructure:"source"`
	URL            string        `mapstructure:"url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	Binance        BinanceConfig `mapstructure:"binance"`
}

// BinanceConfig parameterises the Binance futures client.
type BinanceConfig struct {
	BaseURL   string  `mapstructure:"base_url"`
	APIKey    string  `mapstructure:"api_key"`
	SecretKey string  `mapstructure:"secret_key"`
	RateLimit float64 `mapstructure:"rate_limit"`
}

// MonitorConfig governs rate-change detection.
type MonitorConfig struct {
	Threshold        float64       `mapstructure:"threshold"`
	Interval         time.Duration `mapstructure:"interval"`
	LivenessInterval time.Duration `mapstructure:"liveness_interval"`
	HealthReportCron string        `mapstructure:"health_report_cron"` // empty disables
}

// RetryConfig bounds feed retries.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Delay       time.Duration `mapstructure:"delay"`
}

// AlertsConfig governs price-alert evaluation.
type AlertsConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	PriceCacheTTL time.Duration `mapstructure:"price_cache_ttl"`
	ListLimit     int           `mapstructure:"list_limit"`
}

// AlertingConfig defines notification routing.
type AlertingConfig struct {
	OperatorChatID string         `mapstructure:"operator_chat_id"`
	SendTimeout    time.Duration  `mapstructure:"send_timeout"`
	Telegram       TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the send-only Telegram notifier.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	APIBase  string `mapstructure:"api_base"`
}

// BotConfig describes the interactive command bot.
type BotConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Token          string   `mapstructure:"token"`
	AllowedChatIDs []string `mapstructure:"allowed_chat_ids"`
	OpenAlerts     bool     `mapstructure:"open_alerts"`
}

// HTTPConfig enables the operator HTTP surface when Addr is set. When Token
// is empty the /api/v1 endpoints are unauthenticated and Addr should stay on
// a private interface.
type HTTPConfig struct {
	Addr  string `mapstructure:"addr"`
	Token string `mapstructure:"token"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("FUNDINGWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	registerEnvKeys(v)

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
	v.SetDefault("app.name", "fundingwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", "fundingwatch.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.advisory_lock_key", int64(0x66756e64))

	v.SetDefault("feed.source", SourceHTTP)
	v.SetDefault("feed.url", "https://fapi.binance.com/fapi/v1/premiumIndex")
	v.SetDefault("feed.request_timeout", "10s")
	v.SetDefault("feed.user_agent", "fundingwatch/1.0")
	v.SetDefault("feed.binance.rate_limit", 10.0)

	v.SetDefault("monitor.threshold", 0.0005)
	v.SetDefault("monitor.interval", "15s")
	v.SetDefault("monitor.liveness_interval", "5m")
	v.SetDefault("monitor.health_report_cron", "0 * * * *")

	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.delay", "5s")

	v.SetDefault("alerts.interval", "60s")
	v.SetDefault("alerts.price_cache_ttl", "5s")
	v.SetDefault("alerts.list_limit", 20)

	v.SetDefault("alerting.send_timeout", "10s")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("bot.enabled", false)
	v.SetDefault("bot.open_alerts", true)

	v.SetDefault("export.max_data_points", 100000)
}

// registerEnvKeys makes keys without a default visible to Unmarshal, so they
// can come from the environment or .env alone.
func registerEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"logging.time_format",
		"logging.caller",
		"logging.pretty",
		"logging.file",
		"database.dsn",
		"feed.binance.base_url",
		"feed.binance.api_key",
		"feed.binance.secret_key",
		"alerting.operator_chat_id",
		"alerting.telegram.bot_token",
		"bot.token",
		"bot.allowed_chat_ids",
		"http.addr",
		"http.token",
	} {
		_ = v.BindEnv(key)
	}
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
	if c.Monitor.Threshold <= 0 {
		return fmt.Errorf("monitor.threshold must be greater than zero")
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be greater than zero")
	}
	if c.Monitor.LivenessInterval <= 0 {
		return fmt.Errorf("monitor.liveness_interval must be greater than zero")
	}
	if c.Alerts.Interval <= 0 {
		return fmt.Errorf("alerts.interval must be greater than zero")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be greater than zero")
	}
	if c.Retry.Delay < 0 {
		return fmt.Errorf("retry.delay cannot be negative")
	}
	if c.Feed.RequestTimeout <= 0 {
		return fmt.Errorf("feed.request_timeout must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}

	switch c.Feed.Source {
	case SourceHTTP:
		if c.Feed.URL == "" {
			return fmt.Errorf("feed.url is required for the http source")
		}
	case SourceBinance:
	default:
		return fmt.Errorf("feed.source must be %q or %q", SourceHTTP, SourceBinance)
	}

	switch c.Database.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be %q or %q", DriverSQLite, DriverPostgres)
	}

	if c.Alerting.Telegram.Enabled && c.Alerting.Telegram.BotToken == "" {
		return fmt.Errorf("alerting.telegram.bot_token is required when telegram is enabled")
	}
	if c.Bot.Enabled && c.Bot.Token == "" {
		return fmt.Errorf("bot.token is required when the bot is enabled")
	}
	if (c.Alerting.Telegram.Enabled || c.Bot.Enabled) && c.Alerting.OperatorChatID == "" {
		return fmt.Errorf("alerting.operator_chat_id is required when a telegram transport is enabled")
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
