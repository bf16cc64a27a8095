package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Market   Market   `mapstructure:"market"`
	Trading  Trading  `mapstructure:"trading"`
	Catalog  Catalog  `mapstructure:"catalog"`
	Logger   Logger   `mapstructure:"logger"`
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
	Webhook  Webhook  `mapstructure:"webhook"`
}

// Market holds the configuration for the synthetic price feed.
type Market struct {
	TickIntervalMs int     `mapstructure:"tick_interval_ms"`
	PriceScale     float64 `mapstructure:"price_scale"`
	MinPrice       float64 `mapstructure:"min_price"`
}

// TickInterval returns the tick period as a duration.
func (m Market) TickInterval() time.Duration {
	return time.Duration(m.TickIntervalMs) * time.Millisecond
}

// Trading holds the configuration for the trade lifecycle.
type Trading struct {
	DefaultDuration int     `mapstructure:"default_duration"` // seconds
	MaxDuration     int     `mapstructure:"max_duration"`     // seconds
	SweepIntervalMs int     `mapstructure:"sweep_interval_ms"`
	StartingBalance float64 `mapstructure:"starting_balance"`
	CreditRetries   int     `mapstructure:"credit_retries"`
	CreditBackoffMs int     `mapstructure:"credit_backoff_ms"`
}

// Instrument is a catalog entry as written in the config file.
type Instrument struct {
	Symbol     string  `mapstructure:"symbol"`
	Name       string  `mapstructure:"name"`
	BasePrice  float64 `mapstructure:"base_price"`
	Spread     float64 `mapstructure:"spread"`
	Volatility float64 `mapstructure:"volatility"`
}

// Catalog optionally overrides the built-in instrument universe.
type Catalog struct {
	Instruments []Instrument `mapstructure:"instruments"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Server holds the configuration for the web servers.
type Server struct {
	Port   int `mapstructure:"port"`
	UIPort int `mapstructure:"ui_port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Webhook holds the configuration for outbound trade notifications.
// An empty URL disables the webhook.
type Webhook struct {
	URL            string  `mapstructure:"url"`
	Secret         string  `mapstructure:"secret"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("market.tick_interval_ms", 1500)
	v.SetDefault("market.price_scale", 2.0)
	v.SetDefault("market.min_price", 0.0001)

	v.SetDefault("trading.default_duration", 60)
	v.SetDefault("trading.max_duration", 3600)
	v.SetDefault("trading.sweep_interval_ms", 1000)
	v.SetDefault("trading.starting_balance", 10000.0)
	v.SetDefault("trading.credit_retries", 3)
	v.SetDefault("trading.credit_backoff_ms", 200)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.max_size_mb", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age_days", 14)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.ui_port", 8081)
	v.SetDefault("database.dsn", "quicktrade.db")

	v.SetDefault("webhook.rate_limit", 10)     // requests per second
	v.SetDefault("webhook.rate_limit_burst", 5) // burst size
}

// Default returns the configuration with every default applied and no file read.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return
		}
		err = nil
	}

	if err = v.Unmarshal(&config); err != nil {
		return
	}
	err = config.Validate()
	return
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Market.TickIntervalMs <= 0:
		return errors.New("market.tick_interval_ms must be positive")
	case c.Market.MinPrice <= 0:
		return errors.New("market.min_price must be positive")
	case c.Trading.DefaultDuration <= 0:
		return errors.New("trading.default_duration must be positive")
	case c.Trading.MaxDuration < c.Trading.DefaultDuration:
		return errors.New("trading.max_duration must not be below trading.default_duration")
	case c.Trading.SweepIntervalMs <= 0:
		return errors.New("trading.sweep_interval_ms must be positive")
	case c.Trading.CreditRetries < 1:
		return errors.New("trading.credit_retries must be at least 1")
	}
	return nil
}
