package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"

	envPrefix = "FEED"
)

// Config holds all configuration for the server
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Price     PriceConfig     `mapstructure:"price"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Stream    StreamConfig    `mapstructure:"stream"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Report    ReportConfig    `mapstructure:"report"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port      string `mapstructure:"port"`
	PublicDir string `mapstructure:"public_dir"`
}

type PriceConfig struct {
	Base     float64       `mapstructure:"base"`
	Interval time.Duration `mapstructure:"interval"`
	// Seed 0 means seed from the clock
	Seed int64 `mapstructure:"seed"`
}

type LedgerConfig struct {
	Driver     string `mapstructure:"driver"`
	Path       string `mapstructure:"path"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

type StreamConfig struct {
	Buffer    int           `mapstructure:"buffer"`
	Heartbeat time.Duration `mapstructure:"heartbeat"`
}

type RateLimitConfig struct {
	PurchasesPerMinute int `mapstructure:"purchases_per_minute"`
	Burst              int `mapstructure:"burst"`
}

type AdminConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type ReportConfig struct {
	// Schedule is a cron spec; empty disables the report
	Schedule string `mapstructure:"schedule"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

var keys = []string{
	"server.public_dir",
	"price.base", "price.interval", "price.seed",
	"ledger.driver", "ledger.path", "ledger.sqlite_path",
	"stream.buffer", "stream.heartbeat",
	"ratelimit.purchases_per_minute", "ratelimit.burst",
	"admin.enabled",
	"report.schedule",
	"log.level",
}

// Load reads configuration from defaults, an optional config file, an
// optional .env file and FEED_ prefixed environment variables, in
// increasing precedence. configFile "" looks for config.yaml in the working dir.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	// Load .env into the process environment if present
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, relying on environment")
	}

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.public_dir", "public")
	v.SetDefault("price.base", 1900.0)
	v.SetDefault("price.interval", time.Second)
	v.SetDefault("price.seed", 0)
	v.SetDefault("ledger.driver", DriverFile)
	v.SetDefault("ledger.path", "data/purchases.json")
	v.SetDefault("ledger.sqlite_path", "data/ledger.db")
	v.SetDefault("stream.buffer", 16)
	v.SetDefault("stream.heartbeat", 15*time.Second)
	v.SetDefault("ratelimit.purchases_per_minute", 60)
	v.SetDefault("ratelimit.burst", 10)
	v.SetDefault("admin.enabled", true)
	v.SetDefault("report.schedule", "@every 1m")
	v.SetDefault("log.level", "info")

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}
	// Plain PORT is honoured for hosting platforms that set it
	if err := v.BindEnv("server.port", envPrefix+"_SERVER_PORT", "PORT"); err != nil {
		return nil, fmt.Errorf("failed to bind env for server.port: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	switch {
	case c.Server.Port == "":
		return errors.New("server.port cannot be empty")
	case !(c.Price.Base > 0):
		return fmt.Errorf("price.base must be positive, got %v", c.Price.Base)
	case c.Price.Interval <= 0:
		return fmt.Errorf("price.interval must be positive, got %s", c.Price.Interval)
	case c.Stream.Buffer < 1:
		return fmt.Errorf("stream.buffer must be at least 1, got %d", c.Stream.Buffer)
	case c.Stream.Heartbeat <= 0:
		return fmt.Errorf("stream.heartbeat must be positive, got %s", c.Stream.Heartbeat)
	}

	switch c.Ledger.Driver {
	case DriverFile:
		if c.Ledger.Path == "" {
			return errors.New("ledger.path cannot be empty")
		}
	case DriverSQLite:
		if c.Ledger.SQLitePath == "" {
			return errors.New("ledger.sqlite_path cannot be empty")
		}
	default:
		return fmt.Errorf("ledger.driver must be %q or %q, got %q", DriverFile, DriverSQLite, c.Ledger.Driver)
	}

	if c.Report.Schedule != "" {
		if _, err := cron.ParseStandard(c.Report.Schedule); err != nil {
			return fmt.Errorf("report.schedule is invalid: %w", err)
		}
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level is invalid: %w", err)
	}
	return nil
}

// Addr is the listen address for the HTTP server
func (c *Config) Addr() string {
	if strings.Contains(c.Server.Port, ":") {
		return c.Server.Port
	}
	return ":" + c.Server.Port
}

// LogLevel is the parsed log.level; Validate has already checked it
func (c *Config) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}
