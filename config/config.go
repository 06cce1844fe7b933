package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config struct to hold the configuration settings
type Config struct {
	Postgres      PostgresConfig      `yaml:"postgres"`
	NATS          NATSConfig          `yaml:"nats"`
	Redis         RedisConfig         `yaml:"redis"`
	Locks         LocksConfig         `yaml:"locks"`
	Wallet        WalletConfig        `yaml:"wallet"`
	Match         MatchConfig         `yaml:"match"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// PostgresConfig holds Postgres configuration.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// NATSConfig holds NATS configuration.
type NATSConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds the handshake store and lock backend connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LocksConfig selects the distributed lock backend (redis|nats).
type LocksConfig struct {
	Backend string        `yaml:"backend"`
	Bucket  string        `yaml:"bucket"`
	TTL     time.Duration `yaml:"ttl"`
}

// WalletConfig holds the prize distribution client settings.
type WalletConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RatePerSecond  float64       `yaml:"rate_per_second"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// MatchConfig holds the match lifecycle timings.
type MatchConfig struct {
	ConfirmWindow time.Duration `yaml:"confirm_window"`
	WarningAfter  time.Duration `yaml:"warning_after"`
	ScanInterval  time.Duration `yaml:"scan_interval"`
	NoShowGrace   time.Duration `yaml:"no_show_grace"`
	ReportWindow  time.Duration `yaml:"report_window"`
	HandshakeTTL  time.Duration `yaml:"handshake_ttl"`
}

// ObservabilityConfig holds configuration for observability components
type ObservabilityConfig struct {
	MetricsAddress string `yaml:"metrics_address"`
	Environment    string `yaml:"environment"`
	LogLevel       string `yaml:"log_level"`
}

// Default returns a configuration with every timing at its default.
func Default() Config {
	return Config{
		Redis: RedisConfig{Addr: "localhost:6379"},
		Locks: LocksConfig{
			Backend: "redis",
			Bucket:  "matchflow-locks",
			TTL:     30 * time.Second,
		},
		Wallet: WalletConfig{
			RatePerSecond:  5,
			RequestTimeout: 10 * time.Second,
		},
		Match: MatchConfig{
			ConfirmWindow: 15 * time.Minute,
			WarningAfter:  10 * time.Minute,
			ScanInterval:  60 * time.Second,
			NoShowGrace:   2 * time.Hour,
			ReportWindow:  60 * time.Minute,
			HandshakeTTL:  6 * time.Hour,
		},
		Observability: ObservabilityConfig{
			MetricsAddress: ":9090",
			Environment:    "development",
			LogLevel:       "info",
		},
	}
}

// LoadConfig loads the configuration from a YAML file layered over the
// defaults. A missing file is not an error; environment variables (optionally
// from a .env file) override both.
func LoadConfig(filename string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := Default()

	data, err := os.ReadFile(filename)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// --- OVERRIDE WITH ENV VARS IF PRESENT ---
func applyEnv(cfg *Config) error {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REDIS_DB value: %w", err)
		}
		cfg.Redis.DB = n
	}
	if v := os.Getenv("LOCK_BACKEND"); v != "" {
		cfg.Locks.Backend = v
	}
	if v := os.Getenv("WALLET_BASE_URL"); v != "" {
		cfg.Wallet.BaseURL = v
	}
	if v := os.Getenv("WALLET_RATE_PER_SECOND"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid WALLET_RATE_PER_SECOND value: %w", err)
		}
		cfg.Wallet.RatePerSecond = f
	}
	if v := os.Getenv("METRICS_ADDRESS"); v != "" {
		cfg.Observability.MetricsAddress = v
	}
	if v := os.Getenv("ENV"); v != "" {
		cfg.Observability.Environment = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"MATCH_CONFIRM_WINDOW", &cfg.Match.ConfirmWindow},
		{"MATCH_WARNING_AFTER", &cfg.Match.WarningAfter},
		{"MATCH_SCAN_INTERVAL", &cfg.Match.ScanInterval},
		{"MATCH_NO_SHOW_GRACE", &cfg.Match.NoShowGrace},
		{"MATCH_REPORT_WINDOW", &cfg.Match.ReportWindow},
		{"MATCH_HANDSHAKE_TTL", &cfg.Match.HandshakeTTL},
		{"LOCK_TTL", &cfg.Locks.TTL},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s value: %w", d.env, err)
		}
		*d.dst = parsed
	}
	return nil
}

// Validate checks the settings the process cannot start without.
func (c *Config) Validate() error {
	if c.Postgres.DSN == "" {
		return errors.New("DATABASE_URL environment variable not set")
	}
	if c.NATS.URL == "" {
		return errors.New("NATS_URL environment variable not set")
	}
	switch c.Locks.Backend {
	case "redis", "nats":
	default:
		return fmt.Errorf("unknown lock backend %q", c.Locks.Backend)
	}
	if c.Match.WarningAfter >= c.Match.ConfirmWindow {
		return fmt.Errorf("warning_after (%s) must be shorter than confirm_window (%s)", c.Match.WarningAfter, c.Match.ConfirmWindow)
	}
	return nil
}
