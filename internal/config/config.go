package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	KIS      KISConfig      `yaml:"kis"`
	Store    StoreConfig    `yaml:"store"`
	Watch    WatchConfig    `yaml:"watch"`
	Server   ServerConfig   `yaml:"server"`
	Schedule ScheduleConfig `yaml:"schedule"`
}

// KISConfig holds brokerage API settings
type KISConfig struct {
	AppKey    string        `yaml:"app_key"`
	AppSecret string        `yaml:"app_secret"`
	BaseURL   string        `yaml:"base_url"`
	RateLimit int           `yaml:"rate_limit"` // requests per minute
	Timeout   time.Duration `yaml:"timeout"`
}

// StoreConfig selects the durable key-value backend
type StoreConfig struct {
	Backend  string `yaml:"backend"` // memory, file, redis, sqlite
	RedisURL string `yaml:"redis_url"`
	Dir      string `yaml:"dir"`         // file backend
	SQLite   string `yaml:"sqlite_path"` // sqlite backend
}

// WatchConfig holds the fixed watch-list
type WatchConfig struct {
	Codes []string          `yaml:"codes"`
	Names map[string]string `yaml:"names"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port       int    `yaml:"port"`
	CronSecret string `yaml:"cron_secret"`
}

// ScheduleConfig holds cron expressions (seconds field included)
type ScheduleConfig struct {
	Timezone string   `yaml:"timezone"`
	LogCrons []string `yaml:"log_crons"`
	Backfill string   `yaml:"backfill_cron"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		KIS: KISConfig{
			AppKey:    os.Getenv("KIS_APP_KEY"),
			AppSecret: os.Getenv("KIS_APP_SECRET"),
			BaseURL:   "https://openapi.koreainvestment.com:9443",
			RateLimit: 300,
			Timeout:   30 * time.Second,
		},
		Store: StoreConfig{
			Backend: "memory",
			Dir:     ".stockwatch",
			SQLite:  "stockwatch.db",
		},
		Watch: WatchConfig{
			Codes: []string{"005930", "000660", "005380", "207940", "006400"},
			Names: map[string]string{
				"005930": "삼성전자",
				"000660": "SK하이닉스",
				"005380": "현대차",
				"207940": "삼성바이오로직스",
				"006400": "삼성SDI",
			},
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Schedule: ScheduleConfig{
			Timezone: "Asia/Seoul",
			LogCrons: []string{
				"0 30-55/5 9 * * 1-5",
				"0 0-30/5 10 * * 1-5",
			},
			Backfill: "0 5 11 * * 1-5",
		},
	}
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overrides file values with environment variables if set
func (c *Config) applyEnv() {
	if v := os.Getenv("KIS_APP_KEY"); v != "" {
		c.KIS.AppKey = v
	}
	if v := os.Getenv("KIS_APP_SECRET"); v != "" {
		c.KIS.AppSecret = v
	}
	for _, key := range []string{"REDIS_URL", "KV_URL", "UPSTASH_REDIS_URL"} {
		if v := os.Getenv(key); v != "" {
			c.Store.RedisURL = v
			if os.Getenv("STOCKWATCH_STORE") == "" {
				c.Store.Backend = "redis"
			}
			break
		}
	}
	if v := os.Getenv("STOCKWATCH_STORE"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("CRON_SECRET"); v != "" {
		c.Server.CronSecret = v
	}
	if v := os.Getenv("STOCKWATCH_CODES"); v != "" {
		c.Watch.Codes = SplitCodes(v)
	}
}

// Validate checks if the configuration is valid.
// Missing credentials are not an error here: commands that need a token
// fail later with a ConfigError, while read-only commands still work.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory", "file", "sqlite":
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("redis backend requires REDIS_URL, KV_URL or UPSTASH_REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if len(c.Watch.Codes) == 0 {
		return fmt.Errorf("watch list must contain at least one stock code")
	}
	if c.KIS.RateLimit < 1 {
		return fmt.Errorf("kis.rate_limit must be at least 1")
	}
	if c.KIS.Timeout <= 0 {
		return fmt.Errorf("kis.timeout must be positive")
	}
	return nil
}

// SplitCodes parses a comma-separated list of stock codes
func SplitCodes(s string) []string {
	var codes []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			codes = append(codes, c)
		}
	}
	return codes
}
