package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the stockpit platform.
type Config struct {
	Storage    Storage       `yaml:"storage"`
	Server     Server        `yaml:"server"`
	MarketData MarketData    `yaml:"market_data"`
	Logging    Logging       `yaml:"logging"`
	Collect    CollectConfig `yaml:"collect"`
	Client     ClientConfig  `yaml:"client"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration and the API bearer token.
type Server struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// MarketData holds credentials and endpoints for the market-data provider.
type MarketData struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CollectConfig holds parameters for the history collection job.
type CollectConfig struct {
	Days            int `yaml:"days"`
	MaxWorkers      int `yaml:"max_workers"`
	RateLimitPerMin int `yaml:"rate_limit_per_min"`
}

// ClientConfig configures the dashboard client: where the server lives, where
// the bearer token is stored, and the task-progress watch timings.
type ClientConfig struct {
	ServerURL          string `yaml:"server_url"`
	TokenPath          string `yaml:"token_path"`
	PollIntervalMillis int    `yaml:"poll_interval_ms"`
	SettleHoldSeconds  int    `yaml:"settle_hold_seconds"`
}

// PollInterval returns the configured poll interval as a duration.
func (c ClientConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

// SettleHold returns the configured post-terminal display hold as a duration.
func (c ClientConfig) SettleHold() time.Duration {
	return time.Duration(c.SettleHoldSeconds) * time.Second
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies defaults, and then applies environment variable
// overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// Default returns a Config with defaults applied and env overrides honored,
// for running without a config file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Collect.Days == 0 {
		cfg.Collect.Days = 365
	}
	if cfg.Collect.MaxWorkers == 0 {
		cfg.Collect.MaxWorkers = 5
	}
	if cfg.Collect.RateLimitPerMin == 0 {
		cfg.Collect.RateLimitPerMin = 200
	}
	if cfg.Client.ServerURL == "" {
		cfg.Client.ServerURL = "http://127.0.0.1:8080"
	}
	if cfg.Client.PollIntervalMillis == 0 {
		cfg.Client.PollIntervalMillis = 1500
	}
	if cfg.Client.SettleHoldSeconds == 0 {
		cfg.Client.SettleHoldSeconds = 5
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STOCKPIT_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("STOCKPIT_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("STOCKPIT_AUTH_TOKEN"); v != "" {
		cfg.Server.AuthToken = v
	}
	if v := os.Getenv("STOCKPIT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}

	if v := os.Getenv("STOCKPIT_SERVER_URL"); v != "" {
		cfg.Client.ServerURL = v
	}
	if v := os.Getenv("STOCKPIT_TOKEN_PATH"); v != "" {
		cfg.Client.TokenPath = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.MarketData.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.MarketData.APISecret = v
	}
	if v := os.Getenv("APCA_API_DATA_URL"); v != "" {
		cfg.MarketData.DataURL = v
	}
}
