package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Create a temporary YAML config file.
	yamlContent := []byte(`
storage:
  data_dir: "/tmp/stockpit/data"
  sqlite_path: "/tmp/stockpit/stockpit.db"
server:
  host: "0.0.0.0"
  port: 9000
  auth_token: "test-token"
market_data:
  api_key: "test-key"
  api_secret: "test-secret"
  data_url: "https://data.alpaca.markets"
logging:
  level: "debug"
  format: "json"
collect:
  days: 180
  max_workers: 8
  rate_limit_per_min: 120
client:
  server_url: "http://localhost:9000"
  token_path: "/tmp/stockpit/token"
  poll_interval_ms: 2000
  settle_hold_seconds: 3
`)

	tmpFile, err := os.CreateTemp("", "stockpit-config-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(yamlContent); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	if err := tmpFile.Close(); err != nil {
		t.Fatalf("failed to close temp file: %v", err)
	}

	// Clear any environment overrides that might interfere.
	os.Unsetenv("STOCKPIT_DATA_DIR")
	os.Unsetenv("STOCKPIT_AUTH_TOKEN")
	os.Unsetenv("STOCKPIT_SERVER_URL")
	os.Unsetenv("APCA_API_KEY_ID")
	os.Unsetenv("APCA_API_SECRET_KEY")

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.DataDir != "/tmp/stockpit/data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/tmp/stockpit/data")
	}
	if cfg.Storage.SQLitePath != "/tmp/stockpit/stockpit.db" {
		t.Errorf("Storage.SQLitePath = %q, want %q", cfg.Storage.SQLitePath, "/tmp/stockpit/stockpit.db")
	}

	// -- Server --
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if cfg.Server.AuthToken != "test-token" {
		t.Errorf("Server.AuthToken = %q, want %q", cfg.Server.AuthToken, "test-token")
	}

	// -- MarketData --
	if cfg.MarketData.APIKey != "test-key" {
		t.Errorf("MarketData.APIKey = %q, want %q", cfg.MarketData.APIKey, "test-key")
	}
	if cfg.MarketData.DataURL != "https://data.alpaca.markets" {
		t.Errorf("MarketData.DataURL = %q, want %q", cfg.MarketData.DataURL, "https://data.alpaca.markets")
	}

	// -- Logging --
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}

	// -- Collect --
	if cfg.Collect.Days != 180 {
		t.Errorf("Collect.Days = %d, want %d", cfg.Collect.Days, 180)
	}
	if cfg.Collect.MaxWorkers != 8 {
		t.Errorf("Collect.MaxWorkers = %d, want %d", cfg.Collect.MaxWorkers, 8)
	}

	// -- Client --
	if cfg.Client.ServerURL != "http://localhost:9000" {
		t.Errorf("Client.ServerURL = %q, want %q", cfg.Client.ServerURL, "http://localhost:9000")
	}
	if cfg.Client.PollInterval() != 2*time.Second {
		t.Errorf("Client.PollInterval() = %v, want %v", cfg.Client.PollInterval(), 2*time.Second)
	}
	if cfg.Client.SettleHold() != 3*time.Second {
		t.Errorf("Client.SettleHold() = %v, want %v", cfg.Client.SettleHold(), 3*time.Second)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	yamlContent := []byte(`
storage:
  data_dir: "/data"
`)

	tmpFile, err := os.CreateTemp("", "stockpit-config-min-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(yamlContent); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	tmpFile.Close()

	os.Unsetenv("STOCKPIT_PORT")
	os.Unsetenv("STOCKPIT_SERVER_URL")
	os.Unsetenv("LOG_LEVEL")

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want default %d", cfg.Server.Port, 8080)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want default %q", cfg.Logging.Level, "info")
	}
	if cfg.Client.PollInterval() != 1500*time.Millisecond {
		t.Errorf("Client.PollInterval() = %v, want default %v", cfg.Client.PollInterval(), 1500*time.Millisecond)
	}
	if cfg.Client.SettleHold() != 5*time.Second {
		t.Errorf("Client.SettleHold() = %v, want default %v", cfg.Client.SettleHold(), 5*time.Second)
	}
	if cfg.Collect.MaxWorkers != 5 {
		t.Errorf("Collect.MaxWorkers = %d, want default %d", cfg.Collect.MaxWorkers, 5)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	yamlContent := []byte(`
server:
  auth_token: "yaml-token"
storage:
  data_dir: "/original/data"
`)

	tmpFile, err := os.CreateTemp("", "stockpit-config-env-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(yamlContent); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	tmpFile.Close()

	// Set environment overrides.
	os.Setenv("STOCKPIT_AUTH_TOKEN", "env-token")
	os.Setenv("STOCKPIT_DATA_DIR", "/env/data")
	defer os.Unsetenv("STOCKPIT_AUTH_TOKEN")
	defer os.Unsetenv("STOCKPIT_DATA_DIR")

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Server.AuthToken != "env-token" {
		t.Errorf("Server.AuthToken = %q, want %q (env override)", cfg.Server.AuthToken, "env-token")
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q (env override)", cfg.Storage.DataDir, "/env/data")
	}
}

func TestDefaultWithoutFile(t *testing.T) {
	os.Setenv("STOCKPIT_PORT", "9999")
	defer os.Unsetenv("STOCKPIT_PORT")

	// Default() is what the binaries fall back to when no config file
	// exists: built-in defaults plus env overrides.
	cfg := Default()

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want 127.0.0.1", cfg.Server.Host)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999 (env override)", cfg.Server.Port)
	}
	if cfg.Client.PollInterval() != 1500*time.Millisecond {
		t.Errorf("PollInterval = %v, want 1.5s", cfg.Client.PollInterval())
	}
	if cfg.Client.SettleHold() != 5*time.Second {
		t.Errorf("SettleHold = %v, want 5s", cfg.Client.SettleHold())
	}
}
