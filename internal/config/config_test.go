package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("server.port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Sync.Interval != 5*time.Second {
		t.Errorf("sync.interval = %s, want 5s", cfg.Sync.Interval)
	}
	if cfg.Auth.TokenTTL != 24*time.Hour {
		t.Errorf("auth.token_ttl = %s, want 24h", cfg.Auth.TokenTTL)
	}
	if cfg.Telegram.BaseURL != "https://api.telegram.org" {
		t.Errorf("telegram.base_url = %q", cfg.Telegram.BaseURL)
	}
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  port: 9100
sync:
  interval: 2s
logging:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("server.port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Sync.Interval != 2*time.Second {
		t.Errorf("sync.interval = %s, want 2s", cfg.Sync.Interval)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("logging.format = %q, want json", cfg.Logging.Format)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed config file must fail to load")
	}
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
database:
  url: postgres://file/db
vault:
  master_key: file-key-file-key-file-key-file-key
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("JWT_SECRET_KEY", "env-secret")
	t.Setenv("TELEGRAM_BOT_TOKEN", "env-token")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.URL != "postgres://env/db" {
		t.Errorf("database.url = %q, want the env value", cfg.Database.URL)
	}
	if cfg.Auth.JWTSecret != "env-secret" {
		t.Errorf("auth.jwt_secret = %q, want the env value", cfg.Auth.JWTSecret)
	}
	if cfg.Telegram.BotToken != "env-token" {
		t.Errorf("telegram.bot_token = %q, want the env value", cfg.Telegram.BotToken)
	}
	if cfg.Vault.MasterKey != "file-key-file-key-file-key-file-key" {
		t.Errorf("vault.master_key = %q, want the file value", cfg.Vault.MasterKey)
	}
}

func validConfig() *Config {
	cfg := &Config{}
	cfg.Database.URL = "postgres://localhost/signalbridge"
	cfg.Vault.MasterKey = "0123456789abcdef0123456789abcdef"
	cfg.Auth.JWTSecret = "secret"
	cfg.Server.Port = 8000
	cfg.Sync.Interval = 5 * time.Second
	return cfg
}

func TestValidate(t *testing.T) {
	t.Parallel()

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing database url", mutate: func(c *Config) { c.Database.URL = "" }},
		{name: "missing master key", mutate: func(c *Config) { c.Vault.MasterKey = "" }},
		{name: "short master key", mutate: func(c *Config) { c.Vault.MasterKey = "too-short" }},
		{name: "missing jwt secret", mutate: func(c *Config) { c.Auth.JWTSecret = "" }},
		{name: "port zero", mutate: func(c *Config) { c.Server.Port = 0 }},
		{name: "port out of range", mutate: func(c *Config) { c.Server.Port = 70000 }},
		{name: "zero sync interval", mutate: func(c *Config) { c.Sync.Interval = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("broken config must fail validation")
			}
		})
	}
}
