// Package config defines all configuration for the signal pipeline.
// Config is loaded from an optional YAML file (default: configs/config.yaml)
// with every sensitive field overridable via environment variables; the
// environment alone is enough to run the server.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Broker   BrokerConfig   `mapstructure:"broker"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Vault    VaultConfig    `mapstructure:"vault"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	PoolSize int    `mapstructure:"pool_size"`
}

// TelegramConfig holds the Bot API token used by the message source.
// An empty token disables the listener; the HTTP surface still works.
type TelegramConfig struct {
	BotToken    string        `mapstructure:"bot_token"`
	BaseURL     string        `mapstructure:"base_url"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
}

// BrokerConfig points at the MT5 bridge process that owns terminal sessions.
type BrokerConfig struct {
	BridgeURL string        `mapstructure:"bridge_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// LLMConfig tunes the optional language-model extraction path.
// Extraction is attempted only when APIKey is set; on any failure the
// heuristic extractor runs instead.
type LLMConfig struct {
	Model     string  `mapstructure:"model"`
	APIKey    string  `mapstructure:"api_key"`
	BaseURL   string  `mapstructure:"base_url"`
	MaxTokens int     `mapstructure:"max_tokens"`
	Temp      float64 `mapstructure:"temperature"`
}

// AuthConfig holds JWT signing settings. Tokens are HS256 with a 24 h expiry.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// VaultConfig holds the process-wide master encryption key.
type VaultConfig struct {
	MasterKey string `mapstructure:"master_key"`
}

// SyncConfig controls the position synchronizer and hub heartbeat.
type SyncConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

// ServerConfig controls the HTTP/WebSocket API server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from an optional YAML file with env var overrides.
// Required env: DATABASE_URL, MASTER_ENCRYPTION_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("SB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// The file is optional; the environment can carry everything.
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if u := os.Getenv("DATABASE_URL"); u != "" {
		cfg.Database.URL = u
	}
	if k := os.Getenv("MASTER_ENCRYPTION_KEY"); k != "" {
		cfg.Vault.MasterKey = k
	}
	if t := os.Getenv("TELEGRAM_BOT_TOKEN"); t != "" {
		cfg.Telegram.BotToken = t
	}
	if u := os.Getenv("MT5_BRIDGE_URL"); u != "" {
		cfg.Broker.BridgeURL = u
	}
	if m := os.Getenv("LLM_MODEL"); m != "" {
		cfg.LLM.Model = m
	}
	if k := os.Getenv("LLM_API_KEY"); k != "" {
		cfg.LLM.APIKey = k
	}
	if s := os.Getenv("JWT_SECRET_KEY"); s != "" {
		cfg.Auth.JWTSecret = s
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("telegram.base_url", "https://api.telegram.org")
	v.SetDefault("telegram.poll_timeout", 60*time.Second)
	v.SetDefault("broker.bridge_url", "http://127.0.0.1:6542")
	v.SetDefault("broker.timeout", 30*time.Second)
	v.SetDefault("llm.model", "gpt-4")
	v.SetDefault("llm.base_url", "https://api.openai.com")
	v.SetDefault("llm.max_tokens", 500)
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("sync.interval", 5*time.Second)
	v.SetDefault("sync.ping_interval", 30*time.Second)
	v.SetDefault("server.port", 8000)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks required fields and value ranges. A missing database URL or
// master key aborts startup.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required (set DATABASE_URL)")
	}
	if c.Vault.MasterKey == "" {
		return fmt.Errorf("vault.master_key is required (set MASTER_ENCRYPTION_KEY)")
	}
	if len(c.Vault.MasterKey) < 32 {
		return fmt.Errorf("vault.master_key must be at least 32 characters")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required (set JWT_SECRET_KEY)")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535")
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be > 0")
	}
	return nil
}
