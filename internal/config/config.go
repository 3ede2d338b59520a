// Package config handles Penny configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/penny/config.yaml, /etc/penny/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "penny", "config.yaml"))
	}

	paths = append(paths, "/etc/penny/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Penny configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Database  DatabaseConfig  `yaml:"database"`
	Assistant AssistantConfig `yaml:"assistant"`
	Chat      ChatConfig      `yaml:"chat"`
	Market    MarketConfig    `yaml:"market"`
	Auth      AuthConfig      `yaml:"auth"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	HTTP      HTTPConfig      `yaml:"http"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"` // text (default) or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// DatabaseConfig selects the SQLite driver and file.
type DatabaseConfig struct {
	// Driver is "sqlite3" (mattn, CGO) or "sqlite" (modernc, pure Go).
	Driver string `yaml:"driver"`
	// Path is the database file. Defaults to <data_dir>/penny.db.
	Path string `yaml:"path"`
}

// AssistantConfig defines the remote assistant provider.
type AssistantConfig struct {
	APIKey      string `yaml:"api_key"`
	AssistantID string `yaml:"assistant_id"`
	// BaseURL overrides the provider endpoint (tests, proxies).
	BaseURL string `yaml:"base_url"`
	// RequestTimeoutSec bounds each individual provider call.
	RequestTimeoutSec int `yaml:"request_timeout_sec"`
}

// Configured reports whether both the key and assistant id are set.
func (c AssistantConfig) Configured() bool {
	return c.APIKey != "" && c.AssistantID != ""
}

// ChatConfig tunes the turn orchestrator.
type ChatConfig struct {
	PollIntervalMs  int `yaml:"poll_interval_ms"`
	MaxPollAttempts int `yaml:"max_poll_attempts"`
	MaxToolRounds   int `yaml:"max_tool_rounds"`
	// Plain disables personalization and portfolio prompt augmentation.
	Plain bool `yaml:"plain"`
}

// PollInterval returns the poll interval as a duration.
func (c ChatConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// MarketConfig holds credentials and endpoints for the quote providers.
type MarketConfig struct {
	CoinMarketCapKey string `yaml:"coinmarketcap_key"`
	MarketstackKey   string `yaml:"marketstack_key"`
	CoinMarketCapURL string `yaml:"coinmarketcap_url"`
	MarketstackURL   string `yaml:"marketstack_url"`
	FrankfurterURL   string `yaml:"frankfurter_url"`
	CacheTTLSec      int    `yaml:"cache_ttl_sec"`
}

// AuthConfig defines session and password-reset settings.
type AuthConfig struct {
	SessionSecret    string `yaml:"session_secret"`
	SessionTTLMin    int    `yaml:"session_ttl_min"`
	CookieSecure     bool   `yaml:"cookie_secure"`
	CookieDomain     string `yaml:"cookie_domain"`
	ClientURL        string `yaml:"client_url"`
	ResetTokenTTLMin int    `yaml:"reset_token_ttl_min"`
	BcryptCost       int    `yaml:"bcrypt_cost"`
}

// SMTPConfig holds outbound mail settings for password reset messages.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// StartTLS upgrades a plain connection. Defaults to true unless
	// the port is 465 (implicit TLS).
	StartTLS bool   `yaml:"starttls"`
	From     string `yaml:"from"`
}

// Configured reports whether an SMTP host is set.
func (c SMTPConfig) Configured() bool {
	return c.Host != ""
}

// HTTPConfig defines browser-facing edge behavior.
type HTTPConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	// StaticDir, when set, is served at / for the browser front end.
	StaticDir string `yaml:"static_dir"`
}

// RateLimitConfig is a per-client-IP request budget.
type RateLimitConfig struct {
	Requests  int `yaml:"requests"`
	WindowSec int `yaml:"window_sec"`
}

// Load reads configuration from a YAML file. Environment variables
// in the file are expanded, defaults are applied, and the result is
// validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a default configuration. It does not pass Validate
// on its own: credentials must come from the file or the environment.
func Default() *Config {
	cfg := &Config{
		Listen:   ListenConfig{Port: 3000},
		Database: DatabaseConfig{Driver: "sqlite3"},
		DataDir:  "./data",
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 3000
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite3"
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.DataDir, "penny.db")
	}
	if c.Assistant.RequestTimeoutSec == 0 {
		c.Assistant.RequestTimeoutSec = 30
	}

	if c.Chat.PollIntervalMs == 0 {
		c.Chat.PollIntervalMs = 1000
	}
	if c.Chat.MaxPollAttempts == 0 {
		c.Chat.MaxPollAttempts = 30
	}
	if c.Chat.MaxToolRounds == 0 {
		c.Chat.MaxToolRounds = 1
	}

	if c.Market.CoinMarketCapURL == "" {
		c.Market.CoinMarketCapURL = "https://pro-api.coinmarketcap.com"
	}
	if c.Market.MarketstackURL == "" {
		c.Market.MarketstackURL = "http://api.marketstack.com"
	}
	if c.Market.FrankfurterURL == "" {
		c.Market.FrankfurterURL = "https://api.frankfurter.app"
	}
	if c.Market.CacheTTLSec == 0 {
		c.Market.CacheTTLSec = 60
	}

	if c.Auth.SessionTTLMin == 0 {
		c.Auth.SessionTTLMin = 60
	}
	if c.Auth.ResetTokenTTLMin == 0 {
		c.Auth.ResetTokenTTLMin = 60
	}
	if c.Auth.BcryptCost == 0 {
		c.Auth.BcryptCost = 10
	}
	if c.Auth.ClientURL == "" {
		c.Auth.ClientURL = "http://localhost:3000"
	}

	if c.SMTP.Host != "" {
		if c.SMTP.Port == 0 {
			c.SMTP.Port = 587
		}
		if !c.SMTP.StartTLS && c.SMTP.Port != 465 {
			c.SMTP.StartTLS = true
		}
		if c.SMTP.From == "" && c.SMTP.Username != "" {
			c.SMTP.From = fmt.Sprintf("Penny Support <%s>", c.SMTP.Username)
		}
	}

	if len(c.HTTP.AllowedOrigins) == 0 {
		c.HTTP.AllowedOrigins = []string{"http://localhost:3001"}
	}
	if c.HTTP.RateLimit.Requests == 0 {
		c.HTTP.RateLimit.Requests = 200
	}
	if c.HTTP.RateLimit.WindowSec == 0 {
		c.HTTP.RateLimit.WindowSec = 300
	}
}

// Validate checks that the configuration is complete enough to serve.
// Returns an error describing the first problem found.
func (c *Config) Validate() error {
	if !c.Assistant.Configured() {
		return fmt.Errorf("assistant.api_key and assistant.assistant_id are required")
	}
	if c.Auth.SessionSecret == "" {
		return fmt.Errorf("auth.session_secret is required")
	}
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range (1-65535)", c.Listen.Port)
	}
	switch c.Database.Driver {
	case "sqlite3", "sqlite":
	default:
		return fmt.Errorf("database.driver %q is not supported (valid: sqlite3, sqlite)", c.Database.Driver)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format %q is not supported (valid: text, json)", c.LogFormat)
	}
	if c.Chat.MaxPollAttempts < 1 {
		return fmt.Errorf("chat.max_poll_attempts must be positive")
	}
	if c.Chat.MaxToolRounds < 1 {
		return fmt.Errorf("chat.max_tool_rounds must be positive")
	}
	if c.SMTP.Configured() && c.SMTP.From == "" {
		return fmt.Errorf("smtp.from is required when smtp.host is set")
	}
	return nil
}
