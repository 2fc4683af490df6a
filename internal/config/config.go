// Package config loads and exposes application configuration (TOML).
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath   = "config.toml"
	DefaultHTTPAddr     = ":8080"
	DefaultJWTExpiresIn = "24h"
	DefaultPGHost       = "127.0.0.1"
	DefaultPGPort       = 5432
	DefaultPGUser       = "postgres"
	DefaultPGDatabase   = "wappgate"
	DefaultPGSSLMode    = "disable"
	DefaultResetKeyword = "#menu"
)

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Admin    AdminConfig    `toml:"admin"`
	Auth     AuthConfig     `toml:"auth"`
	Postgres PostgresConfig `toml:"postgres"`
	Whatsapp WhatsappConfig `toml:"whatsapp"`
	Chatbot  ChatbotConfig  `toml:"chatbot"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ServerConfig holds the HTTP server listen address.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// AdminConfig holds the initial admin account created at startup.
type AdminConfig struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// AuthConfig holds JWT secret and token expiry (e.g. 24h).
type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// WhatsappConfig holds connection provider settings: the bridge base URL,
// the wall-clock budget for session establishment, and close timeouts.
type WhatsappConfig struct {
	BridgeURL           string `toml:"bridge_url"`
	BridgeToken         string `toml:"bridge_token"`
	ConnectTimeoutSecs  int    `toml:"connect_timeout_seconds"`
	CloseTimeoutSecs    int    `toml:"close_timeout_seconds"`
	ForceCloseTimeoutMs int    `toml:"force_close_timeout_ms"`
	SendRatePerMinute   int    `toml:"send_rate_per_minute"`
	ReconcileCron       string `toml:"reconcile_cron"`
}

// ChatbotConfig holds funnel engine settings. FunnelPath optionally points
// to a TOML file overriding the built-in dialogue graph.
type ChatbotConfig struct {
	ResetKeyword string `toml:"reset_keyword"`
	FunnelPath   string `toml:"funnel_path"`
}

// Load reads and parses the TOML config file at path and applies default
// values for missing fields. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Admin: AdminConfig{
			Username: "admin",
			Password: "change-your-password-here",
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Whatsapp: WhatsappConfig{
			BridgeURL:           "http://127.0.0.1:21465",
			ConnectTimeoutSecs:  20,
			CloseTimeoutSecs:    5,
			ForceCloseTimeoutMs: 500,
			SendRatePerMinute:   30,
			ReconcileCron:       "@every 1m",
		},
		Chatbot: ChatbotConfig{
			ResetKeyword: DefaultResetKeyword,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
