// Package boot provides runtime configuration and dependency wiring.
package boot

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rufuslabs/wappgate/internal/config"
)

// RuntimeConfig holds parsed runtime settings. Values may be overridden by
// environment variables (e.g. HTTP_ADDR, WA_BRIDGE_URL).
type RuntimeConfig struct {
	JwtSecret      string
	JwtExpiresIn   time.Duration
	ServerAddr     string
	BridgeURL      string
	BridgeToken    string
	ConnectBudget  time.Duration
	CloseTimeout   time.Duration
	ForceTimeout   time.Duration
	SendRatePerMin int
	ReconcileCron  string
}

// ProvideRuntimeConfig builds RuntimeConfig from the given config and applies
// env overrides.
func ProvideRuntimeConfig(cfg config.Config) (*RuntimeConfig, error) {
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return nil, errors.New("jwt secret is required")
	}

	jwtExpiresIn, err := time.ParseDuration(cfg.Auth.JWTExpiresIn)
	if err != nil {
		return nil, fmt.Errorf("invalid jwt expires in: %w", err)
	}

	ret := &RuntimeConfig{
		JwtSecret:      cfg.Auth.JWTSecret,
		JwtExpiresIn:   jwtExpiresIn,
		ServerAddr:     cfg.Server.Addr,
		BridgeURL:      cfg.Whatsapp.BridgeURL,
		BridgeToken:    cfg.Whatsapp.BridgeToken,
		ConnectBudget:  time.Duration(cfg.Whatsapp.ConnectTimeoutSecs) * time.Second,
		CloseTimeout:   time.Duration(cfg.Whatsapp.CloseTimeoutSecs) * time.Second,
		ForceTimeout:   time.Duration(cfg.Whatsapp.ForceCloseTimeoutMs) * time.Millisecond,
		SendRatePerMin: cfg.Whatsapp.SendRatePerMinute,
		ReconcileCron:  cfg.Whatsapp.ReconcileCron,
	}

	if value := os.Getenv("HTTP_ADDR"); value != "" {
		ret.ServerAddr = value
	}
	if value := os.Getenv("WA_BRIDGE_URL"); value != "" {
		ret.BridgeURL = value
	}
	if value := os.Getenv("WA_BRIDGE_TOKEN"); value != "" {
		ret.BridgeToken = value
	}
	return ret, nil
}
