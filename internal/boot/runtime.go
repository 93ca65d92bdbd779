// Package boot derives the process-level runtime settings the server is started with.
package boot

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/memohai/chathub/internal/config"
)

// RuntimeConfig holds parsed runtime settings (JWT, server address). They are
// fixed for the life of the process; a config reload does not change them.
type RuntimeConfig struct {
	JwtSecret    string
	JwtExpiresIn time.Duration
	ServerAddr   string
}

// ProvideRuntimeConfig builds RuntimeConfig from the loaded config. Environment
// overrides (HTTP_ADDR, CHATHUB_JWT_SECRET) have already been applied by config.Load.
func ProvideRuntimeConfig(cfg config.Config) (*RuntimeConfig, error) {
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return nil, errors.New("jwt secret is required")
	}

	jwtExpiresIn, err := time.ParseDuration(cfg.Auth.JWTExpiresIn)
	if err != nil {
		return nil, fmt.Errorf("invalid jwt expires in: %w", err)
	}
	if jwtExpiresIn <= 0 {
		return nil, fmt.Errorf("invalid jwt expires in: %s", cfg.Auth.JWTExpiresIn)
	}

	return &RuntimeConfig{
		JwtSecret:    cfg.Auth.JWTSecret,
		JwtExpiresIn: jwtExpiresIn,
		ServerAddr:   cfg.Server.Addr,
	}, nil
}
