package boot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/chathub/internal/config"
)

func TestProvideRuntimeConfig(t *testing.T) {
	t.Parallel()
	cfg := config.Defaults()
	cfg.Auth.JWTSecret = "file-secret"
	cfg.Auth.JWTExpiresIn = "2h"
	cfg.Server.Addr = ":9999"

	rc, err := ProvideRuntimeConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "file-secret", rc.JwtSecret)
	assert.Equal(t, 2*time.Hour, rc.JwtExpiresIn)
	assert.Equal(t, ":9999", rc.ServerAddr)
}

func TestProvideRuntimeConfigErrors(t *testing.T) {
	t.Parallel()
	cases := map[string]func(*config.Config){
		"no secret":       func(c *config.Config) { c.Auth.JWTSecret = " " },
		"bad expiry":      func(c *config.Config) { c.Auth.JWTExpiresIn = "soon" },
		"negative expiry": func(c *config.Config) { c.Auth.JWTExpiresIn = "-1h" },
	}
	for name, mutate := range cases {
		cfg := config.Defaults()
		cfg.Auth.JWTSecret = "x"
		mutate(&cfg)
		_, err := ProvideRuntimeConfig(cfg)
		assert.Error(t, err, name)
	}
}
