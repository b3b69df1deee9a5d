package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	req := require.New(t)
	t.Setenv("ENV", "development")
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load()
	req.NoError(err)

	req.Equal("8080", cfg.Port)
	req.True(cfg.IsDevelopment())
	req.False(cfg.UsePostgres())
	req.Equal(1000, cfg.MessageMaxLength)
	req.Equal(50, cfg.DefaultPageSize)
	req.Equal(200, cfg.MaxPageSize)
	req.Equal(30*time.Second, cfg.WSPingInterval)
	req.Equal(60*time.Second, cfg.WSPongWait)
	req.Equal([]string{"*"}, cfg.AllowedOrigins)
}

func TestLoad_Parses_Lists_And_Durations(t *testing.T) {
	req := require.New(t)
	t.Setenv("RATE_LIMIT_WHITELIST", "10.0.0.1, 192.168.0.0/16 ,")
	t.Setenv("WS_PING_INTERVAL", "5s")
	t.Setenv("WS_PONG_WAIT", "15s")
	t.Setenv("DATABASE_URL", "postgres://localhost/chat")

	cfg, err := Load()
	req.NoError(err)

	req.Equal([]string{"10.0.0.1", "192.168.0.0/16"}, cfg.RateLimitWhitelist)
	req.Equal(5*time.Second, cfg.WSPingInterval)
	req.True(cfg.UsePostgres())
}

func TestLoad_Rejects_Invalid_Settings(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"production without redis", map[string]string{"ENV": "production", "REDIS_URL": ""}},
		{"pong shorter than ping", map[string]string{"WS_PING_INTERVAL": "60s", "WS_PONG_WAIT": "10s"}},
		{"page size above max", map[string]string{"DEFAULT_PAGE_SIZE": "500"}},
		{"bad number", map[string]string{"MESSAGE_MAX_LENGTH": "lots"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
		})
	}
}
