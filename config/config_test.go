package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("CHAT_STORE", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("CHAT_ENFORCE_PARTICIPANTS", "")
	t.Setenv("NOTIFICATION_RETENTION_DAYS", "")

	cfg := LoadConfig()

	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, "mongo", cfg.ChatStore)
	require.Empty(t, cfg.RedisURL)
	require.True(t, cfg.EnforceParticipants)
	require.Equal(t, 30*24*time.Hour, cfg.NotificationRetention)
	require.Equal(t, 120*time.Second, cfg.PresenceTTL)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("CHAT_STORE", "memory")
	t.Setenv("CHAT_ENFORCE_PARTICIPANTS", "false")
	t.Setenv("PRESENCE_TTL_SECONDS", "30")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("WS_EVENTS_PER_SECOND", "not-a-number")

	cfg := LoadConfig()

	require.Equal(t, "9090", cfg.Port)
	require.Equal(t, "memory", cfg.ChatStore)
	require.False(t, cfg.EnforceParticipants)
	require.Equal(t, 30*time.Second, cfg.PresenceTTL)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	require.Equal(t, 50, cfg.EventsPerSecond)
}
