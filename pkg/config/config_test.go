package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, EnvDevelopment, cfg.Env)
	require.Equal(t, "./archives", cfg.Archives.Dir)
	require.Equal(t, "./archives-legacy", cfg.Archives.LegacyDir)
	require.Equal(t, 30*time.Minute, cfg.Archives.SignedURLTTL)
	require.Equal(t, 2, cfg.Restore.Workers)
	require.Equal(t, "@every 10m", cfg.Restore.JanitorSchedule)
	require.Equal(t, time.Hour, cfg.Restore.StaleAfter)
	require.False(t, cfg.Redis.Enabled)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ARCHIVES_DIR", "/srv/archives")
	t.Setenv("ARCHIVES_LEGACY_DIR", "/srv/archives-old")
	t.Setenv("RESTORE_STALE_AFTER", "15m")
	t.Setenv("RESTORE_WORKERS", "4")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("ARCHIVES_SIGNED_URL_TTL", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/srv/archives", cfg.Archives.Dir)
	require.Equal(t, "/srv/archives-old", cfg.Archives.LegacyDir)
	require.Equal(t, 15*time.Minute, cfg.Restore.StaleAfter)
	require.Equal(t, 4, cfg.Restore.Workers)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
	require.Equal(t, 30*time.Minute, cfg.Archives.SignedURLTTL)
}
