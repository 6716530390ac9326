package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projecthub/projecthub/internal/rbac"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SESSION_SECRET", "session-secret")
	t.Setenv("CSRF_SECRET", "csrf-secret")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, int64(10<<20), cfg.MaxUploadBytes)
	assert.False(t, cfg.IsProduction())

	tiers := cfg.RateTiers()
	assert.Equal(t, 1000, tiers[rbac.RoleAdmin])
	assert.Equal(t, 500, tiers[rbac.RoleMember])
	assert.Equal(t, 200, tiers[rbac.RoleViewer])
}

func TestLoadConfigOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("RATE_LIMIT_VIEWER", "50")
	t.Setenv("UPLOAD_DIR", "/var/lib/projecthub")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 50, cfg.RateTiers()[rbac.RoleViewer])
	assert.Equal(t, "/var/lib/projecthub", cfg.UploadDir)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	t.Run("missing secrets", func(t *testing.T) {
		t.Setenv("SESSION_SECRET", "")
		t.Setenv("CSRF_SECRET", "")
		_, err := LoadConfig()
		assert.Error(t, err)
	})
	t.Run("inverted tiers", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("RATE_LIMIT_VIEWER", "5000")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "rate limit tiers")
	})
	t.Run("upload cap", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("MAX_UPLOAD_BYTES", "0")
		_, err := LoadConfig()
		assert.Error(t, err)
	})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("debug").String())
	assert.Equal(t, "WARN", parseLevel(" Warning ").String())
	assert.Equal(t, "INFO", parseLevel("").String())
}
