package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Moscow", cfg.Timezone)
	assert.Equal(t, UploaderDropbox, cfg.UploadWay)

	// The default file was written with restrictive permissions.
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.UploadWay = UploaderGitHub
	cfg.GitHub.Repo = "someone/schedule-ics"
	cfg.RefreshCron = "0 */6 * * *"
	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, UploaderGitHub, got.UploadWay)
	assert.Equal(t, "someone/schedule-ics", got.GitHub.Repo)
	assert.Equal(t, "0 */6 * * *", got.RefreshCron)
}

func TestNormalizeFillsDefaults(t *testing.T) {
	var cfg Config
	cfg.Normalize()

	assert.Equal(t, "Europe/Moscow", cfg.Timezone)
	assert.Equal(t, "ITMO", cfg.CalendarPrefix)
	assert.Equal(t, "my.itmo.ru", cfg.UIDDomain)
	assert.Equal(t, "auth._token.itmoId", cfg.Portal.AuthCookie)
	assert.Equal(t, 30, cfg.Portal.FetchTimeoutSec)
	assert.Equal(t, "main", cfg.GitHub.Branch)
}

func TestNormalizeUnknownUploadWayDisablesUpload(t *testing.T) {
	cfg := Config{UploadWay: "ftp"}
	cfg.Normalize()
	assert.Equal(t, UploaderNone, cfg.UploadWay)
}

func TestPathHelpers(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, filepath.Join(".session_cache", "cookies.json"), cfg.CookiesPath())
	assert.Equal(t, filepath.Join("data", "schedule.json"), cfg.DataPath())
}

func TestLoadSecretsFromEnv(t *testing.T) {
	t.Setenv("SCHEDCAL_USERNAME", "student")
	t.Setenv("SCHEDCAL_PASSWORD", "hunter2")
	t.Setenv("SCHEDCAL_GITHUB_TOKEN", "ghp_x")

	s, err := LoadSecrets()
	require.NoError(t, err)
	assert.Equal(t, "student", s.Username)
	assert.Equal(t, "hunter2", s.Password)
	assert.Equal(t, "ghp_x", s.GithubToken)
}
