package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, NewConfig(), cfg)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cdpmock.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
devtools:
  url: http://10.0.0.2:9333
intercept:
  concurrency: 8
sqlite:
  prefix: test_
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.2:9333", cfg.DevTools.URL)
	assert.Equal(t, 8, cfg.Intercept.Concurrency)
	assert.Equal(t, "test_", cfg.Sqlite.Prefix)
	assert.Equal(t, 3000, cfg.Intercept.ProcessTimeoutMS)
	assert.Equal(t, []string{"*"}, cfg.Intercept.URLPatterns)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CDPMOCK_WEB_LISTENADDR", "0.0.0.0:9999")
	t.Setenv("CDPMOCK_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9999", cfg.Web.ListenAddr)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "cdpmock.yaml")
	want := NewConfig()
	want.Intercept.RegexCacheSize = 16
	require.NoError(t, want.Write(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
