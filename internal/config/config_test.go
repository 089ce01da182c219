package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("KIS_APP_KEY", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("KV_URL", "")
	t.Setenv("UPSTASH_REDIS_URL", "")
	t.Setenv("STOCKWATCH_STORE", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 30*time.Second, cfg.KIS.Timeout)
	assert.Len(t, cfg.Watch.Codes, 5)
	assert.NoError(t, cfg.Validate())
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
kis:
  app_key: file-key
  app_secret: file-secret
store:
  backend: file
  dir: /tmp/sw
watch:
  codes: ["005930"]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))

	t.Setenv("KIS_APP_KEY", "env-key")
	t.Setenv("KIS_APP_SECRET", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("KV_URL", "")
	t.Setenv("UPSTASH_REDIS_URL", "")
	t.Setenv("STOCKWATCH_STORE", "")
	t.Setenv("CRON_SECRET", "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.KIS.AppKey)
	assert.Equal(t, "file-secret", cfg.KIS.AppSecret)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Store.RedisURL)
	assert.Equal(t, "s3cret", cfg.Server.CronSecret)
	assert.Equal(t, []string{"005930"}, cfg.Watch.Codes)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Backend = "redis"
	cfg.Store.RedisURL = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Store.Backend = "etcd"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Watch.Codes = nil
	assert.Error(t, cfg.Validate())
}

func TestSplitCodes(t *testing.T) {
	assert.Equal(t, []string{"005930", "000660"}, SplitCodes(" 005930, ,000660 "))
	assert.Empty(t, SplitCodes(""))
}
