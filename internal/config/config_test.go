package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":4580", cfg.Server.Listen)
	assert.Equal(t, 1500*time.Millisecond, cfg.Scanner.SuccessCooldown)
	assert.Equal(t, 2500*time.Millisecond, cfg.Scanner.FailureCooldown)
	assert.Equal(t, 100, cfg.Sale.MaxQuantity)
	assert.Equal(t, "default", cfg.Source)
}

func TestLoadYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tillscan.yaml")
	body := `
api:
  listen: "127.0.0.1:9000"
  rate_limit: 0
catalog:
  mode: memory
  seed_file: ./products.json
scanner:
  success_cooldown: 2s
  preferred_keywords: [rear]
cache:
  backend: redis
  redis:
    addr: localhost:6379
logger:
  level: debug
  format: text
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Listen)
	assert.Equal(t, 0, cfg.Server.RateLimit)
	assert.Equal(t, "memory", cfg.Catalog.Mode)
	assert.Equal(t, "./products.json", cfg.Catalog.SeedFile)
	assert.Equal(t, 2*time.Second, cfg.Scanner.SuccessCooldown)
	assert.Equal(t, []string{"rear"}, cfg.Scanner.PreferredKeywords)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "localhost:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, path, cfg.Source)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TILLSCAN_API_LISTEN", ":7000")
	t.Setenv("TILLSCAN_FAILURE_COOLDOWN", "3s")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.Listen)
	assert.Equal(t, 3*time.Second, cfg.Scanner.FailureCooldown)
	assert.Equal(t, "default+env", cfg.Source)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api: [unterminated"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateResetsOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.Server.Listen = "nope"
	cfg.Catalog.Mode = "sql"
	cfg.Scanner.SuccessCooldown = time.Millisecond
	cfg.Cache.Backend = "redis"
	cfg.Sale.MaxQuantity = 0

	warnings := cfg.Validate()

	assert.Len(t, warnings, 4)
	assert.Equal(t, ":4580", cfg.Server.Listen)
	assert.Equal(t, "remote", cfg.Catalog.Mode)
	assert.Equal(t, 1500*time.Millisecond, cfg.Scanner.SuccessCooldown)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 100, cfg.Sale.MaxQuantity)
}

func TestValidateListen(t *testing.T) {
	tests := []struct {
		listen  string
		wantErr bool
	}{
		{":4580", false},
		{"0.0.0.0:8080", false},
		{"", true},
		{"4580", true},
		{":0", true},
		{":70000", true},
		{":abc", true},
	}

	for _, tt := range tests {
		t.Run(tt.listen, func(t *testing.T) {
			err := validateListen(tt.listen)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSetupLoggerFanout(t *testing.T) {
	cfg := Default()
	cfg.Logger.Format = "text"
	cfg.Logger.File = filepath.Join(t.TempDir(), "tillscan.log")

	var stdout bytes.Buffer
	log, closer, err := cfg.SetupLogger(&stdout)
	require.NoError(t, err)

	log.Info("scanner ready", "device", "rear")
	require.NoError(t, closer.Close())

	assert.Contains(t, stdout.String(), "scanner ready")
	data, err := os.ReadFile(cfg.Logger.File)
	require.NoError(t, err)
	assert.Contains(t, string(data), "device=rear")
}
