package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "logingate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newFlags(t))
	require.NoError(t, err)

	assert.Equal(t, StoreRedis, cfg.Store.Type)
	assert.Equal(t, "logingate", cfg.Store.KeyPrefix)
	assert.Equal(t, time.Hour, cfg.Session.TTL)
	assert.True(t, cfg.Session.AutoLogin)
	assert.Equal(t, int64(5), cfg.RateLimit.Threshold)
	assert.Equal(t, 15*time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, "argon2id", cfg.Hash.Algorithm)
	assert.Equal(t, 8, cfg.Code.Length)
	assert.Equal(t, 5*time.Minute, cfg.Code.Validity)
	assert.Equal(t, 10*time.Minute, cfg.Code.WebValidity)
	assert.Empty(t, cfg.Code.WebsiteURL)
	assert.Regexp(t, `^gate-[a-z0-9]{8}$`, cfg.ServerID)
}

func TestFileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
server-id: east-1
store:
  type: memory
  key-prefix: paperlogin
session:
  ttl: 2h
  auto-login: false
ratelimit:
  threshold: 3
`)
	cfg, err := Load(newFlags(t, "--config", path))
	require.NoError(t, err)

	assert.Equal(t, "east-1", cfg.ServerID)
	assert.Equal(t, StoreMemory, cfg.Store.Type)
	assert.Equal(t, "paperlogin", cfg.Store.KeyPrefix)
	assert.Equal(t, 2*time.Hour, cfg.Session.TTL)
	assert.False(t, cfg.Session.AutoLogin)
	assert.Equal(t, int64(3), cfg.RateLimit.Threshold)
	// Untouched keys keep flag defaults
	assert.Equal(t, 15*time.Minute, cfg.RateLimit.Window)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "store:\n  key-prefix: fromfile\n")
	t.Setenv("LOGINGATE_STORE_KEY_PREFIX", "fromenv")
	t.Setenv("LOGINGATE_SERVER_ID", "west-2")
	t.Setenv("LOGINGATE_SESSION_TTL", "45m")

	cfg, err := Load(newFlags(t, "--config", path))
	require.NoError(t, err)

	assert.Equal(t, "fromenv", cfg.Store.KeyPrefix)
	assert.Equal(t, "west-2", cfg.ServerID)
	assert.Equal(t, 45*time.Minute, cfg.Session.TTL)
}

func TestCodeSettingsFromFileAndEnv(t *testing.T) {
	path := writeFile(t, "code:\n  length: 12\n  website-url: \"https://example.com/login?code={code}\"\n")
	t.Setenv("LOGINGATE_CODE_WEB_VALIDITY", "90s")

	cfg, err := Load(newFlags(t, "--config", path))
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Code.Length)
	assert.Equal(t, "https://example.com/login?code={code}", cfg.Code.WebsiteURL)
	assert.Equal(t, 90*time.Second, cfg.Code.WebValidity)
	assert.Equal(t, 5*time.Minute, cfg.Code.Validity)
}

func TestFlagsOverrideEverything(t *testing.T) {
	t.Setenv("LOGINGATE_SESSION_TTL", "45m")

	cfg, err := Load(newFlags(t, "--session.ttl", "10m", "--hash.algorithm", "bcrypt"))
	require.NoError(t, err)

	assert.Equal(t, 10*time.Minute, cfg.Session.TTL)
	assert.Equal(t, "bcrypt", cfg.Hash.Algorithm)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(newFlags(t, "--config", filepath.Join(t.TempDir(), "nope.yaml")))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load(newFlags(t))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "bad store", mutate: func(c *Config) { c.Store.Type = "etcd" }, errMsg: "store.type"},
		{name: "redis without url", mutate: func(c *Config) { c.Store.URL = "" }, errMsg: "store.url"},
		{name: "bad algorithm", mutate: func(c *Config) { c.Hash.Algorithm = "md5" }, errMsg: "hash.algorithm"},
		{name: "zero ttl", mutate: func(c *Config) { c.Session.TTL = 0 }, errMsg: "session.ttl"},
		{name: "zero threshold", mutate: func(c *Config) { c.RateLimit.Threshold = 0 }, errMsg: "ratelimit.threshold"},
		{name: "short code", mutate: func(c *Config) { c.Code.Length = 4 }, errMsg: "code.length"},
		{name: "zero code validity", mutate: func(c *Config) { c.Code.Validity = 0 }, errMsg: "code.validity"},
		{name: "zero web code validity", mutate: func(c *Config) { c.Code.WebValidity = 0 }, errMsg: "code.web-validity"},
		{name: "url without placeholder", mutate: func(c *Config) { c.Code.WebsiteURL = "https://example.com/login" }, errMsg: "code.website-url"},
		{name: "bad log format", mutate: func(c *Config) { c.Log.Format = "xml" }, errMsg: "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "store.key-prefix", envKey("LOGINGATE_STORE_KEY_PREFIX"))
	assert.Equal(t, "server-id", envKey("LOGINGATE_SERVER_ID"))
	assert.Equal(t, "http.host-key", envKey("LOGINGATE_HTTP_HOST_KEY"))
	assert.Equal(t, "ratelimit.window", envKey("LOGINGATE_RATELIMIT_WINDOW"))
	assert.Equal(t, "code.website-url", envKey("LOGINGATE_CODE_WEBSITE_URL"))
}
