// Package config loads daemon configuration from a YAML file, LOGINGATE_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/mcoot/logingate/internal/dependencies/random"
	"github.com/mcoot/logingate/internal/services/hasher"
)

// EnvPrefix is the prefix for environment overrides
const EnvPrefix = "LOGINGATE_"

// Storage backends
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config is the full daemon configuration
type Config struct {
	ServerID  string          `koanf:"server-id"`
	Store     StoreConfig     `koanf:"store"`
	Session   SessionConfig   `koanf:"session"`
	Hash      HashConfig      `koanf:"hash"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Code      CodeConfig      `koanf:"code"`
	HTTP      HTTPConfig      `koanf:"http"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Log       LogConfig       `koanf:"log"`
}

// StoreConfig selects and tunes the shared store
type StoreConfig struct {
	Type         string        `koanf:"type"`
	URL          string        `koanf:"url"`
	KeyPrefix    string        `koanf:"key-prefix"`
	PoolSize     int           `koanf:"pool-size"`
	MinIdleConns int           `koanf:"min-idle-conns"`
	Timeout      time.Duration `koanf:"timeout"`
}

// SessionConfig controls leases and the local cache
type SessionConfig struct {
	TTL             time.Duration `koanf:"ttl"`
	AutoLogin       bool          `koanf:"auto-login"`
	CacheTTL        time.Duration `koanf:"cache-ttl"`
	RecheckInterval time.Duration `koanf:"recheck-interval"`
}

// HashConfig controls password hashing
type HashConfig struct {
	Algorithm   string `koanf:"algorithm"`
	WorkFactor  int    `koanf:"work-factor"`
	Concurrency int    `koanf:"concurrency"`
}

// RateLimitConfig controls failed-attempt blocking
type RateLimitConfig struct {
	Threshold int64         `koanf:"threshold"`
	Window    time.Duration `koanf:"window"`
}

// CodeConfig controls one-time login codes
type CodeConfig struct {
	Length      int           `koanf:"length"`
	Validity    time.Duration `koanf:"validity"`
	WebValidity time.Duration `koanf:"web-validity"`
	WebsiteURL  string        `koanf:"website-url"`
}

// Code length bounds
const (
	MinCodeLength = 6
	MaxCodeLength = 32
)

// HTTPConfig controls the host API listener
type HTTPConfig struct {
	Addr    string `koanf:"addr"`
	HostKey string `koanf:"host-key"`
}

// MetricsConfig controls the observability listener; empty Addr disables it
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig controls log output
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// sections are the top-level keys that nest; used to map env names
var sections = []string{"store", "session", "hash", "ratelimit", "code", "http", "metrics", "log"}

// BindFlags registers every setting on fs with its default
func BindFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a YAML config file")
	fs.String("server-id", "", "server ID stamped on leases (default: random)")

	fs.String("store.type", StoreRedis, "store backend (redis or memory)")
	fs.String("store.url", "redis://localhost:6379/0", "Redis URL, including password if any")
	fs.String("store.key-prefix", "logingate", "namespace for every store key")
	fs.Int("store.pool-size", 10, "Redis connection pool size")
	fs.Int("store.min-idle-conns", 2, "minimum idle Redis connections")
	fs.Duration("store.timeout", 2*time.Second, "deadline for a single store call")

	fs.Duration("session.ttl", time.Hour, "session lease lifetime")
	fs.Bool("session.auto-login", true, "resume a live lease on reconnect without a prompt")
	fs.Duration("session.cache-ttl", 30*time.Second, "how long a local authorized marker is trusted")
	fs.Duration("session.recheck-interval", 10*time.Second, "how often local sessions are re-read")

	fs.String("hash.algorithm", hasher.AlgorithmArgon2id, "password hash algorithm (argon2id or bcrypt)")
	fs.Int("hash.work-factor", 0, "argon2id iterations or bcrypt cost (0 = algorithm default)")
	fs.Int("hash.concurrency", 0, "concurrent hash operations (0 = GOMAXPROCS)")

	fs.Int64("ratelimit.threshold", 5, "failed attempts before blocking")
	fs.Duration("ratelimit.window", 15*time.Minute, "sliding window for failed attempts")

	fs.Int("code.length", 8, "characters in a one-time code")
	fs.Duration("code.validity", 5*time.Minute, "how long a login code can be claimed")
	fs.Duration("code.web-validity", 10*time.Minute, "how long a web code can be redeemed")
	fs.String("code.website-url", "", "website login URL; {code} is replaced with the code")

	fs.String("http.addr", ":8080", "host API listen address")
	fs.String("http.host-key", "", "shared key hosts must present")

	fs.String("metrics.addr", "127.0.0.1:9100", "metrics and health listen address (empty = disabled)")

	fs.String("log.level", "info", "log level (debug, info, warn, error)")
	fs.String("log.format", "json", "log format (json or text)")
}

// Load reads the config file named by the --config flag (if any), then
// environment overrides, then flags explicitly set on fs
func Load(fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	path, _ := fs.GetString("config")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	// Changed flags override; unchanged flags only fill missing keys
	if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
		return nil, fmt.Errorf("loading flags: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if cfg.ServerID == "" {
		cfg.ServerID = "gate-" + random.New().String(8, random.ServerIDAlphabet)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps LOGINGATE_STORE_KEY_PREFIX to store.key-prefix
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, section := range sections {
		if rest, ok := strings.CutPrefix(s, section+"_"); ok {
			return section + "." + strings.ReplaceAll(rest, "_", "-")
		}
	}
	return strings.ReplaceAll(s, "_", "-")
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Type {
	case StoreMemory:
	case StoreRedis:
		if c.Store.URL == "" {
			errs = append(errs, errors.New("store.url is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.type must be 'redis' or 'memory', got %q", c.Store.Type))
	}
	switch c.Hash.Algorithm {
	case hasher.AlgorithmArgon2id, hasher.AlgorithmBcrypt:
	default:
		errs = append(errs, fmt.Errorf("hash.algorithm must be 'argon2id' or 'bcrypt', got %q", c.Hash.Algorithm))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("session.ttl must be positive"))
	}
	if c.RateLimit.Threshold <= 0 {
		errs = append(errs, errors.New("ratelimit.threshold must be positive"))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("ratelimit.window must be positive"))
	}
	if c.Code.Length < MinCodeLength || c.Code.Length > MaxCodeLength {
		errs = append(errs, fmt.Errorf("code.length must be between %d and %d, got %d", MinCodeLength, MaxCodeLength, c.Code.Length))
	}
	if c.Code.Validity <= 0 {
		errs = append(errs, errors.New("code.validity must be positive"))
	}
	if c.Code.WebValidity <= 0 {
		errs = append(errs, errors.New("code.web-validity must be positive"))
	}
	if c.Code.WebsiteURL != "" && !strings.Contains(c.Code.WebsiteURL, "{code}") {
		errs = append(errs, errors.New("code.website-url must contain {code}"))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
