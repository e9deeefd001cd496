package cli

import (
	"os"
	"path/filepath"
	"strings"
)

// Config holds CLI configuration
type Config struct {
	ServerURL   string
	HostKey     string
	HostKeyFile string
	Output      string
	Verbose     bool
}

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	return &Config{
		ServerURL:   getEnvOrDefault("LOGINGATE_SERVER", "http://localhost:8080"),
		HostKey:     os.Getenv("LOGINGATE_HOST_KEY"),
		HostKeyFile: getEnvOrDefault("LOGINGATE_HOST_KEY_FILE", defaultHostKeyFile()),
		Output:      "text",
		Verbose:     false,
	}
}

// LoadHostKey loads the host key from file if not already set
func (c *Config) LoadHostKey() error {
	if c.HostKey != "" {
		return nil
	}

	data, err := os.ReadFile(c.HostKeyFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // Servers may run without a host key
		}
		return err
	}

	c.HostKey = strings.TrimSpace(string(data))
	return nil
}

func defaultHostKeyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".logingate/host-key"
	}
	return filepath.Join(home, ".logingate", "host-key")
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
