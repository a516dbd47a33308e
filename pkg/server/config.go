package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/relaychat/relay/pkg/filter"
)

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server ServerSection `toml:"server"`
	Limits LimitsSection `toml:"limits"`
	Filter FilterSection `toml:"filter"`
}

type ServerSection struct {
	TCPPort     int    `toml:"tcp_port"`
	SSHPort     int    `toml:"ssh_port"`
	HTTPPort    int    `toml:"http_port"`
	MetricsPort int    `toml:"metrics_port"`
	SSHHostKey  string `toml:"ssh_host_key"`
}

type LimitsSection struct {
	MaxMessageLength  int `toml:"max_message_length"`
	MaxUsernameLength int `toml:"max_username_length"`
}

type FilterSection struct {
	BannedWords []string `toml:"banned_words"`
	Mask        string   `toml:"mask"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			TCPPort:     50000,
			SSHPort:     50022,
			HTTPPort:    8080,
			MetricsPort: 9090,
			SSHHostKey:  "~/.relay/ssh_host_key",
		},
		Limits: LimitsSection{
			MaxMessageLength:  4096,
			MaxUsernameLength: 20,
		},
		Filter: FilterSection{
			BannedWords: filter.DefaultBannedWords,
			Mask:        "*",
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates default if not
// found, and applies environment variable overrides
func LoadConfig(path string) (TOMLConfig, error) {
	// Expand ~ in path
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return TOMLConfig{}, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// File doesn't exist, create default config
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(path); err != nil {
			// If we can't write, just return defaults without error
			// (might be a permissions issue, but we can still run)
			return applyEnvOverrides(config), nil
		}
		return applyEnvOverrides(config), nil
	}

	// Load from file
	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return applyEnvOverrides(config), nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables follow the pattern: RELAY_SECTION_KEY
// Example: RELAY_SERVER_TCP_PORT=50001
func applyEnvOverrides(config TOMLConfig) TOMLConfig {
	// Server section
	if val := os.Getenv("RELAY_SERVER_TCP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.TCPPort = port
		}
	}
	if val := os.Getenv("RELAY_SERVER_SSH_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.SSHPort = port
		}
	}
	if val := os.Getenv("RELAY_SERVER_HTTP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.HTTPPort = port
		}
	}
	if val := os.Getenv("RELAY_SERVER_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.MetricsPort = port
		}
	}
	if val := os.Getenv("RELAY_SERVER_SSH_HOST_KEY"); val != "" {
		config.Server.SSHHostKey = val
	}

	// Limits section
	if val := os.Getenv("RELAY_LIMITS_MAX_MESSAGE_LENGTH"); val != "" {
		if limit, err := strconv.Atoi(val); err == nil {
			config.Limits.MaxMessageLength = limit
		}
	}
	if val := os.Getenv("RELAY_LIMITS_MAX_USERNAME_LENGTH"); val != "" {
		if limit, err := strconv.Atoi(val); err == nil {
			config.Limits.MaxUsernameLength = limit
		}
	}

	// Filter section
	if val := os.Getenv("RELAY_FILTER_BANNED_WORDS"); val != "" {
		words := strings.Split(val, ",")
		for i, word := range words {
			words[i] = strings.TrimSpace(word)
		}
		config.Filter.BannedWords = words
	}
	if val := os.Getenv("RELAY_FILTER_MASK"); val != "" {
		config.Filter.Mask = val
	}

	return config
}

// writeDefaultConfig writes the default config to a file with all options documented
func writeDefaultConfig(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Create file
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	// Build commented config file manually so defaults stay documented
	content := `# Relay Server Configuration
# This file was auto-generated with default values
# Settings below are active - modify them to change server behavior
# Restart the server for changes to take effect
#
# Environment variables can override these settings:
# RELAY_SECTION_KEY (e.g., RELAY_SERVER_TCP_PORT=50001)

[server]
# Port for plain TCP line connections
tcp_port = 50000

# Port for SSH connections (set to 0 to disable)
ssh_port = 50022

# Port for the public HTTP server (/ws WebSocket endpoint, 0 = disabled)
http_port = 8080

# Port for the internal metrics server (/metrics, never expose publicly)
metrics_port = 9090

# Path to SSH host key file (generated on first start if missing)
ssh_host_key = "~/.relay/ssh_host_key"

[limits]
# Maximum input line length in bytes
max_message_length = 4096

# Maximum username length in characters
max_username_length = 20

[filter]
# Words masked by the content filter in user-authored text
banned_words = ["badword", "swear", "offensive", "inappropriate", "curse"]

# Replacement character for masked words
mask = "*"
`

	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ToServerConfig converts TOMLConfig to ServerConfig
func (c *TOMLConfig) ToServerConfig() ServerConfig {
	cfg := DefaultConfig()

	if c.Server.TCPPort != 0 {
		cfg.TCPPort = c.Server.TCPPort
	}
	if c.Server.SSHPort != 0 {
		cfg.SSHPort = c.Server.SSHPort
	}
	if c.Server.HTTPPort != 0 {
		cfg.HTTPPort = c.Server.HTTPPort
	}
	if c.Server.MetricsPort != 0 {
		cfg.MetricsPort = c.Server.MetricsPort
	}

	if strings.TrimSpace(c.Server.SSHHostKey) != "" {
		cfg.SSHHostKeyPath = c.Server.SSHHostKey
	}

	if c.Limits.MaxMessageLength != 0 {
		cfg.MaxMessageLength = c.Limits.MaxMessageLength
	}
	if c.Limits.MaxUsernameLength != 0 {
		cfg.MaxUsernameLength = c.Limits.MaxUsernameLength
	}

	if len(c.Filter.BannedWords) > 0 {
		cfg.BannedWords = c.Filter.BannedWords
	}
	if c.Filter.Mask != "" {
		cfg.MaskRune = []rune(c.Filter.Mask)[0]
	}

	return cfg
}
