// Package config handles configuration loading and validation for the
// watermark daemon and CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// SigningKeyEnv overrides the configured signing key. The key is a
// 64-char lowercase hex secp256k1 scalar and is never logged.
const SigningKeyEnv = "WATERMARKD_SIGNING_KEY"

// Config holds daemon and CLI configuration.
type Config struct {
	// WatchPaths is a list of directories to monitor for new images.
	WatchPaths []string `toml:"watch_paths"`

	// Interval is the debounce interval in seconds. Files must be
	// stable for this duration before embedding.
	Interval int `toml:"interval"`

	// OutputDir receives watermarked copies. Empty writes alongside
	// the originals.
	OutputDir string `toml:"output_dir"`

	// StorePath is the SQLite evidence store.
	StorePath string `toml:"store_path"`

	// LogPath is the daemon log file. Empty logs to stderr.
	LogPath string `toml:"log_path"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `toml:"log_level"`

	// LogFormat is text or json.
	LogFormat string `toml:"log_format"`

	// SigningKeyHex is the secp256k1 private key. The environment
	// variable takes precedence; embedding proceeds unsigned when both
	// are empty.
	SigningKeyHex string `toml:"signing_key_hex"`

	// Strength is the default embed strength.
	Strength float64 `toml:"strength"`

	// EccBytes is the default parity size.
	EccBytes int `toml:"ecc_bytes"`

	// JPEGQuality is the re-encode quality.
	JPEGQuality int `toml:"jpeg_quality"`

	// AnchorURL is the optional timestamp-anchor endpoint. Empty
	// disables anchoring.
	AnchorURL string `toml:"anchor_url"`

	// Owner is the rights-holder profile stamped into every payload.
	Owner Owner `toml:"owner"`
}

// Owner mirrors the user profile consumed by the payload canonicalizer.
type Owner struct {
	LegalName     string `toml:"legal_name"`
	DisplayName   string `toml:"display_name"`
	CopyrightYear int    `toml:"copyright_year"`
	PrimarySource string `toml:"primary_source"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	baseDir := filepath.Join(homeDir, ".watermarkd")

	return &Config{
		WatchPaths:  []string{},
		Interval:    5,
		StorePath:   filepath.Join(baseDir, "evidence.db"),
		LogPath:     filepath.Join(baseDir, "watermarkd.log"),
		LogLevel:    "info",
		LogFormat:   "text",
		Strength:    0.15,
		EccBytes:    8,
		JPEGQuality: 95,
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".watermarkd", "config.toml")
}

// Load reads configuration from the specified path. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = ConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SigningKey resolves the key material, environment first.
func (c *Config) SigningKey() string {
	if key := os.Getenv(SigningKeyEnv); key != "" {
		return key
	}
	return c.SigningKeyHex
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Interval < 1 {
		return errors.New("config: interval must be at least 1 second")
	}
	if c.StorePath == "" {
		return errors.New("config: store_path is required")
	}
	if c.Strength < 0.05 || c.Strength > 0.20 {
		return fmt.Errorf("config: strength %g outside [0.05, 0.20]", c.Strength)
	}
	switch c.EccBytes {
	case 8, 12, 16:
	default:
		return fmt.Errorf("config: ecc_bytes must be 8, 12 or 16, got %d", c.EccBytes)
	}
	if c.JPEGQuality < 95 || c.JPEGQuality > 100 {
		return fmt.Errorf("config: jpeg_quality must be in [95, 100], got %d", c.JPEGQuality)
	}
	return nil
}

// EnsureDirectories creates the directories the daemon writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.StorePath),
	}
	if c.LogPath != "" {
		dirs = append(dirs, filepath.Dir(c.LogPath))
	}
	if c.OutputDir != "" {
		dirs = append(dirs, c.OutputDir)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	return nil
}
