package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the scribe configuration file.
type Config struct {
	HostID     string           `toml:"host_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Vaults     []VaultConfig    `toml:"vaults"`
	Encryption EncryptionConfig `toml:"encryption"`
	Database   DatabaseConfig   `toml:"database"`
	Policy     PolicyConfig     `toml:"policy"`
	AutoSave   AutoSaveConfig   `toml:"autosave"`
	Retention  RetentionConfig  `toml:"retention"`
}

// EncryptionConfig selects how payload blobs are protected at rest.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default), "test" or "none"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// Enabled reports whether payloads are encrypted.
func (e EncryptionConfig) Enabled() bool {
	return e.Type != "none"
}

// VaultConfig is a tagged union: Type decides which other fields apply.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3 (Type == "s3"). Endpoint and path-style addressing allow
	// S3-compatible stores such as MinIO; empty credentials fall back to
	// the default AWS credential chain.
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3PathStyle       bool   `toml:"s3_path_style,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// Filesystem (Type == "filesystem").
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// DatabaseConfig is a tagged union: Type decides which other fields apply.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// PolicyConfig tunes the full-snapshot decision.
type PolicyConfig struct {
	ChangeThreshold int    `toml:"change_threshold"` // pending changes above which a full snapshot is saved
	FullInterval    string `toml:"full_interval"`    // e.g. "1h"
}

// FullIntervalDuration parses FullInterval. Empty means the default.
func (p PolicyConfig) FullIntervalDuration() (time.Duration, error) {
	return parseDuration("policy.full_interval", p.FullInterval)
}

// AutoSaveConfig sets the period of automatic saves while watching.
type AutoSaveConfig struct {
	Interval string `toml:"interval"` // e.g. "60s"
}

// IntervalDuration parses Interval. Empty means the default.
func (a AutoSaveConfig) IntervalDuration() (time.Duration, error) {
	return parseDuration("autosave.interval", a.Interval)
}

// RetentionConfig bounds how many versions are kept per document.
type RetentionConfig struct {
	KeepVersions int `toml:"keep_versions"`
}

const (
	DefaultChangeThreshold = 100
	DefaultFullInterval    = "1h"
	DefaultAutoSave        = "60s"
	DefaultKeepVersions    = 100
)

// NewConfig creates a Config with defaults rooted at baseDir: a filesystem
// vault, a SQLite index and age encryption.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:  hostID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Vaults: []VaultConfig{
			{Type: "filesystem", Name: "local", FSVaultRoot: filepath.Join(baseDir, "vault")},
		},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "scribe.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "scribe.key"),
		},
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Policy: PolicyConfig{
			ChangeThreshold: DefaultChangeThreshold,
			FullInterval:    DefaultFullInterval,
		},
		AutoSave:  AutoSaveConfig{Interval: DefaultAutoSave},
		Retention: RetentionConfig{KeepVersions: DefaultKeepVersions},
	}
}

// Validate checks values that cannot be caught by decoding.
func (c *Config) Validate() error {
	if c.HostID == "" {
		return fmt.Errorf("host_id is required")
	}
	if c.Policy.ChangeThreshold < 0 {
		return fmt.Errorf("policy.change_threshold must not be negative")
	}
	if _, err := c.Policy.FullIntervalDuration(); err != nil {
		return err
	}
	if _, err := c.AutoSave.IntervalDuration(); err != nil {
		return err
	}
	if c.Retention.KeepVersions < 0 {
		return fmt.Errorf("retention.keep_versions must not be negative")
	}
	return nil
}

func parseDuration(key, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, s)
	}
	return d, nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads and validates a Config from path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file may hold S3 credentials.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to path. It refuses to overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
