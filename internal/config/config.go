package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// DefaultBaseURL is the public content service.
const DefaultBaseURL = "https://boneguide.herokuapp.com"

// Config represents the main configuration for boneguide.
type Config struct {
	DeviceID string         `toml:"device_id" validate:"required"`
	BaseDir  string         `toml:"base_dir" validate:"required"`
	LogDir   string         `toml:"log_dir" validate:"required"`
	Remote   RemoteConfig   `toml:"remote"`
	Database DatabaseConfig `toml:"database"`
	Assets   AssetsConfig   `toml:"assets"`
	Sync     SyncConfig     `toml:"sync"`
}

// RemoteConfig points at the content service.
type RemoteConfig struct {
	BaseURL        string `toml:"base_url" validate:"required,url"`
	TimeoutSeconds int    `toml:"timeout_seconds" validate:"min=1,max=600"`
}

// Timeout returns the per-request timeout.
func (r RemoteConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// DatabaseConfig represents configuration for the local mirror.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type" validate:"oneof=sqlite memory"`
	DataDir string `toml:"data_dir,omitempty" validate:"required_if=Type sqlite"` // only used for type=sqlite
}

// AssetsConfig represents configuration for downloaded image storage.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type AssetsConfig struct {
	Type string `toml:"type" validate:"oneof=filesystem memory s3"`

	// Filesystem fields (only used when Type == "filesystem")
	ImagesDir string `toml:"images_dir,omitempty" validate:"required_if=Type filesystem"`

	// S3 fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty" validate:"required_if=Type s3"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty" validate:"omitempty,url"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
}

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	// HospitalID is the hospital selected when none is given on the command
	// line. Zero falls back to the remote default hospital.
	HospitalID           int64  `toml:"hospital_id" validate:"min=0"`
	VersionSource        string `toml:"version_source" validate:"oneof=hospital project"`
	ImageConcurrency     int    `toml:"image_concurrency" validate:"min=1,max=64"`
	ProbeIntervalSeconds int    `toml:"probe_interval_seconds" validate:"min=1"`
	MetricsAddr          string `toml:"metrics_addr,omitempty" validate:"omitempty,tcp_addr"`
}

// ProbeInterval returns the connectivity probe period.
func (s SyncConfig) ProbeInterval() time.Duration {
	return time.Duration(s.ProbeIntervalSeconds) * time.Second
}

// NewConfig creates a new Config with the provided values and defaults for everything else.
func NewConfig(deviceID, baseDir string) *Config {
	return &Config{
		DeviceID: deviceID,
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		Remote: RemoteConfig{
			BaseURL:        DefaultBaseURL,
			TimeoutSeconds: 30,
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Assets: AssetsConfig{
			Type:      "filesystem",
			ImagesDir: filepath.Join(baseDir, "images"),
		},
		Sync: SyncConfig{
			VersionSource:        "hospital",
			ImageConcurrency:     4,
			ProbeIntervalSeconds: 30,
		},
	}
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
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

// ReadFromFile reads and validates a Config from the file at path.
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
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the file at path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
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

// Init initializes a new config file at path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
