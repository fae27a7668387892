package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/Gelotto/faceswap-client/internal/client"
	"github.com/Gelotto/faceswap-client/internal/models"
)

// Environment variables that override file values
const (
	EnvBaseURL    = "FACESWAP_BASE_URL"
	EnvToken      = "FACESWAP_TOKEN"
	EnvMode       = "FACESWAP_MODE"
	EnvScratchDir = "FACESWAP_SCRATCH_DIR"
	EnvOutputDir  = "FACESWAP_OUTPUT_DIR"
	EnvLogLevel   = "FACESWAP_LOG_LEVEL"
	EnvRefFrame   = "FACESWAP_REFERENCE_FRAME"
)

// DotEnvFiles are loaded before the config file when present
var DotEnvFiles = []string{".env", ".env.local"}

// Config holds client configuration
type Config struct {
	API     APIConfig     `yaml:"api"`
	Job     JobConfig     `yaml:"job"`
	Staging StagingConfig `yaml:"staging"`
	Results ResultsConfig `yaml:"results"`
	Log     LogConfig     `yaml:"log"`
}

// APIConfig holds API connection settings
type APIConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Token          string        `yaml:"token"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	StreamTimeout  time.Duration `yaml:"stream_timeout"` // 0 = unbounded
}

// JobConfig holds job defaults
type JobConfig struct {
	Mode                 models.Mode `yaml:"mode"`
	ReferenceFrameNumber *int        `yaml:"reference_frame_number,omitempty"`
}

// StagingConfig holds artifact staging settings
type StagingConfig struct {
	ScratchDir string `yaml:"scratch_dir"`
}

// ResultsConfig holds result download settings
type ResultsConfig struct {
	OutputDir string `yaml:"output_dir"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads .env files, then the YAML file at path, then environment overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	if err := LoadDotEnv(DotEnvFiles...); err != nil {
		return nil, err
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadDotEnv loads each existing file into the environment without overriding set variables
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvBaseURL); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv(EnvToken); v != "" {
		c.API.Token = v
	}
	if v := os.Getenv(EnvMode); v != "" {
		c.Job.Mode = models.Mode(v)
	}
	if v := os.Getenv(EnvScratchDir); v != "" {
		c.Staging.ScratchDir = v
	}
	if v := os.Getenv(EnvOutputDir); v != "" {
		c.Results.OutputDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvRefFrame); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvRefFrame, v, err)
		}
		c.Job.ReferenceFrameNumber = &n
	}
	return nil
}

func (c *Config) applyDefaults() {
	c.API.BaseURL = strings.TrimRight(strings.TrimSpace(c.API.BaseURL), "/")
	if c.API.ConnectTimeout == 0 {
		c.API.ConnectTimeout = client.DefaultConnectTimeout
	}
	if c.API.RequestTimeout == 0 {
		c.API.RequestTimeout = client.DefaultRequestTimeout
	}
	if c.Job.Mode == "" {
		c.Job.Mode = models.DefaultMode
	}

	base := filepath.Join(os.TempDir(), "faceswap-client")
	if c.Staging.ScratchDir == "" {
		c.Staging.ScratchDir = filepath.Join(base, "staging")
	}
	if c.Results.OutputDir == "" {
		c.Results.OutputDir = filepath.Join(base, "results")
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// Timeouts returns the transport timeouts
func (c *APIConfig) Timeouts() client.Timeouts {
	return client.Timeouts{
		Connect: c.ConnectTimeout,
		Request: c.RequestTimeout,
		Stream:  c.StreamTimeout,
	}
}

// Validate checks if the configuration is valid and returns detailed errors
func (c *Config) Validate() error {
	if c.API.BaseURL != "" {
		u, err := url.Parse(c.API.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid API base URL %q (expected http(s)://host)", c.API.BaseURL)
		}
	}
	if c.API.ConnectTimeout < 0 || c.API.ConnectTimeout > client.DefaultConnectTimeout {
		return fmt.Errorf("connect_timeout must be between 0 and %s, got %s", client.DefaultConnectTimeout, c.API.ConnectTimeout)
	}
	if c.API.RequestTimeout < 0 || c.API.RequestTimeout > client.DefaultRequestTimeout {
		return fmt.Errorf("request_timeout must be between 0 and %s, got %s", client.DefaultRequestTimeout, c.API.RequestTimeout)
	}
	if c.API.StreamTimeout < 0 {
		return fmt.Errorf("stream_timeout must not be negative, got %s", c.API.StreamTimeout)
	}
	if _, ok := models.ParseMode(string(c.Job.Mode)); !ok {
		return fmt.Errorf("unknown job mode %q", c.Job.Mode)
	}
	if n := c.Job.ReferenceFrameNumber; n != nil && *n < 0 {
		return fmt.Errorf("reference_frame_number must not be negative, got %d", *n)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("invalid log format %q (expected console or json)", c.Log.Format)
	}
	return nil
}

// Save writes the configuration to a YAML file readable only by the owner
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
