package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Gelotto/faceswap-client/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvBaseURL, EnvToken, EnvMode, EnvScratchDir, EnvOutputDir, EnvLogLevel, EnvRefFrame} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
api:
  base_url: "https://swap.example.com/"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.API.BaseURL != "https://swap.example.com" {
		t.Errorf("API.BaseURL = %q, want trailing slash trimmed", cfg.API.BaseURL)
	}
	if cfg.API.ConnectTimeout != 30*time.Second {
		t.Errorf("API.ConnectTimeout = %v, want %v", cfg.API.ConnectTimeout, 30*time.Second)
	}
	if cfg.API.RequestTimeout != 120*time.Second {
		t.Errorf("API.RequestTimeout = %v, want %v", cfg.API.RequestTimeout, 120*time.Second)
	}
	if cfg.API.StreamTimeout != 0 {
		t.Errorf("API.StreamTimeout = %v, want unbounded", cfg.API.StreamTimeout)
	}
	if cfg.Job.Mode != models.DefaultMode {
		t.Errorf("Job.Mode = %q, want %q", cfg.Job.Mode, models.DefaultMode)
	}
	if !strings.HasSuffix(cfg.Staging.ScratchDir, filepath.Join("faceswap-client", "staging")) {
		t.Errorf("Staging.ScratchDir = %q", cfg.Staging.ScratchDir)
	}
	if !strings.HasSuffix(cfg.Results.OutputDir, filepath.Join("faceswap-client", "results")) {
		t.Errorf("Results.OutputDir = %q", cfg.Results.OutputDir)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "console" {
		t.Errorf("Log = %+v, want info/console", cfg.Log)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad_FullFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
api:
  base_url: "http://10.0.0.5:8000"
  token: "Bearer abc123"
  connect_timeout: 10s
  request_timeout: 1m
  stream_timeout: 30m
job:
  mode: photo_photo_codeformer
  reference_frame_number: 7
staging:
  scratch_dir: /var/tmp/fs/in
results:
  output_dir: /var/tmp/fs/out
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.API.Token != "Bearer abc123" {
		t.Errorf("API.Token = %q", cfg.API.Token)
	}
	timeouts := cfg.API.Timeouts()
	if timeouts.Connect != 10*time.Second || timeouts.Request != time.Minute || timeouts.Stream != 30*time.Minute {
		t.Errorf("Timeouts() = %+v", timeouts)
	}
	if cfg.Job.Mode != models.ModePhotoPhotoCodeformer {
		t.Errorf("Job.Mode = %q", cfg.Job.Mode)
	}
	if cfg.Job.ReferenceFrameNumber == nil || *cfg.Job.ReferenceFrameNumber != 7 {
		t.Errorf("Job.ReferenceFrameNumber = %v, want 7", cfg.Job.ReferenceFrameNumber)
	}
	if cfg.Staging.ScratchDir != "/var/tmp/fs/in" || cfg.Results.OutputDir != "/var/tmp/fs/out" {
		t.Errorf("dirs = %q %q", cfg.Staging.ScratchDir, cfg.Results.OutputDir)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v, want defaults", err)
	}
	if cfg.Job.Mode != models.DefaultMode {
		t.Errorf("Job.Mode = %q, want default", cfg.Job.Mode)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "api: [unclosed")
	if _, err := Load(path); err == nil {
		t.Error("Load() should fail on malformed YAML")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
api:
  base_url: "https://file.example.com"
  token: "file-token"
job:
  mode: photo_photo_gpen
`)
	t.Setenv(EnvBaseURL, "https://env.example.com")
	t.Setenv(EnvToken, "env-token")
	t.Setenv(EnvMode, "photo_video_quality")
	t.Setenv(EnvScratchDir, "/tmp/env-in")
	t.Setenv(EnvOutputDir, "/tmp/env-out")
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvRefFrame, "42")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"base url", cfg.API.BaseURL, "https://env.example.com"},
		{"token", cfg.API.Token, "env-token"},
		{"mode", string(cfg.Job.Mode), "photo_video_quality"},
		{"scratch", cfg.Staging.ScratchDir, "/tmp/env-in"},
		{"output", cfg.Results.OutputDir, "/tmp/env-out"},
		{"log level", cfg.Log.Level, "warn"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
	if cfg.Job.ReferenceFrameNumber == nil || *cfg.Job.ReferenceFrameNumber != 42 {
		t.Errorf("ReferenceFrameNumber = %v, want 42", cfg.Job.ReferenceFrameNumber)
	}
}

func TestLoad_InvalidReferenceFrameEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvRefFrame, "first")
	if _, err := Load(""); err == nil {
		t.Error("Load() should reject a non-numeric reference frame")
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("FACESWAP_TOKEN=dotenv-token\nFACESWAP_MODE=photo_photo_gpen\n"), 0600); err != nil {
		t.Fatal(err)
	}
	// set but empty variables are kept by godotenv, so unset them for this test
	os.Unsetenv(EnvToken)
	t.Setenv(EnvMode, "photo_video_fast")

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), envFile); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	t.Cleanup(func() { os.Unsetenv(EnvToken) })

	if got := os.Getenv(EnvToken); got != "dotenv-token" {
		t.Errorf("%s = %q, want dotenv-token", EnvToken, got)
	}
	if got := os.Getenv(EnvMode); got != "photo_video_fast" {
		t.Errorf("%s = %q, want existing value kept", EnvMode, got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"empty base url allowed", func(c *Config) { c.API.BaseURL = "" }, ""},
		{"bad scheme", func(c *Config) { c.API.BaseURL = "ftp://x" }, "base URL"},
		{"connect too long", func(c *Config) { c.API.ConnectTimeout = time.Minute }, "connect_timeout"},
		{"request too long", func(c *Config) { c.API.RequestTimeout = 3 * time.Minute }, "request_timeout"},
		{"negative stream", func(c *Config) { c.API.StreamTimeout = -time.Second }, "stream_timeout"},
		{"unknown mode", func(c *Config) { c.Job.Mode = "video_video" }, "mode"},
		{"negative frame", func(c *Config) { n := -1; c.Job.ReferenceFrameNumber = &n }, "reference_frame_number"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.API.BaseURL = "https://swap.example.com"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.API.BaseURL = "https://swap.example.com"
	cfg.API.Token = "secret"
	cfg.Job.Mode = models.ModePhotoVideoQuality

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file mode = %o, want 0600", perm)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.API.Token != "secret" || loaded.Job.Mode != models.ModePhotoVideoQuality {
		t.Errorf("loaded = %+v", loaded.API)
	}
	if loaded.API.RequestTimeout != cfg.API.RequestTimeout {
		t.Errorf("RequestTimeout = %v, want %v", loaded.API.RequestTimeout, cfg.API.RequestTimeout)
	}
}
