package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/skypro1111/speechcheck/internal/audio"
)

// Environment variables that override the configuration file.
const (
	EnvAnalysisEndpoint = "SPEECHCHECK_ANALYSIS_ENDPOINT"
	EnvLogLevel         = "SPEECHCHECK_LOG_LEVEL"
	EnvCaptureDevice    = "SPEECHCHECK_CAPTURE_DEVICE"
)

// Capture device kinds
const (
	DeviceCommand = "command"
	DeviceFile    = "file"
)

// Config represents the complete application configuration
type Config struct {
	Analysis   AnalysisConfig   `yaml:"analysis"`
	Capture    CaptureConfig    `yaml:"capture"`
	Transcoder TranscoderConfig `yaml:"transcoder"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Stub       StubConfig       `yaml:"stub"`
}

// AnalysisConfig contains remote analysis service configuration
type AnalysisConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Timeout   int    `yaml:"timeout"` // seconds
	UserAgent string `yaml:"user_agent"`
}

// CaptureConfig contains audio input configuration
type CaptureConfig struct {
	Device       string   `yaml:"device"`        // "command" or "file"
	Command      []string `yaml:"command"`       // recorder argv writing to stdout
	File         string   `yaml:"file"`          // source path for the file device
	MimeType     string   `yaml:"mime_type"`     // empty: guessed by the device
	ChunkSize    int      `yaml:"chunk_size"`    // bytes
	DrainTimeout float64  `yaml:"drain_timeout"` // seconds
	MaxDuration  float64  `yaml:"max_duration"`  // seconds, 0 = until stopped
}

// TranscoderConfig contains canonical audio conversion policies
type TranscoderConfig struct {
	Downmix      string `yaml:"downmix"`
	Quantization string `yaml:"quantization"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`       // stdout, stderr or a file path
	MaxSizeMB  int    `yaml:"max_size_mb"`  // file output rotation
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// MetricsConfig contains Prometheus exposition configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// StubConfig contains configuration of the local reference analysis service
type StubConfig struct {
	Address        string   `yaml:"address"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	NoiseThreshold float64  `yaml:"noise_threshold"`
	Transcription  string   `yaml:"transcription"`
	MaxUploadMB    int      `yaml:"max_upload_mb"`
}

// Default returns a complete configuration usable without a file
func Default() *Config {
	transcoder := audio.DefaultTranscoderConfig()

	return &Config{
		Analysis: AnalysisConfig{
			Endpoint:  "http://localhost:8000/analyze/",
			Timeout:   60,
			UserAgent: "speechcheck/1.0",
		},
		Capture: CaptureConfig{
			Device:       DeviceCommand,
			Command:      []string{"arecord", "-q", "-t", "wav", "-f", "S16_LE", "-c", "1", "-r", "16000"},
			MimeType:     "audio/wav",
			ChunkSize:    4096,
			DrainTimeout: 2,
		},
		Transcoder: TranscoderConfig{
			Downmix:      string(transcoder.Downmix),
			Quantization: string(transcoder.Quantization),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: "127.0.0.1",
			Port:    9090,
		},
		Stub: StubConfig{
			Address:        "0.0.0.0",
			Port:           8000,
			AllowedOrigins: []string{"http://localhost:3000"},
			NoiseThreshold: 0.5,
			Transcription:  "transcription unavailable: no speech model configured",
			MaxUploadMB:    32,
		},
	}
}

// Load reads the configuration file over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// LoadDotEnv loads variables from .env style files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides selected settings from the environment
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvAnalysisEndpoint); v != "" {
		c.Analysis.Endpoint = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv(EnvCaptureDevice); v != "" {
		c.Capture.Device = strings.ToLower(v)
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Analysis.Validate(); err != nil {
		return fmt.Errorf("analysis config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Transcoder.Validate(); err != nil {
		return fmt.Errorf("transcoder config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	if err := c.Stub.Validate(); err != nil {
		return fmt.Errorf("stub config: %w", err)
	}

	return nil
}

// Validate validates analysis configuration
func (a *AnalysisConfig) Validate() error {
	if a.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	u, err := url.Parse(a.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint %q: %w", a.Endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint must be an http or https URL, got %q", a.Endpoint)
	}
	if u.Host == "" {
		return fmt.Errorf("endpoint must include a host, got %q", a.Endpoint)
	}

	if a.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", a.Timeout)
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	switch c.Device {
	case DeviceCommand:
		if len(c.Command) == 0 || c.Command[0] == "" {
			return fmt.Errorf("command cannot be empty for the command device")
		}
	case DeviceFile:
		if c.File == "" {
			return fmt.Errorf("file cannot be empty for the file device")
		}
	default:
		return fmt.Errorf("device must be 'command' or 'file', got '%s'", c.Device)
	}

	if c.ChunkSize < 256 {
		return fmt.Errorf("chunk_size must be at least 256 bytes, got %d", c.ChunkSize)
	}

	if c.DrainTimeout <= 0 {
		return fmt.Errorf("drain_timeout must be positive, got %f", c.DrainTimeout)
	}

	if c.MaxDuration < 0 {
		return fmt.Errorf("max_duration cannot be negative, got %f", c.MaxDuration)
	}

	return nil
}

// Validate validates transcoder policies
func (t *TranscoderConfig) Validate() error {
	return t.Policies().Validate()
}

// Policies returns the transcoder policies as audio package values
func (t *TranscoderConfig) Policies() audio.TranscoderConfig {
	return audio.TranscoderConfig{
		Downmix:      audio.DownmixPolicy(t.Downmix),
		Quantization: audio.QuantizationPolicy(t.Quantization),
	}
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout/stderr is a file path and gets rotated.
	if l.Output != "stdout" && l.Output != "stderr" && l.Output != "" {
		if l.MaxSizeMB < 1 {
			return fmt.Errorf("max_size_mb must be at least 1 for file output, got %d", l.MaxSizeMB)
		}
		if l.MaxBackups < 0 {
			return fmt.Errorf("max_backups cannot be negative, got %d", l.MaxBackups)
		}
		if l.MaxAgeDays < 0 {
			return fmt.Errorf("max_age_days cannot be negative, got %d", l.MaxAgeDays)
		}
	}

	return nil
}

// Validate validates metrics configuration
func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.Port < 1 || m.Port > 65535 {
			return fmt.Errorf("metrics port must be between 1 and 65535, got %d", m.Port)
		}

		if m.Address == "" {
			return fmt.Errorf("metrics address cannot be empty when metrics are enabled")
		}
	}

	return nil
}

// Validate validates reference service configuration
func (s *StubConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if s.NoiseThreshold < 0 || s.NoiseThreshold > 1 {
		return fmt.Errorf("noise_threshold must be between 0 and 1, got %f", s.NoiseThreshold)
	}

	if s.MaxUploadMB < 1 {
		return fmt.Errorf("max_upload_mb must be at least 1, got %d", s.MaxUploadMB)
	}

	return nil
}

// GetTimeoutDuration returns the analysis timeout as a time.Duration
func (a *AnalysisConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(a.Timeout) * time.Second
}

// GetDrainTimeoutDuration returns the drain timeout as a time.Duration
func (c *CaptureConfig) GetDrainTimeoutDuration() time.Duration {
	return time.Duration(c.DrainTimeout * float64(time.Second))
}

// GetMaxDuration returns the recording limit as a time.Duration; zero means none
func (c *CaptureConfig) GetMaxDuration() time.Duration {
	return time.Duration(c.MaxDuration * float64(time.Second))
}

// Addr returns the metrics listen address
func (m *MetricsConfig) Addr() string {
	return fmt.Sprintf("%s:%d", m.Address, m.Port)
}

// Addr returns the reference service listen address
func (s *StubConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Address, s.Port)
}

// GetMaxUploadBytes returns the upload size limit in bytes
func (s *StubConfig) GetMaxUploadBytes() int64 {
	return int64(s.MaxUploadMB) << 20
}
