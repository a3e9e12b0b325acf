package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	HTTP          HTTPConfig          `yaml:"http"`
	Capture       CaptureConfig       `yaml:"capture"`
	Live          LiveConfig          `yaml:"live"`
	AEC           AECConfig           `yaml:"aec"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Reconcile     ReconcileConfig     `yaml:"reconcile"`
	Storage       StorageConfig       `yaml:"storage"`
	Sentry        SentryConfig        `yaml:"sentry"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig contains UDP ingest server configuration
type ServerConfig struct {
	Enabled     bool   `yaml:"enabled"`
	UDPPort     int    `yaml:"udp_port"`
	BindAddress string `yaml:"bind_address"`
	BufferSize  int    `yaml:"buffer_size"`
	Workers     int    `yaml:"workers"`
	QueueSize   int    `yaml:"queue_size"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// CaptureConfig is the audio format assumed for each source until a
// capture agent announces its own
type CaptureConfig struct {
	MicSampleRate    int `yaml:"mic_sample_rate"`
	MicChannels      int `yaml:"mic_channels"`
	SystemSampleRate int `yaml:"system_sample_rate"`
	SystemChannels   int `yaml:"system_channels"`
}

// LiveConfig contains live transcription scheduling configuration
type LiveConfig struct {
	Interval         float64 `yaml:"interval"` // seconds
	VADEnabled       bool    `yaml:"vad_enabled"`
	VADThreshold     float32 `yaml:"vad_threshold"`
	VADWindow        int     `yaml:"vad_window"` // samples at 16 kHz
	MinSpeechWindows int     `yaml:"min_speech_windows"`
	StopTimeout      int     `yaml:"stop_timeout"` // seconds

	// Seconds without capture packets after which the live loop stops ticking.
	// Also the grace period after start. Zero keeps the loop running until stop.
	RecordingIdle float64 `yaml:"recording_idle"`
}

// AECConfig contains echo canceller configuration
type AECConfig struct {
	MaxDelayMs int     `yaml:"max_delay_ms"`
	StepSize   float64 `yaml:"step_size"`
}

// TranscriptionConfig contains recognizer configuration
type TranscriptionConfig struct {
	Provider      string  `yaml:"provider"` // "http" or "openai"
	Endpoint      string  `yaml:"endpoint"`
	APIKey        string  `yaml:"api_key"`
	Model         string  `yaml:"model"`
	Language      string  `yaml:"language"`
	Prompt        string  `yaml:"prompt"`
	Timeout       int     `yaml:"timeout"` // seconds
	MaxRetries    int     `yaml:"max_retries"`
	MaxConcurrent int     `yaml:"max_concurrent"`
	RetryBackoff  float64 `yaml:"retry_backoff"` // seconds
}

// ReconcileConfig controls how saved recordings are split before retranscription.
// Recordings no longer than max_chunk_duration go to the recognizer whole.
type ReconcileConfig struct {
	MaxChunkDuration   float64 `yaml:"max_chunk_duration"`   // seconds
	MinChunkDuration   float64 `yaml:"min_chunk_duration"`   // seconds
	MinSilenceDuration float64 `yaml:"min_silence_duration"` // seconds
	SilenceThreshold   float32 `yaml:"silence_threshold"`    // RMS level

	// Root that retranscribe requests may read recordings from
	RecordingsDir string `yaml:"recordings_dir"`
}

// StorageConfig selects the transcript persistence backend
type StorageConfig struct {
	Driver      string `yaml:"driver"` // "memory" or "postgres"
	DatabaseURL string `yaml:"database_url"`
	Migrate     bool   `yaml:"migrate"`
}

// SentryConfig contains error reporting configuration.
// An empty DSN disables reporting.
type SentryConfig struct {
	DSN         string  `yaml:"dsn"`
	Environment string  `yaml:"environment"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file.
// Variables from a .env file in the working directory are loaded first, and
// ${VAR} references in the file are expanded from the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.SetDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// SetDefaults fills in optional settings left empty
func (c *Config) SetDefaults() {
	if c.Server.Workers == 0 {
		c.Server.Workers = 4
	}
	if c.Server.QueueSize == 0 {
		c.Server.QueueSize = 1000
	}
	if c.Capture.MicSampleRate == 0 {
		c.Capture.MicSampleRate = 16000
	}
	if c.Capture.MicChannels == 0 {
		c.Capture.MicChannels = 1
	}
	if c.Capture.SystemSampleRate == 0 {
		c.Capture.SystemSampleRate = 16000
	}
	if c.Capture.SystemChannels == 0 {
		c.Capture.SystemChannels = 1
	}
	if c.Live.Interval == 0 {
		c.Live.Interval = 5
	}
	if c.Live.VADWindow == 0 {
		c.Live.VADWindow = 320
	}
	if c.Live.MinSpeechWindows == 0 {
		c.Live.MinSpeechWindows = 3
	}
	if c.Live.StopTimeout == 0 {
		c.Live.StopTimeout = 30
	}
	if c.AEC.MaxDelayMs == 0 {
		c.AEC.MaxDelayMs = 150
	}
	if c.AEC.StepSize == 0 {
		c.AEC.StepSize = 0.1
	}
	if c.Transcription.Provider == "" {
		c.Transcription.Provider = "http"
	}
	if c.Transcription.Timeout == 0 {
		c.Transcription.Timeout = 30
	}
	if c.Transcription.MaxConcurrent == 0 {
		c.Transcription.MaxConcurrent = 4
	}
	if c.Transcription.RetryBackoff == 0 {
		c.Transcription.RetryBackoff = 1
	}
	if c.Reconcile.MaxChunkDuration == 0 {
		c.Reconcile.MaxChunkDuration = 600
	}
	if c.Reconcile.MinSilenceDuration == 0 {
		c.Reconcile.MinSilenceDuration = 0.5
	}
	if c.Reconcile.RecordingsDir == "" {
		c.Reconcile.RecordingsDir = "recordings"
	}
	if c.Reconcile.SilenceThreshold == 0 {
		c.Reconcile.SilenceThreshold = 0.01
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Sentry.SampleRate == 0 {
		c.Sentry.SampleRate = 1.0
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Live.Validate(); err != nil {
		return fmt.Errorf("live config: %w", err)
	}

	if err := c.AEC.Validate(); err != nil {
		return fmt.Errorf("aec config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Reconcile.Validate(); err != nil {
		return fmt.Errorf("reconcile config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.Sentry.Validate(); err != nil {
		return fmt.Errorf("sentry config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if !s.Enabled {
		return nil
	}

	if s.UDPPort < 1 || s.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", s.UDPPort)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", s.BufferSize)
	}

	if s.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", s.Workers)
	}

	if s.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", s.QueueSize)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates capture formats
func (c *CaptureConfig) Validate() error {
	if c.MicSampleRate < 8000 || c.MicSampleRate > 192000 {
		return fmt.Errorf("mic_sample_rate must be between 8000 and 192000 Hz, got %d", c.MicSampleRate)
	}

	if c.SystemSampleRate < 8000 || c.SystemSampleRate > 192000 {
		return fmt.Errorf("system_sample_rate must be between 8000 and 192000 Hz, got %d", c.SystemSampleRate)
	}

	if c.MicChannels < 1 || c.MicChannels > 8 {
		return fmt.Errorf("mic_channels must be between 1 and 8, got %d", c.MicChannels)
	}

	if c.SystemChannels < 1 || c.SystemChannels > 8 {
		return fmt.Errorf("system_channels must be between 1 and 8, got %d", c.SystemChannels)
	}

	return nil
}

// Validate validates live transcription configuration
func (l *LiveConfig) Validate() error {
	if l.Interval < 0.5 || l.Interval > 60 {
		return fmt.Errorf("interval must be between 0.5 and 60 seconds, got %f", l.Interval)
	}

	if l.VADThreshold < 0 || l.VADThreshold > 1 {
		return fmt.Errorf("vad_threshold must be between 0 and 1, got %f", l.VADThreshold)
	}

	if l.VADWindow < 80 || l.VADWindow > 16000 {
		return fmt.Errorf("vad_window must be between 80 and 16000 samples, got %d", l.VADWindow)
	}

	if l.MinSpeechWindows < 1 {
		return fmt.Errorf("min_speech_windows must be at least 1, got %d", l.MinSpeechWindows)
	}

	if l.StopTimeout < 1 {
		return fmt.Errorf("stop_timeout must be at least 1 second, got %d", l.StopTimeout)
	}

	if l.RecordingIdle < 0 || l.RecordingIdle > 3600 {
		return fmt.Errorf("recording_idle must be between 0 and 3600 seconds, got %f", l.RecordingIdle)
	}

	return nil
}

// Validate validates recording split configuration
func (r *ReconcileConfig) Validate() error {
	if r.MaxChunkDuration < 10 || r.MaxChunkDuration > 3600 {
		return fmt.Errorf("max_chunk_duration must be between 10 and 3600 seconds, got %f", r.MaxChunkDuration)
	}

	if r.MinChunkDuration < 0 || r.MinChunkDuration > r.MaxChunkDuration {
		return fmt.Errorf("min_chunk_duration must be between 0 and max_chunk_duration, got %f", r.MinChunkDuration)
	}

	if r.MinSilenceDuration < 0 {
		return fmt.Errorf("min_silence_duration cannot be negative, got %f", r.MinSilenceDuration)
	}

	if r.SilenceThreshold < 0 || r.SilenceThreshold > 1 {
		return fmt.Errorf("silence_threshold must be between 0 and 1, got %f", r.SilenceThreshold)
	}

	if r.RecordingsDir == "" {
		return fmt.Errorf("recordings_dir is required")
	}

	return nil
}

// Validate validates echo canceller configuration
func (a *AECConfig) Validate() error {
	if a.MaxDelayMs < 1 || a.MaxDelayMs > 1000 {
		return fmt.Errorf("max_delay_ms must be between 1 and 1000, got %d", a.MaxDelayMs)
	}

	if a.StepSize <= 0 || a.StepSize > 1 {
		return fmt.Errorf("step_size must be in (0, 1], got %f", a.StepSize)
	}

	return nil
}

// Validate validates recognizer configuration
func (t *TranscriptionConfig) Validate() error {
	switch t.Provider {
	case "http":
		if t.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for the http provider")
		}
	case "openai":
		if t.APIKey == "" {
			return fmt.Errorf("api_key cannot be empty for the openai provider")
		}
	default:
		return fmt.Errorf("provider must be 'http' or 'openai', got '%s'", t.Provider)
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	if t.RetryBackoff < 0 {
		return fmt.Errorf("retry_backoff cannot be negative, got %f", t.RetryBackoff)
	}

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	switch s.Driver {
	case "memory":
	case "postgres":
		if s.DatabaseURL == "" {
			return fmt.Errorf("database_url cannot be empty for the postgres driver")
		}
	default:
		return fmt.Errorf("driver must be 'memory' or 'postgres', got '%s'", s.Driver)
	}
	return nil
}

// Validate validates error reporting configuration
func (s *SentryConfig) Validate() error {
	if s.SampleRate < 0 || s.SampleRate > 1 {
		return fmt.Errorf("sample_rate must be between 0 and 1, got %f", s.SampleRate)
	}
	return nil
}

// Validate validates logging configuration. Any output other than
// stdout or stderr is treated as a file path.
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

	return nil
}

// GetIntervalDuration returns the tick interval as a time.Duration
func (l *LiveConfig) GetIntervalDuration() time.Duration {
	return time.Duration(l.Interval * float64(time.Second))
}

// GetStopTimeoutDuration returns the stop timeout as a time.Duration
func (l *LiveConfig) GetStopTimeoutDuration() time.Duration {
	return time.Duration(l.StopTimeout) * time.Second
}

// GetRecordingIdleDuration returns the capture idle timeout as time.Duration
func (l *LiveConfig) GetRecordingIdleDuration() time.Duration {
	return time.Duration(l.RecordingIdle * float64(time.Second))
}

// GetTimeoutDuration returns the recognition timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetRetryBackoffDuration returns the base retry backoff as a time.Duration
func (t *TranscriptionConfig) GetRetryBackoffDuration() time.Duration {
	return time.Duration(t.RetryBackoff * float64(time.Second))
}

// GetMaxChunkDuration returns the longest recording sent in one request
func (r *ReconcileConfig) GetMaxChunkDuration() time.Duration {
	return time.Duration(r.MaxChunkDuration * float64(time.Second))
}

// GetMinChunkDuration returns the shortest chunk emitted on its own
func (r *ReconcileConfig) GetMinChunkDuration() time.Duration {
	return time.Duration(r.MinChunkDuration * float64(time.Second))
}

// GetMinSilenceDuration returns the pause length that ends a chunk
func (r *ReconcileConfig) GetMinSilenceDuration() time.Duration {
	return time.Duration(r.MinSilenceDuration * float64(time.Second))
}
