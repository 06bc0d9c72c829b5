package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete translator configuration
type Config struct {
	Audio         AudioConfig         `yaml:"audio"`
	Capture       CaptureConfig       `yaml:"capture"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Translation   TranslationConfig   `yaml:"translation"`
	Session       SessionConfig       `yaml:"session"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	HTTP          HTTPConfig          `yaml:"http"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// AudioConfig contains chunking parameters
type AudioConfig struct {
	SampleRate       int     `yaml:"sample_rate"`
	Channels         int     `yaml:"channels"`
	BitDepth         int     `yaml:"bit_depth"`
	FrameSize        int     `yaml:"frame_size"`         // samples per device callback
	ChunkMinDuration float64 `yaml:"chunk_min_duration"` // seconds
	ChunkMaxDuration float64 `yaml:"chunk_max_duration"` // seconds
	SilenceThreshold float64 `yaml:"silence_threshold"`  // normalized RMS
	SilenceDuration  float64 `yaml:"silence_duration"`   // seconds
	QueueCapacity    int     `yaml:"queue_capacity"`
	QueuePolicy      string  `yaml:"queue_policy"`
}

// CaptureConfig selects the capture driver and device
type CaptureConfig struct {
	Driver string    `yaml:"driver"`
	Device int       `yaml:"device"` // -1 selects the system default
	UDP    UDPConfig `yaml:"udp"`
}

// UDPConfig contains network microphone listener configuration
type UDPConfig struct {
	BindAddress   string  `yaml:"bind_address"`
	Port          int     `yaml:"port"`
	BufferSize    int     `yaml:"buffer_size"`
	SourceTimeout float64 `yaml:"source_timeout"` // seconds
}

// TranscriptionConfig contains Whisper server configuration
type TranscriptionConfig struct {
	Endpoint      string  `yaml:"endpoint"`
	APIKey        string  `yaml:"api_key"`
	Model         string  `yaml:"model"`
	Timeout       int     `yaml:"timeout"` // seconds
	MaxRetries    int     `yaml:"max_retries"`
	MaxConcurrent int     `yaml:"max_concurrent"`
	Temperature   float64 `yaml:"temperature"`
}

// TranslationConfig contains translation server configuration
type TranslationConfig struct {
	Endpoint      string   `yaml:"endpoint"`
	APIKey        string   `yaml:"api_key"`
	Timeout       int      `yaml:"timeout"` // seconds
	MaxRetries    int      `yaml:"max_retries"`
	Pairs         []string `yaml:"pairs"` // "from:to"
	VerifyOnStart bool     `yaml:"verify_on_start"`
}

// SessionConfig contains session storage configuration
type SessionConfig struct {
	SessionsDir string `yaml:"sessions_dir"`
	TempDir     string `yaml:"temp_dir"`
	LibraryPath string `yaml:"library_path"`
	DefaultMode string `yaml:"default_mode"`
	Record      bool   `yaml:"record"`
}

// PipelineConfig contains consumer loop configuration
type PipelineConfig struct {
	PollTimeout float64 `yaml:"poll_timeout"` // seconds
	EventBuffer int     `yaml:"event_buffer"`
}

// HTTPConfig contains status API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// LanguagePair is a parsed translation.pairs entry
type LanguagePair struct {
	From string
	To   string
}

var (
	validModes    = map[string]bool{"auto": true, "fr_to_en": true, "en_to_fr": true}
	validPolicies = map[string]bool{"drop_oldest": true, "drop_newest": true, "unbounded": true}
	validDrivers  = map[string]bool{"portaudio": true, "udp": true}
)

// Default returns the configuration used when a key is absent from the file
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			SampleRate:       16000,
			Channels:         1,
			BitDepth:         16,
			FrameSize:        1024,
			ChunkMinDuration: 5.0,
			ChunkMaxDuration: 15.0,
			SilenceThreshold: 0.01,
			SilenceDuration:  0.8,
			QueueCapacity:    32,
			QueuePolicy:      "drop_oldest",
		},
		Capture: CaptureConfig{
			Driver: "portaudio",
			Device: -1,
			UDP: UDPConfig{
				BindAddress:   "0.0.0.0",
				Port:          5004,
				BufferSize:    65536,
				SourceTimeout: 10,
			},
		},
		Transcription: TranscriptionConfig{
			Endpoint:      "http://localhost:8000",
			Model:         "whisper-1",
			Timeout:       60,
			MaxRetries:    2,
			MaxConcurrent: 1,
		},
		Translation: TranslationConfig{
			Endpoint:   "http://localhost:5000",
			Timeout:    30,
			MaxRetries: 2,
			Pairs:      []string{"en:fr", "fr:en"},
		},
		Session: SessionConfig{
			SessionsDir: "sessions",
			TempDir:     filepath.Join(os.TempDir(), "live-audio-translator"),
			LibraryPath: "sessions/library.db",
			DefaultMode: "auto",
			Record:      true,
		},
		Pipeline: PipelineConfig{
			PollTimeout: 0.5,
			EventBuffer: 64,
		},
		HTTP: HTTPConfig{
			Port:    8090,
			Address: "127.0.0.1",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads and parses the configuration file.
// A .env file in the working directory or next to the config file is loaded
// first and ${VAR} references in the file are expanded from the environment.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env", filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func loadDotEnv(paths ...string) error {
	seen := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Translation.Validate(); err != nil {
		return fmt.Errorf("translation config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", a.BitDepth)
	}

	if a.FrameSize < 64 || a.FrameSize > 16384 {
		return fmt.Errorf("frame_size must be between 64 and 16384 samples, got %d", a.FrameSize)
	}

	if a.ChunkMinDuration <= 0 {
		return fmt.Errorf("chunk_min_duration must be positive, got %f", a.ChunkMinDuration)
	}

	if a.ChunkMaxDuration <= a.ChunkMinDuration {
		return fmt.Errorf("chunk_max_duration (%f) must be greater than chunk_min_duration (%f)",
			a.ChunkMaxDuration, a.ChunkMinDuration)
	}

	if a.SilenceThreshold < 0 || a.SilenceThreshold > 1 {
		return fmt.Errorf("silence_threshold must be between 0 and 1, got %f", a.SilenceThreshold)
	}

	if a.SilenceDuration <= 0 {
		return fmt.Errorf("silence_duration must be positive, got %f", a.SilenceDuration)
	}

	minSamples := int(a.ChunkMinDuration * float64(a.SampleRate))
	maxSamples := int(a.ChunkMaxDuration * float64(a.SampleRate))
	if minSamples < 1 || maxSamples <= minSamples {
		return fmt.Errorf("chunk durations too short at %d Hz: min is %d samples, max is %d samples",
			a.SampleRate, minSamples, maxSamples)
	}
	if int(a.SilenceDuration*float64(a.SampleRate)) < 1 {
		return fmt.Errorf("silence_duration must be at least one sample, got %f", a.SilenceDuration)
	}

	if a.QueueCapacity < 1 {
		return fmt.Errorf("queue_capacity must be at least 1, got %d", a.QueueCapacity)
	}

	if !validPolicies[a.QueuePolicy] {
		return fmt.Errorf("queue_policy must be one of [drop_oldest, drop_newest, unbounded], got '%s'", a.QueuePolicy)
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	if !validDrivers[c.Driver] {
		return fmt.Errorf("driver must be 'portaudio' or 'udp', got '%s'", c.Driver)
	}

	if c.Device < -1 {
		return fmt.Errorf("device must be -1 (default) or a device index, got %d", c.Device)
	}

	if c.Driver == "udp" {
		if err := c.UDP.Validate(); err != nil {
			return fmt.Errorf("udp: %w", err)
		}
	}

	return nil
}

// Validate validates network microphone configuration
func (u *UDPConfig) Validate() error {
	if u.Port < 1 || u.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", u.Port)
	}

	if u.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if u.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", u.BufferSize)
	}

	if u.SourceTimeout <= 0 {
		return fmt.Errorf("source_timeout must be positive, got %f", u.SourceTimeout)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.Model == "" {
		return fmt.Errorf("model cannot be empty")
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

	if t.Temperature < 0 || t.Temperature > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", t.Temperature)
	}

	return nil
}

// Validate validates translation configuration
func (t *TranslationConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if _, err := t.LanguagePairs(); err != nil {
		return err
	}

	return nil
}

// Validate validates session storage configuration
func (s *SessionConfig) Validate() error {
	if s.SessionsDir == "" {
		return fmt.Errorf("sessions_dir cannot be empty")
	}

	if s.TempDir == "" {
		return fmt.Errorf("temp_dir cannot be empty")
	}

	if !validModes[s.DefaultMode] {
		return fmt.Errorf("default_mode must be one of [auto, fr_to_en, en_to_fr], got '%s'", s.DefaultMode)
	}

	return nil
}

// Validate validates pipeline configuration
func (p *PipelineConfig) Validate() error {
	if p.PollTimeout <= 0 || p.PollTimeout > 10 {
		return fmt.Errorf("poll_timeout must be in (0, 10] seconds, got %f", p.PollTimeout)
	}

	if p.EventBuffer < 1 {
		return fmt.Errorf("event_buffer must be at least 1, got %d", p.EventBuffer)
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

	return nil
}

// LanguagePairs parses the configured "from:to" pairs
func (t *TranslationConfig) LanguagePairs() ([]LanguagePair, error) {
	if len(t.Pairs) == 0 {
		return nil, fmt.Errorf("pairs cannot be empty")
	}

	pairs := make([]LanguagePair, 0, len(t.Pairs))
	for _, raw := range t.Pairs {
		from, to, ok := strings.Cut(raw, ":")
		from = strings.ToLower(strings.TrimSpace(from))
		to = strings.ToLower(strings.TrimSpace(to))
		if !ok || from == "" || to == "" || from == to {
			return nil, fmt.Errorf("invalid language pair '%s', expected 'from:to'", raw)
		}
		pairs = append(pairs, LanguagePair{From: from, To: to})
	}
	return pairs, nil
}

// GetChunkMinDuration returns the minimum chunk duration as a time.Duration
func (a *AudioConfig) GetChunkMinDuration() time.Duration {
	return seconds(a.ChunkMinDuration)
}

// GetChunkMaxDuration returns the maximum chunk duration as a time.Duration
func (a *AudioConfig) GetChunkMaxDuration() time.Duration {
	return seconds(a.ChunkMaxDuration)
}

// GetSilenceDuration returns the pause length that closes an utterance
func (a *AudioConfig) GetSilenceDuration() time.Duration {
	return seconds(a.SilenceDuration)
}

// GetSourceTimeout returns how long a silent network source stays listed
func (u *UDPConfig) GetSourceTimeout() time.Duration {
	return seconds(u.SourceTimeout)
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetTimeoutDuration returns the translation timeout as a time.Duration
func (t *TranslationConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetPollTimeout returns the utterance poll timeout as a time.Duration
func (p *PipelineConfig) GetPollTimeout() time.Duration {
	return seconds(p.PollTimeout)
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
