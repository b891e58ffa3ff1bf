package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete client configuration
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Audio     AudioConfig     `yaml:"audio"`
	Capture   CaptureConfig   `yaml:"capture"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BackendConfig contains the backend endpoints the client talks to
type BackendConfig struct {
	APIURL         string  `yaml:"api_url"`
	SocketURL      string  `yaml:"socket_url"`
	RequestTimeout float64 `yaml:"request_timeout"` // seconds
}

// AudioConfig contains audio pipeline parameters
type AudioConfig struct {
	SourceSampleRate int     `yaml:"source_sample_rate"` // native capture rate (e.g. 48000)
	TargetSampleRate int     `yaml:"target_sample_rate"` // transport rate, fixed at 16000
	FrameSize        int     `yaml:"frame_size"`         // samples per frame handed off by the processor
	BlockSize        int     `yaml:"block_size"`         // samples per render callback invocation
	ChunkDuration    float64 `yaml:"chunk_duration"`     // seconds of audio per transport chunk
}

// CaptureConfig contains audio source selection parameters
type CaptureConfig struct {
	DeviceID         string `yaml:"device_id"`
	InputFile        string `yaml:"input_file"` // raw PCM/WAV file streamed as the microphone
	SystemAudio      bool   `yaml:"system_audio"`
	EchoCancellation bool   `yaml:"echo_cancellation"`
	NoiseSuppression bool   `yaml:"noise_suppression"`
	SaveRecording    bool   `yaml:"save_recording"`
	RecordingDir     string `yaml:"recording_dir"`
}

// ReconnectConfig contains duplex connection reconnection parameters
type ReconnectConfig struct {
	MaxAttempts int     `yaml:"max_attempts"`
	Delay       float64 `yaml:"delay"` // seconds between attempts
}

// MetricsConfig controls the local Prometheus endpoint. An empty listen
// address disables it.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Default returns the configuration the client ships with.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			APIURL:         "http://localhost:5000/api",
			SocketURL:      "ws://localhost:5000/live",
			RequestTimeout: 30,
		},
		Audio: AudioConfig{
			SourceSampleRate: 48000,
			TargetSampleRate: 16000,
			FrameSize:        4096,
			BlockSize:        1024,
			ChunkDuration:    5,
		},
		Capture: CaptureConfig{
			EchoCancellation: true,
			NoiseSuppression: true,
		},
		Reconnect: ReconnectConfig{
			MaxAttempts: 5,
			Delay:       1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Backend.Validate(); err != nil {
		return fmt.Errorf("backend config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Reconnect.Validate(); err != nil {
		return fmt.Errorf("reconnect config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates backend configuration
func (b *BackendConfig) Validate() error {
	if b.APIURL == "" {
		return fmt.Errorf("api_url cannot be empty")
	}

	if b.SocketURL == "" {
		return fmt.Errorf("socket_url cannot be empty")
	}

	if b.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %f", b.RequestTimeout)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.TargetSampleRate != 16000 {
		return fmt.Errorf("target_sample_rate must be 16000 Hz for the transport format, got %d", a.TargetSampleRate)
	}

	if a.SourceSampleRate < a.TargetSampleRate {
		return fmt.Errorf("source_sample_rate (%d) must be at least target_sample_rate (%d)",
			a.SourceSampleRate, a.TargetSampleRate)
	}

	if a.FrameSize < 256 || a.FrameSize > 16384 {
		return fmt.Errorf("frame_size must be between 256 and 16384 samples, got %d", a.FrameSize)
	}

	if a.BlockSize < 128 || a.BlockSize > a.FrameSize {
		return fmt.Errorf("block_size must be between 128 and frame_size (%d), got %d", a.FrameSize, a.BlockSize)
	}

	if a.ChunkDuration <= 0 {
		return fmt.Errorf("chunk_duration must be positive, got %f", a.ChunkDuration)
	}

	return nil
}

// Validate validates reconnect configuration
func (r *ReconnectConfig) Validate() error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", r.MaxAttempts)
	}

	if r.Delay <= 0 {
		return fmt.Errorf("delay must be positive, got %f", r.Delay)
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

// ChunkDurationSamples returns the chunk threshold expressed in samples at the target rate
func (a *AudioConfig) ChunkDurationSamples() int {
	return int(a.ChunkDuration * float64(a.TargetSampleRate))
}

// GetRequestTimeout returns the backend request timeout as a time.Duration
func (b *BackendConfig) GetRequestTimeout() time.Duration {
	return time.Duration(b.RequestTimeout * float64(time.Second))
}

// GetReconnectDelay returns the delay between reconnection attempts as a time.Duration
func (r *ReconnectConfig) GetReconnectDelay() time.Duration {
	return time.Duration(r.Delay * float64(time.Second))
}
