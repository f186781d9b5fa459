package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/kinetic/internal/recorder"
	"github.com/banshee-data/kinetic/internal/sensor"
	"github.com/banshee-data/kinetic/internal/serialmux"
	"github.com/banshee-data/kinetic/internal/transform"
)

// DefaultConfigPath is the path to the canonical recording defaults file.
const DefaultConfigPath = "config/recording.defaults.json"

// RecordingConfig is the daemon's recording and processing configuration.
// Every field is optional; the Get* methods supply defaults for nil fields,
// so partial files are safe.
type RecordingConfig struct {
	// Recording
	Duration         *string  `json:"duration,omitempty"`          // duration string like "5s"
	SamplingInterval *string  `json:"sampling_interval,omitempty"` // duration string like "5ms"
	GravityAlpha     *float64 `json:"gravity_alpha,omitempty"`

	// Processing
	GravityMode     *string  `json:"gravity_mode,omitempty"` // off, world or raw (experimental)
	RotateToWorld   *bool    `json:"rotate_to_world,omitempty"`
	JitterThreshold *float64 `json:"jitter_threshold,omitempty"`

	// Device
	Streams []string               `json:"streams,omitempty"`
	Serial  *serialmux.PortOptions `json:"serial,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }

// DefaultRecordingConfig mirrors config/recording.defaults.json.
func DefaultRecordingConfig() *RecordingConfig {
	return &RecordingConfig{
		Duration:         ptrString("5s"),
		SamplingInterval: ptrString("5ms"),
		GravityAlpha:     ptrFloat64(0.8),
		GravityMode:      ptrString(string(transform.GravityOff)),
		RotateToWorld:    ptrBool(false),
		JitterThreshold:  ptrFloat64(0),
		Streams:          []string{"accel", "gyro", "rotation"},
		Serial:           &serialmux.PortOptions{BaudRate: serialmux.DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "N"},
	}
}

// LoadRecordingConfig loads a RecordingConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadRecordingConfig(path string) (*RecordingConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &RecordingConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory or
// one of its parents. It panics when the file cannot be found, and is meant
// for tests.
func MustLoadDefaultConfig() *RecordingConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadRecordingConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that every set field is usable.
func (c *RecordingConfig) Validate() error {
	if c.Duration != nil && *c.Duration != "" {
		if _, err := time.ParseDuration(*c.Duration); err != nil {
			return fmt.Errorf("invalid duration '%s': %w", *c.Duration, err)
		}
	}
	if c.SamplingInterval != nil && *c.SamplingInterval != "" {
		if _, err := time.ParseDuration(*c.SamplingInterval); err != nil {
			return fmt.Errorf("invalid sampling_interval '%s': %w", *c.SamplingInterval, err)
		}
	}
	if err := c.RecorderConfig().Validate(); err != nil {
		return err
	}
	if c.GravityMode != nil {
		if _, err := transform.ParseGravityMode(*c.GravityMode); err != nil {
			return err
		}
	}
	if c.JitterThreshold != nil && *c.JitterThreshold < 0 {
		return fmt.Errorf("jitter_threshold must be non-negative, got %f", *c.JitterThreshold)
	}
	if _, err := c.GetStreams(); err != nil {
		return err
	}
	if c.Serial != nil {
		if _, err := c.Serial.Normalize(); err != nil {
			return fmt.Errorf("serial: %w", err)
		}
	}
	return nil
}

func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

// GetDuration returns the recording duration or the default (5s).
func (c *RecordingConfig) GetDuration() time.Duration {
	return parseDurationOr(c.Duration, 5*time.Second)
}

// GetSamplingInterval returns the sampling interval or the default (5ms).
func (c *RecordingConfig) GetSamplingInterval() time.Duration {
	return parseDurationOr(c.SamplingInterval, 5*time.Millisecond)
}

// GetGravityAlpha returns the gravity smoothing weight or the default.
func (c *RecordingConfig) GetGravityAlpha() float64 {
	if c.GravityAlpha == nil {
		return 0.8
	}
	return *c.GravityAlpha
}

// GetGravityMode returns the gravity removal mode, off unless configured.
func (c *RecordingConfig) GetGravityMode() transform.GravityMode {
	if c.GravityMode == nil {
		return transform.GravityOff
	}
	mode, err := transform.ParseGravityMode(*c.GravityMode)
	if err != nil {
		return transform.GravityOff
	}
	return mode
}

// GetRotateToWorld returns the rotate_to_world value or the default.
func (c *RecordingConfig) GetRotateToWorld() bool {
	if c.RotateToWorld == nil {
		return false
	}
	return *c.RotateToWorld
}

// GetJitterThreshold returns the jitter gate threshold, 0 (off) by default.
func (c *RecordingConfig) GetJitterThreshold() float64 {
	if c.JitterThreshold == nil {
		return 0
	}
	return *c.JitterThreshold
}

// GetStreams returns the streams the attached device offers, all three by
// default.
func (c *RecordingConfig) GetStreams() ([]sensor.Stream, error) {
	if len(c.Streams) == 0 {
		return sensor.Streams[:], nil
	}
	streams := make([]sensor.Stream, 0, len(c.Streams))
	for _, tag := range c.Streams {
		s, err := sensor.ParseStream(tag)
		if err != nil {
			return nil, fmt.Errorf("streams: %w", err)
		}
		streams = append(streams, s)
	}
	return streams, nil
}

// GetSerial returns the serial port options, normalized defaults if unset.
func (c *RecordingConfig) GetSerial() serialmux.PortOptions {
	if c.Serial == nil {
		opts, _ := serialmux.PortOptions{}.Normalize()
		return opts
	}
	return *c.Serial
}

// RecorderConfig converts the recording fields for recorder.New.
func (c *RecordingConfig) RecorderConfig() recorder.Config {
	return recorder.Config{
		Duration:         c.GetDuration(),
		SamplingInterval: c.GetSamplingInterval(),
		GravityAlpha:     float32(c.GetGravityAlpha()),
	}
}

// TransformOptions converts the processing fields for transform.Apply.
func (c *RecordingConfig) TransformOptions() transform.Options {
	return transform.Options{
		RotateToWorld:   c.GetRotateToWorld(),
		Gravity:         c.GetGravityMode(),
		JitterThreshold: float32(c.GetJitterThreshold()),
	}
}
