// Package config provides the configuration schema and loader for voxnote.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/MrWong99/voxnote/internal/segment"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to a [slog.Level]. Unknown or empty levels map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultModelPath  = "models/ggml-base.en.bin"
	DefaultLanguage   = "en"
	DefaultSampleRate = 48000
	DefaultFrameSize  = 1024
	DefaultBuckets    = 30
	DefaultListenAddr = "127.0.0.1:8780"
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	LogLevel  LogLevel        `yaml:"log_level"`
	Storage   StorageConfig   `yaml:"storage"`
	Model     ModelConfig     `yaml:"model"`
	Audio     AudioConfig     `yaml:"audio"`
	Segmenter SegmenterConfig `yaml:"segmenter"`
	Server    ServerConfig    `yaml:"server"`
}

// StorageConfig locates persisted sessions.
type StorageConfig struct {
	// Root is the directory holding one sub-directory per session.
	Root string `yaml:"root"`
}

// ModelConfig selects the speech model and decode settings.
type ModelConfig struct {
	// Path is the whisper.cpp ggml model file.
	Path string `yaml:"path"`

	// Language is the ISO 639-1 code passed to the decoder.
	Language string `yaml:"language"`

	// Threads is the decoder thread count. Zero picks a value from the
	// number of CPUs.
	Threads int `yaml:"threads"`
}

// AudioConfig configures the capture device.
type AudioConfig struct {
	// Device is a case-insensitive substring of the input device name.
	// Empty selects the system default.
	Device string `yaml:"device"`

	// SampleRate is the requested capture rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// FrameSize is the number of samples per delivered frame.
	FrameSize int `yaml:"frame_size"`

	// Buckets is the number of live amplitude buckets shown to the UI.
	Buckets int `yaml:"buckets"`
}

// SegmenterConfig is the silence policy. It can be changed while running;
// new values apply from the next recording.
type SegmenterConfig struct {
	SilenceThreshold      float32       `yaml:"silence_threshold"`
	RequiredSilenceFrames int           `yaml:"required_silence_frames"`
	MinUtteranceDuration  time.Duration `yaml:"min_utterance_duration"`
}

// Segment converts c to the segmenter's configuration.
func (c SegmenterConfig) Segment() segment.Config {
	return segment.Config{
		SilenceThreshold:      c.SilenceThreshold,
		RequiredSilenceFrames: c.RequiredSilenceFrames,
		MinUtteranceDuration:  c.MinUtteranceDuration,
	}
}

// ServerConfig holds settings for the HTTP surface.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on.
	ListenAddr string `yaml:"listen_addr"`
}

// DefaultStorageRoot returns ~/.voxnote/sessions, or ./sessions when the
// home directory cannot be determined.
func DefaultStorageRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "sessions"
	}
	return filepath.Join(home, ".voxnote", "sessions")
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{
		Segmenter: SegmenterConfig{
			SilenceThreshold:     segment.DefaultSilenceThreshold,
			MinUtteranceDuration: segment.DefaultMinUtteranceDuration,
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields of cfg in place. Model.Threads is
// left at zero; the transcriber picks its own default.
//
// Segmenter.SilenceThreshold and Segmenter.MinUtteranceDuration are valid at
// zero and are never touched here. [Default] seeds them, and the loader
// decodes over [Default], so they only take their defaults when the file
// omits them.
func ApplyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = LogInfo
	}
	if cfg.Storage.Root == "" {
		cfg.Storage.Root = DefaultStorageRoot()
	}
	if cfg.Model.Path == "" {
		cfg.Model.Path = DefaultModelPath
	}
	if cfg.Model.Language == "" {
		cfg.Model.Language = DefaultLanguage
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Audio.FrameSize == 0 {
		cfg.Audio.FrameSize = DefaultFrameSize
	}
	if cfg.Audio.Buckets == 0 {
		cfg.Audio.Buckets = DefaultBuckets
	}
	if cfg.Segmenter.RequiredSilenceFrames == 0 {
		cfg.Segmenter.RequiredSilenceFrames = segment.DefaultRequiredSilenceFrames
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
}
