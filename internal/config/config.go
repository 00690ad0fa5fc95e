// Package config provides the configuration structure for the voiceclone-service.
package config

import (
	"fmt"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                 string `toml:"url"`
	RequestSubject      string `toml:"request_subject"`
	VoiceBucket         string `toml:"voice_bucket"`
	ArtifactBucket      string `toml:"artifact_bucket"`
	SignedURLSecret     string `toml:"signed_url_secret"`
	SignedURLTTLSeconds int    `toml:"signed_url_ttl_seconds"`
}

// TTSConfig holds the configuration for the F5-TTS sidecar service.
type TTSConfig struct {
	ServiceURL     string  `toml:"service_url"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	DefaultSpeed   float64 `toml:"default_speed"`
	NFEStep        int     `toml:"nfe_step"`
	CFGStrength    float64 `toml:"cfg_strength"`
}

// TimingConfig selects and configures the word-timing estimator.
type TimingConfig struct {
	Method         string `toml:"method"` // "heuristic" or "whisper"
	WhisperURL     string `toml:"whisper_url"`
	WhisperModel   string `toml:"whisper_model"`
	Language       string `toml:"language"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// JobsConfig bounds the job queue, worker pool and ledger.
type JobsConfig struct {
	QueueCapacity    int `toml:"queue_capacity"`
	Workers          int `toml:"workers"`
	LedgerCapacity   int `toml:"ledger_capacity"`
	LedgerTTLSeconds int `toml:"ledger_ttl_seconds"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS   NATSConfig   `toml:"nats"`
	TTS    TTSConfig    `toml:"tts"`
	Timing TimingConfig `toml:"timing"`
	Jobs   JobsConfig   `toml:"jobs"`
	Paths  PathsConfig  `toml:"paths"`
}

// Defaults applied when a section omits a value.
const (
	DefaultQueueCapacity    = 64
	DefaultWorkers          = 2
	DefaultLedgerCapacity   = 1024
	DefaultLedgerTTLSeconds = 86400
	DefaultSignedURLTTL     = 3600
	DefaultSpeed            = 1.0
)

// Load loads the configuration for the voiceclone-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Jobs.QueueCapacity <= 0 {
		c.Jobs.QueueCapacity = DefaultQueueCapacity
	}

	if c.Jobs.Workers <= 0 {
		c.Jobs.Workers = DefaultWorkers
	}

	if c.Jobs.LedgerCapacity <= 0 {
		c.Jobs.LedgerCapacity = DefaultLedgerCapacity
	}

	if c.Jobs.LedgerTTLSeconds <= 0 {
		c.Jobs.LedgerTTLSeconds = DefaultLedgerTTLSeconds
	}

	if c.NATS.SignedURLTTLSeconds <= 0 {
		c.NATS.SignedURLTTLSeconds = DefaultSignedURLTTL
	}

	if c.TTS.DefaultSpeed <= 0 {
		c.TTS.DefaultSpeed = DefaultSpeed
	}
}
