package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config stores runtime configuration for the voice navigator.
type Config struct {
	Deepgram    DeepgramConfig
	Audio       AudioConfig
	Rules       RulesConfig
	Vocabulary  VocabularyConfig
	Recovery    RecoveryConfig
	Recognition RecognitionConfig
	Logging     LoggingConfig
	Metrics     MetricsConfig
}

type DeepgramConfig struct {
	APIKey         string
	APIBaseURL     string
	Model          string
	Language       string
	SmartFormat    bool
	EndpointingMs  int
	UtteranceEndMs int
}

type AudioConfig struct {
	RecorderCommand string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	Channels        int
	// MuteSink is the output sink silenced while listening.
	MuteSink     string
	PactlCommand string
}

type RulesConfig struct {
	Path           string
	IterationLimit int
}

type VocabularyConfig struct {
	// Path of an optional YAML file replacing the built-in vocabulary.
	Path string
}

type RecoveryConfig struct {
	BaseDelay    time.Duration
	NetworkDelay time.Duration
	MaxDelay     time.Duration
}

type RecognitionConfig struct {
	ChunkSize        int
	UtteranceTimeout time.Duration
	StreamingGrace   time.Duration
}

type LoggingConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
}

type MetricsConfig struct {
	Enabled bool
	// Addr is the Prometheus scrape address; empty disables the endpoint.
	Addr string
}

// Load resolves configuration from environment variables and sensible defaults.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}
	configDir := filepath.Join(home, ".config", "cookvoice")

	cfg := Config{
		Deepgram: DeepgramConfig{
			APIKey:         strings.TrimSpace(os.Getenv("DEEPGRAM_API_KEY")),
			APIBaseURL:     envOrDefault("DEEPGRAM_API_BASE", "https://api.deepgram.com/v1"),
			Model:          envOrDefault("DEEPGRAM_MODEL", "nova-2"),
			Language:       envOrDefault("DEEPGRAM_LANGUAGE", "ko"),
			SmartFormat:    envOrDefaultBool("DEEPGRAM_SMART_FORMAT", false),
			EndpointingMs:  envOrDefaultInt("DEEPGRAM_ENDPOINTING_MS", 300),
			UtteranceEndMs: envOrDefaultInt("DEEPGRAM_UTTERANCE_END_MS", 1000),
		},
		Audio: AudioConfig{
			RecorderCommand: envOrDefault("COOKVOICE_FFMPEG_COMMAND", "ffmpeg"),
			InputFormat:     envOrDefault("COOKVOICE_AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice: firstNonEmpty(
				os.Getenv("COOKVOICE_AUDIO_INPUT_DEVICE"),
				os.Getenv("DEEPGRAM_PULSE_SOURCE"),
				"default",
			),
			SampleRate:   envOrDefaultInt("COOKVOICE_SAMPLE_RATE", 16000),
			Channels:     envOrDefaultInt("COOKVOICE_CHANNELS", 1),
			MuteSink:     envOrDefault("COOKVOICE_MUTE_SINK", "@DEFAULT_SINK@"),
			PactlCommand: envOrDefault("COOKVOICE_PACTL_COMMAND", "pactl"),
		},
		Rules: RulesConfig{
			Path:           envOrDefault("COOKVOICE_RULES_FILE", filepath.Join(configDir, "normalize.rules")),
			IterationLimit: envOrDefaultInt("COOKVOICE_RULE_ITERATION_LIMIT", 30),
		},
		Vocabulary: VocabularyConfig{
			Path: envOrDefault("COOKVOICE_VOCABULARY_FILE", filepath.Join(configDir, "vocabulary.yaml")),
		},
		Recovery: RecoveryConfig{
			BaseDelay:    envOrDefaultMillis("COOKVOICE_RETRY_DELAY_MS", 150),
			NetworkDelay: envOrDefaultMillis("COOKVOICE_NETWORK_RETRY_DELAY_MS", 400),
			MaxDelay:     envOrDefaultMillis("COOKVOICE_MAX_RETRY_DELAY_MS", 2000),
		},
		Recognition: RecognitionConfig{
			ChunkSize:        envOrDefaultInt("COOKVOICE_AUDIO_CHUNK_SIZE", 4096),
			UtteranceTimeout: envOrDefaultMillis("COOKVOICE_UTTERANCE_TIMEOUT_MS", 8000),
			StreamingGrace:   envOrDefaultMillis("COOKVOICE_STREAMING_GRACE_MS", 1000),
		},
		Logging: LoggingConfig{
			Level:      envOrDefault("COOKVOICE_LOG_LEVEL", "info"),
			Format:     envOrDefault("COOKVOICE_LOG_FORMAT", "text"),
			File:       strings.TrimSpace(os.Getenv("COOKVOICE_LOG_FILE")),
			MaxSizeMB:  envOrDefaultInt("COOKVOICE_LOG_MAX_SIZE_MB", 10),
			MaxBackups: envOrDefaultInt("COOKVOICE_LOG_MAX_BACKUPS", 3),
		},
		Metrics: MetricsConfig{
			Enabled: envOrDefaultBool("COOKVOICE_METRICS_ENABLED", false),
			Addr:    strings.TrimSpace(envOrDefault("COOKVOICE_METRICS_ADDR", "127.0.0.1:9464")),
		},
	}

	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Rules.IterationLimit <= 0 {
		cfg.Rules.IterationLimit = 30
	}
	if cfg.Recognition.ChunkSize < 256 {
		cfg.Recognition.ChunkSize = 4096
	}
	if cfg.Recovery.BaseDelay <= 0 {
		cfg.Recovery.BaseDelay = 150 * time.Millisecond
	}
	if cfg.Recovery.NetworkDelay <= 0 {
		cfg.Recovery.NetworkDelay = 400 * time.Millisecond
	}
	if cfg.Recovery.MaxDelay < cfg.Recovery.BaseDelay || cfg.Recovery.MaxDelay < cfg.Recovery.NetworkDelay {
		cfg.Recovery.MaxDelay = max(cfg.Recovery.BaseDelay, cfg.Recovery.NetworkDelay)
	}
	if cfg.Recognition.UtteranceTimeout <= 0 {
		cfg.Recognition.UtteranceTimeout = 8 * time.Second
	}
	if cfg.Logging.MaxSizeMB <= 0 {
		cfg.Logging.MaxSizeMB = 10
	}

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultMillis(key string, fallback int) time.Duration {
	return time.Duration(envOrDefaultInt(key, fallback)) * time.Millisecond
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
