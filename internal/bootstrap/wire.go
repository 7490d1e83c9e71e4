package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"cookvoice/internal/audio"
	"cookvoice/internal/bus"
	"cookvoice/internal/classifier"
	"cookvoice/internal/config"
	"cookvoice/internal/logging"
	"cookvoice/internal/observe"
	"cookvoice/internal/ports"
	"cookvoice/internal/providers/deepgram"
	"cookvoice/internal/recognition"
	"cookvoice/internal/recovery"
	"cookvoice/internal/rules"
	"cookvoice/internal/usecase"
)

const telemetryShutdownTimeout = 2 * time.Second

// Services is the assembled runtime graph.
type Services struct {
	Listener  *usecase.SpeechCommandService
	Bus       *bus.Bus
	Telemetry *observe.Telemetry
	Config    config.Config
	Logger    *slog.Logger

	logCloser io.Closer
}

// Build loads configuration and logging, then wires all backend dependencies.
func Build() (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	logger, closer, err := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	if err != nil {
		return Services{}, err
	}

	services, err := Wire(cfg, logger)
	if err != nil {
		_ = closer.Close()
		return Services{}, err
	}
	services.logCloser = closer
	return services, nil
}

// Wire assembles the listener and command bus for cfg.
func Wire(cfg config.Config, logger *slog.Logger) (Services, error) {
	if logger == nil {
		logger = slog.Default()
	}

	rulesEngine, err := rules.NewEngine(rules.Options{
		Path:           cfg.Rules.Path,
		IterationLimit: cfg.Rules.IterationLimit,
		Logger:         logger,
	})
	if err != nil {
		return Services{}, err
	}

	vocabulary, err := classifier.LoadVocabulary(cfg.Vocabulary.Path)
	if err != nil {
		return Services{}, err
	}
	commandClassifier, err := classifier.New(vocabulary)
	if err != nil {
		return Services{}, fmt.Errorf("vocabulary %s: %w", cfg.Vocabulary.Path, err)
	}

	telemetry, err := observe.NewTelemetry(observe.TelemetryConfig{
		Enabled: cfg.Metrics.Enabled,
		Addr:    cfg.Metrics.Addr,
	}, logger)
	if err != nil {
		return Services{}, err
	}
	metrics := telemetry.Metrics

	recognizer := recognition.NewStreamingRecognizer(
		audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand),
		deepgram.NewProvider(deepgram.Config{
			APIKey:         cfg.Deepgram.APIKey,
			APIBaseURL:     cfg.Deepgram.APIBaseURL,
			Model:          cfg.Deepgram.Model,
			Language:       cfg.Deepgram.Language,
			SmartFormat:    cfg.Deepgram.SmartFormat,
			EndpointingMs:  cfg.Deepgram.EndpointingMs,
			UtteranceEndMs: cfg.Deepgram.UtteranceEndMs,
		}),
		recognition.Config{
			Audio: ports.AudioConfig{
				SampleRate:  cfg.Audio.SampleRate,
				Channels:    cfg.Audio.Channels,
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
			},
			Streaming: ports.StreamingConfig{
				SampleRate:     cfg.Audio.SampleRate,
				Channels:       cfg.Audio.Channels,
				Encoding:       "linear16",
				InterimResults: true,
			},
			ChunkSize:        cfg.Recognition.ChunkSize,
			UtteranceTimeout: cfg.Recognition.UtteranceTimeout,
			StreamingGrace:   cfg.Recognition.StreamingGrace,
		},
		logger,
	)

	commandBus := bus.New(logger)
	listener := usecase.NewSpeechCommandService(usecase.Dependencies{
		Recognizer:  recognizer,
		Permissions: audio.NewSourcePermissions(cfg.Audio.PactlCommand, cfg.Audio.InputDevice, logger),
		Guard: audio.NewGuard(
			audio.NewPactlVolume(cfg.Audio.PactlCommand, cfg.Audio.MuteSink),
			logger,
			metrics,
		),
		Classifier: commandClassifier,
		Rules:      rulesEngine,
		Bus:        commandBus,
		Policy:     recovery.NewPolicy(cfg.Recovery.BaseDelay, cfg.Recovery.NetworkDelay, cfg.Recovery.MaxDelay),
		Metrics:    metrics,
		Logger:     logger,
	})

	return Services{
		Listener:  listener,
		Bus:       commandBus,
		Telemetry: telemetry,
		Config:    cfg,
		Logger:    logger,
	}, nil
}

// Close stops listening, flushes the bus, shuts telemetry down and releases
// the log file.
func (s Services) Close() {
	if s.Listener != nil {
		s.Listener.Stop()
	}
	if s.Bus != nil {
		s.Bus.Close()
	}
	if s.Telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		if err := s.Telemetry.Shutdown(ctx); err != nil && s.Logger != nil {
			s.Logger.Warn("telemetry shutdown failed", "error", err)
		}
		cancel()
	}
	if s.logCloser != nil {
		_ = s.logCloser.Close()
	}
}
