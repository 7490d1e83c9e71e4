// Package recognition turns a microphone capture and a streaming
// transcription provider into single-utterance recognition requests.
package recognition

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"cookvoice/internal/domain"
	"cookvoice/internal/ports"
)

const (
	defaultUtteranceTimeout = 8 * time.Second
	defaultStreamingGrace   = time.Second
	defaultChunkSize        = 4096
)

var errUtteranceTimeout = errors.New("no end of speech before utterance timeout")

// Config controls one recognition request.
type Config struct {
	Audio     ports.AudioConfig
	Streaming ports.StreamingConfig
	ChunkSize int
	// UtteranceTimeout bounds a request that never hears end of speech.
	UtteranceTimeout time.Duration
	// StreamingGrace bounds how long closing the provider stream may take.
	StreamingGrace time.Duration
}

// StreamingRecognizer implements ports.SpeechRecognizer. Each call to
// Recognize opens its own capture and provider stream and resolves with the
// first complete utterance.
type StreamingRecognizer struct {
	capture  ports.AudioCapture
	provider ports.TranscriptionProvider
	cfg      Config
	logger   *slog.Logger
}

func NewStreamingRecognizer(capture ports.AudioCapture, provider ports.TranscriptionProvider, cfg Config, logger *slog.Logger) *StreamingRecognizer {
	if cfg.UtteranceTimeout <= 0 {
		cfg.UtteranceTimeout = defaultUtteranceTimeout
	}
	if cfg.StreamingGrace <= 0 {
		cfg.StreamingGrace = defaultStreamingGrace
	}
	if cfg.ChunkSize < minChunkSize {
		cfg.ChunkSize = defaultChunkSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamingRecognizer{
		capture:  capture,
		provider: provider,
		cfg:      cfg,
		logger:   logger.With("component", "recognizer"),
	}
}

// Recognize runs one recognition request. Failures are *domain.RecognitionError
// unless ctx was cancelled, in which case ctx.Err() is returned. The capture
// and the provider stream are released before Recognize returns.
func (r *StreamingRecognizer) Recognize(ctx context.Context) (string, error) {
	reqCtx, cancel := context.WithTimeoutCause(ctx, r.cfg.UtteranceTimeout, errUtteranceTimeout)
	defer cancel()

	audio, err := r.capture.Start(reqCtx, r.cfg.Audio)
	if err != nil {
		return "", requestErr(ctx, reqCtx, err)
	}

	stream, err := r.provider.StartStreaming(reqCtx, r.cfg.Streaming)
	if err != nil {
		if stopErr := audio.Stop(); stopErr != nil {
			r.logger.Debug("audio stop failed", "error", stopErr)
		}
		return "", requestErr(ctx, reqCtx, err)
	}

	pumpDone := make(chan error, 1)
	go func() {
		pumpDone <- pumpAudio(audio, stream, r.cfg.ChunkSize)
	}()

	text, err := r.collect(ctx, reqCtx, stream, pumpDone)

	if stopErr := audio.Stop(); stopErr != nil {
		r.logger.Debug("audio stop failed", "error", stopErr)
	}
	r.release(stream)

	if err != nil {
		return "", err
	}
	r.logger.Debug("utterance recognized", "chars", len(text))
	return text, nil
}

func (r *StreamingRecognizer) collect(
	ctx context.Context,
	reqCtx context.Context,
	stream ports.StreamingSession,
	pumpDone chan error,
) (string, error) {
	heard := &utterance{}
	events := stream.Events()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				if heard.Heard() {
					return heard.Text(), nil
				}
				if err := stream.Wait(); err != nil {
					return "", requestErr(ctx, reqCtx, err)
				}
				return "", domain.NewRecognitionError(domain.RecognitionErrorNoMatch, errors.New("stream ended without speech"))
			}
			if heard.Add(event) {
				return heard.Text(), nil
			}
		case err := <-pumpDone:
			pumpDone = nil
			if err != nil {
				return "", err
			}
			// Capture ended; let the provider flush what it has.
			_ = stream.CloseSend()
		case <-reqCtx.Done():
			if ctx.Err() == nil && heard.Heard() {
				return heard.Text(), nil
			}
			return "", requestErr(ctx, reqCtx, reqCtx.Err())
		}
	}
}

// release closes the provider stream. Results still in flight are not
// needed once the request resolves.
func (r *StreamingRecognizer) release(stream ports.StreamingSession) {
	_ = stream.CloseSend()
	if err := closeStream(stream, r.cfg.StreamingGrace); err != nil {
		r.logger.Debug("stream close failed", "error", err)
	}
}

// requestErr prefers the caller's cancellation, then the utterance timeout,
// then err itself.
func requestErr(ctx context.Context, reqCtx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(context.Cause(reqCtx), errUtteranceTimeout) {
		return domain.NewRecognitionError(domain.RecognitionErrorSpeechTimeout, errUtteranceTimeout)
	}
	return err
}
