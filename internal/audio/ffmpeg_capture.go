package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"cookvoice/internal/domain"
	"cookvoice/internal/ports"
)

const (
	captureWarmup   = 250 * time.Millisecond
	captureStopWait = 1200 * time.Millisecond
)

// FFMPEGCapture streams microphone PCM audio using ffmpeg. Every recognition
// request opens its own short-lived capture.
type FFMPEGCapture struct {
	command string
}

func NewFFMPEGCapture(command string) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGCapture{command: command}
}

// Start launches ffmpeg and waits briefly for an early exit. Failures are
// *domain.RecognitionError so the listener can classify them.
func (c *FFMPEGCapture) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	cfg = withCaptureDefaults(cfg)

	cmd := exec.CommandContext(ctx, c.command, captureArgs(cfg)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, domain.NewRecognitionError(domain.RecognitionErrorClient, fmt.Errorf("create ffmpeg stdout pipe: %w", err))
	}
	if err := cmd.Start(); err != nil {
		return nil, domain.NewRecognitionError(domain.RecognitionErrorClient, fmt.Errorf("start ffmpeg: %w", err))
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		detail := stringsTrimSpaceSafe(stderr.String())
		if err == nil {
			err = errors.New("no error status")
		}
		return nil, classifyCaptureFailure(fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, detail), detail)
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		return nil, ctx.Err()
	case <-time.After(captureWarmup):
	}

	return &ffmpegSession{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

func withCaptureDefaults(cfg ports.AudioConfig) ports.AudioConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	return cfg
}

func captureArgs(cfg ports.AudioConfig) []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}
}

// classifyCaptureFailure maps ffmpeg's stderr onto recognition error codes.
func classifyCaptureFailure(err error, stderr string) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "permission denied"), strings.Contains(lower, "access denied"):
		return domain.NewRecognitionError(domain.RecognitionErrorPermissionMissing, errors.Join(domain.ErrPermissionDenied, err))
	case strings.Contains(lower, "device or resource busy"):
		return domain.NewRecognitionError(domain.RecognitionErrorBusy, err)
	default:
		return domain.NewRecognitionError(domain.RecognitionErrorAudio, err)
	}
}

type ffmpegSession struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *ffmpegSession) Close() error {
	return s.Stop()
}

// Stop interrupts ffmpeg, escalating to kill when it does not exit in time.
func (s *ffmpegSession) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		var err error
		var ok bool
		select {
		case err, ok = <-s.waitErr:
		case <-time.After(captureStopWait):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err, ok = <-s.waitErr
		}
		if ok {
			s.stopErr = normalizeStopErr(err)
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && s.stopErr == nil {
			s.stopErr = closeErr
		}
		if s.stopErr != nil && s.stderr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, stringsTrimSpaceSafe(s.stderr.String()))
		}
	})

	return s.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return strings.TrimSpace(input)
}
