package recognition

import (
	"errors"
	"fmt"
	"io"
	"time"

	"cookvoice/internal/domain"
	"cookvoice/internal/ports"
)

const minChunkSize = 256

// pumpAudio copies capture audio into the stream until the capture ends or a
// send fails. It returns nil on a clean end of audio.
func pumpAudio(audio ports.AudioSession, stream ports.StreamingSession, chunkSize int) error {
	if chunkSize < minChunkSize {
		chunkSize = 4096
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := audio.Read(buf)
		if n > 0 {
			if sendErr := stream.SendAudio(buf[:n]); sendErr != nil {
				var recognitionErr *domain.RecognitionError
				if errors.As(sendErr, &recognitionErr) {
					return sendErr
				}
				return domain.NewRecognitionError(domain.RecognitionErrorNetwork, fmt.Errorf("failed to stream audio: %w", sendErr))
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return domain.NewRecognitionError(domain.RecognitionErrorAudio, fmt.Errorf("audio capture error: %w", err))
		}
	}
}

var errStreamCloseTimeout = errors.New("stream did not close in time")

// closeStream closes the provider session, giving up after timeout.
func closeStream(session ports.StreamingSession, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- session.Close()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return errStreamCloseTimeout
	}
}
