package ports

import (
	"context"
	"io"

	"cookvoice/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// StreamingConfig describes provider-agnostic streaming settings.
type StreamingConfig struct {
	SampleRate     int
	Channels       int
	Encoding       string
	InterimResults bool
}

// StreamingSession is an active provider websocket session.
type StreamingSession interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan domain.TranscriptEvent
	Wait() error
	Close() error
}

// TranscriptionProvider starts streaming transcription sessions.
type TranscriptionProvider interface {
	StartStreaming(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
}

// SpeechRecognizer performs one recognition request per call. The return of
// Recognize resolves the request; cancelling ctx abandons it.
type SpeechRecognizer interface {
	Recognize(ctx context.Context) (string, error)
}

// VolumeControl reads and writes the level of the channel muted while listening.
type VolumeControl interface {
	Volume(ctx context.Context) (int, error)
	SetVolume(ctx context.Context, level int) error
}

// AudioResourceGuard silences the shared audio channel while listening.
// Release never fails and is a no-op without a prior Acquire.
type AudioResourceGuard interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context)
}

// PermissionChecker reports whether the microphone may be used right now.
type PermissionChecker interface {
	MicrophoneGranted(ctx context.Context) bool
}

// RulesEngine transforms transcripts using deterministic rules.
type RulesEngine interface {
	Apply(text string) (string, error)
}

// CommandClassifier maps recognized text onto a command.
type CommandClassifier interface {
	Classify(text string) (domain.Command, bool)
}

// RecoveryPolicy decides how to continue after a failed recognition request.
// attempt counts consecutive failures, starting at 1.
type RecoveryPolicy interface {
	Decide(code domain.RecognitionErrorCode, attempt int) domain.RecoveryDecision
}

// CommandPublisher accepts commands for asynchronous delivery.
type CommandPublisher interface {
	Publish(cmd domain.Command) bool
}

// CommandConsumer receives delivered commands in emission order.
type CommandConsumer interface {
	HandleCommand(cmd domain.Command)
}

// StepSequence is the externally owned, 0-indexed list of recipe steps.
type StepSequence interface {
	Len() int
	Cursor() int
	MoveTo(index int)
}

// StepTimer is the countdown timer owned by one step.
type StepTimer interface {
	Start()
	Pause()
}

// StepTimers resolves the timer of a step, if it has one.
type StepTimers interface {
	TimerFor(index int) (StepTimer, bool)
}

// ListeningPresenter is the foreground indication of voice mode.
type ListeningPresenter interface {
	ListeningChanged(active bool)
	Notice(message string)
}

// VoiceStopper ends the listening session on request of the consumer.
type VoiceStopper interface {
	Stop()
}
