package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrPermissionDenied is returned when listening is requested without a microphone grant.
var ErrPermissionDenied = errors.New("permission denied")

// CommandKind identifies a classified voice intent.
type CommandKind string

const (
	CommandNext                       CommandKind = "NEXT"
	CommandPrevious                   CommandKind = "PREVIOUS"
	CommandStop                       CommandKind = "STOP"
	CommandTimerStart                 CommandKind = "TIMER_START"
	CommandTimerPause                 CommandKind = "TIMER_PAUSE"
	CommandServiceStoppedUnexpectedly CommandKind = "SERVICE_STOPPED_UNEXPECTEDLY"
)

// Command is an immutable intent delivered on the command bus.
// Message is only set for CommandServiceStoppedUnexpectedly.
type Command struct {
	Kind    CommandKind `json:"kind"`
	Message string      `json:"message,omitempty"`
}

// NewCommand builds a plain command without a message.
func NewCommand(kind CommandKind) Command {
	return Command{Kind: kind}
}

// ServiceStoppedUnexpectedly builds the fatal-stop notification.
func ServiceStoppedUnexpectedly(reason string) Command {
	return Command{Kind: CommandServiceStoppedUnexpectedly, Message: reason}
}

func (c Command) String() string {
	if c.Message == "" {
		return string(c.Kind)
	}
	return fmt.Sprintf("%s(%s)", c.Kind, c.Message)
}

// ParseCommandKind resolves a vocabulary command name. The unexpected-stop
// kind is produced by the listener itself and cannot be parsed.
func ParseCommandKind(name string) (CommandKind, error) {
	switch CommandKind(name) {
	case CommandNext, CommandPrevious, CommandStop, CommandTimerStart, CommandTimerPause:
		return CommandKind(name), nil
	default:
		return "", fmt.Errorf("unknown command %q", name)
	}
}

// ListeningState models the listening automaton.
type ListeningState string

const (
	ListeningStateStopped    ListeningState = "stopped"
	ListeningStateStarting   ListeningState = "starting"
	ListeningStateListening  ListeningState = "listening"
	ListeningStateRecovering ListeningState = "recovering"
)

// RecognitionErrorCode classifies a failed recognition request.
type RecognitionErrorCode string

const (
	RecognitionErrorAudio             RecognitionErrorCode = "audio"
	RecognitionErrorClient            RecognitionErrorCode = "client"
	RecognitionErrorBusy              RecognitionErrorCode = "recognizer_busy"
	RecognitionErrorNoMatch           RecognitionErrorCode = "no_match"
	RecognitionErrorSpeechTimeout     RecognitionErrorCode = "speech_timeout"
	RecognitionErrorNetwork           RecognitionErrorCode = "network"
	RecognitionErrorNetworkTimeout    RecognitionErrorCode = "network_timeout"
	RecognitionErrorServer            RecognitionErrorCode = "server"
	RecognitionErrorPermissionMissing RecognitionErrorCode = "insufficient_permissions"
	RecognitionErrorUnclassified      RecognitionErrorCode = "unclassified"
)

// RecognitionError is returned by recognizers for a failed request.
type RecognitionError struct {
	Code RecognitionErrorCode
	Err  error
}

// NewRecognitionError wraps err with a classification code.
func NewRecognitionError(code RecognitionErrorCode, err error) *RecognitionError {
	return &RecognitionError{Code: code, Err: err}
}

func (e *RecognitionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("recognition failed: %s", e.Code)
	}
	return fmt.Sprintf("recognition failed: %s: %v", e.Code, e.Err)
}

func (e *RecognitionError) Unwrap() error {
	return e.Err
}

// RecoveryAction is the outcome kind of a recovery decision.
type RecoveryAction string

const (
	RecoveryRetryImmediately RecoveryAction = "retry_immediately"
	RecoveryRetryAfter       RecoveryAction = "retry_after"
	RecoveryFatal            RecoveryAction = "fatal"
)

// RecoveryDecision tells the listener what to do after a failed request.
type RecoveryDecision struct {
	Action RecoveryAction
	Delay  time.Duration
	Reason string
}

func RetryImmediately() RecoveryDecision {
	return RecoveryDecision{Action: RecoveryRetryImmediately}
}

func RetryAfter(delay time.Duration) RecoveryDecision {
	return RecoveryDecision{Action: RecoveryRetryAfter, Delay: delay}
}

func Fatal(reason string) RecoveryDecision {
	return RecoveryDecision{Action: RecoveryFatal, Reason: reason}
}

// TranscriptKind identifies whether a stream event is partial or final text.
type TranscriptKind string

const (
	TranscriptKindPartial TranscriptKind = "partial"
	TranscriptKindFinal   TranscriptKind = "final"
)

// TranscriptEvent represents incremental transcription output from a provider.
type TranscriptEvent struct {
	Kind          TranscriptKind `json:"kind"`
	Text          string         `json:"text"`
	IsSpeechFinal bool           `json:"isSpeechFinal"`
}

// StepView is what the host shows for the current recipe step.
type StepView struct {
	Index int `json:"index"`
	Total int `json:"total"`
}

// VoiceStatus is what hosts report about voice mode.
type VoiceStatus struct {
	State   ListeningState `json:"state"`
	Active  bool           `json:"active"`
	Step    StepView       `json:"step"`
	Message string         `json:"message,omitempty"`
}
