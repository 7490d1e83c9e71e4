// Package recovery decides how the listener continues after a failed
// recognition request.
//
// Only a missing microphone permission is fatal. Every other failure is
// retried after a short, bounded delay so that natural pauses in speech never
// need user action and the recognizer is not hammered by a tight restart loop.
package recovery

import (
	"context"
	"errors"
	"net"
	"time"

	"cookvoice/internal/domain"
)

const (
	DefaultBaseDelay    = 150 * time.Millisecond
	DefaultNetworkDelay = 400 * time.Millisecond
	DefaultMaxDelay     = 2 * time.Second
)

// PermissionDeniedReason is the message carried by the fatal-stop command.
const PermissionDeniedReason = "permission denied"

// Policy is a pure decision table. The zero value uses the default delays.
type Policy struct {
	// BaseDelay applies to audio, client, busy, no-match, timeout and
	// unclassified errors.
	BaseDelay time.Duration
	// NetworkDelay applies to network, network-timeout and server errors.
	NetworkDelay time.Duration
	// MaxDelay caps the doubling applied to consecutive failures.
	MaxDelay time.Duration
}

// NewPolicy fills unset delays with defaults.
func NewPolicy(base, network, limit time.Duration) Policy {
	return Policy{BaseDelay: base, NetworkDelay: network, MaxDelay: limit}.withDefaults()
}

func (p Policy) withDefaults() Policy {
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.NetworkDelay <= 0 {
		p.NetworkDelay = DefaultNetworkDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.MaxDelay < p.NetworkDelay {
		p.MaxDelay = p.NetworkDelay
	}
	return p
}

// Decide maps an error code and the number of consecutive failures
// (starting at 1) onto a decision. The delay doubles per consecutive failure
// and never exceeds MaxDelay.
func (p Policy) Decide(code domain.RecognitionErrorCode, attempt int) domain.RecoveryDecision {
	p = p.withDefaults()

	var base time.Duration
	switch code {
	case domain.RecognitionErrorPermissionMissing:
		return domain.Fatal(PermissionDeniedReason)
	case domain.RecognitionErrorNetwork,
		domain.RecognitionErrorNetworkTimeout,
		domain.RecognitionErrorServer:
		base = p.NetworkDelay
	default:
		base = p.BaseDelay
	}
	return domain.RetryAfter(backoff(base, p.MaxDelay, attempt))
}

func backoff(base, limit time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= limit {
			return limit
		}
	}
	return delay
}

// Classify extracts the error code of a failed recognition request.
// Errors that are not *domain.RecognitionError are classified by kind.
func Classify(err error) domain.RecognitionErrorCode {
	if err == nil {
		return domain.RecognitionErrorUnclassified
	}

	var recognitionErr *domain.RecognitionError
	if errors.As(err, &recognitionErr) {
		return recognitionErr.Code
	}
	if errors.Is(err, domain.ErrPermissionDenied) {
		return domain.RecognitionErrorPermissionMissing
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.RecognitionErrorSpeechTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return domain.RecognitionErrorNetworkTimeout
		}
		return domain.RecognitionErrorNetwork
	}
	return domain.RecognitionErrorUnclassified
}
