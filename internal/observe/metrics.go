// Package observe holds the OpenTelemetry instruments of the voice pipeline.
//
// Components take a *Metrics; a nil *Metrics is valid and records nothing,
// which keeps unit tests free of meter plumbing. Tests that assert on metrics
// use NewMetrics with an sdk ManualReader.
package observe

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"cookvoice/internal/domain"
)

const meterName = "cookvoice"

// Metrics groups the listener's instruments.
type Metrics struct {
	RecognitionRequests metric.Int64Counter
	RecognitionErrors   metric.Int64Counter
	Commands            metric.Int64Counter
	Restarts            metric.Int64Counter
	ActiveSessions      metric.Int64UpDownCounter
	GuardFailures       metric.Int64Counter
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.RecognitionRequests, err = m.Int64Counter("cookvoice.recognition.requests",
		metric.WithDescription("Recognition requests issued by the listener."),
	); err != nil {
		return nil, err
	}
	if met.RecognitionErrors, err = m.Int64Counter("cookvoice.recognition.errors",
		metric.WithDescription("Failed recognition requests by error code and recovery decision."),
	); err != nil {
		return nil, err
	}
	if met.Commands, err = m.Int64Counter("cookvoice.commands",
		metric.WithDescription("Commands accepted by the command bus."),
	); err != nil {
		return nil, err
	}
	if met.Restarts, err = m.Int64Counter("cookvoice.restarts",
		metric.WithDescription("Delayed recognition restarts scheduled after errors."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("cookvoice.sessions.active",
		metric.WithDescription("Listening sessions currently running."),
	); err != nil {
		return nil, err
	}
	if met.GuardFailures, err = m.Int64Counter("cookvoice.audio.guard.failures",
		metric.WithDescription("Failed mute or restore calls on the shared audio channel."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// Default builds metrics on the global meter provider.
func Default() (*Metrics, error) {
	return NewMetrics(otel.GetMeterProvider())
}

func (m *Metrics) RecordRequest(ctx context.Context) {
	if m == nil {
		return
	}
	m.RecognitionRequests.Add(ctx, 1)
}

func (m *Metrics) RecordError(ctx context.Context, code domain.RecognitionErrorCode, action domain.RecoveryAction) {
	if m == nil {
		return
	}
	m.RecognitionErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("code", string(code)),
		attribute.String("decision", string(action)),
	))
}

func (m *Metrics) RecordCommand(ctx context.Context, kind domain.CommandKind) {
	if m == nil {
		return
	}
	m.Commands.Add(ctx, 1, metric.WithAttributes(attribute.String("command", string(kind))))
}

func (m *Metrics) RecordRestart(ctx context.Context) {
	if m == nil {
		return
	}
	m.Restarts.Add(ctx, 1)
}

func (m *Metrics) SessionStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, 1)
}

func (m *Metrics) SessionEnded(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, -1)
}

func (m *Metrics) RecordGuardFailure(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.GuardFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}
