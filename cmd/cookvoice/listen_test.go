package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"cookvoice/internal/bootstrap"
	"cookvoice/internal/bus"
	"cookvoice/internal/classifier"
	"cookvoice/internal/domain"
	"cookvoice/internal/ports"
	"cookvoice/internal/recovery"
	"cookvoice/internal/usecase"
)

func TestListenRequiresSteps(t *testing.T) {
	t.Parallel()

	cmd := newRootCommand()
	cmd.SetArgs([]string{"listen"})
	cmd.SetOut(io.Discard)
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "--steps") {
		t.Fatalf("expected steps validation error, got %v", err)
	}
}

func TestRunListenFollowsVoiceCommands(t *testing.T) {
	t.Parallel()

	services := newTestServices(&scriptedRecognizer{script: []string{"다음 단계", "타이머 시작", "음성인식 종료"}})
	defer services.Bus.Close()

	out := &syncBuffer{}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := runListen(ctx, out, services, 3, []int{0, 60}); err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	services.Bus.Close()

	got := out.String()
	for _, want := range []string{"step 1/3", "step 2/3", "timer for step 2 running", "listening stopped"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in output:\n%s", want, got)
		}
	}
	if ctx.Err() != nil {
		t.Fatalf("listen must return when the STOP command arrives")
	}
}

func TestRunListenStopsOnContextEnd(t *testing.T) {
	t.Parallel()

	services := newTestServices(&scriptedRecognizer{})
	defer services.Bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runListen(ctx, io.Discard, services, 2, nil)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !services.Listener.Active() {
		if time.Now().After(deadline) {
			t.Fatalf("listener never started")
		}
		time.Sleep(2 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("listen did not return after interrupt")
	}
	if services.Listener.Active() {
		t.Fatalf("listener must be stopped")
	}
}

func TestRunListenReportsPermissionDeniedBeforeReturning(t *testing.T) {
	t.Parallel()

	services := newTestServicesWithPermission(&scriptedRecognizer{}, deniedPermission{})
	defer services.Bus.Close()

	out := &syncBuffer{}
	err := runListen(context.Background(), out, services, 2, nil)
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if got := out.String(); !strings.Contains(got, "notice: permission denied") {
		t.Fatalf("expected the stop notice before listen returned:\n%s", got)
	}
	if services.Bus.Pending() != 0 {
		t.Fatalf("expected no commands left queued, got %d", services.Bus.Pending())
	}
}

func newTestServices(recognizer *scriptedRecognizer) bootstrap.Services {
	return newTestServicesWithPermission(recognizer, grantedPermission{})
}

func newTestServicesWithPermission(recognizer *scriptedRecognizer, permissions ports.PermissionChecker) bootstrap.Services {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	commands := bus.New(logger)
	listener := usecase.NewSpeechCommandService(usecase.Dependencies{
		Recognizer:  recognizer,
		Permissions: permissions,
		Guard:       nopGuard{},
		Classifier:  classifier.Default(),
		Bus:         commands,
		Policy:      recovery.NewPolicy(time.Millisecond, time.Millisecond, 5*time.Millisecond),
		Logger:      logger,
	})
	return bootstrap.Services{Listener: listener, Bus: commands, Logger: logger}
}

type scriptedRecognizer struct {
	mu     sync.Mutex
	script []string
}

func (r *scriptedRecognizer) Recognize(ctx context.Context) (string, error) {
	r.mu.Lock()
	if len(r.script) > 0 {
		next := r.script[0]
		r.script = r.script[1:]
		r.mu.Unlock()
		return next, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return "", ctx.Err()
}

type grantedPermission struct{}

func (grantedPermission) MicrophoneGranted(_ context.Context) bool { return true }

type deniedPermission struct{}

func (deniedPermission) MicrophoneGranted(_ context.Context) bool { return false }

type nopGuard struct{}

func (nopGuard) Acquire(_ context.Context) error { return nil }
func (nopGuard) Release(_ context.Context)       {}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
