package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"cookvoice/internal/bus"
	"cookvoice/internal/classifier"
	"cookvoice/internal/domain"
	"cookvoice/internal/recovery"
	"cookvoice/internal/usecase"
)

func TestRequireReady(t *testing.T) {
	t.Parallel()

	app := NewApp()
	if err := app.requireReady(); err == nil {
		t.Fatalf("expected uninitialized error")
	}

	bootErr := errors.New("boot")
	app.bootErr = bootErr
	if err := app.requireReady(); !errors.Is(err, bootErr) {
		t.Fatalf("expected boot error, got %v", err)
	}
	if _, err := app.StartVoice(); !errors.Is(err, bootErr) {
		t.Fatalf("StartVoice must report the boot error, got %v", err)
	}
}

func TestGetStatusWhenNotInitialized(t *testing.T) {
	t.Parallel()

	app := NewApp()
	status := app.GetStatus()
	if status.State != domain.ListeningStateStopped || status.Active {
		t.Fatalf("unexpected status: %+v", status)
	}

	app.bootErr = errors.New("boot")
	status = app.GetStatus()
	if status.Active || status.Message != "boot" {
		t.Fatalf("unexpected boot status: %+v", status)
	}
	if info := app.GetRuntimeInfo(); info["error"] != "boot" {
		t.Fatalf("unexpected runtime info: %v", info)
	}
}

func TestShowRecipeAndSelectStepEmitEvents(t *testing.T) {
	t.Parallel()

	app, events := newTestApp()

	view := app.ShowRecipe([]int{0, 90, 0})
	if view.Index != 0 || view.Total != 3 {
		t.Fatalf("unexpected view: %+v", view)
	}
	if view := app.SelectStep(7); view.Index != 2 {
		t.Fatalf("expected clamped selection, got %+v", view)
	}
	if timer, ok := app.GetTimer(1); !ok || timer.RemainingMs != 90000 || timer.Running {
		t.Fatalf("unexpected timer for step 1: %+v %v", timer, ok)
	}
	if _, ok := app.GetTimer(0); ok {
		t.Fatalf("step 0 has no timer")
	}

	steps := events.named(eventStep)
	if len(steps) != 2 {
		t.Fatalf("expected reset and select step events, got %v", steps)
	}
	if last := steps[1].(domain.StepView); last.Index != 2 {
		t.Fatalf("unexpected step event: %+v", last)
	}
}

func TestVoiceCommandsDriveRecipe(t *testing.T) {
	t.Parallel()

	app, events := newTestApp()
	gate := make(chan struct{})
	recognizer := &queuedRecognizer{gate: gate, script: []string{"다음 단계", "타이머 시작", "음성인식 종료"}}
	listener, commands := newTestListener(recognizer, true)
	defer commands.Close()
	if err := app.attach(listener, commands, discardLogger()); err != nil {
		t.Fatalf("attach failed: %v", err)
	}

	app.ShowRecipe([]int{0, 0, 300, 0, 0})
	app.SelectStep(1)

	status, err := app.StartVoice()
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if !status.Active {
		t.Fatalf("expected active status, got %+v", status)
	}
	close(gate)

	waitFor(t, func() bool { return !listener.Active() })
	waitFor(t, func() bool {
		listening := events.named(eventListening)
		return len(listening) >= 2 && !listening[len(listening)-1].(map[string]bool)["active"]
	})

	if app.steps.Cursor() != 2 {
		t.Fatalf("expected cursor on step 2, got %d", app.steps.Cursor())
	}
	timer, _ := app.GetTimer(2)
	if !timer.Running {
		t.Fatalf("expected timer of the visible step running: %+v", timer)
	}
	listening := events.named(eventListening)
	if len(listening) < 2 || !listening[0].(map[string]bool)["active"] || listening[len(listening)-1].(map[string]bool)["active"] {
		t.Fatalf("expected listening on then off, got %v", listening)
	}

	app.shutdown(context.Background())
}

func TestStartVoiceWithoutMicrophone(t *testing.T) {
	t.Parallel()

	app, events := newTestApp()
	listener, commands := newTestListener(&queuedRecognizer{}, false)
	defer commands.Close()
	if err := app.attach(listener, commands, discardLogger()); err != nil {
		t.Fatalf("attach failed: %v", err)
	}

	_, err := app.StartVoice()
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected permission error, got %v", err)
	}

	waitFor(t, func() bool { return len(events.named(eventNotice)) == 1 })
	if notice := events.named(eventNotice)[0].(map[string]string); notice["message"] != "permission denied" {
		t.Fatalf("unexpected notice: %v", notice)
	}
	if status := app.GetStatus(); status.Active || status.Message != "permission denied" {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func newTestApp() (*App, *recordedEvents) {
	events := &recordedEvents{}
	app := NewApp()
	app.ctx = context.Background()
	app.emit = events.emit
	return app, events
}

func newTestListener(recognizer *queuedRecognizer, granted bool) (*usecase.SpeechCommandService, *bus.Bus) {
	commands := bus.New(discardLogger())
	listener := usecase.NewSpeechCommandService(usecase.Dependencies{
		Recognizer:  recognizer,
		Permissions: fixedPermission(granted),
		Guard:       &nopGuard{},
		Classifier:  classifier.Default(),
		Bus:         commands,
		Policy:      recovery.NewPolicy(time.Millisecond, time.Millisecond, 5*time.Millisecond),
		Logger:      discardLogger(),
	})
	return listener, commands
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

type recordedEvent struct {
	name string
	data interface{}
}

type recordedEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordedEvents) emit(_ context.Context, name string, data ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var payload interface{}
	if len(data) > 0 {
		payload = data[0]
	}
	r.events = append(r.events, recordedEvent{name: name, data: payload})
}

func (r *recordedEvents) named(name string) []interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []interface{}
	for _, event := range r.events {
		if event.name == name {
			out = append(out, event.data)
		}
	}
	return out
}

// queuedRecognizer answers each request with the next utterance once gate is
// open. Once the script is exhausted it blocks until the request is abandoned.
type queuedRecognizer struct {
	mu     sync.Mutex
	gate   chan struct{}
	script []string
}

func (r *queuedRecognizer) Recognize(ctx context.Context) (string, error) {
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
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

type fixedPermission bool

func (p fixedPermission) MicrophoneGranted(_ context.Context) bool {
	return bool(p)
}

type nopGuard struct{}

func (*nopGuard) Acquire(_ context.Context) error { return nil }
func (*nopGuard) Release(_ context.Context)       {}
