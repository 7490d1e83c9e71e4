package recipe

import (
	"sync"
	"time"

	"cookvoice/internal/ports"
)

// TimerView is a snapshot of one step timer.
type TimerView struct {
	Step        int   `json:"step"`
	RemainingMs int64 `json:"remainingMs"`
	Running     bool  `json:"running"`
	Finished    bool  `json:"finished"`
}

// Timer is a pausable countdown owned by one step. It implements
// ports.StepTimer.
type Timer struct {
	step     int
	onChange func(TimerView)

	mu        sync.Mutex
	remaining time.Duration
	running   bool
	startedAt time.Time
	timer     *time.Timer
}

func newTimer(step int, duration time.Duration, onChange func(TimerView)) *Timer {
	return &Timer{step: step, remaining: duration, onChange: onChange}
}

// Start resumes the countdown. It is a no-op while running or once finished.
func (t *Timer) Start() {
	t.mu.Lock()
	if t.running || t.remaining <= 0 {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.startedAt = time.Now()
	t.timer = time.AfterFunc(t.remaining, t.finish)
	view := t.viewLocked()
	t.mu.Unlock()
	t.notify(view)
}

// Pause freezes the countdown. It is a no-op unless running.
func (t *Timer) Pause() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.timer.Stop()
	t.timer = nil
	t.remaining = max(t.remaining-time.Since(t.startedAt), 0)
	t.running = false
	view := t.viewLocked()
	t.mu.Unlock()
	t.notify(view)
}

func (t *Timer) View() TimerView {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.viewLocked()
}

func (t *Timer) finish() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	t.remaining = 0
	t.timer = nil
	view := t.viewLocked()
	t.mu.Unlock()
	t.notify(view)
}

func (t *Timer) viewLocked() TimerView {
	remaining := t.remaining
	if t.running {
		remaining = max(remaining-time.Since(t.startedAt), 0)
	}
	return TimerView{
		Step:        t.step,
		RemainingMs: remaining.Milliseconds(),
		Running:     t.running,
		Finished:    !t.running && t.remaining <= 0,
	}
}

func (t *Timer) notify(view TimerView) {
	if t.onChange != nil {
		t.onChange(view)
	}
}

// Timers maps step indexes to their timers. It implements ports.StepTimers.
type Timers struct {
	mu       sync.Mutex
	timers   map[int]*Timer
	onChange func(TimerView)
}

func NewTimers(onChange func(TimerView)) *Timers {
	return &Timers{timers: map[int]*Timer{}, onChange: onChange}
}

// Set gives step a countdown of duration, replacing any previous timer.
func (ts *Timers) Set(step int, duration time.Duration) {
	ts.mu.Lock()
	previous := ts.timers[step]
	ts.timers[step] = newTimer(step, duration, ts.onChange)
	ts.mu.Unlock()

	if previous != nil {
		previous.Pause()
	}
}

func (ts *Timers) TimerFor(index int) (ports.StepTimer, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	timer, ok := ts.timers[index]
	if !ok {
		return nil, false
	}
	return timer, true
}

// Reset pauses and drops every timer.
func (ts *Timers) Reset() {
	ts.mu.Lock()
	previous := ts.timers
	ts.timers = map[int]*Timer{}
	ts.mu.Unlock()

	for _, timer := range previous {
		timer.Pause()
	}
}
