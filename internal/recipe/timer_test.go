package recipe

import (
	"sync"
	"testing"
	"time"
)

func TestTimerStartPauseResume(t *testing.T) {
	t.Parallel()

	timers := NewTimers(nil)
	timers.Set(1, time.Second)

	stepTimer, ok := timers.TimerFor(1)
	if !ok {
		t.Fatalf("expected timer for step 1")
	}
	timer := stepTimer.(*Timer)

	timer.Start()
	timer.Start()
	time.Sleep(20 * time.Millisecond)
	timer.Pause()

	view := timer.View()
	if view.Running || view.Finished {
		t.Fatalf("expected paused timer, got %+v", view)
	}
	if view.RemainingMs >= 1000 || view.RemainingMs < 500 {
		t.Fatalf("expected elapsed time deducted, remaining=%dms", view.RemainingMs)
	}

	paused := view.RemainingMs
	time.Sleep(20 * time.Millisecond)
	if timer.View().RemainingMs != paused {
		t.Fatalf("paused timer must not count down")
	}
}

func TestTimerFinishes(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var views []TimerView
	timers := NewTimers(func(view TimerView) {
		mu.Lock()
		defer mu.Unlock()
		views = append(views, view)
	})
	timers.Set(0, 10*time.Millisecond)

	stepTimer, _ := timers.TimerFor(0)
	stepTimer.Start()

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(views)
	}
	deadline := time.Now().Add(2 * time.Second)
	for count() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("timer never finished")
		}
		time.Sleep(5 * time.Millisecond)
	}

	stepTimer.Start()
	mu.Lock()
	defer mu.Unlock()
	if len(views) != 2 || !views[0].Running || !views[1].Finished {
		t.Fatalf("expected start and finish notifications only, got %v", views)
	}
}

func TestTimersWithoutTimer(t *testing.T) {
	t.Parallel()

	timers := NewTimers(nil)
	if _, ok := timers.TimerFor(3); ok {
		t.Fatalf("unexpected timer")
	}
	timers.Set(3, time.Minute)
	timers.Reset()
	if _, ok := timers.TimerFor(3); ok {
		t.Fatalf("reset must drop timers")
	}
}
