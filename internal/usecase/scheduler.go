package usecase

import (
	"sync"
	"time"
)

// restartScheduler holds at most one pending delayed restart. A second
// Schedule while one is pending is rejected.
type restartScheduler struct {
	mu         sync.Mutex
	timer      *time.Timer
	pending    bool
	generation uint64
}

// Schedule runs fn after delay unless cancelled first. It reports false when
// a restart is already pending.
func (s *restartScheduler) Schedule(delay time.Duration, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending {
		return false
	}

	s.pending = true
	s.generation++
	generation := s.generation
	s.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if !s.pending || s.generation != generation {
			s.mu.Unlock()
			return
		}
		s.pending = false
		s.timer = nil
		s.mu.Unlock()
		fn()
	})
	return true
}

// Cancel drops the pending restart, if any. A restart whose timer already
// fired but has not yet claimed its slot is dropped as well.
func (s *restartScheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = false
	s.generation++
}

func (s *restartScheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}
