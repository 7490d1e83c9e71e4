// Package recipe holds the step cursor and per-step countdown timers that
// hosts show and voice commands drive.
package recipe

import (
	"sync"

	"cookvoice/internal/domain"
)

// Steps is an in-memory, 0-indexed step cursor. It implements
// ports.StepSequence.
type Steps struct {
	mu     sync.Mutex
	total  int
	cursor int
	onMove func(domain.StepView)
}

// NewSteps creates a sequence of total steps. onMove, when set, is called
// after every cursor change outside the lock.
func NewSteps(total int, onMove func(domain.StepView)) *Steps {
	if total < 0 {
		total = 0
	}
	return &Steps{total: total, onMove: onMove}
}

func (s *Steps) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *Steps) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// MoveTo clamps index to the sequence and notifies when the cursor changed.
func (s *Steps) MoveTo(index int) {
	s.mu.Lock()
	if s.total == 0 {
		s.mu.Unlock()
		return
	}
	index = min(max(index, 0), s.total-1)
	if index == s.cursor {
		s.mu.Unlock()
		return
	}
	s.cursor = index
	view := domain.StepView{Index: index, Total: s.total}
	s.mu.Unlock()

	if s.onMove != nil {
		s.onMove(view)
	}
}

// Reset replaces the sequence and rewinds to the first step.
func (s *Steps) Reset(total int) {
	s.mu.Lock()
	s.total = max(total, 0)
	s.cursor = 0
	view := domain.StepView{Index: 0, Total: s.total}
	s.mu.Unlock()

	if s.onMove != nil {
		s.onMove(view)
	}
}

func (s *Steps) View() domain.StepView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.StepView{Index: s.cursor, Total: s.total}
}
