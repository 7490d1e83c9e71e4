package recognition

import (
	"strings"
	"sync"

	"cookvoice/internal/domain"
)

// utterance collects the transcript events of one recognition request.
type utterance struct {
	mu         sync.Mutex
	finals     []string
	lastSpoken string
	ended      bool
}

// Add records an event and reports whether the utterance is complete.
// An utterance is complete once the provider marks end of speech after
// any text has been heard.
func (u *utterance) Add(event domain.TranscriptEvent) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	if text := strings.TrimSpace(event.Text); text != "" {
		u.lastSpoken = text
		if event.Kind == domain.TranscriptKindFinal {
			u.finals = append(u.finals, text)
		}
	}
	if event.IsSpeechFinal && u.heardLocked() {
		u.ended = true
	}
	return u.ended
}

// Heard reports whether any text, partial or final, has arrived.
func (u *utterance) Heard() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.heardLocked()
}

func (u *utterance) heardLocked() bool {
	return u.lastSpoken != "" || len(u.finals) > 0
}

// Text joins the final segments, falling back to the last partial when the
// provider never finalized anything.
func (u *utterance) Text() string {
	u.mu.Lock()
	defer u.mu.Unlock()

	joined := strings.TrimSpace(strings.Join(u.finals, " "))
	if joined == "" {
		return u.lastSpoken
	}
	return joined
}
