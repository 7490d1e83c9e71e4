// Package classifier maps recognized utterances onto the fixed command
// vocabulary.
//
// The vocabulary is an ordered list of synonym groups. An utterance matches a
// group when it contains any of the group's phrases, compared
// case-insensitively. Groups are scanned in order and the first match wins,
// so "이전" groups must stay ahead of groups whose phrases could also appear
// in the same sentence.
package classifier

import (
	"errors"
	"strings"

	"cookvoice/internal/domain"
)

// Group maps several literal phrases onto one command.
type Group struct {
	Command domain.CommandKind
	Phrases []string
}

// Vocabulary is an ordered, priority-first list of groups.
type Vocabulary []Group

// DefaultVocabulary returns the built-in Korean vocabulary. The phrases are a
// stable contract with the recipe screens and their tests.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		{Command: domain.CommandPrevious, Phrases: []string{"이전", "이전으로", "이전단계", "이전 단계"}},
		{Command: domain.CommandNext, Phrases: []string{"다음", "다음으로", "다음단계", "다음 단계"}},
		{Command: domain.CommandStop, Phrases: []string{"종료", "음성인식 종료", "그만"}},
		{Command: domain.CommandTimerStart, Phrases: []string{"타이머 시작", "타이머 재생", "타이머 켜", "타이머 다시", "타이머 계속"}},
		{Command: domain.CommandTimerPause, Phrases: []string{"타이머 정지", "타이머 일시정지", "타이머 멈춰", "타이머 중지", "타이머 스톱"}},
	}
}

// Validate rejects vocabularies that could never classify anything or that
// name commands outside the closed set.
func (v Vocabulary) Validate() error {
	if len(v) == 0 {
		return errors.New("vocabulary has no groups")
	}
	var errs []error
	for i, group := range v {
		if _, err := domain.ParseCommandKind(string(group.Command)); err != nil {
			errs = append(errs, errorAt(i, err))
		}
		if len(group.Phrases) == 0 {
			errs = append(errs, errorAt(i, errors.New("group has no phrases")))
		}
		for _, phrase := range group.Phrases {
			if strings.TrimSpace(phrase) == "" {
				errs = append(errs, errorAt(i, errors.New("empty phrase")))
			}
		}
	}
	return errors.Join(errs...)
}

// Classifier is read-only after construction and safe for concurrent use.
type Classifier struct {
	groups []compiledGroup
}

type compiledGroup struct {
	command domain.CommandKind
	phrases []string
}

// New compiles vocab. An invalid vocabulary is an error.
func New(vocab Vocabulary) (*Classifier, error) {
	if err := vocab.Validate(); err != nil {
		return nil, err
	}
	groups := make([]compiledGroup, 0, len(vocab))
	for _, group := range vocab {
		phrases := make([]string, 0, len(group.Phrases))
		for _, phrase := range group.Phrases {
			phrases = append(phrases, strings.ToLower(strings.TrimSpace(phrase)))
		}
		groups = append(groups, compiledGroup{command: group.Command, phrases: phrases})
	}
	return &Classifier{groups: groups}, nil
}

// Default returns a classifier over DefaultVocabulary.
func Default() *Classifier {
	c, err := New(DefaultVocabulary())
	if err != nil {
		panic(err)
	}
	return c
}

// Classify returns the command of the first group with a phrase contained in
// text. No match is not an error; the caller keeps listening.
func (c *Classifier) Classify(text string) (domain.Command, bool) {
	normalized := strings.ToLower(text)
	if strings.TrimSpace(normalized) == "" {
		return domain.Command{}, false
	}
	for _, group := range c.groups {
		for _, phrase := range group.phrases {
			if strings.Contains(normalized, phrase) {
				return domain.NewCommand(group.command), true
			}
		}
	}
	return domain.Command{}, false
}
