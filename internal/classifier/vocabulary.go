package classifier

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"cookvoice/internal/domain"
)

type vocabularyFile struct {
	Version int              `yaml:"version"`
	Groups  []vocabularyItem `yaml:"groups"`
}

type vocabularyItem struct {
	Command string   `yaml:"command"`
	Phrases []string `yaml:"phrases"`
}

// LoadVocabulary reads an ordered vocabulary from a YAML file. An empty path
// or a missing file yields DefaultVocabulary.
//
//	version: 1
//	groups:
//	  - command: PREVIOUS
//	    phrases: ["이전", "뒤로"]
func LoadVocabulary(path string) (Vocabulary, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultVocabulary(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultVocabulary(), nil
		}
		return nil, fmt.Errorf("vocabulary: open %q: %w", path, err)
	}
	defer f.Close()

	vocab, err := DecodeVocabulary(f)
	if err != nil {
		return nil, fmt.Errorf("vocabulary: parse %q: %w", path, err)
	}
	return vocab, nil
}

// DecodeVocabulary decodes and validates a YAML vocabulary document.
func DecodeVocabulary(r io.Reader) (Vocabulary, error) {
	var doc vocabularyFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if doc.Version != 0 && doc.Version != 1 {
		return nil, fmt.Errorf("unsupported vocabulary version %d", doc.Version)
	}

	vocab := make(Vocabulary, 0, len(doc.Groups))
	for _, item := range doc.Groups {
		vocab = append(vocab, Group{
			Command: domain.CommandKind(strings.ToUpper(strings.TrimSpace(item.Command))),
			Phrases: item.Phrases,
		})
	}
	if err := vocab.Validate(); err != nil {
		return nil, err
	}
	return vocab, nil
}

func errorAt(index int, err error) error {
	return fmt.Errorf("group %d: %w", index, err)
}
