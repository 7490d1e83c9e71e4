package usecase

import (
	"log/slog"

	"cookvoice/internal/domain"
	"cookvoice/internal/ports"
)

// commandResolver normalizes recognized text with the rules engine and
// classifies the result.
type commandResolver struct {
	rules      ports.RulesEngine
	classifier ports.CommandClassifier
	logger     *slog.Logger
}

func newCommandResolver(rules ports.RulesEngine, classifier ports.CommandClassifier, logger *slog.Logger) commandResolver {
	return commandResolver{rules: rules, classifier: classifier, logger: logger}
}

// Resolve never fails: a rules error falls back to the raw text.
func (r commandResolver) Resolve(raw string) (domain.Command, bool) {
	text := raw
	if r.rules != nil {
		transformed, err := r.rules.Apply(raw)
		if err != nil {
			r.logger.Warn("normalization rules failed, classifying raw text", "error", err)
		} else {
			text = transformed
		}
	}
	return r.classifier.Classify(text)
}
