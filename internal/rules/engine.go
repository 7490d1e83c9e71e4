// Package rules normalizes recognized utterances before they are classified.
//
// A rules file holds one substitution per line. Literal lines use
// "heard => meant" and match case-insensitively; sed-style lines use
// "s/pattern/replacement/flags". Rules are re-applied until the text is
// stable or the iteration limit is reached.
package rules

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const defaultIterationLimit = 30

var whitespaceRun = regexp.MustCompile(`\s+`)

type substitution interface {
	Apply(input string) (output string, changed bool)
}

// LineParser turns one rules line into a substitution.
type LineParser interface {
	CanParse(line string) bool
	Parse(line string) (substitution, error)
}

// Options configures an Engine.
type Options struct {
	Path           string
	IterationLimit int
	Parsers        []LineParser
	Logger         *slog.Logger
}

// Engine rewrites utterances with deterministic substitutions.
type Engine struct {
	subs      []substitution
	loopLimit int
	logger    *slog.Logger
}

// NewEngine loads substitutions from opts.Path. A missing or empty path
// yields an engine that only collapses whitespace.
func NewEngine(opts Options) (*Engine, error) {
	engine := newEngine(opts)

	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return engine, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			engine.logger.Debug("rules file not found, normalization limited to whitespace", "path", path)
			return engine, nil
		}
		return nil, fmt.Errorf("failed to read rules file %q: %w", path, err)
	}

	subs, err := parseLines(string(contents), parsersOrDefault(opts.Parsers))
	if err != nil {
		return nil, fmt.Errorf("failed to parse rules file %q: %w", path, err)
	}
	engine.subs = subs
	engine.logger.Info("rules loaded", "path", path, "count", len(subs))
	return engine, nil
}

// NewEngineFromString compiles substitutions from an in-memory rules body.
func NewEngineFromString(body string, opts Options) (*Engine, error) {
	engine := newEngine(opts)
	subs, err := parseLines(body, parsersOrDefault(opts.Parsers))
	if err != nil {
		return nil, err
	}
	engine.subs = subs
	return engine, nil
}

func newEngine(opts Options) *Engine {
	limit := opts.IterationLimit
	if limit <= 0 {
		limit = defaultIterationLimit
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{loopLimit: limit, logger: logger}
}

// Apply trims and collapses whitespace, then runs substitutions to a fixed point.
func (e *Engine) Apply(text string) (string, error) {
	result := whitespaceRun.ReplaceAllString(strings.TrimSpace(text), " ")
	if len(e.subs) == 0 {
		return result, nil
	}

	for i := 0; i < e.loopLimit; i++ {
		changed := false
		for _, sub := range e.subs {
			next, subChanged := sub.Apply(result)
			if subChanged {
				result = next
				changed = true
			}
		}
		if !changed {
			return result, nil
		}
	}

	e.logger.Warn("rules did not stabilize", "limit", e.loopLimit, "text", result)
	return result, nil
}

func parseLines(contents string, parsers []LineParser) ([]substitution, error) {
	lines := strings.Split(contents, "\n")
	subs := make([]substitution, 0, len(lines))

	for index, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var parsed substitution
		for _, parser := range parsers {
			if !parser.CanParse(line) {
				continue
			}
			sub, err := parser.Parse(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", index+1, err)
			}
			parsed = sub
			break
		}
		if parsed == nil {
			return nil, fmt.Errorf("line %d: unsupported rule format", index+1)
		}
		subs = append(subs, parsed)
	}

	return subs, nil
}

func parsersOrDefault(parsers []LineParser) []LineParser {
	if len(parsers) == 0 {
		return DefaultParsers()
	}
	return parsers
}

// DefaultParsers returns the sed-style parser followed by the literal parser.
func DefaultParsers() []LineParser {
	return []LineParser{sedParser{}, literalParser{}}
}

type literalParser struct{}

func (literalParser) CanParse(line string) bool {
	return strings.Contains(line, "=>")
}

func (literalParser) Parse(line string) (substitution, error) {
	return parseLiteral(line)
}

type sedParser struct{}

// CanParse accepts "s" followed by a delimiter that is not a letter, digit or
// space, so literal rules such as "stop timer => ..." are left alone.
func (sedParser) CanParse(line string) bool {
	rest, ok := strings.CutPrefix(line, "s")
	if !ok || rest == "" {
		return false
	}
	delim, _ := utf8.DecodeRuneInString(rest)
	return !unicode.IsLetter(delim) && !unicode.IsDigit(delim) && !unicode.IsSpace(delim)
}

func (sedParser) Parse(line string) (substitution, error) {
	return parseSed(line)
}

type literalSubstitution struct {
	heard *regexp.Regexp
	meant string
}

// parseLiteral compiles the heard side so that spacing around Hangul
// syllables may differ from the rule: "다음단계 => 다음 단계" also rewrites
// "다음 단 계". Spaces between other characters must be present but may be
// any run of whitespace.
func parseLiteral(line string) (substitution, error) {
	heard, meant, ok := strings.Cut(line, "=>")
	if !ok {
		return nil, errors.New("invalid literal rule")
	}
	heard = strings.TrimSpace(heard)
	meant = strings.TrimSpace(meant)
	if heard == "" {
		return nil, errors.New("literal rule source cannot be empty")
	}

	re, err := regexp.Compile("(?i)" + spacingPattern(heard))
	if err != nil {
		return nil, fmt.Errorf("invalid literal source: %w", err)
	}
	return literalSubstitution{heard: re, meant: meant}, nil
}

func spacingPattern(heard string) string {
	var builder strings.Builder
	var prev rune
	gap := false
	for _, char := range heard {
		if unicode.IsSpace(char) {
			gap = true
			continue
		}
		if prev != 0 {
			switch {
			case isHangul(prev) || isHangul(char):
				builder.WriteString(`\s*`)
			case gap:
				builder.WriteString(`\s+`)
			}
		}
		builder.WriteString(regexp.QuoteMeta(string(char)))
		prev = char
		gap = false
	}
	return builder.String()
}

func isHangul(char rune) bool {
	return unicode.Is(unicode.Hangul, char)
}

func (s literalSubstitution) Apply(input string) (string, bool) {
	output := s.heard.ReplaceAllLiteralString(input, s.meant)
	return output, output != input
}

type sedSubstitution struct {
	re          *regexp.Regexp
	replacement string
	global      bool
}

func parseSed(line string) (substitution, error) {
	body := strings.TrimPrefix(line, "s")
	delim, size := utf8.DecodeRuneInString(body)
	if delim == utf8.RuneError {
		return nil, errors.New("missing regex delimiter")
	}
	body = body[size:]

	pattern, body, err := readDelimited(body, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	replacement, flags, err := readDelimited(body, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex replacement: %w", err)
	}

	global := false
	prefix := "i"
	for _, flag := range strings.TrimSpace(flags) {
		switch flag {
		case 'i', ' ':
		case 'g':
			global = true
		case 'm', 's':
			prefix += string(flag)
		default:
			return nil, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}

	re, err := regexp.Compile("(?" + prefix + ")" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return sedSubstitution{re: re, replacement: replacement, global: global}, nil
}

func (s sedSubstitution) Apply(input string) (string, bool) {
	if s.global {
		output := s.re.ReplaceAllString(input, s.replacement)
		return output, output != input
	}

	loc := s.re.FindStringSubmatchIndex(input)
	if loc == nil {
		return input, false
	}
	expanded := s.re.ExpandString(nil, s.replacement, input, loc)
	output := input[:loc[0]] + string(expanded) + input[loc[1]:]
	return output, output != input
}

// readDelimited returns the text up to the first unescaped delim and what
// follows it. Escapes are kept for the regexp compiler, except an escaped
// delimiter, which is unescaped.
func readDelimited(body string, delim rune) (string, string, error) {
	if body == "" {
		return "", "", errors.New("unexpected end of expression")
	}

	var builder strings.Builder
	escaped := false
	for index, char := range body {
		switch {
		case escaped:
			escaped = false
			if char != delim {
				builder.WriteRune('\\')
			}
		case char == '\\':
			escaped = true
			continue
		case char == delim:
			return builder.String(), body[index+utf8.RuneLen(char):], nil
		}
		builder.WriteRune(char)
	}
	return "", "", errors.New("unterminated expression")
}
