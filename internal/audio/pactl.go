package audio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

const defaultPactlCommand = "pactl"

var volumePercent = regexp.MustCompile(`(\d+)%`)

// PactlVolume reads and writes a PulseAudio/PipeWire sink volume as a
// percentage. It backs the guard that silences recognizer start/stop cues.
type PactlVolume struct {
	command string
	sink    string
}

func NewPactlVolume(command string, sink string) *PactlVolume {
	if command == "" {
		command = defaultPactlCommand
	}
	if sink == "" {
		sink = "@DEFAULT_SINK@"
	}
	return &PactlVolume{command: command, sink: sink}
}

func (p *PactlVolume) Volume(ctx context.Context) (int, error) {
	out, err := runPactl(ctx, p.command, "get-sink-volume", p.sink)
	if err != nil {
		return 0, err
	}
	return parseVolume(out)
}

func (p *PactlVolume) SetVolume(ctx context.Context, level int) error {
	if level < 0 {
		level = 0
	}
	_, err := runPactl(ctx, p.command, "set-sink-volume", p.sink, strconv.Itoa(level)+"%")
	return err
}

func parseVolume(output []byte) (int, error) {
	match := volumePercent.FindSubmatch(output)
	if match == nil {
		return 0, fmt.Errorf("no volume percentage in pactl output: %q", strings.TrimSpace(string(output)))
	}
	level, err := strconv.Atoi(string(match[1]))
	if err != nil {
		return 0, fmt.Errorf("invalid volume %q: %w", match[1], err)
	}
	return level, nil
}

// SourcePermissions treats the presence of a usable capture source as the
// microphone grant. A desktop session without a readable source behaves like
// a revoked permission on a phone.
type SourcePermissions struct {
	command string
	device  string
	logger  *slog.Logger
}

func NewSourcePermissions(command string, device string, logger *slog.Logger) *SourcePermissions {
	if command == "" {
		command = defaultPactlCommand
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SourcePermissions{command: command, device: strings.TrimSpace(device), logger: logger}
}

// MicrophoneGranted reports whether the configured device, or for "default"
// any non-monitor source, is listed by the sound server.
func (p *SourcePermissions) MicrophoneGranted(ctx context.Context) bool {
	out, err := runPactl(ctx, p.command, "list", "short", "sources")
	if err != nil {
		p.logger.Warn("microphone check failed", "error", err)
		return false
	}
	sources := parseSources(out)
	if p.device == "" || p.device == "default" {
		for _, name := range sources {
			if !strings.HasSuffix(name, ".monitor") {
				return true
			}
		}
		return false
	}
	for _, name := range sources {
		if name == p.device {
			return true
		}
	}
	return false
}

func parseSources(output []byte) []string {
	var names []string
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		names = append(names, fields[1])
	}
	return names
}

func runPactl(ctx context.Context, command string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		detail := stringsTrimSpaceSafe(stderr.String())
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && detail != "" {
			return nil, fmt.Errorf("%s %s: %w: %s", command, args[0], err, detail)
		}
		return nil, fmt.Errorf("%s %s: %w", command, args[0], err)
	}
	return out, nil
}
