package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cookvoice/internal/observe"
	"cookvoice/internal/ports"
)

const defaultGuardTimeout = 2 * time.Second

// muteToken holds the level to restore. It lives from a successful Acquire
// until the matching Release.
type muteToken struct {
	level int
}

// Guard owns the shared audio channel for the length of a listening session.
// Nothing else in the pipeline touches the channel.
type Guard struct {
	volume  ports.VolumeControl
	logger  *slog.Logger
	metrics *observe.Metrics
	timeout time.Duration

	mu    sync.Mutex
	token *muteToken
}

func NewGuard(volume ports.VolumeControl, logger *slog.Logger, metrics *observe.Metrics) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{volume: volume, logger: logger, metrics: metrics, timeout: defaultGuardTimeout}
}

// Acquire saves the current level and silences the channel. It is a no-op
// while a token is held. On error the channel is left untouched and no token
// is created.
func (g *Guard) Acquire(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.token != nil {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	level, err := g.volume.Volume(callCtx)
	if err != nil {
		g.metrics.RecordGuardFailure(ctx, "read")
		return fmt.Errorf("read channel volume: %w", err)
	}
	if err := g.volume.SetVolume(callCtx, 0); err != nil {
		g.metrics.RecordGuardFailure(ctx, "mute")
		return fmt.Errorf("mute channel: %w", err)
	}
	g.token = &muteToken{level: level}
	g.logger.Debug("audio channel muted", "saved_level", level)
	return nil
}

// Release restores the saved level and consumes the token. It never fails:
// platform errors are logged because release runs on teardown paths.
func (g *Guard) Release(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	token := g.token
	if token == nil {
		return
	}
	g.token = nil

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()

	if err := g.volume.SetVolume(callCtx, token.level); err != nil {
		g.metrics.RecordGuardFailure(ctx, "restore")
		g.logger.Warn("failed to restore audio channel volume", "level", token.level, "error", err)
		return
	}
	g.logger.Debug("audio channel restored", "level", token.level)
}

// Held reports whether a mute token is outstanding.
func (g *Guard) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.token != nil
}
