package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"cookvoice/internal/bootstrap"
	"cookvoice/internal/bus"
	"cookvoice/internal/domain"
	"cookvoice/internal/recipe"
	"cookvoice/internal/usecase"
)

const (
	eventListening = "cookvoice:listening"
	eventStep      = "cookvoice:step"
	eventTimer     = "cookvoice:timer"
	eventNotice    = "cookvoice:notice"

	shutdownDrainTimeout = time.Second
)

type emitFunc func(ctx context.Context, eventName string, optionalData ...interface{})

// App is the Wails application root. It owns the recipe view and hosts the
// listener lifecycle.
type App struct {
	ctx  context.Context
	emit emitFunc

	steps  *recipe.Steps
	timers *recipe.Timers

	services  bootstrap.Services
	listener  *usecase.SpeechCommandService
	commands  *bus.Bus
	navigator *usecase.StepNavigationController
	logger    *slog.Logger
	bootErr   error

	noticeMu   sync.Mutex
	lastNotice string
}

func NewApp() *App {
	a := &App{emit: runtime.EventsEmit}
	a.steps = recipe.NewSteps(0, a.stepChanged)
	a.timers = recipe.NewTimers(a.timerChanged)
	return a
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build()
	if err != nil {
		a.bootErr = err
		a.Notice(fmt.Sprintf("startup failed: %v", err))
		return
	}
	a.services = services
	slog.SetDefault(services.Logger)

	if err := a.attach(services.Listener, services.Bus, services.Logger); err != nil {
		a.bootErr = err
		a.Notice(fmt.Sprintf("startup failed: %v", err))
	}
}

// attach registers the step navigator as the command consumer.
func (a *App) attach(listener *usecase.SpeechCommandService, commands *bus.Bus, logger *slog.Logger) error {
	navigator := usecase.NewStepNavigationController(a.steps, a.timers, a, listener, logger, usecase.WithBoundaryNotices())
	if err := commands.Register(navigator); err != nil {
		return err
	}
	a.listener = listener
	a.commands = commands
	a.navigator = navigator
	a.logger = logger
	return nil
}

func (a *App) shutdown(_ context.Context) {
	if a.listener != nil {
		a.listener.Stop()
	}
	if a.commands != nil && a.navigator != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownDrainTimeout)
		if err := a.commands.Flush(ctx); err != nil && a.logger != nil {
			a.logger.Warn("commands still queued at shutdown", "pending", a.commands.Pending(), "error", err)
		}
		cancel()
		a.commands.Unregister(a.navigator)
	}
	a.services.Close()
	a.timers.Reset()
}

// StartVoice enables hands-free navigation.
func (a *App) StartVoice() (domain.VoiceStatus, error) {
	if err := a.requireReady(); err != nil {
		return domain.VoiceStatus{}, err
	}
	if err := a.listener.Start(a.ctx); err != nil {
		// A denied start already reached the navigator through the bus.
		if !errors.Is(err, domain.ErrPermissionDenied) {
			a.Notice(err.Error())
		}
		return a.GetStatus(), err
	}
	a.ListeningChanged(true)
	return a.GetStatus(), nil
}

// StopVoice disables hands-free navigation.
func (a *App) StopVoice() domain.VoiceStatus {
	if a.listener != nil {
		a.listener.Stop()
		a.ListeningChanged(false)
	}
	return a.GetStatus()
}

// ShowRecipe replaces the recipe. timerSeconds has one entry per step; zero
// means the step has no timer.
func (a *App) ShowRecipe(timerSeconds []int) domain.StepView {
	a.timers.Reset()
	for step, seconds := range timerSeconds {
		if seconds > 0 {
			a.timers.Set(step, time.Duration(seconds)*time.Second)
		}
	}
	a.steps.Reset(len(timerSeconds))
	return a.steps.View()
}

// SelectStep moves to a step picked in the UI.
func (a *App) SelectStep(index int) domain.StepView {
	a.steps.MoveTo(index)
	return a.steps.View()
}

// GetTimer returns the timer of a step, if it has one.
func (a *App) GetTimer(index int) (recipe.TimerView, bool) {
	timer, ok := a.timers.TimerFor(index)
	if !ok {
		return recipe.TimerView{}, false
	}
	return timer.(*recipe.Timer).View(), true
}

// GetStatus returns the current voice mode status.
func (a *App) GetStatus() domain.VoiceStatus {
	status := domain.VoiceStatus{State: domain.ListeningStateStopped, Step: a.steps.View()}
	if a.bootErr != nil {
		status.Message = a.bootErr.Error()
		return status
	}
	if a.listener != nil {
		status.State = a.listener.State()
		status.Active = a.listener.Active()
	}
	status.Message = a.notice()
	return status
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	cfg := a.services.Config
	return map[string]string{
		"provider":       "Deepgram",
		"model":          cfg.Deepgram.Model,
		"language":       cfg.Deepgram.Language,
		"rulesFile":      cfg.Rules.Path,
		"vocabularyFile": cfg.Vocabulary.Path,
		"audioInput":     cfg.Audio.InputDevice,
		"muteSink":       cfg.Audio.MuteSink,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.listener == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// ListeningChanged emits the listening indicator to the frontend.
func (a *App) ListeningChanged(active bool) {
	a.emitEvent(eventListening, map[string]bool{"active": active})
}

// Notice emits a user-facing message to the frontend.
func (a *App) Notice(message string) {
	a.noticeMu.Lock()
	a.lastNotice = message
	a.noticeMu.Unlock()
	a.emitEvent(eventNotice, map[string]string{"message": message})
}

func (a *App) notice() string {
	a.noticeMu.Lock()
	defer a.noticeMu.Unlock()
	return a.lastNotice
}

func (a *App) stepChanged(view domain.StepView) {
	a.emitEvent(eventStep, view)
}

func (a *App) timerChanged(view recipe.TimerView) {
	a.emitEvent(eventTimer, view)
}

func (a *App) emitEvent(name string, data interface{}) {
	if a.ctx == nil || a.emit == nil {
		return
	}
	a.emit(a.ctx, name, data)
}
