package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cookvoice/internal/bootstrap"
	"cookvoice/internal/domain"
	"cookvoice/internal/ports"
	"cookvoice/internal/recipe"
	"cookvoice/internal/usecase"
)

const drainTimeout = 2 * time.Second

func newListenCommand() *cobra.Command {
	var stepCount int
	var timerSeconds []int

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Navigate a recipe by voice in the terminal",
		Long: "Listen for voice commands and move through a recipe of --steps steps.\n" +
			"Say \"다음 단계\" or \"이전 단계\" to move, \"타이머 시작\" to start the step timer\n" +
			"and \"음성인식 종료\" to quit. Ctrl+C also stops listening.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stepCount <= 0 {
				return fmt.Errorf("--steps must be positive")
			}
			services, err := bootstrap.Build()
			if err != nil {
				return err
			}
			defer services.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runListen(ctx, cmd.OutOrStdout(), services, stepCount, timerSeconds)
		},
	}

	cmd.Flags().IntVar(&stepCount, "steps", 0, "Number of recipe steps")
	cmd.Flags().IntSliceVar(&timerSeconds, "timer", nil, "Timer seconds per step, 0 for none (e.g. --timer 0,90,0)")
	return cmd
}

// runListen drives the recipe until the listener stops or ctx ends.
func runListen(ctx context.Context, out io.Writer, services bootstrap.Services, stepCount int, timerSeconds []int) error {
	console := &consolePresenter{out: out}
	steps := recipe.NewSteps(stepCount, console.stepChanged)
	timers := recipe.NewTimers(console.timerChanged)
	defer timers.Reset()
	for step, seconds := range timerSeconds {
		if step < stepCount && seconds > 0 {
			timers.Set(step, time.Duration(seconds)*time.Second)
		}
	}

	navigator := usecase.NewStepNavigationController(steps, timers, console, services.Listener, services.Logger, usecase.WithBoundaryNotices())
	if err := services.Bus.Register(navigator); err != nil {
		return err
	}
	defer detach(services, navigator)

	console.stepChanged(steps.View())
	if err := services.Listener.Start(ctx); err != nil {
		return err
	}
	console.ListeningChanged(true)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for services.Listener.Active() {
		select {
		case <-ctx.Done():
			services.Listener.Stop()
			console.ListeningChanged(false)
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

// detach lets the navigator finish the commands already accepted for it,
// such as the notice for a listener that stopped on its own, before it is
// unregistered.
func detach(services bootstrap.Services, navigator ports.CommandConsumer) {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := services.Bus.Flush(ctx); err != nil {
		services.Logger.Warn("commands still queued at exit", "pending", services.Bus.Pending(), "error", err)
	}
	services.Bus.Unregister(navigator)
}

// consolePresenter prints navigation feedback as plain lines.
type consolePresenter struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *consolePresenter) ListeningChanged(active bool) {
	if active {
		p.printf("listening")
		return
	}
	p.printf("listening stopped")
}

func (p *consolePresenter) Notice(message string) {
	p.printf("notice: %s", message)
}

func (p *consolePresenter) stepChanged(view domain.StepView) {
	p.printf("step %d/%d", view.Index+1, view.Total)
}

func (p *consolePresenter) timerChanged(view recipe.TimerView) {
	switch {
	case view.Finished:
		p.printf("timer for step %d finished", view.Step+1)
	case view.Running:
		p.printf("timer for step %d running, %s left", view.Step+1, time.Duration(view.RemainingMs)*time.Millisecond)
	default:
		p.printf("timer for step %d paused, %s left", view.Step+1, time.Duration(view.RemainingMs)*time.Millisecond)
	}
}

func (p *consolePresenter) printf(format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format+"\n", args...)
}
