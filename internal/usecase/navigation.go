package usecase

import (
	"log/slog"

	"cookvoice/internal/domain"
	"cookvoice/internal/ports"
)

const (
	NoticeFirstStep = "first step"
	NoticeLastStep  = "last step"
	NoticeNoTimer   = "this step has no timer"
)

// NavigationOption customizes a StepNavigationController.
type NavigationOption func(*StepNavigationController)

// WithBoundaryNotices surfaces a notice when NEXT or PREVIOUS would leave
// the step range. Without it boundary commands are silent no-ops.
func WithBoundaryNotices() NavigationOption {
	return func(c *StepNavigationController) {
		c.boundaryNotices = true
	}
}

// StepNavigationController applies bus commands to the recipe view. It
// implements ports.CommandConsumer and never calls back into the listener
// other than through VoiceStopper.
type StepNavigationController struct {
	steps     ports.StepSequence
	timers    ports.StepTimers
	presenter ports.ListeningPresenter
	voice     ports.VoiceStopper
	logger    *slog.Logger

	boundaryNotices bool
}

func NewStepNavigationController(
	steps ports.StepSequence,
	timers ports.StepTimers,
	presenter ports.ListeningPresenter,
	voice ports.VoiceStopper,
	logger *slog.Logger,
	opts ...NavigationOption,
) *StepNavigationController {
	if logger == nil {
		logger = slog.Default()
	}
	c := &StepNavigationController{
		steps:     steps,
		timers:    timers,
		presenter: presenter,
		voice:     voice,
		logger:    logger.With("component", "navigation"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *StepNavigationController) HandleCommand(cmd domain.Command) {
	switch cmd.Kind {
	case domain.CommandNext:
		c.move(1)
	case domain.CommandPrevious:
		c.move(-1)
	case domain.CommandStop:
		c.voice.Stop()
		c.presenter.ListeningChanged(false)
	case domain.CommandTimerStart, domain.CommandTimerPause:
		c.forwardTimer(cmd.Kind)
	case domain.CommandServiceStoppedUnexpectedly:
		c.logger.Warn("listening stopped unexpectedly", "reason", cmd.Message)
		c.presenter.Notice(cmd.Message)
		c.presenter.ListeningChanged(false)
	default:
		c.logger.Debug("ignoring command", "command", cmd.String())
	}
}

// move shifts the cursor by delta. Targets outside [0, len-1] leave the
// cursor unchanged.
func (c *StepNavigationController) move(delta int) {
	total := c.steps.Len()
	if total == 0 {
		return
	}
	target := c.steps.Cursor() + delta
	switch {
	case target < 0:
		c.boundary(NoticeFirstStep)
	case target > total-1:
		c.boundary(NoticeLastStep)
	default:
		c.steps.MoveTo(target)
	}
}

func (c *StepNavigationController) boundary(notice string) {
	if c.boundaryNotices {
		c.presenter.Notice(notice)
	}
}

// forwardTimer targets the timer of the step currently shown.
func (c *StepNavigationController) forwardTimer(kind domain.CommandKind) {
	if c.steps.Len() == 0 {
		return
	}
	timer, ok := c.timers.TimerFor(c.steps.Cursor())
	if !ok {
		c.presenter.Notice(NoticeNoTimer)
		return
	}
	if kind == domain.CommandTimerStart {
		timer.Start()
		return
	}
	timer.Pause()
}
