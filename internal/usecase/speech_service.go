package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"cookvoice/internal/domain"
	"cookvoice/internal/observe"
	"cookvoice/internal/ports"
	"cookvoice/internal/recovery"
)

const (
	permissionCheckTimeout = 2 * time.Second
	// requestSettleTimeout bounds how long a new session waits for the
	// request abandoned by the previous one.
	requestSettleTimeout = 3 * time.Second
)

// Dependencies are the collaborators of a SpeechCommandService. Rules,
// Metrics and Logger are optional.
type Dependencies struct {
	Recognizer  ports.SpeechRecognizer
	Permissions ports.PermissionChecker
	Guard       ports.AudioResourceGuard
	Classifier  ports.CommandClassifier
	Rules       ports.RulesEngine
	Bus         ports.CommandPublisher
	Policy      ports.RecoveryPolicy
	Metrics     *observe.Metrics
	Logger      *slog.Logger
}

// SpeechCommandService is the listening automaton. While active it keeps
// exactly one recognition request outstanding and publishes every classified
// utterance on the command bus.
type SpeechCommandService struct {
	recognizer  ports.SpeechRecognizer
	permissions ports.PermissionChecker
	guard       ports.AudioResourceGuard
	resolver    commandResolver
	bus         ports.CommandPublisher
	policy      ports.RecoveryPolicy
	metrics     *observe.Metrics
	logger      *slog.Logger
	scheduler   restartScheduler
	settle      time.Duration

	mu      sync.Mutex
	state   domain.ListeningState
	session *listeningSession
	// inflight is closed once the most recently issued request has returned
	// from the recognizer.
	inflight chan struct{}
}

// listeningSession spans one Start..Stop cycle. Results carrying a session
// other than the current one are stale and dropped.
type listeningSession struct {
	id       string
	ctx      context.Context
	cancel   context.CancelFunc
	failures int
	logger   *slog.Logger
}

func NewSpeechCommandService(deps Dependencies) *SpeechCommandService {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "listener")
	return &SpeechCommandService{
		recognizer:  deps.Recognizer,
		permissions: deps.Permissions,
		guard:       deps.Guard,
		resolver:    newCommandResolver(deps.Rules, deps.Classifier, logger),
		bus:         deps.Bus,
		policy:      deps.Policy,
		metrics:     deps.Metrics,
		logger:      logger,
		settle:      requestSettleTimeout,
		state:       domain.ListeningStateStopped,
	}
}

// Start begins listening. It is a no-op unless the service is stopped. When
// the microphone is not granted it publishes one unexpected-stop command,
// leaves the audio channel untouched and returns domain.ErrPermissionDenied.
func (s *SpeechCommandService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.ListeningStateStopped {
		return nil
	}
	s.state = domain.ListeningStateStarting

	checkCtx, cancel := context.WithTimeout(ctx, permissionCheckTimeout)
	granted := s.permissions.MicrophoneGranted(checkCtx)
	cancel()
	if !granted {
		s.state = domain.ListeningStateStopped
		s.logger.Warn("microphone permission missing, not listening")
		s.publishLocked(ctx, domain.ServiceStoppedUnexpectedly(recovery.PermissionDeniedReason))
		return domain.ErrPermissionDenied
	}

	sessionCtx, sessionCancel := context.WithCancel(ctx)
	id := uuid.NewString()
	session := &listeningSession{
		id:     id,
		ctx:    sessionCtx,
		cancel: sessionCancel,
		logger: s.logger.With("session_id", id),
	}

	if err := s.guard.Acquire(sessionCtx); err != nil {
		session.logger.Warn("audio channel not muted", "error", err)
	}

	s.session = session
	s.state = domain.ListeningStateListening
	s.metrics.SessionStarted(ctx)
	session.logger.Info("listening started")
	s.issueLocked(session)
	return nil
}

// Stop ends the session from any state. It cancels a pending restart,
// abandons the in-flight request and restores the audio channel before
// returning. It does not wait for the recognizer. Calling Stop again is a
// no-op.
func (s *SpeechCommandService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == domain.ListeningStateStopped {
		return
	}
	if s.session != nil {
		s.session.logger.Info("listening stopped")
	}
	s.shutdownLocked(context.Background())
}

// State returns the current automaton state.
func (s *SpeechCommandService) State() domain.ListeningState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active reports whether a listening session is running.
func (s *SpeechCommandService) Active() bool {
	return s.State() != domain.ListeningStateStopped
}

// issueLocked starts the next recognition request. It is chained behind the
// previously issued request, so a request abandoned by Stop has returned
// before a new session talks to the recognizer again.
func (s *SpeechCommandService) issueLocked(session *listeningSession) {
	previous := s.inflight
	done := make(chan struct{})
	s.inflight = done
	s.metrics.RecordRequest(session.ctx)
	go func() {
		if previous != nil {
			s.awaitRequest(session, previous)
		}
		text, err := s.recognizer.Recognize(session.ctx)
		close(done)
		s.resolve(session, text, err)
	}()
}

func (s *SpeechCommandService) awaitRequest(session *listeningSession, previous <-chan struct{}) {
	timer := time.NewTimer(s.settle)
	defer timer.Stop()
	select {
	case <-previous:
	case <-timer.C:
		session.logger.Warn("previous recognition request still running", "waited", s.settle)
	}
}

// resolve handles the single callback of one recognition request.
func (s *SpeechCommandService) resolve(session *listeningSession, text string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != session || s.state != domain.ListeningStateListening {
		session.logger.Debug("discarding stale recognition result")
		return
	}

	ctx := session.ctx
	if ctx.Err() != nil {
		// The caller's context ended without Stop.
		session.logger.Info("listening context ended", "error", ctx.Err())
		s.shutdownLocked(context.WithoutCancel(ctx))
		return
	}

	if err == nil {
		session.failures = 0
		if cmd, ok := s.resolver.Resolve(text); ok {
			session.logger.Debug("command recognized", "command", cmd.Kind)
			s.publishLocked(ctx, cmd)
		}
		s.issueLocked(session)
		return
	}

	code := recovery.Classify(err)
	session.failures++
	decision := s.policy.Decide(code, session.failures)
	s.metrics.RecordError(ctx, code, decision.Action)

	if decision.Action == domain.RecoveryFatal {
		reason := decision.Reason
		if reason == "" {
			reason = string(code)
		}
		session.logger.Error("recognition failed permanently", "code", code, "error", err)
		s.shutdownLocked(ctx)
		s.publishLocked(ctx, domain.ServiceStoppedUnexpectedly(reason))
		return
	}

	delay := decision.Delay
	if decision.Action == domain.RecoveryRetryImmediately {
		delay = 0
	}
	session.logger.Debug("recognition failed, restarting",
		"code", code,
		"attempt", session.failures,
		"delay", delay,
		"error", err,
	)
	s.state = domain.ListeningStateRecovering
	if !s.scheduler.Schedule(delay, func() { s.resume(session) }) {
		session.logger.Debug("restart already pending")
		return
	}
	s.metrics.RecordRestart(ctx)
}

func (s *SpeechCommandService) resume(session *listeningSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != session || s.state != domain.ListeningStateRecovering {
		return
	}
	s.state = domain.ListeningStateListening
	s.issueLocked(session)
}

func (s *SpeechCommandService) shutdownLocked(ctx context.Context) {
	s.scheduler.Cancel()
	if s.session != nil {
		s.session.cancel()
		s.session = nil
		s.metrics.SessionEnded(ctx)
	}
	s.guard.Release(ctx)
	s.state = domain.ListeningStateStopped
}

func (s *SpeechCommandService) publishLocked(ctx context.Context, cmd domain.Command) {
	if !s.bus.Publish(cmd) {
		s.logger.Warn("command not accepted by bus", "command", cmd.String())
		return
	}
	s.metrics.RecordCommand(ctx, cmd.Kind)
}
