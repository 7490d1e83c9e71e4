package recognition

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"cookvoice/internal/domain"
	"cookvoice/internal/ports"
)

func TestRecognizeReturnsUtteranceOnSpeechFinal(t *testing.T) {
	t.Parallel()

	audio := newFakeAudioSession([]byte("pcm"))
	stream := newFakeStream(
		domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: "다음"},
		domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "다음 단계", IsSpeechFinal: true},
	)
	r := newTestRecognizer(&fakeCapture{session: audio}, &fakeProvider{session: stream}, time.Second)

	text, err := r.Recognize(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "다음 단계" {
		t.Fatalf("unexpected text: %q", text)
	}
	if !audio.stopped() {
		t.Fatalf("expected capture to be stopped after the request")
	}
	if stream.closes() != 1 {
		t.Fatalf("expected the stream closed before Recognize returns, got %d closes", stream.closes())
	}
}

func TestRecognizeStreamEndWithoutSpeechIsNoMatch(t *testing.T) {
	t.Parallel()

	stream := newFakeStream()
	stream.end()
	r := newTestRecognizer(&fakeCapture{session: newFakeAudioSession()}, &fakeProvider{session: stream}, time.Second)

	_, err := r.Recognize(context.Background())
	assertCode(t, err, domain.RecognitionErrorNoMatch)
}

func TestRecognizeStreamFailureIsReturned(t *testing.T) {
	t.Parallel()

	stream := newFakeStream()
	stream.waitErr = domain.NewRecognitionError(domain.RecognitionErrorServer, errors.New("quota exceeded"))
	stream.end()
	r := newTestRecognizer(&fakeCapture{session: newFakeAudioSession()}, &fakeProvider{session: stream}, time.Second)

	_, err := r.Recognize(context.Background())
	assertCode(t, err, domain.RecognitionErrorServer)
}

func TestRecognizeSilenceTimesOut(t *testing.T) {
	t.Parallel()

	r := newTestRecognizer(&fakeCapture{session: newFakeAudioSession()}, &fakeProvider{session: newFakeStream()}, 20*time.Millisecond)

	_, err := r.Recognize(context.Background())
	assertCode(t, err, domain.RecognitionErrorSpeechTimeout)
}

func TestRecognizeTimeoutAfterPartialReturnsPartial(t *testing.T) {
	t.Parallel()

	stream := newFakeStream(domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: "타이머 시작"})
	r := newTestRecognizer(&fakeCapture{session: newFakeAudioSession()}, &fakeProvider{session: stream}, 20*time.Millisecond)

	text, err := r.Recognize(context.Background())
	if err != nil || text != "타이머 시작" {
		t.Fatalf("Recognize = %q, %v; want partial text", text, err)
	}
}

func TestRecognizeCancelledReturnsContextError(t *testing.T) {
	t.Parallel()

	stream := newFakeStream()
	r := newTestRecognizer(&fakeCapture{session: newFakeAudioSession()}, &fakeProvider{session: stream}, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := r.Recognize(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if stream.closes() == 0 {
		t.Fatalf("expected the abandoned stream closed before Recognize returns")
	}
}

func TestRecognizeCaptureFailurePassesThrough(t *testing.T) {
	t.Parallel()

	captureErr := domain.NewRecognitionError(domain.RecognitionErrorPermissionMissing, domain.ErrPermissionDenied)
	provider := &fakeProvider{session: newFakeStream()}
	r := newTestRecognizer(&fakeCapture{err: captureErr}, provider, time.Second)

	_, err := r.Recognize(context.Background())
	assertCode(t, err, domain.RecognitionErrorPermissionMissing)
	if provider.calls != 0 {
		t.Fatalf("provider must not start when capture fails")
	}
}

func TestRecognizeProviderFailureStopsCapture(t *testing.T) {
	t.Parallel()

	audio := newFakeAudioSession()
	providerErr := domain.NewRecognitionError(domain.RecognitionErrorNetwork, errors.New("dial failed"))
	r := newTestRecognizer(&fakeCapture{session: audio}, &fakeProvider{err: providerErr}, time.Second)

	_, err := r.Recognize(context.Background())
	assertCode(t, err, domain.RecognitionErrorNetwork)
	if !audio.stopped() {
		t.Fatalf("expected capture to be stopped")
	}
}

func newTestRecognizer(capture ports.AudioCapture, provider ports.TranscriptionProvider, timeout time.Duration) *StreamingRecognizer {
	return NewStreamingRecognizer(capture, provider, Config{
		UtteranceTimeout: timeout,
		StreamingGrace:   10 * time.Millisecond,
	}, nil)
}

func assertCode(t *testing.T, err error, want domain.RecognitionErrorCode) {
	t.Helper()
	var recognitionErr *domain.RecognitionError
	if !errors.As(err, &recognitionErr) || recognitionErr.Code != want {
		t.Fatalf("expected %s recognition error, got %v", want, err)
	}
}

type fakeCapture struct {
	session ports.AudioSession
	err     error
}

func (f *fakeCapture) Start(_ context.Context, _ ports.AudioConfig) (ports.AudioSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

type fakeProvider struct {
	session ports.StreamingSession
	err     error
	calls   int
}

func (f *fakeProvider) StartStreaming(_ context.Context, _ ports.StreamingConfig) (ports.StreamingSession, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

// fakeAudioSession returns its chunks, then blocks until stopped.
type fakeAudioSession struct {
	mu      sync.Mutex
	chunks  [][]byte
	readErr error
	done    chan struct{}
	once    sync.Once
}

func newFakeAudioSession(chunks ...[]byte) *fakeAudioSession {
	return &fakeAudioSession{chunks: chunks, done: make(chan struct{})}
}

func (f *fakeAudioSession) Read(p []byte) (int, error) {
	f.mu.Lock()
	if len(f.chunks) > 0 {
		n := copy(p, f.chunks[0])
		f.chunks = f.chunks[1:]
		f.mu.Unlock()
		return n, nil
	}
	readErr := f.readErr
	f.mu.Unlock()

	if readErr != nil {
		return 0, readErr
	}
	<-f.done
	return 0, io.EOF
}

func (f *fakeAudioSession) Stop() error {
	f.once.Do(func() { close(f.done) })
	return nil
}

func (f *fakeAudioSession) Close() error {
	return f.Stop()
}

func (f *fakeAudioSession) stopped() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

type fakeStream struct {
	mu         sync.Mutex
	events     chan domain.TranscriptEvent
	sent       []string
	sendErr    error
	waitErr    error
	closeCalls int
	done       chan struct{}
	once       sync.Once
}

func newFakeStream(events ...domain.TranscriptEvent) *fakeStream {
	ch := make(chan domain.TranscriptEvent, 16)
	for _, event := range events {
		ch <- event
	}
	return &fakeStream{events: ch, done: make(chan struct{})}
}

func (s *fakeStream) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, string(chunk))
	return nil
}

func (s *fakeStream) CloseSend() error { return nil }

func (s *fakeStream) Events() <-chan domain.TranscriptEvent { return s.events }

func (s *fakeStream) Wait() error {
	<-s.done
	return s.waitErr
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closeCalls++
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
	return s.waitErr
}

// end simulates the provider finishing the stream.
func (s *fakeStream) end() {
	close(s.events)
	s.once.Do(func() { close(s.done) })
}

func (s *fakeStream) sentBytes() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.sent, "")
}

func (s *fakeStream) closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}
