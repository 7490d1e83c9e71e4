package deepgram

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"cookvoice/internal/domain"
)

var (
	closeStreamFrame = []byte(`{"type":"CloseStream"}`)
	keepAliveFrame   = []byte(`{"type":"KeepAlive"}`)

	errSendClosed = errors.New("audio stream is already closed")
)

// listenSession is one live listen socket. A reader goroutine turns provider
// messages into transcript events and a writer goroutine owns every write on
// the connection. The session finishes once the reader stops.
type listenSession struct {
	conn      *websocket.Conn
	keepAlive time.Duration

	events   chan domain.TranscriptEvent
	frames   chan []byte
	readDone chan struct{}
	finished chan struct{}

	sendMu   sync.Mutex
	sendDone bool

	failMu  sync.Mutex
	failure error

	closeOnce sync.Once
}

func newListenSession(conn *websocket.Conn, keepAlive time.Duration) *listenSession {
	s := &listenSession{
		conn:      conn,
		keepAlive: keepAlive,
		events:    make(chan domain.TranscriptEvent, 64),
		frames:    make(chan []byte, 32),
		readDone:  make(chan struct{}),
		finished:  make(chan struct{}),
	}

	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		defer close(s.readDone)
		s.read()
	}()
	go func() {
		defer loops.Done()
		s.write()
	}()
	go func() {
		loops.Wait()
		close(s.events)
		close(s.finished)
		_ = conn.Close()
	}()
	return s
}

func (s *listenSession) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.sendDone {
		return errSendClosed
	}

	frame := append([]byte(nil), chunk...)
	select {
	case s.frames <- frame:
		return nil
	case <-s.finished:
		if err := s.err(); err != nil {
			return err
		}
		return errors.New("session closed")
	}
}

// CloseSend asks Deepgram to flush and close the stream. It is idempotent.
func (s *listenSession) CloseSend() error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if !s.sendDone {
		s.sendDone = true
		close(s.frames)
	}
	return nil
}

func (s *listenSession) Events() <-chan domain.TranscriptEvent {
	return s.events
}

func (s *listenSession) Wait() error {
	<-s.finished
	return s.err()
}

func (s *listenSession) Close() error {
	s.closeOnce.Do(func() {
		_ = s.CloseSend()
		_ = s.conn.Close()
	})
	<-s.finished
	return s.err()
}

func (s *listenSession) err() error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	return s.failure
}

// fail records the first non-close error of the session.
func (s *listenSession) fail(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	s.failMu.Lock()
	defer s.failMu.Unlock()
	if s.failure == nil {
		s.failure = err
	}
}

func (s *listenSession) write() {
	var tick <-chan time.Time
	if s.keepAlive > 0 {
		ticker := time.NewTicker(s.keepAlive)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case frame, ok := <-s.frames:
			if !ok {
				if err := s.conn.WriteMessage(websocket.TextMessage, closeStreamFrame); err != nil {
					s.fail(domain.NewRecognitionError(domain.RecognitionErrorNetwork, fmt.Errorf("close stream: %w", err)))
				}
				return
			}
			if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				s.fail(domain.NewRecognitionError(domain.RecognitionErrorNetwork, fmt.Errorf("send audio: %w", err)))
				return
			}
		case <-tick:
			if err := s.conn.WriteMessage(websocket.TextMessage, keepAliveFrame); err != nil {
				s.fail(domain.NewRecognitionError(domain.RecognitionErrorNetwork, fmt.Errorf("keepalive: %w", err)))
				return
			}
		case <-s.readDone:
			return
		}
	}
}

func (s *listenSession) read() {
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(domain.NewRecognitionError(domain.RecognitionErrorNetwork, fmt.Errorf("read provider event: %w", err)))
			return
		}

		event, ok, providerErr := decodeMessage(payload)
		if providerErr != nil {
			s.fail(providerErr)
		}
		if ok {
			s.publish(event)
		}
		if providerErr != nil {
			return
		}
	}
}

// publish never blocks the reader; events beyond the buffer are dropped.
func (s *listenSession) publish(event domain.TranscriptEvent) {
	select {
	case s.events <- event:
	case <-s.finished:
	default:
	}
}
