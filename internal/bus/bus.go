// Package bus carries commands from the listener to the foreground consumer.
//
// Publishing only appends to an in-order queue; a single dispatcher goroutine
// delivers queued commands one at a time to whichever consumer is registered
// at delivery time. The listener therefore never waits on consumer work, and
// the consumer never runs on the listener's goroutines.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"cookvoice/internal/domain"
	"cookvoice/internal/ports"
)

var (
	ErrClosed             = errors.New("command bus is closed")
	ErrConsumerRegistered = errors.New("another consumer is already registered")
)

// Bus is a single-consumer, ordered, asynchronous command channel.
type Bus struct {
	logger *slog.Logger

	mu       sync.Mutex
	consumer ports.CommandConsumer
	queue    []domain.Command
	closed   bool
	// delivering is set while the dispatcher runs a consumer outside mu.
	delivering bool
	flushers   []chan struct{}

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// New starts the dispatcher. Call Close to stop it.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	b.wg.Add(1)
	go b.dispatch()
	return b
}

// Register attaches the consumer, which must be comparable (a pointer, in
// practice). Commands published while no consumer was attached were never
// accepted; commands still queued for a previous consumer go to the new one.
func (b *Bus) Register(consumer ports.CommandConsumer) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.consumer != nil && b.consumer != consumer {
		return ErrConsumerRegistered
	}
	b.consumer = consumer
	b.signal()
	return nil
}

// Unregister detaches consumer if it is the registered one. A delivery that
// is already running is not interrupted.
func (b *Bus) Unregister(consumer ports.CommandConsumer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.consumer == consumer {
		b.consumer = nil
	}
}

// Publish queues cmd for delivery and reports whether it was accepted. It
// never blocks on the consumer. Commands are rejected when the bus is closed
// or nobody is listening.
func (b *Bus) Publish(cmd domain.Command) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.consumer == nil {
		b.logger.Debug("command dropped before acceptance", "command", cmd.String(), "closed", b.closed)
		return false
	}
	b.queue = append(b.queue, cmd)
	b.signal()
	return true
}

// Pending reports the number of accepted but undelivered commands.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Flush waits until every accepted command has been delivered or ctx ends.
// Commands queued while no consumer is registered keep Flush waiting.
func (b *Bus) Flush(ctx context.Context) error {
	b.mu.Lock()
	if b.idleLocked() {
		b.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	b.flushers = append(b.flushers, ch)
	b.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close delivers what is still queued to the registered consumer and stops
// the dispatcher. Commands left without a consumer are discarded and logged.
// It is safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()
	b.wg.Wait()

	b.mu.Lock()
	discarded := b.queue
	b.queue = nil
	b.releaseFlushersLocked()
	b.mu.Unlock()
	if len(discarded) > 0 {
		b.logger.Warn("discarding undelivered commands", "discarded", len(discarded), "next", discarded[0].String())
	}
}

func (b *Bus) idleLocked() bool {
	return len(b.queue) == 0 && !b.delivering
}

func (b *Bus) releaseFlushersLocked() {
	if !b.idleLocked() {
		return
	}
	for _, ch := range b.flushers {
		close(ch)
	}
	b.flushers = nil
}

// signal must be called with b.mu held.
func (b *Bus) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bus) dispatch() {
	defer b.wg.Done()
	for {
		select {
		case <-b.wake:
			b.drain()
		case <-b.done:
			b.drain()
			return
		}
	}
}

func (b *Bus) drain() {
	for {
		b.mu.Lock()
		if b.consumer == nil || len(b.queue) == 0 {
			b.releaseFlushersLocked()
			b.mu.Unlock()
			return
		}
		consumer := b.consumer
		cmd := b.queue[0]
		b.queue[0] = domain.Command{}
		b.queue = b.queue[1:]
		b.delivering = true
		b.mu.Unlock()

		b.deliver(consumer, cmd)

		b.mu.Lock()
		b.delivering = false
		b.mu.Unlock()
	}
}

func (b *Bus) deliver(consumer ports.CommandConsumer, cmd domain.Command) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("command consumer panicked", "command", cmd.String(), "panic", r)
		}
	}()
	consumer.HandleCommand(cmd)
}
