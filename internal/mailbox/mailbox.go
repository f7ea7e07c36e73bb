// Package mailbox moves values between goroutines that must not call into
// each other directly: the transport dispatcher, engine workers and the room
// hub. Any goroutine may send; exactly one goroutine owns the receive side.
package mailbox

import (
	"errors"
	"sync"
)

var (
	ErrClosed = errors.New("mailbox closed")
	ErrFull   = errors.New("mailbox full")
)

type Mailbox[T any] struct {
	mu     sync.RWMutex
	ch     chan T
	closed bool
}

func New[T any](size int) *Mailbox[T] {
	if size < 1 {
		size = 1
	}
	return &Mailbox[T]{ch: make(chan T, size)}
}

// TrySend never blocks. It is safe to call concurrently with Close.
func (m *Mailbox[T]) TrySend(v T) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	select {
	case m.ch <- v:
		return nil
	default:
		return ErrFull
	}
}

// Send blocks until there is room or done is closed. Close waits for blocked
// senders, so done must be tied to the consumer's lifetime.
func (m *Mailbox[T]) Send(v T, done <-chan struct{}) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	select {
	case m.ch <- v:
		return nil
	case <-done:
		return ErrClosed
	}
}

// Receive is for the owning goroutine only. The channel is closed after Close
// once buffered values are drained.
func (m *Mailbox[T]) Receive() <-chan T {
	return m.ch
}

// Close is idempotent.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.ch)
}

func (m *Mailbox[T]) Len() int {
	return len(m.ch)
}
