package session

import (
	"errors"
	"sync"
)

var (
	// ErrQueueClosed is returned by Send after the queue has been closed.
	ErrQueueClosed = errors.New("output queue closed")
	// ErrQueueFull is returned by TrySend when no buffer space is free.
	ErrQueueFull = errors.New("output queue full")
)

// Queue is a bounded outbound packet queue for one connection. A single
// writer goroutine drains Events and writes to the socket, so producers on
// any goroutine never interleave partial packets.
type Queue struct {
	events chan []byte
	done   chan struct{}
	once   sync.Once
}

// NewQueue creates a Queue holding up to size packets.
//
// Postcondition: Returns an open Queue. A non-positive size defaults to 64.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 64
	}
	return &Queue{
		events: make(chan []byte, size),
		done:   make(chan struct{}),
	}
}

// Send enqueues data, blocking while the queue is full.
//
// Postcondition: data is enqueued, or ErrQueueClosed is returned if the queue
// is closed before space frees up.
func (q *Queue) Send(data []byte) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.events <- data:
		return nil
	case <-q.done:
		return ErrQueueClosed
	}
}

// TrySend enqueues data without blocking.
//
// Postcondition: data is enqueued, or ErrQueueClosed / ErrQueueFull is
// returned and nothing is enqueued.
func (q *Queue) TrySend(data []byte) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.events <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

// Events returns the read side of the queue for the writer goroutine.
func (q *Queue) Events() <-chan []byte {
	return q.events
}

// Done is closed when the queue is closed.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Close stops the queue. It is safe to call more than once.
//
// Postcondition: Further Send calls return ErrQueueClosed. Packets already
// enqueued remain readable from Events.
func (q *Queue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}

// IsClosed reports whether the queue has been closed.
func (q *Queue) IsClosed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}
