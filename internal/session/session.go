// Package session tracks connected clients and the registry they live in.
package session

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/cory-johannsen/craftd/internal/protocol"
)

// State is a session's position in the login sequence.
type State int

const (
	StateConnected State = iota
	StateHandshakeSent
	StateAwaitingCredentials
	StateVersionChecked
	StateWorldStreaming
	StateSpawned
	StateDisconnected
)

var stateNames = [...]string{
	StateConnected:           "connected",
	StateHandshakeSent:       "handshake_sent",
	StateAwaitingCredentials: "awaiting_credentials",
	StateVersionChecked:      "version_checked",
	StateWorldStreaming:      "world_streaming",
	StateSpawned:             "spawned",
	StateDisconnected:        "disconnected",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// ErrUnexpectedState is returned when a transition is attempted from the wrong state.
var ErrUnexpectedState = errors.New("unexpected session state")

// Session is the server-side state of one connected client.
// The identity and sink are fixed at creation; the display name and state are
// guarded by the session's own lock.
type Session struct {
	id   uint64
	sink protocol.Sink

	mu    sync.RWMutex
	name  string
	state State

	closeOnce sync.Once
}

// New creates a session in StateConnected.
//
// Precondition: sink must be non-nil.
func New(id uint64, sink protocol.Sink) *Session {
	return &Session{id: id, sink: sink, state: StateConnected}
}

// ID returns the session's immutable identity.
func (s *Session) ID() uint64 {
	return s.id
}

// Name returns the display name, empty until login completes.
func (s *Session) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

// SetName sets the display name under the session lock.
func (s *Session) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
}

// State returns the current login state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Advance moves the session from one state to the next.
//
// Postcondition: Returns ErrUnexpectedState, leaving the state unchanged, if
// the session is not currently in from.
func (s *Session) Advance(from, to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return fmt.Errorf("session %d: %w: in %s, want %s", s.id, ErrUnexpectedState, s.state, from)
	}
	s.state = to
	return nil
}

// MarkDisconnected moves the session to StateDisconnected.
//
// Postcondition: Returns true only for the call that performed the transition.
func (s *Session) MarkDisconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return false
	}
	s.state = StateDisconnected
	return true
}

// Send writes one encoded packet to the session's sink.
func (s *Session) Send(data []byte) error {
	return s.sink.Send(data)
}

// TrySender is a Sink that can refuse a packet instead of blocking.
type TrySender interface {
	TrySend(data []byte) error
}

// TrySend writes one encoded packet without blocking. Sinks that do not
// implement TrySender are written with Send.
//
// Postcondition: Returns ErrQueueFull if the sink has no room for data.
func (s *Session) TrySend(data []byte) error {
	if ts, ok := s.sink.(TrySender); ok {
		return ts.TrySend(data)
	}
	return s.sink.Send(data)
}

// Close closes the sink if it supports closing. Only the first call has effect.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if c, ok := s.sink.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}
