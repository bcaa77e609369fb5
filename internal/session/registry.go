package session

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrDuplicateSession is returned when a session identity is inserted twice.
	ErrDuplicateSession = errors.New("session already registered")
	// ErrSessionNotFound is returned when removing a session that is not registered.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRegistryClosed is returned by Insert after Close.
	ErrRegistryClosed = errors.New("registry closed")
)

// Registry tracks all connected sessions.
// Insert and Remove take the exclusive lock; ForEach holds the shared lock for
// its whole iteration, so snapshots may overlap each other but never a
// membership change. All methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uint64]*Session
	closed   bool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[uint64]*Session),
	}
}

// Insert registers s.
//
// Precondition: s must be non-nil.
// Postcondition: s is visible to ForEach, or ErrDuplicateSession /
// ErrRegistryClosed is returned.
func (r *Registry) Insert(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	if _, exists := r.sessions[s.ID()]; exists {
		return fmt.Errorf("session %d: %w", s.ID(), ErrDuplicateSession)
	}
	r.sessions[s.ID()] = s
	return nil
}

// Remove unregisters s.
//
// Postcondition: s is no longer visible to ForEach. Returns ErrSessionNotFound
// if it was not registered; callers treat that as benign.
func (r *Registry) Remove(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, exists := r.sessions[s.ID()]
	if !exists || cur != s {
		return fmt.Errorf("session %d: %w", s.ID(), ErrSessionNotFound)
	}
	delete(r.sessions, s.ID())
	return nil
}

// ForEach calls visit once for every session registered when the shared lock
// was acquired. Iteration order is unspecified.
//
// Precondition: visit must not call Insert, Remove or Close on this registry.
// It may use the visited session's own methods.
func (r *Registry) ForEach(visit func(*Session)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		visit(s)
	}
}

// Get returns the session with the given identity.
//
// Postcondition: Returns (session, true) if found, or (nil, false) otherwise.
func (r *Registry) Get(id uint64) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close tears the registry down: every session is removed, marked
// disconnected and closed, and later inserts fail. Sessions are closed after
// the registry lock is released.
//
// Postcondition: Returns the number of sessions that were closed.
func (r *Registry) Close() int {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.MarkDisconnected()
		_ = s.Close()
	}
	return len(sessions)
}
