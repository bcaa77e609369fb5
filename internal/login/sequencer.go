// Package login drives a session from the handshake to a spawned player.
package login

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/cory-johannsen/craftd/internal/chunk"
	"github.com/cory-johannsen/craftd/internal/observability"
	"github.com/cory-johannsen/craftd/internal/protocol"
	"github.com/cory-johannsen/craftd/internal/session"
)

// Challenge is the connection hash sent in the handshake reply. "-" tells the
// client that no authentication server is involved.
const Challenge = "-"

// StreamRadius is the number of chunk columns streamed on each side of the
// origin, giving a (2*StreamRadius+1)^2 square.
const StreamRadius = 4

// Kick reasons sent to clients.
const (
	ReasonIncompatibleVersion = "Client version is incompatible with this server."
	ReasonInvalidPassword     = "Invalid server password."
	ReasonBanned              = "You are banned from this server."
	ReasonUnavailable         = "Login is temporarily unavailable."
	ReasonServerFull          = "The server is full."
)

var (
	// ErrIncompatibleVersion is returned when the client protocol version does not match.
	ErrIncompatibleVersion = errors.New("incompatible client version")
	// ErrInvalidPassword is returned when the server password does not match.
	ErrInvalidPassword = errors.New("invalid server password")
	// ErrBanned is returned when the username is on the access list.
	ErrBanned = errors.New("user is banned")
	// ErrEntityIDRange is returned when a session id does not fit the wire entity id.
	ErrEntityIDRange = errors.New("session id exceeds entity id range")
)

// EntityID returns the int32 entity id for a session id.
//
// Postcondition: Returns false if id is greater than math.MaxInt32.
func EntityID(id uint64) (int32, bool) {
	if id > math.MaxInt32 {
		return 0, false
	}
	return int32(id), true
}

// AccessList reports whether a username may log in.
type AccessList interface {
	// Lookup returns the ban reason and true if username is banned.
	Lookup(ctx context.Context, username string) (reason string, banned bool, err error)
}

// Credentials is the decoded login request.
type Credentials struct {
	Username        string
	Password        string
	ProtocolVersion int32
}

// World holds the values sent to every client during login.
type World struct {
	Seed      int64
	Dimension int8
	Spawn     protocol.SpawnPosition
	Position  protocol.PlayerMoveLook
}

// DefaultWorld returns the stock spawn point and starting position.
func DefaultWorld() World {
	return World{
		Spawn:    protocol.SpawnPosition{X: 32, Y: 260, Z: 32},
		Position: protocol.PlayerMoveLook{X: 0, Stance: 128.1, Y: 128.2, Z: 0},
	}
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithPasswordHash requires every login to present the password matching the
// bcrypt hash. An empty hash disables the check.
func WithPasswordHash(hash string) Option {
	return func(q *Sequencer) {
		q.passwordHash = hash
	}
}

// WithAccessList rejects logins for banned usernames.
func WithAccessList(a AccessList) Option {
	return func(q *Sequencer) {
		q.access = a
	}
}

// Sequencer runs the login state machine for sessions held in a registry.
// A Sequencer is safe for concurrent use; each session must be driven by a
// single goroutine.
type Sequencer struct {
	registry     *session.Registry
	chunks       chunk.Provider
	world        World
	passwordHash string
	access       AccessList
	logger       *zap.Logger
}

// NewSequencer creates a Sequencer.
//
// Precondition: registry, chunks and logger must be non-nil.
func NewSequencer(registry *session.Registry, chunks chunk.Provider, world World, logger *zap.Logger, opts ...Option) *Sequencer {
	q := &Sequencer{
		registry: registry,
		chunks:   chunks,
		world:    world,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Handshake answers the client handshake.
//
// Precondition: s is in StateConnected.
// Postcondition: s is in StateAwaitingCredentials, or it has been disconnected
// and an error is returned.
func (q *Sequencer) Handshake(ctx context.Context, s *session.Session) error {
	if err := ctx.Err(); err != nil {
		q.Disconnect(s)
		return err
	}
	if err := s.Advance(session.StateConnected, session.StateHandshakeSent); err != nil {
		return err
	}
	if err := protocol.Send(s, protocol.HandshakeReply{Challenge: Challenge}); err != nil {
		q.Disconnect(s)
		return fmt.Errorf("handshake: %w", err)
	}
	return s.Advance(session.StateHandshakeSent, session.StateAwaitingCredentials)
}

// Login validates creds and, on success, streams the world around the origin
// and spawns the player.
//
// Precondition: s is in StateAwaitingCredentials.
// Postcondition: s is in StateSpawned and nil is returned, or s has been
// disconnected and an error is returned. Rejected logins receive exactly one
// Disconnect packet before the sink is closed.
func (q *Sequencer) Login(ctx context.Context, s *session.Session, creds Credentials) error {
	if st := s.State(); st != session.StateAwaitingCredentials {
		return fmt.Errorf("session %d: %w: in %s", s.ID(), session.ErrUnexpectedState, st)
	}
	logger := q.logger.With(observability.SessionFields(s.ID(), creds.Username)...)

	if creds.ProtocolVersion != protocol.Version {
		logger.Info("rejecting client version",
			zap.Int32("client_version", creds.ProtocolVersion),
			zap.Int32("server_version", protocol.Version),
		)
		q.Kick(s, ReasonIncompatibleVersion)
		return fmt.Errorf("%w: client %d, server %d", ErrIncompatibleVersion, creds.ProtocolVersion, protocol.Version)
	}

	if q.passwordHash != "" {
		if !CheckPassword(creds.Password, q.passwordHash) {
			logger.Info("rejecting server password")
			q.Kick(s, ReasonInvalidPassword)
			return ErrInvalidPassword
		}
	}

	if q.access != nil {
		reason, banned, err := q.access.Lookup(ctx, creds.Username)
		if err != nil {
			logger.Error("access list lookup failed", zap.Error(err))
			q.Kick(s, ReasonUnavailable)
			return fmt.Errorf("checking access list: %w", err)
		}
		if banned {
			if reason == "" {
				reason = ReasonBanned
			}
			logger.Info("rejecting banned user", zap.String("reason", reason))
			q.Kick(s, reason)
			return fmt.Errorf("%w: %s", ErrBanned, creds.Username)
		}
	}

	entityID, ok := EntityID(s.ID())
	if !ok {
		logger.Error("session id outside entity id range")
		q.Kick(s, ReasonServerFull)
		return fmt.Errorf("session %d: %w", s.ID(), ErrEntityIDRange)
	}

	if err := s.Advance(session.StateAwaitingCredentials, session.StateVersionChecked); err != nil {
		return err
	}
	s.SetName(creds.Username)

	err := protocol.Send(s, protocol.LoginResponse{
		EntityID:  entityID,
		Seed:      q.world.Seed,
		Dimension: q.world.Dimension,
	})
	if err != nil {
		q.Disconnect(s)
		return fmt.Errorf("login response: %w", err)
	}

	if err := q.streamWorld(ctx, s); err != nil {
		logger.Warn("world streaming aborted", zap.Error(err))
		q.Disconnect(s)
		return err
	}

	if err := q.spawn(s); err != nil {
		q.Disconnect(s)
		return err
	}

	logger.Info("player spawned")
	return nil
}

func (q *Sequencer) streamWorld(ctx context.Context, s *session.Session) error {
	if err := s.Advance(session.StateVersionChecked, session.StateWorldStreaming); err != nil {
		return err
	}
	if err := protocol.Send(s, protocol.PreChunk{X: -1, Z: -1, Load: true}); err != nil {
		return fmt.Errorf("streaming world: %w", err)
	}

	for i := int32(-StreamRadius); i <= StreamRadius; i++ {
		for j := int32(-StreamRadius); j <= StreamRadius; j++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := chunk.Column(i, j)
			data, err := q.chunks.Compressed(ctx, key)
			if err != nil {
				return fmt.Errorf("loading chunk (%d, %d): %w", i, j, err)
			}
			if err := protocol.Send(s, protocol.PreChunk{X: i, Z: j, Load: true}); err != nil {
				return fmt.Errorf("streaming chunk (%d, %d): %w", i, j, err)
			}
			err = protocol.Send(s, protocol.MapChunk{
				X: key.X, Y: key.Y, Z: key.Z,
				SizeX: key.SizeX, SizeY: key.SizeY, SizeZ: key.SizeZ,
				Data: data,
			})
			if err != nil {
				return fmt.Errorf("streaming chunk (%d, %d): %w", i, j, err)
			}
		}
	}
	return nil
}

func (q *Sequencer) spawn(s *session.Session) error {
	if err := protocol.Send(s, q.world.Spawn); err != nil {
		return fmt.Errorf("spawn position: %w", err)
	}
	pos := q.world.Position
	pos.Yaw, pos.Pitch, pos.OnGround = 0, 0, false
	if err := protocol.Send(s, pos); err != nil {
		return fmt.Errorf("player position: %w", err)
	}
	return s.Advance(session.StateWorldStreaming, session.StateSpawned)
}

// Kick sends a Disconnect packet carrying reason and then disconnects s.
// A failure to send the packet is logged and otherwise ignored.
func (q *Sequencer) Kick(s *session.Session, reason string) {
	if err := protocol.Send(s, protocol.Disconnect{Reason: reason}); err != nil {
		q.logger.Debug("kick packet not delivered",
			append(observability.SessionFields(s.ID(), s.Name()), zap.Error(err))...,
		)
	}
	q.Disconnect(s)
}

// Disconnect removes s from the registry and closes its sink.
//
// Postcondition: s is in StateDisconnected. Calling Disconnect again has no effect.
func (q *Sequencer) Disconnect(s *session.Session) {
	if !s.MarkDisconnected() {
		return
	}
	if err := q.registry.Remove(s); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		q.logger.Warn("removing session", zap.Error(err))
	}
	if err := s.Close(); err != nil {
		q.logger.Debug("closing session sink", zap.Error(err))
	}
	q.logger.Info("session disconnected", observability.SessionFields(s.ID(), s.Name())...)
}
