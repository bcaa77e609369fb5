// Package chat relays chat lines between logged-in players.
package chat

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/cory-johannsen/craftd/internal/observability"
	"github.com/cory-johannsen/craftd/internal/protocol"
	"github.com/cory-johannsen/craftd/internal/session"
)

// CommandPrefix marks a chat line as a command rather than a message.
const CommandPrefix = "/"

// Disconnector removes a session whose sink has failed.
type Disconnector interface {
	Disconnect(s *session.Session)
}

// Broadcaster formats chat lines and fans them out to every registered session.
type Broadcaster struct {
	registry     *session.Registry
	disconnector Disconnector
	logger       *zap.Logger
}

// NewBroadcaster creates a Broadcaster.
//
// Precondition: registry, disconnector and logger must be non-nil.
func NewBroadcaster(registry *session.Registry, disconnector Disconnector, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		registry:     registry,
		disconnector: disconnector,
		logger:       logger,
	}
}

// Format builds the broadcast line "<name> message".
func Format(name, message string) string {
	var b strings.Builder
	b.Grow(len(name) + len(message) + 3)
	b.WriteByte('<')
	b.WriteString(name)
	b.WriteString("> ")
	b.WriteString(message)
	return b.String()
}

// Broadcast delivers message from sender.
//
// Lines starting with CommandPrefix are echoed unformatted to the sender only.
// Every other line is formatted with the sender's name and sent to all
// registered sessions, sender included. Delivery inside the registry snapshot
// never blocks: recipients whose queue is full or closed are disconnected
// once the snapshot has been released.
//
// Postcondition: Returns an error only if the line cannot be encoded.
func (b *Broadcaster) Broadcast(ctx context.Context, sender *session.Session, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fields := observability.SessionFields(sender.ID(), sender.Name())

	if strings.HasPrefix(message, CommandPrefix) {
		b.logger.Info("chat command", append(fields, zap.String("command", message))...)
		data, err := protocol.Encode(protocol.Chat{Message: message})
		if err != nil {
			return err
		}
		if err := sender.Send(data); err != nil {
			b.logger.Debug("command echo failed", append(fields, zap.Error(err))...)
			b.disconnector.Disconnect(sender)
		}
		return nil
	}

	line := Format(sender.Name(), message)
	data, err := protocol.Encode(protocol.Chat{Message: line})
	if err != nil {
		return err
	}
	b.logger.Info("chat", append(fields, zap.String("line", line))...)

	var failed []*session.Session
	b.registry.ForEach(func(s *session.Session) {
		if err := s.TrySend(data); err != nil {
			failed = append(failed, s)
		}
	})
	b.dropFailed(failed)
	return nil
}

// Announce sends a server message, unformatted, to every registered session.
// Recipients whose queue is full or closed are disconnected.
//
// Postcondition: Returns the number of sessions that received the message,
// or an error if it cannot be encoded.
func (b *Broadcaster) Announce(message string) (int, error) {
	data, err := protocol.Encode(protocol.Chat{Message: message})
	if err != nil {
		return 0, err
	}
	b.logger.Info("announcement", zap.String("line", message))

	delivered := 0
	var failed []*session.Session
	b.registry.ForEach(func(s *session.Session) {
		if err := s.TrySend(data); err != nil {
			failed = append(failed, s)
			return
		}
		delivered++
	})
	b.dropFailed(failed)
	return delivered, nil
}

// dropFailed disconnects recipients that could not take a packet.
// Precondition: the registry snapshot has been released.
func (b *Broadcaster) dropFailed(failed []*session.Session) {
	for _, s := range failed {
		b.logger.Info("dropping unresponsive client", observability.SessionFields(s.ID(), s.Name())...)
		b.disconnector.Disconnect(s)
	}
}
