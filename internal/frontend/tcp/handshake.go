package tcp

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/cory-johannsen/craftd/internal/session"
)

// Handshaker answers the client handshake for a fresh session.
type Handshaker interface {
	Handshake(ctx context.Context, s *session.Session) error
}

// HandshakeHandler replies to the handshake and then discards client input
// until the client hangs up, the read timeout fires, or the session is
// disconnected.
type HandshakeHandler struct {
	handshaker Handshaker
}

// NewHandshakeHandler creates a HandshakeHandler.
//
// Precondition: h must be non-nil.
func NewHandshakeHandler(h Handshaker) *HandshakeHandler {
	return &HandshakeHandler{handshaker: h}
}

// HandleSession implements SessionHandler.
//
// Postcondition: Returns nil when the client closes the connection or the
// session is closed locally, or the error that ended the session.
func (h *HandshakeHandler) HandleSession(ctx context.Context, s *session.Session, conn *Conn) error {
	if err := h.handshaker.Handshake(ctx, s); err != nil {
		return err
	}
	_, err := io.Copy(io.Discard, conn)
	if err == nil || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
