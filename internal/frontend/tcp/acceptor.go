// Package tcp accepts game protocol connections and binds each one to a session.
package tcp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/craftd/internal/config"
	"github.com/cory-johannsen/craftd/internal/observability"
	"github.com/cory-johannsen/craftd/internal/session"
)

// SessionHandler drives a registered session over its connection.
// HandleSession returns when the client is done or the context is cancelled.
type SessionHandler interface {
	HandleSession(ctx context.Context, s *session.Session, conn *Conn) error
}

// Disconnector tears a session down: registry removal and sink close.
type Disconnector interface {
	Disconnect(s *session.Session)
}

// Acceptor listens for game connections on a TCP port, registers a session
// for each one and dispatches it to a SessionHandler.
type Acceptor struct {
	cfg          config.ListenerConfig
	registry     *session.Registry
	handler      SessionHandler
	disconnector Disconnector
	logger       *zap.Logger

	nextID atomic.Uint64

	listener  net.Listener
	wg        sync.WaitGroup
	quit      chan struct{}
	ready     chan struct{}
	readyOnce sync.Once
	mu        sync.Mutex
	running   bool
	stopped   bool
}

// NewAcceptor creates an acceptor with the given configuration.
//
// Precondition: cfg must have a valid port; registry, handler, disconnector and logger must be non-nil.
// Postcondition: Returns an Acceptor ready to be started with ListenAndServe.
func NewAcceptor(cfg config.ListenerConfig, registry *session.Registry, handler SessionHandler, disconnector Disconnector, logger *zap.Logger) *Acceptor {
	return &Acceptor{
		cfg:          cfg,
		registry:     registry,
		handler:      handler,
		disconnector: disconnector,
		logger:       logger,
		quit:         make(chan struct{}),
		ready:        make(chan struct{}),
	}
}

// Ready is closed once the listener is bound and accepting.
func (a *Acceptor) Ready() <-chan struct{} {
	return a.ready
}

// ListenAndServe starts the TCP listener and accepts connections until Stop is called.
// This method blocks until the acceptor is stopped.
//
// Precondition: The acceptor must not already be running.
// Postcondition: The listener is closed when this method returns.
func (a *Acceptor) ListenAndServe() error {
	start := time.Now()

	listener, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.Addr(), err)
	}

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		listener.Close()
		return nil
	}
	a.listener = listener
	a.running = true
	a.mu.Unlock()
	a.readyOnce.Do(func() { close(a.ready) })

	a.logger.Info("game acceptor listening",
		zap.String("addr", listener.Addr().String()),
		zap.Duration("startup", time.Since(start)),
	)

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-a.quit:
				return nil
			default:
				a.logger.Error("accepting connection", zap.Error(err))
				continue
			}
		}

		a.wg.Add(1)
		go a.handleConn(conn)
	}
}

// handleConn runs one client from registration to teardown.
func (a *Acceptor) handleConn(raw net.Conn) {
	defer a.wg.Done()
	start := time.Now()

	id := a.nextID.Add(1)
	logger := a.logger.With(
		zap.String("conn_id", uuid.NewString()),
		zap.String("remote_addr", raw.RemoteAddr().String()),
	).With(observability.SessionFields(id, "")...)

	conn := NewConn(raw, a.cfg.ReadTimeout, a.cfg.WriteTimeout, a.cfg.QueueSize)
	s := session.New(id, conn.Queue())
	if err := a.registry.Insert(s); err != nil {
		logger.Warn("rejecting connection", zap.Error(err))
		_ = conn.Close()
		return
	}
	logger.Info("client connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-a.quit:
			cancel()
			a.disconnector.Disconnect(s)
		case <-conn.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	err := a.handler.HandleSession(ctx, s, conn)
	a.disconnector.Disconnect(s)
	if werr := conn.Close(); werr != nil {
		logger.Debug("flushing connection", zap.Error(werr))
	}

	if err != nil {
		logger.Debug("session ended",
			zap.String("username", s.Name()),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return
	}
	logger.Info("session ended cleanly",
		zap.String("username", s.Name()),
		zap.Duration("duration", time.Since(start)),
	)
}

// Stop closes the listener, disconnects every active session and waits for
// their goroutines to finish. A Stop that precedes ListenAndServe makes it
// return immediately.
//
// Postcondition: All connections are closed and goroutines have exited.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return
	}
	a.stopped = true
	a.running = false

	close(a.quit)
	if a.listener != nil {
		a.listener.Close()
	}
	a.wg.Wait()

	a.logger.Info("game acceptor stopped")
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the acceptor is currently accepting connections.
func (a *Acceptor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}
