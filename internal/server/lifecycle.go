// Package server provides application lifecycle management including
// graceful startup and shutdown with signal handling, and the gRPC health
// endpoint that reports it.
package server

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Service represents a long-running component that can be started and stopped.
type Service interface {
	// Start begins the service. It should block until the service is stopped
	// or an error occurs.
	Start() error
	// Stop gracefully stops the service.
	Stop()
}

// ReadySignaler is a Service that reports when it is able to serve, such as
// once its listener is bound. Readiness waits for every ReadySignaler.
type ReadySignaler interface {
	Ready() <-chan struct{}
}

// FuncService adapts a start/stop function pair into the Service interface.
// ReadyFn is optional; without it the service counts as ready once started.
type FuncService struct {
	StartFn func() error
	StopFn  func()
	ReadyFn func() <-chan struct{}
}

// Start calls the underlying start function.
func (f *FuncService) Start() error { return f.StartFn() }

// Stop calls the underlying stop function.
func (f *FuncService) Stop() { f.StopFn() }

var alreadyReady = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Ready implements ReadySignaler.
func (f *FuncService) Ready() <-chan struct{} {
	if f.ReadyFn == nil {
		return alreadyReady
	}
	return f.ReadyFn()
}

// Readiness receives the serving state: true once every ReadySignaler has
// signalled, false as soon as shutdown begins.
type Readiness interface {
	SetServing(serving bool)
}

// Lifecycle manages the startup and shutdown of multiple services.
// Services are started in order and stopped in reverse order.
type Lifecycle struct {
	logger    *zap.Logger
	services  []namedService
	readiness []Readiness
	mu        sync.Mutex
}

type namedService struct {
	name    string
	service Service
}

// NewLifecycle creates a new Lifecycle manager.
//
// Precondition: logger must be non-nil.
func NewLifecycle(logger *zap.Logger) *Lifecycle {
	return &Lifecycle{
		logger: logger,
	}
}

// Add registers a named service for lifecycle management.
// Services are started in the order they are added.
//
// Precondition: name must be non-empty; svc must be non-nil.
func (l *Lifecycle) Add(name string, svc Service) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.services = append(l.services, namedService{name: name, service: svc})
}

// NotifyReadiness registers r to follow the serving state.
func (l *Lifecycle) NotifyReadiness(r Readiness) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readiness = append(l.readiness, r)
}

func (l *Lifecycle) setServing(serving bool) {
	for _, r := range l.readiness {
		r.SetServing(serving)
	}
}

// Run starts all services and blocks until a termination signal is received
// (SIGINT or SIGTERM), ctx is cancelled, or a service fails. Services are
// then stopped in reverse order.
//
// Postcondition: All services are stopped when this method returns. Returns
// the first service failure, or nil for a signal or cancellation.
func (l *Lifecycle) Run(ctx context.Context) error {
	start := time.Now()

	l.mu.Lock()
	services := append([]namedService(nil), l.services...)
	l.mu.Unlock()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, len(services))
	for _, ns := range services {
		ns := ns
		go func() {
			l.logger.Info("starting service",
				zap.String("service", ns.name),
			)
			svcStart := time.Now()
			if err := ns.service.Start(); err != nil {
				l.logger.Error("service failed",
					zap.String("service", ns.name),
					zap.Error(err),
					zap.Duration("uptime", time.Since(svcStart)),
				)
				errCh <- fmt.Errorf("service %s: %w", ns.name, err)
			}
		}()
	}

	ready, runErr := l.awaitReady(ctx, services, errCh)
	if ready {
		l.setServing(true)
		l.logger.Info("all services started",
			zap.Int("count", len(services)),
			zap.Duration("startup", time.Since(start)),
		)

		select {
		case err := <-errCh:
			l.logger.Error("service error, shutting down",
				zap.Error(err),
			)
			runErr = err
		case <-ctx.Done():
			l.logger.Info("shutdown requested")
		}
	}

	l.setServing(false)
	l.shutdown(services)

	l.logger.Info("shutdown complete",
		zap.Duration("total_uptime", time.Since(start)),
	)
	return runErr
}

// awaitReady blocks until every ReadySignaler is ready. It returns false, and
// the service error if there was one, when a service fails or ctx ends first.
func (l *Lifecycle) awaitReady(ctx context.Context, services []namedService, errCh <-chan error) (bool, error) {
	for _, ns := range services {
		r, ok := ns.service.(ReadySignaler)
		if !ok {
			continue
		}
		select {
		case <-r.Ready():
		case err := <-errCh:
			l.logger.Error("service failed before ready, shutting down",
				zap.String("service", ns.name),
				zap.Error(err),
			)
			return false, err
		case <-ctx.Done():
			l.logger.Info("shutdown requested during startup")
			return false, nil
		}
	}
	return true, nil
}

func (l *Lifecycle) shutdown(services []namedService) {
	shutdownStart := time.Now()
	for i := len(services) - 1; i >= 0; i-- {
		ns := services[i]
		svcStart := time.Now()
		l.logger.Info("stopping service",
			zap.String("service", ns.name),
		)
		ns.service.Stop()
		l.logger.Info("service stopped",
			zap.String("service", ns.name),
			zap.Duration("elapsed", time.Since(svcStart)),
		)
	}
	l.logger.Info("all services stopped",
		zap.Duration("shutdown_elapsed", time.Since(shutdownStart)),
	)
}
