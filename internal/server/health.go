package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cory-johannsen/craftd/internal/config"
)

// GameService is the health service name reported for the game listener.
const GameService = "craftd.Game"

// Check probes one dependency. A nil error means healthy.
type Check func(ctx context.Context) error

// HealthService serves the standard gRPC health protocol. The overall status
// and GameService follow the lifecycle's serving state; every named check is
// probed on an interval and reported under its own service name.
type HealthService struct {
	addr     string
	interval time.Duration
	logger   *zap.Logger

	server *grpc.Server
	health *health.Server

	mu      sync.Mutex
	checks  map[string]Check
	serving bool
	quit    chan struct{}
	once    sync.Once

	ready     chan struct{}
	readyOnce sync.Once
}

// NewHealthService creates a HealthService listening on cfg.Addr(). Checks
// run every interval; a non-positive interval defaults to 10s.
//
// Precondition: logger must be non-nil.
// Postcondition: Every service reports NOT_SERVING until SetServing(true).
func NewHealthService(cfg config.AdminConfig, interval time.Duration, logger *zap.Logger) *HealthService {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	h := &HealthService{
		addr:     cfg.Addr(),
		interval: interval,
		logger:   logger,
		server:   grpc.NewServer(),
		health:   health.NewServer(),
		checks:   make(map[string]Check),
		quit:     make(chan struct{}),
		ready:    make(chan struct{}),
	}
	healthpb.RegisterHealthServer(h.server, h.health)
	h.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	h.health.SetServingStatus(GameService, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// AddCheck registers a dependency probe reported under name.
//
// Precondition: name must be non-empty and check non-nil.
func (h *HealthService) AddCheck(name string, check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
	h.health.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
}

// SetServing implements Readiness.
func (h *HealthService) SetServing(serving bool) {
	h.mu.Lock()
	h.serving = serving
	h.mu.Unlock()

	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(GameService, status)
}

// Probe runs every registered check once and publishes the results.
//
// Postcondition: Each check's service reports SERVING if it returned nil.
func (h *HealthService) Probe(ctx context.Context) {
	h.mu.Lock()
	checks := make(map[string]Check, len(h.checks))
	for name, c := range h.checks {
		checks[name] = c
	}
	h.mu.Unlock()

	for name, check := range checks {
		status := healthpb.HealthCheckResponse_SERVING
		if err := check(ctx); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			h.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
		}
		h.health.SetServingStatus(name, status)
	}
}

func (h *HealthService) probeLoop() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		ctx, cancel := context.WithTimeout(context.Background(), h.interval)
		h.Probe(ctx)
		cancel()
		select {
		case <-h.quit:
			return
		case <-ticker.C:
		}
	}
}

// Ready implements ReadySignaler. It is closed once Serve has a bound listener.
func (h *HealthService) Ready() <-chan struct{} {
	return h.ready
}

// Serve runs the gRPC server and the probe loop on lis until Stop is called.
func (h *HealthService) Serve(lis net.Listener) error {
	h.readyOnce.Do(func() { close(h.ready) })
	go h.probeLoop()
	h.logger.Info("health endpoint listening", zap.String("addr", lis.Addr().String()))
	return h.server.Serve(lis)
}

// Start implements Service by listening on the configured address.
func (h *HealthService) Start() error {
	lis, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.addr, err)
	}
	return h.Serve(lis)
}

// Stop implements Service. Watchers are told NOT_SERVING before the server drains.
func (h *HealthService) Stop() {
	h.once.Do(func() {
		close(h.quit)
		h.health.Shutdown()
		h.server.GracefulStop()
	})
}
