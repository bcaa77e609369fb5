package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/craftd/internal/chat"
	"github.com/cory-johannsen/craftd/internal/chunk"
	"github.com/cory-johannsen/craftd/internal/config"
	"github.com/cory-johannsen/craftd/internal/frontend/tcp"
	"github.com/cory-johannsen/craftd/internal/login"
	"github.com/cory-johannsen/craftd/internal/protocol"
	"github.com/cory-johannsen/craftd/internal/server"
	"github.com/cory-johannsen/craftd/internal/session"
	"github.com/cory-johannsen/craftd/internal/storage/postgres"
)

const shutdownNotice = "Server shutting down."

// App holds the assembled server.
type App struct {
	Config      config.Config
	Logger      *zap.Logger
	Registry    *session.Registry
	Sequencer   *login.Sequencer
	Broadcaster *chat.Broadcaster
	Acceptor    *tcp.Acceptor
	// Health is nil when the admin endpoint is disabled.
	Health    *server.HealthService
	Lifecycle *server.Lifecycle
}

// provideChunks builds the configured chunk source behind an optional LRU.
func provideChunks(cfg config.Config) (chunk.Provider, error) {
	w := cfg.World
	var src chunk.Source = chunk.Placeholder{}
	if w.Generator == "flat" {
		flat, err := chunk.LoadFlatSource(w.LayersFile)
		if err != nil {
			return nil, err
		}
		src = flat
	}

	provider := chunk.NewProvider(src)
	if w.CacheSize == 0 {
		return provider, nil
	}
	cache, err := chunk.NewCache(provider, w.CacheSize)
	if err != nil {
		return nil, err
	}
	return cache, nil
}

func provideWorld(cfg config.Config) login.World {
	w := cfg.World
	return login.World{
		Seed:      w.Seed,
		Dimension: w.Dimension,
		Spawn:     protocol.SpawnPosition{X: w.Spawn.X, Y: w.Spawn.Y, Z: w.Spawn.Z},
		Position: protocol.PlayerMoveLook{
			X:      w.Position.X,
			Stance: w.Position.Stance,
			Y:      w.Position.Y,
			Z:      w.Position.Z,
		},
	}
}

// providePool connects to PostgreSQL when the access list is enabled and
// returns a nil pool otherwise.
func providePool(ctx context.Context, cfg config.Config, logger *zap.Logger) (*postgres.Pool, func(), error) {
	if !cfg.Database.Enabled {
		return nil, func() {}, nil
	}
	start := time.Now()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Duration("elapsed", time.Since(start)),
	)
	return pool, pool.Close, nil
}

func provideLoginOptions(cfg config.Config, pool *postgres.Pool) []login.Option {
	opts := []login.Option{login.WithPasswordHash(cfg.Server.PasswordHash)}
	if pool != nil {
		opts = append(opts, login.WithAccessList(postgres.NewAccessListRepository(pool)))
	}
	return opts
}

func provideSequencer(registry *session.Registry, chunks chunk.Provider, world login.World, logger *zap.Logger, opts []login.Option) *login.Sequencer {
	return login.NewSequencer(registry, chunks, world, logger, opts...)
}

func provideHandler(seq *login.Sequencer) tcp.SessionHandler {
	return tcp.NewHandshakeHandler(seq)
}

func provideAcceptor(cfg config.Config, registry *session.Registry, handler tcp.SessionHandler, disconnector tcp.Disconnector, logger *zap.Logger) *tcp.Acceptor {
	return tcp.NewAcceptor(cfg.Listener, registry, handler, disconnector, logger)
}

func provideHealth(cfg config.Config, pool *postgres.Pool, logger *zap.Logger) *server.HealthService {
	if !cfg.Admin.Enabled {
		return nil
	}
	health := server.NewHealthService(cfg.Admin, 0, logger)
	if pool != nil {
		health.AddCheck("craftd.AccessList", func(ctx context.Context) error {
			return pool.Health(ctx, 2*time.Second)
		})
	}
	return health
}

func provideLifecycle(logger *zap.Logger, registry *session.Registry, broadcaster *chat.Broadcaster, acceptor *tcp.Acceptor, health *server.HealthService) *server.Lifecycle {
	lc := server.NewLifecycle(logger)
	lc.Add("game", &server.FuncService{
		StartFn: acceptor.ListenAndServe,
		ReadyFn: acceptor.Ready,
		StopFn: func() {
			if n, err := broadcaster.Announce(shutdownNotice); err == nil {
				logger.Info("shutdown announced", zap.Int("sessions", n))
			}
			acceptor.Stop()
			if n := registry.Close(); n > 0 {
				logger.Info("closed remaining sessions", zap.Int("sessions", n))
			}
		},
	})
	if health != nil {
		lc.Add("health", health)
		lc.NotifyReadiness(health)
	}
	return lc
}
