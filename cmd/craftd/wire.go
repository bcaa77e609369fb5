//go:build wireinject
// +build wireinject

package main

import (
	"context"

	"github.com/google/wire"
	"go.uber.org/zap"

	"github.com/cory-johannsen/craftd/internal/chat"
	"github.com/cory-johannsen/craftd/internal/config"
	"github.com/cory-johannsen/craftd/internal/frontend/tcp"
	"github.com/cory-johannsen/craftd/internal/login"
	"github.com/cory-johannsen/craftd/internal/session"
)

func initializeApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, func(), error) {
	wire.Build(
		session.NewRegistry,
		provideChunks,
		provideWorld,
		providePool,
		provideLoginOptions,
		provideSequencer,
		wire.Bind(new(chat.Disconnector), new(*login.Sequencer)),
		wire.Bind(new(tcp.Disconnector), new(*login.Sequencer)),
		chat.NewBroadcaster,
		provideHandler,
		provideAcceptor,
		provideHealth,
		provideLifecycle,
		wire.Struct(new(App), "*"),
	)
	return nil, nil, nil
}
