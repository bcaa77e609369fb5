// Package main provides the craftd game server binary.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/cory-johannsen/craftd/internal/config"
	"github.com/cory-johannsen/craftd/internal/login"
	"github.com/cory-johannsen/craftd/internal/observability"
	"github.com/cory-johannsen/craftd/internal/protocol"
)

func main() {
	start := time.Now()

	flags := pflag.NewFlagSet("craftd", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", "", "path to configuration file (defaults and CRAFTD_* environment only when empty)")
	hashPassword := flags.String("hash-password", "", "print the bcrypt hash of a server password and exit")
	_ = flags.Parse(os.Args[1:])

	if *hashPassword != "" {
		hash, err := login.HashPassword(*hashPassword)
		if err != nil {
			log.Fatalf("hashing password: %v", err)
		}
		fmt.Fprintln(os.Stdout, hash)
		return
	}

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging, cfg.Server.Name)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}

	logger.Info("starting craftd",
		zap.String("listen_addr", cfg.Listener.Addr()),
		zap.Int32("protocol_version", protocol.Version),
	)

	err = run(ctx, cfg, logger)
	if err != nil {
		logger.Error("craftd exited", zap.Error(err), zap.Duration("uptime", time.Since(start)))
	}
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

// run assembles the server and blocks until it shuts down. Everything the
// injector opened is released before run returns.
func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	start := time.Now()
	app, cleanup, err := initializeApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing craftd: %w", err)
	}
	defer cleanup()

	logger.Info("craftd initialized", zap.Duration("elapsed", time.Since(start)))
	return app.Lifecycle.Run(ctx)
}
