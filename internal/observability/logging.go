// Package observability provides structured logging for the server.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cory-johannsen/craftd/internal/config"
)

// NewLogger creates the server logger. Every entry carries the server name,
// and sampling is off so no chat line or kick is dropped under load.
//
// Precondition: cfg.Level must be one of "debug", "info", "warn", "error".
// Precondition: cfg.Format must be "json" or "console".
// Postcondition: Returns a configured zap.Logger or a non-nil error.
func NewLogger(cfg config.LoggingConfig, server string) (*zap.Logger, error) {
	zapCfg, err := loggerConfig(cfg, server)
	if err != nil {
		return nil, err
	}
	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}

func loggerConfig(cfg config.LoggingConfig, server string) (zap.Config, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return zap.Config{}, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	var zapCfg zap.Config
	switch cfg.Format {
	case "json":
		zapCfg = zap.NewProductionConfig()
	case "console":
		zapCfg = zap.NewDevelopmentConfig()
	default:
		return zap.Config{}, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.Sampling = nil
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if server != "" {
		zapCfg.InitialFields = map[string]interface{}{"server": server}
	}
	return zapCfg, nil
}

// SessionFields returns the standard fields identifying a session in log entries.
// The name is omitted until login has populated it.
func SessionFields(id uint64, name string) []zap.Field {
	fields := []zap.Field{zap.Uint64("session_id", id)}
	if name != "" {
		fields = append(fields, zap.String("username", name))
	}
	return fields
}
