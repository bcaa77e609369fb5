// Package config provides Viper-based configuration loading for the craftd server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds top-level server settings.
type ServerConfig struct {
	// Name identifies this server instance in logs.
	Name string `mapstructure:"name"`
	// PasswordHash is an optional bcrypt hash of the server password.
	// Logins are only checked against it when it is non-empty.
	PasswordHash string `mapstructure:"password_hash"`
}

// ListenerConfig holds game protocol TCP listener settings.
type ListenerConfig struct {
	// Host is the bind address for the game listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the game listener.
	Port int `mapstructure:"port"`
	// ReadTimeout is the per-read timeout for client connections. Zero disables it.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the per-write timeout for client connections. Zero disables it.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// QueueSize is the number of outbound packets buffered per connection.
	QueueSize int `mapstructure:"queue_size"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (l ListenerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// SpawnConfig is the compass spawn point sent after world streaming.
type SpawnConfig struct {
	X int32 `mapstructure:"x"`
	Y int32 `mapstructure:"y"`
	Z int32 `mapstructure:"z"`
}

// PositionConfig is the initial player position sent with the move-look packet.
type PositionConfig struct {
	X      float64 `mapstructure:"x"`
	Stance float64 `mapstructure:"stance"`
	Y      float64 `mapstructure:"y"`
	Z      float64 `mapstructure:"z"`
}

// WorldConfig holds the world parameters streamed to clients at login.
type WorldConfig struct {
	// Seed is the map seed reported in the login response.
	Seed int64 `mapstructure:"seed"`
	// Dimension is the dimension id reported in the login response.
	Dimension int8 `mapstructure:"dimension"`
	// Generator selects the chunk source: "placeholder" or "flat".
	Generator string `mapstructure:"generator"`
	// LayersFile is the YAML layer definition used by the flat generator.
	LayersFile string `mapstructure:"layers_file"`
	// CacheSize is the number of compressed chunks kept in memory. Zero disables caching.
	CacheSize int `mapstructure:"cache_size"`
	// Spawn is the spawn position sent to every client.
	Spawn SpawnConfig `mapstructure:"spawn"`
	// Position is the initial player position sent to every client.
	Position PositionConfig `mapstructure:"position"`
}

// DatabaseConfig holds PostgreSQL connection settings for the access list.
type DatabaseConfig struct {
	// Enabled turns on the PostgreSQL-backed access list.
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// AdminConfig holds the gRPC health endpoint settings.
type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// Addr returns the "host:port" gRPC address.
func (a AdminConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Listener ListenerConfig `mapstructure:"listener"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	World    WorldConfig    `mapstructure:"world"`
	Database DatabaseConfig `mapstructure:"database"`
	Admin    AdminConfig    `mapstructure:"admin"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateListener(c.Listener); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateWorld(c.World); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Database.Enabled {
		if err := validateDatabase(c.Database); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if c.Admin.Enabled {
		if err := validateAdmin(c.Admin); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	if s.Name == "" {
		return errors.New("server.name must not be empty")
	}
	if s.PasswordHash != "" && !strings.HasPrefix(s.PasswordHash, "$2") {
		return errors.New("server.password_hash must be a bcrypt hash")
	}
	return nil
}

func validateListener(l ListenerConfig) error {
	var errs []string
	if l.Port < 0 || l.Port > 65535 {
		errs = append(errs, fmt.Sprintf("listener.port must be 0-65535, got %d", l.Port))
	}
	if l.ReadTimeout < 0 {
		errs = append(errs, "listener.read_timeout must not be negative")
	}
	if l.WriteTimeout < 0 {
		errs = append(errs, "listener.write_timeout must not be negative")
	}
	if l.QueueSize < 1 {
		errs = append(errs, fmt.Sprintf("listener.queue_size must be >= 1, got %d", l.QueueSize))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateWorld(w WorldConfig) error {
	var errs []string
	switch w.Generator {
	case "placeholder":
	case "flat":
		if w.LayersFile == "" {
			errs = append(errs, "world.layers_file must be set when world.generator is \"flat\"")
		}
	default:
		errs = append(errs, fmt.Sprintf("world.generator must be one of [placeholder, flat], got %q", w.Generator))
	}
	if w.CacheSize < 0 {
		errs = append(errs, fmt.Sprintf("world.cache_size must be >= 0, got %d", w.CacheSize))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateAdmin(a AdminConfig) error {
	var errs []string
	if a.Host == "" {
		errs = append(errs, "admin.host must not be empty")
	}
	if a.Port < 0 || a.Port > 65535 {
		errs = append(errs, fmt.Sprintf("admin.port must be 0-65535, got %d", a.Port))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result. An empty path loads defaults and
// environment overrides only.
//
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()

	// Environment variable overrides with CRAFTD_ prefix
	v.SetEnvPrefix("CRAFTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "craftd")
	v.SetDefault("server.password_hash", "")

	v.SetDefault("listener.host", "0.0.0.0")
	v.SetDefault("listener.port", 25565)
	v.SetDefault("listener.read_timeout", "5m")
	v.SetDefault("listener.write_timeout", "30s")
	v.SetDefault("listener.queue_size", 256)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("world.seed", 0)
	v.SetDefault("world.dimension", 0)
	v.SetDefault("world.generator", "placeholder")
	v.SetDefault("world.layers_file", "")
	v.SetDefault("world.cache_size", 256)
	v.SetDefault("world.spawn.x", 32)
	v.SetDefault("world.spawn.y", 260)
	v.SetDefault("world.spawn.z", 32)
	v.SetDefault("world.position.x", 0)
	v.SetDefault("world.position.stance", 128.1)
	v.SetDefault("world.position.y", 128.2)
	v.SetDefault("world.position.z", 0)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "craftd")
	v.SetDefault("database.password", "craftd")
	v.SetDefault("database.name", "craftd")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.host", "127.0.0.1")
	v.SetDefault("admin.port", 50051)
}
