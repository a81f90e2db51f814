// Package config provides Viper-based configuration loading for the station daemon.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
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

// GatewayConfig holds websocket gateway settings.
type GatewayConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// SendBuffer is the number of frames queued per connection before frames are dropped.
	SendBuffer int `mapstructure:"send_buffer"`
	// WriteTimeout bounds a single websocket write.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// UserHeader names the header carrying the authenticated user id.
	UserHeader string `mapstructure:"user_header"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// MetricsConfig holds the prometheus exporter settings.
type MetricsConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns the "host:port" listen address.
func (m MetricsConfig) Addr() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

// HealthConfig holds the gRPC health service settings.
type HealthConfig struct {
	GRPCHost string `mapstructure:"grpc_host"`
	GRPCPort int    `mapstructure:"grpc_port"`
}

// Addr returns the "host:port" gRPC address.
func (h HealthConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.GRPCHost, h.GRPCPort)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// StationConfig holds game engine tuning.
type StationConfig struct {
	// ReclaimInterval is how often ended sessions are swept.
	ReclaimInterval time.Duration `mapstructure:"reclaim_interval"`
	// ReclaimAfter is the idle time after which an ended session is discarded.
	ReclaimAfter time.Duration `mapstructure:"reclaim_after"`
	// TenSecondsStopAfter force-ends a timed-reaction round.
	TenSecondsStopAfter time.Duration `mapstructure:"ten_seconds_stop_after"`
	// TenSecondsBurst is the largest stop value that still ranks.
	TenSecondsBurst time.Duration `mapstructure:"ten_seconds_burst"`
	// MafiaDayDelay separates the night announcement from the day.
	MafiaDayDelay time.Duration `mapstructure:"mafia_day_delay"`
	// PokerCreditCeiling bounds administrative credit; a decimal string.
	PokerCreditCeiling string `mapstructure:"poker_credit_ceiling"`
}

// Ceiling parses PokerCreditCeiling.
//
// Postcondition: Returns a positive decimal or a non-nil error.
func (s StationConfig) Ceiling() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s.PokerCreditCeiling)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("station.poker_credit_ceiling: %w", err)
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("station.poker_credit_ceiling must be positive, got %s", d)
	}
	return d, nil
}

// Directory sources.
const (
	DirectoryPostgres = "postgres"
	DirectoryMemory   = "memory"
)

// DirectoryConfig selects where sessions and users are resolved from.
type DirectoryConfig struct {
	// Source is "postgres" or "memory".
	Source string `mapstructure:"source"`
	// Fixture is the YAML file loaded by the memory source.
	Fixture string `mapstructure:"fixture"`
}

// Config is the top-level application configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Health    HealthConfig    `mapstructure:"health"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Station   StationConfig   `mapstructure:"station"`
	Directory DirectoryConfig `mapstructure:"directory"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	validators := []func() error{
		func() error { return validateDirectory(c.Directory) },
		func() error { return validateGateway(c.Gateway) },
		func() error { return validatePort("metrics.port", c.Metrics.Port) },
		func() error { return validatePort("health.grpc_port", c.Health.GRPCPort) },
		func() error { return validateLogging(c.Logging) },
		func() error { return validateStation(c.Station) },
	}
	if c.Directory.Source == DirectoryPostgres {
		validators = append(validators, func() error { return validateDatabase(c.Database) })
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validatePort(key string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be 1-65535, got %d", key, port)
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if err := validatePort("database.port", d.Port); err != nil {
		errs = append(errs, err.Error())
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
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateGateway(g GatewayConfig) error {
	var errs []string
	if err := validatePort("gateway.port", g.Port); err != nil {
		errs = append(errs, err.Error())
	}
	if g.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("gateway.send_buffer must be >= 1, got %d", g.SendBuffer))
	}
	if g.WriteTimeout <= 0 {
		errs = append(errs, "gateway.write_timeout must be positive")
	}
	if g.UserHeader == "" {
		errs = append(errs, "gateway.user_header must not be empty")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
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

func validateStation(s StationConfig) error {
	var errs []string
	if s.ReclaimInterval <= 0 {
		errs = append(errs, "station.reclaim_interval must be positive")
	}
	if s.ReclaimAfter <= 0 {
		errs = append(errs, "station.reclaim_after must be positive")
	}
	if s.TenSecondsStopAfter <= 0 {
		errs = append(errs, "station.ten_seconds_stop_after must be positive")
	}
	if s.TenSecondsBurst <= 0 {
		errs = append(errs, "station.ten_seconds_burst must be positive")
	}
	if s.MafiaDayDelay < 0 {
		errs = append(errs, "station.mafia_day_delay must not be negative")
	}
	if _, err := s.Ceiling(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateDirectory(d DirectoryConfig) error {
	switch d.Source {
	case DirectoryPostgres:
		return nil
	case DirectoryMemory:
		if d.Fixture == "" {
			return errors.New("directory.fixture must not be empty for the memory source")
		}
		return nil
	default:
		return fmt.Errorf("directory.source must be one of [postgres, memory], got %q", d.Source)
	}
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with STATION_ prefix
	v.SetEnvPrefix("STATION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
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

// Defaults returns a Viper instance holding only the built-in defaults.
func Defaults() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "station")
	v.SetDefault("database.password", "station")
	v.SetDefault("database.name", "station")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 8080)
	v.SetDefault("gateway.send_buffer", 64)
	v.SetDefault("gateway.write_timeout", "10s")
	v.SetDefault("gateway.user_header", "X-User-ID")

	v.SetDefault("metrics.host", "0.0.0.0")
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("health.grpc_host", "0.0.0.0")
	v.SetDefault("health.grpc_port", 50051)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("station.reclaim_interval", "10m")
	v.SetDefault("station.reclaim_after", "24h")
	v.SetDefault("station.ten_seconds_stop_after", "15s")
	v.SetDefault("station.ten_seconds_burst", "10s")
	v.SetDefault("station.mafia_day_delay", "3s")
	v.SetDefault("station.poker_credit_ceiling", "1000000000000")

	v.SetDefault("directory.source", DirectoryPostgres)
	v.SetDefault("directory.fixture", "configs/directory.yaml")
}
