// Package config loads server configuration.
//
// Values are layered in a fixed order: built-in defaults, then the YAML file
// named by --config, then command-line flags, then the JWT secrets from
// JWT_SECRET and JWT_REFRESH_SECRET when the file leaves them empty.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Environment string

const (
	Development Environment = "development"
	Test        Environment = "test"
	Production  Environment = "production"
)

// Store drivers.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

const minSecretLength = 32

type Config struct {
	Environment Environment `yaml:"environment"`

	Log   LogConfig   `yaml:"log"`
	HTTP  HTTPConfig  `yaml:"http"`
	GRPC  GRPCConfig  `yaml:"grpc"`
	Store StoreConfig `yaml:"store"`
	Redis RedisConfig `yaml:"redis"`
	Auth  AuthConfig  `yaml:"auth"`
	Order OrderConfig `yaml:"order"`
}

type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type GRPCConfig struct {
	// Addr is the gRPC listen address. Empty disables the gRPC server.
	Addr string `yaml:"addr"`
}

type StoreConfig struct {
	Driver       string `yaml:"driver"`
	MySQLDSN     string `yaml:"mysql_dsn"`
	PostgresDSN  string `yaml:"postgres_dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	// Migrate applies the schema on startup.
	Migrate bool `yaml:"migrate"`
}

type RedisConfig struct {
	// Addr is the Redis address. Empty disables idempotency keys.
	Addr           string        `yaml:"addr"`
	PoolSize       int           `yaml:"pool_size"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
}

type AuthConfig struct {
	AccessSecret   string        `yaml:"access_secret"`
	RefreshSecret  string        `yaml:"refresh_secret"`
	AccessTTL      time.Duration `yaml:"access_ttl"`
	RefreshTTL     time.Duration `yaml:"refresh_ttl"`
	RevokeOnLogout bool          `yaml:"revoke_on_logout"`
	BcryptCost     int           `yaml:"bcrypt_cost"`

	// LoginRate is the sustained per-IP rate for /api/auth, in requests
	// per second.
	LoginRate  float64 `yaml:"login_rate"`
	LoginBurst int     `yaml:"login_burst"`
}

type OrderConfig struct {
	// MaxRetries bounds attempts of one order transaction after a deadlock
	// or lock timeout.
	MaxRetries int `yaml:"max_retries"`
}

func Default() *Config {
	return &Config{
		Environment: Development,
		Log:         LogConfig{Level: "info"},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 5 * time.Second,
		},
		GRPC: GRPCConfig{Addr: ":50051"},
		Store: StoreConfig{
			Driver:       DriverMySQL,
			MySQLDSN:     "root:root@tcp(localhost:3306)/folktrade?parseTime=true",
			MaxOpenConns: 50,
			Migrate:      true,
		},
		Redis: RedisConfig{
			PoolSize:       100,
			IdempotencyTTL: 24 * time.Hour,
		},
		Auth: AuthConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			BcryptCost: 10,
			LoginRate:  1,
			LoginBurst: 10,
		},
		Order: OrderConfig{MaxRetries: 3},
	}
}

// BindFlags registers one flag per overridable field, writing into c.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar((*string)(&c.Environment), "env", string(c.Environment), "deployment environment (development, test, production)")
	fs.StringVar(&c.Log.Level, "log-level", c.Log.Level, "log level (debug, info, warn, error)")
	fs.StringVar(&c.HTTP.Addr, "http-addr", c.HTTP.Addr, "HTTP listen address")
	fs.StringVar(&c.GRPC.Addr, "grpc-addr", c.GRPC.Addr, "gRPC listen address, empty to disable")
	fs.StringVar(&c.Store.Driver, "store", c.Store.Driver, "store driver (mysql, postgres, memory)")
	fs.StringVar(&c.Store.MySQLDSN, "mysql-dsn", c.Store.MySQLDSN, "MySQL DSN")
	fs.StringVar(&c.Store.PostgresDSN, "postgres-dsn", c.Store.PostgresDSN, "Postgres DSN")
	fs.BoolVar(&c.Store.Migrate, "migrate", c.Store.Migrate, "apply the schema on startup")
	fs.StringVar(&c.Redis.Addr, "redis-addr", c.Redis.Addr, "Redis address, empty to disable idempotency keys")
	fs.BoolVar(&c.Auth.RevokeOnLogout, "revoke-on-logout", c.Auth.RevokeOnLogout, "invalidate the refresh token on logout")
	fs.IntVar(&c.Order.MaxRetries, "max-retries", c.Order.MaxRetries, "attempts per order transaction on lock conflicts")
}

// Load builds the configuration from args (without the program name).
func Load(name string, args []string) (*Config, error) {
	cfg := Default()

	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	var path string
	fs.StringVar(&path, "config", "", "path to YAML config file")
	cfg.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		// The file overwrote flag values; parse again so flags win.
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads a YAML file over the defaults. Flags and env are not
// consulted.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) applyEnv() {
	if c.Auth.AccessSecret == "" {
		c.Auth.AccessSecret = os.Getenv("JWT_SECRET")
	}
	if c.Auth.RefreshSecret == "" {
		c.Auth.RefreshSecret = os.Getenv("JWT_REFRESH_SECRET")
	}
}

func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// SlogLevel maps Log.Level onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func (c *Config) Validate() error {
	var errs []error

	if !slices.Contains([]Environment{Development, Test, Production}, c.Environment) {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	switch c.Store.Driver {
	case DriverMySQL:
		if c.Store.MySQLDSN == "" {
			errs = append(errs, errors.New("store.mysql_dsn is required for the mysql driver"))
		}
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required for the postgres driver"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("store.driver must be one of: %v", []string{DriverMySQL, DriverPostgres, DriverMemory}))
	}

	if len(c.Auth.AccessSecret) < minSecretLength {
		errs = append(errs, fmt.Errorf("auth.access_secret (or JWT_SECRET) must be at least %d bytes", minSecretLength))
	}
	if len(c.Auth.RefreshSecret) < minSecretLength {
		errs = append(errs, fmt.Errorf("auth.refresh_secret (or JWT_REFRESH_SECRET) must be at least %d bytes", minSecretLength))
	}
	if c.Auth.AccessSecret != "" && c.Auth.AccessSecret == c.Auth.RefreshSecret {
		errs = append(errs, errors.New("auth.access_secret and auth.refresh_secret must differ"))
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		errs = append(errs, errors.New("auth token ttls must be positive"))
	}
	if c.Auth.LoginRate <= 0 || c.Auth.LoginBurst <= 0 {
		errs = append(errs, errors.New("auth.login_rate and auth.login_burst must be positive"))
	}

	if c.Order.MaxRetries <= 0 {
		errs = append(errs, errors.New("order.max_retries must be positive"))
	}

	return errors.Join(errs...)
}
