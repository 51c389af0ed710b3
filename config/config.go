package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/AntonStoeckl/library-lending-go/lending"
)

// The journal backends.
const (
	JournalMemory   = "memory"
	JournalSQLite   = "sqlite"
	JournalPostgres = "postgres"
)

// The database client libraries a postgres journal can run on.
const (
	DriverPGX  = "pgx"
	DriverSQL  = "sql"
	DriverSQLX = "sqlx"
)

var (
	// ErrUnknownJournal is returned for a journal backend other than memory, sqlite or postgres.
	ErrUnknownJournal = errors.New("unknown journal backend")

	// ErrUnknownDriver is returned for a database driver other than pgx, sql or sqlx.
	ErrUnknownDriver = errors.New("unknown database driver")

	// ErrMissingPostgresDSN is returned when the postgres journal is selected without a DSN.
	ErrMissingPostgresDSN = errors.New("postgres journal needs LENDING_POSTGRES_DSN")

	// ErrUnknownLogLevel is returned for a log level slog does not know.
	ErrUnknownLogLevel = errors.New("unknown log level")
)

// Config is the complete configuration. It is read once at startup and never changed.
type Config struct {
	MaxLoanDays         int           `env:"LENDING_MAX_LOAN_DAYS"         envDefault:"14"`
	FinePerDay          float64       `env:"LENDING_FINE_PER_DAY"          envDefault:"1.0"`
	MaxReservations     int           `env:"LENDING_MAX_RESERVATIONS"      envDefault:"5"`
	ReservationHoldDays int           `env:"LENDING_RESERVATION_HOLD_DAYS" envDefault:"30"`
	LockTimeout         time.Duration `env:"LENDING_LOCK_TIMEOUT"          envDefault:"250ms"`
	LogLevel            string        `env:"LENDING_LOG_LEVEL"             envDefault:"info"`

	Journal       string `env:"LENDING_JOURNAL"        envDefault:"memory"`
	DBDriver      string `env:"LENDING_DB_DRIVER"      envDefault:"pgx"`
	PostgresDSN   string `env:"LENDING_POSTGRES_DSN"`
	SQLitePath    string `env:"LENDING_SQLITE_PATH"    envDefault:"lending.db"`
	JournalTable  string `env:"LENDING_JOURNAL_TABLE"  envDefault:"lending_journal"`
	SnapshotTable string `env:"LENDING_SNAPSHOT_TABLE" envDefault:"lending_snapshots"`

	PostgresMaxConns        int32         `env:"LENDING_POSTGRES_MAX_CONNS"         envDefault:"8"`
	PostgresMinConns        int32         `env:"LENDING_POSTGRES_MIN_CONNS"         envDefault:"2"`
	PostgresMaxConnLifetime time.Duration `env:"LENDING_POSTGRES_MAX_CONN_LIFETIME" envDefault:"1h"`
	PostgresMaxConnIdleTime time.Duration `env:"LENDING_POSTGRES_MAX_CONN_IDLE"     envDefault:"5m"`
	PostgresConnectTimeout  time.Duration `env:"LENDING_POSTGRES_CONNECT_TIMEOUT"   envDefault:"5s"`

	OTLPEndpoint string `env:"LENDING_OTLP_ENDPOINT"`
	ServiceName  string `env:"LENDING_SERVICE_NAME" envDefault:"library-lending"`
}

// Load parses the configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the values that env parsing cannot.
func (c Config) Validate() error {
	if err := c.Policy().Validate(); err != nil {
		return err
	}

	if c.LockTimeout < 0 {
		return lending.ErrNegativeLockTimeout
	}

	if _, err := c.SlogLevel(); err != nil {
		return err
	}

	switch c.Journal {
	case JournalMemory, JournalSQLite:
	case JournalPostgres:
		if c.PostgresDSN == "" {
			return ErrMissingPostgresDSN
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJournal, c.Journal)
	}

	switch c.DBDriver {
	case DriverPGX, DriverSQL, DriverSQLX:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.DBDriver)
	}

	return nil
}

// Policy returns the lending rules.
func (c Config) Policy() lending.Policy {
	return lending.Policy{
		MaxLoanDays:         c.MaxLoanDays,
		FinePerDay:          c.FinePerDay,
		MaxReservations:     c.MaxReservations,
		ReservationHoldDays: c.ReservationHoldDays,
	}
}

// SlogLevel parses LogLevel, e.g. "debug" or "WARN".
func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, errors.Join(ErrUnknownLogLevel, err)
	}

	return level, nil
}
