package config

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver for database/sql
)

const (
	defaultMaxIdleConnections = 10
	postgresDriverName        = "postgres"
)

// PGXPoolConfig builds a pgxpool.Config from the DSN and the pool settings.
func (c Config) PGXPoolConfig() (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(c.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	poolConfig.MaxConns = c.PostgresMaxConns
	poolConfig.MinConns = c.PostgresMinConns
	poolConfig.MaxConnLifetime = c.PostgresMaxConnLifetime
	poolConfig.MaxConnIdleTime = c.PostgresMaxConnIdleTime
	poolConfig.ConnConfig.ConnectTimeout = c.PostgresConnectTimeout

	return poolConfig, nil
}

// OpenPGXPool connects a pgx pool and pings the database.
func (c Config) OpenPGXPool(ctx context.Context) (*pgxpool.Pool, error) {
	poolConfig, err := c.PGXPoolConfig()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

// OpenPostgresSQLDB opens a *sql.DB on the lib/pq driver with the pool settings and pings it.
func (c Config) OpenPostgresSQLDB(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open(postgresDriverName, c.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	c.configurePool(db)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return db, nil
}

// OpenPostgresSQLX is OpenPostgresSQLDB wrapped for sqlx.
func (c Config) OpenPostgresSQLX(ctx context.Context) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, postgresDriverName, c.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	c.configurePool(db.DB)

	return db, nil
}

func (c Config) configurePool(db *sql.DB) {
	db.SetMaxOpenConns(int(c.PostgresMaxConns))
	db.SetMaxIdleConns(min(defaultMaxIdleConnections, int(c.PostgresMaxConns)))
	db.SetConnMaxLifetime(c.PostgresMaxConnLifetime)
	db.SetConnMaxIdleTime(c.PostgresMaxConnIdleTime)
}
