package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/AntonStoeckl/library-lending-go/config"
	"github.com/AntonStoeckl/library-lending-go/journal"
	"github.com/AntonStoeckl/library-lending-go/journal/sqljournal"
)

// backend is the journal selected by the configuration together with the means to close its
// database.
type backend struct {
	name      string
	journal   journal.Journal
	snapshots journal.SnapshotStore
	sql       *sqljournal.Journal // nil for the memory journal
	close     func()
}

// openBackend connects the configured journal. SQL journals get their schema created.
func openBackend(ctx context.Context, cfg config.Config, options ...sqljournal.Option) (*backend, error) {
	options = append([]sqljournal.Option{
		sqljournal.WithTableName(cfg.JournalTable),
		sqljournal.WithSnapshotTableName(cfg.SnapshotTable),
	}, options...)

	switch cfg.Journal {
	case config.JournalMemory:
		memory := journal.NewMemory()

		return &backend{name: config.JournalMemory, journal: memory, snapshots: memory, close: func() {}}, nil

	case config.JournalSQLite:
		return openSQLite(ctx, cfg, options...)

	case config.JournalPostgres:
		return openPostgres(ctx, cfg, options...)

	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownJournal, cfg.Journal)
	}
}

func openSQLite(ctx context.Context, cfg config.Config, options ...sqljournal.Option) (*backend, error) {
	db, err := config.OpenSQLite(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, err
	}

	var j *sqljournal.Journal
	if cfg.DBDriver == config.DriverSQLX {
		j, err = sqljournal.NewFromSQLX(sqlx.NewDb(db, config.SQLiteDriverName), options...)
	} else {
		j, err = sqljournal.NewFromSQLDB(db, append(options, sqljournal.WithDialect(sqljournal.DialectSQLite))...)
	}

	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return ready(ctx, "sqlite:"+cfg.SQLitePath, j, func() { _ = db.Close() })
}

func openPostgres(ctx context.Context, cfg config.Config, options ...sqljournal.Option) (*backend, error) {
	switch cfg.DBDriver {
	case config.DriverPGX:
		pool, err := cfg.OpenPGXPool(ctx)
		if err != nil {
			return nil, err
		}

		j, err := sqljournal.NewFromPGXPool(pool, options...)
		if err != nil {
			pool.Close()
			return nil, err
		}

		return ready(ctx, "postgres/pgx", j, pool.Close)

	case config.DriverSQL:
		db, err := cfg.OpenPostgresSQLDB(ctx)
		if err != nil {
			return nil, err
		}

		j, err := sqljournal.NewFromSQLDB(db, options...)
		if err != nil {
			_ = db.Close()
			return nil, err
		}

		return ready(ctx, "postgres/sql", j, func() { _ = db.Close() })

	case config.DriverSQLX:
		db, err := cfg.OpenPostgresSQLX(ctx)
		if err != nil {
			return nil, err
		}

		j, err := sqljournal.NewFromSQLX(db, options...)
		if err != nil {
			_ = db.Close()
			return nil, err
		}

		return ready(ctx, "postgres/sqlx", j, func() { _ = db.Close() })

	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownDriver, cfg.DBDriver)
	}
}

func ready(ctx context.Context, name string, j *sqljournal.Journal, closeDB func()) (*backend, error) {
	if err := j.EnsureSchema(ctx); err != nil {
		closeDB()
		return nil, errors.Join(fmt.Errorf("prepare %s journal", name), err)
	}

	return &backend{name: name, journal: j, snapshots: j, sql: j, close: closeDB}, nil
}
