// Package sqljournal stores journal entries and snapshots in PostgreSQL or SQLite.
//
// Queries are built with goqu for the selected dialect and run through a pgx pool, a *sql.DB
// or a *sqlx.DB. Entries get their sequence from the database; all entries of one Append are
// written by a single INSERT, so they land together or not at all.
//
// Times are stored as unix nanoseconds in BIGINT columns, which keeps both dialects and all
// three client libraries reading back the same instant.
package sqljournal
