package sqljournal

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// The supported dialects, named like goqu's dialects.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite3"
)

var (
	// ErrUnknownDialect is returned for a dialect other than postgres or sqlite3.
	ErrUnknownDialect = errors.New("unknown sql dialect")

	// ErrEmptyTableName is returned when a table name is empty.
	ErrEmptyTableName = errors.New("table name must not be empty")

	// ErrInvalidTableName is returned when a table name is not a plain SQL identifier.
	ErrInvalidTableName = errors.New("table name must be a plain sql identifier")

	// ErrCreatingSchemaFailed is returned when a schema statement failed.
	ErrCreatingSchemaFailed = errors.New("creating journal schema failed")
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

const postgresSchema = `CREATE TABLE IF NOT EXISTS %[1]s (
	sequence    BIGSERIAL PRIMARY KEY,
	entry_type  TEXT      NOT NULL,
	occurred_at BIGINT    NOT NULL,
	book_id     TEXT      NOT NULL DEFAULT '',
	member_id   TEXT      NOT NULL DEFAULT '',
	payload     JSONB     NOT NULL,
	metadata    JSONB     NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_book_idx ON %[1]s (book_id, sequence);
CREATE INDEX IF NOT EXISTS %[1]s_member_idx ON %[1]s (member_id, sequence);
CREATE INDEX IF NOT EXISTS %[1]s_type_idx ON %[1]s (entry_type, sequence);
CREATE TABLE IF NOT EXISTS %[2]s (
	id          BIGSERIAL PRIMARY KEY,
	name        TEXT      NOT NULL,
	data        JSONB     NOT NULL,
	sequence    BIGINT    NOT NULL DEFAULT 0,
	created_at  BIGINT    NOT NULL
);
CREATE INDEX IF NOT EXISTS %[2]s_name_idx ON %[2]s (name, id);`

const sqliteSchema = `CREATE TABLE IF NOT EXISTS %[1]s (
	sequence    INTEGER PRIMARY KEY AUTOINCREMENT,
	entry_type  TEXT    NOT NULL,
	occurred_at INTEGER NOT NULL,
	book_id     TEXT    NOT NULL DEFAULT '',
	member_id   TEXT    NOT NULL DEFAULT '',
	payload     TEXT    NOT NULL,
	metadata    TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_book_idx ON %[1]s (book_id, sequence);
CREATE INDEX IF NOT EXISTS %[1]s_member_idx ON %[1]s (member_id, sequence);
CREATE INDEX IF NOT EXISTS %[1]s_type_idx ON %[1]s (entry_type, sequence);
CREATE TABLE IF NOT EXISTS %[2]s (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT    NOT NULL,
	data        TEXT    NOT NULL,
	sequence    INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS %[2]s_name_idx ON %[2]s (name, id);`

// Schema returns the DDL that creates the journal and snapshot tables for a dialect.
// The statements are separated by semicolons and safe to run repeatedly.
func Schema(dialect, journalTable, snapshotTable string) (string, error) {
	if err := validateDialect(dialect); err != nil {
		return "", err
	}

	if err := validateTableName(journalTable); err != nil {
		return "", err
	}

	if err := validateTableName(snapshotTable); err != nil {
		return "", err
	}

	template := postgresSchema
	if dialect == DialectSQLite {
		template = sqliteSchema
	}

	return fmt.Sprintf(template, journalTable, snapshotTable), nil
}

// EnsureSchema creates the tables of the journal if they do not exist.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	ddl, err := Schema(j.dialect, j.tableName, j.snapshotTableName)
	if err != nil {
		return err
	}

	for _, statement := range splitStatements(ddl) {
		if _, err := j.db.Exec(ctx, statement); err != nil {
			j.logError(ctx, logMsgSchemaFailed, err, logAttrQuery, statement)
			return errors.Join(ErrCreatingSchemaFailed, err)
		}
	}

	j.logOperation(ctx, logMsgSchemaEnsured, logAttrTable, j.tableName, logAttrSnapshotTable, j.snapshotTableName)

	return nil
}

func splitStatements(ddl string) []string {
	var statements []string
	for _, statement := range statementSeparator.Split(ddl, -1) {
		if statement != "" {
			statements = append(statements, statement)
		}
	}

	return statements
}

var statementSeparator = regexp.MustCompile(`;\s*`)

func validateDialect(dialect string) error {
	switch dialect {
	case DialectPostgres, DialectSQLite:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDialect, dialect)
	}
}

func validateTableName(tableName string) error {
	if tableName == "" {
		return ErrEmptyTableName
	}

	if !tableNamePattern.MatchString(tableName) {
		return fmt.Errorf("%w: %q", ErrInvalidTableName, tableName)
	}

	return nil
}
