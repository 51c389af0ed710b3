package sqljournal

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/AntonStoeckl/library-lending-go/journal"
	"github.com/AntonStoeckl/library-lending-go/journal/sqljournal/internal/adapters"
)

const (
	defaultTableName         = "lending_journal"
	defaultSnapshotTableName = "lending_snapshots"
	colSequence              = "sequence"
	colEntryType             = "entry_type"
	colOccurredAt            = "occurred_at"
	colBookID                = "book_id"
	colMemberID              = "member_id"
	colPayload               = "payload"
	colMetadata              = "metadata"
)

var (
	// ErrNilDatabaseConnection is returned when a journal is created without a database.
	ErrNilDatabaseConnection = errors.New("database connection must not be nil")

	// ErrUnsupportedDialect is returned when a pgx pool is combined with a dialect other than postgres.
	ErrUnsupportedDialect = errors.New("dialect is not supported by this database connection")

	// ErrBuildingQueryFailed is returned when goqu cannot build a statement.
	ErrBuildingQueryFailed = errors.New("building query failed")

	// ErrQueryFailed is returned when the database rejects a statement.
	ErrQueryFailed = errors.New("database query failed")

	// ErrScanningRowFailed is returned when a result row cannot be read.
	ErrScanningRowFailed = errors.New("scanning database row failed")

	// ErrUnexpectedRowsAffected is returned when an insert wrote fewer rows than entries were given.
	ErrUnexpectedRowsAffected = errors.New("unexpected number of rows affected")
)

// Journal is a journal.Journal and journal.SnapshotStore on a SQL database.
type Journal struct {
	db                adapters.DBAdapter
	dialect           string
	tableName         string
	snapshotTableName string
	logger            Logger
	contextualLogger  ContextualLogger
	metrics           MetricsCollector
	tracing           TracingCollector
}

var (
	_ journal.Journal       = (*Journal)(nil)
	_ journal.SnapshotStore = (*Journal)(nil)
)

type entryRow struct {
	sequence   int64
	entryType  string
	occurredAt int64
	bookID     string
	memberID   string
	payload    []byte
	metadata   []byte
}

// NewFromPGXPool creates a Journal on a pgx pool. The dialect is always postgres.
func NewFromPGXPool(db *pgxpool.Pool, options ...Option) (*Journal, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	j, err := newJournal(adapters.NewPGXAdapter(db), DialectPostgres, options...)
	if err != nil {
		return nil, err
	}

	if j.dialect != DialectPostgres {
		return nil, ErrUnsupportedDialect
	}

	return j, nil
}

// NewFromSQLDB creates a Journal on a *sql.DB. The dialect defaults to postgres; use
// WithDialect(DialectSQLite) for SQLite databases.
func NewFromSQLDB(db *sql.DB, options ...Option) (*Journal, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newJournal(adapters.NewSQLAdapter(db), DialectPostgres, options...)
}

// NewFromSQLX creates a Journal on a *sqlx.DB. The dialect is derived from the driver name
// and can be overridden with WithDialect.
func NewFromSQLX(db *sqlx.DB, options ...Option) (*Journal, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	dialect := DialectPostgres
	if strings.HasPrefix(db.DriverName(), "sqlite") {
		dialect = DialectSQLite
	}

	return newJournal(adapters.NewSQLXAdapter(db), dialect, options...)
}

func newJournal(db adapters.DBAdapter, dialect string, options ...Option) (*Journal, error) {
	j := &Journal{
		db:                db,
		dialect:           dialect,
		tableName:         defaultTableName,
		snapshotTableName: defaultSnapshotTableName,
	}

	for _, option := range options {
		if err := option(j); err != nil {
			return nil, err
		}
	}

	return j, nil
}

// Dialect returns the SQL dialect of the journal.
func (j *Journal) Dialect() string {
	return j.dialect
}

// Append writes all entries with one INSERT. Their Sequence fields are ignored; the database
// assigns them in the given order.
func (j *Journal) Append(ctx context.Context, entry journal.Entry, additional ...journal.Entry) (err error) {
	all := append(journal.Entries{entry}, additional...)

	ctx, span := j.startSpan(ctx, operationAppend, map[string]string{logAttrEntryCount: itoa(len(all))})
	start := time.Now()
	defer func() { j.finishOperation(ctx, span, operationAppend, start, err) }()

	rows := make([]any, 0, len(all))
	for _, e := range all {
		if e.Type == "" {
			return errors.Join(journal.ErrAppendFailed, journal.ErrEmptyEntryType)
		}

		rows = append(rows, goqu.Record{
			colEntryType:  e.Type,
			colOccurredAt: e.OccurredAt.UnixNano(),
			colBookID:     e.BookID,
			colMemberID:   e.MemberID,
			colPayload:    string(e.Payload),
			colMetadata:   string(e.Metadata),
		})
	}

	sqlQuery, _, toSQLErr := goqu.Dialect(j.dialect).
		Insert(j.tableName).
		Rows(rows...).
		ToSQL()
	if toSQLErr != nil {
		j.logError(ctx, logMsgBuildInsertQueryFailed, toSQLErr, logAttrEntryCount, len(all))
		return errors.Join(journal.ErrAppendFailed, ErrBuildingQueryFailed, toSQLErr)
	}

	execStart := time.Now()
	result, execErr := j.db.Exec(ctx, sqlQuery)
	j.logQueryWithDuration(ctx, sqlQuery, operationAppend, time.Since(execStart))

	if execErr != nil {
		j.logError(ctx, logMsgDBExecFailed, execErr, logAttrQuery, sqlQuery)
		return errors.Join(journal.ErrAppendFailed, ErrQueryFailed, execErr)
	}

	rowsAffected, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		j.logError(ctx, logMsgRowsAffectedFailed, rowsErr)
		return errors.Join(journal.ErrAppendFailed, rowsErr)
	}

	if rowsAffected != int64(len(all)) {
		return errors.Join(journal.ErrAppendFailed, ErrUnexpectedRowsAffected)
	}

	j.recordValue(ctx, metricEntriesAppended, float64(len(all)), map[string]string{logAttrOperation: operationAppend})
	j.logOperation(ctx, logMsgEntriesAppended,
		logAttrEntryCount, len(all),
		logAttrDurationMS, toMilliseconds(time.Since(start)))

	return nil
}

// Read returns the entries matching the filter in sequence order.
func (j *Journal) Read(ctx context.Context, filter journal.Filter) (entries journal.Entries, err error) {
	ctx, span := j.startSpan(ctx, operationRead, map[string]string{})
	start := time.Now()
	defer func() { j.finishOperation(ctx, span, operationRead, start, err) }()

	selectStmt := goqu.Dialect(j.dialect).
		From(j.tableName).
		Select(colSequence, colEntryType, colOccurredAt, colBookID, colMemberID, colPayload, colMetadata).
		Where(whereClause(filter)...).
		Order(goqu.I(colSequence).Asc())

	if filter.Limit() > 0 {
		selectStmt = selectStmt.Limit(uint(filter.Limit()))
	}

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		j.logError(ctx, logMsgBuildSelectQueryFailed, toSQLErr)
		return nil, errors.Join(journal.ErrReadFailed, ErrBuildingQueryFailed, toSQLErr)
	}

	queryStart := time.Now()
	rows, queryErr := j.db.Query(ctx, sqlQuery)
	j.logQueryWithDuration(ctx, sqlQuery, operationRead, time.Since(queryStart))

	if queryErr != nil {
		j.logError(ctx, logMsgDBQueryFailed, queryErr, logAttrQuery, sqlQuery)
		return nil, errors.Join(journal.ErrReadFailed, ErrQueryFailed, queryErr)
	}
	defer j.closeRows(ctx, rows)

	entries = make(journal.Entries, 0)
	for rows.Next() {
		var row entryRow
		if scanErr := rows.Scan(
			&row.sequence, &row.entryType, &row.occurredAt, &row.bookID, &row.memberID, &row.payload, &row.metadata,
		); scanErr != nil {
			j.logError(ctx, logMsgScanRowFailed, scanErr)
			return nil, errors.Join(journal.ErrReadFailed, ErrScanningRowFailed, scanErr)
		}

		entry, buildErr := journal.BuildEntry(
			row.entryType, time.Unix(0, row.occurredAt).UTC(), row.bookID, row.memberID, row.payload, row.metadata,
		)
		if buildErr != nil {
			j.logError(ctx, logMsgBuildEntryFailed, buildErr, logAttrEntryType, row.entryType)
			return nil, errors.Join(journal.ErrReadFailed, buildErr)
		}

		entry.Sequence = uint64(row.sequence)
		entries = append(entries, entry)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		j.logError(ctx, logMsgScanRowFailed, rowsErr)
		return nil, errors.Join(journal.ErrReadFailed, ErrScanningRowFailed, rowsErr)
	}

	j.logOperation(ctx, logMsgQueryCompleted,
		logAttrEntryCount, len(entries),
		logAttrDurationMS, toMilliseconds(time.Since(start)))

	return entries, nil
}

func whereClause(filter journal.Filter) []exp.Expression {
	var expressions []exp.Expression

	if types := filter.EntryTypes(); len(types) > 0 {
		expressions = append(expressions, goqu.C(colEntryType).In(types))
	}

	if filter.BookID() != "" {
		expressions = append(expressions, goqu.C(colBookID).Eq(filter.BookID()))
	}

	if filter.MemberID() != "" {
		expressions = append(expressions, goqu.C(colMemberID).Eq(filter.MemberID()))
	}

	if !filter.OccurredFrom().IsZero() {
		expressions = append(expressions, goqu.C(colOccurredAt).Gte(filter.OccurredFrom().UnixNano()))
	}

	if !filter.OccurredUntil().IsZero() {
		expressions = append(expressions, goqu.C(colOccurredAt).Lte(filter.OccurredUntil().UnixNano()))
	}

	if filter.AfterSequence() > 0 {
		expressions = append(expressions, goqu.C(colSequence).Gt(int64(filter.AfterSequence())))
	}

	return expressions
}

func (j *Journal) closeRows(ctx context.Context, rows adapters.DBRows) {
	if closeErr := rows.Close(); closeErr != nil {
		j.logWarn(ctx, logMsgCloseRowsFailed, logAttrError, closeErr.Error())
	}
}
