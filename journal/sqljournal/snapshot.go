package sqljournal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/AntonStoeckl/library-lending-go/journal"
)

const (
	colID        = "id"
	colName      = "name"
	colData      = "data"
	colCreatedAt = "created_at"
)

// SaveSnapshot stores a snapshot. Older snapshots of the same name are kept; LoadSnapshot
// returns the latest one.
func (j *Journal) SaveSnapshot(ctx context.Context, snapshot journal.Snapshot) (err error) {
	ctx, span := j.startSpan(ctx, operationSaveSnapshot, map[string]string{logAttrSnapshotName: snapshot.Name})
	start := time.Now()
	defer func() { j.finishOperation(ctx, span, operationSaveSnapshot, start, err) }()

	if validateErr := snapshot.Validate(); validateErr != nil {
		return errors.Join(journal.ErrSavingSnapshotFailed, validateErr)
	}

	sqlQuery, _, toSQLErr := goqu.Dialect(j.dialect).
		Insert(j.snapshotTableName).
		Rows(goqu.Record{
			colName:      snapshot.Name,
			colData:      string(snapshot.Data),
			colSequence:  int64(snapshot.Sequence),
			colCreatedAt: snapshot.CreatedAt.UnixNano(),
		}).
		ToSQL()
	if toSQLErr != nil {
		j.logError(ctx, logMsgBuildInsertQueryFailed, toSQLErr, logAttrSnapshotName, snapshot.Name)
		return errors.Join(journal.ErrSavingSnapshotFailed, ErrBuildingQueryFailed, toSQLErr)
	}

	execStart := time.Now()
	_, execErr := j.db.Exec(ctx, sqlQuery)
	j.logQueryWithDuration(ctx, sqlQuery, operationSaveSnapshot, time.Since(execStart))

	if execErr != nil {
		j.logError(ctx, logMsgDBExecFailed, execErr, logAttrSnapshotName, snapshot.Name)
		return errors.Join(journal.ErrSavingSnapshotFailed, ErrQueryFailed, execErr)
	}

	j.logOperation(ctx, logMsgSnapshotSaved,
		logAttrSnapshotName, snapshot.Name,
		logAttrDurationMS, toMilliseconds(time.Since(start)))

	return nil
}

// LoadSnapshot returns the latest snapshot with the given name.
func (j *Journal) LoadSnapshot(ctx context.Context, name string) (snapshot journal.Snapshot, err error) {
	ctx, span := j.startSpan(ctx, operationLoadSnapshot, map[string]string{logAttrSnapshotName: name})
	start := time.Now()
	defer func() { j.finishOperation(ctx, span, operationLoadSnapshot, start, err) }()

	sqlQuery, _, toSQLErr := goqu.Dialect(j.dialect).
		From(j.snapshotTableName).
		Select(colName, colData, colSequence, colCreatedAt).
		Where(goqu.C(colName).Eq(name)).
		Order(goqu.I(colID).Desc()).
		Limit(1).
		ToSQL()
	if toSQLErr != nil {
		j.logError(ctx, logMsgBuildSelectQueryFailed, toSQLErr, logAttrSnapshotName, name)
		return journal.Snapshot{}, errors.Join(journal.ErrLoadingSnapshotFailed, ErrBuildingQueryFailed, toSQLErr)
	}

	queryStart := time.Now()
	rows, queryErr := j.db.Query(ctx, sqlQuery)
	j.logQueryWithDuration(ctx, sqlQuery, operationLoadSnapshot, time.Since(queryStart))

	if queryErr != nil {
		j.logError(ctx, logMsgDBQueryFailed, queryErr, logAttrSnapshotName, name)
		return journal.Snapshot{}, errors.Join(journal.ErrLoadingSnapshotFailed, ErrQueryFailed, queryErr)
	}
	defer j.closeRows(ctx, rows)

	if !rows.Next() {
		if rowsErr := rows.Err(); rowsErr != nil {
			j.logError(ctx, logMsgScanRowFailed, rowsErr, logAttrSnapshotName, name)
			return journal.Snapshot{}, errors.Join(journal.ErrLoadingSnapshotFailed, ErrScanningRowFailed, rowsErr)
		}

		return journal.Snapshot{}, fmt.Errorf("%w: %s", journal.ErrSnapshotNotFound, name)
	}

	var (
		data      []byte
		sequence  int64
		createdAt int64
	)

	if scanErr := rows.Scan(&snapshot.Name, &data, &sequence, &createdAt); scanErr != nil {
		j.logError(ctx, logMsgScanRowFailed, scanErr, logAttrSnapshotName, name)
		return journal.Snapshot{}, errors.Join(journal.ErrLoadingSnapshotFailed, ErrScanningRowFailed, scanErr)
	}

	snapshot.Data = data
	snapshot.Sequence = uint64(sequence)
	snapshot.CreatedAt = time.Unix(0, createdAt).UTC()

	j.logOperation(ctx, logMsgSnapshotLoaded,
		logAttrSnapshotName, name,
		logAttrDurationMS, toMilliseconds(time.Since(start)))

	return snapshot, nil
}
