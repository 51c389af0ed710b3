package journal

import (
	"context"
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var (
	// ErrAppendFailed is returned when entries could not be appended.
	ErrAppendFailed = errors.New("appending journal entries failed")

	// ErrReadFailed is returned when entries could not be read.
	ErrReadFailed = errors.New("reading journal entries failed")

	// ErrEmptySnapshotName is returned when a snapshot has no name.
	ErrEmptySnapshotName = errors.New("snapshot name must not be empty")

	// ErrInvalidSnapshotJSON is returned when snapshot data is not valid JSON.
	ErrInvalidSnapshotJSON = errors.New("snapshot json is not valid")

	// ErrSnapshotNotFound is returned when no snapshot with the requested name exists.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrSavingSnapshotFailed is returned when a snapshot could not be saved.
	ErrSavingSnapshotFailed = errors.New("saving snapshot failed")

	// ErrLoadingSnapshotFailed is returned when a snapshot could not be loaded.
	ErrLoadingSnapshotFailed = errors.New("loading snapshot failed")
)

// Recorder appends entries to a journal. All given entries are appended atomically and in order.
type Recorder interface {
	Append(ctx context.Context, entry Entry, additional ...Entry) error
}

// Reader reads entries in sequence order.
type Reader interface {
	Read(ctx context.Context, filter Filter) (Entries, error)
}

// Journal is a Recorder that can also be read.
type Journal interface {
	Recorder
	Reader
}

// Snapshot is a named, serialized state. Saving a snapshot under an existing name
// supersedes the previous one; older ones may be kept as history.
type Snapshot struct {
	Name      string
	Data      []byte
	Sequence  uint64 // the journal sequence the state includes, 0 if unknown
	CreatedAt time.Time
}

// Validate ensures the snapshot can be stored.
func (s Snapshot) Validate() error {
	if s.Name == "" {
		return ErrEmptySnapshotName
	}

	if !jsoniter.ConfigFastest.Valid(s.Data) {
		return ErrInvalidSnapshotJSON
	}

	return nil
}

// BuildSnapshot creates a validated Snapshot.
func BuildSnapshot(name string, data []byte, sequence uint64, createdAt time.Time) (Snapshot, error) {
	snapshot := Snapshot{
		Name:      name,
		Data:      data,
		Sequence:  sequence,
		CreatedAt: createdAt,
	}

	if err := snapshot.Validate(); err != nil {
		return Snapshot{}, err
	}

	return snapshot, nil
}

// SnapshotStore saves and loads named snapshots. LoadSnapshot returns the most recently saved
// snapshot of that name, or ErrSnapshotNotFound.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snapshot Snapshot) error
	LoadSnapshot(ctx context.Context, name string) (Snapshot, error)
}
