package journal

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/AntonStoeckl/library-lending-go/domain"
)

const defaultMemoryLockTimeout = time.Second

// Memory is an in-process Journal and SnapshotStore.
type Memory struct {
	lock      *domain.RWLock
	entries   Entries
	snapshots map[string]Snapshot
}

// NewMemory creates an empty Memory journal.
func NewMemory() *Memory {
	return &Memory{
		lock:      domain.NewRWLock(defaultMemoryLockTimeout),
		snapshots: make(map[string]Snapshot),
	}
}

// Append assigns the next sequence numbers and stores the entries.
func (m *Memory) Append(ctx context.Context, entry Entry, additional ...Entry) error {
	all := append(Entries{entry}, additional...)
	for _, e := range all {
		if e.Type == "" {
			return fmt.Errorf("%w: %w", ErrAppendFailed, ErrEmptyEntryType)
		}
	}

	if err := m.lock.Lock(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrAppendFailed, err)
	}
	defer m.lock.Unlock()

	next := uint64(len(m.entries))
	for _, e := range all {
		next++
		e.Sequence = next
		e.Payload = slices.Clone(e.Payload)
		e.Metadata = slices.Clone(e.Metadata)
		m.entries = append(m.entries, e)
	}

	return nil
}

// Read returns the matching entries in sequence order.
func (m *Memory) Read(ctx context.Context, filter Filter) (Entries, error) {
	if err := m.lock.RLock(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadFailed, err)
	}
	defer m.lock.RUnlock()

	result := make(Entries, 0)
	for _, e := range m.entries {
		if filter.Limit() > 0 && len(result) == filter.Limit() {
			break
		}

		if filter.Matches(e) {
			result = append(result, e)
		}
	}

	return result, nil
}

// Len returns the number of stored entries.
func (m *Memory) Len() int {
	if err := m.lock.RLock(context.Background()); err != nil {
		return 0
	}
	defer m.lock.RUnlock()

	return len(m.entries)
}

// SaveSnapshot stores a snapshot, replacing one of the same name.
func (m *Memory) SaveSnapshot(ctx context.Context, snapshot Snapshot) error {
	if err := snapshot.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrSavingSnapshotFailed, err)
	}

	if err := m.lock.Lock(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrSavingSnapshotFailed, err)
	}
	defer m.lock.Unlock()

	snapshot.Data = slices.Clone(snapshot.Data)
	m.snapshots[snapshot.Name] = snapshot

	return nil
}

// LoadSnapshot returns the snapshot with the given name.
func (m *Memory) LoadSnapshot(ctx context.Context, name string) (Snapshot, error) {
	if err := m.lock.RLock(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrLoadingSnapshotFailed, err)
	}
	defer m.lock.RUnlock()

	snapshot, exists := m.snapshots[name]
	if !exists {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrSnapshotNotFound, name)
	}

	return snapshot, nil
}

var (
	_ Journal       = (*Memory)(nil)
	_ SnapshotStore = (*Memory)(nil)
)
