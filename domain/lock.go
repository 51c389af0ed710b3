package domain

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// writerWeight is the semaphore weight a writer acquires; readers acquire 1.
// It bounds the number of concurrent readers.
const writerWeight = 1 << 20

// RWLock is a read/write lock whose acquisition honors a context and times out instead of hanging.
//
// When the context carries no deadline, the lock's default timeout is applied.
// A timed-out acquisition returns ErrBusy. The underlying semaphore serves waiters in FIFO
// order, so a waiting writer is not starved by a stream of readers.
type RWLock struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

// NewRWLock creates an RWLock with the given default timeout. A timeout <= 0 means
// acquisition waits as long as the context allows.
func NewRWLock(timeout time.Duration) *RWLock {
	return &RWLock{
		sem:     semaphore.NewWeighted(writerWeight),
		timeout: timeout,
	}
}

// RLock acquires the lock for reading.
func (l *RWLock) RLock(ctx context.Context) error {
	return acquire(ctx, l.sem, 1, l.timeout)
}

// RUnlock releases a read lock.
func (l *RWLock) RUnlock() {
	l.sem.Release(1)
}

// Lock acquires the lock exclusively.
func (l *RWLock) Lock(ctx context.Context) error {
	return acquire(ctx, l.sem, writerWeight, l.timeout)
}

// Unlock releases an exclusive lock.
func (l *RWLock) Unlock() {
	l.sem.Release(writerWeight)
}

// KeyedLock hands out one exclusive lock per key, e.g. per book id.
// Entries are reference counted and dropped once nobody holds or waits for them.
type KeyedLock struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
	timeout time.Duration
}

type keyedEntry struct {
	sem  *semaphore.Weighted
	refs int
}

// NewKeyedLock creates a KeyedLock with the given default timeout.
func NewKeyedLock(timeout time.Duration) *KeyedLock {
	return &KeyedLock{
		entries: make(map[string]*keyedEntry),
		timeout: timeout,
	}
}

// Lock acquires the lock for key and returns the function that releases it.
func (k *KeyedLock) Lock(ctx context.Context, key string) (func(), error) {
	entry := k.ref(key)

	if err := acquire(ctx, entry.sem, 1, k.timeout); err != nil {
		k.unref(key)
		return nil, err
	}

	var once sync.Once

	return func() {
		once.Do(func() {
			entry.sem.Release(1)
			k.unref(key)
		})
	}, nil
}

func (k *KeyedLock) ref(key string) *keyedEntry {
	k.mu.Lock()
	defer k.mu.Unlock()

	entry, ok := k.entries[key]
	if !ok {
		entry = &keyedEntry{sem: semaphore.NewWeighted(1)}
		k.entries[key] = entry
	}
	entry.refs++

	return entry
}

func (k *KeyedLock) unref(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	entry := k.entries[key]
	entry.refs--
	if entry.refs == 0 {
		delete(k.entries, key)
	}
}

func acquire(ctx context.Context, sem *semaphore.Weighted, n int64, timeout time.Duration) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := sem.Acquire(ctx, n); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}

		return errors.Join(ErrBusy, err)
	}

	return nil
}
