package reservations

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/library-lending-go/domain"
)

const (
	defaultLockTimeout     = 250 * time.Millisecond
	defaultMaxReservations = 5
)

var (
	// ErrNegativeLockTimeout is returned when a negative lock timeout is configured.
	ErrNegativeLockTimeout = errors.New("lock timeout must not be negative")

	// ErrInvalidMaxReservations is returned when the reservation limit is not positive.
	ErrInvalidMaxReservations = errors.New("max reservations must be positive")

	// ErrNilIDGenerator is returned when a nil id generator is configured.
	ErrNilIDGenerator = errors.New("id generator must not be nil")

	// ErrNilHoldChecker is returned when a nil hold checker is configured.
	ErrNilHoldChecker = errors.New("hold checker must not be nil")
)

// HoldChecker tells whether a member currently has a book on loan.
type HoldChecker interface {
	HasActiveLoan(ctx context.Context, memberID, bookID string) (bool, error)
}

type enqueueInput struct {
	MemberID   string    `validate:"required"`
	BookID     string    `validate:"required"`
	ReservedAt time.Time `validate:"required"`
	ExpiresAt  time.Time `validate:"required,gtfield=ReservedAt"`
}

// Queue holds all reservations and one ordered queue of active reservations per book,
// guarded by one read/write lock.
type Queue struct {
	lockTimeout     time.Duration
	maxReservations int
	newID           func() string
	holds           HoldChecker
	lock            *domain.RWLock
	reservations    map[string]Reservation
	queues          map[string][]string // book id -> active reservation ids in queue order
	activeByMember  map[string][]string
	nextSequence    uint64
}

// Option defines a functional option for configuring a Queue.
type Option func(*Queue) error

// WithLockTimeout sets how long an operation waits for the queue's lock
// when its context carries no deadline.
func WithLockTimeout(timeout time.Duration) Option {
	return func(q *Queue) error {
		if timeout < 0 {
			return ErrNegativeLockTimeout
		}

		q.lockTimeout = timeout

		return nil
	}
}

// WithMaxReservations sets how many active reservations one member may hold across all books.
func WithMaxReservations(limit int) Option {
	return func(q *Queue) error {
		if limit <= 0 {
			return ErrInvalidMaxReservations
		}

		q.maxReservations = limit

		return nil
	}
}

// WithIDGenerator replaces the default random UUID reservation ids.
func WithIDGenerator(newID func() string) Option {
	return func(q *Queue) error {
		if newID == nil {
			return ErrNilIDGenerator
		}

		q.newID = newID

		return nil
	}
}

// WithHoldChecker makes Enqueue reject members that already have the book on loan.
func WithHoldChecker(holds HoldChecker) Option {
	return func(q *Queue) error {
		if holds == nil {
			return ErrNilHoldChecker
		}

		q.holds = holds

		return nil
	}
}

// NewQueue creates an empty Queue.
func NewQueue(options ...Option) (*Queue, error) {
	q := &Queue{
		lockTimeout:     defaultLockTimeout,
		maxReservations: defaultMaxReservations,
		newID:           uuid.NewString,
		reservations:    make(map[string]Reservation),
		queues:          make(map[string][]string),
		activeByMember:  make(map[string][]string),
	}

	for _, option := range options {
		if err := option(q); err != nil {
			return nil, err
		}
	}

	q.lock = domain.NewRWLock(q.lockTimeout)

	return q, nil
}

// MaxReservations returns the configured per-member limit.
func (q *Queue) MaxReservations() int {
	return q.maxReservations
}

// Enqueue places a new active reservation.
//
// It fails with ErrAlreadyHeld if the member has the book on loan (as told by the HoldChecker)
// or already has an active reservation for it, and with ErrLimitExceeded if the member holds the
// maximum number of active reservations. Reservations that expired before reservedAt but are not
// yet marked expired do not count toward the limit.
func (q *Queue) Enqueue(
	ctx context.Context,
	memberID, bookID string,
	priority int,
	reservedAt, expiresAt time.Time,
) (Reservation, error) {

	input := enqueueInput{MemberID: memberID, BookID: bookID, ReservedAt: reservedAt, ExpiresAt: expiresAt}
	if err := domain.ValidateStruct(input, domain.ErrInvalidReservation); err != nil {
		return Reservation{}, err
	}

	// The hold checker takes its own lock; asking before taking ours keeps the locks unnested.
	if q.holds != nil {
		onLoan, err := q.holds.HasActiveLoan(ctx, memberID, bookID)
		if err != nil {
			return Reservation{}, err
		}

		if onLoan {
			return Reservation{}, fmt.Errorf("%w: member %s has book %s on loan", domain.ErrAlreadyHeld, memberID, bookID)
		}
	}

	if err := q.lock.Lock(ctx); err != nil {
		return Reservation{}, err
	}
	defer q.lock.Unlock()

	for _, id := range q.queues[bookID] {
		if q.reservations[id].MemberID == memberID {
			return Reservation{}, fmt.Errorf("%w: member %s already reserved book %s", domain.ErrAlreadyHeld, memberID, bookID)
		}
	}

	if q.countActive(memberID, reservedAt) >= q.maxReservations {
		return Reservation{}, fmt.Errorf("%w: member %s holds %d reservations", domain.ErrLimitExceeded, memberID, q.maxReservations)
	}

	q.nextSequence++
	reservation := Reservation{
		ID:         q.newID(),
		MemberID:   memberID,
		BookID:     bookID,
		ReservedAt: reservedAt,
		ExpiresAt:  expiresAt,
		Status:     StatusActive,
		Priority:   priority,
		Sequence:   q.nextSequence,
	}

	if _, exists := q.reservations[reservation.ID]; exists {
		return Reservation{}, fmt.Errorf("%w: reservation %s", domain.ErrAlreadyExists, reservation.ID)
	}

	q.reservations[reservation.ID] = reservation
	q.insert(reservation)

	return reservation, nil
}

// Cancel marks an active reservation cancelled. Cancelling it again fails with ErrAlreadyCancelled;
// a fulfilled or expired reservation cannot be cancelled (ErrNotActive).
func (q *Queue) Cancel(ctx context.Context, reservationID string) (Reservation, error) {
	if err := q.lock.Lock(ctx); err != nil {
		return Reservation{}, err
	}
	defer q.lock.Unlock()

	reservation, exists := q.reservations[reservationID]
	if !exists {
		return Reservation{}, fmt.Errorf("%w: reservation %s", domain.ErrNotFound, reservationID)
	}

	switch reservation.Status {
	case StatusActive:
		return q.finish(reservation, StatusCancelled), nil
	case StatusCancelled:
		return Reservation{}, fmt.Errorf("%w: reservation %s", domain.ErrAlreadyCancelled, reservationID)
	default:
		return Reservation{}, fmt.Errorf("%w: reservation %s is %s", domain.ErrNotActive, reservationID, reservation.Status)
	}
}

// PeekNext returns the head of a book's queue without removing it.
// The boolean is false if nobody is waiting.
func (q *Queue) PeekNext(ctx context.Context, bookID string) (Reservation, bool, error) {
	if err := q.lock.RLock(ctx); err != nil {
		return Reservation{}, false, err
	}
	defer q.lock.RUnlock()

	queue := q.queues[bookID]
	if len(queue) == 0 {
		return Reservation{}, false, nil
	}

	return q.reservations[queue[0]], true, nil
}

// Promote removes the head of a book's queue and marks it fulfilled.
// The boolean is false if nobody is waiting.
func (q *Queue) Promote(ctx context.Context, bookID string) (Reservation, bool, error) {
	if err := q.lock.Lock(ctx); err != nil {
		return Reservation{}, false, err
	}
	defer q.lock.Unlock()

	queue := q.queues[bookID]
	if len(queue) == 0 {
		return Reservation{}, false, nil
	}

	return q.finish(q.reservations[queue[0]], StatusFulfilled), true, nil
}

// Fulfill marks one active reservation fulfilled and removes it from its queue, wherever it
// stands. A reservation that is no longer active fails with ErrNotActive.
func (q *Queue) Fulfill(ctx context.Context, reservationID string) (Reservation, error) {
	if err := q.lock.Lock(ctx); err != nil {
		return Reservation{}, err
	}
	defer q.lock.Unlock()

	reservation, exists := q.reservations[reservationID]
	if !exists {
		return Reservation{}, fmt.Errorf("%w: reservation %s", domain.ErrNotFound, reservationID)
	}

	if reservation.Status != StatusActive {
		return Reservation{}, fmt.Errorf("%w: reservation %s is %s", domain.ErrNotActive, reservationID, reservation.Status)
	}

	return q.finish(reservation, StatusFulfilled), nil
}

// FulfillFor marks a member's active reservation for a book fulfilled, e.g. because the member
// borrowed the book directly. The boolean is false if the member had no such reservation.
func (q *Queue) FulfillFor(ctx context.Context, memberID, bookID string) (Reservation, bool, error) {
	if err := q.lock.Lock(ctx); err != nil {
		return Reservation{}, false, err
	}
	defer q.lock.Unlock()

	for _, id := range q.queues[bookID] {
		if reservation := q.reservations[id]; reservation.MemberID == memberID {
			return q.finish(reservation, StatusFulfilled), true, nil
		}
	}

	return Reservation{}, false, nil
}

// ExpireOlderThan marks every active reservation whose expiration lies before now as expired
// and returns them. Candidates are collected under the read lock; only the marking takes the
// write lock.
func (q *Queue) ExpireOlderThan(ctx context.Context, now time.Time) ([]Reservation, error) {
	return q.expire(ctx, now, func(string) bool { return true })
}

// ExpireBookOlderThan is ExpireOlderThan restricted to the queue of one book.
func (q *Queue) ExpireBookOlderThan(ctx context.Context, bookID string, now time.Time) ([]Reservation, error) {
	return q.expire(ctx, now, func(id string) bool { return id == bookID })
}

func (q *Queue) expire(ctx context.Context, now time.Time, forBook func(bookID string) bool) ([]Reservation, error) {
	if err := q.lock.RLock(ctx); err != nil {
		return nil, err
	}

	var candidates []string
	for bookID, queue := range q.queues {
		if !forBook(bookID) {
			continue
		}

		for _, id := range queue {
			if q.reservations[id].IsExpired(now) {
				candidates = append(candidates, id)
			}
		}
	}
	q.lock.RUnlock()

	if len(candidates) == 0 {
		return nil, nil
	}

	if err := q.lock.Lock(ctx); err != nil {
		return nil, err
	}
	defer q.lock.Unlock()

	expired := make([]Reservation, 0, len(candidates))
	for _, id := range candidates {
		// state may have changed between the two phases
		if reservation := q.reservations[id]; reservation.IsExpired(now) {
			expired = append(expired, q.finish(reservation, StatusExpired))
		}
	}

	slices.SortFunc(expired, compareQueued)

	return expired, nil
}

// Get returns the reservation with the given id, whatever its status.
func (q *Queue) Get(ctx context.Context, reservationID string) (Reservation, error) {
	if err := q.lock.RLock(ctx); err != nil {
		return Reservation{}, err
	}
	defer q.lock.RUnlock()

	reservation, exists := q.reservations[reservationID]
	if !exists {
		return Reservation{}, fmt.Errorf("%w: reservation %s", domain.ErrNotFound, reservationID)
	}

	return reservation, nil
}

// ListAll returns all reservations, whatever their status, ordered by placement.
func (q *Queue) ListAll(ctx context.Context) ([]Reservation, error) {
	return q.filter(ctx, func(Reservation) bool { return true })
}

// ListByMember returns all of a member's reservations, whatever their status, ordered by placement.
func (q *Queue) ListByMember(ctx context.Context, memberID string) ([]Reservation, error) {
	return q.filter(ctx, func(r Reservation) bool { return r.MemberID == memberID })
}

// ListQueued returns the active reservations of a book in queue order.
func (q *Queue) ListQueued(ctx context.Context, bookID string) ([]Reservation, error) {
	if err := q.lock.RLock(ctx); err != nil {
		return nil, err
	}
	defer q.lock.RUnlock()

	queue := q.queues[bookID]
	result := make([]Reservation, 0, len(queue))
	for _, id := range queue {
		result = append(result, q.reservations[id])
	}

	return result, nil
}

// QueueLength counts the reservations waiting for a book that are not expired at now.
func (q *Queue) QueueLength(ctx context.Context, bookID string, now time.Time) (int, error) {
	if err := q.lock.RLock(ctx); err != nil {
		return 0, err
	}
	defer q.lock.RUnlock()

	count := 0
	for _, id := range q.queues[bookID] {
		if !q.reservations[id].IsExpired(now) {
			count++
		}
	}

	return count, nil
}

// ActiveCount returns the number of active reservations a member holds, including ones that
// have expired but are not yet marked.
func (q *Queue) ActiveCount(ctx context.Context, memberID string) (int, error) {
	if err := q.lock.RLock(ctx); err != nil {
		return 0, err
	}
	defer q.lock.RUnlock()

	return len(q.activeByMember[memberID]), nil
}

// Restore replaces all reservations, e.g. from a snapshot, and rebuilds the queues.
func (q *Queue) Restore(ctx context.Context, reservations []Reservation) error {
	restored := make(map[string]Reservation, len(reservations))
	var nextSequence uint64

	for _, reservation := range reservations {
		if reservation.ID == "" {
			return fmt.Errorf("%w: missing id", domain.ErrInvalidReservation)
		}

		input := enqueueInput{
			MemberID:   reservation.MemberID,
			BookID:     reservation.BookID,
			ReservedAt: reservation.ReservedAt,
			ExpiresAt:  reservation.ExpiresAt,
		}
		if err := domain.ValidateStruct(input, domain.ErrInvalidReservation); err != nil {
			return err
		}

		if _, dup := restored[reservation.ID]; dup {
			return fmt.Errorf("%w: reservation %s", domain.ErrAlreadyExists, reservation.ID)
		}

		restored[reservation.ID] = reservation
		nextSequence = max(nextSequence, reservation.Sequence)
	}

	if err := q.lock.Lock(ctx); err != nil {
		return err
	}
	defer q.lock.Unlock()

	q.reservations = restored
	q.queues = make(map[string][]string)
	q.activeByMember = make(map[string][]string)
	q.nextSequence = nextSequence

	for _, reservation := range restored {
		if reservation.IsActive() {
			q.insert(reservation)
		}
	}

	return nil
}

// insert puts an active reservation at its place in the book's queue.
func (q *Queue) insert(reservation Reservation) {
	queue := q.queues[reservation.BookID]
	at, _ := slices.BinarySearchFunc(queue, reservation, func(id string, target Reservation) int {
		return compareQueued(q.reservations[id], target)
	})
	q.queues[reservation.BookID] = slices.Insert(queue, at, reservation.ID)
	q.activeByMember[reservation.MemberID] = append(q.activeByMember[reservation.MemberID], reservation.ID)
}

func (q *Queue) countActive(memberID string, at time.Time) int {
	count := 0
	for _, id := range q.activeByMember[memberID] {
		if !q.reservations[id].IsExpired(at) {
			count++
		}
	}

	return count
}

// finish moves an active reservation to a terminal status and out of its queue.
func (q *Queue) finish(reservation Reservation, status Status) Reservation {
	reservation.Status = status
	q.reservations[reservation.ID] = reservation

	queue := q.queues[reservation.BookID]
	if i := slices.Index(queue, reservation.ID); i >= 0 {
		queue = slices.Delete(queue, i, i+1)
	}

	if len(queue) == 0 {
		delete(q.queues, reservation.BookID)
	} else {
		q.queues[reservation.BookID] = queue
	}

	held := slices.DeleteFunc(q.activeByMember[reservation.MemberID], func(id string) bool {
		return id == reservation.ID
	})
	if len(held) == 0 {
		delete(q.activeByMember, reservation.MemberID)
	} else {
		q.activeByMember[reservation.MemberID] = held
	}

	return reservation
}

func (q *Queue) filter(ctx context.Context, keep func(Reservation) bool) ([]Reservation, error) {
	if err := q.lock.RLock(ctx); err != nil {
		return nil, err
	}

	result := make([]Reservation, 0)
	for _, reservation := range q.reservations {
		if keep(reservation) {
			result = append(result, reservation)
		}
	}
	q.lock.RUnlock()

	slices.SortFunc(result, func(a, b Reservation) int {
		return cmp.Or(cmp.Compare(a.Sequence, b.Sequence), strings.Compare(a.ID, b.ID))
	})

	return result, nil
}
