package lending

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AntonStoeckl/library-lending-go/domain"
	"github.com/AntonStoeckl/library-lending-go/journal"
	"github.com/AntonStoeckl/library-lending-go/loans"
	"github.com/AntonStoeckl/library-lending-go/reservations"
)

const (
	defaultLockTimeout         = 250 * time.Millisecond
	defaultCompensationTimeout = 2 * time.Second
)

var (
	// ErrNilCatalog is returned when the coordinator is created without a catalog.
	ErrNilCatalog = errors.New("catalog must not be nil")

	// ErrNilMembers is returned when the coordinator is created without a member store.
	ErrNilMembers = errors.New("member store must not be nil")

	// ErrNilLedger is returned when the coordinator is created without a loan ledger.
	ErrNilLedger = errors.New("loan ledger must not be nil")

	// ErrNilQueue is returned when the coordinator is created without a reservation queue.
	ErrNilQueue = errors.New("reservation queue must not be nil")

	// ErrCompensationFailed is returned when a reserved copy could not be released again.
	// The available copies of the book are too low by one until it is corrected.
	ErrCompensationFailed = errors.New("releasing reserved copy failed")

	// ErrHandoffFailed is returned by ReturnBook when the book was returned but handing the copy
	// to the next reservation failed.
	ErrHandoffFailed = errors.New("handing returned copy to next reservation failed")
)

// Receipt is the outcome of returning a book. Handoff and Reservation are set when the copy went
// directly to the member at the head of the book's reservation queue.
type Receipt struct {
	Loan        loans.Loan
	Handoff     *loans.Loan
	Reservation *reservations.Reservation
}

// Availability is a point-in-time view of a book. The values are read one after another without
// holding the book's lock, so under concurrent borrowing they may not match each other.
type Availability struct {
	BookID          string
	AvailableCopies int
	TotalCopies     int
	QueueLength     int
}

// Coordinator implements all operations spanning more than one store.
type Coordinator struct {
	catalog             CatalogStore
	members             MemberStore
	ledger              LoanLedger
	queue               ReservationQueue
	policy              Policy
	gate                *domain.RWLock // shared by operations, exclusive for snapshot and restore
	books               *domain.KeyedLock
	lockTimeout         time.Duration
	compensationTimeout time.Duration
	journal             journal.Recorder
	obs                 observability
}

// NewCoordinator creates a Coordinator over the given stores. The ledger's fine per day and the
// queue's reservation limit must equal the policy's.
func NewCoordinator(
	catalog CatalogStore,
	members MemberStore,
	ledger LoanLedger,
	queue ReservationQueue,
	policy Policy,
	options ...Option,
) (*Coordinator, error) {

	switch {
	case catalog == nil:
		return nil, ErrNilCatalog
	case members == nil:
		return nil, ErrNilMembers
	case ledger == nil:
		return nil, ErrNilLedger
	case queue == nil:
		return nil, ErrNilQueue
	}

	if err := policy.Validate(); err != nil {
		return nil, err
	}

	if ledger.FinePerDay() != policy.FinePerDay {
		return nil, fmt.Errorf("%w: ledger charges %v per day, policy %v",
			ErrPolicyMismatch, ledger.FinePerDay(), policy.FinePerDay)
	}

	if queue.MaxReservations() != policy.MaxReservations {
		return nil, fmt.Errorf("%w: queue allows %d reservations, policy %d",
			ErrPolicyMismatch, queue.MaxReservations(), policy.MaxReservations)
	}

	c := &Coordinator{
		catalog:             catalog,
		members:             members,
		ledger:              ledger,
		queue:               queue,
		policy:              policy,
		lockTimeout:         defaultLockTimeout,
		compensationTimeout: defaultCompensationTimeout,
	}

	for _, option := range options {
		if err := option(c); err != nil {
			return nil, err
		}
	}

	c.gate = domain.NewRWLock(c.lockTimeout)
	c.books = domain.NewKeyedLock(c.lockTimeout)

	return c, nil
}

// Policy returns the lending rules of the coordinator.
func (c *Coordinator) Policy() Policy {
	return c.policy
}

// Borrow lends one copy of a book to an active member. The loan is due MaxLoanDays after now.
//
// A copy is taken from the catalog first; if opening the loan fails afterward, the copy is
// released again before Borrow returns. An active reservation the member holds for the book is
// fulfilled by the loan.
func (c *Coordinator) Borrow(ctx context.Context, memberID, bookID string, now time.Time) (loan loans.Loan, err error) {
	started := time.Now()
	ctx, span := c.obs.startSpan(ctx, OperationBorrow, map[string]string{logAttrMemberID: memberID, logAttrBookID: bookID})
	defer func() { c.obs.finish(ctx, span, OperationBorrow, started, err) }()

	if memberID == "" || bookID == "" {
		return loans.Loan{}, fmt.Errorf("%w: member id and book id are required", domain.ErrInvalidLoan)
	}

	unlock, err := c.enter(ctx, bookID)
	if err != nil {
		return loans.Loan{}, err
	}
	defer unlock()

	member, err := c.members.Get(ctx, memberID)
	if err != nil {
		return loans.Loan{}, err
	}

	if !member.Active {
		return loans.Loan{}, fmt.Errorf("%w: member %s", domain.ErrMemberInactive, memberID)
	}

	reserved, err := c.catalog.TryReserveCopy(ctx, bookID)
	if err != nil {
		return loans.Loan{}, err
	}

	if !reserved {
		return loans.Loan{}, fmt.Errorf("%w: book %s", domain.ErrNoCopiesAvailable, bookID)
	}

	committed := false
	defer func() {
		if committed {
			return
		}

		// also runs when opening the loan panicked
		if releaseErr := c.compensate(ctx, OperationBorrow, bookID); releaseErr != nil {
			err = errors.Join(err, ErrCompensationFailed, releaseErr)
		}
	}()

	opened, err := c.ledger.Open(ctx, memberID, bookID, now, domain.AddDays(now, c.policy.MaxLoanDays))
	if err != nil {
		return loans.Loan{}, err
	}

	committed = true

	detached, cancel := c.detached(ctx)
	defer cancel()

	batch := newEntryBatch()
	reservation, fulfilled, fulfillErr := c.queue.FulfillFor(detached, memberID, bookID)
	switch {
	case fulfillErr != nil:
		c.obs.warn(ctx, logMsgFulfillFailed, logAttrMemberID, memberID, logAttrBookID, bookID, logAttrError, fulfillErr.Error())
		batch.lent(opened, "")
	case fulfilled:
		batch.lent(opened, reservation.ID)
		batch.changed(ReservationFulfilledEntryType, now, reservation, "")
	default:
		batch.lent(opened, "")
	}

	c.record(ctx, OperationBorrow, batch)

	return opened, nil
}

// ReturnBook closes a loan at now, fixing its fine, and gives the copy back.
//
// Afterward the book's stale reservations are expired and the copy goes directly to the
// first queued member who is still active and does not hold the book already; reservations of
// members who are not are cancelled on the way. Returning a loan twice fails with
// domain.ErrAlreadyReturned and changes nothing.
//
// If the return succeeded but the handoff failed, the receipt is returned together with an
// error wrapping ErrHandoffFailed.
func (c *Coordinator) ReturnBook(ctx context.Context, loanID string, now time.Time) (receipt Receipt, err error) {
	started := time.Now()
	ctx, span := c.obs.startSpan(ctx, OperationReturn, map[string]string{logAttrLoanID: loanID})
	defer func() { c.obs.finish(ctx, span, OperationReturn, started, err) }()

	loan, err := c.ledger.Get(ctx, loanID)
	if err != nil {
		return Receipt{}, err
	}

	unlock, err := c.enter(ctx, loan.BookID)
	if err != nil {
		return Receipt{}, err
	}
	defer unlock()

	closed, err := c.ledger.Close(ctx, loanID, now)
	if err != nil {
		return Receipt{}, err
	}

	receipt.Loan = closed
	c.obs.recordValue(ctx, FineAmountMetric, closed.Fine, map[string]string{logAttrOperation: OperationReturn})

	batch := newEntryBatch()
	batch.returned(closed)
	defer func() { c.record(ctx, OperationReturn, batch) }()

	// the loan is closed; the rest must not be cut short by the caller
	detached, cancel := c.detached(ctx)
	defer cancel()

	if err := c.catalog.ReleaseCopy(detached, closed.BookID); err != nil {
		c.obs.error(ctx, logMsgCompensationFailed, logAttrBookID, closed.BookID, logAttrError, err.Error())
		c.obs.incrementCounter(ctx, CompensationFailuresMetric, map[string]string{logAttrOperation: OperationReturn})

		return receipt, errors.Join(ErrCompensationFailed, err)
	}

	handoff, promoted, err := c.handOff(detached, closed.BookID, now, batch)
	receipt.Handoff = handoff
	receipt.Reservation = promoted

	if err != nil {
		c.obs.error(ctx, logMsgHandoffFailed, logAttrBookID, closed.BookID, logAttrError, err.Error())
		return receipt, errors.Join(ErrHandoffFailed, err)
	}

	if handoff != nil {
		c.obs.info(ctx, logMsgHandoff,
			logAttrBookID, closed.BookID,
			logAttrMemberID, handoff.MemberID,
			logAttrLoanID, handoff.ID,
			logAttrReservationID, promoted.ID)
		c.obs.incrementCounter(ctx, HandoffsMetric, map[string]string{logAttrOperation: OperationReturn})
	}

	return receipt, nil
}

// handOff lends the copy just returned to the head of the book's reservation queue.
// The caller holds the book's lock and has released the copy.
func (c *Coordinator) handOff(
	ctx context.Context,
	bookID string,
	now time.Time,
	batch *entryBatch,
) (*loans.Loan, *reservations.Reservation, error) {

	expired, err := c.queue.ExpireBookOlderThan(ctx, bookID, now)
	if err != nil {
		return nil, nil, err
	}
	batch.expired(now, expired)

	for {
		head, waiting, err := c.queue.PeekNext(ctx, bookID)
		if err != nil {
			return nil, nil, err
		}

		if !waiting {
			return nil, nil, nil
		}

		reason, err := c.ineligibility(ctx, head)
		if err != nil {
			return nil, nil, err
		}

		if reason != "" {
			cancelled, err := c.queue.Cancel(ctx, head.ID)
			if err != nil {
				return nil, nil, err
			}

			batch.changed(ReservationCancelledEntryType, now, cancelled, reason)
			c.obs.info(ctx, logMsgReservationSkipped,
				logAttrReservationID, head.ID,
				logAttrMemberID, head.MemberID,
				logAttrBookID, bookID,
				logAttrErrorKind, reason)

			continue
		}

		reserved, err := c.catalog.TryReserveCopy(ctx, bookID)
		if err != nil {
			return nil, nil, err
		}

		if !reserved {
			return nil, nil, nil
		}

		loan, err := c.ledger.Open(ctx, head.MemberID, bookID, now, domain.AddDays(now, c.policy.MaxLoanDays))
		if err != nil {
			if releaseErr := c.compensate(ctx, OperationReturn, bookID); releaseErr != nil {
				return nil, nil, errors.Join(err, ErrCompensationFailed, releaseErr)
			}

			return nil, nil, err
		}

		// the reservation the loan was opened for, even if the head has changed meanwhile
		promoted, err := c.queue.Fulfill(ctx, head.ID)
		if err != nil {
			batch.lent(loan, "")
			return &loan, nil, err
		}

		batch.lent(loan, promoted.ID)
		batch.changed(ReservationPromotedEntryType, now, promoted, "")

		return &loan, &promoted, nil
	}
}

// ineligibility returns why a queued reservation cannot receive the book, or "" if it can.
func (c *Coordinator) ineligibility(ctx context.Context, reservation reservations.Reservation) (string, error) {
	member, err := c.members.Get(ctx, reservation.MemberID)
	switch {
	case domain.KindOf(err) == domain.KindNotFound:
		return CancelReasonMemberInactive, nil
	case err != nil:
		return "", err
	case !member.Active:
		return CancelReasonMemberInactive, nil
	}

	onLoan, err := c.ledger.HasActiveLoan(ctx, reservation.MemberID, reservation.BookID)
	if err != nil {
		return "", err
	}

	if onLoan {
		return CancelReasonAlreadyOnLoan, nil
	}

	return "", nil
}

// Reserve places an active member in the reservation queue of an existing book. The reservation
// expires ReservationHoldDays after now. Stale reservations of the book are expired first, so
// they do not count against the member's limit.
func (c *Coordinator) Reserve(
	ctx context.Context,
	memberID, bookID string,
	priority int,
	now time.Time,
) (reservation reservations.Reservation, err error) {

	started := time.Now()
	ctx, span := c.obs.startSpan(ctx, OperationReserve, map[string]string{logAttrMemberID: memberID, logAttrBookID: bookID})
	defer func() { c.obs.finish(ctx, span, OperationReserve, started, err) }()

	if memberID == "" || bookID == "" {
		return reservations.Reservation{}, fmt.Errorf("%w: member id and book id are required", domain.ErrInvalidReservation)
	}

	unlock, err := c.enter(ctx, bookID)
	if err != nil {
		return reservations.Reservation{}, err
	}
	defer unlock()

	if _, err := c.catalog.Get(ctx, bookID); err != nil {
		return reservations.Reservation{}, err
	}

	member, err := c.members.Get(ctx, memberID)
	if err != nil {
		return reservations.Reservation{}, err
	}

	if !member.Active {
		return reservations.Reservation{}, fmt.Errorf("%w: member %s", domain.ErrMemberInactive, memberID)
	}

	onLoan, err := c.ledger.HasActiveLoan(ctx, memberID, bookID)
	if err != nil {
		return reservations.Reservation{}, err
	}

	if onLoan {
		return reservations.Reservation{}, fmt.Errorf("%w: member %s has book %s on loan", domain.ErrAlreadyHeld, memberID, bookID)
	}

	batch := newEntryBatch()
	defer func() { c.record(ctx, OperationReserve, batch) }()

	expired, err := c.queue.ExpireBookOlderThan(ctx, bookID, now)
	if err != nil {
		return reservations.Reservation{}, err
	}
	batch.expired(now, expired)

	placed, err := c.queue.Enqueue(ctx, memberID, bookID, priority, now, domain.AddDays(now, c.policy.ReservationHoldDays))
	if err != nil {
		return reservations.Reservation{}, err
	}
	batch.placed(placed)

	return placed, nil
}

// CancelReservation cancels an active reservation on behalf of its member.
func (c *Coordinator) CancelReservation(
	ctx context.Context,
	reservationID string,
	now time.Time,
) (reservation reservations.Reservation, err error) {

	started := time.Now()
	ctx, span := c.obs.startSpan(ctx, OperationCancelReservation, map[string]string{logAttrReservationID: reservationID})
	defer func() { c.obs.finish(ctx, span, OperationCancelReservation, started, err) }()

	existing, err := c.queue.Get(ctx, reservationID)
	if err != nil {
		return reservations.Reservation{}, err
	}

	unlock, err := c.enter(ctx, existing.BookID)
	if err != nil {
		return reservations.Reservation{}, err
	}
	defer unlock()

	cancelled, err := c.queue.Cancel(ctx, reservationID)
	if err != nil {
		return reservations.Reservation{}, err
	}

	batch := newEntryBatch()
	batch.changed(ReservationCancelledEntryType, now, cancelled, CancelReasonByMember)
	c.record(ctx, OperationCancelReservation, batch)

	return cancelled, nil
}

// Availability returns the copies and the number of waiting members of a book.
// Reservations that expired before now are not counted.
func (c *Coordinator) Availability(ctx context.Context, bookID string, now time.Time) (Availability, error) {
	book, err := c.catalog.Get(ctx, bookID)
	if err != nil {
		return Availability{}, err
	}

	queued, err := c.queue.QueueLength(ctx, bookID, now)
	if err != nil {
		return Availability{}, err
	}

	return Availability{
		BookID:          book.ID,
		AvailableCopies: book.AvailableCopies,
		TotalCopies:     book.TotalCopies,
		QueueLength:     queued,
	}, nil
}

// RemoveBook deletes a book from the catalog. It fails with domain.ErrBookOnLoan while any copy
// is on loan. Queued reservations for the book are cancelled.
func (c *Coordinator) RemoveBook(ctx context.Context, bookID string, now time.Time) (err error) {
	started := time.Now()
	ctx, span := c.obs.startSpan(ctx, OperationRemoveBook, map[string]string{logAttrBookID: bookID})
	defer func() { c.obs.finish(ctx, span, OperationRemoveBook, started, err) }()

	unlock, err := c.enter(ctx, bookID)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := c.catalog.Get(ctx, bookID); err != nil {
		return err
	}

	onLoan, err := c.ledger.ActiveLoansForBook(ctx, bookID)
	if err != nil {
		return err
	}

	if onLoan > 0 {
		return fmt.Errorf("%w: book %s has %d copies on loan", domain.ErrBookOnLoan, bookID, onLoan)
	}

	queued, err := c.queue.ListQueued(ctx, bookID)
	if err != nil {
		return err
	}

	if err := c.catalog.Remove(ctx, bookID); err != nil {
		return err
	}

	batch := newEntryBatch()
	defer func() { c.record(ctx, OperationRemoveBook, batch) }()

	detached, cancel := c.detached(ctx)
	defer cancel()

	for _, reservation := range queued {
		cancelled, err := c.queue.Cancel(detached, reservation.ID)
		if err != nil {
			return err
		}

		batch.changed(ReservationCancelledEntryType, now, cancelled, CancelReasonBookRemoved)
	}

	batch.add(BookRemovedEntryType, now, bookID, "", BookRemoved{BookID: bookID, CancelledReservations: len(queued)})

	return nil
}

// ExpireReservations marks all reservations whose expiration lies before now as expired. Books
// are swept one after another, each under its own lock, so the sweep never blocks the whole
// library.
func (c *Coordinator) ExpireReservations(ctx context.Context, now time.Time) (expired []reservations.Reservation, err error) {
	started := time.Now()
	ctx, span := c.obs.startSpan(ctx, OperationExpireReservations, map[string]string{})
	defer func() { c.obs.finish(ctx, span, OperationExpireReservations, started, err) }()

	books, err := c.catalog.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	batch := newEntryBatch()
	defer func() { c.record(ctx, OperationExpireReservations, batch) }()

	for _, book := range books {
		expiredForBook, err := c.expireBook(ctx, book.ID, now)
		if err != nil {
			return expired, err
		}

		batch.expired(now, expiredForBook)
		expired = append(expired, expiredForBook...)
	}

	return expired, nil
}

func (c *Coordinator) expireBook(ctx context.Context, bookID string, now time.Time) ([]reservations.Reservation, error) {
	unlock, err := c.enter(ctx, bookID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return c.queue.ExpireBookOlderThan(ctx, bookID, now)
}

// enter takes the shared gate and the lock of one book. Store locks are only taken after this.
func (c *Coordinator) enter(ctx context.Context, bookID string) (func(), error) {
	if err := c.gate.RLock(ctx); err != nil {
		return nil, err
	}

	unlockBook, err := c.books.Lock(ctx, bookID)
	if err != nil {
		c.gate.RUnlock()
		return nil, err
	}

	return func() {
		unlockBook()
		c.gate.RUnlock()
	}, nil
}

// detached returns a context that ignores the caller's cancellation but keeps its values.
func (c *Coordinator) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.compensationTimeout)
}

// compensate releases a copy that was reserved for a loan that could not be opened.
func (c *Coordinator) compensate(ctx context.Context, operation, bookID string) error {
	detached, cancel := c.detached(ctx)
	defer cancel()

	labels := map[string]string{logAttrOperation: operation}

	if err := c.catalog.ReleaseCopy(detached, bookID); err != nil {
		c.obs.error(ctx, logMsgCompensationFailed, logAttrOperation, operation, logAttrBookID, bookID, logAttrError, err.Error())
		c.obs.incrementCounter(ctx, CompensationFailuresMetric, labels)

		return err
	}

	c.obs.info(ctx, logMsgCompensated, logAttrOperation, operation, logAttrBookID, bookID)
	c.obs.incrementCounter(ctx, CompensationsMetric, labels)

	return nil
}
