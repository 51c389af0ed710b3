package lending

import (
	"context"
	"time"

	"github.com/AntonStoeckl/library-lending-go/catalog"
	"github.com/AntonStoeckl/library-lending-go/loans"
	"github.com/AntonStoeckl/library-lending-go/members"
	"github.com/AntonStoeckl/library-lending-go/reservations"
)

// CatalogStore is what the coordinator needs from the catalog.
type CatalogStore interface {
	Get(ctx context.Context, bookID string) (catalog.Book, error)
	ListAll(ctx context.Context) ([]catalog.Book, error)
	Remove(ctx context.Context, bookID string) error
	TryReserveCopy(ctx context.Context, bookID string) (bool, error)
	ReleaseCopy(ctx context.Context, bookID string) error
	Restore(ctx context.Context, books []catalog.Book) error
}

// MemberStore is what the coordinator needs from the member registry.
type MemberStore interface {
	Get(ctx context.Context, memberID string) (members.Member, error)
	ListAll(ctx context.Context) ([]members.Member, error)
	Restore(ctx context.Context, members []members.Member) error
}

// LoanLedger is what the coordinator needs from the loan ledger.
type LoanLedger interface {
	FinePerDay() float64
	Open(ctx context.Context, memberID, bookID string, loanDate, dueDate time.Time) (loans.Loan, error)
	Close(ctx context.Context, loanID string, returnDate time.Time) (loans.Loan, error)
	Get(ctx context.Context, loanID string) (loans.Loan, error)
	ListAll(ctx context.Context) ([]loans.Loan, error)
	HasActiveLoan(ctx context.Context, memberID, bookID string) (bool, error)
	ActiveLoansForBook(ctx context.Context, bookID string) (int, error)
	Restore(ctx context.Context, loans []loans.Loan) error
}

// ReservationQueue is what the coordinator needs from the reservation queue.
type ReservationQueue interface {
	MaxReservations() int
	Enqueue(ctx context.Context, memberID, bookID string, priority int, reservedAt, expiresAt time.Time) (reservations.Reservation, error)
	Cancel(ctx context.Context, reservationID string) (reservations.Reservation, error)
	Get(ctx context.Context, reservationID string) (reservations.Reservation, error)
	PeekNext(ctx context.Context, bookID string) (reservations.Reservation, bool, error)
	Fulfill(ctx context.Context, reservationID string) (reservations.Reservation, error)
	FulfillFor(ctx context.Context, memberID, bookID string) (reservations.Reservation, bool, error)
	ExpireBookOlderThan(ctx context.Context, bookID string, now time.Time) ([]reservations.Reservation, error)
	ListQueued(ctx context.Context, bookID string) ([]reservations.Reservation, error)
	QueueLength(ctx context.Context, bookID string, now time.Time) (int, error)
	ListAll(ctx context.Context) ([]reservations.Reservation, error)
	Restore(ctx context.Context, reservations []reservations.Reservation) error
}

var (
	_ CatalogStore     = (*catalog.Store)(nil)
	_ MemberStore      = (*members.Store)(nil)
	_ LoanLedger       = (*loans.Ledger)(nil)
	_ ReservationQueue = (*reservations.Queue)(nil)
)
