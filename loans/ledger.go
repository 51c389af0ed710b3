package loans

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/library-lending-go/domain"
)

const (
	defaultLockTimeout = 250 * time.Millisecond
	defaultFinePerDay  = 1.0
)

var (
	// ErrNegativeLockTimeout is returned when a negative lock timeout is configured.
	ErrNegativeLockTimeout = errors.New("lock timeout must not be negative")

	// ErrNegativeFinePerDay is returned when a negative fine per day is configured.
	ErrNegativeFinePerDay = errors.New("fine per day must not be negative")

	// ErrNilIDGenerator is returned when a nil id generator is configured.
	ErrNilIDGenerator = errors.New("id generator must not be nil")
)

type openInput struct {
	MemberID string    `validate:"required"`
	BookID   string    `validate:"required"`
	LoanDate time.Time `validate:"required"`
	DueDate  time.Time `validate:"required,gtefield=LoanDate"`
}

// Ledger keeps all loans in memory, guarded by one read/write lock.
type Ledger struct {
	lockTimeout time.Duration
	finePerDay  float64
	newID       func() string
	lock        *domain.RWLock
	loans       map[string]Loan
	byMember    map[string][]string
}

// Option defines a functional option for configuring a Ledger.
type Option func(*Ledger) error

// WithLockTimeout sets how long an operation waits for the ledger's lock
// when its context carries no deadline.
func WithLockTimeout(timeout time.Duration) Option {
	return func(l *Ledger) error {
		if timeout < 0 {
			return ErrNegativeLockTimeout
		}

		l.lockTimeout = timeout

		return nil
	}
}

// WithFinePerDay sets the fine charged per whole day a loan is returned late.
func WithFinePerDay(finePerDay float64) Option {
	return func(l *Ledger) error {
		if finePerDay < 0 {
			return ErrNegativeFinePerDay
		}

		l.finePerDay = finePerDay

		return nil
	}
}

// WithIDGenerator replaces the default random UUID loan ids.
func WithIDGenerator(newID func() string) Option {
	return func(l *Ledger) error {
		if newID == nil {
			return ErrNilIDGenerator
		}

		l.newID = newID

		return nil
	}
}

// NewLedger creates an empty Ledger.
func NewLedger(options ...Option) (*Ledger, error) {
	l := &Ledger{
		lockTimeout: defaultLockTimeout,
		finePerDay:  defaultFinePerDay,
		newID:       uuid.NewString,
		loans:       make(map[string]Loan),
		byMember:    make(map[string][]string),
	}

	for _, option := range options {
		if err := option(l); err != nil {
			return nil, err
		}
	}

	l.lock = domain.NewRWLock(l.lockTimeout)

	return l, nil
}

// FinePerDay returns the configured fine per day.
func (l *Ledger) FinePerDay() float64 {
	return l.finePerDay
}

// Open creates a new active loan. It does not check whether a copy is available.
func (l *Ledger) Open(ctx context.Context, memberID, bookID string, loanDate, dueDate time.Time) (Loan, error) {
	input := openInput{MemberID: memberID, BookID: bookID, LoanDate: loanDate, DueDate: dueDate}
	if err := domain.ValidateStruct(input, domain.ErrInvalidLoan); err != nil {
		return Loan{}, err
	}

	loan := Loan{
		ID:       l.newID(),
		MemberID: memberID,
		BookID:   bookID,
		LoanDate: loanDate,
		DueDate:  dueDate,
		Status:   StatusActive,
	}

	if err := l.lock.Lock(ctx); err != nil {
		return Loan{}, err
	}
	defer l.lock.Unlock()

	if _, exists := l.loans[loan.ID]; exists {
		return Loan{}, fmt.Errorf("%w: loan %s", domain.ErrAlreadyExists, loan.ID)
	}

	l.loans[loan.ID] = loan
	l.byMember[memberID] = append(l.byMember[memberID], loan.ID)

	return loan, nil
}

// Close returns a loan at returnDate and fixes its fine.
func (l *Ledger) Close(ctx context.Context, loanID string, returnDate time.Time) (Loan, error) {
	if err := l.lock.Lock(ctx); err != nil {
		return Loan{}, err
	}
	defer l.lock.Unlock()

	loan, exists := l.loans[loanID]
	if !exists {
		return Loan{}, fmt.Errorf("%w: loan %s", domain.ErrNotFound, loanID)
	}

	if loan.Status == StatusReturned {
		return Loan{}, fmt.Errorf("%w: loan %s", domain.ErrAlreadyReturned, loanID)
	}

	if returnDate.IsZero() || returnDate.Before(loan.LoanDate) {
		return Loan{}, fmt.Errorf("%w: loan %s", domain.ErrInvalidReturnDate, loanID)
	}

	loan.ReturnDate = &returnDate
	loan.Status = StatusReturned
	loan.Fine = Fine(loan.DueDate, returnDate, l.finePerDay)
	l.loans[loanID] = loan

	return loan, nil
}

// Annotate sets the free-text notes of a loan.
func (l *Ledger) Annotate(ctx context.Context, loanID, notes string) (Loan, error) {
	if err := l.lock.Lock(ctx); err != nil {
		return Loan{}, err
	}
	defer l.lock.Unlock()

	loan, exists := l.loans[loanID]
	if !exists {
		return Loan{}, fmt.Errorf("%w: loan %s", domain.ErrNotFound, loanID)
	}

	loan.Notes = notes
	l.loans[loanID] = loan

	return loan, nil
}

// Get returns the loan with the given id.
func (l *Ledger) Get(ctx context.Context, loanID string) (Loan, error) {
	if err := l.lock.RLock(ctx); err != nil {
		return Loan{}, err
	}
	defer l.lock.RUnlock()

	loan, exists := l.loans[loanID]
	if !exists {
		return Loan{}, fmt.Errorf("%w: loan %s", domain.ErrNotFound, loanID)
	}

	return loan, nil
}

// ListAll returns all loans ordered by loan date.
func (l *Ledger) ListAll(ctx context.Context) ([]Loan, error) {
	all, err := l.copyAll(ctx)
	if err != nil {
		return nil, err
	}

	sortByLoanDate(all)

	return all, nil
}

// ListByMember returns a member's loans ordered by loan date.
func (l *Ledger) ListByMember(ctx context.Context, memberID string) ([]Loan, error) {
	if err := l.lock.RLock(ctx); err != nil {
		return nil, err
	}

	ids := l.byMember[memberID]
	result := make([]Loan, 0, len(ids))
	for _, id := range ids {
		result = append(result, l.loans[id])
	}
	l.lock.RUnlock()

	sortByLoanDate(result)

	return result, nil
}

// ListOverdue returns the active loans whose due date lies before now, most overdue first.
// The loans are copied under the read lock and filtered after releasing it.
func (l *Ledger) ListOverdue(ctx context.Context, now time.Time) ([]Loan, error) {
	all, err := l.copyAll(ctx)
	if err != nil {
		return nil, err
	}

	overdue := slices.DeleteFunc(all, func(loan Loan) bool { return !loan.IsOverdue(now) })
	slices.SortFunc(overdue, func(a, b Loan) int {
		return cmp.Or(a.DueDate.Compare(b.DueDate), cmp.Compare(a.ID, b.ID))
	})

	return overdue, nil
}

// TotalFinesForMember sums the fines of all of a member's loans, settled or not.
// Fines of loans that are still active are not included until the loan is closed.
func (l *Ledger) TotalFinesForMember(ctx context.Context, memberID string) (float64, error) {
	if err := l.lock.RLock(ctx); err != nil {
		return 0, err
	}
	defer l.lock.RUnlock()

	total := 0.0
	for _, id := range l.byMember[memberID] {
		total += l.loans[id].Fine
	}

	return total, nil
}

// HasActiveLoan reports whether the member currently has an active loan for the book.
func (l *Ledger) HasActiveLoan(ctx context.Context, memberID, bookID string) (bool, error) {
	if err := l.lock.RLock(ctx); err != nil {
		return false, err
	}
	defer l.lock.RUnlock()

	for _, id := range l.byMember[memberID] {
		if loan := l.loans[id]; loan.BookID == bookID && loan.IsActive() {
			return true, nil
		}
	}

	return false, nil
}

// ActiveLoansForBook counts the active loans of a book.
func (l *Ledger) ActiveLoansForBook(ctx context.Context, bookID string) (int, error) {
	if err := l.lock.RLock(ctx); err != nil {
		return 0, err
	}
	defer l.lock.RUnlock()

	count := 0
	for _, loan := range l.loans {
		if loan.BookID == bookID && loan.IsActive() {
			count++
		}
	}

	return count, nil
}

// Restore replaces all loans, e.g. from a snapshot.
func (l *Ledger) Restore(ctx context.Context, loans []Loan) error {
	restored := make(map[string]Loan, len(loans))
	byMember := make(map[string][]string)

	for _, loan := range loans {
		if err := validateStored(loan); err != nil {
			return err
		}

		if _, dup := restored[loan.ID]; dup {
			return fmt.Errorf("%w: loan %s", domain.ErrAlreadyExists, loan.ID)
		}

		restored[loan.ID] = loan
		byMember[loan.MemberID] = append(byMember[loan.MemberID], loan.ID)
	}

	if err := l.lock.Lock(ctx); err != nil {
		return err
	}
	defer l.lock.Unlock()

	l.loans = restored
	l.byMember = byMember

	return nil
}

func (l *Ledger) copyAll(ctx context.Context) ([]Loan, error) {
	if err := l.lock.RLock(ctx); err != nil {
		return nil, err
	}
	defer l.lock.RUnlock()

	all := make([]Loan, 0, len(l.loans))
	for _, loan := range l.loans {
		all = append(all, loan)
	}

	return all, nil
}

func validateStored(loan Loan) error {
	if loan.ID == "" {
		return fmt.Errorf("%w: missing id", domain.ErrInvalidLoan)
	}

	input := openInput{MemberID: loan.MemberID, BookID: loan.BookID, LoanDate: loan.LoanDate, DueDate: loan.DueDate}
	if err := domain.ValidateStruct(input, domain.ErrInvalidLoan); err != nil {
		return err
	}

	switch loan.Status {
	case StatusActive:
		if loan.ReturnDate != nil {
			return fmt.Errorf("%w: active loan %s has a return date", domain.ErrInvalidLoan, loan.ID)
		}
	case StatusReturned:
		if loan.ReturnDate == nil || loan.ReturnDate.Before(loan.LoanDate) {
			return fmt.Errorf("%w: returned loan %s needs a return date after its loan date", domain.ErrInvalidLoan, loan.ID)
		}
	default:
		return fmt.Errorf("%w: loan %s has status %q", domain.ErrInvalidLoan, loan.ID, loan.Status)
	}

	if loan.Fine < 0 {
		return fmt.Errorf("%w: loan %s has a negative fine", domain.ErrInvalidLoan, loan.ID)
	}

	return nil
}

func sortByLoanDate(loans []Loan) {
	slices.SortFunc(loans, func(a, b Loan) int {
		return cmp.Or(a.LoanDate.Compare(b.LoanDate), cmp.Compare(a.ID, b.ID))
	})
}
