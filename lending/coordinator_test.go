package lending_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/AntonStoeckl/library-lending-go/catalog"
	"github.com/AntonStoeckl/library-lending-go/domain"
	"github.com/AntonStoeckl/library-lending-go/journal"
	"github.com/AntonStoeckl/library-lending-go/lending"
	"github.com/AntonStoeckl/library-lending-go/loans"
	"github.com/AntonStoeckl/library-lending-go/members"
	"github.com/AntonStoeckl/library-lending-go/reservations"
)

func Test_NewCoordinator_RejectsMissingStoresAndInvalidPolicy(t *testing.T) {
	_, stores := givenLibrary(t)
	policy := lending.DefaultPolicy()

	_, noCatalog := lending.NewCoordinator(nil, stores.Members, stores.Ledger, stores.Reservations, policy)
	_, noMembers := lending.NewCoordinator(stores.Catalog, nil, stores.Ledger, stores.Reservations, policy)
	_, noLedger := lending.NewCoordinator(stores.Catalog, stores.Members, nil, stores.Reservations, policy)
	_, noQueue := lending.NewCoordinator(stores.Catalog, stores.Members, stores.Ledger, nil, policy)
	_, noLoanDays := lending.NewCoordinator(stores.Catalog, stores.Members, stores.Ledger, stores.Reservations, lending.Policy{})
	_, noJournal := lending.NewCoordinator(stores.Catalog, stores.Members, stores.Ledger, stores.Reservations, policy, lending.WithJournal(nil))

	assert.ErrorIs(t, noCatalog, lending.ErrNilCatalog)
	assert.ErrorIs(t, noMembers, lending.ErrNilMembers)
	assert.ErrorIs(t, noLedger, lending.ErrNilLedger)
	assert.ErrorIs(t, noQueue, lending.ErrNilQueue)
	assert.ErrorIs(t, noLoanDays, lending.ErrInvalidMaxLoanDays)
	assert.ErrorIs(t, noJournal, lending.ErrNilJournal)
}

func Test_NewCoordinator_RejectsStoresConfiguredWithOtherRules(t *testing.T) {
	// arrange
	_, stores := givenLibrary(t)
	ledger, err := loans.NewLedger()
	require.NoError(t, err)
	queue, err := reservations.NewQueue()
	require.NoError(t, err)

	higherFine := lending.DefaultPolicy()
	higherFine.FinePerDay = 2
	fewerReservations := lending.DefaultPolicy()
	fewerReservations.MaxReservations = 3

	// act
	_, fineErr := lending.NewCoordinator(stores.Catalog, stores.Members, ledger, queue, higherFine)
	_, limitErr := lending.NewCoordinator(stores.Catalog, stores.Members, ledger, queue, fewerReservations)
	coordinator, matchingErr := lending.NewCoordinator(stores.Catalog, stores.Members, ledger, queue, lending.DefaultPolicy())

	// assert
	assert.ErrorIs(t, fineErr, lending.ErrPolicyMismatch)
	assert.ErrorIs(t, limitErr, lending.ErrPolicyMismatch)
	require.NoError(t, matchingErr)
	assert.Equal(t, lending.DefaultPolicy(), coordinator.Policy())
}

func Test_Borrow_LendsOneCopy(t *testing.T) {
	// arrange
	ctx := context.Background()
	coordinator, stores := givenLibrary(t)
	givenBook(t, stores, "b-1", 2)
	givenMember(t, stores, "m-1")

	// act
	loan, err := coordinator.Borrow(ctx, "m-1", "b-1", day(2024, 1, 1))

	// assert
	require.NoError(t, err)
	assert.Equal(t, loans.StatusActive, loan.Status)
	assert.Equal(t, day(2024, 1, 15), loan.DueDate)
	assertAvailable(t, stores, "b-1", 1)
}

func Test_Borrow_Rejections(t *testing.T) {
	ctx := context.Background()
	coordinator, stores := givenLibrary(t)
	givenBook(t, stores, "b-1", 1)
	givenBook(t, stores, "b-empty", 0)
	givenMember(t, stores, "m-1")
	givenMember(t, stores, "m-inactive")
	_, err := stores.Members.Deactivate(ctx, "m-inactive")
	require.NoError(t, err)

	_, noCopies := coordinator.Borrow(ctx, "m-1", "b-empty", day(2024, 1, 1))
	_, inactive := coordinator.Borrow(ctx, "m-inactive", "b-1", day(2024, 1, 1))
	_, unknownMember := coordinator.Borrow(ctx, "m-unknown", "b-1", day(2024, 1, 1))
	_, unknownBook := coordinator.Borrow(ctx, "m-1", "b-unknown", day(2024, 1, 1))
	_, noIDs := coordinator.Borrow(ctx, "", "", day(2024, 1, 1))

	assert.ErrorIs(t, noCopies, domain.ErrNoCopiesAvailable)
	assert.ErrorIs(t, inactive, domain.ErrMemberInactive)
	assert.ErrorIs(t, unknownMember, domain.ErrNotFound)
	assert.ErrorIs(t, unknownBook, domain.ErrNotFound)
	assert.ErrorIs(t, noIDs, domain.ErrInvalidInput)
	assertAvailable(t, stores, "b-1", 1)
}

func Test_Borrow_FulfillsOwnReservation(t *testing.T) {
	// arrange
	ctx := context.Background()
	coordinator, stores := givenLibrary(t)
	givenBook(t, stores, "b-1", 1)
	givenMember(t, stores, "m-1")
	reservation, err := coordinator.Reserve(ctx, "m-1", "b-1", 0, day(2024, 1, 1))
	require.NoError(t, err)

	// act
	_, err = coordinator.Borrow(ctx, "m-1", "b-1", day(2024, 1, 2))

	// assert
	require.NoError(t, err)
	fulfilled, err := stores.Reservations.Get(ctx, reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, reservations.StatusFulfilled, fulfilled.Status)
}

func Test_Borrow_ReleasesCopyWhenOpeningLoanFails(t *testing.T) {
	// arrange
	ctx := context.Background()
	_, stores := givenLibrary(t)
	givenBook(t, stores, "b-1", 1)
	givenMember(t, stores, "m-1")
	ledger := failingLedger{LoanLedger: stores.Ledger, openErr: errors.New("disk on fire")}
	coordinator, err := lending.NewCoordinator(stores.Catalog, stores.Members, ledger, stores.Reservations, lending.DefaultPolicy())
	require.NoError(t, err)

	// act
	_, err = coordinator.Borrow(ctx, "m-1", "b-1", day(2024, 1, 1))

	// assert
	require.Error(t, err)
	assert.Equal(t, domain.KindInternal, domain.KindOf(err))
	assertAvailable(t, stores, "b-1", 1)
}

func Test_Borrow_ReleasesCopyWhenOpeningLoanPanics(t *testing.T) {
	// arrange
	ctx := context.Background()
	_, stores := givenLibrary(t)
	givenBook(t, stores, "b-1", 1)
	givenMember(t, stores, "m-1")
	ledger := failingLedger{LoanLedger: stores.Ledger, panicOnOpen: true}
	coordinator, err := lending.NewCoordinator(stores.Catalog, stores.Members, ledger, stores.Reservations, lending.DefaultPolicy())
	require.NoError(t, err)

	// act
	assert.Panics(t, func() { _, _ = coordinator.Borrow(ctx, "m-1", "b-1", day(2024, 1, 1)) })

	// assert
	assertAvailable(t, stores, "b-1", 1)

	_, err = coordinator.Reserve(ctx, "m-1", "b-1", 0, day(2024, 1, 1))
	assert.NoError(t, err, "the book's lock must have been released")
}

func Test_Borrow_RaceForLastCopy_ExactlyOneWinner(t *testing.T) {
	// arrange
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	coordinator, stores := givenLibrary(t)
	givenBook(t, stores, "b-1", 1)

	const contenders = 20
	for i := range contenders {
		givenMember(t, stores, fmt.Sprintf("m-%d", i))
	}

	var winners, losers atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	// act
	for i := range contenders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start

			_, err := coordinator.Borrow(ctx, fmt.Sprintf("m-%d", i), "b-1", day(2024, 1, 1))
			switch {
			case err == nil:
				winners.Add(1)
			case errors.Is(err, domain.ErrNoCopiesAvailable):
				losers.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	close(start)
	wg.Wait()

	// assert
	assert.Equal(t, int32(1), winners.Load())
	assert.Equal(t, int32(contenders-1), losers.Load())
	assertAvailable(t, stores, "b-1", 0)
	assert.NoError(t, coordinator.CheckInvariants(ctx))
}

func Test_ReturnBook_FixesFine(t *testing.T) {
	testCases := []struct {
		name     string
		returned time.Time
		fine     float64
	}{
		{"early", day(2024, 1, 5), 0},
		{"on the due date", day(2024, 1, 10), 0},
		{"five days late", day(2024, 1, 15), 5.0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// arrange
			ctx := context.Background()
			coordinator, stores := givenLibrary(t)
			givenBook(t, stores, "b-1", 1)
			givenMember(t, stores, "m-1")
			loan, err := coordinator.Borrow(ctx, "m-1", "b-1", day(2023, 12, 27))
			require.NoError(t, err)
			require.Equal(t, day(2024, 1, 10), loan.DueDate)

			// act
			receipt, err := coordinator.ReturnBook(ctx, loan.ID, tc.returned)

			// assert
			require.NoError(t, err)
			assert.Equal(t, loans.StatusReturned, receipt.Loan.Status)
			assert.InDelta(t, tc.fine, receipt.Loan.Fine, 1e-9)
			assert.Nil(t, receipt.Handoff)
			assertAvailable(t, stores, "b-1", 1)
		})
	}
}

func Test_ReturnBook_Twice_AlreadyReturnedAndNothingChanges(t *testing.T) {
	// arrange
	ctx := context.Background()
	coordinator, stores := givenLibrary(t)
	givenBook(t, stores, "b-1", 2)
	givenMember(t, stores, "m-1")
	givenMember(t, stores, "m-2")
	loan, err := coordinator.Borrow(ctx, "m-1", "b-1", day(2024, 1, 1))
	require.NoError(t, err)
	_, err = coordinator.Borrow(ctx, "m-2", "b-1", day(2024, 1, 1))
	require.NoError(t, err)
	_, err = coordinator.ReturnBook(ctx, loan.ID, day(2024, 1, 5))
	require.NoError(t, err)

	// act
	_, err = coordinator.ReturnBook(ctx, loan.ID, day(2024, 1, 20))

	// assert
	assert.ErrorIs(t, err, domain.ErrAlreadyReturned)
	assertAvailable(t, stores, "b-1", 1)
	stored, err := stores.Ledger.Get(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, day(2024, 1, 5), *stored.ReturnDate)
	assert.Zero(t, stored.Fine)
}

func Test_ReturnBook_UnknownLoan(t *testing.T) {
	coordinator, _ := givenLibrary(t)

	_, err := coordinator.ReturnBook(context.Background(), "loan-unknown", day(2024, 1, 1))

	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func Test_ReturnBook_HandsCopyToNextReservation(t *testing.T) {
	// arrange
	ctx := context.Background()
	coordinator, stores := givenLibrary(t)
	givenBook(t, stores, "b-1", 1)
	givenMember(t, stores, "m-1")
	givenMember(t, stores, "m-2")
	loan, err := coordinator.Borrow(ctx, "m-1", "b-1", day(2024, 1, 1))
	require.NoError(t, err)
	reservation, err := coordinator.Reserve(ctx, "m-2", "b-1", 0, day(2024, 1, 2))
	require.NoError(t, err)

	// act
	receipt, err := coordinator.ReturnBook(ctx, loan.ID, day(2024, 1, 10))

	// assert
	require.NoError(t, err)
	require.NotNil(t, receipt.Handoff)
	require.NotNil(t, receipt.Reservation)
	assert.Equal(t, "m-2", receipt.Handoff.MemberID)
	assert.Equal(t, day(2024, 1, 24), receipt.Handoff.DueDate)
	assert.Equal(t, reservation.ID, receipt.Reservation.ID)
	assert.Equal(t, reservations.StatusFulfilled, receipt.Reservation.Status)
	assertAvailable(t, stores, "b-1", 0)

	availability, err := coordinator.Availability(ctx, "b-1", day(2024, 1, 10))
	require.NoError(t, err)
	assert.Zero(t, availability.QueueLength)
	assert.NoError(t, coordinator.CheckInvariants(ctx))
}

func Test_ReturnBook_FulfilsTheReservationOfTheNewBorrower(t *testing.T) {
	// arrange
	ctx := context.Background()
	_, stores := givenLibrary(t)
	givenBook(t, stores, "b-1", 1)
	givenMember(t, stores, "m-1")
	givenMember(t, stores, "m-2")
	givenMember(t, stores, "m-3")
	queue := &shiftingQueue{
		ReservationQueue: stores.Reservations,
		jump: func() {
			_, err := stores.Reservations.Enqueue(ctx, "m-3", "b-1", -1, day(2024, 1, 3), day(2024, 2, 1))
			require.NoError(t, err)
		},
	}
	coordinator, err := lending.NewCoordinator(stores.Catalog, stores.Members, stores.Ledger, queue, lending.DefaultPolicy())
	require.NoError(t, err)
	loan, err := coordinator.Borrow(ctx, "m-1", "b-1", day(2024, 1, 1))
	require.NoError(t, err)
	reservation, err := coordinator.Reserve(ctx, "m-2", "b-1", 0, day(2024, 1, 2))
	require.NoError(t, err)

	// act
	receipt, err := coordinator.ReturnBook(ctx, loan.ID, day(2024, 1, 10))

	// assert
	require.NoError(t, err)
	require.NotNil(t, receipt.Handoff)
	require.NotNil(t, receipt.Reservation)
	assert.Equal(t, "m-2", receipt.Handoff.MemberID)
	assert.Equal(t, reservation.ID, receipt.Reservation.ID)
	assert.Equal(t, "m-2", receipt.Reservation.MemberID)

	head, waiting, err := stores.Reservations.PeekNext(ctx, "b-1")
	require.NoError(t, err)
	require.True(t, waiting)
	assert.Equal(t, "m-3", head.MemberID)
	assert.Equal(t, reservations.StatusActive, head.Status)
}

func Test_ReturnBook_SkipsIneligibleReservations(t *testing.T) {
	// arrange
	ctx := context.Background()
	coordinator, stores := givenLibrary(t)
	givenBook(t, stores, "b-1", 1)
	givenMember(t, stores, "m-1")
	givenMember(t, stores, "m-gone")
	givenMember(t, stores, "m-2")
	loan, err := coordinator.Borrow(ctx, "m-1", "b-1", day(2024, 1, 1))
	require.NoError(t, err)
	skipped, err := coordinator.Reserve(ctx, "m-gone", "b-1", 0, day(2024, 1, 2))
	require.NoError(t, err)
	next, err := coordinator.Reserve(ctx, "m-2", "b-1", 0, day(2024, 1, 3))
	require.NoError(t, err)
	_, err = stores.Members.Deactivate(ctx, "m-gone")
	require.NoError(t, err)

	// act
	receipt, err := coordinator.ReturnBook(ctx, loan.ID, day(2024, 1, 10))

	// assert
	require.NoError(t, err)
	require.NotNil(t, receipt.Reservation)
	assert.Equal(t, next.ID, receipt.Reservation.ID)
	cancelled, err := stores.Reservations.Get(ctx, skipped.ID)
	require.NoError(t, err)
	assert.Equal(t, reservations.StatusCancelled, cancelled.Status)
}

func Test_ReturnBook_ExpiresStaleReservations(t *testing.T) {
	// arrange
	ctx := context.Background()
	coordinator, stores := givenLibrary(t)
	givenBook(t, stores, "b-1", 1)
	givenMember(t, stores, "m-1")
	givenMember(t, stores, "m-2")
	loan, err := coordinator.Borrow(ctx, "m-1", "b-1", day(2024, 1, 1))
	require.NoError(t, err)
	stale, err := coordinator.Reserve(ctx, "m-2", "b-1", 0, day(2024, 1, 2))
	require.NoError(t, err)

	// act
	receipt, err := coordinator.ReturnBook(ctx, loan.ID, day(2024, 3, 1))

	// assert
	require.NoError(t, err)
	assert.Nil(t, receipt.Handoff)
	assertAvailable(t, stores, "b-1", 1)
	expired, err := stores.Reservations.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, reservations.StatusExpired, expired.Status)
}

func Test_ReturnBook_PromotesByPriority(t *testing.T) {
	// arrange
	ctx := context.Background()
	coordinator, stores := givenLibrary(t)
	givenBook(t, stores, "b-1", 1)
	givenMember(t, stores, "m-0")
	loan, err := coordinator.Borrow(ctx, "m-0", "b-1", day(2024, 1, 1))
	require.NoError(t, err)

	for i, priority := range []int{3, 1, 2} {
		memberID := fmt.Sprintf("m-prio-%d", priority)
		givenMember(t, stores, memberID)
		_, err := coordinator.Reserve(ctx, memberID, "b-1", priority, day(2024, 1, 2+i))
		require.NoError(t, err)
	}

	// act
	var promoted []int
	current := loan
	for i := range 3 {
		receipt, err := coordinator.ReturnBook(ctx, current.ID, day(2024, 1, 10+i))
		require.NoError(t, err)
		require.NotNil(t, receipt.Handoff)

		promoted = append(promoted, receipt.Reservation.Priority)
		current = *receipt.Handoff
	}

	// assert
	assert.Equal(t, []int{1, 2, 3}, promoted)
}

func Test_Reserve_SixthReservation_LimitExceeded(t *testing.T) {
	// arrange
	ctx := context.Background()
	coordinator, stores := givenLibrary(t)
	givenMember(t, stores, "m-1")

	for i := range 6 {
		givenBook(t, stores, fmt.Sprintf("b-%d", i), 1)
	}

	for i := range 5 {
		_, err := coordinator.Reserve(ctx, "m-1", fmt.Sprintf("b-%d", i), 0, day(2024, 1, 1))
		require.NoError(t, err)
	}

	// act
	_, err := coordinator.Reserve(ctx, "m-1", "b-5", 0, day(2024, 1, 1))

	// assert
	assert.ErrorIs(t, err, domain.ErrLimitExceeded)
	assert.Equal(t, domain.KindLimitExceeded, domain.KindOf(err))
}

func Test_Reserve_Rejections(t *testing.T) {
	ctx := context.Background()
	coordinator, stores := givenLibrary(t)
	givenBook(t, stores, "b-1", 1)
	givenBook(t, stores, "b-2", 1)
	givenMember(t, stores, "m-1")
	givenMember(t, stores, "m-inactive")
	_, err := stores.Members.Deactivate(ctx, "m-inactive")
	require.NoError(t, err)
	_, err = coordinator.Borrow(ctx, "m-1", "b-1", day(2024, 1, 1))
	require.NoError(t, err)
	_, err = coordinator.Reserve(ctx, "m-1", "b-2", 0, day(2024, 1, 1))
	require.NoError(t, err)

	_, holding := coordinator.Reserve(ctx, "m-1", "b-1", 0, day(2024, 1, 2))
	_, duplicate := coordinator.Reserve(ctx, "m-1", "b-2", 0, day(2024, 1, 2))
	_, inactive := coordinator.Reserve(ctx, "m-inactive", "b-2", 0, day(2024, 1, 2))
	_, unknownBook := coordinator.Reserve(ctx, "m-1", "b-unknown", 0, day(2024, 1, 2))

	assert.ErrorIs(t, holding, domain.ErrAlreadyHeld)
	assert.ErrorIs(t, duplicate, domain.ErrAlreadyHeld)
	assert.ErrorIs(t, inactive, domain.ErrMemberInactive)
	assert.ErrorIs(t, unknownBook, domain.ErrNotFound)
}

func Test_CancelReservation_Twice_AlreadyCancelled(t *testing.T) {
	// arrange
	ctx := context.Background()
	coordinator, stores := givenLibrary(t)
	givenBook(t, stores, "b-1", 1)
	givenMember(t, stores, "m-1")
	reservation, err := coordinator.Reserve(ctx, "m-1", "b-1", 0, day(2024, 1, 1))
	require.NoError(t, err)

	// act
	cancelled, first := coordinator.CancelReservation(ctx, reservation.ID, day(2024, 1, 2))
	_, second := coordinator.CancelReservation(ctx, reservation.ID, day(2024, 1, 3))

	// assert
	require.NoError(t, first)
	assert.Equal(t, reservations.StatusCancelled, cancelled.Status)
	assert.ErrorIs(t, second, domain.ErrAlreadyCancelled)

	availability, err := coordinator.Availability(ctx, "b-1", day(2024, 1, 3))
	require.NoError(t, err)
	assert.Zero(t, availability.QueueLength)
}

func Test_Availability_ReportsCopiesAndQueue(t *testing.T) {
	// arrange
	ctx := context.Background()
	coordinator, stores := givenLibrary(t)
	givenBook(t, stores, "b-1", 3)
	givenMember(t, stores, "m-1")
	givenMember(t, stores, "m-2")
	_, err := coordinator.Borrow(ctx, "m-1", "b-1", day(2024, 1, 1))
	require.NoError(t, err)
	_, err = coordinator.Reserve(ctx, "m-2", "b-1", 0, day(2024, 1, 1))
	require.NoError(t, err)

	// act
	availability, err := coordinator.Availability(ctx, "b-1", day(2024, 1, 2))
	lapsed, lapsedErr := coordinator.Availability(ctx, "b-1", day(2024, 3, 1))
	_, unknown := coordinator.Availability(ctx, "b-unknown", day(2024, 1, 2))

	// assert
	require.NoError(t, err)
	require.NoError(t, lapsedErr)
	assert.Equal(t, lending.Availability{BookID: "b-1", AvailableCopies: 2, TotalCopies: 3, QueueLength: 1}, availability)
	assert.Zero(t, lapsed.QueueLength)
	assert.ErrorIs(t, unknown, domain.ErrNotFound)
}

func Test_RemoveBook_FailsWhileOnLoan(t *testing.T) {
	// arrange
	ctx := context.Background()
	coordinator, stores := givenLibrary(t)
	givenBook(t, stores, "b-1", 1)
	givenMember(t, stores, "m-1")
	_, err := coordinator.Borrow(ctx, "m-1", "b-1", day(2024, 1, 1))
	require.NoError(t, err)

	// act
	err = coordinator.RemoveBook(ctx, "b-1", day(2024, 1, 2))

	// assert
	assert.ErrorIs(t, err, domain.ErrBookOnLoan)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
	_, err = stores.Catalog.Get(ctx, "b-1")
	assert.NoError(t, err)
}

func Test_RemoveBook_CancelsQueuedReservations(t *testing.T) {
	// arrange
	ctx := context.Background()
	coordinator, stores := givenLibrary(t)
	givenBook(t, stores, "b-1", 1)
	givenMember(t, stores, "m-1")
	reservation, err := coordinator.Reserve(ctx, "m-1", "b-1", 0, day(2024, 1, 1))
	require.NoError(t, err)

	// act
	err = coordinator.RemoveBook(ctx, "b-1", day(2024, 1, 2))

	// assert
	require.NoError(t, err)
	_, err = stores.Catalog.Get(ctx, "b-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	cancelled, err := stores.Reservations.Get(ctx, reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, reservations.StatusCancelled, cancelled.Status)
	assert.ErrorIs(t, coordinator.RemoveBook(ctx, "b-1", day(2024, 1, 2)), domain.ErrNotFound)
}

func Test_ExpireReservations_SweepsAllBooks(t *testing.T) {
	// arrange
	ctx := context.Background()
	coordinator, stores := givenLibrary(t)
	givenBook(t, stores, "b-1", 1)
	givenBook(t, stores, "b-2", 1)
	givenMember(t, stores, "m-1")
	_, err := coordinator.Reserve(ctx, "m-1", "b-1", 0, day(2024, 1, 1))
	require.NoError(t, err)
	fresh, err := coordinator.Reserve(ctx, "m-1", "b-2", 0, day(2024, 2, 15))
	require.NoError(t, err)

	// act
	expired, err := coordinator.ExpireReservations(ctx, day(2024, 3, 1))

	// assert
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "b-1", expired[0].BookID)
	assert.Equal(t, reservations.StatusExpired, expired[0].Status)
	stillActive, err := stores.Reservations.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.True(t, stillActive.IsActive())
}

func Test_Coordinator_KeepsCopyInvariantUnderConcurrentBorrowAndReturn(t *testing.T) {
	// arrange
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	coordinator, stores := givenLibrary(t)
	books := []string{"b-1", "b-2", "b-3"}
	for _, bookID := range books {
		givenBook(t, stores, bookID, 2)
	}

	const workers = 8
	const rounds = 25

	var wg sync.WaitGroup

	// act
	for w := range workers {
		memberID := fmt.Sprintf("m-%d", w)
		givenMember(t, stores, memberID)

		wg.Add(1)
		go func() {
			defer wg.Done()

			for r := range rounds {
				bookID := books[(w+r)%len(books)]
				now := day(2024, 1, 1).Add(time.Duration(r) * time.Hour)

				var loan loans.Loan
				err := lending.RetryOnBusy(ctx, func(ctx context.Context) error {
					var err error
					loan, err = coordinator.Borrow(ctx, memberID, bookID, now)
					return err
				})
				if errors.Is(err, domain.ErrNoCopiesAvailable) {
					continue
				}
				if !assert.NoError(t, err) {
					return
				}

				err = lending.RetryOnBusy(ctx, func(ctx context.Context) error {
					_, err := coordinator.ReturnBook(ctx, loan.ID, now.Add(time.Minute))
					return err
				})
				if !assert.NoError(t, err) {
					return
				}
			}
		}()
	}

	wg.Wait()

	// assert
	require.NoError(t, coordinator.CheckInvariants(ctx))
	for _, bookID := range books {
		assertAvailable(t, stores, bookID, 2)
	}
}

func Test_Coordinator_RecordsJournalEntries(t *testing.T) {
	// arrange
	ctx := context.Background()
	memory := journal.NewMemory()
	coordinator, stores := givenLibrary(t, lending.WithJournal(memory))
	givenBook(t, stores, "b-1", 1)
	givenMember(t, stores, "m-1")
	givenMember(t, stores, "m-2")

	// act
	loan, err := coordinator.Borrow(ctx, "m-1", "b-1", day(2024, 1, 1))
	require.NoError(t, err)
	_, err = coordinator.Reserve(ctx, "m-2", "b-1", 0, day(2024, 1, 2))
	require.NoError(t, err)
	_, err = coordinator.ReturnBook(ctx, loan.ID, day(2024, 1, 20))
	require.NoError(t, err)

	// assert
	entries, err := memory.Read(ctx, journal.BuildFilter().Finalize())
	require.NoError(t, err)

	var types []string
	for _, entry := range entries {
		types = append(types, entry.Type)
	}

	assert.Equal(t, []string{
		lending.BookCopyLentEntryType,
		lending.ReservationPlacedEntryType,
		lending.BookCopyReturnedEntryType,
		lending.BookCopyLentEntryType,
		lending.ReservationPromotedEntryType,
	}, types)

	returned, err := memory.Read(ctx, journal.BuildFilter().OfTypes(lending.BookCopyReturnedEntryType).Finalize())
	require.NoError(t, err)
	require.Len(t, returned, 1)
	assert.Contains(t, string(returned[0].Payload), `"daysLate":5`)

	returnMetadata, err := journal.MetadataFrom(entries[2])
	require.NoError(t, err)
	handoffMetadata, err := journal.MetadataFrom(entries[3])
	require.NoError(t, err)
	assert.Equal(t, returnMetadata.CorrelationID, handoffMetadata.CorrelationID)
	assert.Equal(t, returnMetadata.MessageID, handoffMetadata.CausationID)
}

func Test_Coordinator_JournalFailureDoesNotUndoDecision(t *testing.T) {
	// arrange
	ctx := context.Background()
	coordinator, stores := givenLibrary(t, lending.WithJournal(failingRecorder{}))
	givenBook(t, stores, "b-1", 1)
	givenMember(t, stores, "m-1")

	// act
	loan, err := coordinator.Borrow(ctx, "m-1", "b-1", day(2024, 1, 1))

	// assert
	require.NoError(t, err)
	assert.True(t, loan.IsActive())
	assertAvailable(t, stores, "b-1", 0)
}

func Test_Coordinator_BusyBookFailsWithinDeadline(t *testing.T) {
	// arrange
	_, stores := givenLibrary(t)
	givenBook(t, stores, "b-1", 2)
	givenMember(t, stores, "m-1")
	givenMember(t, stores, "m-2")
	ledger := &blockingLedger{LoanLedger: stores.Ledger, entered: make(chan struct{}), release: make(chan struct{})}
	coordinator, err := lending.NewCoordinator(stores.Catalog, stores.Members, ledger, stores.Reservations, lending.DefaultPolicy())
	require.NoError(t, err)

	blocked := make(chan error, 1)
	go func() {
		_, err := coordinator.Borrow(context.Background(), "m-1", "b-1", day(2024, 1, 1))
		blocked <- err
	}()
	<-ledger.entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// act
	_, err = coordinator.Borrow(ctx, "m-2", "b-1", day(2024, 1, 1))
	close(ledger.release)

	// assert
	assert.ErrorIs(t, err, domain.ErrBusy)
	assert.Equal(t, lending.StatusTimeout, lending.StatusOf(err))
	assert.NoError(t, <-blocked)
}

func givenLibrary(t *testing.T, options ...lending.Option) (*lending.Coordinator, lending.Stores) {
	t.Helper()

	coordinator, stores, err := lending.NewInMemory(
		lending.InMemoryConfig{Policy: lending.DefaultPolicy(), BcryptCost: bcrypt.MinCost},
		options...,
	)
	require.NoError(t, err)

	return coordinator, stores
}

func givenBook(t *testing.T, stores lending.Stores, id string, copies int) {
	t.Helper()

	_, err := stores.Catalog.Add(context.Background(), catalog.Book{
		ID:          id,
		Title:       "Title of " + id,
		Author:      "Author",
		ISBN:        "isbn-" + id,
		TotalCopies: copies,
	})
	require.NoError(t, err)
}

func givenMember(t *testing.T, stores lending.Stores, id string) {
	t.Helper()

	_, err := stores.Members.Add(context.Background(), members.Member{
		ID:        id,
		FirstName: "First",
		LastName:  "Last",
		Email:     id + "@example.org",
	})
	require.NoError(t, err)
}

func assertAvailable(t *testing.T, stores lending.Stores, bookID string, expected int) {
	t.Helper()

	book, err := stores.Catalog.Get(context.Background(), bookID)
	require.NoError(t, err)
	assert.Equal(t, expected, book.AvailableCopies)
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

type failingLedger struct {
	lending.LoanLedger
	openErr     error
	panicOnOpen bool
}

func (l failingLedger) Open(ctx context.Context, memberID, bookID string, loanDate, dueDate time.Time) (loans.Loan, error) {
	if l.panicOnOpen {
		panic("ledger exploded")
	}

	if l.openErr != nil {
		return loans.Loan{}, l.openErr
	}

	return l.LoanLedger.Open(ctx, memberID, bookID, loanDate, dueDate)
}

type blockingLedger struct {
	lending.LoanLedger
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (l *blockingLedger) Open(ctx context.Context, memberID, bookID string, loanDate, dueDate time.Time) (loans.Loan, error) {
	l.once.Do(func() {
		close(l.entered)
		<-l.release
	})

	return l.LoanLedger.Open(ctx, memberID, bookID, loanDate, dueDate)
}

// shiftingQueue puts another member at the head of the queue right after the first PeekNext.
type shiftingQueue struct {
	lending.ReservationQueue
	once sync.Once
	jump func()
}

func (q *shiftingQueue) PeekNext(ctx context.Context, bookID string) (reservations.Reservation, bool, error) {
	head, waiting, err := q.ReservationQueue.PeekNext(ctx, bookID)
	if waiting {
		q.once.Do(q.jump)
	}

	return head, waiting, err
}

type failingRecorder struct{}

func (failingRecorder) Append(context.Context, journal.Entry, ...journal.Entry) error {
	return journal.ErrAppendFailed
}
