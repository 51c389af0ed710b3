package loans_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/library-lending-go/domain"
	"github.com/AntonStoeckl/library-lending-go/loans"
)

func Test_Open_CreatesActiveLoan(t *testing.T) {
	// arrange
	ledger := givenLedger(t)

	// act
	loan, err := ledger.Open(context.Background(), "m-1", "b-1", day(2024, 1, 1), day(2024, 1, 15))

	// assert
	require.NoError(t, err)
	assert.Equal(t, "loan-1", loan.ID)
	assert.Equal(t, loans.StatusActive, loan.Status)
	assert.Nil(t, loan.ReturnDate)
	assert.Zero(t, loan.Fine)
}

func Test_Open_RejectsInvalidInput(t *testing.T) {
	ledger := givenLedger(t)
	ctx := context.Background()

	_, noMember := ledger.Open(ctx, "", "b-1", day(2024, 1, 1), day(2024, 1, 15))
	_, noBook := ledger.Open(ctx, "m-1", "", day(2024, 1, 1), day(2024, 1, 15))
	_, noDate := ledger.Open(ctx, "m-1", "b-1", zeroTime, day(2024, 1, 15))
	_, dueBeforeLoan := ledger.Open(ctx, "m-1", "b-1", day(2024, 1, 15), day(2024, 1, 1))

	assert.ErrorIs(t, noMember, domain.ErrInvalidLoan)
	assert.ErrorIs(t, noBook, domain.ErrInvalidLoan)
	assert.ErrorIs(t, noDate, domain.ErrInvalidLoan)
	assert.ErrorIs(t, dueBeforeLoan, domain.ErrInvalidLoan)
}

func Test_Close_ComputesFine(t *testing.T) {
	// arrange
	ctx := context.Background()
	ledger := givenLedger(t)
	loan, err := ledger.Open(ctx, "m-1", "b-1", day(2023, 12, 27), day(2024, 1, 10))
	require.NoError(t, err)

	// act
	closed, err := ledger.Close(ctx, loan.ID, day(2024, 1, 15))

	// assert
	require.NoError(t, err)
	assert.Equal(t, loans.StatusReturned, closed.Status)
	require.NotNil(t, closed.ReturnDate)
	assert.Equal(t, day(2024, 1, 15), *closed.ReturnDate)
	assert.InDelta(t, 5.0, closed.Fine, 1e-9)
}

func Test_Close_Twice_AlreadyReturned(t *testing.T) {
	ctx := context.Background()
	ledger := givenLedger(t)
	loan, _ := ledger.Open(ctx, "m-1", "b-1", day(2024, 1, 1), day(2024, 1, 15))

	_, first := ledger.Close(ctx, loan.ID, day(2024, 1, 9))
	_, second := ledger.Close(ctx, loan.ID, day(2024, 1, 10))

	require.NoError(t, first)
	assert.ErrorIs(t, second, domain.ErrAlreadyReturned)
	stored, _ := ledger.Get(ctx, loan.ID)
	assert.Equal(t, day(2024, 1, 9), *stored.ReturnDate)
}

func Test_Close_Errors(t *testing.T) {
	ctx := context.Background()
	ledger := givenLedger(t)
	loan, _ := ledger.Open(ctx, "m-1", "b-1", day(2024, 1, 5), day(2024, 1, 19))

	_, unknown := ledger.Close(ctx, "nope", day(2024, 1, 9))
	_, beforeLoan := ledger.Close(ctx, loan.ID, day(2024, 1, 4))

	assert.ErrorIs(t, unknown, domain.ErrNotFound)
	assert.ErrorIs(t, beforeLoan, domain.ErrInvalidReturnDate)
	stored, _ := ledger.Get(ctx, loan.ID)
	assert.True(t, stored.IsActive())
}

func Test_ListOverdue(t *testing.T) {
	// arrange
	ctx := context.Background()
	ledger := givenLedger(t)
	late, _ := ledger.Open(ctx, "m-1", "b-1", day(2024, 1, 1), day(2024, 1, 15))
	later, _ := ledger.Open(ctx, "m-2", "b-2", day(2024, 1, 3), day(2024, 1, 17))
	_, _ = ledger.Open(ctx, "m-3", "b-3", day(2024, 1, 10), day(2024, 1, 24))
	returned, _ := ledger.Open(ctx, "m-4", "b-4", day(2024, 1, 1), day(2024, 1, 15))
	_, _ = ledger.Close(ctx, returned.ID, day(2024, 1, 16))

	// act
	overdue, err := ledger.ListOverdue(ctx, day(2024, 1, 20))

	// assert
	require.NoError(t, err)
	require.Len(t, overdue, 2)
	assert.Equal(t, late.ID, overdue[0].ID)
	assert.Equal(t, later.ID, overdue[1].ID)
}

func Test_TotalFinesForMember_IncludesSettledLoans(t *testing.T) {
	// arrange
	ctx := context.Background()
	ledger := givenLedger(t)
	first, _ := ledger.Open(ctx, "m-1", "b-1", day(2024, 1, 1), day(2024, 1, 15))
	second, _ := ledger.Open(ctx, "m-1", "b-2", day(2024, 1, 1), day(2024, 1, 15))
	_, _ = ledger.Open(ctx, "m-1", "b-3", day(2024, 1, 1), day(2024, 1, 15))
	other, _ := ledger.Open(ctx, "m-2", "b-1", day(2024, 1, 1), day(2024, 1, 15))
	_, _ = ledger.Close(ctx, first.ID, day(2024, 1, 18))
	_, _ = ledger.Close(ctx, second.ID, day(2024, 1, 17))
	_, _ = ledger.Close(ctx, other.ID, day(2024, 1, 25))

	// act
	total, err := ledger.TotalFinesForMember(ctx, "m-1")

	// assert
	require.NoError(t, err)
	assert.InDelta(t, 5.0, total, 1e-9)
}

func Test_ListByMember_And_ActiveLookups(t *testing.T) {
	ctx := context.Background()
	ledger := givenLedger(t)
	a, _ := ledger.Open(ctx, "m-1", "b-1", day(2024, 1, 2), day(2024, 1, 16))
	b, _ := ledger.Open(ctx, "m-1", "b-2", day(2024, 1, 1), day(2024, 1, 15))
	_, _ = ledger.Open(ctx, "m-2", "b-1", day(2024, 1, 1), day(2024, 1, 15))
	_, _ = ledger.Close(ctx, b.ID, day(2024, 1, 5))

	byMember, err := ledger.ListByMember(ctx, "m-1")
	require.NoError(t, err)
	hasB1, _ := ledger.HasActiveLoan(ctx, "m-1", "b-1")
	hasB2, _ := ledger.HasActiveLoan(ctx, "m-1", "b-2")
	activeB1, _ := ledger.ActiveLoansForBook(ctx, "b-1")
	activeB2, _ := ledger.ActiveLoansForBook(ctx, "b-2")

	require.Len(t, byMember, 2)
	assert.Equal(t, b.ID, byMember[0].ID)
	assert.Equal(t, a.ID, byMember[1].ID)
	assert.True(t, hasB1)
	assert.False(t, hasB2)
	assert.Equal(t, 2, activeB1)
	assert.Equal(t, 0, activeB2)
}

func Test_Annotate(t *testing.T) {
	ctx := context.Background()
	ledger := givenLedger(t)
	loan, _ := ledger.Open(ctx, "m-1", "b-1", day(2024, 1, 1), day(2024, 1, 15))

	annotated, err := ledger.Annotate(ctx, loan.ID, "cover slightly damaged")

	require.NoError(t, err)
	assert.Equal(t, "cover slightly damaged", annotated.Notes)
}

func Test_Restore_RejectsInconsistentLoans(t *testing.T) {
	ledger := givenLedger(t)
	returnDate := day(2024, 1, 5)

	err := ledger.Restore(context.Background(), []loans.Loan{{
		ID: "x", MemberID: "m-1", BookID: "b-1",
		LoanDate: day(2024, 1, 1), DueDate: day(2024, 1, 15),
		Status: loans.StatusActive, ReturnDate: &returnDate,
	}})

	assert.ErrorIs(t, err, domain.ErrInvalidLoan)
}

func Test_NewLedger_Options(t *testing.T) {
	_, negativeFine := loans.NewLedger(loans.WithFinePerDay(-1))
	_, nilID := loans.NewLedger(loans.WithIDGenerator(nil))
	_, negativeTimeout := loans.NewLedger(loans.WithLockTimeout(-1))

	assert.ErrorIs(t, negativeFine, loans.ErrNegativeFinePerDay)
	assert.ErrorIs(t, nilID, loans.ErrNilIDGenerator)
	assert.ErrorIs(t, negativeTimeout, loans.ErrNegativeLockTimeout)
}

func givenLedger(t *testing.T) *loans.Ledger {
	t.Helper()

	var seq int64
	ledger, err := loans.NewLedger(
		loans.WithFinePerDay(1.0),
		loans.WithIDGenerator(func() string {
			return fmt.Sprintf("loan-%d", atomic.AddInt64(&seq, 1))
		}),
	)
	require.NoError(t, err)

	return ledger
}
