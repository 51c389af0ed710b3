package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that translate errors into their own vocabulary,
// e.g. status codes of a transport layer.
type Kind string

// The error kinds. KindInternal is used for anything that is not one of the sentinels below.
const (
	KindNotFound          Kind = "NotFound"
	KindInvalidInput      Kind = "InvalidInput"
	KindAlreadyReturned   Kind = "AlreadyReturned"
	KindAlreadyCancelled  Kind = "AlreadyCancelled"
	KindNoCopiesAvailable Kind = "NoCopiesAvailable"
	KindLimitExceeded     Kind = "LimitExceeded"
	KindMemberInactive    Kind = "MemberInactive"
	KindAlreadyHeld       Kind = "AlreadyHeld"
	KindAlreadyExists     Kind = "AlreadyExists"
	KindConflict          Kind = "Conflict"
	KindAuthFailed        Kind = "AuthFailed"
	KindBusy              Kind = "Busy"
	KindInternal          Kind = "Internal"
)

var (
	// ErrNotFound is returned when a book, member, loan or reservation does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned for malformed input or missing required fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidBook is returned when a book lacks an id, title, author or ISBN, or has inconsistent copy counts.
	ErrInvalidBook = fmt.Errorf("%w: invalid book", ErrInvalidInput)

	// ErrInvalidMember is returned when a member lacks required fields or has a malformed email.
	ErrInvalidMember = fmt.Errorf("%w: invalid member", ErrInvalidInput)

	// ErrInvalidLoan is returned when a loan lacks a member id, book id or loan date.
	ErrInvalidLoan = fmt.Errorf("%w: invalid loan", ErrInvalidInput)

	// ErrInvalidReservation is returned when a reservation lacks a member id, book id or reservation date.
	ErrInvalidReservation = fmt.Errorf("%w: invalid reservation", ErrInvalidInput)

	// ErrInvalidReturnDate is returned when a return date lies before the loan date.
	ErrInvalidReturnDate = fmt.Errorf("%w: return date before loan date", ErrInvalidInput)

	// ErrAlreadyReturned is returned when closing a loan that is already returned.
	ErrAlreadyReturned = errors.New("loan already returned")

	// ErrAlreadyCancelled is returned when cancelling a reservation twice.
	ErrAlreadyCancelled = errors.New("reservation already cancelled")

	// ErrNoCopiesAvailable is returned when no free copy of a book is left.
	ErrNoCopiesAvailable = errors.New("no copies available")

	// ErrLimitExceeded is returned when a member already holds the maximum number of active reservations.
	ErrLimitExceeded = errors.New("reservation limit exceeded")

	// ErrMemberInactive is returned when a deactivated member tries to borrow or reserve.
	ErrMemberInactive = errors.New("member inactive")

	// ErrAlreadyHeld is returned when a member reserves a book they already hold on loan or already reserved.
	ErrAlreadyHeld = errors.New("book already held by member")

	// ErrAlreadyExists is returned when adding a record with an id (or member email) that is already taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrConflict is the general kind of state conflicts that are not covered by a more specific sentinel.
	ErrConflict = errors.New("conflict")

	// ErrBookOnLoan is returned when removing a book that still has active loans.
	ErrBookOnLoan = fmt.Errorf("%w: book has active loans", ErrConflict)

	// ErrNotActive is returned when cancelling a reservation that is already fulfilled or expired.
	ErrNotActive = fmt.Errorf("%w: reservation not active", ErrConflict)

	// ErrAuthFailed is returned when credentials do not match an active member.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrBusy is returned when a lock could not be acquired before the deadline.
	ErrBusy = errors.New("busy: lock acquisition timed out")
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrNotFound, KindNotFound},
	{ErrInvalidInput, KindInvalidInput},
	{ErrAlreadyReturned, KindAlreadyReturned},
	{ErrAlreadyCancelled, KindAlreadyCancelled},
	{ErrNoCopiesAvailable, KindNoCopiesAvailable},
	{ErrLimitExceeded, KindLimitExceeded},
	{ErrMemberInactive, KindMemberInactive},
	{ErrAlreadyHeld, KindAlreadyHeld},
	{ErrAlreadyExists, KindAlreadyExists},
	{ErrConflict, KindConflict},
	{ErrAuthFailed, KindAuthFailed},
	{ErrBusy, KindBusy},
}

// KindOf returns the Kind of err. It returns the empty Kind for a nil error
// and KindInternal for errors that match none of the sentinels.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}

	return KindInternal
}
