package lending

import "errors"

// The defaults of Policy.
const (
	DefaultMaxLoanDays         = 14
	DefaultFinePerDay          = 1.0
	DefaultMaxReservations     = 5
	DefaultReservationHoldDays = 30
)

var (
	// ErrInvalidMaxLoanDays is returned when the loan period is not positive.
	ErrInvalidMaxLoanDays = errors.New("max loan days must be positive")

	// ErrInvalidFinePerDay is returned when the fine per day is negative.
	ErrInvalidFinePerDay = errors.New("fine per day must not be negative")

	// ErrInvalidMaxReservations is returned when the reservation limit is not positive.
	ErrInvalidMaxReservations = errors.New("max reservations must be positive")

	// ErrInvalidReservationHoldDays is returned when reservations would expire immediately.
	ErrInvalidReservationHoldDays = errors.New("reservation hold days must be positive")

	// ErrPolicyMismatch is returned when the ledger or the queue enforce other rules than the policy.
	ErrPolicyMismatch = errors.New("stores are configured with other rules than the policy")
)

// Policy holds the lending rules of one coordinator. It is fixed at construction.
//
// FinePerDay and MaxReservations are enforced by the ledger and the queue. NewCoordinator
// rejects stores configured with other values; NewInMemory configures them from the policy.
type Policy struct {
	MaxLoanDays         int
	FinePerDay          float64
	MaxReservations     int
	ReservationHoldDays int
}

// DefaultPolicy returns the default lending rules.
func DefaultPolicy() Policy {
	return Policy{
		MaxLoanDays:         DefaultMaxLoanDays,
		FinePerDay:          DefaultFinePerDay,
		MaxReservations:     DefaultMaxReservations,
		ReservationHoldDays: DefaultReservationHoldDays,
	}
}

// Validate checks the policy for values that make no sense.
func (p Policy) Validate() error {
	switch {
	case p.MaxLoanDays <= 0:
		return ErrInvalidMaxLoanDays
	case p.FinePerDay < 0:
		return ErrInvalidFinePerDay
	case p.MaxReservations <= 0:
		return ErrInvalidMaxReservations
	case p.ReservationHoldDays <= 0:
		return ErrInvalidReservationHoldDays
	}

	return nil
}
