// Package loans is the ledger of lent copies: it opens and closes loans, computes fines
// and detects overdue loans. It knows nothing about copy availability; that is the lending
// coordinator's business.
package loans

import (
	"time"

	"github.com/AntonStoeckl/library-lending-go/domain"
)

// Status is the stored state of a loan. StatusOverdue is never stored, it is derived on read.
type Status string

// The loan statuses.
const (
	StatusActive   Status = "ACTIVE"
	StatusReturned Status = "RETURNED"
	StatusOverdue  Status = "OVERDUE"
)

// Loan records one copy of a book lent to one member. Loans are never deleted.
type Loan struct {
	ID         string     `json:"id"`
	MemberID   string     `json:"memberId"`
	BookID     string     `json:"bookId"`
	LoanDate   time.Time  `json:"loanDate"`
	DueDate    time.Time  `json:"dueDate"`
	ReturnDate *time.Time `json:"returnDate,omitempty"`
	Status     Status     `json:"status"`
	Fine       float64    `json:"fine"`
	Notes      string     `json:"notes,omitempty"`
}

// IsActive reports whether the loan has not been returned.
func (l Loan) IsActive() bool {
	return l.Status == StatusActive
}

// IsOverdue reports whether the loan is active and its due date lies before now.
func (l Loan) IsOverdue(now time.Time) bool {
	return l.IsActive() && l.DueDate.Before(now)
}

// StatusAt returns the status as seen at now, i.e. StatusOverdue for overdue loans.
func (l Loan) StatusAt(now time.Time) Status {
	if l.IsOverdue(now) {
		return StatusOverdue
	}

	return l.Status
}

// OutstandingFine is the fine an active loan has accrued by now. For returned loans it is the
// fine fixed at return.
func (l Loan) OutstandingFine(now time.Time, finePerDay float64) float64 {
	if !l.IsActive() {
		return l.Fine
	}

	return Fine(l.DueDate, now, finePerDay)
}

// Fine returns finePerDay times the whole days from due to at, or 0 if at is not after due.
// Partial days are not charged.
func Fine(due, at time.Time, finePerDay float64) float64 {
	daysLate := domain.DaysBetween(due, at)
	if daysLate <= 0 || finePerDay <= 0 {
		return 0
	}

	return float64(daysLate) * finePerDay
}
