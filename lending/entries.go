package lending

import (
	"context"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/library-lending-go/domain"
	"github.com/AntonStoeckl/library-lending-go/journal"
	"github.com/AntonStoeckl/library-lending-go/loans"
	"github.com/AntonStoeckl/library-lending-go/reservations"
)

// The journal entry types written by the coordinator.
const (
	BookCopyLentEntryType         = "BookCopyLent"
	BookCopyReturnedEntryType     = "BookCopyReturned"
	ReservationPlacedEntryType    = "ReservationPlaced"
	ReservationPromotedEntryType  = "ReservationPromoted"
	ReservationFulfilledEntryType = "ReservationFulfilled"
	ReservationCancelledEntryType = "ReservationCancelled"
	ReservationExpiredEntryType   = "ReservationExpired"
	BookRemovedEntryType          = "BookRemoved"
)

// The reasons of ReservationCancelled entries.
const (
	CancelReasonByMember       = "cancelled_by_member"
	CancelReasonMemberInactive = "member_inactive"
	CancelReasonAlreadyOnLoan  = "already_on_loan"
	CancelReasonBookRemoved    = "book_removed"
)

// BookCopyLent is recorded when a loan is opened, by Borrow or by a handoff.
type BookCopyLent struct {
	LoanID        string    `json:"loanId"`
	BookID        string    `json:"bookId"`
	MemberID      string    `json:"memberId"`
	LoanDate      time.Time `json:"loanDate"`
	DueDate       time.Time `json:"dueDate"`
	ReservationID string    `json:"reservationId,omitempty"`
}

// BookCopyReturned is recorded when a loan is closed.
type BookCopyReturned struct {
	LoanID     string    `json:"loanId"`
	BookID     string    `json:"bookId"`
	MemberID   string    `json:"memberId"`
	ReturnDate time.Time `json:"returnDate"`
	DaysLate   int64     `json:"daysLate"`
	Fine       float64   `json:"fine"`
}

// ReservationPlaced is recorded when a reservation is enqueued.
type ReservationPlaced struct {
	ReservationID string    `json:"reservationId"`
	BookID        string    `json:"bookId"`
	MemberID      string    `json:"memberId"`
	Priority      int       `json:"priority"`
	ReservedAt    time.Time `json:"reservedAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// ReservationChanged is recorded when a reservation leaves the queue. Reason is only set
// for cancellations.
type ReservationChanged struct {
	ReservationID string `json:"reservationId"`
	BookID        string `json:"bookId"`
	MemberID      string `json:"memberId"`
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
}

// BookRemoved is recorded when a book leaves the catalog.
type BookRemoved struct {
	BookID                string `json:"bookId"`
	CancelledReservations int    `json:"cancelledReservations"`
}

// entryBatch collects the journal entries of one operation. They share a correlation id and
// each entry is caused by the one before it.
type entryBatch struct {
	correlationID string
	causationID   string
	entries       []journal.Entry
	err           error
}

func newEntryBatch() *entryBatch {
	return &entryBatch{correlationID: uuid.NewString()}
}

func (b *entryBatch) add(entryType string, occurredAt time.Time, bookID, memberID string, payload any) {
	if b.err != nil {
		return
	}

	payloadJSON, err := jsoniter.ConfigFastest.Marshal(payload)
	if err != nil {
		b.err = err
		return
	}

	metadata := journal.NewMetadata(b.correlationID, b.causationID)
	metadataJSON, err := jsoniter.ConfigFastest.Marshal(metadata)
	if err != nil {
		b.err = err
		return
	}

	entry, err := journal.BuildEntry(entryType, occurredAt, bookID, memberID, payloadJSON, metadataJSON)
	if err != nil {
		b.err = err
		return
	}

	b.causationID = metadata.MessageID
	b.entries = append(b.entries, entry)
}

func (b *entryBatch) lent(loan loans.Loan, reservationID string) {
	b.add(BookCopyLentEntryType, loan.LoanDate, loan.BookID, loan.MemberID, BookCopyLent{
		LoanID:        loan.ID,
		BookID:        loan.BookID,
		MemberID:      loan.MemberID,
		LoanDate:      loan.LoanDate,
		DueDate:       loan.DueDate,
		ReservationID: reservationID,
	})
}

func (b *entryBatch) returned(loan loans.Loan) {
	returnDate := *loan.ReturnDate
	b.add(BookCopyReturnedEntryType, returnDate, loan.BookID, loan.MemberID, BookCopyReturned{
		LoanID:     loan.ID,
		BookID:     loan.BookID,
		MemberID:   loan.MemberID,
		ReturnDate: returnDate,
		DaysLate:   max(0, domain.DaysBetween(loan.DueDate, returnDate)),
		Fine:       loan.Fine,
	})
}

func (b *entryBatch) placed(reservation reservations.Reservation) {
	b.add(ReservationPlacedEntryType, reservation.ReservedAt, reservation.BookID, reservation.MemberID, ReservationPlaced{
		ReservationID: reservation.ID,
		BookID:        reservation.BookID,
		MemberID:      reservation.MemberID,
		Priority:      reservation.Priority,
		ReservedAt:    reservation.ReservedAt,
		ExpiresAt:     reservation.ExpiresAt,
	})
}

func (b *entryBatch) changed(entryType string, at time.Time, reservation reservations.Reservation, reason string) {
	b.add(entryType, at, reservation.BookID, reservation.MemberID, ReservationChanged{
		ReservationID: reservation.ID,
		BookID:        reservation.BookID,
		MemberID:      reservation.MemberID,
		Status:        string(reservation.Status),
		Reason:        reason,
	})
}

func (b *entryBatch) expired(at time.Time, expired []reservations.Reservation) {
	for _, reservation := range expired {
		b.changed(ReservationExpiredEntryType, at, reservation, "")
	}
}

// record appends the batch to the journal. The lending decision is already committed at this
// point, so failures are only logged and counted.
func (c *Coordinator) record(ctx context.Context, operation string, batch *entryBatch) {
	if c.journal == nil || (len(batch.entries) == 0 && batch.err == nil) {
		return
	}

	labels := map[string]string{logAttrOperation: operation}

	if batch.err != nil {
		c.obs.warn(ctx, logMsgBuildEntryFailed, logAttrOperation, operation, logAttrError, batch.err.Error())
		c.obs.incrementCounter(ctx, JournalFailuresMetric, labels)

		return
	}

	if err := c.journal.Append(context.WithoutCancel(ctx), batch.entries[0], batch.entries[1:]...); err != nil {
		c.obs.warn(ctx, logMsgJournalAppendFailed,
			logAttrOperation, operation,
			logAttrEntryCount, len(batch.entries),
			logAttrError, err.Error())
		c.obs.incrementCounter(ctx, JournalFailuresMetric, labels)
	}
}
