// Package reservations keeps per-book queues of members waiting for a copy.
//
// A queue is ordered by priority (lower value first), then by reservation time, then by the order
// reservations were placed in. Only active reservations are queued; cancelled, expired and
// fulfilled ones leave the queue but stay retrievable.
package reservations

import (
	"cmp"
	"time"
)

// Status is the state of a reservation.
type Status string

// The reservation statuses. Every status but StatusActive is terminal.
const (
	StatusActive    Status = "ACTIVE"
	StatusFulfilled Status = "FULFILLED"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
)

// Reservation is a member's claim on the next free copy of a book.
type Reservation struct {
	ID         string    `json:"id"`
	MemberID   string    `json:"memberId"`
	BookID     string    `json:"bookId"`
	ReservedAt time.Time `json:"reservedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Status     Status    `json:"status"`
	Priority   int       `json:"priority"`
	Sequence   uint64    `json:"sequence"`
}

// IsActive reports whether the reservation is still waiting.
func (r Reservation) IsActive() bool {
	return r.Status == StatusActive
}

// IsExpired reports whether an active reservation has passed its expiration at now.
func (r Reservation) IsExpired(now time.Time) bool {
	return r.IsActive() && r.ExpiresAt.Before(now)
}

func compareQueued(a, b Reservation) int {
	return cmp.Or(
		cmp.Compare(a.Priority, b.Priority),
		a.ReservedAt.Compare(b.ReservedAt),
		cmp.Compare(a.Sequence, b.Sequence),
	)
}
