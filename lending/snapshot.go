package lending

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/library-lending-go/catalog"
	"github.com/AntonStoeckl/library-lending-go/journal"
	"github.com/AntonStoeckl/library-lending-go/loans"
	"github.com/AntonStoeckl/library-lending-go/members"
	"github.com/AntonStoeckl/library-lending-go/reservations"
)

var (
	// ErrInconsistentState is returned when stores disagree, e.g. a book's copies on loan do not
	// match its active loans.
	ErrInconsistentState = errors.New("lending state is inconsistent")

	// ErrNilSnapshotStore is returned when saving or loading without a snapshot store.
	ErrNilSnapshotStore = errors.New("snapshot store must not be nil")

	// ErrEncodingStateFailed is returned when the state could not be serialized.
	ErrEncodingStateFailed = errors.New("encoding lending state failed")

	// ErrDecodingStateFailed is returned when a snapshot could not be deserialized.
	ErrDecodingStateFailed = errors.New("decoding lending state failed")
)

// State is the complete content of all stores at one point in time.
type State struct {
	Books        []catalog.Book             `json:"books"`
	Members      []members.Member           `json:"members"`
	Loans        []loans.Loan               `json:"loans"`
	Reservations []reservations.Reservation `json:"reservations"`
	TakenAt      time.Time                  `json:"takenAt"`
}

// Snapshot copies the content of all stores. It waits for running operations to finish and
// blocks new ones while copying, so the state is consistent across stores.
func (c *Coordinator) Snapshot(ctx context.Context, now time.Time) (State, error) {
	if err := c.gate.Lock(ctx); err != nil {
		return State{}, err
	}
	defer c.gate.Unlock()

	return c.collect(ctx, now)
}

// Restore replaces the content of all stores with the given state. The state is checked for
// consistency first; an inconsistent state changes nothing.
//
// Restoring is not atomic across stores: if a store fails to restore, the stores restored
// before it keep the new content.
func (c *Coordinator) Restore(ctx context.Context, state State) error {
	if err := checkState(state); err != nil {
		return err
	}

	if err := c.gate.Lock(ctx); err != nil {
		return err
	}
	defer c.gate.Unlock()

	if err := c.catalog.Restore(ctx, state.Books); err != nil {
		return err
	}

	if err := c.members.Restore(ctx, state.Members); err != nil {
		return err
	}

	if err := c.ledger.Restore(ctx, state.Loans); err != nil {
		return err
	}

	return c.queue.Restore(ctx, state.Reservations)
}

// CheckInvariants verifies that the stores agree with each other. It blocks operations while
// checking.
func (c *Coordinator) CheckInvariants(ctx context.Context) error {
	if err := c.gate.Lock(ctx); err != nil {
		return err
	}
	defer c.gate.Unlock()

	state, err := c.collect(ctx, time.Time{})
	if err != nil {
		return err
	}

	return checkState(state)
}

// SaveSnapshot takes a snapshot and stores it under the given name.
func (c *Coordinator) SaveSnapshot(ctx context.Context, store journal.SnapshotStore, name string, now time.Time) error {
	if store == nil {
		return ErrNilSnapshotStore
	}

	state, err := c.Snapshot(ctx, now)
	if err != nil {
		return err
	}

	data, err := jsoniter.ConfigFastest.Marshal(state)
	if err != nil {
		return errors.Join(ErrEncodingStateFailed, err)
	}

	snapshot, err := journal.BuildSnapshot(name, data, 0, now)
	if err != nil {
		return err
	}

	return store.SaveSnapshot(ctx, snapshot)
}

// LoadSnapshot restores the latest snapshot stored under the given name.
func (c *Coordinator) LoadSnapshot(ctx context.Context, store journal.SnapshotStore, name string) (State, error) {
	if store == nil {
		return State{}, ErrNilSnapshotStore
	}

	snapshot, err := store.LoadSnapshot(ctx, name)
	if err != nil {
		return State{}, err
	}

	state := new(State)
	if err := jsoniter.ConfigFastest.Unmarshal(snapshot.Data, state); err != nil {
		return State{}, errors.Join(ErrDecodingStateFailed, err)
	}

	if err := c.Restore(ctx, *state); err != nil {
		return State{}, err
	}

	return *state, nil
}

func (c *Coordinator) collect(ctx context.Context, now time.Time) (State, error) {
	books, err := c.catalog.ListAll(ctx)
	if err != nil {
		return State{}, err
	}

	allMembers, err := c.members.ListAll(ctx)
	if err != nil {
		return State{}, err
	}

	allLoans, err := c.ledger.ListAll(ctx)
	if err != nil {
		return State{}, err
	}

	allReservations, err := c.queue.ListAll(ctx)
	if err != nil {
		return State{}, err
	}

	return State{
		Books:        books,
		Members:      allMembers,
		Loans:        allLoans,
		Reservations: allReservations,
		TakenAt:      now,
	}, nil
}

// checkState verifies the rules that span stores:
// each book's copies on loan equal its active loans, and no member has an active reservation for
// a book they hold on loan.
func checkState(state State) error {
	activeLoans := make(map[string]int)
	holding := make(map[[2]string]bool)

	for _, loan := range state.Loans {
		if loan.IsActive() {
			activeLoans[loan.BookID]++
			holding[[2]string{loan.MemberID, loan.BookID}] = true
		}
	}

	for _, book := range state.Books {
		if book.AvailableCopies < 0 || book.AvailableCopies > book.TotalCopies {
			return fmt.Errorf("%w: book %s has %d of %d copies available",
				ErrInconsistentState, book.ID, book.AvailableCopies, book.TotalCopies)
		}

		if book.OnLoan() != activeLoans[book.ID] {
			return fmt.Errorf("%w: book %s has %d copies out but %d active loans",
				ErrInconsistentState, book.ID, book.OnLoan(), activeLoans[book.ID])
		}

		delete(activeLoans, book.ID)
	}

	for bookID, count := range activeLoans {
		if count > 0 {
			return fmt.Errorf("%w: %d active loans for unknown book %s", ErrInconsistentState, count, bookID)
		}
	}

	for _, reservation := range state.Reservations {
		if reservation.IsActive() && holding[[2]string{reservation.MemberID, reservation.BookID}] {
			return fmt.Errorf("%w: member %s reserved book %s while holding it",
				ErrInconsistentState, reservation.MemberID, reservation.BookID)
		}
	}

	return nil
}
