package main

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"
)

// clock is the simulated time. It advances one day every opsPerDay operations.
type clock struct {
	start     time.Time
	opsPerDay int64
	ops       atomic.Int64
}

func newClock(start time.Time, opsPerDay int) *clock {
	return &clock{start: start, opsPerDay: int64(max(opsPerDay, 1))}
}

// tick counts an operation and returns the simulated time it happens at.
func (c *clock) tick() time.Time {
	op := c.ops.Add(1) - 1

	return c.start.Add(time.Duration(op/c.opsPerDay) * 24 * time.Hour)
}

// now returns the current simulated time without counting an operation.
func (c *clock) now() time.Time {
	return c.start.Add(time.Duration(c.ops.Load()/c.opsPerDay) * 24 * time.Hour)
}

// simulationState remembers the open loans and active reservations the workers created, so
// that they return and cancel mostly existing things. It does not mirror the stores exactly:
// handoffs open loans the workers never saw, and that is fine.
type simulationState struct {
	mu           sync.Mutex
	loans        []string
	reservations []string
}

func (s *simulationState) addLoan(loanID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loans = append(s.loans, loanID)
}

// takeLoan removes and returns a random loan id.
func (s *simulationState) takeLoan(rng *rand.Rand) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return take(&s.loans, rng)
}

func (s *simulationState) addReservation(reservationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reservations = append(s.reservations, reservationID)
}

// takeReservation removes and returns a random reservation id.
func (s *simulationState) takeReservation(rng *rand.Rand) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return take(&s.reservations, rng)
}

func (s *simulationState) counts() (loans, reservations int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.loans), len(s.reservations)
}

func take(ids *[]string, rng *rand.Rand) (string, bool) {
	n := len(*ids)
	if n == 0 {
		return "", false
	}

	i := rng.IntN(n)
	id := (*ids)[i]
	(*ids)[i] = (*ids)[n-1]
	*ids = (*ids)[:n-1]

	return id, true
}
