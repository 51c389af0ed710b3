package lending

import (
	"time"

	"github.com/AntonStoeckl/library-lending-go/catalog"
	"github.com/AntonStoeckl/library-lending-go/loans"
	"github.com/AntonStoeckl/library-lending-go/members"
	"github.com/AntonStoeckl/library-lending-go/reservations"
)

// Stores gives access to the stores of an in-memory setup, e.g. to add books and members,
// which the coordinator does not do itself.
type Stores struct {
	Catalog      *catalog.Store
	Members      *members.Store
	Ledger       *loans.Ledger
	Reservations *reservations.Queue
}

// InMemoryConfig configures the stores created by NewInMemory.
type InMemoryConfig struct {
	Policy      Policy
	LockTimeout time.Duration // 0 keeps each store's default
	BcryptCost  int           // 0 keeps the default cost
}

// NewInMemory creates in-memory stores configured by the policy and a Coordinator over them.
// The ledger doubles as the queue's hold checker, so members cannot reserve books they hold.
func NewInMemory(config InMemoryConfig, options ...Option) (*Coordinator, Stores, error) {
	if err := config.Policy.Validate(); err != nil {
		return nil, Stores{}, err
	}

	var (
		catalogOptions []catalog.Option
		memberOptions  []members.Option
		ledgerOptions  = []loans.Option{loans.WithFinePerDay(config.Policy.FinePerDay)}
		queueOptions   = []reservations.Option{reservations.WithMaxReservations(config.Policy.MaxReservations)}
	)

	if config.LockTimeout > 0 {
		catalogOptions = append(catalogOptions, catalog.WithLockTimeout(config.LockTimeout))
		memberOptions = append(memberOptions, members.WithLockTimeout(config.LockTimeout))
		ledgerOptions = append(ledgerOptions, loans.WithLockTimeout(config.LockTimeout))
		queueOptions = append(queueOptions, reservations.WithLockTimeout(config.LockTimeout))
		options = append([]Option{WithLockTimeout(config.LockTimeout)}, options...)
	}

	if config.BcryptCost > 0 {
		memberOptions = append(memberOptions, members.WithBcryptCost(config.BcryptCost))
	}

	books, err := catalog.NewStore(catalogOptions...)
	if err != nil {
		return nil, Stores{}, err
	}

	registry, err := members.NewStore(memberOptions...)
	if err != nil {
		return nil, Stores{}, err
	}

	ledger, err := loans.NewLedger(ledgerOptions...)
	if err != nil {
		return nil, Stores{}, err
	}

	queue, err := reservations.NewQueue(append(queueOptions, reservations.WithHoldChecker(ledger))...)
	if err != nil {
		return nil, Stores{}, err
	}

	coordinator, err := NewCoordinator(books, registry, ledger, queue, config.Policy, options...)
	if err != nil {
		return nil, Stores{}, err
	}

	return coordinator, Stores{Catalog: books, Members: registry, Ledger: ledger, Reservations: queue}, nil
}
