package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/AntonStoeckl/library-lending-go/catalog"
	"github.com/AntonStoeckl/library-lending-go/domain"
	"github.com/AntonStoeckl/library-lending-go/journal"
	"github.com/AntonStoeckl/library-lending-go/journal/sqljournal"
	"github.com/AntonStoeckl/library-lending-go/lending"
	"github.com/AntonStoeckl/library-lending-go/members"
	"github.com/AntonStoeckl/library-lending-go/oteladapters"
)

const (
	defaultBooks      = 200
	defaultMembers    = 500
	defaultWorkers    = 8
	defaultOperations = 5000
	defaultOpsPerDay  = 100
	instrumentation   = "github.com/AntonStoeckl/library-lending-go/cmd/lendingctl"
)

// ErrInvariantViolated is returned when the stores disagree after the simulation.
var ErrInvariantViolated = errors.New("invariant check failed after simulation")

type simulationConfig struct {
	books       int
	maxCopies   int
	members     int
	workers     int
	operations  int
	opsPerDay   int
	seed        uint64
	snapshot    string
	start       time.Time
	bcryptCost  int
}

func newSimulateCommand(a *app) *cobra.Command {
	sc := simulationConfig{
		start:      time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		bcryptCost: bcrypt.MinCost,
	}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a concurrent lending workload and check the invariants afterward",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.simulate(cmd.Context(), cmd.OutOrStdout(), sc)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&sc.books, "books", defaultBooks, "number of books in the catalog")
	flags.IntVar(&sc.maxCopies, "max-copies", 3, "maximum copies per book")
	flags.IntVar(&sc.members, "members", defaultMembers, "number of registered members")
	flags.IntVar(&sc.workers, "workers", defaultWorkers, "concurrent workers")
	flags.IntVar(&sc.operations, "operations", defaultOperations, "total number of operations")
	flags.IntVar(&sc.opsPerDay, "ops-per-day", defaultOpsPerDay, "operations per simulated day")
	flags.Uint64Var(&sc.seed, "seed", 1, "random seed")
	flags.StringVar(&sc.snapshot, "snapshot", "", "save the final state under this snapshot name")

	return cmd
}

func (a *app) simulate(ctx context.Context, out io.Writer, sc simulationConfig) error {
	if sc.books < 1 || sc.members < 1 || sc.workers < 1 || sc.maxCopies < 1 || sc.operations < 0 {
		return fmt.Errorf("%w: books, members, workers and max-copies must be positive",
			domain.ErrInvalidInput)
	}

	tel, err := setupTelemetry(ctx, a.cfg.ServiceName, a.cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() { _ = tel.shutdown(context.WithoutCancel(ctx)) }()

	logger := oteladapters.NewSlogBridgeLoggerWithHandler(a.logger.Handler())
	metrics := oteladapters.NewMetricsCollector(tel.meters.Meter(instrumentation))
	tracer := tel.tracers.Tracer(instrumentation)

	store, err := openBackend(ctx, a.cfg,
		sqljournal.WithContextualLogger(logger),
		sqljournal.WithMetrics(metrics),
		sqljournal.WithTracing(oteladapters.NewJournalTracingCollector(tracer)),
	)
	if err != nil {
		return err
	}
	defer store.close()

	coordinator, stores, err := lending.NewInMemory(
		lending.InMemoryConfig{Policy: a.cfg.Policy(), LockTimeout: a.cfg.LockTimeout, BcryptCost: sc.bcryptCost},
		lending.WithContextualLogger(logger),
		lending.WithMetrics(metrics),
		lending.WithTracing(oteladapters.NewTracingCollector(tracer)),
		lending.WithJournal(store.journal),
	)
	if err != nil {
		return err
	}

	if err := seed(ctx, stores, sc); err != nil {
		return err
	}

	a.logger.Info("simulation started",
		slog.String("journal", store.name),
		slog.Int("books", sc.books),
		slog.Int("members", sc.members),
		slog.Int("workers", sc.workers),
		slog.Int("operations", sc.operations))

	sim := &simulation{
		coordinator: coordinator,
		metrics:     metrics,
		clock:       newClock(sc.start, sc.opsPerDay),
		state:       &simulationState{},
		config:      sc,
	}

	started := time.Now()
	if err := sim.run(ctx); err != nil {
		return err
	}
	elapsed := time.Since(started)

	if _, err := coordinator.ExpireReservations(ctx, sim.clock.now()); err != nil {
		return err
	}

	if err := coordinator.CheckInvariants(ctx); err != nil {
		return errors.Join(ErrInvariantViolated, err)
	}

	if sc.snapshot != "" {
		if err := coordinator.SaveSnapshot(ctx, store.snapshots, sc.snapshot, sim.clock.now()); err != nil {
			return err
		}
	}

	entries, err := store.journal.Read(ctx, journal.Filter{})
	if err != nil {
		return err
	}

	return writeReport(ctx, out, report{
		journal:        store.name,
		operations:     sc.operations,
		elapsed:        elapsed,
		simulatedDays:  int(sim.clock.now().Sub(sc.start).Hours() / 24),
		journalEntries: len(entries),
		snapshot:       sc.snapshot,
	}, tel.reader)
}

// seed fills the catalog and the member registry.
func seed(ctx context.Context, stores lending.Stores, sc simulationConfig) error {
	rng := rand.New(rand.NewPCG(sc.seed, 0))

	for i := range sc.books {
		_, err := stores.Catalog.Add(ctx, catalog.Book{
			ID:          fmt.Sprintf("book-%04d", i),
			Title:       fmt.Sprintf("Title %d", i),
			Author:      fmt.Sprintf("Author %d", i%37),
			ISBN:        fmt.Sprintf("978-%010d", i),
			Category:    categories[i%len(categories)],
			TotalCopies: 1 + rng.IntN(sc.maxCopies),
		})
		if err != nil {
			return err
		}
	}

	for i := range sc.members {
		_, err := stores.Members.Add(ctx, members.Member{
			ID:           fmt.Sprintf("member-%05d", i),
			FirstName:    fmt.Sprintf("First%d", i),
			LastName:     fmt.Sprintf("Last%d", i),
			Email:        fmt.Sprintf("member%d@example.org", i),
			RegisteredAt: sc.start,
		})
		if err != nil {
			return err
		}
	}

	return nil
}

var categories = []string{"Fiction", "Science", "History", "Children", "Travel"}

type simulation struct {
	coordinator *lending.Coordinator
	metrics     lending.MetricsCollector
	clock       *clock
	state       *simulationState
	config      simulationConfig
}

// run spreads the operations over the workers. Business rejections are expected and only
// counted; the first infrastructure error stops all workers.
func (s *simulation) run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	perWorker := s.config.operations / s.config.workers
	remainder := s.config.operations % s.config.workers

	for worker := range s.config.workers {
		operations := perWorker
		if worker < remainder {
			operations++
		}

		rng := rand.New(rand.NewPCG(s.config.seed, uint64(worker)+1))
		group.Go(func() error {
			for range operations {
				if err := ctx.Err(); err != nil {
					return err
				}

				if err := s.step(ctx, rng); err != nil {
					return err
				}
			}

			return nil
		})
	}

	return group.Wait()
}

// step runs one random operation.
func (s *simulation) step(ctx context.Context, rng *rand.Rand) error {
	now := s.clock.tick()
	memberID := fmt.Sprintf("member-%05d", rng.IntN(s.config.members))
	bookID := fmt.Sprintf("book-%04d", rng.IntN(s.config.books))

	var err error
	switch roll := rng.IntN(100); {
	case roll < 45:
		err = s.borrow(ctx, memberID, bookID, now)
	case roll < 75:
		err = s.returnBook(ctx, rng, now)
	case roll < 90:
		err = s.reserve(ctx, memberID, bookID, rng.IntN(3), now)
	case roll < 95:
		err = s.cancel(ctx, rng, now)
	default:
		_, err = s.coordinator.Availability(ctx, bookID, now)
	}

	return fatal(err)
}

func (s *simulation) borrow(ctx context.Context, memberID, bookID string, now time.Time) error {
	return s.retry(ctx, lending.OperationBorrow, func(ctx context.Context) error {
		loan, err := s.coordinator.Borrow(ctx, memberID, bookID, now)
		if err == nil {
			s.state.addLoan(loan.ID)
		}

		return err
	})
}

func (s *simulation) returnBook(ctx context.Context, rng *rand.Rand, now time.Time) error {
	loanID, ok := s.state.takeLoan(rng)
	if !ok {
		return nil
	}

	err := s.retry(ctx, lending.OperationReturn, func(ctx context.Context) error {
		receipt, err := s.coordinator.ReturnBook(ctx, loanID, now)
		if receipt.Handoff != nil {
			s.state.addLoan(receipt.Handoff.ID)
		}

		return err
	})

	switch domain.KindOf(err) {
	case "", domain.KindNotFound, domain.KindAlreadyReturned:
	default:
		// another worker's clock was behind; try again later
		s.state.addLoan(loanID)
	}

	return err
}

func (s *simulation) reserve(ctx context.Context, memberID, bookID string, priority int, now time.Time) error {
	return s.retry(ctx, lending.OperationReserve, func(ctx context.Context) error {
		reservation, err := s.coordinator.Reserve(ctx, memberID, bookID, priority, now)
		if err == nil {
			s.state.addReservation(reservation.ID)
		}

		return err
	})
}

func (s *simulation) cancel(ctx context.Context, rng *rand.Rand, now time.Time) error {
	reservationID, ok := s.state.takeReservation(rng)
	if !ok {
		return nil
	}

	return s.retry(ctx, lending.OperationCancelReservation, func(ctx context.Context) error {
		_, err := s.coordinator.CancelReservation(ctx, reservationID, now)
		return err
	})
}

func (s *simulation) retry(ctx context.Context, operation string, fn lending.RetryableFunc) error {
	return lending.RetryOnBusy(ctx, fn, lending.WithRetryMetrics(s.metrics, operation))
}

// fatal filters out the errors a lending workload produces on purpose. Books still busy after
// all retries are among them; the retry metrics count those.
func fatal(err error) error {
	if domain.KindOf(err) == domain.KindInternal {
		return err
	}

	return nil
}
