package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/AntonStoeckl/library-lending-go/domain"
)

const defaultLockTimeout = 250 * time.Millisecond

// ErrNegativeLockTimeout is returned when a negative lock timeout is configured.
var ErrNegativeLockTimeout = errors.New("lock timeout must not be negative")

// Store keeps the books in memory, guarded by one read/write lock.
type Store struct {
	lockTimeout time.Duration
	lock        *domain.RWLock
	books       map[string]Book
}

// Option defines a functional option for configuring a Store.
type Option func(*Store) error

// WithLockTimeout sets how long an operation waits for the store's lock
// when its context carries no deadline.
func WithLockTimeout(timeout time.Duration) Option {
	return func(s *Store) error {
		if timeout < 0 {
			return ErrNegativeLockTimeout
		}

		s.lockTimeout = timeout

		return nil
	}
}

// NewStore creates an empty Store.
func NewStore(options ...Option) (*Store, error) {
	s := &Store{
		lockTimeout: defaultLockTimeout,
		books:       make(map[string]Book),
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}

	s.lock = domain.NewRWLock(s.lockTimeout)

	return s, nil
}

// Add puts a new book into the catalog with all its copies available.
func (s *Store) Add(ctx context.Context, book Book) (Book, error) {
	book.AvailableCopies = book.TotalCopies
	if err := domain.ValidateStruct(book, domain.ErrInvalidBook); err != nil {
		return Book{}, err
	}

	if err := s.lock.Lock(ctx); err != nil {
		return Book{}, err
	}
	defer s.lock.Unlock()

	if _, exists := s.books[book.ID]; exists {
		return Book{}, fmt.Errorf("%w: book %s", domain.ErrAlreadyExists, book.ID)
	}

	s.books[book.ID] = book

	return book, nil
}

// Update replaces the descriptive fields of a book. A change of TotalCopies is applied to
// AvailableCopies by the same delta; the update fails if fewer copies would remain than are on loan.
// The AvailableCopies of the given book are ignored.
func (s *Store) Update(ctx context.Context, book Book) (Book, error) {
	if err := s.lock.Lock(ctx); err != nil {
		return Book{}, err
	}
	defer s.lock.Unlock()

	current, exists := s.books[book.ID]
	if !exists {
		return Book{}, fmt.Errorf("%w: book %s", domain.ErrNotFound, book.ID)
	}

	book.AvailableCopies = current.AvailableCopies + (book.TotalCopies - current.TotalCopies)
	if book.AvailableCopies < 0 {
		return Book{}, fmt.Errorf("%w: %d copies are on loan", domain.ErrInvalidBook, current.OnLoan())
	}

	if err := domain.ValidateStruct(book, domain.ErrInvalidBook); err != nil {
		return Book{}, err
	}

	s.books[book.ID] = book

	return book, nil
}

// Remove deletes a book. Whether the book still has active loans is not known to the store;
// that check belongs to the caller.
func (s *Store) Remove(ctx context.Context, bookID string) error {
	if err := s.lock.Lock(ctx); err != nil {
		return err
	}
	defer s.lock.Unlock()

	if _, exists := s.books[bookID]; !exists {
		return fmt.Errorf("%w: book %s", domain.ErrNotFound, bookID)
	}

	delete(s.books, bookID)

	return nil
}

// Get returns the book with the given id.
func (s *Store) Get(ctx context.Context, bookID string) (Book, error) {
	if err := s.lock.RLock(ctx); err != nil {
		return Book{}, err
	}
	defer s.lock.RUnlock()

	book, exists := s.books[bookID]
	if !exists {
		return Book{}, fmt.Errorf("%w: book %s", domain.ErrNotFound, bookID)
	}

	return book, nil
}

// ListAll returns all books ordered by id.
func (s *Store) ListAll(ctx context.Context) ([]Book, error) {
	return s.filter(ctx, func(Book) bool { return true })
}

// FindByTitle returns the books whose title contains the given text, ignoring case.
func (s *Store) FindByTitle(ctx context.Context, substring string) ([]Book, error) {
	needle := strings.ToLower(substring)

	return s.filter(ctx, func(b Book) bool {
		return strings.Contains(strings.ToLower(b.Title), needle)
	})
}

// FindByAuthor returns the books whose author contains the given text, ignoring case.
func (s *Store) FindByAuthor(ctx context.Context, substring string) ([]Book, error) {
	needle := strings.ToLower(substring)

	return s.filter(ctx, func(b Book) bool {
		return strings.Contains(strings.ToLower(b.Author), needle)
	})
}

// FindByCategory returns the books of exactly the given category.
func (s *Store) FindByCategory(ctx context.Context, category string) ([]Book, error) {
	return s.filter(ctx, func(b Book) bool {
		return b.Category == category
	})
}

// TryReserveCopy takes one available copy of a book. It returns false, and changes nothing,
// if no copy is available.
func (s *Store) TryReserveCopy(ctx context.Context, bookID string) (bool, error) {
	if err := s.lock.Lock(ctx); err != nil {
		return false, err
	}
	defer s.lock.Unlock()

	book, exists := s.books[bookID]
	if !exists {
		return false, fmt.Errorf("%w: book %s", domain.ErrNotFound, bookID)
	}

	if book.AvailableCopies <= 0 {
		return false, nil
	}

	book.AvailableCopies--
	s.books[bookID] = book

	return true, nil
}

// ReleaseCopy gives one copy of a book back. The count saturates at TotalCopies.
func (s *Store) ReleaseCopy(ctx context.Context, bookID string) error {
	if err := s.lock.Lock(ctx); err != nil {
		return err
	}
	defer s.lock.Unlock()

	book, exists := s.books[bookID]
	if !exists {
		return fmt.Errorf("%w: book %s", domain.ErrNotFound, bookID)
	}

	if book.AvailableCopies < book.TotalCopies {
		book.AvailableCopies++
		s.books[bookID] = book
	}

	return nil
}

// Restore replaces the whole catalog, e.g. from a snapshot. Every book must be valid on its own,
// including its copy counts, and ids must be unique.
func (s *Store) Restore(ctx context.Context, books []Book) error {
	restored := make(map[string]Book, len(books))
	for _, book := range books {
		if err := domain.ValidateStruct(book, domain.ErrInvalidBook); err != nil {
			return err
		}

		if _, dup := restored[book.ID]; dup {
			return fmt.Errorf("%w: book %s", domain.ErrAlreadyExists, book.ID)
		}

		restored[book.ID] = book
	}

	if err := s.lock.Lock(ctx); err != nil {
		return err
	}
	defer s.lock.Unlock()

	s.books = restored

	return nil
}

func (s *Store) filter(ctx context.Context, keep func(Book) bool) ([]Book, error) {
	if err := s.lock.RLock(ctx); err != nil {
		return nil, err
	}

	result := make([]Book, 0, len(s.books))
	for _, book := range s.books {
		if keep(book) {
			result = append(result, book)
		}
	}
	s.lock.RUnlock()

	slices.SortFunc(result, func(a, b Book) int { return strings.Compare(a.ID, b.ID) })

	return result, nil
}
