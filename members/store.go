package members

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/AntonStoeckl/library-lending-go/domain"
)

const defaultLockTimeout = 250 * time.Millisecond

var (
	// ErrNegativeLockTimeout is returned when a negative lock timeout is configured.
	ErrNegativeLockTimeout = errors.New("lock timeout must not be negative")

	// ErrInvalidBcryptCost is returned when the configured bcrypt cost is out of range.
	ErrInvalidBcryptCost = errors.New("bcrypt cost out of range")

	// ErrHashingPasswordFailed is returned when bcrypt fails to hash a password.
	ErrHashingPasswordFailed = errors.New("hashing password failed")
)

// Store keeps the members in memory, guarded by one read/write lock.
// Members are indexed by id and by lower-cased email.
type Store struct {
	lockTimeout time.Duration
	bcryptCost  int
	lock        *domain.RWLock
	members     map[string]Member
	byEmail     map[string]string
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

// WithBcryptCost sets the cost used by SetPassword.
func WithBcryptCost(cost int) Option {
	return func(s *Store) error {
		if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
			return ErrInvalidBcryptCost
		}

		s.bcryptCost = cost

		return nil
	}
}

// NewStore creates an empty Store.
func NewStore(options ...Option) (*Store, error) {
	s := &Store{
		lockTimeout: defaultLockTimeout,
		bcryptCost:  bcrypt.DefaultCost,
		members:     make(map[string]Member),
		byEmail:     make(map[string]string),
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}

	s.lock = domain.NewRWLock(s.lockTimeout)

	return s, nil
}

// Add registers a new, active member. Ids and emails must be unique.
func (s *Store) Add(ctx context.Context, member Member) (Member, error) {
	member.Active = true
	if member.MembershipType == "" {
		member.MembershipType = MembershipStandard
	}

	if err := domain.ValidateStruct(member, domain.ErrInvalidMember); err != nil {
		return Member{}, err
	}

	if err := s.lock.Lock(ctx); err != nil {
		return Member{}, err
	}
	defer s.lock.Unlock()

	if _, exists := s.members[member.ID]; exists {
		return Member{}, fmt.Errorf("%w: member %s", domain.ErrAlreadyExists, member.ID)
	}

	if _, taken := s.byEmail[emailKey(member.Email)]; taken {
		return Member{}, fmt.Errorf("%w: email %s", domain.ErrAlreadyExists, member.Email)
	}

	s.put(member)

	return member, nil
}

// Update replaces a member's data. The active flag and the password hash are kept;
// they change only through Deactivate and SetPassword.
func (s *Store) Update(ctx context.Context, member Member) (Member, error) {
	if err := domain.ValidateStruct(member, domain.ErrInvalidMember); err != nil {
		return Member{}, err
	}

	if err := s.lock.Lock(ctx); err != nil {
		return Member{}, err
	}
	defer s.lock.Unlock()

	current, exists := s.members[member.ID]
	if !exists {
		return Member{}, fmt.Errorf("%w: member %s", domain.ErrNotFound, member.ID)
	}

	if ownerID, taken := s.byEmail[emailKey(member.Email)]; taken && ownerID != member.ID {
		return Member{}, fmt.Errorf("%w: email %s", domain.ErrAlreadyExists, member.Email)
	}

	member.Active = current.Active
	member.PasswordHash = current.PasswordHash
	delete(s.byEmail, emailKey(current.Email))
	s.put(member)

	return member, nil
}

// Deactivate marks a member inactive. Deactivating an inactive member is a no-op.
func (s *Store) Deactivate(ctx context.Context, memberID string) (Member, error) {
	if err := s.lock.Lock(ctx); err != nil {
		return Member{}, err
	}
	defer s.lock.Unlock()

	member, exists := s.members[memberID]
	if !exists {
		return Member{}, fmt.Errorf("%w: member %s", domain.ErrNotFound, memberID)
	}

	member.Active = false
	s.members[memberID] = member

	return member, nil
}

// Get returns the member with the given id.
func (s *Store) Get(ctx context.Context, memberID string) (Member, error) {
	if err := s.lock.RLock(ctx); err != nil {
		return Member{}, err
	}
	defer s.lock.RUnlock()

	member, exists := s.members[memberID]
	if !exists {
		return Member{}, fmt.Errorf("%w: member %s", domain.ErrNotFound, memberID)
	}

	return member, nil
}

// ListAll returns all members ordered by id.
func (s *Store) ListAll(ctx context.Context) ([]Member, error) {
	return s.filter(ctx, func(Member) bool { return true })
}

// FindByName returns the members whose first name, last name or full name contains
// the given text, ignoring case.
func (s *Store) FindByName(ctx context.Context, substring string) ([]Member, error) {
	needle := strings.ToLower(substring)

	return s.filter(ctx, func(m Member) bool {
		return strings.Contains(strings.ToLower(m.FirstName), needle) ||
			strings.Contains(strings.ToLower(m.LastName), needle) ||
			strings.Contains(strings.ToLower(m.FullName()), needle)
	})
}

// SetPassword stores the bcrypt hash of password for a member.
func (s *Store) SetPassword(ctx context.Context, memberID, password string) error {
	hash, err := HashPassword(password, s.bcryptCost)
	if err != nil {
		return err
	}

	if err := s.lock.Lock(ctx); err != nil {
		return err
	}
	defer s.lock.Unlock()

	member, exists := s.members[memberID]
	if !exists {
		return fmt.Errorf("%w: member %s", domain.ErrNotFound, memberID)
	}

	member.PasswordHash = hash
	s.members[memberID] = member

	return nil
}

// ValidateCredentials returns the member with the given email if it is active and the password
// matches the stored hash. Any mismatch yields ErrAuthFailed without telling which part failed.
func (s *Store) ValidateCredentials(ctx context.Context, email, password string) (Member, error) {
	if err := s.lock.RLock(ctx); err != nil {
		return Member{}, err
	}

	member, exists := s.members[s.byEmail[emailKey(email)]]
	s.lock.RUnlock()

	// bcrypt runs outside the lock, it is slow on purpose.
	if !exists || !member.Active || !passwordMatches(member.PasswordHash, password) {
		return Member{}, domain.ErrAuthFailed
	}

	return member, nil
}

// Restore replaces all members, e.g. from a snapshot.
func (s *Store) Restore(ctx context.Context, members []Member) error {
	restored := make(map[string]Member, len(members))
	byEmail := make(map[string]string, len(members))

	for _, member := range members {
		if err := domain.ValidateStruct(member, domain.ErrInvalidMember); err != nil {
			return err
		}

		if _, dup := restored[member.ID]; dup {
			return fmt.Errorf("%w: member %s", domain.ErrAlreadyExists, member.ID)
		}

		if _, dup := byEmail[emailKey(member.Email)]; dup {
			return fmt.Errorf("%w: email %s", domain.ErrAlreadyExists, member.Email)
		}

		restored[member.ID] = member
		byEmail[emailKey(member.Email)] = member.ID
	}

	if err := s.lock.Lock(ctx); err != nil {
		return err
	}
	defer s.lock.Unlock()

	s.members = restored
	s.byEmail = byEmail

	return nil
}

func (s *Store) put(member Member) {
	s.members[member.ID] = member
	s.byEmail[emailKey(member.Email)] = member.ID
}

func (s *Store) filter(ctx context.Context, keep func(Member) bool) ([]Member, error) {
	if err := s.lock.RLock(ctx); err != nil {
		return nil, err
	}

	result := make([]Member, 0, len(s.members))
	for _, member := range s.members {
		if keep(member) {
			result = append(result, member)
		}
	}
	s.lock.RUnlock()

	slices.SortFunc(result, func(a, b Member) int { return strings.Compare(a.ID, b.ID) })

	return result, nil
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
