// Package members owns the library's members: registration, deactivation, lookup and the
// credential check at the boundary to authentication.
package members

import "time"

// MembershipType is the kind of membership a member holds.
type MembershipType string

// The membership types.
const (
	MembershipStandard MembershipType = "STANDARD"
	MembershipStudent  MembershipType = "STUDENT"
	MembershipPremium  MembershipType = "PREMIUM"
)

// Member is a registered library user. Members are deactivated, never deleted,
// so that the loans referencing them stay resolvable.
type Member struct {
	ID             string         `json:"id"        validate:"required"`
	FirstName      string         `json:"firstName" validate:"required"`
	LastName       string         `json:"lastName"  validate:"required"`
	Email          string         `json:"email"     validate:"required,email_at_dot"`
	Phone          string         `json:"phone,omitempty"`
	Address        string         `json:"address,omitempty"`
	MembershipType MembershipType `json:"membershipType,omitempty"`
	Active         bool           `json:"active"`
	RegisteredAt   time.Time      `json:"registeredAt,omitzero"`
	PasswordHash   string         `json:"passwordHash,omitempty"`
}

// FullName returns first and last name separated by a space.
func (m Member) FullName() string {
	return m.FirstName + " " + m.LastName
}
