package journal

import (
	"slices"
	"time"
)

// Filter selects journal entries. The zero Filter matches everything.
// All criteria that are set must match (AND); the types are alternatives (OR).
type Filter struct {
	entryTypes    []string
	bookID        string
	memberID      string
	occurredFrom  time.Time
	occurredUntil time.Time
	afterSequence uint64
	limit         int
}

// EntryTypes returns the types of which any must match, sorted and without duplicates.
func (f Filter) EntryTypes() []string { return f.entryTypes }

// BookID returns the book id that must match, or "".
func (f Filter) BookID() string { return f.bookID }

// MemberID returns the member id that must match, or "".
func (f Filter) MemberID() string { return f.memberID }

// OccurredFrom returns the inclusive lower time bound, or the zero time.
func (f Filter) OccurredFrom() time.Time { return f.occurredFrom }

// OccurredUntil returns the inclusive upper time bound, or the zero time.
func (f Filter) OccurredUntil() time.Time { return f.occurredUntil }

// AfterSequence returns the sequence entries must be greater than.
func (f Filter) AfterSequence() uint64 { return f.afterSequence }

// Limit returns the maximum number of entries, 0 meaning no limit.
func (f Filter) Limit() int { return f.limit }

// Matches reports whether an entry satisfies the filter. The limit is not considered.
func (f Filter) Matches(entry Entry) bool {
	switch {
	case len(f.entryTypes) > 0 && !slices.Contains(f.entryTypes, entry.Type):
		return false
	case f.bookID != "" && entry.BookID != f.bookID:
		return false
	case f.memberID != "" && entry.MemberID != f.memberID:
		return false
	case !f.occurredFrom.IsZero() && entry.OccurredAt.Before(f.occurredFrom):
		return false
	case !f.occurredUntil.IsZero() && entry.OccurredAt.After(f.occurredUntil):
		return false
	case entry.Sequence <= f.afterSequence:
		return false
	}

	return true
}

// FilterBuilder builds a Filter step by step. Each method returns a modified copy.
type FilterBuilder struct {
	filter Filter
}

// BuildFilter starts a new FilterBuilder.
func BuildFilter() FilterBuilder {
	return FilterBuilder{}
}

// OfTypes restricts the filter to any of the given entry types. Empty types are dropped.
func (b FilterBuilder) OfTypes(entryType string, entryTypes ...string) FilterBuilder {
	all := append([]string{entryType}, entryTypes...)
	all = append(slices.Clone(b.filter.entryTypes), all...)
	all = slices.DeleteFunc(all, func(t string) bool { return t == "" })
	slices.Sort(all)
	b.filter.entryTypes = slices.Compact(all)

	return b
}

// ForBook restricts the filter to entries about one book.
func (b FilterBuilder) ForBook(bookID string) FilterBuilder {
	b.filter.bookID = bookID

	return b
}

// ForMember restricts the filter to entries about one member.
func (b FilterBuilder) ForMember(memberID string) FilterBuilder {
	b.filter.memberID = memberID

	return b
}

// OccurredBetween restricts the filter to an inclusive time range. A zero bound is open.
func (b FilterBuilder) OccurredBetween(from, until time.Time) FilterBuilder {
	b.filter.occurredFrom = from
	b.filter.occurredUntil = until

	return b
}

// AfterSequence restricts the filter to entries appended after the given sequence.
func (b FilterBuilder) AfterSequence(sequence uint64) FilterBuilder {
	b.filter.afterSequence = sequence

	return b
}

// Limit caps the number of returned entries. Values <= 0 mean no limit.
func (b FilterBuilder) Limit(limit int) FilterBuilder {
	b.filter.limit = max(limit, 0)

	return b
}

// Finalize returns the built Filter.
func (b FilterBuilder) Finalize() Filter {
	return b.filter
}
