package journal

import (
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var (
	// ErrEmptyEntryType is returned when an entry is built without a type.
	ErrEmptyEntryType = errors.New("entry type must not be empty")

	// ErrInvalidPayloadJSON is returned when the payload is not valid JSON.
	ErrInvalidPayloadJSON = errors.New("payload json is not valid")

	// ErrInvalidMetadataJSON is returned when the metadata is not valid JSON.
	ErrInvalidMetadataJSON = errors.New("metadata json is not valid")
)

// Entries is an alias type for a slice of Entry.
type Entries = []Entry

// Entry is one recorded lending decision.
//
// BookID and MemberID are copied out of the payload so journals can filter on them without
// parsing JSON. Entries should only be constructed with BuildEntry.
type Entry struct {
	Sequence   uint64
	Type       string
	OccurredAt time.Time
	BookID     string
	MemberID   string
	Payload    []byte
	Metadata   []byte
}

// BuildEntry is a factory method for Entry. The Sequence is assigned by the journal on append.
// Returns an error if the type is empty or payload or metadata are not valid JSON.
func BuildEntry(
	entryType string,
	occurredAt time.Time,
	bookID, memberID string,
	payload, metadata []byte,
) (Entry, error) {

	if entryType == "" {
		return Entry{}, ErrEmptyEntryType
	}

	if !jsoniter.ConfigFastest.Valid(payload) {
		return Entry{}, ErrInvalidPayloadJSON
	}

	if len(metadata) == 0 {
		metadata = []byte("{}")
	}

	if !jsoniter.ConfigFastest.Valid(metadata) {
		return Entry{}, ErrInvalidMetadataJSON
	}

	return Entry{
		Type:       entryType,
		OccurredAt: occurredAt,
		BookID:     bookID,
		MemberID:   memberID,
		Payload:    payload,
		Metadata:   metadata,
	}, nil
}
