package journal

import (
	"errors"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

// ErrMappingToMetadataFailed is returned when an entry's metadata cannot be decoded.
var ErrMappingToMetadataFailed = errors.New("mapping to entry metadata failed")

// Metadata tracks which request produced an entry. All entries written by one
// coordinator operation share a CorrelationID.
type Metadata struct {
	MessageID     string `json:"messageId"`
	CausationID   string `json:"causationId,omitempty"`
	CorrelationID string `json:"correlationId"`
}

// NewMetadata creates Metadata with a fresh MessageID.
func NewMetadata(correlationID, causationID string) Metadata {
	return Metadata{
		MessageID:     uuid.NewString(),
		CausationID:   causationID,
		CorrelationID: correlationID,
	}
}

// MetadataFrom decodes the metadata of an entry.
func MetadataFrom(entry Entry) (Metadata, error) {
	metadata := new(Metadata)
	if err := jsoniter.ConfigFastest.Unmarshal(entry.Metadata, metadata); err != nil {
		return Metadata{}, errors.Join(ErrMappingToMetadataFailed, err)
	}

	return *metadata, nil
}
