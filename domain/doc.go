// Package domain holds what the lending stores share: the error taxonomy, whole-day time
// arithmetic, struct validation and the context-aware locks every store is guarded by.
//
// Errors are sentinel values. More specific errors wrap a more general one, e.g.
// ErrInvalidBook wraps ErrInvalidInput, so callers can match on either level with errors.Is,
// or map any error to its Kind with KindOf.
package domain
