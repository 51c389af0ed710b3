// Package lending coordinates the catalog, the members, the loan ledger and the reservation
// queue. All rules spanning more than one of them live here: copies are reserved before a loan is
// opened and released again if opening fails, returned copies go to the head of the book's
// reservation queue, and per-member limits are enforced.
//
// Composite operations on one book are serialized by a per-book lock, which is always taken
// before any store lock. Every blocking call honors the context and fails with domain.ErrBusy
// instead of waiting forever. Time is always passed in by the caller.
package lending
