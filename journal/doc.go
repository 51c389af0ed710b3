// Package journal defines the audit trail of lending decisions and a store for named snapshots.
//
// An Entry is built on scalars and raw JSON so that storage implementations stay agnostic of the
// lending types. Entries are appended in order and get a strictly increasing Sequence from the
// journal. NewMemory returns an in-process implementation; package sqljournal stores entries in
// PostgreSQL or SQLite.
package journal
