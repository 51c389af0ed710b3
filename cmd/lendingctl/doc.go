// Command lendingctl drives the lending engine from the command line.
//
// "lendingctl simulate" runs a concurrent lending workload against in-memory stores: workers
// borrow, return, reserve and cancel with a simulated clock, busy books are retried with
// backoff, and at the end the cross-store invariants are checked and a summary of all
// operation outcomes is printed. Journal entries go to memory, SQLite or PostgreSQL, the
// latter through pgx, database/sql or sqlx.
//
// "lendingctl schema" prints or applies the DDL of the SQL journal.
//
// All settings come from LENDING_* environment variables (see package config); flags
// override the journal selection. Traces are exported over OTLP/HTTP when
// LENDING_OTLP_ENDPOINT is set.
package main
