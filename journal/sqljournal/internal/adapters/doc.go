// Package adapters hides the differences between pgx, database/sql and sqlx behind one
// DBAdapter interface, so the SQL journal runs unchanged on any of them.
package adapters
