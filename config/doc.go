// Package config reads the lending engine's configuration from LENDING_* environment variables
// and builds the database handles the SQL journal runs on.
package config
