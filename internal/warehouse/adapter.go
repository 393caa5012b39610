// Package warehouse publishes the engine's output surfaces into an
// external analytical database so downstream consumers never read the
// state store directly.
package warehouse

import (
	"context"
	"database/sql"
)

// Config holds the connection settings for a warehouse target.
type Config struct {
	// Type selects the adapter ("duckdb", "postgres").
	Type string

	// Path is the database file for file-based targets. Use ":memory:"
	// for an in-memory database.
	Path string

	// Host is the hostname for network-based targets.
	Host string

	// Port is the port number for network-based targets.
	Port int

	// Database is the database name.
	Database string

	// Username for authentication.
	Username string

	// Password for authentication.
	Password string

	// Schema is the target schema for published tables.
	Schema string

	// Options contains additional driver-specific options.
	Options map[string]string
}

// Rows wraps sql.Rows to provide a consistent interface across adapters.
type Rows struct {
	*sql.Rows
}

// Adapter is the warehouse connection contract. Implementations wrap
// one database/sql driver.
type Adapter interface {
	// Connect establishes a connection using the provided config.
	Connect(ctx context.Context, cfg Config) error

	// Close closes the connection and releases resources.
	Close() error

	// Exec executes a statement that doesn't return rows.
	Exec(ctx context.Context, sql string, args ...any) error

	// Query executes a statement that returns rows.
	Query(ctx context.Context, sql string, args ...any) (*Rows, error)

	// BindVar returns the placeholder for the i-th parameter (1-based),
	// since drivers disagree on placeholder syntax.
	BindVar(i int) string

	// DialectName returns the SQL dialect name ("duckdb", "postgres").
	DialectName() string
}
