package warehouse

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver
)

func init() {
	Register("postgres", func() Adapter { return NewPostgresAdapter() })
}

// PostgresAdapter implements the Adapter interface for PostgreSQL via
// the pgx stdlib driver.
type PostgresAdapter struct {
	db     *sql.DB
	config Config
}

// NewPostgresAdapter creates a new PostgreSQL adapter instance.
func NewPostgresAdapter() *PostgresAdapter {
	return &PostgresAdapter{}
}

// buildPostgresDSN builds a keyword/value DSN from the config.
func buildPostgresDSN(cfg Config) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	sslmode := "disable"
	if v, ok := cfg.Options["sslmode"]; ok {
		sslmode = v
	}

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s", host, port, cfg.Database, sslmode)
	if cfg.Username != "" {
		dsn += " user=" + cfg.Username
	}
	if cfg.Password != "" {
		dsn += " password=" + cfg.Password
	}
	return dsn
}

// Connect establishes a connection to PostgreSQL.
func (a *PostgresAdapter) Connect(ctx context.Context, cfg Config) error {
	db, err := sql.Open("pgx", buildPostgresDSN(cfg))
	if err != nil {
		return fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping postgres: %w", err)
	}

	a.db = db
	a.config = cfg
	return nil
}

// Close closes the PostgreSQL connection.
func (a *PostgresAdapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// Exec executes a SQL statement that doesn't return rows.
func (a *PostgresAdapter) Exec(ctx context.Context, sqlStr string, args ...any) error {
	if a.db == nil {
		return fmt.Errorf("database connection not established")
	}

	if _, err := a.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("failed to execute SQL: %w", err)
	}
	return nil
}

// Query executes a SQL statement that returns rows.
func (a *PostgresAdapter) Query(ctx context.Context, sqlStr string, args ...any) (*Rows, error) {
	if a.db == nil {
		return nil, fmt.Errorf("database connection not established")
	}

	//nolint:rowserrcheck // rows.Err() must be checked by caller after iteration completes
	rows, err := a.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	return &Rows{Rows: rows}, nil
}

// BindVar returns PostgreSQL's numbered placeholder.
func (a *PostgresAdapter) BindVar(i int) string {
	return fmt.Sprintf("$%d", i)
}

// DialectName returns the SQL dialect name.
func (a *PostgresAdapter) DialectName() string {
	return "postgres"
}

// Ensure PostgresAdapter implements Adapter interface
var _ Adapter = (*PostgresAdapter)(nil)
