// Package adapter provides a concrete ports.SQLExecutionService and
// ports.SchemaIntrospector bound to a tenant Postgres database. The
// factory/config shape is grounded on the teacher's own adapter.go
// (DBAdapter/NewAdapter/UnsupportedDatabaseError), generalized from a
// single ad-hoc ExecuteQuery method into the pair of ports interfaces the
// engine depends on, and upgraded from database/sql to a pooled pgx/v5
// connection so the Executor's DB semaphore bounds real pooled
// connections rather than unbounded database/sql handles.
package adapter

import (
	"context"
	"fmt"
)

// DatabaseType enumerates the tenant database engines this module can
// front. Only Postgres is implemented today.
type DatabaseType string

const (
	Postgres DatabaseType = "postgres"
)

// Config is the generic connection configuration accepted by New,
// mirroring the teacher's DBConfig.
type Config struct {
	Type     DatabaseType
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string // disable, require, verify-ca, verify-full; defaults to "disable"

	MaxConns int32 // pool ceiling; zero uses the pgxpool default
}

// UnsupportedDatabaseError reports a Config naming a database type this
// module cannot front.
type UnsupportedDatabaseError struct {
	Type DatabaseType
}

func (e *UnsupportedDatabaseError) Error() string {
	return fmt.Sprintf("unsupported database type: %s", e.Type)
}

// DSN renders the libpq-style connection string pgxpool expects.
func (c Config) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// New connects a pooled PostgresAdapter for config. The returned value
// satisfies both ports.SQLExecutionService and ports.SchemaIntrospector.
func New(ctx context.Context, config Config) (*PostgresAdapter, error) {
	switch config.Type {
	case Postgres, "":
		return NewPostgresAdapter(ctx, config)
	default:
		return nil, &UnsupportedDatabaseError{Type: config.Type}
	}
}
