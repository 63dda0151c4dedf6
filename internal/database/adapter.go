package database

import (
	"context"
	"database/sql"

	"github.com/Masterminds/squirrel"
)

// Adapter is the provider-specific side of an import: connection handling,
// placeholder style and error metadata.
type Adapter interface {
	Connect(ctx context.Context, url string) error
	Close() error
	Ping(ctx context.Context) error
	DB() *sql.DB

	// Builder returns a statement builder with the provider's placeholder format.
	Builder() squirrel.StatementBuilderType
	// Savepoints reports whether a failed statement poisons the whole
	// transaction, so every statement must run under its own savepoint.
	Savepoints() bool
	// ConstraintName extracts the violated constraint from a driver error,
	// or returns "" when the error does not name one.
	ConstraintName(err error) string
	// MarkerTableSQL returns the DDL for the imported-documents table.
	MarkerTableSQL(table string) string
}
