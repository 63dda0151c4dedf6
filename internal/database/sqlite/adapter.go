package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
)

type Adapter struct {
	db *sql.DB
	qb squirrel.StatementBuilderType
}

func New() *Adapter {
	return &Adapter{
		qb: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}
}

// Path strips the sqlite:// scheme and adds the connection parameters the
// importer relies on when none are given.
func Path(url string) string {
	dbPath := strings.TrimPrefix(url, "sqlite://")
	if !strings.Contains(dbPath, "?") {
		dbPath += "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
	}
	return dbPath
}

func (s *Adapter) Connect(ctx context.Context, url string) error {
	db, err := sql.Open("sqlite3", Path(url))
	if err != nil {
		return fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// One writer; a second connection would not see the open transaction.
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(5 * time.Minute)

	s.db = db
	return nil
}

func (s *Adapter) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Adapter) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Adapter) DB() *sql.DB { return s.db }

func (s *Adapter) Builder() squirrel.StatementBuilderType { return s.qb }

func (s *Adapter) Savepoints() bool { return false }

// ConstraintName always returns "": SQLite does not name the violated
// constraint in its errors.
func (s *Adapter) ConstraintName(err error) string {
	return ""
}

func (s *Adapter) MarkerTableSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		document_id TEXT NOT NULL PRIMARY KEY,
		imported_at TEXT NOT NULL
	)`, table)
}
