package dedup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/ilri/odktools-sub000/internal/database"
)

// SQLStore keeps markers in a table of the target database, written in the
// same transaction as the imported rows.
type SQLStore struct {
	adapter database.Adapter
	table   string
	now     func() time.Time
}

func NewSQLStore(adapter database.Adapter, table string) *SQLStore {
	return &SQLStore{adapter: adapter, table: table, now: time.Now}
}

// Ensure creates the marker table when it does not exist.
func (s *SQLStore) Ensure(ctx context.Context) error {
	if _, err := s.adapter.DB().ExecContext(ctx, s.adapter.MarkerTableSQL(s.table)); err != nil {
		return fmt.Errorf("failed to create marker table %s: %w", s.table, err)
	}
	return nil
}

func (s *SQLStore) Seen(ctx context.Context, documentID string) (bool, error) {
	query, args, err := s.adapter.Builder().
		Select("document_id").
		From(s.table).
		Where(squirrel.Eq{"document_id": documentID}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build marker query: %w", err)
	}

	var found string
	err = s.adapter.DB().QueryRowContext(ctx, query, args...).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check marker for %s: %w", documentID, err)
	}
	return true, nil
}

func (s *SQLStore) Mark(ctx context.Context, tx *database.Tx, documentID string) error {
	insert := tx.Builder().
		Insert(s.table).
		Columns("document_id", "imported_at").
		Values(documentID, s.now().UTC().Format("2006-01-02 15:04:05"))
	if err := tx.Exec(ctx, insert); err != nil {
		return fmt.Errorf("failed to insert marker for %s: %w", documentID, err)
	}
	return nil
}
