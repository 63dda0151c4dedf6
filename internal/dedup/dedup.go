// Package dedup remembers which documents have already been imported.
package dedup

import (
	"context"

	"github.com/ilri/odktools-sub000/internal/database"
)

// Store is the persistent set of imported document ids.
type Store interface {
	Seen(ctx context.Context, documentID string) (bool, error)
	// Mark records documentID inside the open import transaction. Stores
	// that cannot take part in the transaction defer the write to Finalize.
	Mark(ctx context.Context, tx *database.Tx, documentID string) error
}

// Finalizer is implemented by stores that persist the marker only after the
// import transaction has committed.
type Finalizer interface {
	Finalize(ctx context.Context, documentID string) error
}
