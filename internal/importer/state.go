package importer

import (
	"github.com/ilri/odktools-sub000/internal/database"
	"github.com/ilri/odktools-sub000/internal/errsink"
	"github.com/ilri/odktools-sub000/internal/hook"
	"github.com/ilri/odktools-sub000/internal/provenance"
	"github.com/ilri/odktools-sub000/internal/resolve"
)

// Inserted identifies one persisted row.
type Inserted struct {
	Table string
	ID    string
}

// runState is owned by a single import run.
type runState struct {
	documentID string
	tx         *database.Tx
	resolver   *resolve.Resolver
	guard      *hook.Guard

	positions map[string]int
	sink      *errsink.Sink
	inserted  []Inserted
	tree      *provenance.Tree
}

func newRunState(documentID string, tx *database.Tx, h hook.Hook, opts Options) *runState {
	return &runState{
		documentID: documentID,
		tx:         tx,
		resolver: &resolve.Resolver{
			DocumentID:       documentID,
			SubmissionColumn: opts.SubmissionColumn,
			OriginColumn:     opts.OriginColumn,
			OriginTag:        opts.OriginTag,
			PlaceholderDate:  opts.PlaceholderDate,
		},
		guard:     hook.NewGuard(h),
		positions: make(map[string]int),
		sink:      errsink.New(),
		tree:      provenance.New(),
	}
}

// next returns the next 1-based position for table. Positions count every
// row of the table across the whole run.
func (s *runState) next(table string) int {
	s.positions[table]++
	return s.positions[table]
}

func (s *runState) failed() bool {
	return s.sink.Len() > 0
}
