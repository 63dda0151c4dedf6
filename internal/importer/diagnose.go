package importer

import (
	"context"
	"database/sql"

	"github.com/Masterminds/squirrel"

	"github.com/ilri/odktools-sub000/internal/errsink"
	"github.com/ilri/odktools-sub000/internal/row"
)

// fail records a rejected statement. When the driver names the violated
// constraint, the constraint table supplies a readable message and the
// offending column.
func (w *walker) fail(ctx context.Context, table, label string, r *row.Row, err error, statement string) {
	rec := errsink.Record{
		DocumentID: w.state.documentID,
		Table:      table,
		RowOrItem:  label,
		Message:    err.Error(),
		Statement:  statement,
	}

	if name := w.im.adapter.ConstraintName(err); name != "" && w.im.opts.ConstraintTable != "" {
		w.describe(ctx, name, r, &rec)
	}
	w.state.sink.Add(rec)
}

func (w *walker) describe(ctx context.Context, constraint string, r *row.Row, rec *errsink.Record) {
	q := w.state.tx.Builder().
		Select("error_msg", "error_notes", "clm_cod").
		From(w.im.opts.ConstraintTable).
		Where(squirrel.Eq{"cnt_name": constraint}).
		Limit(1)

	var msg, notes, column sql.NullString
	if err := w.state.tx.Scan(ctx, q, &msg, &notes, &column); err != nil {
		return
	}

	if msg.String != "" {
		rec.Message = msg.String
	}
	rec.Note = notes.String

	if idx := r.IndexOfColumn(column.String); idx >= 0 {
		e := r.Get(idx)
		if e.SourcePath != "" {
			rec.SourcePath = e.SourcePath
		}
		rec.Note = "Value not found = " + e.Value
	}
}
