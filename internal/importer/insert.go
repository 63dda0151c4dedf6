package importer

import (
	"context"
	"strconv"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/ilri/odktools-sub000/internal/manifest"
	"github.com/ilri/odktools-sub000/internal/row"
)

// insert builds, hooks and executes one row of t and returns the table's own
// keys tagged with the new row id. The keys are returned even when the
// statement fails so the walk can go on and report every failure.
func (w *walker) insert(ctx context.Context, t *manifest.Table, src source, parentKeys []row.Entry) []row.Entry {
	position := w.state.next(t.Name)
	id := uuid.NewString()
	label := src.rowOrItem
	if label == "" {
		label = strconv.Itoa(position)
	}

	r := row.New(len(parentKeys) + len(t.Fields))
	for _, k := range parentKeys {
		k.Key = true
		k.MultiSelect = false
		r.Append(k)
	}

	var own []int
	for _, f := range t.Fields {
		if f.Reference {
			continue
		}

		value, ok := "", false
		if src.value != nil {
			value, ok = src.value(f)
		}
		if !ok {
			value = w.state.resolver.Resolve(f, src.primary, src.secondary, src.top)
		}

		entry := row.Entry{Column: f.Column, SourcePath: f.SourcePath, Value: value, Key: f.Key}
		if f.Key {
			if value == "" && !src.top {
				entry.Value = strconv.Itoa(position)
			}
		} else {
			entry.MultiSelect = f.MultiSelect
			entry.MultiSelectTable = f.MultiSelectTable
		}
		r.Append(entry)
		if f.Key {
			own = append(own, r.Count()-1)
		}
	}

	w.state.guard.Call(t.Name, r)

	keys := make([]row.Entry, 0, len(own))
	for _, idx := range own {
		k := r.Get(idx)
		k.RecordID = id
		keys = append(keys, k)
	}

	if w.exec(ctx, t.Name, r, id, label) {
		w.persisted(parentID(parentKeys), t.Name, id)
	}
	w.expand(ctx, r, id, label)

	return keys
}

// expand emits one junction row per token of every multi-select entry of r.
// It runs whether or not r itself was inserted.
func (w *walker) expand(ctx context.Context, r *row.Row, rowID, label string) {
	keys := r.Keys()

	for i := 0; i < r.Count(); i++ {
		e := r.Get(i)
		if !e.MultiSelect || e.MultiSelectTable == "" {
			continue
		}

		for _, token := range strings.Fields(e.Value) {
			jr := row.FromKeys(keys)
			jr.Append(row.Entry{Column: e.Column, Value: token, Key: true})

			w.state.guard.Call(e.MultiSelectTable, jr)

			id := uuid.NewString()
			if w.exec(ctx, e.MultiSelectTable, jr, id, label) {
				w.persisted(rowID, e.MultiSelectTable, id)
			}
		}
	}
}

// exec runs the INSERT for r. A failure is recorded and reported as false.
func (w *walker) exec(ctx context.Context, table string, r *row.Row, id, label string) bool {
	ins := w.statement(table, r, id)
	text := squirrel.DebugSqlizer(ins.PlaceholderFormat(squirrel.Question))
	w.im.trace(text)

	if err := w.state.tx.Exec(ctx, ins); err != nil {
		w.fail(ctx, table, label, r, err, text)
		return false
	}
	return true
}

func (w *walker) statement(table string, r *row.Row, id string) squirrel.InsertBuilder {
	rowIDColumn := w.im.opts.RowIDColumn
	entries := r.Entries()

	columns := make([]string, 0, len(entries)+1)
	values := make([]interface{}, 0, len(entries)+1)
	for _, e := range entries {
		if strings.EqualFold(e.Column, rowIDColumn) {
			continue
		}
		columns = append(columns, e.Column)
		if e.Value == "" {
			// Unanswered questions are stored as NULL so they do not trip
			// foreign keys.
			values = append(values, squirrel.Expr("NULL"))
		} else {
			values = append(values, e.Value)
		}
	}
	columns = append(columns, rowIDColumn)
	values = append(values, id)

	return w.state.tx.Builder().Insert(table).Columns(columns...).Values(values...)
}

func (w *walker) persisted(parent, table, id string) {
	w.state.tree.Attach(parent, table, id)
	w.state.inserted = append(w.state.inserted, Inserted{Table: table, ID: id})
}

// parentID is the row id of the nearest ancestor row, taken from the last
// key that carries one.
func parentID(keys []row.Entry) string {
	for i := len(keys) - 1; i >= 0; i-- {
		if keys[i].RecordID != "" {
			return keys[i].RecordID
		}
	}
	return ""
}
