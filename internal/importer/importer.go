// Package importer turns one submission document into rows of the tables
// described by a manifest, inside a single transaction.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/ilri/odktools-sub000/internal/config"
	"github.com/ilri/odktools-sub000/internal/database"
	"github.com/ilri/odktools-sub000/internal/dedup"
	"github.com/ilri/odktools-sub000/internal/document"
	"github.com/ilri/odktools-sub000/internal/errsink"
	"github.com/ilri/odktools-sub000/internal/hook"
	"github.com/ilri/odktools-sub000/internal/manifest"
	"github.com/ilri/odktools-sub000/internal/provenance"
)

// ErrMarkerContention is returned when the imported marker could not be
// stored within the configured attempts.
var ErrMarkerContention = errors.New("dedup marker could not be stored")

// Status is the outcome of one import run.
type Status int

const (
	Committed Status = iota
	AlreadyProcessed
	RolledBack
)

func (s Status) String() string {
	switch s {
	case Committed:
		return "committed"
	case AlreadyProcessed:
		return "already_processed"
	case RolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Options tunes value resolution, output files and marker retries.
type Options struct {
	SubmissionColumn string
	OriginColumn     string
	OriginTag        string
	RowIDColumn      string
	PlaceholderDate  string
	ConstraintTable  string
	LatColumn        string
	LonColumn        string
	AttachmentsDir   string

	// MapDir receives <documentID>.xml record maps; empty disables them.
	MapDir       string
	ErrorLog     string
	ErrorFormat  string
	OverwriteLog bool
	InsertedLog  string

	MarkerRetries int
	MarkerBackoff time.Duration
}

// OptionsFromConfig maps the import and dedup config sections to Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SubmissionColumn: cfg.Import.SubmissionColumn,
		OriginColumn:     cfg.Import.OriginColumn,
		OriginTag:        cfg.Import.OriginTag,
		RowIDColumn:      cfg.Import.RowIDColumn,
		PlaceholderDate:  cfg.Import.PlaceholderDate,
		ConstraintTable:  cfg.Import.ConstraintTable,
		LatColumn:        cfg.Import.LatColumn,
		LonColumn:        cfg.Import.LonColumn,
		AttachmentsDir:   cfg.Import.AttachmentsDir,
		MapDir:           cfg.Import.MapDir,
		ErrorLog:         cfg.Import.ErrorLog,
		ErrorFormat:      cfg.Import.ErrorFormat,
		OverwriteLog:     cfg.Import.OverwriteLog,
		InsertedLog:      cfg.Import.InsertedLog,
		MarkerRetries:    cfg.Dedup.Retries,
		MarkerBackoff:    cfg.Dedup.Backoff,
	}
}

// Document is one parsed submission and the id it is imported under.
type Document struct {
	ID   string
	Root document.Node
}

// Result describes a finished run. Inserted and Provenance are only set
// when the run committed.
type Result struct {
	DocumentID   string
	Status       Status
	Failures     []errsink.Record
	Inserted     []Inserted
	Provenance   *provenance.Tree
	MapPath      string
	HookDisabled bool
}

// Importer runs imports one document at a time against a connected
// adapter. It is not safe for concurrent use.
type Importer struct {
	adapter  database.Adapter
	manifest *manifest.Manifest
	store    dedup.Store
	hook     hook.Hook
	opts     Options

	traceOut io.Writer
	warn     func(format string, a ...interface{})
	sleep    func(time.Duration)

	logOnce sync.Once
}

func New(adapter database.Adapter, m *manifest.Manifest, store dedup.Store, h hook.Hook, opts Options) *Importer {
	if h == nil {
		h = hook.Noop{}
	}
	if opts.MarkerRetries < 1 {
		opts.MarkerRetries = 1
	}
	if opts.RowIDColumn == "" {
		opts.RowIDColumn = "rowuuid"
	}
	return &Importer{
		adapter:  adapter,
		manifest: m,
		store:    store,
		hook:     h,
		opts:     opts,
		warn:     color.Yellow,
		sleep:    time.Sleep,
	}
}

// SetTrace makes every generated statement be written to w.
func (im *Importer) SetTrace(w io.Writer) {
	im.traceOut = w
}

func (im *Importer) trace(statement string) {
	if im.traceOut == nil {
		return
	}
	fmt.Fprintf(im.traceOut, "%s;\n", statement)
}

// Import runs one document. Row failures roll the whole document back and
// come back in Result.Failures; only resource and marker failures are
// returned as errors.
func (im *Importer) Import(ctx context.Context, doc Document) (*Result, error) {
	res := &Result{DocumentID: doc.ID}

	seen, err := im.store.Seen(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check whether %s was imported: %w", doc.ID, err)
	}
	if seen {
		res.Status = AlreadyProcessed
		return res, nil
	}

	tx, err := database.Begin(ctx, im.adapter)
	if err != nil {
		return nil, err
	}

	state := newRunState(doc.ID, tx, im.hook, im.opts)
	w := &walker{im: im, state: state, manifest: im.manifest}

	if err := w.run(ctx, doc.Root); err != nil {
		err = fmt.Errorf("import of %s aborted: %w", doc.ID, err)
		return nil, errors.Join(err, tx.Rollback())
	}

	res.HookDisabled = state.guard.Disabled()
	res.Failures = state.sink.Records()

	if state.failed() {
		res.Status = RolledBack
		if err := tx.Rollback(); err != nil {
			return res, err
		}
		if err := im.flushErrors(res.Failures); err != nil {
			im.warn("⚠️  %v", err)
		}
		return res, nil
	}

	if err := im.mark(ctx, tx, doc.ID); err != nil {
		res.Status = RolledBack
		return res, errors.Join(err, tx.Rollback())
	}

	if err := tx.Commit(); err != nil {
		res.Status = RolledBack
		return res, err
	}

	res.Status = Committed
	res.Inserted = state.inserted
	res.Provenance = state.tree

	if f, ok := im.store.(dedup.Finalizer); ok {
		if err := f.Finalize(ctx, doc.ID); err != nil {
			im.warn("⚠️  %s committed but its marker was not stored: %v", doc.ID, err)
		}
	}

	if im.opts.MapDir != "" {
		path, err := state.tree.WriteFile(im.opts.MapDir, doc.ID)
		if err != nil {
			im.warn("⚠️  %v", err)
		} else {
			res.MapPath = path
		}
	}

	if err := im.flushInserted(state.inserted); err != nil {
		im.warn("⚠️  %v", err)
	}

	return res, nil
}

// mark stores the imported marker, retrying with a fixed back-off.
func (im *Importer) mark(ctx context.Context, tx *database.Tx, documentID string) error {
	var err error
	for attempt := 1; attempt <= im.opts.MarkerRetries; attempt++ {
		if err = im.store.Mark(ctx, tx, documentID); err == nil {
			return nil
		}
		if attempt < im.opts.MarkerRetries {
			im.sleep(im.opts.MarkerBackoff)
		}
	}
	return fmt.Errorf("%w: %s after %d attempts: %w", ErrMarkerContention, documentID, im.opts.MarkerRetries, err)
}

// flushErrors writes failures to the error log. The first write of a
// process may truncate the log; later runs append to it.
func (im *Importer) flushErrors(records []errsink.Record) error {
	if im.opts.ErrorLog == "" || len(records) == 0 {
		return nil
	}

	overwrite := false
	im.logOnce.Do(func() { overwrite = im.opts.OverwriteLog })

	return errsink.WriteFile(im.opts.ErrorLog, im.opts.ErrorFormat, overwrite, records)
}

func (im *Importer) flushInserted(inserted []Inserted) error {
	if im.opts.InsertedLog == "" || len(inserted) == 0 {
		return nil
	}

	f, err := os.OpenFile(im.opts.InsertedLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open inserted log: %w", err)
	}
	defer f.Close()

	for _, ins := range inserted {
		if _, err := fmt.Fprintf(f, "%s\t%s\n", ins.Table, ins.ID); err != nil {
			return fmt.Errorf("failed to write inserted log: %w", err)
		}
	}
	return f.Close()
}
