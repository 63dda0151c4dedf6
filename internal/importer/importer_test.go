package importer

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilri/odktools-sub000/internal/database"
	"github.com/ilri/odktools-sub000/internal/database/common"
	"github.com/ilri/odktools-sub000/internal/database/sqlite"
	"github.com/ilri/odktools-sub000/internal/dedup"
	"github.com/ilri/odktools-sub000/internal/document"
	"github.com/ilri/odktools-sub000/internal/hook"
	"github.com/ilri/odktools-sub000/internal/manifest"
	"github.com/ilri/odktools-sub000/internal/osm"
)

const schema = `
CREATE TABLE maintable (
    hh_id TEXT NOT NULL PRIMARY KEY,
    surveyid TEXT,
    originid TEXT,
    start TEXT,
    crops TEXT,
    rowuuid TEXT NOT NULL
);
CREATE TABLE maintable_msel_crops (
    hh_id TEXT NOT NULL,
    crops TEXT NOT NULL,
    rowuuid TEXT NOT NULL,
    PRIMARY KEY (hh_id, crops),
    FOREIGN KEY (hh_id) REFERENCES maintable (hh_id)
);
CREATE TABLE members (
    hh_id TEXT NOT NULL,
    members_rowid INTEGER NOT NULL,
    age INTEGER CHECK (age < 200),
    rowuuid TEXT NOT NULL,
    PRIMARY KEY (hh_id, members_rowid),
    FOREIGN KEY (hh_id) REFERENCES maintable (hh_id)
);
CREATE TABLE livestock (
    hh_id TEXT NOT NULL,
    animal TEXT NOT NULL,
    count INTEGER,
    rowuuid TEXT NOT NULL,
    PRIMARY KEY (hh_id, animal),
    FOREIGN KEY (hh_id) REFERENCES maintable (hh_id)
);
CREATE TABLE plots (
    hh_id TEXT NOT NULL,
    plot_id INTEGER NOT NULL,
    name TEXT,
    geopoint_lat TEXT,
    geopoint_lon TEXT,
    rowuuid TEXT NOT NULL,
    PRIMARY KEY (hh_id, plot_id)
);
CREATE TABLE mem (
    hh_id TEXT NOT NULL,
    mem_id INTEGER NOT NULL,
    name TEXT,
    rowuuid TEXT NOT NULL,
    PRIMARY KEY (hh_id, mem_id),
    FOREIGN KEY (hh_id) REFERENCES maintable (hh_id)
);
CREATE TABLE job (
    hh_id TEXT NOT NULL,
    mem_id INTEGER NOT NULL,
    job_id INTEGER NOT NULL,
    title TEXT,
    rowuuid TEXT NOT NULL,
    PRIMARY KEY (hh_id, mem_id, job_id),
    FOREIGN KEY (hh_id, mem_id) REFERENCES mem (hh_id, mem_id)
);
CREATE TABLE pet (
    hh_id TEXT NOT NULL,
    mem_id INTEGER NOT NULL,
    pet_id INTEGER NOT NULL,
    kind TEXT,
    rowuuid TEXT NOT NULL,
    PRIMARY KEY (hh_id, mem_id, pet_id),
    FOREIGN KEY (hh_id, mem_id) REFERENCES mem (hh_id, mem_id)
);
CREATE TABLE dict_relinfo (
    cnt_name TEXT,
    error_msg TEXT,
    error_notes TEXT,
    clm_cod TEXT
);
`

const householdManifest = `
tables:
  - name: maintable
    source: main
    fields:
      - {column: hh_id, source: hh_id, key: true}
      - {column: surveyid, source: NONE}
      - {column: originid, source: NONE}
      - {column: start, source: start, type: datetime, odk_type: start}
      - {column: crops, source: crops, multi_select: true, multi_select_table: maintable_msel_crops}
    tables:
      - name: members
        source: members
        fields:
          - {column: hh_id, source: hh_id, key: true, reference: true}
          - {column: members_rowid, source: NONE, key: true, type: int}
          - {column: age, source: members/age, type: int}
      - name: livestock
        source: livestock
        loop: true
        loop_items: [cattle, goats]
        fields:
          - {column: hh_id, source: hh_id, key: true, reference: true}
          - {column: animal, source: NONE, key: true}
          - {column: count, source: livestock/count, type: int}
`

const householdDoc = `{
  "hh_id": "H  001",
  "start": "2024-03-01T08:15:30.120Z",
  "crops": "maize beans  sorghum",
  "members": [
    {"members/age": 34},
    {"members/age": 31},
    {"members/age": 7}
  ],
  "livestock": {"cattle": {"count": 4}}
}`

type fixture struct {
	adapter database.Adapter
	dir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	adapter := sqlite.New()
	require.NoError(t, adapter.Connect(ctx, "sqlite://"+filepath.Join(dir, "survey.db")))
	t.Cleanup(func() { adapter.Close() })

	_, err := common.ApplyScript(ctx, adapter.DB(), schema)
	require.NoError(t, err)

	return &fixture{adapter: adapter, dir: dir}
}

func (f *fixture) count(t *testing.T, table string) int {
	t.Helper()
	var n int
	require.NoError(t, f.adapter.DB().QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func (f *fixture) options() Options {
	return Options{
		SubmissionColumn: "surveyid",
		OriginColumn:     "originid",
		OriginTag:        "ODKTOOLS",
		RowIDColumn:      "rowuuid",
		PlaceholderDate:  "1900-01-01",
		ConstraintTable:  "dict_relinfo",
		LatColumn:        "geopoint_lat",
		LonColumn:        "geopoint_lon",
		AttachmentsDir:   f.dir,
		MarkerRetries:    3,
		MarkerBackoff:    time.Millisecond,
	}
}

func (f *fixture) sqlStore(t *testing.T) *dedup.SQLStore {
	t.Helper()
	store := dedup.NewSQLStore(f.adapter, "_odk_imported")
	require.NoError(t, store.Ensure(context.Background()))
	return store
}

func parseManifest(t *testing.T, src string) *manifest.Manifest {
	t.Helper()
	m, err := manifest.ParseYAML(strings.NewReader(src))
	require.NoError(t, err)
	require.NoError(t, m.Validate())
	return m
}

func parseDoc(t *testing.T, id, src string) Document {
	t.Helper()
	root, err := document.ParseBytes([]byte(src))
	require.NoError(t, err)
	return Document{ID: id, Root: root}
}

// fakeStore fails Mark a fixed number of times.
type fakeStore struct {
	failures int
	marks    int
}

func (s *fakeStore) Seen(context.Context, string) (bool, error) { return false, nil }

func (s *fakeStore) Mark(context.Context, *database.Tx, string) error {
	s.marks++
	if s.marks <= s.failures {
		return errors.New("database is locked")
	}
	return nil
}

func TestImportHousehold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var trace bytes.Buffer
	opts := f.options()
	opts.MapDir = filepath.Join(f.dir, "maps")
	opts.InsertedLog = filepath.Join(f.dir, "inserted.log")

	im := New(f.adapter, parseManifest(t, householdManifest), f.sqlStore(t), nil, opts)
	im.SetTrace(&trace)

	res, err := im.Import(ctx, parseDoc(t, "uuid-1", householdDoc))
	require.NoError(t, err)
	require.Equal(t, Committed, res.Status)
	assert.Empty(t, res.Failures)

	assert.Equal(t, 1, f.count(t, "maintable"))
	assert.Equal(t, 3, f.count(t, "members"))
	assert.Equal(t, 3, f.count(t, "maintable_msel_crops"))
	assert.Equal(t, 2, f.count(t, "livestock"))

	var surveyID, origin, start string
	require.NoError(t, f.adapter.DB().QueryRow(
		"SELECT surveyid, originid, start FROM maintable WHERE hh_id = ?", "H 001").
		Scan(&surveyID, &origin, &start))
	assert.Equal(t, "uuid-1", surveyID)
	assert.Equal(t, "ODKTOOLS", origin)
	assert.Equal(t, "2024-03-01 08:15:30", start)

	rows, err := f.adapter.DB().Query("SELECT hh_id, members_rowid FROM members ORDER BY members_rowid")
	require.NoError(t, err)
	defer rows.Close()
	var positions []int
	for rows.Next() {
		var hh string
		var pos int
		require.NoError(t, rows.Scan(&hh, &pos))
		assert.Equal(t, "H 001", hh)
		positions = append(positions, pos)
	}
	assert.Equal(t, []int{1, 2, 3}, positions)

	var goats int
	require.NoError(t, f.adapter.DB().QueryRow(
		"SELECT COUNT(*) FROM livestock WHERE animal = 'goats' AND count IS NULL").Scan(&goats))
	assert.Equal(t, 1, goats, "loop item without answers still gets a row")

	require.Len(t, res.Provenance.Roots(), 1)
	main := res.Provenance.Roots()[0]
	assert.Equal(t, "maintable", main.Table)
	assert.Len(t, res.Provenance.Children(main.ID), 8)
	assert.Equal(t, 9, res.Provenance.Len())
	assert.Len(t, res.Inserted, 9)

	assert.FileExists(t, res.MapPath)
	assert.Equal(t, filepath.Join(opts.MapDir, "uuid-1.xml"), res.MapPath)

	logged, err := os.ReadFile(opts.InsertedLog)
	require.NoError(t, err)
	assert.Equal(t, 9, strings.Count(string(logged), "\n"))

	assert.Contains(t, trace.String(), "INSERT INTO maintable")
	assert.Contains(t, trace.String(), "INSERT INTO maintable_msel_crops")
}

func TestImportIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	im := New(f.adapter, parseManifest(t, householdManifest), f.sqlStore(t), nil, f.options())

	res, err := im.Import(ctx, parseDoc(t, "uuid-1", householdDoc))
	require.NoError(t, err)
	require.Equal(t, Committed, res.Status)

	res, err = im.Import(ctx, parseDoc(t, "uuid-1", householdDoc))
	require.NoError(t, err)
	assert.Equal(t, AlreadyProcessed, res.Status)
	assert.Equal(t, 3, f.count(t, "members"))
}

func TestImportRollsBackOnRowFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	opts := f.options()
	opts.ErrorLog = filepath.Join(f.dir, "errors.log")
	opts.ErrorFormat = "h"

	store := f.sqlStore(t)
	im := New(f.adapter, parseManifest(t, householdManifest), store, nil, opts)

	doc := strings.Replace(householdDoc, `{"members/age": 31}`, `{"members/age": 250}`, 1)
	res, err := im.Import(ctx, parseDoc(t, "uuid-2", doc))
	require.NoError(t, err)
	assert.Equal(t, RolledBack, res.Status)

	require.Len(t, res.Failures, 1)
	failure := res.Failures[0]
	assert.Equal(t, "uuid-2", failure.DocumentID)
	assert.Equal(t, "members", failure.Table)
	assert.Equal(t, "2", failure.RowOrItem)
	assert.Contains(t, failure.Statement, "INSERT INTO members")

	for _, table := range []string{"maintable", "members", "maintable_msel_crops", "livestock"} {
		assert.Zero(t, f.count(t, table), table)
	}

	seen, err := store.Seen(ctx, "uuid-2")
	require.NoError(t, err)
	assert.False(t, seen)

	logged, err := os.ReadFile(opts.ErrorLog)
	require.NoError(t, err)
	assert.Contains(t, string(logged), "uuid-2\tmembers\t2\t")
}

// constraintAdapter reports every failure as a named constraint so the
// constraint table lookup can be exercised on sqlite.
type constraintAdapter struct {
	*sqlite.Adapter
}

func (constraintAdapter) ConstraintName(error) string { return "ck_members_age" }

func TestImportDescribesConstraint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.adapter.DB().Exec(`INSERT INTO dict_relinfo VALUES
		('ck_members_age', 'Age is out of range', 'Check the roster', 'age')`)
	require.NoError(t, err)

	adapter := constraintAdapter{f.adapter.(*sqlite.Adapter)}
	im := New(adapter, parseManifest(t, householdManifest), f.sqlStore(t), nil, f.options())

	doc := strings.Replace(householdDoc, `{"members/age": 7}`, `{"members/age": 300}`, 1)
	res, err := im.Import(ctx, parseDoc(t, "uuid-3", doc))
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)

	failure := res.Failures[0]
	assert.Equal(t, "Age is out of range", failure.Message)
	assert.Equal(t, "members/age", failure.SourcePath)
	assert.Equal(t, "Value not found = 300", failure.Note)
}

func TestImportHookDisabledAfterFailure(t *testing.T) {
	f := newFixture(t)
	calls := 0
	h := hook.Func(func(string, hook.Row) error {
		calls++
		return errors.New("script crashed")
	})

	im := New(f.adapter, parseManifest(t, householdManifest), f.sqlStore(t), h, f.options())
	res, err := im.Import(context.Background(), parseDoc(t, "uuid-4", householdDoc))
	require.NoError(t, err)

	assert.Equal(t, Committed, res.Status)
	assert.True(t, res.HookDisabled)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 3, f.count(t, "members"))
}

func TestImportHookRewritesValues(t *testing.T) {
	f := newFixture(t)
	h := hook.Func(func(table string, r hook.Row) error {
		if table != "members" {
			return nil
		}
		if idx := r.IndexOfColumn("age"); idx >= 0 {
			r.SetValue(idx, "1")
		}
		return nil
	})

	im := New(f.adapter, parseManifest(t, householdManifest), f.sqlStore(t), h, f.options())
	res, err := im.Import(context.Background(), parseDoc(t, "uuid-5", householdDoc))
	require.NoError(t, err)
	require.Equal(t, Committed, res.Status)

	var total int
	require.NoError(t, f.adapter.DB().QueryRow("SELECT SUM(age) FROM members").Scan(&total))
	assert.Equal(t, 3, total)
}

func TestImportMarkerRetry(t *testing.T) {
	f := newFixture(t)
	m := parseManifest(t, householdManifest)

	store := &fakeStore{failures: 2}
	im := New(f.adapter, m, store, nil, f.options())
	slept := 0
	im.sleep = func(time.Duration) { slept++ }

	res, err := im.Import(context.Background(), parseDoc(t, "uuid-6", householdDoc))
	require.NoError(t, err)
	assert.Equal(t, Committed, res.Status)
	assert.Equal(t, 3, store.marks)
	assert.Equal(t, 2, slept)
}

func TestImportMarkerContention(t *testing.T) {
	f := newFixture(t)

	store := &fakeStore{failures: 10}
	im := New(f.adapter, parseManifest(t, householdManifest), store, nil, f.options())
	im.sleep = func(time.Duration) {}

	res, err := im.Import(context.Background(), parseDoc(t, "uuid-7", householdDoc))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMarkerContention))
	assert.Equal(t, RolledBack, res.Status)
	assert.Equal(t, 3, store.marks)
	assert.Zero(t, f.count(t, "maintable"))
}

const coverManifest = `
tables:
  - name: maintable
    source: cover
    fields:
      - {column: hh_id, source: hh_id, key: true}
      - {column: surveyid, source: NONE}
      - {column: originid, source: NONE}
    tables:
      - name: members
        source: members
        fields:
          - {column: hh_id, source: hh_id, key: true, reference: true}
          - {column: members_rowid, source: NONE, key: true}
          - {column: age, source: members/age}
`

func TestImportCoverRepeatOfOne(t *testing.T) {
	f := newFixture(t)
	doc := `{"cover": [{"hh_id": "C-9", "members": [{"members/age": 50}, {"members/age": 48}]}]}`

	im := New(f.adapter, parseManifest(t, coverManifest), f.sqlStore(t), nil, f.options())
	res, err := im.Import(context.Background(), parseDoc(t, "uuid-8", doc))
	require.NoError(t, err)
	require.Equal(t, Committed, res.Status)

	var hh, survey string
	require.NoError(t, f.adapter.DB().QueryRow("SELECT hh_id, surveyid FROM maintable").Scan(&hh, &survey))
	assert.Equal(t, "C-9", hh)
	assert.Equal(t, "uuid-8", survey)
	assert.Equal(t, 2, f.count(t, "members"))
}

const plotsManifest = `
tables:
  - name: maintable
    source: main
    fields:
      - {column: hh_id, source: hh_id, key: true}
    tables:
      - name: plots
        source: plot_map
        osm: true
        fields:
          - {column: hh_id, source: hh_id, key: true, reference: true}
          - {column: plot_id, source: NONE, key: true}
          - {column: name, source: plot_map/name}
          - {column: geopoint_lat, source: NONE}
          - {column: geopoint_lon, source: NONE}
`

const plotsOSM = `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6">
  <node id="-1" lat="-1.25" lon="36.75"><tag k="name" v="north plot"/></node>
  <node id="-2" lat="-1.5" lon="36.5"/>
  <node id="-3" lat="-1.0" lon="37.0"/>
  <way id="-10">
    <nd ref="-2"/><nd ref="-3"/>
    <tag k="name" v="river's edge"/>
  </way>
</osm>`

func TestImportOSM(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "plots.osm"), []byte(plotsOSM), 0644))

	im := New(f.adapter, parseManifest(t, plotsManifest), f.sqlStore(t), nil, f.options())
	res, err := im.Import(context.Background(),
		parseDoc(t, "uuid-9", `{"hh_id": "P1", "plot_map": "plots.osm"}`))
	require.NoError(t, err)
	require.Equal(t, Committed, res.Status)
	assert.Equal(t, 2, f.count(t, "plots"))

	var name, lat, lon string
	require.NoError(t, f.adapter.DB().QueryRow(
		"SELECT name, geopoint_lat, geopoint_lon FROM plots WHERE plot_id = 2").Scan(&name, &lat, &lon))
	assert.Equal(t, "river`s edge", name)
	assert.Equal(t, "-1.25", lat)
	assert.Equal(t, "36.75", lon)
}

func TestImportOSMUnanswered(t *testing.T) {
	f := newFixture(t)
	im := New(f.adapter, parseManifest(t, plotsManifest), f.sqlStore(t), nil, f.options())

	res, err := im.Import(context.Background(), parseDoc(t, "uuid-10", `{"hh_id": "P2"}`))
	require.NoError(t, err)
	assert.Equal(t, Committed, res.Status)
	assert.Zero(t, f.count(t, "plots"))
}

func TestImportOSMMissingFile(t *testing.T) {
	f := newFixture(t)
	im := New(f.adapter, parseManifest(t, plotsManifest), f.sqlStore(t), nil, f.options())

	_, err := im.Import(context.Background(),
		parseDoc(t, "uuid-11", `{"hh_id": "P3", "plot_map": "absent.osm"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, osm.ErrMissing))
	assert.Zero(t, f.count(t, "maintable"))
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "committed", Committed.String())
	assert.Equal(t, "already_processed", AlreadyProcessed.String())
	assert.Equal(t, "rolled_back", RolledBack.String())
}

const nestedManifest = `
tables:
  - name: maintable
    source: main
    fields:
      - {column: hh_id, source: hh_id, key: true}
    tables:
      - name: mem
        source: mem
        fields:
          - {column: hh_id, source: hh_id, key: true, reference: true}
          - {column: mem_id, source: NONE, key: true}
          - {column: name, source: mem/name}
        tables:
          - name: job
            source: mem/job
            fields:
              - {column: hh_id, source: hh_id, key: true, reference: true}
              - {column: mem_id, source: NONE, key: true, reference: true}
              - {column: job_id, source: NONE, key: true}
              - {column: title, source: mem/job/title}
          - name: pet
            source: mem/pet
            fields:
              - {column: hh_id, source: hh_id, key: true, reference: true}
              - {column: mem_id, source: NONE, key: true, reference: true}
              - {column: pet_id, source: NONE, key: true}
              - {column: kind, source: mem/pet/kind}
`

const nestedDoc = `{
  "hh_id": "N1",
  "mem": [
    {
      "mem/name": "amina",
      "mem/job": [{"mem/job/title": "farmer"}, {"mem/job/title": "trader"}],
      "mem/pet": [{"mem/pet/kind": "dog"}]
    },
    {
      "mem/name": "juma",
      "mem/job": [{"mem/job/title": "teacher"}],
      "mem/pet": [{"mem/pet/kind": "cat"}, {"mem/pet/kind": "goat"}]
    }
  ]
}`

func TestImportRepeatWithSeveralChildren(t *testing.T) {
	f := newFixture(t)

	im := New(f.adapter, parseManifest(t, nestedManifest), f.sqlStore(t), nil, f.options())
	res, err := im.Import(context.Background(), parseDoc(t, "uuid-12", nestedDoc))
	require.NoError(t, err)
	require.Equal(t, Committed, res.Status)
	assert.Empty(t, res.Failures)

	assert.Equal(t, 2, f.count(t, "mem"), "each element is inserted once across children")
	assert.Equal(t, 3, f.count(t, "job"))
	assert.Equal(t, 3, f.count(t, "pet"))
	assert.Equal(t, 9, res.Provenance.Len())

	owners := map[string]string{}
	rows, err := f.adapter.DB().Query(`
		SELECT j.title, m.name FROM job j
		JOIN mem m ON m.hh_id = j.hh_id AND m.mem_id = j.mem_id
		UNION ALL
		SELECT p.kind, m.name FROM pet p
		JOIN mem m ON m.hh_id = p.hh_id AND m.mem_id = p.mem_id`)
	require.NoError(t, err)
	for rows.Next() {
		var child, parent string
		require.NoError(t, rows.Scan(&child, &parent))
		owners[child] = parent
	}
	require.NoError(t, rows.Err())
	rows.Close()

	assert.Equal(t, map[string]string{
		"farmer":  "amina",
		"trader":  "amina",
		"dog":     "amina",
		"teacher": "juma",
		"cat":     "juma",
		"goat":    "juma",
	}, owners)

	main := res.Provenance.Roots()[0]
	members := res.Provenance.Children(main.ID)
	require.Len(t, members, 2)
	assert.Len(t, res.Provenance.Children(members[0].ID), 3)
	assert.Len(t, res.Provenance.Children(members[1].ID), 3)
}

func TestImportExpandsAfterFailedInsert(t *testing.T) {
	f := newFixture(t)

	im := New(f.adapter, parseManifest(t, householdManifest), f.sqlStore(t), nil, f.options())
	res, err := im.Import(context.Background(), parseDoc(t, "uuid-13", `{"crops": "maize beans"}`))
	require.NoError(t, err)
	assert.Equal(t, RolledBack, res.Status)

	var junction []string
	failedMain := false
	for _, rec := range res.Failures {
		switch rec.Table {
		case "maintable":
			failedMain = true
		case "maintable_msel_crops":
			junction = append(junction, rec.Statement)
		}
	}
	assert.True(t, failedMain)
	require.Len(t, junction, 2, "junction rows are attempted after the parent row failed")
	assert.Contains(t, junction[0], "maize")
	assert.Contains(t, junction[1], "beans")
	assert.Zero(t, f.count(t, "maintable_msel_crops"))
}

func TestImportSurvivesPanickingHook(t *testing.T) {
	f := newFixture(t)
	h := hook.Func(func(table string, r hook.Row) error {
		if table == "members" {
			var counts map[string]int
			counts[table]++
		}
		return nil
	})

	im := New(f.adapter, parseManifest(t, householdManifest), f.sqlStore(t), h, f.options())
	res, err := im.Import(context.Background(), parseDoc(t, "uuid-14", householdDoc))
	require.NoError(t, err)
	assert.Equal(t, Committed, res.Status)
	assert.True(t, res.HookDisabled)
	assert.Equal(t, 3, f.count(t, "members"))
}
