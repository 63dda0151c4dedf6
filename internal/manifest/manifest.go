// Package manifest models the import manifest: the tree of target tables,
// their fields and keys, produced ahead of time from a form definition.
package manifest

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalid is wrapped by every manifest validation failure.
var ErrInvalid = errors.New("invalid manifest")

// MainPath is the source path of the table that holds the top level of the
// document.
const MainPath = "main"

// NoSource marks a field that has no counterpart in the document.
const NoSource = "NONE"

// LoopItemSeparator joins loop item names in the XML manifest.
const LoopItemSeparator = "\u02e7"

type Kind int

const (
	KindMain Kind = iota
	KindGroup
	KindLoop
	KindOSM
	KindOrdinary
	KindSeparated
)

func (k Kind) String() string {
	switch k {
	case KindMain:
		return "main"
	case KindGroup:
		return "group"
	case KindLoop:
		return "loop"
	case KindOSM:
		return "osm"
	case KindOrdinary:
		return "ordinary"
	case KindSeparated:
		return "separated"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

type Field struct {
	Column      string
	SourcePath  string
	SQLType     string
	Size        int
	DecimalSize int
	Key         bool
	// Reference fields are inherited parent keys; their values arrive with
	// the parent key list instead of being resolved from the document.
	Reference        bool
	ODKType          string
	MultiSelect      bool
	MultiSelectTable string
}

// HasSource reports whether the field can be looked up in the document.
func (f Field) HasSource() bool {
	return f.SourcePath != "" && f.SourcePath != NoSource
}

type Table struct {
	Name       string
	SourcePath string
	Kind       Kind
	Fields     []Field
	LoopItems  []string

	// Parent is the index of the parent table, -1 for top level tables.
	Parent   int
	Children []int
}

func (t *Table) Separated() bool { return t.Kind == KindSeparated }

// Keys returns the table's own key fields.
func (t *Table) Keys() []Field {
	var keys []Field
	for _, f := range t.Fields {
		if f.Key && !f.Reference {
			keys = append(keys, f)
		}
	}
	return keys
}

// Manifest is an arena of tables. Roots lists top level tables in document
// order; the first one is the main table.
type Manifest struct {
	Tables []Table
	Roots  []int
	byName map[string]int
}

func New() *Manifest {
	return &Manifest{byName: make(map[string]int)}
}

// Add appends a table under parent (-1 for top level) and returns its index.
func (m *Manifest) Add(parent int, t Table) int {
	idx := len(m.Tables)
	t.Parent = parent
	t.Children = nil
	m.Tables = append(m.Tables, t)

	if parent < 0 {
		m.Roots = append(m.Roots, idx)
	} else {
		m.Tables[parent].Children = append(m.Tables[parent].Children, idx)
	}

	if _, exists := m.byName[strings.ToLower(t.Name)]; !exists {
		m.byName[strings.ToLower(t.Name)] = idx
	}
	return idx
}

func (m *Manifest) Table(idx int) *Table {
	return &m.Tables[idx]
}

// Lookup finds a table by name, ignoring case.
func (m *Manifest) Lookup(name string) (*Table, bool) {
	idx, ok := m.byName[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	return &m.Tables[idx], true
}

// Walk visits every table in pre-order.
func (m *Manifest) Walk(fn func(idx int, t *Table)) {
	var visit func(idx int)
	visit = func(idx int) {
		fn(idx, &m.Tables[idx])
		for _, child := range m.Tables[idx].Children {
			visit(child)
		}
	}
	for _, root := range m.Roots {
		visit(root)
	}
}

var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func (m *Manifest) Validate() error {
	if len(m.Roots) == 0 {
		return fmt.Errorf("%w: no tables", ErrInvalid)
	}

	var errs []error
	mains := 0
	m.Walk(func(idx int, t *Table) {
		if !validIdentifier.MatchString(t.Name) {
			errs = append(errs, fmt.Errorf("%w: invalid table name %q", ErrInvalid, t.Name))
		}
		if t.SourcePath == MainPath {
			mains++
			if t.Parent >= 0 || m.Roots[0] != idx {
				errs = append(errs, fmt.Errorf("%w: table %s: main must be the first top level table", ErrInvalid, t.Name))
			}
		}
		if t.Kind == KindLoop && len(t.LoopItems) == 0 {
			errs = append(errs, fmt.Errorf("%w: loop table %s has no items", ErrInvalid, t.Name))
		}

		for _, f := range t.Fields {
			if !validIdentifier.MatchString(f.Column) {
				errs = append(errs, fmt.Errorf("%w: table %s: invalid column name %q", ErrInvalid, t.Name, f.Column))
			}
			if f.MultiSelect && !validIdentifier.MatchString(f.MultiSelectTable) {
				errs = append(errs, fmt.Errorf("%w: table %s: column %s has no valid multi-select table", ErrInvalid, t.Name, f.Column))
			}
		}
	})
	if mains > 1 {
		errs = append(errs, fmt.Errorf("%w: main table declared %d times", ErrInvalid, mains))
	}

	return errors.Join(errs...)
}

// kindOf derives a table kind from the manifest flags.
func kindOf(top bool, loop, osm, group, separated bool) Kind {
	switch {
	case top:
		return KindMain
	case loop:
		return KindLoop
	case osm:
		return KindOSM
	case group:
		return KindGroup
	case separated:
		return KindSeparated
	default:
		return KindOrdinary
	}
}
