// Package provenance records which rows an import inserted and under which
// parent row each one hangs.
package provenance

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

type Node struct {
	Table    string
	ID       string
	Parent   int
	Children []int
}

// Tree is an arena of nodes indexed by generated row id.
type Tree struct {
	nodes []Node
	roots []int
	byID  map[string]int
}

func New() *Tree {
	return &Tree{byID: make(map[string]int)}
}

// Attach records a persisted row. An empty parentID makes it a root. A row
// whose parent was never attached is dropped and Attach reports false.
func (t *Tree) Attach(parentID, table, id string) bool {
	parent := -1
	if parentID != "" {
		idx, ok := t.byID[parentID]
		if !ok {
			return false
		}
		parent = idx
	}

	idx := len(t.nodes)
	t.nodes = append(t.nodes, Node{Table: table, ID: id, Parent: parent})
	t.byID[id] = idx
	if parent < 0 {
		t.roots = append(t.roots, idx)
	} else {
		t.nodes[parent].Children = append(t.nodes[parent].Children, idx)
	}
	return true
}

func (t *Tree) Has(id string) bool {
	_, ok := t.byID[id]
	return ok
}

func (t *Tree) Len() int { return len(t.nodes) }

func (t *Tree) Roots() []Node {
	roots := make([]Node, 0, len(t.roots))
	for _, idx := range t.roots {
		roots = append(roots, t.nodes[idx])
	}
	return roots
}

// Children returns the nodes attached directly under id.
func (t *Tree) Children(id string) []Node {
	idx, ok := t.byID[id]
	if !ok {
		return nil
	}
	children := make([]Node, 0, len(t.nodes[idx].Children))
	for _, c := range t.nodes[idx].Children {
		children = append(children, t.nodes[c])
	}
	return children
}

type xmlMap struct {
	XMLName xml.Name    `xml:"ODKRecordMapXML"`
	Version string      `xml:"version,attr"`
	Records []xmlRecord `xml:"record"`
}

type xmlRecord struct {
	Table   string      `xml:"table,attr"`
	UUID    string      `xml:"uuid,attr"`
	Records []xmlRecord `xml:"record"`
}

func (t *Tree) record(idx int) xmlRecord {
	n := t.nodes[idx]
	rec := xmlRecord{Table: n.Table, UUID: n.ID}
	for _, c := range n.Children {
		rec.Records = append(rec.Records, t.record(c))
	}
	return rec
}

// WriteXML writes the tree as a record map document.
func (t *Tree) WriteXML(w io.Writer) error {
	doc := xmlMap{Version: "1.0"}
	for _, idx := range t.roots {
		doc.Records = append(doc.Records, t.record(idx))
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// WriteFile stores the record map as dir/<documentID>.xml and returns the
// path.
func (t *Tree) WriteFile(dir, documentID string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create map directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, documentID+".xml")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create map file: %w", err)
	}
	defer f.Close()

	if err := t.WriteXML(f); err != nil {
		return "", fmt.Errorf("failed to write map file: %w", err)
	}
	return path, f.Close()
}
