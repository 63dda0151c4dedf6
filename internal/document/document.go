// Package document reads submission documents: arbitrarily nested JSON
// objects and arrays addressed by slash separated source paths.
package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Node is one object of the document.
type Node map[string]any

// Parse decodes a JSON object. Numbers keep their textual form.
func Parse(r io.Reader) (Node, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var node Node
	if err := dec.Decode(&node); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	if node == nil {
		return nil, fmt.Errorf("failed to parse document: top level value is not an object")
	}
	return node, nil
}

func ParseBytes(data []byte) (Node, error) {
	return Parse(bytes.NewReader(data))
}

func Load(path string) (Node, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// IDFromPath derives a document identifier from its file name: the base
// name up to the first dot.
func IDFromPath(path string) string {
	base := filepath.Base(path)
	if idx := strings.Index(base, "."); idx > 0 {
		return base[:idx]
	}
	return base
}

// Lookup finds the value at path. A key equal to the whole path wins over
// walking nested objects segment by segment.
func (n Node) Lookup(path string) (any, bool) {
	if n == nil || path == "" {
		return nil, false
	}
	if v, ok := n[path]; ok {
		return v, true
	}

	segments := strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
	if len(segments) < 2 {
		return nil, false
	}

	var current any = map[string]any(n)
	for _, seg := range segments {
		obj, ok := asObject(current)
		if !ok {
			return nil, false
		}
		current, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Text returns the value at path as text. Objects, arrays and nulls have no
// text and yield "".
func (n Node) Text(path string) string {
	v, ok := n.Lookup(path)
	if !ok {
		return ""
	}
	return toText(v)
}

// Items returns the objects of the array at path. A single object is
// treated as an array of one; non-object elements are skipped.
func (n Node) Items(path string) []Node {
	v, ok := n.Lookup(path)
	if !ok {
		return nil
	}

	if obj, ok := asObject(v); ok {
		return []Node{obj}
	}

	list, ok := v.([]any)
	if !ok {
		return nil
	}
	items := make([]Node, 0, len(list))
	for _, elem := range list {
		if obj, ok := asObject(elem); ok {
			items = append(items, obj)
		}
	}
	return items
}

func asObject(v any) (Node, bool) {
	switch obj := v.(type) {
	case Node:
		return obj, true
	case map[string]any:
		return Node(obj), true
	default:
		return nil, false
	}
}

func toText(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	default:
		return ""
	}
}
