package importer

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/ilri/odktools-sub000/internal/document"
	"github.com/ilri/odktools-sub000/internal/manifest"
	"github.com/ilri/odktools-sub000/internal/osm"
	"github.com/ilri/odktools-sub000/internal/resolve"
	"github.com/ilri/odktools-sub000/internal/row"
)

type walker struct {
	im       *Importer
	state    *runState
	manifest *manifest.Manifest
}

// source describes where the values of one row come from.
type source struct {
	primary   document.Node
	secondary document.Node
	top       bool
	// rowOrItem labels error records; empty means the row position.
	rowOrItem string
	// value overrides field resolution when it returns true.
	value func(f manifest.Field) (string, bool)
}

func (w *walker) run(ctx context.Context, doc document.Node) error {
	for _, idx := range w.manifest.Roots {
		if err := w.root(ctx, idx, doc); err != nil {
			return err
		}
	}
	return nil
}

// root handles a top level table. When its source is not main the cover
// data sits in a repeat of one: fields fall back to that element and the
// children are read from it.
func (w *walker) root(ctx context.Context, idx int, doc document.Node) error {
	t := w.manifest.Table(idx)

	childNode := doc
	src := source{primary: doc, top: true}
	if t.SourcePath != manifest.MainPath {
		if items := doc.Items(t.SourcePath); len(items) > 0 {
			src.secondary = items[0]
			childNode = items[0]
		}
	}

	keys := w.insert(ctx, t, src, nil)
	return w.children(ctx, t, childNode, keys)
}

func (w *walker) children(ctx context.Context, t *manifest.Table, node document.Node, keys []row.Entry) error {
	for _, child := range t.Children {
		if err := w.visit(ctx, child, node, keys); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) visit(ctx context.Context, idx int, node document.Node, parentKeys []row.Entry) error {
	t := w.manifest.Table(idx)

	switch t.Kind {
	case manifest.KindGroup, manifest.KindSeparated:
		keys := w.insert(ctx, t, source{primary: node}, parentKeys)
		return w.children(ctx, t, node, extend(parentKeys, keys))

	case manifest.KindLoop:
		return w.loop(ctx, t, node, parentKeys)

	case manifest.KindOSM:
		return w.osm(ctx, t, node, parentKeys)

	case manifest.KindOrdinary:
		return w.repeat(ctx, t, node, parentKeys)

	default:
		return fmt.Errorf("table %s: unsupported kind %s", t.Name, t.Kind)
	}
}

// repeat emits one row per element of the table's array. With child tables
// each child walks the array again; the keys of an element already inserted
// at that position are reused.
func (w *walker) repeat(ctx context.Context, t *manifest.Table, node document.Node, parentKeys []row.Entry) error {
	items := node.Items(t.SourcePath)

	if len(t.Children) == 0 {
		for _, item := range items {
			w.insert(ctx, t, source{primary: item}, parentKeys)
		}
		return nil
	}

	cache := make(map[int][]row.Entry, len(items))
	for _, child := range t.Children {
		for i, item := range items {
			position := i + 1
			keys, ok := cache[position]
			if !ok {
				keys = extend(parentKeys, w.insert(ctx, t, source{primary: item}, parentKeys))
				cache[position] = keys
			}
			if err := w.visit(ctx, child, item, keys); err != nil {
				return err
			}
		}
	}
	return nil
}

// loop emits one row per declared item whether or not the document has
// answers for it.
func (w *walker) loop(ctx context.Context, t *manifest.Table, node document.Node, parentKeys []row.Entry) error {
	prefix := strings.TrimSuffix(t.SourcePath, "/") + "/"

	for _, item := range t.LoopItems {
		src := source{
			primary:   node,
			rowOrItem: item,
			value: func(f manifest.Field) (string, bool) {
				if !f.HasSource() {
					if f.Key {
						return item, true
					}
					return "", false
				}
				p := prefix + item + "/" + strings.TrimPrefix(f.SourcePath, prefix)
				return w.state.resolver.ResolvePath(f, p, node, nil, false), true
			},
		}

		keys := w.insert(ctx, t, src, parentKeys)
		if err := w.children(ctx, t, node, extend(parentKeys, keys)); err != nil {
			return err
		}
	}
	return nil
}

// osm emits one row per tagged feature of the file named by the document.
// A question left unanswered produces no rows; a named file that cannot be
// read aborts the run.
func (w *walker) osm(ctx context.Context, t *manifest.Table, node document.Node, parentKeys []row.Entry) error {
	name := node.Text(t.SourcePath)
	if name == "" {
		return nil
	}

	file := name
	if w.im.opts.AttachmentsDir != "" && !filepath.IsAbs(name) {
		file = filepath.Join(w.im.opts.AttachmentsDir, name)
	}

	fc, err := osm.Load(file)
	if err != nil {
		return fmt.Errorf("table %s: %w", t.Name, err)
	}

	for _, feature := range fc.Features {
		keys := w.insert(ctx, t, w.featureSource(node, feature), parentKeys)
		if err := w.children(ctx, t, node, extend(parentKeys, keys)); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) featureSource(node document.Node, feature *geojson.Feature) source {
	loc := osm.Location(feature)
	opts := w.im.opts
	id := fmt.Sprint(feature.ID)

	return source{
		primary:   node,
		rowOrItem: id,
		value: func(f manifest.Field) (string, bool) {
			switch {
			case strings.EqualFold(f.Column, opts.LatColumn):
				return osm.FormatCoord(loc.Lat()), true
			case strings.EqualFold(f.Column, opts.LonColumn):
				return osm.FormatCoord(loc.Lon()), true
			case !f.HasSource():
				return "", false
			}

			tag, ok := feature.Properties[f.SourcePath].(string)
			if !ok {
				tag, _ = feature.Properties[path.Base(f.SourcePath)].(string)
			}
			return resolve.FixString(tag), true
		},
	}
}

// extend returns a new key list; parent is never modified.
func extend(parent, own []row.Entry) []row.Entry {
	keys := make([]row.Entry, 0, len(parent)+len(own))
	keys = append(keys, parent...)
	return append(keys, own...)
}
