// Package osm reads the OpenStreetMap XML files attached to submissions by
// map questions.
package osm

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ErrMissing is returned when the attached file does not exist.
var ErrMissing = errors.New("osm file not found")

type xmlOSM struct {
	Nodes []xmlNode `xml:"node"`
	Ways  []xmlWay  `xml:"way"`
}

type xmlNode struct {
	ID   string   `xml:"id,attr"`
	Lat  float64  `xml:"lat,attr"`
	Lon  float64  `xml:"lon,attr"`
	Tags []xmlTag `xml:"tag"`
}

type xmlWay struct {
	ID   string   `xml:"id,attr"`
	Refs []xmlRef `xml:"nd"`
	Tags []xmlTag `xml:"tag"`
}

type xmlRef struct {
	Ref string `xml:"ref,attr"`
}

type xmlTag struct {
	Key   string `xml:"k,attr"`
	Value string `xml:"v,attr"`
}

// Parse returns one feature per tagged node or way. Nodes become points;
// ways become line strings over their referenced nodes. Tags are stored as
// string properties.
func Parse(r io.Reader) (*geojson.FeatureCollection, error) {
	var doc xmlOSM
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse osm file: %w", err)
	}

	points := make(map[string]orb.Point, len(doc.Nodes))
	for _, n := range doc.Nodes {
		points[n.ID] = orb.Point{n.Lon, n.Lat}
	}

	fc := geojson.NewFeatureCollection()
	for _, n := range doc.Nodes {
		if len(n.Tags) == 0 {
			continue
		}
		fc.Append(newFeature(n.ID, points[n.ID], n.Tags))
	}

	for _, w := range doc.Ways {
		if len(w.Tags) == 0 {
			continue
		}
		line := make(orb.LineString, 0, len(w.Refs))
		for _, ref := range w.Refs {
			if p, ok := points[ref.Ref]; ok {
				line = append(line, p)
			}
		}
		if len(line) == 0 {
			continue
		}
		fc.Append(newFeature(w.ID, line, w.Tags))
	}

	return fc, nil
}

func newFeature(id string, g orb.Geometry, tags []xmlTag) *geojson.Feature {
	f := geojson.NewFeature(g)
	f.ID = id
	for _, t := range tags {
		f.Properties[t.Key] = t.Value
	}
	return f
}

func Load(path string) (*geojson.FeatureCollection, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissing, path)
		}
		return nil, fmt.Errorf("failed to open osm file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Location returns the representative point of a feature: the point itself,
// or the centre of the feature's bounds.
func Location(f *geojson.Feature) orb.Point {
	if p, ok := f.Geometry.(orb.Point); ok {
		return p
	}
	return f.Geometry.Bound().Center()
}

// FormatCoord renders a coordinate without trailing zeros.
func FormatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
