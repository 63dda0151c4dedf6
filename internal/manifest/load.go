package manifest

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type xmlManifest struct {
	XMLName xml.Name   `xml:"ODKImportXML"`
	Tables  []xmlTable `xml:"table"`
}

type xmlTable struct {
	Name      string     `xml:"mysqlcode,attr"`
	Source    string     `xml:"xmlcode,attr"`
	Loop      string     `xml:"loop,attr"`
	LoopItems string     `xml:"loopitems,attr"`
	OSM       string     `xml:"osm,attr"`
	Group     string     `xml:"group,attr"`
	Separated string     `xml:"separated,attr"`
	OneToOne  string     `xml:"onetoone,attr"`
	Fields    []xmlField `xml:"field"`
	Tables    []xmlTable `xml:"table"`
}

type xmlField struct {
	Column           string `xml:"mysqlcode,attr"`
	Source           string `xml:"xmlcode,attr"`
	Type             string `xml:"type,attr"`
	ODKType          string `xml:"odktype,attr"`
	Size             string `xml:"size,attr"`
	DecSize          string `xml:"decsize,attr"`
	Key              string `xml:"key,attr"`
	Reference        string `xml:"reference,attr"`
	MultiSelect      string `xml:"isMultiSelect,attr"`
	MultiSelectTable string `xml:"multiSelectTable,attr"`
}

type yamlManifest struct {
	Tables []yamlTable `yaml:"tables"`
}

type yamlTable struct {
	Name      string      `yaml:"name"`
	Source    string      `yaml:"source"`
	Loop      bool        `yaml:"loop"`
	LoopItems []string    `yaml:"loop_items"`
	OSM       bool        `yaml:"osm"`
	Group     bool        `yaml:"group"`
	Separated bool        `yaml:"separated"`
	Fields    []yamlField `yaml:"fields"`
	Tables    []yamlTable `yaml:"tables"`
}

type yamlField struct {
	Column           string `yaml:"column"`
	Source           string `yaml:"source"`
	Type             string `yaml:"type"`
	Size             int    `yaml:"size"`
	DecimalSize      int    `yaml:"decimal_size"`
	Key              bool   `yaml:"key"`
	Reference        bool   `yaml:"reference"`
	ODKType          string `yaml:"odk_type"`
	MultiSelect      bool   `yaml:"multi_select"`
	MultiSelectTable string `yaml:"multi_select_table"`
}

// Load reads a manifest file, choosing the format by extension, and
// validates it.
func Load(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	var m *Manifest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		m, err = ParseYAML(f)
	default:
		m, err = ParseXML(f)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func ParseXML(r io.Reader) (*Manifest, error) {
	var doc xmlManifest
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, err
	}

	m := New()
	var add func(parent int, t xmlTable) error
	add = func(parent int, t xmlTable) error {
		table := Table{
			Name:       t.Name,
			SourcePath: t.Source,
			Kind: kindOf(parent < 0,
				isTrue(t.Loop), isTrue(t.OSM), isTrue(t.Group),
				isTrue(t.Separated) || isTrue(t.OneToOne)),
		}
		if t.LoopItems != "" {
			table.LoopItems = strings.Split(t.LoopItems, LoopItemSeparator)
		}

		for _, f := range t.Fields {
			field, err := f.toField()
			if err != nil {
				return fmt.Errorf("table %s: %w", t.Name, err)
			}
			table.Fields = append(table.Fields, field)
		}

		idx := m.Add(parent, table)
		for _, child := range t.Tables {
			if err := add(idx, child); err != nil {
				return err
			}
		}
		return nil
	}

	for _, t := range doc.Tables {
		if err := add(-1, t); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (f xmlField) toField() (Field, error) {
	size, err := atoiDefault(f.Size)
	if err != nil {
		return Field{}, fmt.Errorf("field %s: invalid size %q", f.Column, f.Size)
	}
	decSize, err := atoiDefault(f.DecSize)
	if err != nil {
		return Field{}, fmt.Errorf("field %s: invalid decsize %q", f.Column, f.DecSize)
	}

	field := Field{
		Column:      f.Column,
		SourcePath:  f.Source,
		SQLType:     f.Type,
		Size:        size,
		DecimalSize: decSize,
		Key:         isTrue(f.Key),
		Reference:   isTrue(f.Reference),
		ODKType:     f.ODKType,
		MultiSelect: isTrue(f.MultiSelect),
	}
	if field.SQLType == "" {
		field.SQLType = "varchar"
	}
	if field.ODKType == "" {
		field.ODKType = "text"
	}
	if field.MultiSelect {
		field.MultiSelectTable = f.MultiSelectTable
	}
	return field, nil
}

func ParseYAML(r io.Reader) (*Manifest, error) {
	var doc yamlManifest
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, err
	}

	m := New()
	var add func(parent int, t yamlTable)
	add = func(parent int, t yamlTable) {
		table := Table{
			Name:       t.Name,
			SourcePath: t.Source,
			Kind:       kindOf(parent < 0, t.Loop, t.OSM, t.Group, t.Separated),
			LoopItems:  t.LoopItems,
		}
		for _, f := range t.Fields {
			field := Field{
				Column:           f.Column,
				SourcePath:       f.Source,
				SQLType:          f.Type,
				Size:             f.Size,
				DecimalSize:      f.DecimalSize,
				Key:              f.Key,
				Reference:        f.Reference,
				ODKType:          f.ODKType,
				MultiSelect:      f.MultiSelect,
				MultiSelectTable: f.MultiSelectTable,
			}
			if field.SQLType == "" {
				field.SQLType = "varchar"
			}
			if field.ODKType == "" {
				field.ODKType = "text"
			}
			table.Fields = append(table.Fields, field)
		}

		idx := m.Add(parent, table)
		for _, child := range t.Tables {
			add(idx, child)
		}
	}

	for _, t := range doc.Tables {
		add(-1, t)
	}
	return m, nil
}

func isTrue(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), "true")
}

func atoiDefault(v string) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
