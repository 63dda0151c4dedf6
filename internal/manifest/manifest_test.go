package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleXML = `<?xml version="1.0" encoding="UTF-8"?>
<ODKImportXML>
  <table mysqlcode="maintable" xmlcode="main" parent="NULL">
    <field mysqlcode="surveyid" xmlcode="NONE" type="varchar" size="80" key="true" reference="false"/>
    <field mysqlcode="originid" xmlcode="NONE" type="varchar" size="15"/>
    <field mysqlcode="hh_id" xmlcode="hh_id" type="varchar" size="20" key="true" reference="false"/>
    <field mysqlcode="start" xmlcode="start" type="datetime" odktype="start"/>
    <field mysqlcode="crops" xmlcode="crops" type="varchar" size="120" isMultiSelect="true" multiSelectTable="maintable_msel_crops"/>
    <table mysqlcode="members" xmlcode="grp/members" parent="maintable">
      <field mysqlcode="hh_id" xmlcode="hh_id" type="varchar" key="true" reference="true"/>
      <field mysqlcode="members_rowid" xmlcode="NONE" type="int" size="3" key="true" reference="false"/>
      <field mysqlcode="age" xmlcode="grp/members/age" type="decimal" size="5" decsize="2"/>
      <table mysqlcode="members_extra" xmlcode="grp/members" parent="members" onetoone="true">
        <field mysqlcode="note" xmlcode="grp/members/note" type="text"/>
      </table>
    </table>
    <table mysqlcode="livestock" xmlcode="livestock" parent="maintable" loop="true" loopitems="cattle` + "\u02e7" + `goats">
      <field mysqlcode="animal" xmlcode="NONE" type="varchar" key="true" reference="false"/>
      <field mysqlcode="count" xmlcode="livestock/count" type="int"/>
    </table>
    <table mysqlcode="plots" xmlcode="plot_map" parent="maintable" osm="true"/>
    <table mysqlcode="contact" xmlcode="contact" parent="maintable" group="true"/>
  </table>
</ODKImportXML>`

func TestParseXML(t *testing.T) {
	m, err := ParseXML(strings.NewReader(sampleXML))
	require.NoError(t, err)
	require.NoError(t, m.Validate())

	require.Len(t, m.Roots, 1)
	main := m.Table(m.Roots[0])
	assert.Equal(t, "maintable", main.Name)
	assert.Equal(t, KindMain, main.Kind)
	assert.Equal(t, -1, main.Parent)
	require.Len(t, main.Children, 4)

	crops := main.Fields[4]
	assert.True(t, crops.MultiSelect)
	assert.Equal(t, "maintable_msel_crops", crops.MultiSelectTable)
	assert.Equal(t, "start", main.Fields[3].ODKType)
	assert.Equal(t, "text", main.Fields[0].ODKType)
	assert.False(t, main.Fields[0].HasSource())

	keys := main.Keys()
	require.Len(t, keys, 2)
	assert.Equal(t, "surveyid", keys[0].Column)
	assert.Equal(t, "hh_id", keys[1].Column)

	members, ok := m.Lookup("MEMBERS")
	require.True(t, ok)
	assert.Equal(t, KindOrdinary, members.Kind)
	assert.True(t, members.Fields[0].Reference)
	assert.Equal(t, 5, members.Fields[2].Size)
	assert.Equal(t, 2, members.Fields[2].DecimalSize)
	require.Len(t, members.Keys(), 1)

	extra, ok := m.Lookup("members_extra")
	require.True(t, ok)
	assert.True(t, extra.Separated())

	livestock, _ := m.Lookup("livestock")
	assert.Equal(t, KindLoop, livestock.Kind)
	assert.Equal(t, []string{"cattle", "goats"}, livestock.LoopItems)

	plots, _ := m.Lookup("plots")
	assert.Equal(t, KindOSM, plots.Kind)

	contact, _ := m.Lookup("contact")
	assert.Equal(t, KindGroup, contact.Kind)
}

func TestWalkPreOrder(t *testing.T) {
	m, err := ParseXML(strings.NewReader(sampleXML))
	require.NoError(t, err)

	var names []string
	m.Walk(func(_ int, t *Table) { names = append(names, t.Name) })

	assert.Equal(t, []string{"maintable", "members", "members_extra", "livestock", "plots", "contact"}, names)
}

func TestParseYAML(t *testing.T) {
	src := `
tables:
  - name: cover
    source: cover_repeat
    fields:
      - {column: surveyid, source: NONE, key: true}
      - {column: village, source: village}
    tables:
      - name: visits
        source: visits
        fields:
          - {column: surveyid, source: NONE, key: true, reference: true}
          - {column: visit_id, source: NONE, key: true, type: int}
          - {column: visited_on, source: visits/date, type: date, odk_type: date}
`
	m, err := ParseYAML(strings.NewReader(src))
	require.NoError(t, err)
	require.NoError(t, m.Validate())

	cover := m.Table(m.Roots[0])
	assert.Equal(t, KindMain, cover.Kind, "top level tables are cover tables")
	assert.Equal(t, "cover_repeat", cover.SourcePath)

	visits, ok := m.Lookup("visits")
	require.True(t, ok)
	assert.Equal(t, KindOrdinary, visits.Kind)
	assert.Equal(t, "varchar", visits.Fields[0].SQLType)
	assert.Equal(t, "date", visits.Fields[2].ODKType)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"empty", `tables: []`},
		{"bad table name", `tables: [{name: "bad name", source: main}]`},
		{"bad column", `tables: [{name: t, source: main, fields: [{column: "x;drop"}]}]`},
		{"loop without items", `tables: [{name: t, source: main, tables: [{name: l, source: l, loop: true}]}]`},
		{"nested main", `tables: [{name: t, source: x, tables: [{name: m, source: main}]}]`},
		{"multi-select without table", `tables: [{name: t, source: main, fields: [{column: c, multi_select: true}]}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseYAML(strings.NewReader(tt.src))
			require.NoError(t, err)
			err = m.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
		})
	}
}

func TestLoadByExtension(t *testing.T) {
	dir := t.TempDir()

	xmlPath := filepath.Join(dir, "manifest.xml")
	require.NoError(t, os.WriteFile(xmlPath, []byte(sampleXML), 0644))
	m, err := Load(xmlPath)
	require.NoError(t, err)
	assert.Len(t, m.Tables, 6)

	yamlPath := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("tables: [{name: t, source: main}]\n"), 0644))
	m, err = Load(yamlPath)
	require.NoError(t, err)
	assert.Len(t, m.Tables, 1)

	_, err = Load(filepath.Join(dir, "missing.xml"))
	assert.Error(t, err)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "loop", KindLoop.String())
	assert.Equal(t, "Kind(42)", Kind(42).String())
}
