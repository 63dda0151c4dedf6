// Package resolve computes field values from a submission document.
package resolve

import (
	"regexp"
	"strings"

	"github.com/ilri/odktools-sub000/internal/document"
	"github.com/ilri/odktools-sub000/internal/manifest"
)

var (
	calendarTypes = map[string]bool{
		"start": true, "end": true, "time": true,
		"datetime": true, "date": true, "today": true,
	}
	dateTimeColumns = map[string]bool{"datetime": true, "timestamp": true}

	bareTime = regexp.MustCompile(`^\d{1,2}:\d{2}(:\d{2})?$`)
	replacer = strings.NewReplacer("'", "`", ";", "")
)

type Resolver struct {
	DocumentID       string
	SubmissionColumn string
	OriginColumn     string
	OriginTag        string
	PlaceholderDate  string
}

// Resolve returns the value of f for a row built from primary, falling back
// to secondary when primary has nothing. top marks the cover table, whose
// submission and origin columns are constants.
func (r *Resolver) Resolve(f manifest.Field, primary, secondary document.Node, top bool) string {
	return r.ResolvePath(f, f.SourcePath, primary, secondary, top)
}

// ResolvePath is Resolve with the document path given explicitly.
func (r *Resolver) ResolvePath(f manifest.Field, path string, primary, secondary document.Node, top bool) string {
	if top {
		switch {
		case r.SubmissionColumn != "" && strings.EqualFold(f.Column, r.SubmissionColumn):
			return r.DocumentID
		case r.OriginColumn != "" && strings.EqualFold(f.Column, r.OriginColumn):
			return r.OriginTag
		}
	}

	var value string
	if path != "" && path != manifest.NoSource {
		value = lookup(path, primary, secondary, f.Key)
	}
	return r.Calendar(f, value)
}

func lookup(path string, primary, secondary document.Node, key bool) string {
	clean := FixString
	if key {
		clean = Simplify
	}

	value := clean(primary.Text(path))
	if value == "" {
		value = clean(secondary.Text(path))
	}
	return value
}

// Calendar normalizes date and time answers: fractional seconds and zone
// designators are dropped and the ISO separator becomes a space. A bare time
// going into a date-time column gets the placeholder date.
func (r *Resolver) Calendar(f manifest.Field, value string) string {
	if value == "" || !calendarTypes[strings.ToLower(f.ODKType)] {
		return value
	}

	if idx := strings.Index(value, "."); idx >= 0 {
		value = value[:idx]
	}
	value = strings.TrimSuffix(value, "Z")
	value = strings.Replace(value, "T", " ", 1)

	if strings.EqualFold(f.ODKType, "time") &&
		dateTimeColumns[strings.ToLower(f.SQLType)] &&
		bareTime.MatchString(value) &&
		r.PlaceholderDate != "" {
		value = r.PlaceholderDate + " " + value
	}
	return value
}

// FixString replaces single quotes with backticks and removes semicolons.
func FixString(v string) string {
	return replacer.Replace(v)
}

// Simplify trims v and collapses internal whitespace runs to single spaces.
func Simplify(v string) string {
	return strings.Join(strings.Fields(v), " ")
}
