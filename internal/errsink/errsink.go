// Package errsink collects row failures from an import run and writes them
// as a tab separated log or an XML document.
package errsink

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	FormatHuman   = "h"
	FormatMachine = "m"
)

var tsvHeader = []string{"FileUUID", "Table", "RowInJSON", "JSONVariable", "Error", "Notes", "SQLExecuted"}

type Record struct {
	DocumentID string
	Table      string
	// RowOrItem is the row position within the table, or the loop item.
	RowOrItem  string
	SourcePath string
	Message    string
	Note       string
	Statement  string
}

type Sink struct {
	records []Record
}

func New() *Sink { return &Sink{} }

func (s *Sink) Add(r Record) {
	s.records = append(s.records, r)
}

func (s *Sink) Records() []Record {
	return s.records
}

func (s *Sink) Len() int { return len(s.records) }

var cellReplacer = strings.NewReplacer("\t", " ", "\r\n", " ", "\n", " ", "\r", " ")

// WriteTSV writes records one per line. When header is true the column
// names come first.
func WriteTSV(w io.Writer, records []Record, header bool) error {
	if header {
		if _, err := fmt.Fprintln(w, strings.Join(tsvHeader, "\t")); err != nil {
			return err
		}
	}
	for _, r := range records {
		cells := []string{r.DocumentID, r.Table, r.RowOrItem, r.SourcePath, r.Message, r.Note, r.Statement}
		for i := range cells {
			cells[i] = cellReplacer.Replace(cells[i])
		}
		if _, err := fmt.Fprintln(w, strings.Join(cells, "\t")); err != nil {
			return err
		}
	}
	return nil
}

type xmlLog struct {
	XMLName xml.Name   `xml:"XMLErrorLog"`
	Errors  []xmlError `xml:"errors>error"`
}

type xmlError struct {
	FileUUID     string `xml:"FileUUID,attr"`
	Table        string `xml:"Table,attr"`
	RowInJSON    string `xml:"RowInJSON,attr"`
	JSONVariable string `xml:"JSONVariable,attr"`
	Error        string `xml:"Error,attr"`
	Notes        string `xml:"Notes,attr"`
	SQLExecuted  string `xml:",chardata"`
}

func WriteXML(w io.Writer, records []Record) error {
	doc := xmlLog{Errors: make([]xmlError, 0, len(records))}
	for _, r := range records {
		doc.Errors = append(doc.Errors, xmlError{
			FileUUID:     r.DocumentID,
			Table:        r.Table,
			RowInJSON:    r.RowOrItem,
			JSONVariable: r.SourcePath,
			Error:        r.Message,
			Notes:        r.Note,
			SQLExecuted:  r.Statement,
		})
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

// WriteFile stores records at path in the given format. Nothing is written
// when there are no records. A tab separated log is appended to unless
// overwrite is set; the XML log is always replaced.
func WriteFile(path, format string, overwrite bool, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	switch format {
	case FormatMachine:
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create error log: %w", err)
		}
		defer f.Close()
		if err := WriteXML(f, records); err != nil {
			return fmt.Errorf("failed to write error log: %w", err)
		}
		return f.Close()

	case FormatHuman, "":
		flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
		if overwrite {
			flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		}
		header := overwrite
		if !overwrite {
			info, err := os.Stat(path)
			header = err != nil || info.Size() == 0
		}

		f, err := os.OpenFile(path, flags, 0644)
		if err != nil {
			return fmt.Errorf("failed to open error log: %w", err)
		}
		defer f.Close()
		if err := WriteTSV(f, records, header); err != nil {
			return fmt.Errorf("failed to write error log: %w", err)
		}
		return f.Close()

	default:
		return fmt.Errorf("unsupported error format: %s", format)
	}
}
