// Package table holds query results as rows of strings and writes them back as CSV.
package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Table is a header plus rows. Every row has len(Header) cells.
type Table struct {
	Header []string
	Rows   [][]string
}

// New returns an empty table with a copy of header.
func New(header []string) *Table {
	return &Table{Header: append([]string(nil), header...)}
}

// ParseCSV reads a CSV document whose first record is the header.
// An empty document yields an empty table with no columns.
func ParseCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return &Table{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}
	t := New(header)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv row %d: %w", len(t.Rows)+1, err)
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, nil
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// Column returns the index of the named column, or -1.
func (t *Table) Column(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// Filter returns the rows whose value in column is one of values, in source order.
func (t *Table) Filter(column string, values []string) (*Table, error) {
	idx := t.Column(column)
	if idx < 0 {
		if len(t.Header) == 0 {
			return &Table{}, nil
		}
		return nil, fmt.Errorf("column %q not found", column)
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	out := New(t.Header)
	for _, row := range t.Rows {
		if _, ok := set[row[idx]]; ok {
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}

// WriteCSV writes the header and rows. With index set, a leading unnamed
// column numbers rows from zero. A table without columns writes nothing.
func (t *Table) WriteCSV(w io.Writer, index bool) error {
	if len(t.Header) == 0 {
		return nil
	}
	cw := csv.NewWriter(w)
	header := t.Header
	if index {
		header = append([]string{""}, header...)
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for i, row := range t.Rows {
		if index {
			row = append([]string{strconv.Itoa(i)}, row...)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing csv row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
