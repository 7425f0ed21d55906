// Package subjects loads the study reference table and resolves subjects to
// their collection dates and device identifiers.
package subjects

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/dwsmith1983/evextract/pkg/types"
)

// ErrSubjectNotFound is returned when no reference row matches a subject.
var ErrSubjectNotFound = errors.New("subject not found in reference table")

// Column defaults match the study spreadsheet.
const (
	DefaultIDColumn     = "ID"
	DefaultBeginColumn  = "Begin_date_time"
	DefaultEndColumn    = "End_date_time"
	DefaultLeftColumn   = "Everion+_Left"
	DefaultRightColumn  = "Everion+_Right"
	DefaultPrefixLength = 4
)

// Row is one raw reference row.
type Row struct {
	ID    string
	Begin string
	End   string
	Left  string
	Right string
}

// Reference is the parsed reference table.
type Reference struct {
	Rows         []Row
	prefixLength int
	date1904     bool
}

// Format identifies the reference file encoding.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// FormatFor picks a format from a file name.
func FormatFor(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	case ".csv":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported reference file %q (want .xlsx or .csv)", name)
	}
}

// LoadFile reads the reference table from a local path.
func LoadFile(cfg types.ReferenceConfig) (*Reference, error) {
	format, err := FormatFor(cfg.Path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening reference: %w", err)
	}
	defer f.Close()
	return Parse(f, format, cfg)
}

// Parse reads a reference table in the given format.
func Parse(r io.Reader, format Format, cfg types.ReferenceConfig) (*Reference, error) {
	var (
		records  [][]string
		date1904 bool
		err      error
	)
	switch format {
	case FormatXLSX:
		records, date1904, err = readXLSX(r, cfg.Sheet)
	case FormatCSV:
		records, err = readCSV(r)
	default:
		return nil, fmt.Errorf("unsupported reference format %q", format)
	}
	if err != nil {
		return nil, err
	}
	ref, err := fromRecords(records, cfg)
	if err != nil {
		return nil, err
	}
	ref.date1904 = date1904
	return ref, nil
}

// readXLSX returns the sheet rows and whether the workbook uses the 1904
// date system.
func readXLSX(r io.Reader, sheet string) ([][]string, bool, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, false, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, false, fmt.Errorf("workbook has no sheets")
		}
		sheet = sheets[0]
	}
	// Raw values keep dates as serial numbers regardless of cell formatting.
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, false, fmt.Errorf("reading sheet %q: %w", sheet, err)
	}

	props, err := f.GetWorkbookProps()
	if err != nil {
		return nil, false, fmt.Errorf("reading workbook properties: %w", err)
	}
	return rows, props.Date1904 != nil && *props.Date1904, nil
}

func readCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading reference csv: %w", err)
	}
	return records, nil
}

func fromRecords(records [][]string, cfg types.ReferenceConfig) (*Reference, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("reference table is empty")
	}

	names := []string{
		orDefault(cfg.IDColumn, DefaultIDColumn),
		orDefault(cfg.BeginColumn, DefaultBeginColumn),
		orDefault(cfg.EndColumn, DefaultEndColumn),
		orDefault(cfg.LeftColumn, DefaultLeftColumn),
		orDefault(cfg.RightColumn, DefaultRightColumn),
	}
	header := records[0]
	idx := make([]int, len(names))
	for i, name := range names {
		idx[i] = -1
		for j, h := range header {
			if strings.TrimSpace(h) == name {
				idx[i] = j
				break
			}
		}
		if idx[i] < 0 {
			return nil, fmt.Errorf("reference column %q not found", name)
		}
	}

	cell := func(rec []string, i int) string {
		if idx[i] >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[idx[i]])
	}

	ref := &Reference{prefixLength: cfg.PrefixLength}
	if ref.prefixLength <= 0 {
		ref.prefixLength = DefaultPrefixLength
	}
	for _, rec := range records[1:] {
		row := Row{
			ID:    cell(rec, 0),
			Begin: cell(rec, 1),
			End:   cell(rec, 2),
			Left:  cell(rec, 3),
			Right: cell(rec, 4),
		}
		if row.ID == "" {
			continue
		}
		ref.Rows = append(ref.Rows, row)
	}
	return ref, nil
}

// Lookup collects every row whose ID prefix equals subject and normalizes
// its dates to calendar days.
func (r *Reference) Lookup(subject string) (types.SubjectRecord, error) {
	rec := types.SubjectRecord{ID: subject}
	found := false
	for _, row := range r.Rows {
		if prefix(row.ID, r.prefixLength) != subject {
			continue
		}
		found = true

		begin, err := normalizeDate(row.Begin, r.date1904)
		if err != nil {
			return types.SubjectRecord{}, fmt.Errorf("subject %s: begin date: %w", subject, err)
		}
		end, err := normalizeDate(row.End, r.date1904)
		if err != nil {
			return types.SubjectRecord{}, fmt.Errorf("subject %s: end date: %w", subject, err)
		}
		rec.BeginDates = append(rec.BeginDates, begin)
		rec.EndDates = append(rec.EndDates, end)
		rec.LeftDevices = append(rec.LeftDevices, row.Left)
		rec.RightDevices = append(rec.RightDevices, row.Right)
	}
	if !found {
		return types.SubjectRecord{}, fmt.Errorf("%s: %w", subject, ErrSubjectNotFound)
	}

	rec.LeftDevices = types.Unique(rec.LeftDevices)
	rec.RightDevices = types.Unique(rec.RightDevices)
	if len(rec.LeftDevices) == 0 && len(rec.RightDevices) == 0 {
		return types.SubjectRecord{}, fmt.Errorf("subject %s: no device ids", subject)
	}
	return rec, nil
}

// IDs returns the distinct subject prefixes in table order.
func (r *Reference) IDs() []string {
	ids := make([]string, 0, len(r.Rows))
	for _, row := range r.Rows {
		ids = append(ids, prefix(row.ID, r.prefixLength))
	}
	return types.Unique(ids)
}

// prefix returns the first n characters of id.
func prefix(id string, n int) string {
	runes := []rune(id)
	if len(runes) <= n {
		return id
	}
	return string(runes[:n])
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
