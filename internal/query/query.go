// Package query builds the per-subject Athena SQL.
package query

import (
	"fmt"
	"strings"

	"github.com/dwsmith1983/evextract/pkg/types"
)

// DefaultColumns is the select list used when none is configured.
var DefaultColumns = []string{
	"device_id",
	"patient_id",
	"record_date",
	`signal."TimeStamp"`,
	`signal."MotionActivity"`,
	`signal."Movement"`,
	`signal."NumberOfSteps"`,
	`signal."ActivityClassification"[1] as ActivityClassification`,
	`signal."ActivityClassification"[2] as ActivityClassification_qlty`,
}

// Params are the inputs for one subject query.
type Params struct {
	Database string
	Table    string
	Columns  []string
	Devices  []string
	Dates    []string
}

// ForSubject derives query parameters from a reference record.
func ForSubject(cfg types.AthenaConfig, s types.SubjectRecord) Params {
	return Params{
		Database: cfg.Database,
		Table:    cfg.Table,
		Columns:  cfg.Columns,
		Devices:  s.Devices(),
		Dates:    s.Dates(),
	}
}

// Build renders the SELECT. Device and date lists are de-duplicated and an
// empty list of either is an error since Athena rejects `IN ()`.
func Build(p Params) (string, error) {
	if p.Table == "" {
		return "", fmt.Errorf("table is required")
	}
	devices := types.Unique(p.Devices)
	if len(devices) == 0 {
		return "", fmt.Errorf("no device ids")
	}
	dates := types.Unique(p.Dates)
	if len(dates) == 0 {
		return "", fmt.Errorf("no record dates")
	}
	cols := p.Columns
	if len(cols) == 0 {
		cols = DefaultColumns
	}

	var b strings.Builder
	b.WriteString("SELECT\n    ")
	b.WriteString(strings.Join(cols, ",\n    "))
	b.WriteString("\nFROM\n    ")
	if p.Database != "" {
		b.WriteString(Identifier(p.Database))
		b.WriteString(".")
	}
	b.WriteString(Identifier(p.Table))
	b.WriteString(",\n    UNNEST(data) as sys(signal)\n")
	b.WriteString("WHERE\n    device_id IN (")
	b.WriteString(List(devices))
	b.WriteString(")\n    AND record_date IN (")
	b.WriteString(List(dates))
	b.WriteString(")\n")
	b.WriteString(`ORDER BY signal."TimeStamp" ASC`)
	return b.String(), nil
}

// Literal quotes s as a SQL string literal.
func Literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Identifier quotes s as a SQL identifier.
func Identifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// List renders values as a comma-separated list of literals.
func List(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = Literal(v)
	}
	return strings.Join(quoted, ", ")
}
