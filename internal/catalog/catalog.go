// Package catalog checks the Glue Data Catalog for the query's source table
// before a batch submits any query.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	gluetypes "github.com/aws/aws-sdk-go-v2/service/glue/types"
)

// GlueAPI is the subset of the AWS Glue client used by the catalog package.
type GlueAPI interface {
	GetTable(ctx context.Context, params *glue.GetTableInput, optFns ...func(*glue.Options)) (*glue.GetTableOutput, error)
}

// ErrTableNotFound is returned when the catalog has no such table.
var ErrTableNotFound = errors.New("table not found in glue catalog")

// TableInfo describes a catalog table.
type TableInfo struct {
	Database string
	Name     string
	Location string
	Columns  []string
}

// HasColumn reports whether the table declares a top-level column name.
func (t TableInfo) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Required top-level columns for the subject query.
var requiredColumns = []string{"device_id", "record_date", "data"}

// Check fetches database.table and verifies the columns the query relies on.
func Check(ctx context.Context, client GlueAPI, database, table string) (TableInfo, error) {
	if database == "" || table == "" {
		return TableInfo{}, fmt.Errorf("catalog: database and table are required")
	}
	out, err := client.GetTable(ctx, &glue.GetTableInput{
		DatabaseName: aws.String(database),
		Name:         aws.String(table),
	})
	if err != nil {
		var nf *gluetypes.EntityNotFoundException
		if errors.As(err, &nf) {
			return TableInfo{}, fmt.Errorf("catalog: %s.%s: %w", database, table, ErrTableNotFound)
		}
		return TableInfo{}, fmt.Errorf("catalog: GetTable failed: %w", err)
	}
	if out.Table == nil {
		return TableInfo{}, fmt.Errorf("catalog: GetTable returned nil Table")
	}

	info := TableInfo{Database: database, Name: aws.ToString(out.Table.Name)}
	if sd := out.Table.StorageDescriptor; sd != nil {
		info.Location = aws.ToString(sd.Location)
		for _, c := range sd.Columns {
			info.Columns = append(info.Columns, aws.ToString(c.Name))
		}
	}
	for _, pk := range out.Table.PartitionKeys {
		info.Columns = append(info.Columns, aws.ToString(pk.Name))
	}

	for _, col := range requiredColumns {
		if !info.HasColumn(col) {
			return info, fmt.Errorf("catalog: %s.%s has no %q column", database, table, col)
		}
	}
	return info, nil
}
