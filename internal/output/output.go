// Package output persists per-subject tables to a local directory and,
// optionally, mirrors them to S3.
package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dwsmith1983/evextract/internal/objstore"
	"github.com/dwsmith1983/evextract/internal/table"
	"github.com/dwsmith1983/evextract/pkg/types"
)

// ManifestName is the batch report file written next to the subject files.
const ManifestName = "_manifest.json"

// Writer writes subject files.
type Writer struct {
	dir   string
	index bool

	store  *objstore.Store
	bucket string
	prefix string
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithS3Mirror uploads every written file to bucket under prefix.
func WithS3Mirror(store *objstore.Store, bucket, prefix string) WriterOption {
	return func(w *Writer) {
		w.store = store
		w.bucket = bucket
		w.prefix = prefix
	}
}

// WithIndexColumn writes a leading row-number column.
func WithIndexColumn(on bool) WriterOption {
	return func(w *Writer) { w.index = on }
}

// NewWriter creates dir if needed and returns a Writer for it.
func NewWriter(dir string, opts ...WriterOption) (*Writer, error) {
	if dir == "" {
		return nil, fmt.Errorf("output directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	w := &Writer{dir: dir}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

// FileName returns the file name for a subject side.
func FileName(subject string, side types.Side) string {
	return subject + "_" + string(side) + ".csv"
}

// Path returns the local path for a subject side.
func (w *Writer) Path(subject string, side types.Side) string {
	return filepath.Join(w.dir, FileName(subject, side))
}

// Exists reports whether both files for subject are already present.
func (w *Writer) Exists(subject string) bool {
	for _, side := range []types.Side{types.SideLeft, types.SideRight} {
		if _, err := os.Stat(w.Path(subject, side)); err != nil {
			return false
		}
	}
	return true
}

// Write stores tbl as the subject's side file and returns where it went.
func (w *Writer) Write(ctx context.Context, subject string, side types.Side, tbl *table.Table) ([]string, error) {
	var buf bytes.Buffer
	if err := tbl.WriteCSV(&buf, w.index); err != nil {
		return nil, fmt.Errorf("encoding %s %s: %w", subject, side, err)
	}
	return w.put(ctx, FileName(subject, side), "text/csv", buf.Bytes())
}

// WriteManifest stores the batch report.
func (w *Writer) WriteManifest(ctx context.Context, report types.BatchReport) ([]string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling manifest: %w", err)
	}
	return w.put(ctx, ManifestName, "application/json", data)
}

func (w *Writer) put(ctx context.Context, name, contentType string, data []byte) ([]string, error) {
	path := filepath.Join(w.dir, name)
	if err := writeFileAtomic(path, data); err != nil {
		return nil, err
	}
	locations := []string{path}

	if w.store != nil {
		key := objstore.Join(w.prefix, name)
		if err := w.store.Put(ctx, w.bucket, key, contentType, bytes.NewReader(data)); err != nil {
			return locations, fmt.Errorf("mirroring %s: %w", name, err)
		}
		locations = append(locations, objstore.URI(w.bucket, key))
	}
	return locations, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming %s: %w", path, err)
	}
	return nil
}
