package metrics

import (
	"context"
	"expvar"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounter_Add(t *testing.T) {
	before := RowsWritten.Value()
	RowsWritten.Add(context.Background(), 5)
	RowsWritten.Inc(context.Background())
	assert.Equal(t, before+6, RowsWritten.Value())

	v := expvar.Get("rows_written")
	if assert.NotNil(t, v) {
		assert.Equal(t, RowsWritten.Value(), v.(*expvar.Int).Value())
	}
}

func TestAll_UniqueNames(t *testing.T) {
	seen := map[string]bool{}
	for _, c := range All() {
		assert.False(t, seen[c.Name()], c.Name())
		seen[c.Name()] = true
	}
	assert.Len(t, seen, 9)
}
