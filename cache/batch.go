package cache

import (
	"fmt"

	"github.com/IvanBrykalov/featcache/feature"
)

// Batch is the result of one Fetch: for every registered field, one row per
// requested id, aligned with the request order.
// Rows may be shared with the cache table and must be treated as read-only.
type Batch struct {
	IDs    []feature.NodeID
	Fields []string

	// Hits and Misses count requested ids (not rows).
	Hits   int
	Misses int

	rows [][]feature.Row // [field][position]
	hit  []bool          // [position]
}

func newBatch(ids []feature.NodeID, fields []string) *Batch {
	b := &Batch{
		IDs:    ids,
		Fields: fields,
		rows:   make([][]feature.Row, len(fields)),
		hit:    make([]bool, len(ids)),
	}
	for f := range b.rows {
		b.rows[f] = make([]feature.Row, len(ids))
	}
	return b
}

// Len returns the number of requested ids.
func (b *Batch) Len() int { return len(b.IDs) }

// Rows returns the rows of field aligned with IDs.
func (b *Batch) Rows(field string) ([]feature.Row, error) {
	for i, f := range b.Fields {
		if f == field {
			return b.rows[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownField, field)
}

// Row returns the row of field at position i.
func (b *Batch) Row(field string, i int) (feature.Row, error) {
	rows, err := b.Rows(field)
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(rows) {
		return nil, fmt.Errorf("cache: batch position %d out of [0, %d)", i, len(rows))
	}
	return rows[i], nil
}

// Hit reports whether position i was served from the local table.
func (b *Batch) Hit(i int) bool { return i >= 0 && i < len(b.hit) && b.hit[i] }

// MissRate is the batch-local miss fraction (0 for an empty batch).
func (b *Batch) MissRate() float64 {
	if len(b.IDs) == 0 {
		return 0
	}
	return float64(b.Misses) / float64(len(b.IDs))
}
