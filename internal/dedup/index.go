package dedup

import (
	"context"
	"sync"
)

// Index is an in-memory KeySource. It is used where the store cannot be queried
// directly, and to remember keys written during a run.
type Index struct {
	mu   sync.RWMutex
	rows map[string][]map[string]string
}

// NewIndex creates an empty index
func NewIndex() *Index {
	return &Index{rows: make(map[string][]map[string]string)}
}

// Add records one row of column values for a table
func (x *Index) Add(table string, values map[string]string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	row := make(map[string]string, len(values))
	for k, v := range values {
		row[k] = v
	}
	x.rows[table] = append(x.rows[table], row)
}

// ExistingKeys implements KeySource
func (x *Index) ExistingKeys(_ context.Context, table string, columns []string) ([][]string, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	var out [][]string
	for _, row := range x.rows[table] {
		vals := make([]string, 0, len(columns))
		for _, col := range columns {
			v, ok := row[col]
			if !ok {
				break
			}
			vals = append(vals, v)
		}
		if len(vals) == len(columns) {
			out = append(out, vals)
		}
	}
	return out, nil
}
