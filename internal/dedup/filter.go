// Package dedup keeps re-ingestion idempotent. The GitHub API always returns the full
// current state of a resource, so every candidate is checked against the identity
// columns already persisted before it is written.
package dedup

import (
	"context"
	"fmt"
	"strings"
)

// KeySource returns the values already stored for a set of identity columns.
// Each row holds one value per requested column, in order. Rows with a NULL in any
// column should be omitted.
type KeySource interface {
	ExistingKeys(ctx context.Context, table string, columns []string) ([][]string, error)
}

// Column maps a store column to the matching key of a candidate record.
// Key returns false when the candidate does not carry the value.
type Column[T any] struct {
	Name string
	Key  func(T) (string, bool)
}

// Identity describes how candidates of type T are recognized in a table
type Identity[T any] struct {
	Table   string
	Columns []Column[T]
}

// Result partitions a candidate batch
type Result[T any] struct {
	Insert  []T
	Present int
	Skipped int
}

// separator cannot appear in the values we compare (ids, logins, node ids, label text)
const separator = "\x1f"

// Filter returns the candidates whose identity is not already in the store.
// Candidates missing any key are skipped rather than failing the batch, and a
// candidate repeated within the batch is only kept once.
func Filter[T any](ctx context.Context, source KeySource, id Identity[T], candidates []T) (Result[T], error) {
	var res Result[T]
	if len(id.Columns) == 0 {
		return res, fmt.Errorf("dedup: identity for %s has no columns", id.Table)
	}
	if len(candidates) == 0 {
		return res, nil
	}

	names := make([]string, len(id.Columns))
	for i, col := range id.Columns {
		names[i] = col.Name
	}

	rows, err := source.ExistingKeys(ctx, id.Table, names)
	if err != nil {
		return res, fmt.Errorf("dedup: read %s(%s): %w", id.Table, strings.Join(names, ", "), err)
	}

	existing := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if len(row) != len(names) {
			continue
		}
		existing[strings.Join(row, separator)] = struct{}{}
	}

	seen := make(map[string]struct{}, len(candidates))
	parts := make([]string, len(id.Columns))
	for _, c := range candidates {
		ok := true
		for i, col := range id.Columns {
			v, present := col.Key(c)
			if !present {
				ok = false
				break
			}
			parts[i] = v
		}
		if !ok {
			res.Skipped++
			continue
		}

		key := strings.Join(parts, separator)
		if _, dup := existing[key]; dup {
			res.Present++
			continue
		}
		if _, dup := seen[key]; dup {
			res.Present++
			continue
		}
		seen[key] = struct{}{}
		res.Insert = append(res.Insert, c)
	}

	return res, nil
}
