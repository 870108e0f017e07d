// Package sqlrows adapts a database/sql result set to the adapter.RowStream
// contract for the connectors built on database/sql.
package sqlrows

import (
	"database/sql"
)

// Stream wraps *sql.Rows as a chunked row stream.
type Stream struct {
	rows     *sql.Rows
	colCount int
	done     bool
}

// New creates a stream over an open result set with the given column count.
func New(rows *sql.Rows, colCount int) *Stream {
	return &Stream{rows: rows, colCount: colCount}
}

// Next returns up to limit rows, nil when the set is exhausted.
func (s *Stream) Next(limit int) ([][]any, error) {
	if s.done {
		return nil, nil
	}

	var out [][]any
	for len(out) < limit {
		if !s.rows.Next() {
			s.done = true
			if err := s.rows.Err(); err != nil {
				return nil, err
			}
			break
		}

		values := make([]any, s.colCount)
		ptrs := make([]any, s.colCount)
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := s.rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		out = append(out, values)
	}
	return out, nil
}

// Close releases the underlying result set.
func (s *Stream) Close() error {
	return s.rows.Close()
}
