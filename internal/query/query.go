// Package query runs guarded SQL against a dataset and returns loosely typed
// rows that keep their column order.
package query

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/querydesk/querydesk/internal/dataset"
	"github.com/querydesk/querydesk/internal/guard"
)

type Field struct {
	Column string
	Value  any
}

// Row is one result row. It encodes as a JSON object whose keys follow the
// column order of the statement.
type Row []Field

// NewRow pairs columns with values. Repeated column names get a numeric
// suffix so every key in the encoded object is unique.
func NewRow(columns []string, values []any) Row {
	row := make(Row, 0, len(columns))
	seen := make(map[string]int, len(columns))
	for i, column := range columns {
		name := column
		if n := seen[column]; n > 0 {
			name = column + "_" + strconv.Itoa(n+1)
		}
		seen[column]++
		var value any
		if i < len(values) {
			value = NormalizeValue(values[i])
		}
		row = append(row, Field{Column: name, Value: value})
	}
	return row
}

func (r Row) Get(column string) (any, bool) {
	for _, field := range r {
		if field.Column == column {
			return field.Value, true
		}
	}
	return nil, false
}

func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(field.Column)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(field.Value)
		if err != nil {
			return nil, fmt.Errorf("encode column %q: %w", field.Column, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type Request struct {
	Dataset dataset.ID
	Query   guard.Query
}

// Executor runs a guarded query. Failures are returned as *ExecutionError.
type Executor interface {
	Execute(ctx context.Context, req Request) ([]Row, error)
}

type ExecutionError struct {
	Dataset dataset.ID
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute query on %s: %v", e.Dataset, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// NormalizeValue converts driver byte slices to strings.
func NormalizeValue(value any) any {
	switch typed := value.(type) {
	case []byte:
		return string(typed)
	default:
		return typed
	}
}

// ScanRows reads every row, stopping after maxRows when maxRows > 0. The
// returned slice is never nil.
func ScanRows(rows *sql.Rows, maxRows int) ([]Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}

	out := make([]Row, 0)
	for rows.Next() {
		if maxRows > 0 && len(out) >= maxRows {
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, NewRow(columns, values))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}
