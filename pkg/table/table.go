// Package table provides the in-memory tabular representation produced
// by the format decoders. Cells are untyped; nil is the null marker.
package table

import (
	"time"
)

// Table is a row-major table with named columns.
type Table struct {
	Columns []string
	Rows    [][]interface{}
}

// New creates an empty table with the given column names.
func New(columns ...string) *Table {
	return &Table{Columns: columns}
}

// AppendRow appends one row. Short rows are padded with nil so every
// row has exactly len(Columns) cells.
func (t *Table) AppendRow(row []interface{}) {
	for len(row) < len(t.Columns) {
		row = append(row, nil)
	}
	t.Rows = append(t.Rows, row[:len(t.Columns)])
}

// NumRows returns the number of rows.
func (t *Table) NumRows() int {
	return len(t.Rows)
}

// NumCols returns the number of columns.
func (t *Table) NumCols() int {
	return len(t.Columns)
}

// IsEmpty reports whether the table has no rows.
func (t *Table) IsEmpty() bool {
	return t == nil || len(t.Rows) == 0
}

// ColumnIndex returns the index of a named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Column returns all cells of a named column, or nil if absent.
func (t *Table) Column(name string) []interface{} {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return nil
	}
	out := make([]interface{}, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out
}

// datetimeLayouts are the formats tried when re-parsing cells that look
// like timestamps. Ordered most to least specific.
var datetimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// CoerceDatetimes re-parses every column that carries datetime values.
// Cells that cannot be parsed become nil instead of failing the load.
// A column is treated as datetime when its first non-nil cell is a
// time.Time or a string that parses with one of the known layouts.
func (t *Table) CoerceDatetimes() {
	for col := range t.Columns {
		if !t.looksLikeDatetime(col) {
			continue
		}
		for _, row := range t.Rows {
			row[col] = coerceCell(row[col])
		}
	}
}

func (t *Table) looksLikeDatetime(col int) bool {
	for _, row := range t.Rows {
		v := row[col]
		if v == nil {
			continue
		}
		switch val := v.(type) {
		case time.Time:
			return true
		case string:
			_, ok := parseDatetime(val)
			return ok
		default:
			return false
		}
	}
	return false
}

func coerceCell(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		if !representable(val) {
			return nil
		}
		return val
	case string:
		if ts, ok := parseDatetime(val); ok {
			return ts
		}
		return nil
	default:
		return nil
	}
}

func parseDatetime(s string) (time.Time, bool) {
	for _, layout := range datetimeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// representable bounds timestamps to the range downstream consumers
// can render. Values outside it are nulled rather than displayed as
// garbage years.
func representable(ts time.Time) bool {
	y := ts.Year()
	return y >= 1 && y <= 9999
}
