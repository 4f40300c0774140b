package table

import (
	"testing"
	"time"
)

func TestAppendRow_PadsShortRows(t *testing.T) {
	tbl := New("a", "b", "c")
	tbl.AppendRow([]interface{}{1})
	tbl.AppendRow([]interface{}{1, 2, 3, 4})

	if tbl.NumRows() != 2 {
		t.Fatalf("Expected 2 rows, got %d", tbl.NumRows())
	}
	if got := len(tbl.Rows[0]); got != 3 {
		t.Errorf("Expected padded row of 3 cells, got %d", got)
	}
	if tbl.Rows[0][1] != nil || tbl.Rows[0][2] != nil {
		t.Error("Expected nil padding in short row")
	}
	if got := len(tbl.Rows[1]); got != 3 {
		t.Errorf("Expected long row truncated to 3 cells, got %d", got)
	}
}

func TestColumnIndex(t *testing.T) {
	tbl := New("id", "value")
	if idx := tbl.ColumnIndex("value"); idx != 1 {
		t.Errorf("Expected index 1, got %d", idx)
	}
	if idx := tbl.ColumnIndex("missing"); idx != -1 {
		t.Errorf("Expected -1 for missing column, got %d", idx)
	}
}

func TestColumn(t *testing.T) {
	tbl := New("id", "name")
	tbl.AppendRow([]interface{}{int64(1), "alice"})
	tbl.AppendRow([]interface{}{int64(2), "bob"})

	names := tbl.Column("name")
	if len(names) != 2 || names[0] != "alice" || names[1] != "bob" {
		t.Errorf("Unexpected column values: %v", names)
	}
	if tbl.Column("missing") != nil {
		t.Error("Expected nil for missing column")
	}
}

func TestCoerceDatetimes_ParsesStrings(t *testing.T) {
	tbl := New("date", "count")
	tbl.AppendRow([]interface{}{"2024-03-01 10:30:00", int64(5)})
	tbl.AppendRow([]interface{}{"2024-03-02", int64(7)})

	tbl.CoerceDatetimes()

	ts, ok := tbl.Rows[0][0].(time.Time)
	if !ok {
		t.Fatalf("Expected time.Time, got %T", tbl.Rows[0][0])
	}
	if ts.Year() != 2024 || ts.Month() != 3 || ts.Day() != 1 {
		t.Errorf("Unexpected parsed time: %v", ts)
	}
	if _, ok := tbl.Rows[1][0].(time.Time); !ok {
		t.Errorf("Expected date-only string parsed, got %T", tbl.Rows[1][0])
	}
	// Non-datetime column stays untouched.
	if tbl.Rows[0][1] != int64(5) {
		t.Errorf("Count column changed: %v", tbl.Rows[0][1])
	}
}

func TestCoerceDatetimes_UnparseableBecomesNil(t *testing.T) {
	tbl := New("date")
	tbl.AppendRow([]interface{}{"2024-03-01"})
	tbl.AppendRow([]interface{}{"not a date"})
	tbl.AppendRow([]interface{}{nil})

	tbl.CoerceDatetimes()

	if tbl.Rows[1][0] != nil {
		t.Errorf("Expected unparseable cell nulled, got %v", tbl.Rows[1][0])
	}
	if tbl.Rows[2][0] != nil {
		t.Error("Expected nil cell to stay nil")
	}
}

func TestCoerceDatetimes_OutOfRangeNulled(t *testing.T) {
	tbl := New("ts")
	far := time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC).AddDate(1, 0, 0)
	tbl.AppendRow([]interface{}{time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)})
	tbl.AppendRow([]interface{}{far})

	tbl.CoerceDatetimes()

	if _, ok := tbl.Rows[0][0].(time.Time); !ok {
		t.Errorf("In-range timestamp should survive, got %T", tbl.Rows[0][0])
	}
	if tbl.Rows[1][0] != nil {
		t.Errorf("Expected out-of-range timestamp nulled, got %v", tbl.Rows[1][0])
	}
}

func TestCoerceDatetimes_NonDatetimeColumnUntouched(t *testing.T) {
	tbl := New("name")
	tbl.AppendRow([]interface{}{"alice"})
	tbl.AppendRow([]interface{}{"2024-01-01"})

	tbl.CoerceDatetimes()

	// First non-nil cell decides; "alice" is not a datetime.
	if tbl.Rows[1][0] != "2024-01-01" {
		t.Errorf("Column wrongly coerced: %v", tbl.Rows[1][0])
	}
}
