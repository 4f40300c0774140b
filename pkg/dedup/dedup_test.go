package dedup

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/datadock/datadock/pkg/decode"
)

// writeParquetFile writes a two-column parquet file with the given rows.
func writeParquetFile(t *testing.T, path string, ids []int64, names []string) {
	t.Helper()

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "name", Type: arrow.BinaryTypes.String},
	}, nil)

	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	b.Field(0).(*array.Int64Builder).AppendValues(ids, nil)
	b.Field(1).(*array.StringBuilder).AppendValues(names, nil)

	rec := b.NewRecord()
	defer rec.Release()
	tbl := array.NewTableFromRecords(schema, []arrow.Record{rec})
	defer tbl.Release()

	var buf bytes.Buffer
	err := pqarrow.WriteTable(tbl, &buf, tbl.NumRows(),
		parquet.NewWriterProperties(), pqarrow.DefaultWriterProps())
	if err != nil {
		t.Fatalf("Failed to write parquet: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestParquet_RemovesDuplicates(t *testing.T) {
	p := filepath.Join(t.TempDir(), "dups.parquet")
	writeParquetFile(t, p,
		[]int64{1, 2, 1, 3, 2},
		[]string{"a", "b", "a", "c", "b"})

	stats, err := Parquet(p, true)
	if err != nil {
		t.Fatalf("Dedup failed: %v", err)
	}
	if stats.Original != 5 || stats.Deduped != 3 || stats.Removed != 2 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if stats.Status != "ok" {
		t.Errorf("Expected ok status, got %q", stats.Status)
	}

	// Rewritten file really has 3 distinct rows.
	tbl, err := decode.File("dups.parquet", p)
	if err != nil {
		t.Fatalf("Reading deduped file failed: %v", err)
	}
	if tbl.NumRows() != 3 {
		t.Errorf("Expected 3 rows after dedup, got %d", tbl.NumRows())
	}

	// Backup holds the original 5 rows.
	backup := p + BackupSuffix
	btbl, err := decode.File("dups.parquet", backup)
	if err != nil {
		t.Fatalf("Reading backup failed: %v", err)
	}
	if btbl.NumRows() != 5 {
		t.Errorf("Expected 5 rows in backup, got %d", btbl.NumRows())
	}
}

func TestParquet_NoDuplicatesLeavesFileAlone(t *testing.T) {
	p := filepath.Join(t.TempDir(), "clean.parquet")
	writeParquetFile(t, p, []int64{1, 2, 3}, []string{"a", "b", "c"})

	before, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}

	stats, err := Parquet(p, true)
	if err != nil {
		t.Fatalf("Dedup failed: %v", err)
	}
	if stats.Removed != 0 || stats.Status != "ok" {
		t.Errorf("Unexpected stats: %+v", stats)
	}

	after, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Error("Clean file should not be rewritten")
	}
	if _, err := os.Stat(p + BackupSuffix); !os.IsNotExist(err) {
		t.Error("No backup should be created when nothing changed")
	}
}

func TestParquet_BackupNeverOverwritten(t *testing.T) {
	p := filepath.Join(t.TempDir(), "f.parquet")
	writeParquetFile(t, p, []int64{1, 1}, []string{"a", "a"})

	if _, err := Parquet(p, true); err != nil {
		t.Fatalf("First dedup failed: %v", err)
	}
	firstBackup, err := os.ReadFile(p + BackupSuffix)
	if err != nil {
		t.Fatal(err)
	}

	// New duplicated content; a second pass must keep the original backup.
	writeParquetFile(t, p, []int64{2, 2}, []string{"b", "b"})
	if _, err := Parquet(p, true); err != nil {
		t.Fatalf("Second dedup failed: %v", err)
	}

	secondBackup, err := os.ReadFile(p + BackupSuffix)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(firstBackup, secondBackup) {
		t.Error("Existing backup was overwritten")
	}
}

func TestParquet_Idempotent(t *testing.T) {
	p := filepath.Join(t.TempDir(), "f.parquet")
	writeParquetFile(t, p, []int64{1, 1, 2}, []string{"a", "a", "b"})

	if _, err := Parquet(p, false); err != nil {
		t.Fatalf("First dedup failed: %v", err)
	}
	stats, err := Parquet(p, false)
	if err != nil {
		t.Fatalf("Second dedup failed: %v", err)
	}
	if stats.Removed != 0 {
		t.Errorf("Second pass should remove nothing, removed %d", stats.Removed)
	}
}

func TestParquet_MissingFile(t *testing.T) {
	stats, err := Parquet(filepath.Join(t.TempDir(), "missing.parquet"), false)
	if err == nil {
		t.Fatal("Expected error for missing file")
	}
	if stats.Status == "ok" {
		t.Errorf("Status should carry the failure, got %q", stats.Status)
	}
}
