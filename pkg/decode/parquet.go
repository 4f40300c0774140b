package decode

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/file"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	_ "github.com/marcboeker/go-duckdb"

	"github.com/datadock/datadock/pkg/errors"
	"github.com/datadock/datadock/pkg/table"
)

// timestampMode controls how parquet timestamp columns are
// materialized into table cells.
type timestampMode int

const (
	// timestampNative materializes time.Time values and fails with
	// CodeTimestampRange when a value cannot be represented.
	timestampNative timestampMode = iota
	// timestampOpaque keeps the raw tick count, preserving values the
	// native representation cannot hold.
	timestampOpaque
)

// parquetStrategy is one candidate reader. Strategies are tried in
// order; the first success wins.
type parquetStrategy struct {
	name string
	read func(src source) (*table.Table, error)
}

var parquetStrategies = []parquetStrategy{
	{"arrow", func(src source) (*table.Table, error) { return readParquetArrow(src, timestampNative) }},
	{"arrow-opaque-timestamps", func(src source) (*table.Table, error) { return readParquetArrow(src, timestampOpaque) }},
	{"duckdb", readParquetDuckDB},
}

func decodeParquet(src source) (*table.Table, error) {
	var errs errors.MultiError
	for _, strat := range parquetStrategies {
		tbl, err := strat.read(src)
		if err == nil {
			return tbl, nil
		}
		errs.Add(fmt.Errorf("%s: %w", strat.name, err))
	}
	return nil, errors.Wrap(errs.Combined(), errors.CodeDecodeFailed, "all parquet readers failed")
}

// readParquetArrow reads a parquet file through the Arrow reader.
func readParquetArrow(src source, mode timestampMode) (*table.Table, error) {
	var rdr parquet.ReaderAtSeeker
	if src.inMemory() {
		rdr = bytes.NewReader(src.content)
	} else {
		f, err := os.Open(src.path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		rdr = f
	}

	pqReader, err := file.NewParquetReader(rdr)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet reader: %w", err)
	}
	defer pqReader.Close()

	arrowReader, err := pqarrow.NewFileReader(pqReader, pqarrow.ArrowReadProperties{
		Parallel: true,
	}, memory.DefaultAllocator)
	if err != nil {
		return nil, fmt.Errorf("failed to create arrow reader: %w", err)
	}

	at, err := arrowReader.ReadTable(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to read table: %w", err)
	}
	defer at.Release()

	return materialize(at, mode)
}

// materialize converts an Arrow table into a row-major table.
func materialize(at arrow.Table, mode timestampMode) (*table.Table, error) {
	schema := at.Schema()
	cols := make([]string, schema.NumFields())
	for i := 0; i < schema.NumFields(); i++ {
		cols[i] = schema.Field(i).Name
	}

	tbl := table.New(cols...)
	n := int(at.NumRows())
	rows := make([][]interface{}, n)
	for i := range rows {
		rows[i] = make([]interface{}, len(cols))
	}

	for c := 0; c < int(at.NumCols()); c++ {
		chunked := at.Column(c).Data()
		r := 0
		for _, chunk := range chunked.Chunks() {
			for i := 0; i < chunk.Len(); i++ {
				v, err := cellValue(chunk, i, mode)
				if err != nil {
					return nil, err
				}
				rows[r][c] = v
				r++
			}
		}
	}

	tbl.Rows = rows
	return tbl, nil
}

// cellValue extracts one cell from an Arrow array.
func cellValue(arr arrow.Array, i int, mode timestampMode) (interface{}, error) {
	if arr.IsNull(i) {
		return nil, nil
	}

	switch a := arr.(type) {
	case *array.Timestamp:
		dt := a.DataType().(*arrow.TimestampType)
		raw := a.Value(i)
		if mode == timestampOpaque {
			return int64(raw), nil
		}
		ts := raw.ToTime(dt.Unit)
		if y := ts.Year(); y < 1 || y > 9999 {
			return nil, errors.Newf(errors.CodeTimestampRange,
				"timestamp out of representable range: %d (%s)", int64(raw), dt.Unit)
		}
		return ts, nil
	case *array.Date32:
		return a.Value(i).ToTime(), nil
	case *array.Date64:
		return a.Value(i).ToTime(), nil
	case *array.Boolean:
		return a.Value(i), nil
	case *array.Int8:
		return int64(a.Value(i)), nil
	case *array.Int16:
		return int64(a.Value(i)), nil
	case *array.Int32:
		return int64(a.Value(i)), nil
	case *array.Int64:
		return a.Value(i), nil
	case *array.Uint8:
		return int64(a.Value(i)), nil
	case *array.Uint16:
		return int64(a.Value(i)), nil
	case *array.Uint32:
		return int64(a.Value(i)), nil
	case *array.Uint64:
		return int64(a.Value(i)), nil
	case *array.Float32:
		return float64(a.Value(i)), nil
	case *array.Float64:
		return a.Value(i), nil
	case *array.String:
		return a.Value(i), nil
	case *array.LargeString:
		return a.Value(i), nil
	case *array.Binary:
		return append([]byte(nil), a.Value(i)...), nil
	default:
		return arr.GetOneForMarshal(i), nil
	}
}

// readParquetDuckDB is the last-resort engine. Every column is read as
// VARCHAR so that values DuckDB can represent but Go cannot (extreme
// timestamps, exotic decimals) still come through as text.
func readParquetDuckDB(src source) (*table.Table, error) {
	path := src.path
	if src.inMemory() {
		tmp, err := os.CreateTemp("", "datadock-*.parquet")
		if err != nil {
			return nil, err
		}
		defer os.Remove(tmp.Name())
		if _, err := tmp.Write(src.content); err != nil {
			tmp.Close()
			return nil, err
		}
		tmp.Close()
		path = tmp.Name()
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open DuckDB: %w", err)
	}
	defer db.Close()

	cols, err := parquetColumns(db, path)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("no columns in parquet file")
	}

	selects := make([]string, len(cols))
	for i, c := range cols {
		selects[i] = fmt.Sprintf(`%s::VARCHAR`, quoteIdent(c))
	}
	query := fmt.Sprintf(`SELECT %s FROM read_parquet('%s')`,
		strings.Join(selects, ", "), escapePath(path))

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("duckdb read failed: %w", err)
	}
	defer rows.Close()

	tbl := table.New(cols...)
	for rows.Next() {
		vals := make([]sql.NullString, len(cols))
		scan := make([]interface{}, len(cols))
		for i := range vals {
			scan[i] = &vals[i]
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, err
		}
		row := make([]interface{}, len(cols))
		for i, v := range vals {
			if v.Valid {
				row[i] = v.String
			}
		}
		tbl.AppendRow(row)
	}
	return tbl, rows.Err()
}

// parquetColumns lists column names via DESCRIBE.
func parquetColumns(db *sql.DB, path string) ([]string, error) {
	rows, err := db.Query(fmt.Sprintf(
		`DESCRIBE SELECT * FROM read_parquet('%s')`, escapePath(path)))
	if err != nil {
		return nil, fmt.Errorf("describe failed: %w", err)
	}
	defer rows.Close()

	colTypes, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var cols []string
	for rows.Next() {
		scan := make([]interface{}, len(colTypes))
		var name sql.NullString
		scan[0] = &name
		for i := 1; i < len(scan); i++ {
			scan[i] = new(sql.NullString)
		}
		if err := rows.Scan(scan...); err != nil {
			continue
		}
		if name.Valid {
			cols = append(cols, name.String)
		}
	}
	return cols, rows.Err()
}

func escapePath(p string) string {
	return strings.ReplaceAll(p, "'", "''")
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
