package decode

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/datadock/datadock/pkg/table"
)

// decodeDelimited reads comma- or tab-separated text. The first row is
// the header. Cells are inferred as int64, float64, bool, or string;
// empty cells become nil.
func decodeDelimited(src source, delimiter rune) (*table.Table, error) {
	var r io.Reader
	if src.inMemory() {
		r = bytes.NewReader(src.content)
	} else {
		f, err := os.Open(src.path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	reader := csv.NewReader(r)
	reader.Comma = delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty file")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	tbl := table.New(header...)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", tbl.NumRows()+2, err)
		}
		row := make([]interface{}, len(record))
		for i, field := range record {
			row[i] = inferCell(field)
		}
		tbl.AppendRow(row)
	}
	return tbl, nil
}

func inferCell(field string) interface{} {
	if field == "" {
		return nil
	}
	if v, err := strconv.ParseInt(field, 10, 64); err == nil {
		return v
	}
	if v, err := strconv.ParseFloat(field, 64); err == nil {
		return v
	}
	if v, err := strconv.ParseBool(field); err == nil {
		return v
	}
	return field
}
