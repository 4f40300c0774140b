package decode

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/datadock/datadock/pkg/table"
)

// decodeXLSX reads the first sheet of a spreadsheet. The first row is
// the header; trailing empty cells excelize omits are padded with nil.
func decodeXLSX(src source) (*table.Table, error) {
	var (
		xl  *excelize.File
		err error
	)
	if src.inMemory() {
		xl, err = excelize.OpenReader(bytes.NewReader(src.content))
	} else {
		xl, err = excelize.OpenFile(src.path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer xl.Close()

	sheetName := xl.GetSheetName(0)
	if sheetName == "" {
		sheets := xl.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("no sheets in xlsx file")
		}
		sheetName = sheets[0]
	}

	rows, err := xl.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheetName, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty sheet %q", sheetName)
	}

	tbl := table.New(rows[0]...)
	for _, raw := range rows[1:] {
		row := make([]interface{}, len(raw))
		for i, field := range raw {
			row[i] = inferCell(field)
		}
		tbl.AppendRow(row)
	}
	return tbl, nil
}
