package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Synthetic column geometry for spreadsheet exports. Lab portals export
// the same four-column table to XLSX; giving each spreadsheet column a
// fixed X position lets the coordinate-based mapper run unchanged.
const (
	xlsxColumnWidth = 120.0
	xlsxRowHeight   = 14.0
)

// ExtractRowsXLSX reads every sheet of an XLSX workbook into positioned
// rows. Sheets are treated as consecutive pages.
func ExtractRowsXLSX(data []byte) ([]Row, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parser: opening xlsx: %w", err)
	}
	defer f.Close()

	var rows []Row
	for sheetIdx, sheet := range f.GetSheetList() {
		sheetRows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		page := sheetIdx + 1
		for rowIdx, cells := range sheetRows {
			row := Row{Page: page}
			y1 := 10000 - float64(rowIdx)*xlsxRowHeight
			row.Y0, row.Y1 = y1-xlsxRowHeight, y1
			for colIdx, text := range cells {
				text = strings.TrimSpace(text)
				if text == "" {
					continue
				}
				x0 := float64(colIdx) * xlsxColumnWidth
				row.Cells = append(row.Cells, Cell{
					Page: page,
					X0:   x0, X1: x0 + xlsxColumnWidth - 20,
					Y0: row.Y0, Y1: row.Y1,
					Text: text,
				})
			}
			if len(row.Cells) > 0 {
				rows = append(rows, row)
			}
		}
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("parser: no data found in xlsx")
	}
	return rows, nil
}
