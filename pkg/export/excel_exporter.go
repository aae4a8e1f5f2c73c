package export

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// ExcelExporter renders one or more datasets into an xlsx workbook, one
// sheet per dataset. Used for the statistics workbook download.
type ExcelExporter struct{}

// NewExcelExporter constructs an Excel exporter.
func NewExcelExporter() *ExcelExporter {
	return &ExcelExporter{}
}

// Sheet names a dataset within the workbook.
type Sheet struct {
	Name string
	Data Dataset
}

// Render produces xlsx bytes for the given sheets.
func (e *ExcelExporter) Render(sheets []Sheet) ([]byte, error) {
	if len(sheets) == 0 {
		return nil, fmt.Errorf("excel requires at least one sheet")
	}
	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck

	for i, sheet := range sheets {
		if len(sheet.Data.Headers) == 0 {
			return nil, fmt.Errorf("sheet %q requires at least one header", sheet.Name)
		}
		name := sheet.Name
		if name == "" {
			name = fmt.Sprintf("Sheet%d", i+1)
		}
		if i == 0 {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				return nil, fmt.Errorf("rename sheet: %w", err)
			}
		} else {
			if _, err := f.NewSheet(name); err != nil {
				return nil, fmt.Errorf("add sheet: %w", err)
			}
		}
		if err := writeSheet(f, name, sheet.Data); err != nil {
			return nil, err
		}
	}

	buf := &bytes.Buffer{}
	if err := f.Write(buf); err != nil {
		return nil, fmt.Errorf("render excel: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, name string, data Dataset) error {
	for col, header := range data.Headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("header cell: %w", err)
		}
		if err := f.SetCellValue(name, cell, header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	for rowIdx, row := range data.Rows {
		for col, header := range data.Headers {
			cell, err := excelize.CoordinatesToCellName(col+1, rowIdx+2)
			if err != nil {
				return fmt.Errorf("row cell: %w", err)
			}
			if err := f.SetCellValue(name, cell, row[header]); err != nil {
				return fmt.Errorf("write row: %w", err)
			}
		}
	}
	return nil
}
