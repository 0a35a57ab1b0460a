package spreadsheet

import (
	"fmt"
	"keywords/internal/model"
	"strings"

	"github.com/xuri/excelize/v2"
)

const resultSheet = "Keyword Results"

// Header is the fixed first row of every result spreadsheet
var Header = []string{
	"Product",
	"Product Code",
	"Category (before)",
	"Category (after)",
	"Primary Keyword",
	"Candidate Keyword 1",
	"Candidate Keyword 2",
	"Candidate Keyword 3",
	"Candidate Keyword 4",
	"Candidate Keyword 5",
}

// CategoryAfter drops everything from the first "/" on
func CategoryAfter(category string) string {
	if i := strings.IndexByte(category, '/'); i >= 0 {
		return category[:i]
	}
	return category
}

// ResultLine is the rendered cell values of one row
func ResultLine(row model.Row) []interface{} {
	line := []interface{}{
		row.ProductName,
		row.ProductCode,
		row.Category,
		CategoryAfter(row.Category),
		row.ChosenKeyword,
	}
	for i := 0; i < model.MaxCandidates && i < len(row.Candidates); i++ {
		line = append(line, row.Candidates[i])
	}
	return line
}

// Render builds the result workbook in row order. afterRow is called once
// per rendered row; an error from it aborts the render.
func Render(rows []model.Row, afterRow func(i int) error) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), resultSheet); err != nil {
		return nil, fmt.Errorf("name sheet: %w", err)
	}

	header := make([]interface{}, len(Header))
	for i, h := range Header {
		header[i] = h
	}
	if err := f.SetSheetRow(resultSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	for i, row := range rows {
		cellName, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}

		line := ResultLine(row)
		if err := f.SetSheetRow(resultSheet, cellName, &line); err != nil {
			return nil, fmt.Errorf("write row %d: %w", row.RowIndex, err)
		}

		if afterRow != nil {
			if err := afterRow(i); err != nil {
				return nil, err
			}
		}
	}

	_ = f.SetColWidth(resultSheet, "A", "A", 48)
	_ = f.SetColWidth(resultSheet, "B", "B", 18)
	_ = f.SetColWidth(resultSheet, "C", "D", 22)
	_ = f.SetColWidth(resultSheet, "E", "J", 18)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	return buf.Bytes(), nil
}
