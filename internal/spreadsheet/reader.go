package spreadsheet

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
)

var (
	// ErrUnsupportedFormat is returned for files that are not xlsx, xlsm or xls
	ErrUnsupportedFormat = errors.New("unsupported spreadsheet format")

	// ErrUnreadable is returned when a file has a supported extension but cannot be opened
	ErrUnreadable = errors.New("unreadable spreadsheet")
)

// xlsRowLimit caps how many physical rows, header included, are read from an xls sheet
const xlsRowLimit = 65534

// Column positions of the two supported layouts
const (
	minimalCodeCol  = 0
	minimalNameCol  = 1
	extendedCodeCol = 13
	extendedNameCol = 14
)

// ParsedRow is one data row of an uploaded spreadsheet
type ParsedRow struct {
	RowIndex    int
	ProductCode string
	ProductName string
	Missing     bool
}

func extension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// Supported reports whether the file name has an accepted spreadsheet extension
func Supported(filename string) bool {
	switch extension(filename) {
	case "xlsx", "xlsm", "xls":
		return true
	}
	return false
}

// Validate checks the extension and that the first sheet can be read
func Validate(filename string, data []byte) error {
	_, err := readSheet(filename, data)
	return err
}

// ReadRows parses the first sheet. The header row decides the layout: exactly
// two cells means code and name in the first two columns, anything else
// means the extended layout with code and name in columns N and O.
func ReadRows(filename string, data []byte) ([]ParsedRow, error) {
	cells, err := readSheet(filename, data)
	if err != nil {
		return nil, err
	}
	if len(cells) == 0 {
		return nil, fmt.Errorf("%w: no header row", ErrUnreadable)
	}

	codeCol, nameCol := extendedCodeCol, extendedNameCol
	if countNonEmpty(cells[0]) == 2 {
		codeCol, nameCol = minimalCodeCol, minimalNameCol
	}

	rows := make([]ParsedRow, 0, len(cells)-1)
	for i := 1; i < len(cells); i++ {
		if countNonEmpty(cells[i]) == 0 {
			continue
		}

		code := strings.TrimSpace(cell(cells[i], codeCol))
		name := strings.TrimSpace(cell(cells[i], nameCol))

		rows = append(rows, ParsedRow{
			RowIndex:    i,
			ProductCode: code,
			ProductName: name,
			Missing:     code == "" || name == "",
		})
	}

	log.Debug().
		Str("filename", filename).
		Int("codeCol", codeCol).
		Int("nameCol", nameCol).
		Int("rows", len(rows)).
		Msg("Parsed spreadsheet")

	return rows, nil
}

func readSheet(filename string, data []byte) ([][]string, error) {
	switch extension(filename) {
	case "xlsx", "xlsm":
		return readXLSX(data)
	case "xls":
		return readXLS(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(filename))
	}
}

func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrUnreadable)
	}

	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return rows, nil
}

// readXLS recovers from panics raised by the xls decoder on malformed files
func readXLS(data []byte) (cells [][]string, err error) {
	defer func() {
		if r := recover(); r != nil {
			cells, err = nil, fmt.Errorf("%w: %v", ErrUnreadable, r)
		}
	}()

	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrUnreadable)
	}

	last := int(sheet.MaxRow) + 1
	if last > xlsRowLimit {
		last = xlsRowLimit
	}

	cells = make([][]string, 0, last)
	for i := 0; i < last; i++ {
		row := sheet.Row(i)
		if row == nil {
			cells = append(cells, nil)
			continue
		}

		values := make([]string, row.LastCol())
		for j := row.FirstCol(); j < row.LastCol(); j++ {
			values[j] = row.Col(j)
		}
		cells = append(cells, values)
	}

	return cells, nil
}

func cell(row []string, col int) string {
	if col < len(row) {
		return row[col]
	}
	return ""
}

func countNonEmpty(row []string) int {
	n := 0
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			n++
		}
	}
	return n
}
