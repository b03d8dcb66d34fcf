package pipeline

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"poextract/internal"
	"poextract/internal/util"
)

// Cell addresses a data cell of a Sheet, both indexes zero based.
type Cell struct {
	Row int
	Col int
}

// Sheet is what the sinks receive: labelled header, one data row per
// FlatRow and the internal-code cells that need a highlight.
type Sheet struct {
	Name    string
	Keys    []string
	Header  []string
	Rows    [][]any
	Flagged []Cell
}

type ExportOptions struct {
	// NumericCells writes amounts that parse as numbers as numeric cells.
	NumericCells bool
}

func BuildSheet(rows []internal.FlatRow, columns []string, locale Locale) Sheet {
	sheet := Sheet{
		Name:   locale.SheetName,
		Keys:   columns,
		Header: make([]string, len(columns)),
		Rows:   make([][]any, 0, len(rows)),
	}
	for i, key := range columns {
		sheet.Header[i] = locale.Label(key)
	}

	refCol := -1
	for i, key := range columns {
		if key == ColInternalCode {
			refCol = i
		}
	}

	for r, row := range rows {
		values := make([]any, len(columns))
		for i, key := range columns {
			values[i] = row.Values[key]
		}
		sheet.Rows = append(sheet.Rows, values)
		if row.ReferenceMissing && refCol >= 0 {
			sheet.Flagged = append(sheet.Flagged, Cell{Row: r, Col: refCol})
		}
	}
	return sheet
}

// SheetFor flattens, filters and labels a batch in one go.
func SheetFor(batch FlatBatch, locale Locale) Sheet {
	return BuildSheet(batch.Rows, ActiveColumns(batch.Rows, batch.MaxDeliveryCount), locale)
}

func WriteXLSX(sheet Sheet, outputPath string, opts ExportOptions) error {
	f := excelize.NewFile()
	defer f.Close()

	name := sheet.Name
	if name == "" {
		name = "Sheet1"
	}
	if err := f.SetSheetName(f.GetSheetName(0), name); err != nil {
		return err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"1E3A5F"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return err
	}
	flagStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Color: "9C0006"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"FFC7CE"}, Pattern: 1},
	})
	if err != nil {
		return err
	}

	widths := make([]int, len(sheet.Header))
	for i, h := range sheet.Header {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(name, cell, h); err != nil {
			return err
		}
		widths[i] = max(8, utf8.RuneCountInString(h))
	}
	if len(sheet.Header) > 0 {
		last, _ := excelize.CoordinatesToCellName(len(sheet.Header), 1)
		if err := f.SetCellStyle(name, "A1", last, headerStyle); err != nil {
			return err
		}
	}

	for r, values := range sheet.Rows {
		for c, v := range values {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			value := cellValue(sheet.Keys, c, v, opts)
			if err := f.SetCellValue(name, cell, value); err != nil {
				return err
			}
			if c < len(widths) {
				widths[c] = max(widths[c], utf8.RuneCountInString(fmt.Sprint(value)))
			}
		}
	}

	for _, flagged := range sheet.Flagged {
		cell, _ := excelize.CoordinatesToCellName(flagged.Col+1, flagged.Row+2)
		if err := f.SetCellStyle(name, cell, cell, flagStyle); err != nil {
			return err
		}
	}

	for i, w := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(name, col, col, float64(w)); err != nil {
			return err
		}
	}
	if err := f.SetPanes(name, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return f.SaveAs(outputPath)
}

// WriteCSV writes the sheet as UTF-8 CSV with a BOM so spreadsheet apps pick
// the right encoding. Highlights are dropped.
func WriteCSV(sheet Sheet, w io.Writer) error {
	if _, err := w.Write([]byte("\ufeff")); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(sheet.Header); err != nil {
		return err
	}
	for _, values := range sheet.Rows {
		record := make([]string, len(values))
		for i, v := range values {
			record[i] = textOrEmpty(v)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func WriteCSVFile(sheet Sheet, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	if err := WriteCSV(sheet, f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func cellValue(keys []string, col int, v any, opts ExportOptions) any {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok && opts.NumericCells && col < len(keys) && isNumericColumn(keys[col]) {
		if n, ok := util.ParseNumber(s); ok {
			return n
		}
	}
	return v
}

func textOrEmpty(v any) string {
	if s := util.Text(v); s != nil {
		return *s
	}
	return ""
}
