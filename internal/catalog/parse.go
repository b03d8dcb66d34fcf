package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/xuri/excelize/v2"

	"poextract/internal"
)

var reDelimiters = regexp.MustCompile(`[;,\t]`)

// ParseError reports a catalog source that cannot be read as a table at all.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("catalog parse: %v", e.Err)
	}
	return fmt.Sprintf("catalog parse %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseText reads a two-column delimited text whose first line is a header.
// Columns may be separated by ';', ',' or a tab. Rows with an empty code or
// description are skipped.
func ParseText(raw string) ([]internal.CatalogEntry, error) {
	if !utf8.ValidString(raw) {
		return nil, &ParseError{Err: errors.New("text is not valid UTF-8")}
	}
	if strings.ContainsRune(raw, 0) {
		return nil, &ParseError{Err: errors.New("binary content")}
	}
	raw = strings.TrimPrefix(raw, "\ufeff")

	lines := make([]string, 0)
	for _, line := range strings.Split(raw, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}

	out := make([]internal.CatalogEntry, 0, len(lines))
	for i := 1; i < len(lines); i++ {
		parts := reDelimiters.Split(lines[i], -1)
		if len(parts) < 2 {
			continue
		}
		code := cleanCell(parts[0])
		description := cleanCell(parts[1])
		if code == "" || description == "" {
			continue
		}
		out = append(out, internal.CatalogEntry{InternalCode: code, CatalogDescription: description})
	}
	return out, nil
}

// ParseGrid applies the same rules as ParseText to pre-split cells, such as
// the rows of a spreadsheet. Only the header row is skipped.
func ParseGrid(rows [][]string) []internal.CatalogEntry {
	out := make([]internal.CatalogEntry, 0, len(rows))
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if len(row) < 2 {
			continue
		}
		code := strings.TrimSpace(row[0])
		description := strings.TrimSpace(row[1])
		if code == "" || description == "" {
			continue
		}
		out = append(out, internal.CatalogEntry{InternalCode: code, CatalogDescription: description})
	}
	return out
}

// ReadXLSX returns the cell grid of the first sheet of a workbook.
func ReadXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &ParseError{Source: "xlsx", Err: err}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &ParseError{Source: "xlsx", Err: errors.New("workbook has no sheets")}
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, &ParseError{Source: "xlsx", Err: err}
	}
	return rows, nil
}

// ReadHTML returns the cell grid of the first table of an HTML document.
// Several ERPs save "xls" exports that are really HTML tables.
func ReadHTML(r io.Reader) ([][]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, &ParseError{Source: "html", Err: err}
	}

	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, &ParseError{Source: "html", Err: errors.New("no table found")}
	}

	rows := [][]string{}
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := []string{}
		tr.Find("th,td").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, strings.TrimSpace(cell.Text()))
		})
		rows = append(rows, cells)
	})
	return rows, nil
}

func looksLikeHTML(content []byte) bool {
	head := bytes.ToLower(bytes.TrimSpace(content))
	if len(head) > 512 {
		head = head[:512]
	}
	return bytes.Contains(head, []byte("<html")) || bytes.Contains(head, []byte("<table")) || bytes.HasPrefix(head, []byte("<!doctype"))
}

func cleanCell(cell string) string {
	s := strings.TrimSpace(cell)
	s = strings.TrimPrefix(s, `"`)
	s = strings.TrimSuffix(s, `"`)
	return strings.TrimSpace(s)
}
