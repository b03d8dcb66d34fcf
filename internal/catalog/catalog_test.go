package catalog

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"poextract/internal"
	"poextract/internal/storage"
)

func TestParseTextDelimiters(t *testing.T) {
	raw := "\ufeffcodigo;descricao\n" +
		"P-100;Parafuso M6\r\n" +
		"\n" +
		"TUB2040,Tubo PVC 20 mm\n" +
		"LUV-01\tLuvas de nitrilo\n" +
		`"M6";"Porca M6"` + "\n" +
		"SEM-DESC;\n" +
		";sem codigo\n" +
		"sozinho\n"

	entries, err := ParseText(raw)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, "P-100", entries[0].InternalCode)
	assert.Equal(t, "Parafuso M6", entries[0].CatalogDescription)
	assert.Equal(t, "TUB2040", entries[1].InternalCode)
	assert.Equal(t, "Luvas de nitrilo", entries[2].CatalogDescription)
	assert.Equal(t, "M6", entries[3].InternalCode)
	assert.Equal(t, "Porca M6", entries[3].CatalogDescription)
}

func TestParseTextHeaderOnly(t *testing.T) {
	entries, err := ParseText("code;description\n")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestParseTextRejectsBinary(t *testing.T) {
	_, err := ParseText("code;desc\n\xff\xfe\x00\x01")
	var pe *ParseError
	require.ErrorAs(t, err, &pe)

	_, err = ParseText("code;desc\nA\x00;B")
	require.ErrorAs(t, err, &pe)
}

func TestParseGrid(t *testing.T) {
	entries := ParseGrid([][]string{
		{"Code", "Description", "Extra"},
		{" A1 ", " Alpha "},
		{"B2"},
		{"", "no code"},
		{"C3", "Gamma", "ignored"},
	})
	require.Len(t, entries, 2)
	assert.Equal(t, "A1", entries[0].InternalCode)
	assert.Equal(t, "Alpha", entries[0].CatalogDescription)
	assert.Equal(t, "C3", entries[1].InternalCode)
}

func workbookBytes(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestLoadBytesXLSX(t *testing.T) {
	content := workbookBytes(t, [][]any{
		{"Código", "Descrição"},
		{"P-100", "Parafuso M6"},
		{"TUB2040", "Tubo PVC 20 mm"},
	})

	entries, err := LoadBytes("catalogo.XLSX", content)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "TUB2040", entries[1].InternalCode)
}

func TestLoadBytesHTMLTable(t *testing.T) {
	html := `<html><body><table>
<tr><th>Code</th><th>Description</th></tr>
<tr><td>P-100</td><td> Parafuso M6 </td></tr>
<tr><td></td><td>orphan</td></tr>
</table></body></html>`

	entries, err := LoadBytes("export.xls", []byte(html))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Parafuso M6", entries[0].CatalogDescription)

	grid, err := ReadHTML(strings.NewReader(html))
	require.NoError(t, err)
	assert.Len(t, grid, 3)
}

func TestLoadBytesErrors(t *testing.T) {
	var pe *ParseError

	_, err := LoadBytes("legacy.xls", []byte{0xd0, 0xcf, 0x11, 0xe0})
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "legacy.xls", pe.Source)

	_, err = LoadBytes("catalog.json", []byte("{}"))
	require.ErrorAs(t, err, &pe)

	_, err = LoadBytes("broken.xlsx", []byte("not a zip"))
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "broken.xlsx", pe.Source)

	_, err = LoadBytes("page.html", []byte("<html><body>no table</body></html>"))
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, err.Error(), "no table")
}

func TestReadXLSXFirstSheet(t *testing.T) {
	grid, err := ReadXLSX(bytes.NewReader(workbookBytes(t, [][]any{{"a", "b"}, {"1", "2"}})))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}, {"1", "2"}}, grid)
}

func TestServiceImportReplacesAtomically(t *testing.T) {
	tmp := t.TempDir()
	db, err := storage.Open(filepath.Join(tmp, "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	svc := NewService(db)

	good := filepath.Join(tmp, "catalogo.csv")
	require.NoError(t, os.WriteFile(good, []byte("code;desc\nP-100;Parafuso M6\nM6;Porca M6\n"), 0o644))
	count, err := svc.Import(good)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, "catalogo.csv", svc.SourceName())
	loadedAt, err := db.GetMetadata("catalog.loaded_at")
	require.NoError(t, err)
	require.NotNil(t, loadedAt)

	bad := filepath.Join(tmp, "broken.csv")
	require.NoError(t, os.WriteFile(bad, []byte("code;desc\n\x00\x01\x02"), 0o644))
	_, err = svc.Import(bad)
	var pe *ParseError
	require.True(t, errors.As(err, &pe))

	entries, err := svc.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "P-100", entries[0].InternalCode)
	assert.Equal(t, "catalogo.csv", svc.SourceName())

	require.NoError(t, svc.Clear())
	entries, err = svc.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, "", svc.SourceName())
}

func TestBuildIndex(t *testing.T) {
	idx := BuildIndex([]internal.CatalogEntry{
		{InternalCode: "p-100", CatalogDescription: "Parafuso M6 inox"},
		{InternalCode: "P 100", CatalogDescription: "duplicate"},
	})
	assert.Equal(t, 2, idx.Len())
	assert.Equal(t, "p 100", idx.NormalizedCodes[1])
	assert.Equal(t, 0, idx.ByCode["p 100"])
	assert.Contains(t, idx.DescriptionWords[0], "parafuso")

	var nilIdx *Index
	assert.Equal(t, 0, nilIdx.Len())
}
