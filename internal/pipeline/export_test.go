package pipeline

import (
	"bytes"
	"encoding/csv"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"poextract/internal"
)

func exportFixture() FlatBatch {
	extractions := []internal.Extraction{
		{Filename: "NE-001.pdf", Header: internal.Header{Client: "Câmara Municipal", OrderNumber: "NE 12/2026"}, Lines: []internal.LineItem{
			{SupplierRef: "P-100", Description: "Parafuso M6", TotalQuantity: "3.000", UnitPrice: "0,12 €",
				Deliveries: []internal.Delivery{{Date: "2026-01-29", Quantity: float64(2000)}, {Date: "2026-02-03", Quantity: "1.000"}}},
			{Description: "Artigo desconhecido", TotalQuantity: float64(5)},
		}},
	}
	return Flatten(extractions, testCatalog)
}

func TestBuildSheetFlagsMissingReferences(t *testing.T) {
	batch := exportFixture()
	sheet := SheetFor(batch, LocaleFor("en"))

	assert.Equal(t, "Orders", sheet.Name)
	assert.Equal(t, []string{"File", "Client", "Order No.", "Internal Ref.", "Client Ref.", "Description", "Total Qty", "Unit Price excl. VAT",
		"Delivery 1 Date", "Delivery 1 Quantity", "Delivery 2 Date", "Delivery 2 Quantity"}, sheet.Header)
	require.Len(t, sheet.Rows, 2)
	assert.Equal(t, "P-100", sheet.Rows[0][3])
	assert.Nil(t, sheet.Rows[1][3])
	assert.Equal(t, []Cell{{Row: 1, Col: 3}}, sheet.Flagged)
}

func TestBuildSheetWithoutInternalCodeColumn(t *testing.T) {
	batch := Flatten([]internal.Extraction{{Lines: []internal.LineItem{{Description: "x"}}}}, nil)
	sheet := SheetFor(batch, LocaleFor("en"))
	assert.Equal(t, []string{"Description"}, sheet.Header)
	assert.Empty(t, sheet.Flagged)
}

func TestWriteXLSX(t *testing.T) {
	sheet := SheetFor(exportFixture(), LocaleFor("pt"))
	out := filepath.Join(t.TempDir(), "nested", "encomendas.xlsx")
	require.NoError(t, WriteXLSX(sheet, out, ExportOptions{}))

	f, err := excelize.OpenFile(out)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Encomendas"}, f.GetSheetList())
	rows, err := f.GetRows("Encomendas")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Ficheiro", rows[0][0])
	assert.Equal(t, "Ref. Interna", rows[0][3])
	assert.Equal(t, "Entrega 2 Qtd", rows[0][len(rows[0])-1])
	assert.Equal(t, "P-100", rows[1][3])
	assert.Equal(t, "3.000", rows[1][6])

	flagStyle, err := f.GetCellStyle("Encomendas", "D3")
	require.NoError(t, err)
	okStyle, err := f.GetCellStyle("Encomendas", "D2")
	require.NoError(t, err)
	assert.NotEqual(t, okStyle, flagStyle)

	width, err := f.GetColWidth("Encomendas", "A")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, width, 10.0)
}

func TestWriteXLSXNumericCells(t *testing.T) {
	sheet := SheetFor(exportFixture(), LocaleFor("en"))
	out := filepath.Join(t.TempDir(), "orders.xlsx")
	require.NoError(t, WriteXLSX(sheet, out, ExportOptions{NumericCells: true}))

	f, err := excelize.OpenFile(out)
	require.NoError(t, err)
	defer f.Close()

	typ, err := f.GetCellType("Orders", "G2")
	require.NoError(t, err)
	assert.NotEqual(t, excelize.CellTypeSharedString, typ)
	assert.NotEqual(t, excelize.CellTypeInlineString, typ)

	v, err := f.GetCellValue("Orders", "G2")
	require.NoError(t, err)
	assert.Equal(t, "3000", v)

	v, err = f.GetCellValue("Orders", "B2")
	require.NoError(t, err)
	assert.Equal(t, "Câmara Municipal", v)
}

func TestWriteCSV(t *testing.T) {
	sheet := SheetFor(exportFixture(), LocaleFor("en"))
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(sheet, &buf))

	assert.True(t, strings.HasPrefix(buf.String(), "\ufeff"))
	records, err := csv.NewReader(strings.NewReader(strings.TrimPrefix(buf.String(), "\ufeff"))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "File", records[0][0])
	assert.Equal(t, "2000", records[1][9])
	assert.Equal(t, "", records[2][3])
	assert.Equal(t, "5", records[2][6])
}
