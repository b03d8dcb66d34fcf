package extractor

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFences("```{\"a\":1}```"))
	assert.Equal(t, `{"a":1}`, StripFences("Aqui está o JSON: {\"a\":1}"))
	assert.Equal(t, "", StripFences("  "))
}

func TestDecodeKeepsRawScalars(t *testing.T) {
	ext, err := Decode(`{"num_encomenda":12345,"compromisso":null,"linhas":[{"quantidade_total":"2.000,00","entregas":[{"data":"2026-01-29","quantidade":2000}]}]}`, false)
	require.NoError(t, err)
	assert.Equal(t, float64(12345), ext.OrderNumber)
	assert.Nil(t, ext.Commitment)
	require.Len(t, ext.Lines, 1)
	assert.Equal(t, "2.000,00", ext.Lines[0].TotalQuantity)
	require.Len(t, ext.Lines[0].Deliveries, 1)
	assert.Equal(t, "2026-01-29", ext.Lines[0].Deliveries[0].Date)
	assert.Equal(t, float64(2000), ext.Lines[0].Deliveries[0].Quantity)
}

func TestDecodeUnparseableIsHardError(t *testing.T) {
	_, err := Decode(`{"cliente":"ACME","linhas":[`, false)
	require.Error(t, err)
	var xerr *Error
	assert.True(t, errors.As(err, &xerr))

	_, err = Decode("no json here", false)
	require.Error(t, err)
}

func TestDecodeWithRepair(t *testing.T) {
	ext, err := Decode(`{"cliente":"ACME","linhas":[{"designacao":"Tubo","entregas":[{"data":"2026-02-03"`, true)
	require.NoError(t, err)
	assert.Equal(t, "ACME", ext.Client)
	require.Len(t, ext.Lines, 1)
	assert.Equal(t, "Tubo", ext.Lines[0].Description)
}

func TestRepairTruncatedJSON(t *testing.T) {
	cases := []string{
		`{"a":[1,2,`,
		`{"a":{"b":"x`,
		`{"a":"br}ace[`,
		`{"a":1,"b":`,
		`{"linhas":[{"x":1},{"y":[2]`,
		`{"a":"x\`,
	}
	for _, in := range cases {
		out := RepairTruncatedJSON(in)
		var v any
		assert.NoError(t, json.Unmarshal([]byte(out), &v), "input %q repaired to %q", in, out)
	}

	assert.Equal(t, `{"a":1}`, RepairTruncatedJSON(`{"a":1}`))
}
