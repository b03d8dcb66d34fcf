package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{input: "Parafuso M6 Inox", want: "parafuso m6 inox"},
		{input: "  Designação   técnica ", want: "designacao tecnica"},
		{input: "P-100", want: "p 100"},
		{input: "Ref.ª: ABC/12;34", want: "ref abc 12 34"},
		{input: "ÁGUA\tçÃO\nÜber", want: "agua cao uber"},
		{input: "---", want: ""},
		{input: "", want: ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Normalize(tc.input), "input %q", tc.input)
	}
}

func TestWordsDropsShortTokens(t *testing.T) {
	words := Words("Tubo de PVC 32 mm")
	assert.Equal(t, map[string]struct{}{"tubo": {}, "pvc": {}}, words)
}

func TestWordOverlapScore(t *testing.T) {
	assert.Equal(t, 1.0, WordOverlapScore("Parafuso inox", "PARAFUSO Inox"))
	assert.InDelta(t, 2.0/3.0, WordOverlapScore("Parafuso M6 inox sextavado", "parafuso inox"), 1e-9)
	assert.Equal(t, 0.0, WordOverlapScore("de a o", "parafuso"))
	assert.Equal(t, 0.0, WordOverlapScore("", "parafuso"))
}

func TestWordOverlapScoreIsSymmetric(t *testing.T) {
	inputs := []string{
		"",
		"Parafuso M6 inox",
		"parafuso sextavado inox A2",
		"Luvas nitrilo tamanho M caixa 100",
		"caixa luvas",
		"Água destilada 5L",
		"agua destilada garrafao",
	}
	for _, a := range inputs {
		for _, b := range inputs {
			assert.Equal(t, WordOverlapScore(a, b), WordOverlapScore(b, a), "a=%q b=%q", a, b)
		}
	}
}

func TestText(t *testing.T) {
	assert.Nil(t, Text(nil))
	assert.Nil(t, Text(""))
	assert.Equal(t, "abc", *Text("abc"))
	assert.Equal(t, "2000", *Text(float64(2000)))
	assert.Equal(t, "12.5", *Text(12.5))
	assert.Nil(t, Text(map[string]any{}))
}

func TestIsBlank(t *testing.T) {
	assert.True(t, IsBlank(nil))
	assert.True(t, IsBlank(""))
	assert.True(t, IsBlank((*string)(nil)))
	assert.False(t, IsBlank(0.0))
	assert.False(t, IsBlank("x"))
	assert.False(t, IsBlank(false))
}
