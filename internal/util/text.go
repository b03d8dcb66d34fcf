package util

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize lower-cases, strips diacritics, replaces every rune outside
// [a-z0-9] and whitespace with a space, then collapses and trims whitespace.
// It is the only text-similarity primitive of the matcher.
func Normalize(input string) string {
	if input == "" {
		return ""
	}
	s := strings.ToLower(input)
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	if stripped, _, err := transform.String(stripMarks, s); err == nil {
		s = stripped
	}

	out := strings.Builder{}
	out.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			out.WriteRune(r)
			continue
		}
		out.WriteByte(' ')
	}
	return strings.Join(strings.Fields(out.String()), " ")
}

// Words returns the set of normalized tokens longer than two characters.
func Words(input string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, w := range strings.Split(Normalize(input), " ") {
		if len(w) > 2 {
			set[w] = struct{}{}
		}
	}
	return set
}

// WordOverlapScore is |A∩B| / max(|A|, |B|) over the word sets of a and b,
// or 0 when either set is empty.
func WordOverlapScore(a, b string) float64 {
	return OverlapOfSets(Words(a), Words(b))
}

func OverlapOfSets(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	matches := 0
	for w := range a {
		if _, ok := b[w]; ok {
			matches++
		}
	}
	denom := len(a)
	if len(b) > denom {
		denom = len(b)
	}
	return float64(matches) / float64(denom)
}

// Text renders a loosely typed JSON scalar as text. nil and empty strings
// yield nil so that callers can treat them as absent.
func Text(v any) *string {
	var s string
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		s = t
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		s = strconv.Itoa(t)
	case bool:
		s = strconv.FormatBool(t)
	default:
		return nil
	}
	if s == "" {
		return nil
	}
	return &s
}

// IsBlank reports whether a cell value is absent for display purposes.
func IsBlank(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	if p, ok := v.(*string); ok {
		return p == nil || *p == ""
	}
	return false
}

func StringPtr(v string) *string {
	return &v
}
