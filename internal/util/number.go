package util

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	reDotThousands   = regexp.MustCompile(`^-?\d{1,3}(?:\.\d{3})+$`)
	reCommaThousands = regexp.MustCompile(`^-?\d{1,3}(?:,\d{3})+$`)
	reEuropean       = regexp.MustCompile(`^-?\d{1,3}(?:\.\d{3})+,\d+$`)
	reAnglo          = regexp.MustCompile(`^-?\d{1,3}(?:,\d{3})+\.\d+$`)
	reNumeric        = regexp.MustCompile(`^-?\d+(?:\.\d+)?$`)
)

// ParseNumber reads a human formatted amount such as "1.000", "2 000,50",
// "1,234.5", "23%" or "12,40 €". It reports false for anything that is not a
// plain number once currency and percent signs are removed.
func ParseNumber(input string) (float64, bool) {
	s := strings.ReplaceAll(input, "\u00a0", " ")
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "%")
	s = strings.TrimSuffix(s, "€")
	s = strings.TrimPrefix(s, "€")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return 0, false
	}

	norm := normalizeNumericToken(s)
	if !reNumeric.MatchString(norm) {
		return 0, false
	}
	parsed, err := strconv.ParseFloat(norm, 64)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func normalizeNumericToken(compact string) string {
	switch {
	case reEuropean.MatchString(compact):
		return strings.ReplaceAll(strings.ReplaceAll(compact, ".", ""), ",", ".")
	case reAnglo.MatchString(compact):
		return strings.ReplaceAll(compact, ",", "")
	case reDotThousands.MatchString(compact):
		return strings.ReplaceAll(compact, ".", "")
	case reCommaThousands.MatchString(compact):
		return strings.ReplaceAll(compact, ",", "")
	case strings.Contains(compact, ",") && !strings.Contains(compact, "."):
		return strings.ReplaceAll(compact, ",", ".")
	}
	return compact
}
