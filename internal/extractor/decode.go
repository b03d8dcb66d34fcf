package extractor

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"poextract/internal"
)

var (
	reFenceOpen     = regexp.MustCompile("```(?:json)?\\s*")
	reTrailingComma = regexp.MustCompile(`,\s*$`)
)

// StripFences removes markdown code fences and any prose before the first
// opening brace.
func StripFences(text string) string {
	clean := reFenceOpen.ReplaceAllString(text, "")
	clean = strings.ReplaceAll(clean, "```", "")
	clean = strings.TrimSpace(clean)
	if i := strings.Index(clean, "{"); i > 0 {
		clean = clean[i:]
	}
	return clean
}

// Decode parses model output into an extraction. With repair enabled,
// output that fails to parse gets one more attempt after RepairTruncatedJSON.
func Decode(text string, repair bool) (internal.Extraction, error) {
	clean := StripFences(text)
	if clean == "" {
		return internal.Extraction{}, &Error{Err: fmt.Errorf("empty extraction output")}
	}

	var ext internal.Extraction
	err := json.Unmarshal([]byte(clean), &ext)
	if err == nil {
		return ext, nil
	}
	if !repair {
		return internal.Extraction{}, &Error{Err: fmt.Errorf("unparseable extraction JSON: %w (raw: %s)", err, truncate(clean, 300))}
	}

	ext = internal.Extraction{}
	if rerr := json.Unmarshal([]byte(RepairTruncatedJSON(clean)), &ext); rerr != nil {
		return internal.Extraction{}, &Error{Err: fmt.Errorf("unparseable extraction JSON after repair: %w", rerr)}
	}
	return ext, nil
}

// RepairTruncatedJSON closes whatever string, arrays and objects are still
// open at the end of a cut-off JSON document. It does not validate the result.
func RepairTruncatedJSON(s string) string {
	var (
		stack    []byte
		inString bool
		escaped  bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var b strings.Builder
	b.WriteString(s)
	if inString {
		if escaped {
			b.WriteString(`\`)
		}
		b.WriteString(`"`)
	}
	out := strings.TrimRight(b.String(), " \t\r\n")
	if strings.HasSuffix(out, ":") {
		out += "null"
	}
	out = reTrailingComma.ReplaceAllString(out, "")
	for i := len(stack) - 1; i >= 0; i-- {
		out += string(stack[i])
	}
	return out
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
