package parser

import (
	"strconv"
	"strings"
)

// ParseNumber parses a numeric token from a Spanish lab report, where the
// comma is used both as a thousands separator ("1,000") and as a decimal
// mark ("9,14"). Disambiguation:
//
//   - both ',' and '.' present: commas are thousands separators
//   - only ',' present: a final group of exactly 3 digits means thousands,
//     anything else means the comma is the decimal mark
//   - otherwise the token parses as-is
//
// Returns ok=false when the token is not a number. Callers must not treat
// a failed parse as zero.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	hasComma := strings.Contains(s, ",")
	hasDot := strings.Contains(s, ".")

	switch {
	case hasComma && hasDot:
		s = strings.ReplaceAll(s, ",", "")
	case hasComma:
		parts := strings.Split(s, ",")
		if len(parts[len(parts)-1]) == 3 {
			s = strings.Join(parts, "")
		} else {
			s = strings.ReplaceAll(s, ",", ".")
		}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
