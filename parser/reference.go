package parser

import (
	"regexp"
	"strings"
)

// Reference types.
const (
	RefRange   = "range"
	RefMinOnly = "min_only"
	RefMaxOnly = "max_only"
	RefBands   = "bands"
)

// Band is a single labeled interval inside a reference, e.g. "> 160 Alto".
type Band struct {
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
	Op    string   `json:"op,omitempty"`
	Label string   `json:"label,omitempty"`
}

// Reference is the structured form of a reference interval. Type is one of
// RefRange, RefMinOnly, RefMaxOnly or RefBands. For RefBands the Min/Max
// fields are nil and Bands carries the intervals in source order.
type Reference struct {
	Type  string   `json:"type"`
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
	Bands []Band   `json:"bands,omitempty"`
}

var (
	refPrefixRE = regexp.MustCompile(`(?i)referencia:?`)
	refParenRE  = regexp.MustCompile(`\(([^)]*?)\)`)
	refSplitRE  = regexp.MustCompile(`[;\n]+`)
	rangeRE     = regexp.MustCompile(`([+-]?\d[\d.,]*)\s*(?:a|to|–|-|—)\s*([+-]?\d[\d.,]*)`)
	operatorRE  = regexp.MustCompile(`([<>])\s*([+-]?\d[\d.,]*)`)
)

// SplitReference separates a line into its record part and its reference
// part. A parenthesized group wins; otherwise the line splits at the word
// "Referencia". The reference part is returned raw, without parentheses.
func SplitReference(line string) (base, ref string) {
	if m := refParenRE.FindStringSubmatchIndex(line); m != nil {
		ref = line[m[2]:m[3]]
		base = strings.TrimSpace(line[:m[0]] + " " + line[m[1]:])
		return base, strings.TrimSpace(ref)
	}
	if loc := refPrefixRE.FindStringIndex(line); loc != nil {
		base = strings.TrimSpace(line[:loc[0]])
		ref = strings.TrimSpace(line[loc[1]:])
		return base, ref
	}
	return strings.TrimSpace(line), ""
}

// splitTrailingReference pulls an unparenthesized reference off the end
// of a value line, such as "CREATININA 2.46 mg/dL 0.7 a 1.3". The range
// or operator must follow an earlier number (the value), so band-only
// lines and operator values keep their leading interval.
func splitTrailingReference(line string) (base, ref string) {
	m := rangeRE.FindStringIndex(line)
	if m == nil {
		m = operatorRE.FindStringIndex(line)
	}
	if m == nil || m[0] == 0 || line[m[0]-1] != ' ' {
		return line, ""
	}
	head := line[:m[0]]
	if !digitRE.MatchString(head) {
		return line, ""
	}
	return strings.TrimSpace(head), strings.TrimSpace(line[m[0]:])
}

// ParseReference parses a raw reference string into its structured form.
// Returns nil when nothing parseable is found; the caller keeps the raw
// string for display.
func ParseReference(raw string) *Reference {
	s := refPrefixRE.ReplaceAllString(raw, "")
	s = strings.NewReplacer("(", "", ")", "", "[", "", "]", "", "–", "-", "—", "-").Replace(s)
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	segments := refSplitRE.Split(s, -1)
	var nonEmpty []string
	for _, seg := range segments {
		if seg = strings.TrimSpace(seg); seg != "" {
			nonEmpty = append(nonEmpty, seg)
		}
	}
	if len(nonEmpty) == 0 {
		return nil
	}

	if len(nonEmpty) > 1 {
		var bands []Band
		for _, seg := range nonEmpty {
			if b := parseBandLine(seg); b != nil {
				bands = append(bands, *b)
			}
		}
		if len(bands) == 0 {
			return nil
		}
		return &Reference{Type: RefBands, Bands: bands}
	}

	seg := nonEmpty[0]
	b := parseBandLine(seg)
	if b == nil {
		return nil
	}
	if b.Label != "" {
		return &Reference{Type: RefBands, Bands: []Band{*b}}
	}
	switch {
	case b.Op == "<":
		return &Reference{Type: RefMaxOnly, Max: b.Max}
	case b.Op == ">":
		return &Reference{Type: RefMinOnly, Min: b.Min}
	default:
		return &Reference{Type: RefRange, Min: b.Min, Max: b.Max}
	}
}

// parseBandLine parses a single interval like "70 a 100", "> 160 Alto" or
// "< 130 Optimo". The trailing text, if any, becomes the band label.
func parseBandLine(s string) *Band {
	s = strings.TrimSpace(s)
	if m := rangeRE.FindStringSubmatchIndex(s); m != nil {
		lo, okLo := ParseNumber(s[m[2]:m[3]])
		hi, okHi := ParseNumber(s[m[4]:m[5]])
		if okLo && okHi {
			label := strings.TrimSpace(s[m[1]:])
			return &Band{Min: &lo, Max: &hi, Label: label}
		}
	}
	if m := operatorRE.FindStringSubmatchIndex(s); m != nil {
		op := s[m[2]:m[3]]
		v, ok := ParseNumber(s[m[4]:m[5]])
		if !ok {
			return nil
		}
		label := strings.TrimSpace(s[m[1]:])
		b := &Band{Op: op, Label: label}
		if op == ">" {
			b.Min = &v
		} else {
			b.Max = &v
		}
		return b
	}
	return nil
}
