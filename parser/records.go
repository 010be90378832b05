package parser

import (
	"regexp"
	"strings"
)

var valueRE = regexp.MustCompile(`(?:(>=|<=|>|<)\s*)?([+-]?\d[\d.,]*)`)

// extracted holds the pieces of a value-bearing line.
type extracted struct {
	name    string
	op      string
	num     *float64
	cat     string
	unitRaw string
}

// extractValue splits a line (already stripped of its reference part) into
// name, value and unit. Categorical result words win over numbers so that
// "EXAMEN GENERAL DE ORINA NEGATIVO" does not lose its value to a stray
// digit elsewhere. Returns ok=false when the line carries no value.
func extractValue(base string) (extracted, bool) {
	if name, cat, ok := findCategorical(base); ok {
		return extracted{name: name, cat: cat}, true
	}

	for _, m := range valueRE.FindAllStringSubmatchIndex(base, -1) {
		if m[0] > 0 {
			prev := base[m[0]-1]
			if prev != ' ' && prev != '\t' && prev != '(' {
				continue
			}
		}
		var ex extracted
		if m[2] >= 0 {
			ex.op = base[m[2]:m[3]]
		}
		v, ok := ParseNumber(base[m[4]:m[5]])
		if !ok {
			continue
		}
		ex.num = &v
		ex.name = strings.Trim(base[:m[0]], " :-")
		ex.unitRaw = firstUnitToken(base[m[1]:])
		return ex, true
	}
	return extracted{}, false
}

// findCategorical looks for a standalone categorical value word and
// returns the text before it as the name.
func findCategorical(base string) (name, cat string, ok bool) {
	start := 0
	for start < len(base) {
		for start < len(base) && base[start] == ' ' {
			start++
		}
		end := strings.IndexByte(base[start:], ' ')
		var word string
		if end < 0 {
			word = base[start:]
			end = len(base)
		} else {
			end += start
			word = base[start:end]
		}
		if word == "" {
			break
		}
		if up := FoldText(word); categoricalValues[up] {
			return strings.Trim(base[:start], " :-"), up, true
		}
		start = end
	}
	return "", "", false
}

// firstUnitToken picks the unit from the text following a value. Range
// connectors and bare numbers are not units.
func firstUnitToken(tail string) string {
	for _, tok := range unitTokenRE.FindAllString(tail, -1) {
		low := strings.ToLower(tok)
		if low == "a" || low == "to" {
			continue
		}
		if !strings.ContainsFunc(tok, func(r rune) bool {
			return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '%' || r == '/'
		}) {
			continue
		}
		return tok
	}
	return ""
}

// ParseRecords runs the line-oriented assembler over page texts. Section,
// specimen and method state carries across pages; wrapped test names are
// joined with the value line that follows them.
func ParseRecords(pages []PageText) []Record {
	var (
		records       []Record
		sectionPath   []string
		specimen      string
		method        string
		pendingNames  []string
		insideResults bool
	)

	for _, pg := range pages {
		lines := NormalizeLines(pg.Text)
		for i := 0; i < len(lines); i++ {
			line := lines[i]

			if isNoiseLine(line) {
				pendingNames = nil
				continue
			}
			if isTableHeader(line) {
				insideResults = true
				pendingNames = nil
				continue
			}
			if sp := detectSpecimen(line); sp != "" {
				specimen = sp
				pendingNames = nil
				continue
			}
			if m := detectMethod(line); m != "" {
				method = m
				continue
			}

			if isSectionHeader(line) {
				switch {
				case looksLikePersonName(line) || isDemographicLine(line):
					// patient banner, not a section
				case hasUpcomingRecordWithPrefix(lines, i),
					!hasSectionHint(FoldText(line)) && pendingNameAhead(lines, i):
					pendingNames = append(pendingNames, line)
				default:
					sectionPath = []string{FoldText(line)}
					pendingNames = nil
				}
				continue
			}

			base, refRaw := SplitReference(line)
			if refRaw == "" {
				base, refRaw = splitTrailingReference(base)
			}

			if base == "" && refRaw != "" && len(records) > 0 {
				appendReferenceLine(&records[len(records)-1], refRaw)
				continue
			}
			if isBandOnlyLine(base) && refRaw == "" && len(records) > 0 {
				appendReferenceLine(&records[len(records)-1], base)
				continue
			}

			ex, ok := extractValue(base)
			if !ok {
				if looksLikeNameContinuation(base) {
					pendingNames = append(pendingNames, base)
				} else {
					pendingNames = nil
				}
				continue
			}

			nameParts := append(append([]string{}, pendingNames...), ex.name)
			name := strings.TrimSpace(strings.Join(nameParts, " "))
			pendingNames = nil
			if name == "" || strings.EqualFold(name, "x") {
				continue
			}

			unitRaw := ex.unitRaw
			if unitRaw != "" && looksLikeDateOrTime(unitRaw) {
				unitRaw = ""
			}

			fragment := line
			// A bare value line may carry its unit and reference on the
			// following lines.
			if unitRaw == "" && refRaw == "" && i+1 < len(lines) && looksLikeUnit(lines[i+1]) {
				unitRaw = lines[i+1]
				fragment += " " + lines[i+1]
				i++
			}

			rec := Record{
				Page:        pg.Page,
				Section:     append([]string{}, sectionPath...),
				Specimen:    specimen,
				Method:      method,
				NameRaw:     name,
				Name:        FoldText(name),
				UnitRaw:     unitRaw,
				RefRaw:      refRaw,
				Reference:   ParseReference(refRaw),
				RawFragment: fragment,
			}
			if ex.cat != "" {
				rec.ValueType = ValueCategorical
				rec.ValueCat = ex.cat
			} else {
				rec.ValueType = ValueNumeric
				rec.ValueNum = ex.num
				rec.ValueOp = ex.op
			}

			// Outside the results table a lone number next to a word is
			// more likely a folio or an address fragment.
			if !insideResults && unitRaw == "" && rec.Reference == nil {
				continue
			}

			records = append(records, rec)
			insideResults = true
		}
	}
	return records
}

// pendingNameAhead reports whether a headerish line is really the first
// half of a wrapped test name: a bare value line follows within a few
// lines, reachable only through name-continuation lines.
func pendingNameAhead(lines []string, i int) bool {
	for j := i + 1; j < len(lines) && j <= i+3; j++ {
		base, _ := SplitReference(lines[j])
		if ex, ok := extractValue(base); ok {
			return ex.name == ""
		}
		if !looksLikeNameContinuation(base) {
			return false
		}
	}
	return false
}

// appendReferenceLine attaches a band-only line to the record above it.
// A record that already has a reference is promoted to the bands form.
func appendReferenceLine(rec *Record, line string) {
	if rec.RefRaw == "" && rec.Reference == nil {
		rec.RefRaw = line
		rec.Reference = ParseReference(line)
		return
	}
	rec.RefRaw += "; " + line
	b := parseBandLine(line)
	if b == nil {
		return
	}
	switch {
	case rec.Reference == nil:
		rec.Reference = &Reference{Type: RefBands, Bands: []Band{*b}}
	case rec.Reference.Type == RefBands:
		rec.Reference.Bands = append(rec.Reference.Bands, *b)
	default:
		prev := Band{Min: rec.Reference.Min, Max: rec.Reference.Max}
		rec.Reference = &Reference{Type: RefBands, Bands: []Band{prev, *b}}
	}
}
