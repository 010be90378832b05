package parser

import (
	"regexp"
	"strings"
	"unicode"
)

// Column detection tuning, in PDF points. Lab reports from the supported
// labs print the analyte column near the left margin; a table that starts
// deeper than maxNameColumnX is a summary box, not the results table.
const (
	maxNameColumnX   = 220.0
	nameColumnSlack  = 80.0
	minColumnRows    = 1
	maxTableCells    = 5
	minTableCells    = 3
	maxSectionRowLen = 50
	maxContRowLen    = 80
)

var (
	metadataKeywords = []string{
		"NUMERO", "PACIENTE", "FECHA", "IMP.", "PAG.",
		"REGISTRO", "LIBERACION", "REFERENCIA",
	}

	columnHeaderKeywords = []string{
		"RESULTADOS", "UNIDADES", "VALORES", "REFERENCIA",
		"ANALITO", "VALOR", "INTERVALO", "NOTA",
	}

	columnSectionKeywords = []string{
		"HEMATOLOGIA", "BIOQUIMICA", "ORINA", "UREA", "CREATININA",
		"LIPIDOS", "ELECTROLITOS", "HEPATICO", "RENAL", "GLUCOSA",
		"EVALUACION",
	}

	continuationKeywords = []string{
		"ESTADIO", "OPTIMO", "ALTO", "BAJO", "NORMAL", "LIMITROFE",
		"LIMITE", "MODERADO", "LEVE", "SEVERO", "DISMINUID", "AUMENTAD",
		"RIESGO", "TFG", "FALLO", "RENAL", "PROTEINURIA",
		"MICROALBUMINURIA",
	}

	contBandRE  = regexp.MustCompile(`^[<>≥≤]\s*\d`)
	contRangeRE = regexp.MustCompile(`(?i)^\d+\s*a\s*\d*`)
	refPieceRE  = regexp.MustCompile(`\d+\.?\d*\s*a\s*\d+\.?\d*`)
)

type span struct {
	lo, hi float64
}

func (s span) contains(x float64) bool { return x >= s.lo && x <= s.hi }

// Columns holds the detected X ranges of the four-column results table.
type Columns struct {
	Analyte span
	Value   span
	Unit    span
	Ref     span
	OK      bool
}

// DetectColumnPositions infers column X positions from rows that look like
// result lines: 3 to 5 cells, at least one digit, and a first cell that is
// not report metadata. Returns OK=false when the page has no usable table.
func DetectColumnPositions(rows []Row) Columns {
	var candidates []Row
	for _, r := range rows {
		if len(r.Cells) < minTableCells || len(r.Cells) > maxTableCells {
			continue
		}
		if !rowHasDigit(r) {
			continue
		}
		first := FoldText(r.Cells[0].Text)
		if strings.Contains(first, ":") || containsAnyKeyword(first, metadataKeywords) {
			continue
		}
		candidates = append(candidates, r)
	}
	if len(candidates) < minColumnRows {
		return Columns{}
	}

	minX := candidates[0].Cells[0].X0
	for _, r := range candidates[1:] {
		if r.Cells[0].X0 < minX {
			minX = r.Cells[0].X0
		}
	}
	if minX > maxNameColumnX {
		return Columns{}
	}

	var filtered []Row
	for _, r := range candidates {
		if r.Cells[0].X0 <= minX+nameColumnSlack {
			filtered = append(filtered, r)
		}
	}

	var xs [4][]float64
	for _, r := range filtered {
		for i, c := range r.Cells {
			if i > 3 {
				break
			}
			xs[i] = append(xs[i], c.X0)
		}
	}
	var med [4]float64
	for i := range xs {
		if len(xs[i]) == 0 {
			return Columns{}
		}
		med[i] = median(xs[i])
	}

	return Columns{
		Analyte: span{med[0] - 40, med[0] + 150},
		Value:   span{med[1] - 20, med[1] + 40},
		Unit:    span{med[2] - 20, med[2] + 40},
		Ref:     span{med[3] - 20, 1000},
		OK:      true,
	}
}

// BuildRowRecords maps positioned rows onto records using detected column
// boundaries. Pages without a detectable table fall back to the line
// assembler over the page's text.
func BuildRowRecords(rows []Row) []Record {
	var records []Record
	for _, pageRows := range splitByPage(rows) {
		cols := DetectColumnPositions(pageRows)
		if !cols.OK {
			records = append(records, ParseRecords(PagesFromRows(pageRows))...)
			continue
		}
		records = append(records, buildPageRecords(pageRows, cols)...)
	}
	return records
}

// ChooseStrategy picks the extraction path: "columns" when at least one
// page yields detectable column positions and the document has enough
// multi-cell rows, otherwise "lines".
func ChooseStrategy(rows []Row) string {
	multi := 0
	for _, r := range rows {
		if len(r.Cells) >= minTableCells {
			multi++
		}
	}
	if multi < 3 {
		return "lines"
	}
	for _, pageRows := range splitByPage(rows) {
		if DetectColumnPositions(pageRows).OK {
			return "columns"
		}
	}
	return "lines"
}

func buildPageRecords(rows []Row, cols Columns) []Record {
	var (
		records []Record
		section []string
	)

	for i := 0; i < len(rows); i++ {
		row := rows[i]
		text := rowText(row)
		up := FoldText(text)

		if isColumnHeaderRow(row, up) {
			continue
		}
		if isColumnSectionRow(row, text, up) {
			section = []string{up}
			continue
		}
		if len(records) > 0 && isContinuationRow(row, up) {
			appendReferenceLine(&records[len(records)-1], strings.TrimSpace(text))
			continue
		}

		name, valueRaw, unitRaw, refRaw := mapCells(row, cols)
		if valueRaw == "" && unitRaw == "" && refRaw == "" {
			continue
		}

		// DENSIDAD rows print the reference range in the unit column.
		if strings.Contains(FoldText(name), "DENSIDAD") && isNumericText(valueRaw) && isNumericText(unitRaw) &&
			(refRaw == "" || refRaw == "-") {
			refRaw = unitRaw
			if i+1 < len(rows) && len(rows[i+1].Cells) <= 2 {
				next := rowText(rows[i+1])
				if refPieceRE.MatchString(refRaw + " " + next) {
					refRaw += " " + next
					i++
				}
			}
			unitRaw = ""
		}

		rec, ok := recordFromColumns(row, section, name, valueRaw, unitRaw, refRaw)
		if ok {
			records = append(records, rec)
		}
	}
	return records
}

func recordFromColumns(row Row, section []string, name, valueRaw, unitRaw, refRaw string) (Record, bool) {
	name = strings.Trim(name, " :-")
	if name == "" {
		return Record{}, false
	}

	if unitRaw != "" && !hasLetterOrSlash(unitRaw) {
		unitRaw = ""
	}

	rec := Record{
		Page:        row.Page,
		Section:     append([]string{}, section...),
		NameRaw:     name,
		Name:        FoldText(name),
		UnitRaw:     unitRaw,
		RefRaw:      strings.TrimSpace(refRaw),
		RawFragment: rowText(row),
	}
	rec.Reference = ParseReference(rec.RefRaw)

	up := FoldText(strings.TrimSpace(valueRaw))
	if categoricalValues[up] {
		rec.ValueType = ValueCategorical
		rec.ValueCat = up
		return rec, true
	}
	if m := valueRE.FindStringSubmatch(valueRaw); m != nil {
		if v, ok := ParseNumber(m[2]); ok {
			rec.ValueType = ValueNumeric
			rec.ValueNum = &v
			rec.ValueOp = m[1]
			return rec, true
		}
	}
	if up != "" && hasLetter(up) {
		rec.ValueType = ValueCategorical
		rec.ValueCat = up
		return rec, true
	}
	return Record{}, false
}

// mapCells assigns cells to columns by left edge, falling back to the
// cell center. The value and unit columns each take one cell; a cell
// claimed by value or unit never leaks into the name or reference.
func mapCells(row Row, cols Columns) (name, value, unit, ref string) {
	inCol := func(c Cell, s span) bool {
		return s.contains(c.X0) || s.contains((c.X0+c.X1)/2)
	}

	valueIdx, unitIdx := -1, -1
	for i, c := range row.Cells {
		if valueIdx < 0 && i > 0 && inCol(c, cols.Value) {
			valueIdx = i
			value = c.Text
			continue
		}
		if unitIdx < 0 && i > 0 && i != valueIdx && inCol(c, cols.Unit) {
			unitIdx = i
			unit = c.Text
		}
	}

	var nameParts, refParts []string
	for i, c := range row.Cells {
		if i == valueIdx || i == unitIdx {
			continue
		}
		switch {
		case inCol(c, cols.Analyte):
			nameParts = append(nameParts, c.Text)
		case inCol(c, cols.Ref):
			refParts = append(refParts, c.Text)
		}
	}
	return strings.Join(nameParts, " "), value, unit, strings.Join(refParts, " ")
}

func isColumnHeaderRow(row Row, up string) bool {
	if len(row.Cells) == 1 {
		for _, kw := range columnHeaderKeywords {
			if up == kw {
				return true
			}
		}
		return false
	}
	hits := 0
	for _, kw := range columnHeaderKeywords {
		if strings.Contains(up, kw) {
			hits++
		}
	}
	return hits >= 2
}

func isColumnSectionRow(row Row, text, up string) bool {
	if len(row.Cells) > 2 || len(up) > maxSectionRowLen || digitRE.MatchString(up) {
		return false
	}
	letters, uppers := 0, 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				uppers++
			}
		}
	}
	if letters == 0 || float64(uppers)/float64(letters) < 0.7 {
		return false
	}
	return containsAnyKeyword(up, columnSectionKeywords)
}

func isContinuationRow(row Row, up string) bool {
	if len(row.Cells) > 3 || len(up) > maxContRowLen {
		return false
	}
	if contBandRE.MatchString(up) || contRangeRE.MatchString(up) {
		return true
	}
	return containsAnyKeyword(up, continuationKeywords)
}

func splitByPage(rows []Row) [][]Row {
	var out [][]Row
	for _, r := range rows {
		if n := len(out); n > 0 && out[n-1][0].Page == r.Page {
			out[n-1] = append(out[n-1], r)
		} else {
			out = append(out, []Row{r})
		}
	}
	return out
}

func rowText(r Row) string {
	var parts []string
	for _, c := range r.Cells {
		parts = append(parts, c.Text)
	}
	return strings.Join(parts, " ")
}

func rowHasDigit(r Row) bool {
	for _, c := range r.Cells {
		if digitRE.MatchString(c.Text) {
			return true
		}
	}
	return false
}

func containsAnyKeyword(s string, kws []string) bool {
	for _, kw := range kws {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func isNumericText(s string) bool {
	_, ok := ParseNumber(s)
	return ok
}

func hasLetterOrSlash(s string) bool {
	return strings.ContainsFunc(s, func(r rune) bool {
		return unicode.IsLetter(r) || r == '/' || r == 'µ'
	})
}

func hasLetter(s string) bool {
	return strings.ContainsFunc(s, unicode.IsLetter)
}

func median(xs []float64) float64 {
	sorted := append([]float64{}, xs...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
