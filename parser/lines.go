package parser

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Header and noise vocabulary seen across Mexican lab report layouts.
var (
	noisePrefixes = []string{
		"NUMERO DE SERVICIO",
		"PACIENTE",
		"GENERALES",
		"MEDICO",
		"FECHA",
		"IMP. DE RESULTADOS",
		"NUM. IMP",
		"PAG.",
	}

	tableHeaders = map[string]bool{
		"RESULTADOS":            true,
		"UNIDADES":              true,
		"VALORES DE":            true,
		"VALORES DE REFERENCIA": true,
		"NOTA":                  true,
	}

	sectionHints = map[string]bool{
		"PERFIL": true, "PANEL": true, "EXAMEN": true, "EXAMENES": true,
		"PRUEBA": true, "PRUEBAS": true, "ESTUDIO": true,
		"BIOQUIMICA": true, "HEMATOLOGIA": true, "MICROBIOLOGIA": true,
		"SEROLOGIA": true, "INMUNOLOGIA": true, "BACTERIOLOGIA": true,
		"COAGULACION": true,
	}

	sectionBanned = []string{"LIMITE", "ALTO", "BAJO", "RIESGO", "ESTADIO", "NORMAL", "MODERADO"}

	categoricalValues = map[string]bool{
		"NEGATIVO": true, "POSITIVO": true, "NORMAL": true, "ANORMAL": true,
		"CLARO": true, "AMARILLO": true, "TRAZA": true, "TRAZAS": true,
		"PRESENTE": true, "AUSENTE": true, "TURBIO": true, "LIGERAMENTE": true,
	}

	// Specimen keywords ordered so that the longer forms match first.
	specimenKeywords = []string{
		"SUERO", "ORINA 24 HRS", "ORINA 24HRS", "ORINA", "SANGRE",
		"PLASMA", "HECES", "SALIVA",
	}
)

var (
	leaderRunRE  = regexp.MustCompile(`[_\-\.]{3,}`)
	multiSpaceRE = regexp.MustCompile(`\s+`)
	dateLikeRE   = regexp.MustCompile(`^(\d{1,2}/\d{1,2}/\d{2,4}|\d{1,2}/\d{4}|\d{1,2}:\d{2})$`)
	unitLikeRE   = regexp.MustCompile(`(?i)(mg|mmol|mol|u/l|ui/l|ng/ml|%|x10\^|10\^|/ul|ml/min)`)
	unitTokenRE  = regexp.MustCompile(`[A-Za-z/%\^0-9\.\-]+`)
	digitRE      = regexp.MustCompile(`\d`)
)

// NormalizeLines splits page text into cleaned lines: whitespace collapsed,
// dot/underscore leader runs removed, × and µ mapped to ASCII. Empty lines
// are dropped.
func NormalizeLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.NewReplacer("×", "x", "µ", "u").Replace(line)
		line = leaderRunRE.ReplaceAllString(line, " ")
		line = multiSpaceRE.ReplaceAllString(line, " ")
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// FoldText uppercases and strips diacritics so keyword comparisons work on
// both accented and plain spellings (MÉTODO vs METODO).
func FoldText(s string) string {
	decomposed := norm.NFKD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

func isNoiseLine(line string) bool {
	up := FoldText(line)
	for _, p := range noisePrefixes {
		if strings.HasPrefix(up, p) {
			return true
		}
	}
	return false
}

func isTableHeader(line string) bool {
	up := FoldText(line)
	if tableHeaders[up] {
		return true
	}
	for h := range tableHeaders {
		if len(h) > 4 && strings.HasPrefix(up, h) {
			return true
		}
	}
	return false
}

func looksLikeDateOrTime(s string) bool {
	return dateLikeRE.MatchString(strings.TrimSpace(s))
}

func looksLikeUnit(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, " ") {
		return false
	}
	return unitLikeRE.MatchString(s)
}

// isSectionHeader reports whether a line reads like a panel or section
// banner rather than a test name or a value row.
func isSectionHeader(line string) bool {
	up := FoldText(line)
	if len(up) < 4 || len(up) > 60 {
		return false
	}
	if strings.ContainsAny(up, ":") || digitRE.MatchString(up) {
		return false
	}
	if isTableHeader(line) {
		return false
	}
	for _, w := range strings.Fields(up) {
		if categoricalValues[w] {
			return false
		}
	}
	for _, kw := range sectionBanned {
		if strings.Contains(up, kw) {
			return false
		}
	}
	letters, uppers := 0, 0
	for _, r := range line {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				uppers++
			}
		}
	}
	if letters == 0 || float64(uppers)/float64(letters) < 0.6 {
		return false
	}
	if hasSectionHint(up) {
		return true
	}
	words := strings.Fields(up)
	return len(words) <= 4 && len(up) <= 35
}

func hasSectionHint(up string) bool {
	for _, w := range strings.Fields(up) {
		if sectionHints[w] {
			return true
		}
	}
	return false
}

// looksLikePersonName flags lines such as "PEREZ LOPEZ JUAN A" where a
// single-letter token betrays an initials-bearing name, not a section.
func looksLikePersonName(line string) bool {
	words := strings.Fields(FoldText(line))
	if len(words) < 2 {
		return false
	}
	for _, w := range words {
		if len(w) == 1 && w[0] >= 'A' && w[0] <= 'Z' {
			return true
		}
	}
	return false
}

func isDemographicLine(line string) bool {
	up := FoldText(line)
	for _, kw := range []string{"ANOS", "AÑOS", "MASCULINO", "FEMENINO", "HRS"} {
		if strings.Contains(up, kw) {
			return true
		}
	}
	for _, f := range strings.Fields(up) {
		if looksLikeDateOrTime(f) {
			return true
		}
	}
	return false
}

// hasUpcomingRecordWithPrefix scans ahead for a value-bearing line that
// starts with this header text, which means the header is actually the
// first half of a wrapped test name.
func hasUpcomingRecordWithPrefix(lines []string, i int) bool {
	prefix := FoldText(lines[i])
	for j := i + 1; j < len(lines) && j <= i+15; j++ {
		up := FoldText(lines[j])
		if digitRE.MatchString(up) && strings.HasPrefix(up, prefix) {
			return true
		}
	}
	return false
}

// detectSpecimen extracts the specimen from lines like
// "MUESTRA ANALITICA: SUERO". Returns "" when the line is not one.
func detectSpecimen(line string) string {
	up := FoldText(line)
	if !strings.Contains(up, "MUESTRA") || !strings.Contains(up, "ANALIT") {
		return ""
	}
	idx := strings.Index(up, ":")
	if idx < 0 {
		return ""
	}
	val := strings.TrimSpace(up[idx+1:])
	if val == "" {
		return ""
	}
	for _, kw := range specimenKeywords {
		if strings.Contains(val, kw) {
			return kw
		}
	}
	return val
}

// detectMethod extracts the assay method from "METODO: ..." lines.
func detectMethod(line string) string {
	up := FoldText(line)
	if !strings.HasPrefix(up, "METODO") {
		return ""
	}
	idx := strings.Index(line, ":")
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(line[idx+1:])
}

// looksLikeNameContinuation reports whether a line could be a fragment of
// a test name wrapped across lines.
func looksLikeNameContinuation(line string) bool {
	if len(line) > 80 || digitRE.MatchString(line) {
		return false
	}
	if isNoiseLine(line) || isTableHeader(line) {
		return false
	}
	for _, r := range line {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// isBandOnlyLine reports whether the line is purely a reference interval,
// such as "100 a 200 Bajo Riesgo" or "> 240 Alto". The line must start at
// the number or operator; anything with a leading name is a value row.
func isBandOnlyLine(line string) bool {
	s := strings.TrimSpace(line)
	if s == "" {
		return false
	}
	if !strings.ContainsAny(string(s[0]), "<>0123456789+-") {
		return false
	}
	if m := rangeRE.FindStringIndex(s); m != nil && m[0] == 0 {
		return true
	}
	if m := operatorRE.FindStringIndex(s); m != nil && m[0] == 0 {
		return true
	}
	return false
}
