// Package normalize finalizes candidate records: canonical analyte names,
// cleaned units, series keys and derived fields. The series key is the
// identity used to line up the same measurement across documents.
package normalize

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/avelarde/labparse/parser"
)

// Record is a fully normalized analyte measurement, ready to persist.
type Record struct {
	AnalyteName   string            `json:"analyte_name"`
	Value         *float64          `json:"value"`
	ValueText     string            `json:"value_text,omitempty"`
	ValueOperator string            `json:"value_operator,omitempty"`
	Unit          string            `json:"unit,omitempty"`
	RefRange      string            `json:"ref_range,omitempty"`
	RefMin        *float64          `json:"ref_min,omitempty"`
	RefMax        *float64          `json:"ref_max,omitempty"`
	Reference     *parser.Reference `json:"reference,omitempty"`
	Specimen      string            `json:"specimen,omitempty"`
	Section       string            `json:"section,omitempty"`
	Method        string            `json:"method,omitempty"`
	Page          int               `json:"page"`
	TakenAt       time.Time         `json:"taken_at,omitzero"`
	TakenAtSource string            `json:"taken_at_source,omitempty"`
	SeriesKey     string            `json:"series_key"`
	DerivedStage  string            `json:"derived_stage,omitempty"`
	RawFragment   string            `json:"raw_fragment,omitempty"`
}

var (
	nbspRE       = regexp.MustCompile(`\x{00A0}`)
	multiSpaceRE = regexp.MustCompile(`\s+`)
	slashRE      = regexp.MustCompile(`\s*/\s*`)

	sericoRE   = regexp.MustCompile(`(SODIO|POTASIO|CLORO|FOSFORO|CALCIO|MAGNESIO)(SERICO)`)
	gluedDeRE  = regexp.MustCompile(`([A-Z]{5,})(DE)([A-Z]{4,})`)
	gluedTotRE = regexp.MustCompile(`(COLESTEROL|BILIRRUBINA)(TOTAL)`)
	numericRE  = regexp.MustCompile(`^\d+\.?\d*$`)
	sciUnitRE  = regexp.MustCompile(`^[xX]10\^(\d+)`)
	egfrUnitRE = regexp.MustCompile(`ML/MIN/1\.73`)
	egfrNameRE = regexp.MustCompile(`TFG|EGFR|GFR|FILTRACION`)
)

// nameCorrections repairs specific OCR concatenation artifacts that the
// generic splitting rules mangle.
var nameCorrections = map[string]string{
	"COLESTEROLDEALTA DE NSIDAD": "COLESTEROL DE ALTA DENSIDAD",
	"COLESTEROLDEBAJA DE NSIDAD": "COLESTEROL DE BAJA DENSIDAD",
}

// Name canonicalizes an analyte name: whitespace collapsed, uppercased,
// diacritics folded, slashes tightened, trailing colon removed.
func Name(s string) string {
	s = nbspRE.ReplaceAllString(s, " ")
	s = multiSpaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
	s = strings.ToUpper(s)
	s = foldDiacritics(s)
	s = slashRE.ReplaceAllString(s, "/")
	s = strings.TrimRight(s, ":")
	return strings.TrimSpace(s)
}

// SplitConcatenated repairs names whose words were glued together by the
// PDF text layer, such as SODIOSERICO or COLESTEROLDEALTADENSIDAD.
func SplitConcatenated(s string) string {
	if fixed, ok := nameCorrections[s]; ok {
		return fixed
	}
	out := sericoRE.ReplaceAllString(s, "$1 $2")
	out = gluedDeRE.ReplaceAllString(out, "$1 $2 $3")
	if len(out) >= 10 {
		out = gluedTotRE.ReplaceAllString(out, "$1 $2")
	}
	if fixed, ok := nameCorrections[out]; ok {
		return fixed
	}
	return out
}

// Unit cleans a unit string. Returns "" for rejected units: purely
// numeric tokens and tokens without any letter are column bleed, not
// units.
func Unit(s string) string {
	s = strings.NewReplacer("×", "x", "µ", "u").Replace(s)
	s = multiSpaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
	s = strings.TrimRight(s, ":")
	if s == "" || numericRE.MatchString(s) {
		return ""
	}
	if !strings.ContainsFunc(s, unicode.IsLetter) {
		return ""
	}
	return strings.ToUpper(s)
}

// SeriesKey builds the longitudinal identity of a measurement. Records
// from different documents with the same analyte, specimen, unit and
// section land in the same series.
func SeriesKey(name, specimen, unit string, sectionPath []string) string {
	return strings.Join([]string{name, specimen, unit, strings.Join(sectionPath, " / ")}, "|")
}

// CKDStage maps an estimated glomerular filtration rate to its KDIGO
// stage. Returns "" when the record is not an eGFR measurement.
func CKDStage(name, unit string, value float64) string {
	if !egfrUnitRE.MatchString(unit) || !egfrNameRE.MatchString(name) {
		return ""
	}
	switch {
	case value >= 90:
		return "G1"
	case value >= 60:
		return "G2"
	case value >= 45:
		return "G3A"
	case value >= 30:
		return "G3B"
	case value >= 15:
		return "G4"
	default:
		return "G5"
	}
}

// FromCandidates normalizes parser output into final records. Exact
// duplicates (same series, value and reference bounds) collapse to the
// first occurrence, which keeps re-parsing deterministic.
func FromCandidates(candidates []parser.Record) []Record {
	var out []Record
	seen := map[string]bool{}

	for _, c := range candidates {
		name := SplitConcatenated(Name(c.NameRaw))
		if name == "" {
			continue
		}
		unit := Unit(c.UnitRaw)

		rec := Record{
			AnalyteName:   name,
			ValueOperator: c.ValueOp,
			Unit:          unit,
			RefRange:      strings.TrimSpace(c.RefRaw),
			Reference:     c.Reference,
			Specimen:      c.Specimen,
			Section:       strings.Join(c.Section, " / "),
			Method:        c.Method,
			Page:          c.Page,
			TakenAt:       c.TakenAt,
			TakenAtSource: c.TakenAtSource,
			RawFragment:   c.RawFragment,
		}
		if c.ValueType == parser.ValueCategorical {
			rec.ValueText = c.ValueCat
		} else {
			rec.Value = c.ValueNum
		}
		if rec.RefRange == "-" || rec.RefRange == "--" {
			rec.RefRange = ""
			rec.Reference = nil
		}
		if rec.Reference != nil {
			rec.RefMin, rec.RefMax = referenceBounds(rec.Reference)
		}

		fixScientificUnit(&rec)

		if rec.Value != nil {
			rec.DerivedStage = CKDStage(rec.AnalyteName, rec.Unit, *rec.Value)
		}
		rec.SeriesKey = SeriesKey(rec.AnalyteName, rec.Specimen, rec.Unit, c.Section)

		key := DedupeKey(rec)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, rec)
	}
	return out
}

// DedupeKey identifies a record within one document for idempotent
// inserts: series plus value plus reference bounds.
func DedupeKey(r Record) string {
	return strings.Join([]string{r.SeriesKey, ValueKey(r), floatKey(r.RefMin), floatKey(r.RefMax)}, "|")
}

// ValueKey renders the value for identity comparisons.
func ValueKey(r Record) string {
	if r.Value != nil {
		return r.ValueOperator + formatFloat(*r.Value)
	}
	return r.ValueText
}

func floatKey(f *float64) string {
	if f == nil {
		return ""
	}
	return formatFloat(*f)
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%g", v)
}

// referenceBounds projects a structured reference onto simple min/max
// display bounds. Band references expose the envelope of their bands.
func referenceBounds(ref *parser.Reference) (*float64, *float64) {
	switch ref.Type {
	case parser.RefRange:
		return ref.Min, ref.Max
	case parser.RefMinOnly:
		return ref.Min, nil
	case parser.RefMaxOnly:
		return nil, ref.Max
	case parser.RefBands:
		var lo, hi *float64
		for _, b := range ref.Bands {
			if b.Min != nil && (lo == nil || *b.Min < *lo) {
				lo = b.Min
			}
			if b.Max != nil && (hi == nil || *b.Max > *hi) {
				hi = b.Max
			}
		}
		return lo, hi
	}
	return nil, nil
}

// fixScientificUnit repairs values that absorbed their unit's power of
// ten, a text-layer artifact on cell count rows: unit "x10^3/uL" with a
// value of 7500 against a reference topping out below 1000 means the
// printed value was already multiplied out.
func fixScientificUnit(rec *Record) {
	if rec.Value == nil || *rec.Value < 1000 {
		return
	}
	m := sciUnitRE.FindStringSubmatch(rec.Unit)
	if m == nil {
		return
	}
	if rec.RefMax == nil || *rec.RefMax >= 1000 {
		return
	}
	var exp int
	fmt.Sscanf(m[1], "%d", &exp)
	v := *rec.Value / math.Pow10(exp)
	v = math.Round(v*1e6) / 1e6
	rec.Value = &v
}

func foldDiacritics(s string) string {
	decomposed := norm.NFKD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
