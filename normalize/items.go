package normalize

import (
	"strings"

	"github.com/avelarde/labparse/extract"
	"github.com/avelarde/labparse/parser"
)

// FromItems normalizes LLM-extracted items into final records. The rows
// the extractor saw are used to recover page numbers and raw fragments
// from the source row indexes the model reported.
func FromItems(items []extract.Item, rows []extract.Row) []Record {
	byIndex := map[int]extract.Row{}
	for _, r := range rows {
		byIndex[r.Index] = r
	}

	var out []Record
	seen := map[string]bool{}

	for _, it := range items {
		name := SplitConcatenated(Name(it.AnalyteName))
		if name == "" {
			continue
		}

		rec := Record{
			AnalyteName: name,
			Value:       it.Value,
			ValueText:   strings.TrimSpace(it.ValueText),
			Unit:        Unit(it.Unit),
			RefRange:    strings.TrimSpace(it.RefRange),
			Section:     strings.TrimSpace(it.Section),
		}
		if rec.RefRange != "" {
			// ParseReference returns nil for categorical or otherwise
			// unparseable ranges; the raw string is kept for display.
			rec.Reference = parser.ParseReference(rec.RefRange)
			if rec.Reference != nil {
				rec.RefMin, rec.RefMax = referenceBounds(rec.Reference)
			}
		}

		var fragments []string
		for _, idx := range it.SourceRows {
			r, ok := byIndex[idx]
			if !ok {
				continue
			}
			if rec.Page == 0 {
				rec.Page = r.Page
			}
			fragments = append(fragments, r.Text)
		}
		rec.RawFragment = strings.Join(fragments, "\n")

		fixScientificUnit(&rec)

		if rec.Value != nil {
			rec.DerivedStage = CKDStage(rec.AnalyteName, rec.Unit, *rec.Value)
		}
		var sectionPath []string
		if rec.Section != "" {
			sectionPath = []string{rec.Section}
		}
		rec.SeriesKey = SeriesKey(rec.AnalyteName, rec.Specimen, rec.Unit, sectionPath)

		key := DedupeKey(rec)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, rec)
	}
	return out
}
