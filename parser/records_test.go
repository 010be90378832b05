package parser

import (
	"strings"
	"testing"
)

func parseOnePage(t *testing.T, text string) []Record {
	t.Helper()
	return ParseRecords([]PageText{{Page: 1, Text: text}})
}

func TestParseRecordsCreatinina(t *testing.T) {
	text := strings.Join([]string{
		"QUIMICA SANGUINEA",
		"MUESTRA ANALITICA: SUERO",
		"RESULTADOS",
		"CREATININA 2.46 mg/dL 0.7 a 1.3",
	}, "\n")

	recs := parseOnePage(t, text)
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	r := recs[0]
	if r.Name != "CREATININA" {
		t.Errorf("name = %q, want CREATININA", r.Name)
	}
	if r.ValueNum == nil || *r.ValueNum != 2.46 {
		t.Errorf("value = %v, want 2.46", r.ValueNum)
	}
	if r.UnitRaw != "mg/dL" {
		t.Errorf("unit = %q, want mg/dL", r.UnitRaw)
	}
	if r.Specimen != "SUERO" {
		t.Errorf("specimen = %q, want SUERO", r.Specimen)
	}
	if len(r.Section) != 1 || r.Section[0] != "QUIMICA SANGUINEA" {
		t.Errorf("section = %v, want [QUIMICA SANGUINEA]", r.Section)
	}
	if r.Reference == nil || r.Reference.Type != RefRange {
		t.Fatalf("reference = %+v, want range", r.Reference)
	}
	if *r.Reference.Min != 0.7 || *r.Reference.Max != 1.3 {
		t.Errorf("reference = [%v, %v], want [0.7, 1.3]", *r.Reference.Min, *r.Reference.Max)
	}
}

func TestParseRecordsTrailingReference(t *testing.T) {
	tests := []struct {
		name string
		line string
		min  *float64
		max  *float64
	}{
		{"parenthesized", "GLUCOSA 94 mg/dL (70 a 100)", fptr(70), fptr(100)},
		{"bare range", "GLUCOSA 94 mg/dL 70 a 100", fptr(70), fptr(100)},
		{"bare operator", "COLESTEROL HDL 48 mg/dL > 40", fptr(40), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs := parseOnePage(t, "RESULTADOS\n"+tt.line)
			if len(recs) != 1 {
				t.Fatalf("records = %d, want 1", len(recs))
			}
			r := recs[0]
			if r.Reference == nil {
				t.Fatalf("reference = nil, raw %q", r.RefRaw)
			}
			if !floatEq(r.Reference.Min, tt.min) || !floatEq(r.Reference.Max, tt.max) {
				t.Errorf("bounds = (%v, %v), want (%v, %v)",
					r.Reference.Min, r.Reference.Max, tt.min, tt.max)
			}
		})
	}
}

func floatEq(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func TestParseRecordsBandContinuation(t *testing.T) {
	text := strings.Join([]string{
		"RESULTADOS",
		"COLESTEROL TOTAL 185 mg/dL",
		"< 200 Deseable",
		"200 a 239 Limitrofe",
		"> 240 Alto",
	}, "\n")

	recs := parseOnePage(t, text)
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	r := recs[0]
	if r.Reference == nil || r.Reference.Type != RefBands {
		t.Fatalf("reference = %+v, want bands", r.Reference)
	}
	if len(r.Reference.Bands) != 3 {
		t.Fatalf("bands = %d, want 3", len(r.Reference.Bands))
	}
	if r.Reference.Bands[0].Label != "Deseable" {
		t.Errorf("band 0 label = %q, want Deseable", r.Reference.Bands[0].Label)
	}
	if r.Reference.Bands[2].Min == nil || *r.Reference.Bands[2].Min != 240 {
		t.Errorf("band 2 = %+v, want min 240", r.Reference.Bands[2])
	}
	if !strings.Contains(r.RefRaw, "; ") {
		t.Errorf("raw reference %q should join lines with semicolons", r.RefRaw)
	}
}

func TestParseRecordsWrappedName(t *testing.T) {
	text := strings.Join([]string{
		"RESULTADOS",
		"COLESTEROL DE ALTA",
		"DENSIDAD HDL",
		"48 mg/dL",
	}, "\n")

	recs := parseOnePage(t, text)
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if got := recs[0].Name; got != "COLESTEROL DE ALTA DENSIDAD HDL" {
		t.Errorf("name = %q", got)
	}
	if recs[0].UnitRaw != "mg/dL" {
		t.Errorf("unit = %q, want mg/dL", recs[0].UnitRaw)
	}
}

func TestParseRecordsCategorical(t *testing.T) {
	text := strings.Join([]string{
		"EXAMEN GENERAL DE ORINA",
		"RESULTADOS",
		"GLUCOSA EN ORINA NEGATIVO",
	}, "\n")

	recs := parseOnePage(t, text)
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	r := recs[0]
	if r.ValueType != ValueCategorical || r.ValueCat != "NEGATIVO" {
		t.Errorf("value = %q/%q, want categorical NEGATIVO", r.ValueType, r.ValueCat)
	}
	if r.Name != "GLUCOSA EN ORINA" {
		t.Errorf("name = %q, want GLUCOSA EN ORINA", r.Name)
	}
}

func TestParseRecordsSkipsNoiseAndOrphans(t *testing.T) {
	text := strings.Join([]string{
		"PACIENTE: PEREZ LOPEZ JUAN A",
		"NUMERO DE SERVICIO: 0012345",
		"FECHA DE TOMA: 02/05/2025 08:15",
		"RESULTADOS",
		"12345", // orphan value, no name anywhere near
		"GLUCOSA 94.2 mg/dL (70 a 100)",
	}, "\n")

	recs := parseOnePage(t, text)
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1: %+v", len(recs), recs)
	}
	if recs[0].Name != "GLUCOSA" {
		t.Errorf("name = %q, want GLUCOSA", recs[0].Name)
	}
}

func TestParseRecordsOperatorValue(t *testing.T) {
	text := strings.Join([]string{
		"RESULTADOS",
		"PROTEINA C REACTIVA < 0.5 mg/dL (0 a 0.5)",
	}, "\n")

	recs := parseOnePage(t, text)
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	r := recs[0]
	if r.ValueOp != "<" {
		t.Errorf("op = %q, want <", r.ValueOp)
	}
	if r.ValueNum == nil || *r.ValueNum != 0.5 {
		t.Errorf("value = %v, want 0.5", r.ValueNum)
	}
}

func TestParseRecordsRejectsDateUnit(t *testing.T) {
	text := strings.Join([]string{
		"RESULTADOS",
		"GLUCOSA 94 12/05/2025 (70 a 100)",
	}, "\n")

	recs := parseOnePage(t, text)
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if recs[0].UnitRaw != "" {
		t.Errorf("unit = %q, want empty (date tokens are not units)", recs[0].UnitRaw)
	}
}

func TestParseRecordsSectionCarriesAcrossPages(t *testing.T) {
	recs := ParseRecords([]PageText{
		{Page: 1, Text: "BIOQUIMICA CLINICA\nRESULTADOS\nGLUCOSA 94 mg/dL (70 a 100)"},
		{Page: 2, Text: "UREA 32 mg/dL (15 a 45)"},
	})
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	if len(recs[1].Section) != 1 || recs[1].Section[0] != "BIOQUIMICA CLINICA" {
		t.Errorf("page 2 section = %v, want carried over", recs[1].Section)
	}
	if recs[1].Page != 2 {
		t.Errorf("page = %d, want 2", recs[1].Page)
	}
}
