package parser

import (
	"strings"
	"testing"
)

func testCell(x float64, text string) Cell {
	return Cell{X0: x, X1: x + 60, Text: text}
}

func testRow(page int, y float64, cells ...Cell) Row {
	for i := range cells {
		cells[i].Page = page
		cells[i].Y0 = y
		cells[i].Y1 = y + 10
	}
	return Row{Page: page, Y0: y, Y1: y + 10, Cells: cells}
}

func resultRow(page int, y float64, name, value, unit, ref string) Row {
	return testRow(page, y,
		testCell(50, name), testCell(250, value), testCell(330, unit), testCell(420, ref))
}

func TestDetectColumnPositions(t *testing.T) {
	rows := []Row{
		resultRow(1, 700, "GLUCOSA", "94.00", "mg/dL", "70 a 100"),
		resultRow(1, 680, "UREA", "32.00", "mg/dL", "15 a 45"),
		resultRow(1, 660, "CREATININA", "1.10", "mg/dL", "0.7 a 1.3"),
	}
	cols := DetectColumnPositions(rows)
	if !cols.OK {
		t.Fatal("no columns detected on a clean table")
	}
	if !cols.Analyte.contains(50) {
		t.Errorf("analyte span %+v does not cover x=50", cols.Analyte)
	}
	if !cols.Value.contains(250) || !cols.Unit.contains(330) || !cols.Ref.contains(420) {
		t.Errorf("spans misplaced: %+v", cols)
	}
}

func TestDetectColumnPositionsRejectsDeepTable(t *testing.T) {
	// A table starting past the left margin is a summary box.
	rows := []Row{
		testRow(1, 700, testCell(300, "GLUCOSA"), testCell(400, "94.00"), testCell(470, "mg/dL"), testCell(540, "70 a 100")),
	}
	if DetectColumnPositions(rows).OK {
		t.Error("deep table accepted")
	}
}

func TestDetectColumnPositionsIgnoresMetadataRows(t *testing.T) {
	rows := []Row{
		testRow(1, 760, testCell(50, "FECHA DE TOMA"), testCell(250, "02/05/2025"), testCell(330, "08:15")),
		testRow(1, 740, testCell(50, "NUMERO DE SERVICIO"), testCell(250, "123456"), testCell(330, "X")),
	}
	if DetectColumnPositions(rows).OK {
		t.Error("metadata-only page produced a table")
	}
}

func TestBuildRowRecords(t *testing.T) {
	rows := []Row{
		testRow(1, 760, testCell(50, "RESULTADOS"), testCell(250, "UNIDADES"), testCell(420, "VALORES DE REFERENCIA")),
		testRow(1, 740, testCell(50, "HEMATOLOGIA")),
		resultRow(1, 720, "GLUCOSA", "94.00", "mg/dL", "70 a 100"),
		resultRow(1, 700, "COLESTEROL TOTAL", "215.00", "mg/dL", "< 200 Deseable"),
		testRow(1, 680, testCell(250, "200 a 239 Limitrofe")),
		resultRow(1, 660, "CREATININA", "1.10", "mg/dL", "0.7 a 1.3"),
	}

	records := BuildRowRecords(rows)
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3: %+v", len(records), records)
	}

	glu := records[0]
	if glu.Name != "GLUCOSA" || glu.ValueNum == nil || *glu.ValueNum != 94 {
		t.Errorf("glucosa = %+v", glu)
	}
	if len(glu.Section) != 1 || glu.Section[0] != "HEMATOLOGIA" {
		t.Errorf("section = %v, want [HEMATOLOGIA]", glu.Section)
	}
	if glu.Reference == nil || glu.Reference.Type != RefRange {
		t.Errorf("glucosa reference = %+v, want range", glu.Reference)
	}

	chol := records[1]
	if chol.Reference == nil || chol.Reference.Type != RefBands {
		t.Fatalf("colesterol reference = %+v, want bands", chol.Reference)
	}
	if len(chol.Reference.Bands) != 2 {
		t.Fatalf("colesterol bands = %d, want 2 after continuation row", len(chol.Reference.Bands))
	}
	if !strings.Contains(chol.RefRaw, "Limitrofe") {
		t.Errorf("continuation row not joined into RefRaw: %q", chol.RefRaw)
	}
}

func TestBuildRowRecordsDensityRepair(t *testing.T) {
	rows := []Row{
		resultRow(1, 720, "GLUCOSA", "94.00", "mg/dL", "70 a 100"),
		testRow(1, 700, testCell(50, "DENSIDAD"), testCell(250, "1.015"), testCell(330, "1.005")),
		testRow(1, 680, testCell(420, "a 1.030")),
	}

	records := BuildRowRecords(rows)
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2: %+v", len(records), records)
	}

	den := records[1]
	if den.ValueNum == nil || *den.ValueNum != 1.015 {
		t.Fatalf("densidad value = %+v", den.ValueNum)
	}
	if den.UnitRaw != "" {
		t.Errorf("densidad unit = %q, want empty (it was really the reference)", den.UnitRaw)
	}
	if den.Reference == nil || den.Reference.Type != RefRange ||
		den.Reference.Min == nil || *den.Reference.Min != 1.005 ||
		den.Reference.Max == nil || *den.Reference.Max != 1.03 {
		t.Errorf("densidad reference = %+v, want 1.005 a 1.030", den.Reference)
	}
}

func TestBuildRowRecordsFallsBackWithoutTable(t *testing.T) {
	rows := []Row{
		testRow(1, 720, testCell(50, "RESULTADOS")),
		testRow(1, 700, testCell(50, "GLUCOSA 94 mg/dL (70 a 100)")),
	}
	records := BuildRowRecords(rows)
	if len(records) != 1 || records[0].Name != "GLUCOSA" {
		t.Fatalf("fallback records = %+v, want single GLUCOSA via line assembler", records)
	}
}

func TestChooseStrategy(t *testing.T) {
	table := []Row{
		resultRow(1, 720, "GLUCOSA", "94.00", "mg/dL", "70 a 100"),
		resultRow(1, 700, "UREA", "32.00", "mg/dL", "15 a 45"),
		resultRow(1, 680, "CREATININA", "1.10", "mg/dL", "0.7 a 1.3"),
	}
	if got := ChooseStrategy(table); got != "columns" {
		t.Errorf("ChooseStrategy(table) = %q, want columns", got)
	}

	linear := []Row{
		testRow(1, 720, testCell(50, "GLUCOSA 94 mg/dL (70 a 100)")),
		testRow(1, 700, testCell(50, "UREA 32 mg/dL (15 a 45)")),
	}
	if got := ChooseStrategy(linear); got != "lines" {
		t.Errorf("ChooseStrategy(linear) = %q, want lines", got)
	}
}
