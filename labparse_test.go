package labparse

import (
	"errors"
	"fmt"
	"testing"

	"github.com/avelarde/labparse/parser"
)

func TestPageRows(t *testing.T) {
	pages := []parser.PageText{
		{Page: 1, Text: "GLUCOSA 94 mg/dL\n\nUREA 32 mg/dL"},
		{Page: 3, Text: "CREATININA 0.9 mg/dL"},
	}
	rows := pageRows(pages)
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3 (blank lines dropped)", len(rows))
	}
	for i, r := range rows {
		if r.Index != i {
			t.Errorf("row %d index = %d, want sequential across pages", i, r.Index)
		}
	}
	if rows[2].Page != 3 || rows[2].Text != "CREATININA 0.9 mg/dL" {
		t.Errorf("last row = %+v", rows[2])
	}
	if rows := pageRows(nil); len(rows) != 0 {
		t.Errorf("rows from no pages = %d, want 0", len(rows))
	}
}

func TestParseFailure(t *testing.T) {
	err := parseFailure(fmt.Errorf("extracting: %w", parser.ErrNoTextLayer))
	if !errors.Is(err, ErrNoTextLayer) {
		t.Errorf("scanned document not surfaced as ErrNoTextLayer: %v", err)
	}
	if errors.Is(err, ErrParsingFailed) {
		t.Errorf("ErrNoTextLayer should not also match ErrParsingFailed: %v", err)
	}

	err = parseFailure(errors.New("corrupt xref table"))
	if !errors.Is(err, ErrParsingFailed) {
		t.Errorf("generic failure not wrapped as ErrParsingFailed: %v", err)
	}
}
