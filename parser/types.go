// Package parser turns raw lab report bytes into candidate analyte records.
//
// Two extraction strategies are implemented: a line-oriented assembler for
// plain text layers (ParseRecords) and a coordinate-based column mapper for
// reports with a stable table layout (BuildRowRecords). Both emit the same
// Record type; the caller picks a strategy with ChooseStrategy.
package parser

import "time"

// PageText is the text of a single page, 1-based.
type PageText struct {
	Page int
	Text string
}

// Cell is a positioned text fragment on a page. Coordinates are in PDF
// points with the origin at the bottom-left corner.
type Cell struct {
	Page int
	X0   float64
	X1   float64
	Y0   float64
	Y1   float64
	Text string
}

// Row is a horizontal group of cells sharing a baseline.
type Row struct {
	Page  int
	Y0    float64
	Y1    float64
	Cells []Cell
}

// Value types for Record.ValueType.
const (
	ValueNumeric     = "numeric"
	ValueCategorical = "categorical"
)

// Record is a candidate analyte measurement extracted from one report.
// Values are raw extraction output; the normalize package finalizes names,
// units and series keys.
type Record struct {
	Page     int
	Section  []string // section header path, outermost first
	Specimen string
	Method   string

	NameRaw string
	Name    string // uppercased, diacritics folded

	ValueType string
	ValueNum  *float64
	ValueCat  string
	ValueOp   string // ">", "<", ">=", "<=" when the value came with one

	UnitRaw string
	Unit    string

	RefRaw    string
	Reference *Reference

	RawFragment   string
	TakenAt       time.Time
	TakenAtSource string
}
