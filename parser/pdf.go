package parser

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrNoTextLayer means the PDF produced no text at all, which usually
// indicates a scanned document. Callers with a vision provider can fall
// back to OCR; without one this is the only fatal extraction error.
var ErrNoTextLayer = errors.New("parser: pdf has no text layer")

const (
	rowYTolerance = 2.0  // glyphs within 2pt share a baseline
	cellXGap      = 12.0 // horizontal gap that starts a new cell
	wordXGap      = 1.5  // smaller gaps become a single space
)

// ExtractRows reads positioned text from every page and groups it into
// rows and cells by coordinates. Returns ErrNoTextLayer when no page has
// any text fragment.
func ExtractRows(data []byte) (rows []Row, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parser: reading pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("parser: opening pdf: %w", err)
	}

	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		content := page.Content()
		rows = append(rows, rowsFromFragments(pageNum, content.Text)...)
	}

	if len(rows) == 0 {
		return nil, ErrNoTextLayer
	}
	return rows, nil
}

// rowsFromFragments buckets fragments into baseline rows (top to bottom)
// and splits each row into cells on horizontal gaps.
func rowsFromFragments(pageNum int, frags []pdf.Text) []Row {
	if len(frags) == 0 {
		return nil
	}

	sorted := make([]pdf.Text, len(frags))
	copy(sorted, frags)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Y != sorted[j].Y {
			return sorted[i].Y > sorted[j].Y // PDF origin is bottom-left
		}
		return sorted[i].X < sorted[j].X
	})

	var rows []Row
	var current []pdf.Text
	flush := func() {
		if len(current) > 0 {
			if row := buildRow(pageNum, current); len(row.Cells) > 0 {
				rows = append(rows, row)
			}
			current = nil
		}
	}

	for _, t := range sorted {
		if strings.TrimSpace(t.S) == "" && len(current) == 0 {
			continue
		}
		if len(current) > 0 && current[0].Y-t.Y > rowYTolerance {
			flush()
		}
		current = append(current, t)
	}
	flush()
	return rows
}

func buildRow(pageNum int, frags []pdf.Text) Row {
	sort.SliceStable(frags, func(i, j int) bool { return frags[i].X < frags[j].X })

	row := Row{Page: pageNum}
	var cell *Cell
	var lastX1 float64

	for _, t := range frags {
		s := t.S
		if strings.TrimSpace(s) == "" {
			continue
		}
		x1 := t.X + t.W
		switch {
		case cell == nil || t.X-lastX1 > cellXGap:
			row.Cells = append(row.Cells, Cell{
				Page: pageNum,
				X0:   t.X, X1: x1,
				Y0: t.Y, Y1: t.Y + t.FontSize,
				Text: s,
			})
			cell = &row.Cells[len(row.Cells)-1]
		case t.X-lastX1 > wordXGap:
			cell.Text += " " + s
			cell.X1 = x1
		default:
			cell.Text += s
			cell.X1 = x1
		}
		lastX1 = x1
	}

	for i := range row.Cells {
		row.Cells[i].Text = strings.TrimSpace(row.Cells[i].Text)
	}
	if len(row.Cells) > 0 {
		row.Y0 = row.Cells[0].Y0
		row.Y1 = row.Cells[0].Y1
	}
	return row
}

// PagesFromRows renders rows back into per-page text, one row per line.
// This is the input for the line-oriented assembler.
func PagesFromRows(rows []Row) []PageText {
	byPage := map[int][]string{}
	var order []int
	for _, r := range rows {
		var parts []string
		for _, c := range r.Cells {
			parts = append(parts, c.Text)
		}
		if _, seen := byPage[r.Page]; !seen {
			order = append(order, r.Page)
		}
		byPage[r.Page] = append(byPage[r.Page], strings.Join(parts, " "))
	}
	sort.Ints(order)

	pages := make([]PageText, 0, len(order))
	for _, p := range order {
		pages = append(pages, PageText{Page: p, Text: strings.Join(byPage[p], "\n")})
	}
	return pages
}

// PageCount returns the number of pages without extracting text.
func PageCount(data []byte) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parser: reading pdf: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("parser: opening pdf: %w", err)
	}
	return reader.NumPage(), nil
}
