// Package pipeline orchestrates extraction with the OCR fallback chain:
// parse the native text layer, measure the result, and when it looks
// broken re-parse with vision-transcribed pages merged in. OCR failures
// degrade to the pre-OCR result; they never abort an import.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/avelarde/labparse/parser"
)

// Trigger names recorded on the document when OCR kicks in.
const (
	TriggerRecordsZero         = "records_zero"
	TriggerFewRecordsShortText = "few_records_short_text"
)

// ParseFunc turns page texts into candidate records.
type ParseFunc func(pages []parser.PageText) []parser.Record

// OCR is the vision fallback. SelectPages picks suspicious pages; Pages
// transcribes them.
type OCR interface {
	SelectPages(pages []parser.PageText) []int
	Pages(ctx context.Context, pdfData []byte, pageNums []int) ([]parser.PageText, error)
}

// Config tunes the OCR trigger heuristics.
type Config struct {
	// FlaggedAnalyte is surfaced in metrics as a per-report quality
	// signal (default CREATININA, the analyte every renal panel has).
	FlaggedAnalyte string

	// MinRecords and MinTextLen define the weak-result trigger: fewer
	// records than MinRecords out of less text than MinTextLen chars.
	MinRecords int
	MinTextLen int
}

func (c Config) withDefaults() Config {
	if c.FlaggedAnalyte == "" {
		c.FlaggedAnalyte = "CREATININA"
	}
	if c.MinRecords <= 0 {
		c.MinRecords = 3
	}
	if c.MinTextLen <= 0 {
		c.MinTextLen = 5000
	}
	return c
}

// Metrics summarizes one extraction pass.
type Metrics struct {
	RecordsCount     int  `json:"records_count"`
	UniqueTestsCount int  `json:"unique_tests_count"`
	HasFlagged       bool `json:"has_flagged_analyte"`
}

// Result is the pipeline outcome. OCRErr is informational: the records
// come from the pre-OCR pass when OCR failed. Pages holds the page texts
// the final parse saw, with any OCR transcripts merged in.
type Result struct {
	Records       []parser.Record
	Pages         []parser.PageText
	Metrics       Metrics
	MetricsBefore Metrics
	TriggeredBy   string
	OCRUsed       bool
	OCRErr        error
	TakenAt       time.Time
	TakenAtSource string
}

// ComputeMetrics derives quality metrics from parsed records.
func ComputeMetrics(records []parser.Record, flagged string) Metrics {
	m := Metrics{RecordsCount: len(records)}
	seen := map[string]bool{}
	for _, r := range records {
		name := strings.Join(strings.Fields(strings.ToUpper(r.Name)), " ")
		seen[name] = true
		if flagged != "" && strings.Contains(name, flagged) {
			m.HasFlagged = true
		}
	}
	m.UniqueTestsCount = len(seen)
	return m
}

// shouldTriggerOCR decides whether the native pass looks broken.
func shouldTriggerOCR(m Metrics, rawLen int, cfg Config) string {
	if m.RecordsCount == 0 {
		return TriggerRecordsZero
	}
	if m.RecordsCount < cfg.MinRecords && rawLen < cfg.MinTextLen {
		return TriggerFewRecordsShortText
	}
	return ""
}

// Run executes the parse-measure-maybe-OCR-reparse chain.
func Run(ctx context.Context, pdfData []byte, pages []parser.PageText, parse ParseFunc, ocr OCR, cfg Config) Result {
	cfg = cfg.withDefaults()

	rawText := joinPages(pages)
	takenAt, takenSrc, _ := parser.ExtractReportDate(rawText)

	records := stampDates(parse(pages), takenAt, takenSrc)
	metrics := ComputeMetrics(records, cfg.FlaggedAnalyte)
	res := Result{
		Records:       records,
		Pages:         pages,
		Metrics:       metrics,
		MetricsBefore: metrics,
		TakenAt:       takenAt,
		TakenAtSource: takenSrc,
	}

	trigger := shouldTriggerOCR(metrics, len(rawText), cfg)
	if trigger == "" || ocr == nil {
		return res
	}
	res.TriggeredBy = trigger

	slog.Info("pipeline: weak native extraction, running ocr",
		"trigger", trigger, "records", metrics.RecordsCount, "text_len", len(rawText))

	pageNums := ocr.SelectPages(pages)
	if len(pageNums) == 0 {
		pageNums = allPageNums(pdfData, pages)
	}

	ocrPages, err := ocr.Pages(ctx, pdfData, pageNums)
	if err != nil {
		slog.Warn("pipeline: ocr failed, keeping native result", "error", err)
		res.OCRErr = err
		return res
	}
	if len(ocrPages) == 0 {
		return res
	}

	// The transcript supplements the native text rather than replacing
	// it: a page with a thin text layer may still hold real rows.
	merged := mergePages(pages, ocrPages)

	if t, src, ok := parser.ExtractReportDate(joinPages(ocrPages)); ok {
		takenAt, takenSrc = parser.PickReportDate(takenAt, takenSrc, t, src)
	}

	records = stampDates(parse(merged), takenAt, takenSrc)
	res.Records = records
	res.Pages = merged
	res.Metrics = ComputeMetrics(records, cfg.FlaggedAnalyte)
	res.OCRUsed = true
	res.TakenAt = takenAt
	res.TakenAtSource = takenSrc

	slog.Info("pipeline: ocr reparse complete",
		"records_before", res.MetricsBefore.RecordsCount,
		"records_after", res.Metrics.RecordsCount)
	return res
}

func joinPages(pages []parser.PageText) string {
	var parts []string
	for _, p := range pages {
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, "\n\n")
}

func mergePages(native, ocr []parser.PageText) []parser.PageText {
	transcribed := map[int]string{}
	for _, p := range ocr {
		transcribed[p.Page] = p.Text
	}

	var merged []parser.PageText
	for _, p := range native {
		if extra, ok := transcribed[p.Page]; ok {
			p.Text = strings.TrimSpace(p.Text + "\n" + extra)
			delete(transcribed, p.Page)
		}
		merged = append(merged, p)
	}
	for _, p := range ocr {
		if _, left := transcribed[p.Page]; left {
			merged = append(merged, p)
		}
	}
	return merged
}

func allPageNums(pdfData []byte, pages []parser.PageText) []int {
	if n, err := parser.PageCount(pdfData); err == nil && n > 0 {
		nums := make([]int, n)
		for i := range nums {
			nums[i] = i + 1
		}
		return nums
	}
	var nums []int
	for _, p := range pages {
		nums = append(nums, p.Page)
	}
	if len(nums) == 0 {
		nums = []int{1}
	}
	return nums
}

func stampDates(records []parser.Record, takenAt time.Time, src string) []parser.Record {
	if takenAt.IsZero() {
		return records
	}
	for i := range records {
		records[i].TakenAt = takenAt
		records[i].TakenAtSource = src
	}
	return records
}
