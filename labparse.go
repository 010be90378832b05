// Package labparse turns Spanish-language clinical laboratory reports
// into structured, queryable analyte records. It parses the native text
// layer of PDF and XLSX reports, falls back to vision OCR for scanned
// pages, optionally runs LLM extraction, and persists the normalized
// results as longitudinal series in SQLite.
package labparse

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avelarde/labparse/extract"
	"github.com/avelarde/labparse/llm"
	"github.com/avelarde/labparse/normalize"
	"github.com/avelarde/labparse/ocr"
	"github.com/avelarde/labparse/parser"
	"github.com/avelarde/labparse/pipeline"
	"github.com/avelarde/labparse/store"
)

// Engine is the main entry point for the lab report pipeline.
type Engine interface {
	// Import parses a report and persists its records. Re-importing
	// identical content is a no-op unless forced.
	Import(ctx context.Context, data []byte, opts ...ImportOption) (*ImportResult, error)

	// ImportFile reads a file and imports it with its basename attached.
	ImportFile(ctx context.Context, path string, opts ...ImportOption) (*ImportResult, error)

	// ListDocuments returns all imported documents.
	ListDocuments(ctx context.Context) ([]store.Document, error)

	// DeleteDocument removes a document and its results.
	DeleteDocument(ctx context.Context, documentID int64) error

	// ListSeries returns every analyte series.
	ListSeries(ctx context.Context) ([]store.Series, error)

	// SeriesPoints returns one series' timeline ordered by draw date.
	SeriesPoints(ctx context.Context, seriesKey string) ([]store.SeriesPoint, error)

	// SearchSeries finds series by analyte name, semantically when an
	// embedding provider is configured, by full-text search otherwise.
	SearchSeries(ctx context.Context, query string, k int) ([]store.SeriesMatch, error)

	// Store returns the underlying store for diagnostic access.
	Store() *store.Store

	// Close cleanly shuts down the engine.
	Close() error
}

// ImportResult reports what one import did.
type ImportResult struct {
	DocumentID      int64              `json:"document_id"`
	ContentHash     string             `json:"content_hash"`
	Skipped         bool               `json:"skipped"`
	Format          string             `json:"format"`
	ParseMethod     string             `json:"parse_method"`
	RecordsTotal    int                `json:"records_total"`
	RecordsInserted int                `json:"records_inserted"`
	TriggeredBy     string             `json:"triggered_by,omitempty"`
	OCRUsed         bool               `json:"ocr_used"`
	OCRError        string             `json:"ocr_error,omitempty"`
	TakenAt         time.Time          `json:"taken_at,omitzero"`
	TakenAtSource   string             `json:"taken_at_source,omitempty"`
	Records         []normalize.Record `json:"records,omitempty"`
}

// ImportOption configures import behavior.
type ImportOption func(*importOptions)

type importOptions struct {
	filename      string
	patientID     string
	forceReimport bool
	parseMethod   string
}

// WithFilename attaches the original filename, used for format detection
// and display.
func WithFilename(name string) ImportOption {
	return func(o *importOptions) { o.filename = name }
}

// WithPatientID tags the document with a patient identifier.
func WithPatientID(id string) ImportOption {
	return func(o *importOptions) { o.patientID = id }
}

// WithForceReimport re-parses even if the content hash is already known.
func WithForceReimport() ImportOption {
	return func(o *importOptions) { o.forceReimport = true }
}

// WithParseMethod overrides the automatic lines/columns strategy choice.
func WithParseMethod(method string) ImportOption {
	return func(o *importOptions) { o.parseMethod = method }
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg       Config
	store     *store.Store
	parsers   *parser.Registry
	chatLLM   llm.Provider
	embedLLM  llm.Provider
	ocrClient *ocr.Client
	extractor *extract.Extractor
}

// New creates an engine with the given configuration. The chat, vision
// and embedding providers are all optional: without them the engine runs
// rule-based parsing and FTS search only.
func New(ctx context.Context, cfg Config) (Engine, error) {
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = 768
	}

	s, err := store.New(ctx, cfg.resolveDBPath(), cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	e := &engine{
		cfg:     cfg,
		store:   s,
		parsers: parser.NewRegistry(),
	}

	if cfg.Chat.Provider != "" {
		e.chatLLM, err = llm.NewProvider(cfg.Chat)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("creating chat provider: %w", err)
		}
		if cfg.UseLLMExtraction {
			e.extractor = extract.New(e.chatLLM, extract.Options{
				BatchSize:  cfg.BatchSize,
				MaxWorkers: cfg.MaxWorkers,
				MaxRetries: cfg.MaxRetries,
			})
		}
	}

	if cfg.Vision.Provider != "" {
		vision, err := llm.NewVisionProvider(cfg.Vision)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("creating vision provider: %w", err)
		}
		e.ocrClient = ocr.New(vision)
	}

	if cfg.Embedding.Provider != "" {
		e.embedLLM, err = llm.NewProvider(cfg.Embedding)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("creating embedding provider: %w", err)
		}
	}

	return e, nil
}

// ImportFile reads path and imports it.
func (e *engine) ImportFile(ctx context.Context, path string, opts ...ImportOption) (*ImportResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	opts = append([]ImportOption{WithFilename(filepath.Base(path))}, opts...)
	return e.Import(ctx, data, opts...)
}

// Import runs the full pipeline on raw report bytes.
func (e *engine) Import(ctx context.Context, data []byte, opts ...ImportOption) (*ImportResult, error) {
	options := &importOptions{}
	for _, o := range opts {
		o(options)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	if !options.forceReimport {
		if existing, err := e.store.GetDocumentByHash(ctx, hash); err == nil && existing.Status == "completed" {
			slog.Info("import: content unchanged, skipping", "doc_id", existing.ID, "file", existing.Filename)
			return &ImportResult{
				DocumentID:    existing.ID,
				ContentHash:   hash,
				Skipped:       true,
				Format:        existing.Format,
				ParseMethod:   existing.ParseMethod,
				TakenAt:       existing.TakenAt,
				TakenAtSource: existing.TakenAtSource,
			}, nil
		}
	}

	format := parser.DetectFormat(options.filename, data)
	ext, err := e.parsers.Get(format)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	slog.Info("import: parsing document", "file", options.filename, "format", format, "bytes", len(data))
	start := time.Now()

	rows, err := ext.Rows(data)
	if err != nil {
		// A text-layer failure is recoverable when OCR can transcribe
		// the document from scratch.
		if e.ocrClient == nil || format != "pdf" {
			return nil, parseFailure(err)
		}
		slog.Warn("import: text extraction failed, relying on ocr", "error", err)
		rows = nil
	}
	pages := parser.PagesFromRows(rows)

	strategy := options.parseMethod
	if strategy == "" {
		strategy = parser.ChooseStrategy(rows)
	}

	// The first pipeline pass sees the positioned rows; the OCR re-parse
	// works from merged page text where column geometry no longer exists.
	firstPass := true
	parse := func(p []parser.PageText) []parser.Record {
		if firstPass && strategy == "columns" {
			firstPass = false
			return parser.BuildRowRecords(rows)
		}
		firstPass = false
		return parser.ParseRecords(p)
	}

	var pipeOCR pipeline.OCR
	if e.ocrClient != nil && format == "pdf" {
		pipeOCR = e.ocrClient
	}

	pipeRes := pipeline.Run(ctx, data, pages, parse, pipeOCR, pipeline.Config{
		FlaggedAnalyte: e.cfg.FlaggedAnalyte,
		MinRecords:     e.cfg.OCRMinRecords,
		MinTextLen:     e.cfg.OCRMinTextLen,
	})

	parseMethod := strategy
	if pipeRes.OCRUsed {
		parseMethod = strategy + "+ocr"
	}

	records, llmUsed := e.normalizeRecords(ctx, pipeRes)
	if llmUsed {
		parseMethod += "+llm"
	}

	metricsJSON, _ := json.Marshal(pipeRes.Metrics)
	ocrError := ""
	if pipeRes.OCRErr != nil {
		ocrError = pipeRes.OCRErr.Error()
	}

	docID, err := e.store.UpsertDocument(ctx, &store.Document{
		ContentHash:   hash,
		Filename:      options.filename,
		Format:        format,
		PatientID:     options.patientID,
		ParseMethod:   parseMethod,
		Status:        "processing",
		TriggeredBy:   pipeRes.TriggeredBy,
		OCRError:      ocrError,
		Metrics:       string(metricsJSON),
		TakenAt:       pipeRes.TakenAt,
		TakenAtSource: pipeRes.TakenAtSource,
	})
	if err != nil {
		return nil, err
	}

	if options.forceReimport {
		if err := e.store.DeleteDocumentResults(ctx, docID); err != nil {
			return nil, fmt.Errorf("clearing old results: %w", err)
		}
	}

	inserted, err := e.store.InsertResults(ctx, docID, toStoreResults(records))
	if err != nil {
		e.store.UpdateDocumentStatus(ctx, docID, "error")
		return nil, fmt.Errorf("persisting results: %w", err)
	}
	if err := e.store.UpdateDocumentStatus(ctx, docID, "completed"); err != nil {
		return nil, err
	}

	if e.embedLLM != nil {
		if err := e.embedNewSeries(ctx); err != nil {
			slog.Warn("import: series embedding failed (non-fatal)", "error", err)
		}
	}

	slog.Info("import: document ready",
		"doc_id", docID, "file", options.filename, "method", parseMethod,
		"records", len(records), "inserted", inserted,
		"elapsed", time.Since(start).Round(time.Millisecond))

	return &ImportResult{
		DocumentID:      docID,
		ContentHash:     hash,
		Format:          format,
		ParseMethod:     parseMethod,
		RecordsTotal:    len(records),
		RecordsInserted: inserted,
		TriggeredBy:     pipeRes.TriggeredBy,
		OCRUsed:         pipeRes.OCRUsed,
		OCRError:        ocrError,
		TakenAt:         pipeRes.TakenAt,
		TakenAtSource:   pipeRes.TakenAtSource,
		Records:         records,
	}, nil
}

// normalizeRecords produces the final record set, preferring LLM
// extraction when it is enabled and returns anything usable.
func (e *engine) normalizeRecords(ctx context.Context, pipeRes pipeline.Result) ([]normalize.Record, bool) {
	if e.extractor != nil {
		rows := pageRows(pipeRes.Pages)
		items, err := e.extractor.Extract(ctx, rows)
		if err != nil {
			slog.Warn("import: llm extraction failed, using rule-based records", "error", err)
		} else if len(items) > 0 {
			records := normalize.FromItems(items, rows)
			stampRecords(records, pipeRes.TakenAt, pipeRes.TakenAtSource)
			return records, true
		}
	}
	return normalize.FromCandidates(pipeRes.Records), false
}

// pageRows renders the parsed page texts into addressable source rows
// for the LLM extractor. The extractor sees every normalized line, not
// just the ones the rule parser recognized, so it can recover records
// from layouts the rules miss entirely.
func pageRows(pages []parser.PageText) []extract.Row {
	var rows []extract.Row
	for _, pg := range pages {
		for _, line := range parser.NormalizeLines(pg.Text) {
			rows = append(rows, extract.Row{Page: pg.Page, Index: len(rows), Text: line})
		}
	}
	return rows
}

// parseFailure maps extraction errors onto the package sentinels so
// callers can tell a scanned document apart from a corrupt one.
func parseFailure(err error) error {
	if errors.Is(err, parser.ErrNoTextLayer) {
		return fmt.Errorf("%w: %v", ErrNoTextLayer, err)
	}
	return fmt.Errorf("%w: %v", ErrParsingFailed, err)
}

func stampRecords(records []normalize.Record, takenAt time.Time, src string) {
	if takenAt.IsZero() {
		return
	}
	for i := range records {
		records[i].TakenAt = takenAt
		records[i].TakenAtSource = src
	}
}

func toStoreResults(records []normalize.Record) []store.Result {
	out := make([]store.Result, len(records))
	for i, r := range records {
		res := store.Result{
			SeriesKey:     r.SeriesKey,
			AnalyteName:   r.AnalyteName,
			Value:         r.Value,
			ValueText:     r.ValueText,
			ValueOperator: r.ValueOperator,
			ValueKey:      normalize.ValueKey(r),
			Unit:          r.Unit,
			RefRange:      r.RefRange,
			RefMin:        r.RefMin,
			RefMax:        r.RefMax,
			Specimen:      r.Specimen,
			Section:       r.Section,
			Method:        r.Method,
			Page:          r.Page,
			TakenAt:       r.TakenAt,
			TakenAtSource: r.TakenAtSource,
			DerivedStage:  r.DerivedStage,
			RawFragment:   r.RawFragment,
		}
		if r.Reference != nil {
			res.RefType = r.Reference.Type
			if bands, err := json.Marshal(r.Reference.Bands); err == nil && len(r.Reference.Bands) > 0 {
				res.RefBands = string(bands)
			}
		}
		out[i] = res
	}
	return out
}

// embedNewSeries backfills embeddings for series that do not have one.
func (e *engine) embedNewSeries(ctx context.Context) error {
	pending, err := e.store.SeriesWithoutEmbedding(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	texts := make([]string, len(pending))
	for i, sr := range pending {
		texts[i] = strings.TrimSpace(sr.AnalyteName + " " + sr.Section)
	}

	embeddings, err := e.embedLLM.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(embeddings) != len(pending) {
		return fmt.Errorf("%w: got %d vectors for %d series", ErrEmbeddingFailed, len(embeddings), len(pending))
	}

	for i, sr := range pending {
		if err := e.store.InsertSeriesEmbedding(ctx, sr.ID, embeddings[i]); err != nil {
			slog.Warn("storing series embedding failed", "series_id", sr.ID, "error", err)
		}
	}
	slog.Info("import: embedded new series", "count", len(pending))
	return nil
}

// ListDocuments returns all imported documents.
func (e *engine) ListDocuments(ctx context.Context) ([]store.Document, error) {
	return e.store.ListDocuments(ctx)
}

// DeleteDocument removes a document and all its results.
func (e *engine) DeleteDocument(ctx context.Context, documentID int64) error {
	err := e.store.DeleteDocument(ctx, documentID)
	if err == store.ErrNotFound {
		return fmt.Errorf("%w: %d", ErrDocumentNotFound, documentID)
	}
	return err
}

// ListSeries returns every analyte series.
func (e *engine) ListSeries(ctx context.Context) ([]store.Series, error) {
	return e.store.ListSeries(ctx)
}

// SeriesPoints returns one series' timeline.
func (e *engine) SeriesPoints(ctx context.Context, seriesKey string) ([]store.SeriesPoint, error) {
	points, err := e.store.SeriesPoints(ctx, seriesKey)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		if _, err := e.store.GetSeriesByKey(ctx, seriesKey); err == store.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", ErrSeriesNotFound, seriesKey)
		}
	}
	return points, nil
}

// SearchSeries finds series by analyte name. The embedding path handles
// misspellings and synonyms; FTS is the fallback when no embedding
// provider is configured or the vector search fails.
func (e *engine) SearchSeries(ctx context.Context, query string, k int) ([]store.SeriesMatch, error) {
	if k <= 0 {
		k = 10
	}
	if e.embedLLM != nil {
		embeddings, err := e.embedLLM.Embed(ctx, []string{query})
		if err == nil && len(embeddings) == 1 {
			matches, verr := e.store.SearchSeriesByEmbedding(ctx, embeddings[0], k)
			if verr == nil && len(matches) > 0 {
				return matches, nil
			}
		} else {
			slog.Warn("search: embedding failed, falling back to fts", "error", err)
		}
	}
	return e.store.SearchSeriesFTS(ctx, query, k)
}

// Store returns the underlying store for diagnostic access.
func (e *engine) Store() *store.Store {
	return e.store
}

// Close shuts down the engine.
func (e *engine) Close() error {
	return e.store.Close()
}
