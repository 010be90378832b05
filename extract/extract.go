// Package extract sends report rows to a chat LLM in overlapping batches
// and merges the structured analytes it returns. The rule-based parser
// remains the fallback: a run that yields nothing returns (nil, nil) so
// the caller can defer instead of persisting an empty result.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/avelarde/labparse/llm"
)

// Row is one source line of the report, addressed by page and index so
// the model can cite which rows produced each analyte.
type Row struct {
	Page  int    `json:"page"`
	Index int    `json:"row_index"`
	Text  string `json:"text"`
}

// Item is one extracted analyte as returned by the model.
type Item struct {
	AnalyteName  string   `json:"analyte_name"`
	OriginalName string   `json:"original_name,omitempty"`
	Value        *float64 `json:"value"`
	ValueText    string   `json:"value_text,omitempty"`
	Unit         string   `json:"unit,omitempty"`
	RefRange     string   `json:"ref_range,omitempty"`
	Section      string   `json:"section,omitempty"`
	SourceRows   []int    `json:"source_rows"`
}

// Options tunes batching and retry behavior.
type Options struct {
	BatchSize  int
	MaxWorkers int
	MaxRetries int
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = 5
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 2
	}
	return o
}

// overlap keeps a few rows shared between consecutive batches so that
// records split across a batch boundary are seen whole at least once.
func (o Options) overlap() int {
	ov := o.BatchSize / 5
	if ov > 10 {
		ov = 10
	}
	return ov
}

// Extractor runs LLM extraction over report rows.
type Extractor struct {
	chat llm.Provider
	opts Options
}

func New(chat llm.Provider, opts Options) *Extractor {
	return &Extractor{chat: chat, opts: opts.withDefaults()}
}

// Extract sends the rows through the model and returns deduplicated
// analytes. A run where every batch fails or returns nothing yields
// (nil, nil): the caller should fall back to rule-based parsing.
func (e *Extractor) Extract(ctx context.Context, rows []Row) ([]Item, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	batches := makeBatches(rows, e.opts.BatchSize, e.opts.overlap())
	results := make([][]Item, len(batches))

	workers := e.opts.MaxWorkers
	if workers > len(batches) {
		workers = len(batches)
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, batch := range batches {
		wg.Add(1)
		go func(i int, batch []Row) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			items, err := e.extractBatch(ctx, batch)
			if err != nil {
				slog.Warn("extract: batch failed", "batch", i, "rows", len(batch), "error", err)
				return
			}
			results[i] = items
		}(i, batch)
	}
	wg.Wait()

	// Merge in batch order so re-runs produce identical output.
	var all []Item
	for _, items := range results {
		all = append(all, items...)
	}
	merged := dedupeItems(all)
	if len(merged) == 0 {
		return nil, nil
	}
	return merged, nil
}

func makeBatches(rows []Row, size, overlap int) [][]Row {
	var batches [][]Row
	for start := 0; start < len(rows); {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		batches = append(batches, rows[start:end])
		if end == len(rows) {
			break
		}
		start = end - overlap
	}
	return batches
}

func (e *Extractor) extractBatch(ctx context.Context, batch []Row) ([]Item, error) {
	payload, err := json.Marshal(struct {
		Rows []Row `json:"rows"`
	}{batch})
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= e.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(1<<attempt) * time.Second):
			}
		}

		resp, err := e.chat.Chat(ctx, llm.ChatRequest{
			Messages: []llm.Message{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: string(payload)},
			},
			Temperature:    0.1,
			ResponseFormat: "json_object",
		})
		if err != nil {
			lastErr = err
			continue
		}

		items, err := decodeItems(resp.Content)
		if err != nil {
			lastErr = err
			continue
		}
		return items, nil
	}
	return nil, lastErr
}

// decodeItems parses the model output, tolerating markdown fences and
// leading prose around the JSON object.
func decodeItems(content string) ([]Item, error) {
	raw, err := extractJSON(content)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Analytes []json.RawMessage `json:"analytes"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("response is not the expected object: %w", err)
	}

	var items []Item
	for _, rawItem := range envelope.Analytes {
		item, ok := decodeItem(rawItem)
		if !ok {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// decodeItem validates one analyte. The value field may arrive as a JSON
// number or as a string; strings that do not parse stay as value_text.
func decodeItem(raw json.RawMessage) (Item, bool) {
	var loose struct {
		AnalyteName  string `json:"analyte_name"`
		OriginalName string `json:"original_name"`
		Value        any    `json:"value"`
		ValueText    string `json:"value_text"`
		Unit         string `json:"unit"`
		RefRange     string `json:"ref_range"`
		Section      string `json:"section"`
		SourceRows   []int  `json:"source_rows"`
	}
	if err := json.Unmarshal(raw, &loose); err != nil {
		return Item{}, false
	}
	if strings.TrimSpace(loose.AnalyteName) == "" || loose.SourceRows == nil {
		return Item{}, false
	}

	item := Item{
		AnalyteName:  loose.AnalyteName,
		OriginalName: loose.OriginalName,
		ValueText:    loose.ValueText,
		Unit:         loose.Unit,
		RefRange:     loose.RefRange,
		Section:      loose.Section,
		SourceRows:   loose.SourceRows,
	}
	switch v := loose.Value.(type) {
	case float64:
		item.Value = &v
	case string:
		if item.ValueText == "" {
			item.ValueText = v
		}
	}
	return item, true
}

func extractJSON(content string) (json.RawMessage, error) {
	content = strings.TrimSpace(content)
	if json.Valid([]byte(content)) {
		return json.RawMessage(content), nil
	}
	if i := strings.Index(content, "```json"); i >= 0 {
		rest := content[i+len("```json"):]
		if j := strings.Index(rest, "```"); j >= 0 {
			fenced := strings.TrimSpace(rest[:j])
			if json.Valid([]byte(fenced)) {
				return json.RawMessage(fenced), nil
			}
		}
	}
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		candidate := content[start : end+1]
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), nil
		}
	}
	return nil, fmt.Errorf("no JSON object in response")
}

// dedupeItems collapses analytes repeated across overlapping batches,
// preferring the most complete extraction: a non-null value beats a null
// one, then a reference range, then a unit.
func dedupeItems(items []Item) []Item {
	var out []Item
	index := map[string]int{}
	for _, item := range items {
		key := strings.ToUpper(strings.TrimSpace(item.AnalyteName))
		if i, seen := index[key]; seen {
			if moreComplete(item, out[i]) {
				out[i] = item
			}
			continue
		}
		index[key] = len(out)
		out = append(out, item)
	}
	return out
}

func moreComplete(a, b Item) bool {
	if (a.Value != nil) != (b.Value != nil) {
		return a.Value != nil
	}
	if (a.RefRange != "") != (b.RefRange != "") {
		return a.RefRange != ""
	}
	if (a.Unit != "") != (b.Unit != "") {
		return a.Unit != ""
	}
	return false
}
