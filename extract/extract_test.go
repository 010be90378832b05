package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/avelarde/labparse/llm"
)

// fakeChat replays canned responses and records the requests it saw.
type fakeChat struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
}

func (f *fakeChat) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	resp := f.responses[len(f.responses)-1]
	if i < len(f.responses) {
		resp = f.responses[i]
	}
	return &llm.ChatResponse{Content: resp}, nil
}

func (f *fakeChat) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("not implemented")
}

func itemsJSON(items ...Item) string {
	b, _ := json.Marshal(map[string]any{"analytes": items})
	return string(b)
}

func someRows(n int) []Row {
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = Row{Page: 1, Index: i, Text: fmt.Sprintf("ROW %d", i)}
	}
	return rows
}

func TestMakeBatches(t *testing.T) {
	rows := someRows(120)
	batches := makeBatches(rows, 50, 10)
	if len(batches) != 3 {
		t.Fatalf("batches = %d, want 3", len(batches))
	}
	// second batch starts 10 rows before the first one ended
	if batches[1][0].Index != 40 {
		t.Errorf("batch 1 starts at row %d, want 40", batches[1][0].Index)
	}
	if last := batches[2]; last[len(last)-1].Index != 119 {
		t.Errorf("final batch ends at %d, want 119", last[len(last)-1].Index)
	}
}

func TestMakeBatchesSmallInput(t *testing.T) {
	batches := makeBatches(someRows(7), 50, 10)
	if len(batches) != 1 || len(batches[0]) != 7 {
		t.Fatalf("batches = %v, want single batch of 7", len(batches))
	}
}

func TestExtractParsesItems(t *testing.T) {
	v := 94.2
	chat := &fakeChat{responses: []string{itemsJSON(Item{
		AnalyteName: "GLUCOSA", Value: &v, Unit: "mg/dL",
		RefRange: "70 a 100", SourceRows: []int{2},
	})}}

	items, err := New(chat, Options{}).Extract(context.Background(), someRows(3))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	if items[0].AnalyteName != "GLUCOSA" || items[0].Value == nil || *items[0].Value != 94.2 {
		t.Errorf("item = %+v", items[0])
	}
}

func TestExtractEmptyDefersToRules(t *testing.T) {
	chat := &fakeChat{responses: []string{`{"analytes": []}`}}
	items, err := New(chat, Options{}).Extract(context.Background(), someRows(3))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if items != nil {
		t.Errorf("items = %v, want nil to signal fallback", items)
	}
}

func TestExtractRetriesOnGarbage(t *testing.T) {
	v := 1.0
	chat := &fakeChat{responses: []string{
		"not json at all",
		itemsJSON(Item{AnalyteName: "UREA", Value: &v, SourceRows: []int{0}}),
	}}

	items, err := New(chat, Options{MaxRetries: 2}).Extract(context.Background(), someRows(2))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(items) != 1 || items[0].AnalyteName != "UREA" {
		t.Errorf("items = %+v, want UREA after retry", items)
	}
	if chat.calls != 2 {
		t.Errorf("calls = %d, want 2", chat.calls)
	}
}

func TestDecodeItemsFenced(t *testing.T) {
	content := "Here you go:\n```json\n{\"analytes\":[{\"analyte_name\":\"SODIO\",\"value\":140,\"source_rows\":[1]}]}\n```"
	items, err := decodeItems(content)
	if err != nil {
		t.Fatalf("decodeItems: %v", err)
	}
	if len(items) != 1 || items[0].AnalyteName != "SODIO" {
		t.Errorf("items = %+v", items)
	}
}

func TestDecodeItemsStringValue(t *testing.T) {
	content := `{"analytes":[{"analyte_name":"EXAMEN","value":"NEGATIVO","source_rows":[4]}]}`
	items, err := decodeItems(content)
	if err != nil {
		t.Fatalf("decodeItems: %v", err)
	}
	if items[0].Value != nil {
		t.Errorf("value = %v, want nil", *items[0].Value)
	}
	if items[0].ValueText != "NEGATIVO" {
		t.Errorf("value_text = %q, want NEGATIVO", items[0].ValueText)
	}
}

func TestDecodeItemsRejectsMissingSourceRows(t *testing.T) {
	content := `{"analytes":[{"analyte_name":"UREA","value":30},{"analyte_name":"CREATININA","value":1.1,"source_rows":[5]}]}`
	items, err := decodeItems(content)
	if err != nil {
		t.Fatalf("decodeItems: %v", err)
	}
	if len(items) != 1 || items[0].AnalyteName != "CREATININA" {
		t.Errorf("items = %+v, want only CREATININA", items)
	}
}

func TestDedupePrefersCompleteItem(t *testing.T) {
	v := 138.0
	items := dedupeItems([]Item{
		{AnalyteName: "SODIO SERICO", Value: nil, SourceRows: []int{9}},
		{AnalyteName: "sodio serico", Value: &v, Unit: "mmol/L", SourceRows: []int{9}},
	})
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	if items[0].Value == nil || *items[0].Value != 138 || items[0].Unit != "mmol/L" {
		t.Errorf("kept %+v, want the item with value and unit", items[0])
	}
}
