package labparse

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Chat.Provider != "ollama" || cfg.EmbeddingDim != 768 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.FlaggedAnalyte != "CREATININA" {
		t.Errorf("flagged analyte = %q", cfg.FlaggedAnalyte)
	}
}

func TestLoadConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
db_name: labs
chat:
  provider: openrouter
  model: meta-llama/llama-3.1-70b-instruct
  api_key: sk-test
use_llm_extraction: true
ocr_min_records: 5
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.DBName != "labs" || cfg.Chat.Provider != "openrouter" || !cfg.UseLLMExtraction {
		t.Errorf("loaded = %+v", cfg)
	}
	if cfg.OCRMinRecords != 5 {
		t.Errorf("ocr_min_records = %d, want 5", cfg.OCRMinRecords)
	}
	// Untouched fields keep their defaults.
	if cfg.Embedding.Provider != "ollama" || cfg.EmbeddingDim != 768 {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoadConfigJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"db_path": "/tmp/labs.db"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.DBPath != "/tmp/labs.db" {
		t.Errorf("db_path = %q", cfg.DBPath)
	}
}

func TestResolveDBPath(t *testing.T) {
	cfg := Config{DBPath: "/data/x.db"}
	if got := cfg.resolveDBPath(); got != "/data/x.db" {
		t.Errorf("explicit path ignored: %q", got)
	}

	cfg = Config{DBName: "labs", StorageDir: "local"}
	if got := cfg.resolveDBPath(); got != "labs.db" {
		t.Errorf("local path = %q, want labs.db", got)
	}

	cfg = Config{DBName: "labs", StorageDir: "home"}
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	want := filepath.Join(home, ".labparse", "labs.db")
	if got := cfg.resolveDBPath(); got != want {
		t.Errorf("home path = %q, want %q", got, want)
	}
}
