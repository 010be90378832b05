package labparse

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/avelarde/labparse/llm"
)

// Config holds all configuration for the labparse engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.labparse/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "labparse".
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set. Options: "home" (default) uses ~/.labparse/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// LLM providers. Chat drives structured extraction, Vision drives the
	// OCR fallback, Embedding drives fuzzy series search. Any of them may
	// be left unconfigured; the engine degrades to rule-based parsing and
	// FTS search.
	Chat      llm.Config `json:"chat" yaml:"chat"`
	Vision    llm.Config `json:"vision" yaml:"vision"`
	Embedding llm.Config `json:"embedding" yaml:"embedding"`

	// UseLLMExtraction enables the LLM extraction path. The rule-based
	// parser remains the fallback when the model returns nothing usable.
	UseLLMExtraction bool `json:"use_llm_extraction" yaml:"use_llm_extraction"`

	// LLM extraction batching.
	BatchSize  int `json:"batch_size" yaml:"batch_size"`
	MaxWorkers int `json:"max_workers" yaml:"max_workers"`
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// FlaggedAnalyte is tracked in import metrics as a quality signal.
	FlaggedAnalyte string `json:"flagged_analyte" yaml:"flagged_analyte"`

	// OCR trigger thresholds: re-parse with vision when fewer than
	// OCRMinRecords came out of less than OCRMinTextLen characters.
	OCRMinRecords int `json:"ocr_min_records" yaml:"ocr_min_records"`
	OCRMinTextLen int `json:"ocr_min_text_len" yaml:"ocr_min_text_len"`

	// EmbeddingDim must match the embedding model's output dimension.
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`
}

// DefaultConfig returns a Config with sensible defaults for local
// inference. Database is stored in ~/.labparse/labparse.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:     "labparse",
		StorageDir: "home",
		Chat: llm.Config{
			Provider: "ollama",
			Model:    "llama3.1:8b",
			BaseURL:  "http://localhost:11434",
		},
		Vision: llm.Config{
			Provider: "ollama",
			Model:    "llama3.2-vision",
			BaseURL:  "http://localhost:11434",
		},
		Embedding: llm.Config{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
		},
		BatchSize:      50,
		MaxWorkers:     5,
		MaxRetries:     2,
		FlaggedAnalyte: "CREATININA",
		OCRMinRecords:  3,
		OCRMinTextLen:  5000,
		EmbeddingDim:   768,
	}
}

// LoadConfig reads a YAML (or JSON, by extension) config file layered
// over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "labparse"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		dir := filepath.Join(home, ".labparse")
		return filepath.Join(dir, name+".db")
	}
}
