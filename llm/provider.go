// Package llm wraps the chat, embedding and vision endpoints of
// OpenAI-compatible inference servers behind small interfaces, so the
// extraction and OCR layers never talk HTTP directly.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Provider is a chat + embedding capable LLM endpoint.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VisionProvider accepts messages with image or document attachments.
type VisionProvider interface {
	ChatWithImages(ctx context.Context, req VisionChatRequest) (*ChatResponse, error)
}

// Config selects and authenticates a provider endpoint.
type Config struct {
	Provider       string `json:"provider" yaml:"provider"` // ollama, openai, openrouter, custom
	Model          string `json:"model" yaml:"model"`
	BaseURL        string `json:"base_url" yaml:"base_url"`
	APIKey         string `json:"api_key" yaml:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a plain text chat completion request. Setting
// ResponseFormat to "json_object" asks the server for strict JSON output.
type ChatRequest struct {
	Messages       []Message
	MaxTokens      int
	Temperature    float64
	ResponseFormat string
}

// ContentPart is one piece of a multimodal message.
type ContentPart struct {
	Type     string    `json:"type"` // "text" or "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries an image or document as a URL, usually a data URL.
type ImageURL struct {
	URL string `json:"url"`
}

// VisionMessage is a chat turn with multimodal content.
type VisionMessage struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// VisionChatRequest is a chat completion request with attachments.
type VisionChatRequest struct {
	Messages    []VisionMessage
	MaxTokens   int
	Temperature float64
}

// ChatResponse is the assistant turn plus token accounting.
type ChatResponse struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ErrNoProvider is returned when a Config has an empty provider name.
var ErrNoProvider = errors.New("llm provider not specified")

// NewProvider builds a Provider from config. All supported backends speak
// the OpenAI wire format; ollama additionally uses its native embedding
// endpoint.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "":
		return nil, ErrNoProvider
	case "ollama":
		return newOllama(cfg), nil
	case "openai":
		return newOpenAI(cfg), nil
	case "openrouter":
		return newOpenRouter(cfg), nil
	case "custom":
		return &compatProvider{base: newCompatClient(cfg)}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}

// NewVisionProvider builds a VisionProvider from config. Every supported
// backend accepts image parts on the chat endpoint.
func NewVisionProvider(cfg Config) (VisionProvider, error) {
	p, err := NewProvider(cfg)
	if err != nil {
		return nil, err
	}
	vp, ok := p.(VisionProvider)
	if !ok {
		return nil, fmt.Errorf("llm provider %s does not support vision", cfg.Provider)
	}
	return vp, nil
}
