package llm

import (
	"fmt"
	"reflect"
	"testing"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		provider string
		wantType string
	}{
		{"ollama", "*llm.ollamaProvider"},
		{"openai", "*llm.openAIProvider"},
		{"openrouter", "*llm.openRouterProvider"},
		{"custom", "*llm.compatProvider"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := NewProvider(Config{Provider: tt.provider, Model: "test-model"})
			if err != nil {
				t.Fatalf("NewProvider(%q) returned error: %v", tt.provider, err)
			}
			if gotType := fmt.Sprintf("%T", p); gotType != tt.wantType {
				t.Errorf("NewProvider(%q) type = %s, want %s", tt.provider, gotType, tt.wantType)
			}
		})
	}
}

func TestNewProviderUnknown(t *testing.T) {
	_, err := NewProvider(Config{Provider: "doesnotexist", Model: "m"})
	if err == nil {
		t.Fatal("expected error for unknown provider, got nil")
	}
	want := "unknown llm provider: doesnotexist"
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestNewProviderEmpty(t *testing.T) {
	_, err := NewProvider(Config{Model: "m"})
	if err != ErrNoProvider {
		t.Errorf("error = %v, want ErrNoProvider", err)
	}
}

// TestDefaultBaseURLs verifies that when BaseURL is empty in the config,
// each provider constructor fills in the right endpoint.
func TestDefaultBaseURLs(t *testing.T) {
	tests := []struct {
		provider string
		wantURL  string
	}{
		{"ollama", "http://localhost:11434"},
		{"openai", "https://api.openai.com"},
		{"openrouter", "https://openrouter.ai/api"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := NewProvider(Config{Provider: tt.provider, Model: "m"})
			if err != nil {
				t.Fatalf("NewProvider(%q): %v", tt.provider, err)
			}
			if gotURL := baseURLOf(p); gotURL != tt.wantURL {
				t.Errorf("default BaseURL for %q = %q, want %q", tt.provider, gotURL, tt.wantURL)
			}
		})
	}
}

// TestCustomProviderNoDefaultURL confirms the custom provider leaves an
// empty BaseURL alone.
func TestCustomProviderNoDefaultURL(t *testing.T) {
	p, err := NewProvider(Config{Provider: "custom", Model: "m"})
	if err != nil {
		t.Fatalf("NewProvider(custom): %v", err)
	}
	if gotURL := baseURLOf(p); gotURL != "" {
		t.Errorf("custom provider BaseURL = %q, want empty", gotURL)
	}
}

func TestExplicitBaseURLPreserved(t *testing.T) {
	customURL := "http://my-server:9999"
	for _, provider := range []string{"ollama", "openai", "openrouter", "custom"} {
		t.Run(provider, func(t *testing.T) {
			p, err := NewProvider(Config{Provider: provider, Model: "m", BaseURL: customURL})
			if err != nil {
				t.Fatalf("NewProvider(%q): %v", provider, err)
			}
			if gotURL := baseURLOf(p); gotURL != customURL {
				t.Errorf("provider %q BaseURL = %q, want %q", provider, gotURL, customURL)
			}
		})
	}
}

// TestEveryProviderSupportsVision confirms NewVisionProvider accepts all
// built-in backends.
func TestEveryProviderSupportsVision(t *testing.T) {
	for _, provider := range []string{"ollama", "openai", "openrouter", "custom"} {
		t.Run(provider, func(t *testing.T) {
			vp, err := NewVisionProvider(Config{Provider: provider, Model: "m"})
			if err != nil {
				t.Fatalf("NewVisionProvider(%q): %v", provider, err)
			}
			if vp == nil {
				t.Fatal("vision provider is nil")
			}
		})
	}
}

func TestRetryDelayRateLimit(t *testing.T) {
	he := &httpError{status: 429, retryAfter: "30"}
	if d := retryDelay(2, he); d.Seconds() != 30 {
		t.Errorf("retryDelay honoring Retry-After = %v, want 30s", d)
	}

	he = &httpError{status: 429}
	if d := retryDelay(2, he); d.Seconds() != 5 {
		t.Errorf("retryDelay 429 floor = %v, want 5s", d)
	}
}

func TestRetryableStatus(t *testing.T) {
	for code, want := range map[int]bool{429: true, 502: true, 503: true, 504: true, 400: false, 401: false, 500: false} {
		if got := retryableStatus(code); got != want {
			t.Errorf("retryableStatus(%d) = %v, want %v", code, got, want)
		}
	}
}

// baseURLOf reaches base.cfg.BaseURL on the concrete provider type.
func baseURLOf(p Provider) string {
	v := reflect.ValueOf(p).Elem()
	return v.FieldByName("base").FieldByName("cfg").FieldByName("BaseURL").String()
}
