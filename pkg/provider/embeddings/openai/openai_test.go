package openai

import (
	"testing"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"
)

func stringInput(s string) oai.EmbeddingNewParamsInputUnion {
	return oai.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(s)}
}

func TestModelDimensions(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"text-embedding-ada-002", 1536},
		{"some-future-model", 1536},
	}
	for _, tt := range tests {
		if got := modelDimensions(tt.model); got != tt.want {
			t.Errorf("%s: got %d, want %d", tt.model, got, tt.want)
		}
	}
}

// TestDimensions_Override verifies that WithDimensions wins over the table
// and is sent only for text-embedding-3 models.
func TestDimensions_Override(t *testing.T) {
	p, err := New("sk-test", "text-embedding-3-large", WithDimensions(768))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := p.Dimensions(); got != 768 {
		t.Errorf("Dimensions() = %d, want 768", got)
	}
	if !p.params(stringInput("x")).Dimensions.Valid() {
		t.Error("expected dimensions param to be set for text-embedding-3")
	}

	ada, _ := New("sk-test", "text-embedding-ada-002", WithDimensions(768))
	if ada.params(stringInput("x")).Dimensions.Valid() {
		t.Error("dimensions param must not be sent for ada-002")
	}
}

func TestNew(t *testing.T) {
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ModelID() != DefaultModel {
		t.Errorf("expected default model %s, got %s", DefaultModel, p.ModelID())
	}
	if _, err := New("", "text-embedding-3-small"); err == nil {
		t.Error("expected error for empty API key")
	}
	if _, err := New("sk-test", "text-embedding-3-small",
		WithBaseURL("https://custom.example.com"),
		WithOrganization("org-123"),
	); err != nil {
		t.Errorf("unexpected error with valid options: %v", err)
	}
}

func TestFloat64ToFloat32(t *testing.T) {
	in := []float64{1.0, 2.5, -0.5}
	out := float64ToFloat32(in)
	if len(out) != len(in) {
		t.Fatalf("expected %d elements, got %d", len(in), len(out))
	}
	for i, v := range out {
		if v != float32(in[i]) {
			t.Errorf("index %d: expected %v, got %v", i, float32(in[i]), v)
		}
	}
}
