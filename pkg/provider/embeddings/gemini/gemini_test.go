package gemini

import (
	"context"
	"testing"
)

func TestNew_Validation(t *testing.T) {
	if _, err := New(context.Background(), "", ""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New(context.Background(), "test-key", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ModelID() != DefaultModel {
		t.Errorf("ModelID() = %q, want %q", p.ModelID(), DefaultModel)
	}
	if p.Dimensions() != defaultDimensions {
		t.Errorf("Dimensions() = %d, want %d", p.Dimensions(), defaultDimensions)
	}
	if p.embedConfig() != nil {
		t.Error("expected nil embed config without WithDimensions")
	}
}

func TestWithDimensions(t *testing.T) {
	p, err := New(context.Background(), "test-key", "", WithDimensions(768))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Dimensions() != 768 {
		t.Errorf("Dimensions() = %d, want 768", p.Dimensions())
	}
	cfg := p.embedConfig()
	if cfg == nil || cfg.OutputDimensionality == nil || *cfg.OutputDimensionality != 768 {
		t.Errorf("embedConfig() = %+v, want OutputDimensionality 768", cfg)
	}
}
