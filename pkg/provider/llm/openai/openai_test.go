package openai

import (
	"testing"

	"github.com/MrWong99/personae/pkg/provider/llm"
)

// TestConvertMessage_Roles checks that each supported role maps to the right
// SDK union member.
func TestConvertMessage_Roles(t *testing.T) {
	t.Run("system", func(t *testing.T) {
		p, err := convertMessage(llm.Message{Role: llm.RoleSystem, Content: "You are Luna."})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.OfSystem == nil {
			t.Fatal("expected OfSystem to be set")
		}
	})
	t.Run("user", func(t *testing.T) {
		p, err := convertMessage(llm.Message{Role: llm.RoleUser, Content: "Hello!"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.OfUser == nil {
			t.Fatal("expected OfUser to be set")
		}
	})
	t.Run("assistant with name", func(t *testing.T) {
		p, err := convertMessage(llm.Message{Role: llm.RoleAssistant, Content: "Hi there!", Name: "Luna"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.OfAssistant == nil {
			t.Fatal("expected OfAssistant to be set")
		}
	})
}

// TestConvertMessage_UnknownRole checks that an unknown role is rejected.
func TestConvertMessage_UnknownRole(t *testing.T) {
	if _, err := convertMessage(llm.Message{Role: "tool", Content: "x"}); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

// TestBuildParams_PromptOnly checks that a single prompt string becomes one
// user message after the system prompt.
func TestBuildParams_PromptOnly(t *testing.T) {
	p := &Provider{model: "gpt-4o-mini"}
	params, err := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "sys",
		Prompt:       "You are Aria. Respond as Aria.",
		Temperature:  0.8,
		MaxTokens:    150,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].OfSystem == nil || params.Messages[1].OfUser == nil {
		t.Error("expected system then user message")
	}
	if string(params.Model) != "gpt-4o-mini" {
		t.Errorf("model = %q, want gpt-4o-mini", params.Model)
	}
}

// TestBuildParams_ModelOverride checks that a per-request model wins.
func TestBuildParams_ModelOverride(t *testing.T) {
	p := &Provider{model: "gpt-4o-mini"}
	params, err := p.buildParams(llm.CompletionRequest{Prompt: "hi", Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(params.Model) != "gpt-4o" {
		t.Errorf("model = %q, want gpt-4o", params.Model)
	}
}

// TestBuildParams_Empty checks that an empty request is rejected.
func TestBuildParams_Empty(t *testing.T) {
	p := &Provider{model: "gpt-4o-mini"}
	if _, err := p.buildParams(llm.CompletionRequest{}); err == nil {
		t.Fatal("expected error for empty request")
	}
}

// TestNew_Validation checks constructor argument validation.
func TestNew_Validation(t *testing.T) {
	if _, err := New("sk-test", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty key without base URL")
	}
	if _, err := New("", "local-model", WithBaseURL("http://localhost:8080/v1")); err != nil {
		t.Errorf("local base URL without key should be accepted: %v", err)
	}
}

// TestModelCapabilities checks the context window table.
func TestModelCapabilities(t *testing.T) {
	if got := modelCapabilities("gpt-4o").MaxOutputTokens; got != 16_384 {
		t.Errorf("gpt-4o MaxOutputTokens = %d, want 16384", got)
	}
	if got := modelCapabilities("gpt-4").ContextWindow; got != 8_192 {
		t.Errorf("gpt-4 ContextWindow = %d, want 8192", got)
	}
	if !modelCapabilities("anything").SupportsStreaming {
		t.Error("expected streaming support by default")
	}
}
