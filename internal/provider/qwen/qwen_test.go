package qwen

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/vnmchuo/umlgen/internal/provider"
)

func TestBuildRequest(t *testing.T) {
	spec := New(Options{ID: "qwen", Model: "qwen-plus", Temperature: 0.7, MaxTokens: 4000})

	body, _ := json.Marshal(spec.BuildRequest(provider.Request{Prompt: "hi", Stream: true}))
	var req qwenRequest
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("Failed to decode request: %v", err)
	}
	if req.Model != "qwen-plus" {
		t.Errorf("Expected qwen-plus, got %s", req.Model)
	}
	if len(req.Input.Messages) != 1 || req.Input.Messages[0].Content != "hi" {
		t.Errorf("Expected prompt under input.messages, got %+v", req.Input)
	}
	if req.Parameters.MaxTokens != 4000 {
		t.Errorf("Expected 4000 max tokens, got %d", req.Parameters.MaxTokens)
	}
	if strings.Contains(string(body), `"stream"`) {
		t.Errorf("Expected no stream field, got %s", string(body))
	}
	if spec.SupportsStreaming {
		t.Error("Qwen should not support streaming")
	}
}

func TestExtractResponse(t *testing.T) {
	content, err := ExtractResponse([]byte(`{"output":{"choices":[{"message":{"role":"assistant","content":"hello"}}]}}`))
	if err != nil {
		t.Fatalf("ExtractResponse failed: %v", err)
	}
	if content != "hello" {
		t.Errorf("Expected 'hello', got %s", content)
	}

	_, err = ExtractResponse([]byte(`{"choices":[{"message":{"content":"openai shape"}}]}`))
	if !errors.Is(err, provider.ErrMalformedResponse) {
		t.Errorf("Expected ErrMalformedResponse, got %v", err)
	}
}
