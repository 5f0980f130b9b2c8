package openai

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/vnmchuo/umlgen/internal/provider"
)

func testSpec() provider.Spec {
	return New(Options{
		ID:          "chatgpt",
		Name:        "OpenAI ChatGPT",
		Model:       "gpt-4o",
		Temperature: Float(0.7),
	})
}

func TestBuildRequest_Stream(t *testing.T) {
	spec := testSpec()

	body, _ := json.Marshal(spec.BuildRequest(provider.Request{Prompt: "hi", Stream: true}))
	var req openAIRequest
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("Failed to decode request: %v", err)
	}

	if !req.Stream {
		t.Error("Expected stream to be true")
	}
	if req.Model != "gpt-4o" {
		t.Errorf("Expected model gpt-4o, got %s", req.Model)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" || req.Messages[0].Content != "hi" {
		t.Errorf("Expected one user message 'hi', got %+v", req.Messages)
	}
	if req.Temperature == nil || *req.Temperature != 0.7 {
		t.Errorf("Expected temperature 0.7, got %v", req.Temperature)
	}
}

func TestBuildRequest_ModelOverride(t *testing.T) {
	spec := testSpec()

	req := spec.BuildRequest(provider.Request{Prompt: "hi", Model: "gpt-4-turbo"}).(openAIRequest)
	if req.Model != "gpt-4-turbo" {
		t.Errorf("Expected overridden model gpt-4-turbo, got %s", req.Model)
	}
	if req.Stream {
		t.Error("Expected stream to be false for non-streaming request")
	}
}

func TestBuildRequest_NoStreaming(t *testing.T) {
	spec := New(Options{ID: "batch", Model: "m", NoStreaming: true})

	if spec.SupportsStreaming {
		t.Error("Expected streaming to be disabled")
	}
	if spec.StreamFormat != provider.StreamUnsupported {
		t.Errorf("Expected unsupported stream format, got %s", spec.StreamFormat)
	}

	body, _ := json.Marshal(spec.BuildRequest(provider.Request{Prompt: "hi", Stream: true}))
	var raw map[string]any
	_ = json.Unmarshal(body, &raw)
	if _, ok := raw["stream"]; ok {
		t.Errorf("Expected no stream field, got %s", string(body))
	}
}

func TestHeaders(t *testing.T) {
	h := testSpec().Headers("sk-test")
	if h["Authorization"] != "Bearer sk-test" {
		t.Errorf("Expected bearer auth header, got %s", h["Authorization"])
	}
	if _, ok := h["Content-Type"]; ok {
		t.Error("Content-Type is set by the client, not the provider")
	}
}

func TestEndpoint_Default(t *testing.T) {
	if got := testSpec().Endpoint("key", "gpt-4o"); got != DefaultEndpoint {
		t.Errorf("Expected %s, got %s", DefaultEndpoint, got)
	}
}

func TestExtractResponse(t *testing.T) {
	content, err := ExtractResponse([]byte(`{"id":"x","choices":[{"message":{"role":"assistant","content":"Hello from OpenAI mock!"}}]}`))
	if err != nil {
		t.Fatalf("ExtractResponse failed: %v", err)
	}
	if content != "Hello from OpenAI mock!" {
		t.Errorf("Expected 'Hello from OpenAI mock!', got %s", content)
	}
}

func TestExtractResponse_Malformed(t *testing.T) {
	cases := []string{
		`{"choices":[]}`,
		`{"output":{"text":"wrong shape"}}`,
		`not json`,
	}
	for _, body := range cases {
		_, err := ExtractResponse([]byte(body))
		if !errors.Is(err, provider.ErrMalformedResponse) {
			t.Errorf("Expected ErrMalformedResponse for %s, got %v", body, err)
		}
	}
}

func TestDecodeStreamEvent(t *testing.T) {
	ev, err := DecodeStreamEvent(`{"choices":[{"delta":{"content":"Hello"},"index":0}]}`)
	if err != nil {
		t.Fatalf("DecodeStreamEvent failed: %v", err)
	}
	if ev.Delta != "Hello" || ev.Done {
		t.Errorf("Expected delta 'Hello', got %+v", ev)
	}

	ev, err = DecodeStreamEvent("[DONE]")
	if err != nil || !ev.Done {
		t.Errorf("Expected done event, got %+v, %v", ev, err)
	}

	ev, err = DecodeStreamEvent(`{"choices":[{"delta":{"role":"assistant"}}]}`)
	if err != nil || ev != (provider.Event{}) {
		t.Errorf("Expected empty event for role-only delta, got %+v, %v", ev, err)
	}

	if _, err := DecodeStreamEvent(`{broken`); err == nil {
		t.Error("Expected parse error for broken payload")
	}
}
