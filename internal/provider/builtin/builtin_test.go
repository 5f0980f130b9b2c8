package builtin

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/vnmchuo/umlgen/config"
	"github.com/vnmchuo/umlgen/internal/provider"
)

func TestSpecs_StreamFieldFollowsSupport(t *testing.T) {
	reg, err := provider.NewRegistry(Specs("https://llm.internal/v1/chat/completions", "local-model")...)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	for _, spec := range reg.List() {
		body, err := json.Marshal(spec.BuildRequest(provider.Request{Prompt: "p", Stream: true}))
		if err != nil {
			t.Fatalf("%s: marshal failed: %v", spec.ID, err)
		}
		var raw map[string]any
		_ = json.Unmarshal(body, &raw)

		stream, _ := raw["stream"].(bool)
		if stream != spec.SupportsStreaming {
			t.Errorf("%s: stream field %v, supports streaming %v", spec.ID, stream, spec.SupportsStreaming)
		}
		if !spec.SupportsStreaming && spec.StreamFormat != provider.StreamUnsupported {
			t.Errorf("%s: non-streaming provider with format %s", spec.ID, spec.StreamFormat)
		}
	}
}

func TestSpecs_CustomOnlyWhenConfigured(t *testing.T) {
	reg, err := provider.NewRegistry(Specs("", "")...)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	if _, err := reg.Lookup("custom"); !errors.Is(err, provider.ErrUnknownProvider) {
		t.Errorf("Expected custom to be absent, got %v", err)
	}

	spec, err := reg.Lookup("chatgpt")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if spec.CredentialKey != "openai" {
		t.Errorf("Expected chatgpt to use the openai credential, got %s", spec.CredentialKey)
	}

	claudeSpec, _ := reg.Lookup("claude")
	if claudeSpec.CredentialKey != "claude" {
		t.Errorf("Expected claude credential key to default to id, got %s", claudeSpec.CredentialKey)
	}
}

func TestNewRegistry_WithCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	catalog := `
providers:
  - id: openrouter
    name: OpenRouter
    kind: openai
    endpoint: https://openrouter.ai/api/v1/chat/completions
    model: openai/gpt-4o
  - id: bedrock-proxy
    kind: anthropic
    endpoint: https://claude.internal/v1/messages
    model: claude-3-haiku-20240307
    credential_key: claude
`
	if err := os.WriteFile(path, []byte(catalog), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	reg, err := NewRegistry(&config.Config{ProvidersFile: path})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	spec, err := reg.Lookup("openrouter")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if spec.StreamFormat != provider.StreamOpenAI {
		t.Errorf("Expected openai stream format, got %s", spec.StreamFormat)
	}
	if spec.Endpoint("", "") != "https://openrouter.ai/api/v1/chat/completions" {
		t.Errorf("Unexpected endpoint %s", spec.Endpoint("", ""))
	}

	spec, _ = reg.Lookup("bedrock-proxy")
	if spec.StreamFormat != provider.StreamAnthropic || spec.CredentialKey != "claude" {
		t.Errorf("Unexpected anthropic catalog spec: %s / %s", spec.StreamFormat, spec.CredentialKey)
	}
	if spec.Name != "bedrock-proxy" {
		t.Errorf("Expected name to default to id, got %s", spec.Name)
	}
}

func TestNewRegistry_DuplicateCatalogID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	catalog := "providers:\n  - id: claude\n    kind: anthropic\n    endpoint: https://x\n"
	_ = os.WriteFile(path, []byte(catalog), 0o600)

	if _, err := NewRegistry(&config.Config{ProvidersFile: path}); err == nil {
		t.Error("Expected duplicate id error")
	}
}
