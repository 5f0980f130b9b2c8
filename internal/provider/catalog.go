package provider

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CatalogEntry is one provider declared in a YAML catalog file. Catalogs let
// operators add OpenAI-compatible or Anthropic-style providers without code.
//
//	providers:
//	  - id: openrouter
//	    name: OpenRouter
//	    kind: openai
//	    endpoint: https://openrouter.ai/api/v1/chat/completions
//	    model: openai/gpt-4o
//	    stream: true
type CatalogEntry struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	Description   string   `yaml:"description"`
	Kind          string   `yaml:"kind"` // "openai" or "anthropic"
	Endpoint      string   `yaml:"endpoint"`
	Model         string   `yaml:"model"`
	Models        []string `yaml:"models"`
	CredentialKey string   `yaml:"credential_key"`
	Temperature   *float64 `yaml:"temperature"`
	MaxTokens     int      `yaml:"max_tokens"`
	Stream        *bool    `yaml:"stream"`
}

// StreamEnabled reports whether the entry streams; it defaults to true.
func (e CatalogEntry) StreamEnabled() bool {
	return e.Stream == nil || *e.Stream
}

type catalogFile struct {
	Providers []CatalogEntry `yaml:"providers"`
}

func LoadCatalog(path string) ([]CatalogEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read provider catalog: %w", err)
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) ([]CatalogEntry, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse provider catalog: %w", err)
	}
	for i, e := range f.Providers {
		if e.ID == "" {
			return nil, fmt.Errorf("provider catalog entry %d: id is required", i)
		}
		if e.Endpoint == "" {
			return nil, fmt.Errorf("provider catalog entry %q: endpoint is required", e.ID)
		}
		switch e.Kind {
		case "openai", "anthropic":
		default:
			return nil, fmt.Errorf("provider catalog entry %q: unknown kind %q", e.ID, e.Kind)
		}
	}
	return f.Providers, nil
}
