package claude

import (
	"encoding/json"
	"fmt"

	"github.com/vnmchuo/umlgen/internal/provider"
)

const (
	DefaultEndpoint = "https://api.anthropic.com/v1/messages"
	APIVersion      = "2023-06-01"
)

type Options struct {
	ID            string
	Name          string
	Description   string
	Endpoint      string
	Model         string
	Models        []string
	CredentialKey string
	MaxTokens     int
}

type claudeRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	Messages  []claudeMessage `json:"messages"`
	Stream    bool            `json:"stream,omitempty"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	ID      string          `json:"id"`
	Content []claudeContent `json:"content"`
	Model   string          `json:"model"`
}

type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type claudeStreamEvent struct {
	Type  string       `json:"type"`
	Delta *claudeDelta `json:"delta,omitempty"`
	Error *claudeError `json:"error,omitempty"`
}

type claudeDelta struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type claudeError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func New(opts Options) provider.Spec {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	spec := provider.Spec{
		ID:            opts.ID,
		Name:          opts.Name,
		Description:   opts.Description,
		CredentialKey: opts.CredentialKey,
		DefaultModel:  opts.Model,
		Models:        opts.Models,
		Endpoint: func(_, _ string) string {
			return endpoint
		},
		Headers: func(credential string) map[string]string {
			return map[string]string{
				"x-api-key":         credential,
				"anthropic-version": APIVersion,
			}
		},
		ExtractResponse:   ExtractResponse,
		StreamFormat:      provider.StreamAnthropic,
		SupportsStreaming: true,
	}
	spec.BuildRequest = func(req provider.Request) any {
		return claudeRequest{
			Model:     spec.Model(req.Model),
			MaxTokens: maxTokens,
			Messages:  []claudeMessage{{Role: "user", Content: req.Prompt}},
			Stream:    req.Stream,
		}
	}
	return spec
}

// ExtractResponse returns the first text block of a messages response.
func ExtractResponse(body []byte) (string, error) {
	var resp claudeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", provider.ErrMalformedResponse, err)
	}
	for _, c := range resp.Content {
		if c.Type == "text" {
			return c.Text, nil
		}
	}
	return "", fmt.Errorf("%w: claude api returned no content", provider.ErrMalformedResponse)
}

// DecodeStreamEvent decodes one Anthropic-style SSE payload. The event type
// is read from the JSON body, so "event:" lines are not needed.
func DecodeStreamEvent(data string) (provider.Event, error) {
	var ev claudeStreamEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return provider.Event{}, err
	}

	switch ev.Type {
	case "content_block_delta":
		if ev.Delta != nil {
			return provider.Event{Delta: ev.Delta.Text}, nil
		}
	case "message_stop":
		return provider.Event{Done: true}, nil
	case "error":
		msg := "unknown error"
		if ev.Error != nil {
			msg = ev.Error.Message
		}
		return provider.Event{Err: fmt.Errorf("claude stream error: %s", msg)}, nil
	}
	return provider.Event{}, nil
}
