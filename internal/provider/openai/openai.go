package openai

import (
	"encoding/json"
	"fmt"

	"github.com/vnmchuo/umlgen/internal/provider"
)

const DefaultEndpoint = "https://api.openai.com/v1/chat/completions"

// Options configures an OpenAI-compatible provider. The same wire shape is
// spoken by OpenAI, DeepSeek, Moonshot and most self-hosted gateways.
type Options struct {
	ID            string
	Name          string
	Description   string
	Endpoint      string
	Model         string
	Models        []string
	CredentialKey string
	Temperature   *float64
	MaxTokens     int
	NoStreaming   bool
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Choices []openAIChoice `json:"choices"`
	Model   string         `json:"model"`
}

type openAIChoice struct {
	Message *openAIMessage `json:"message,omitempty"`
	Delta   *openAIDelta   `json:"delta,omitempty"`
}

type openAIDelta struct {
	Content string `json:"content"`
}

func New(opts Options) provider.Spec {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	streaming := !opts.NoStreaming
	format := provider.StreamOpenAI
	if !streaming {
		format = provider.StreamUnsupported
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
		Headers:           bearerHeaders,
		ExtractResponse:   ExtractResponse,
		StreamFormat:      format,
		SupportsStreaming: streaming,
	}
	spec.BuildRequest = func(req provider.Request) any {
		return openAIRequest{
			Model:       spec.Model(req.Model),
			Messages:    []openAIMessage{{Role: "user", Content: req.Prompt}},
			MaxTokens:   opts.MaxTokens,
			Temperature: opts.Temperature,
			Stream:      req.Stream && streaming,
		}
	}
	return spec
}

func bearerHeaders(credential string) map[string]string {
	return map[string]string{
		"Authorization": fmt.Sprintf("Bearer %s", credential),
	}
}

// ExtractResponse reads choices[0].message.content from a chat completion.
func ExtractResponse(body []byte) (string, error) {
	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", provider.ErrMalformedResponse, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return "", fmt.Errorf("%w: openai api returned no choices", provider.ErrMalformedResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

// DecodeStreamEvent decodes one OpenAI-style SSE payload. "[DONE]" is a
// literal sentinel, not JSON.
func DecodeStreamEvent(data string) (provider.Event, error) {
	if data == "[DONE]" {
		return provider.Event{Done: true}, nil
	}

	var chunk openAIResponse
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return provider.Event{}, err
	}
	if len(chunk.Choices) > 0 && chunk.Choices[0].Delta != nil {
		return provider.Event{Delta: chunk.Choices[0].Delta.Content}, nil
	}
	return provider.Event{}, nil
}

// Float returns a pointer to v, for Options.Temperature.
func Float(v float64) *float64 {
	return &v
}
