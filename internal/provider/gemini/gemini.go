package gemini

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/vnmchuo/umlgen/internal/provider"
)

const DefaultBaseURL = "https://generativelanguage.googleapis.com"

// Options configures the Gemini generateContent provider. Gemini takes its
// key in the query string and is used without streaming.
type Options struct {
	ID            string
	Name          string
	Description   string
	BaseURL       string
	Model         string
	Models        []string
	CredentialKey string
	Temperature   float64
	MaxTokens     int
}

type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type generationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

func New(opts Options) provider.Spec {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	spec := provider.Spec{
		ID:            opts.ID,
		Name:          opts.Name,
		Description:   opts.Description,
		CredentialKey: opts.CredentialKey,
		DefaultModel:  opts.Model,
		Models:        opts.Models,
		ExtractResponse:   ExtractResponse,
		StreamFormat:      provider.StreamUnsupported,
		SupportsStreaming: false,
	}
	spec.Endpoint = func(credential, model string) string {
		return fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
			baseURL, url.PathEscape(spec.Model(model)), url.QueryEscape(credential))
	}
	spec.BuildRequest = func(req provider.Request) any {
		return geminiRequest{
			Contents: []geminiContent{{Parts: []geminiPart{{Text: req.Prompt}}}},
			GenerationConfig: generationConfig{
				MaxOutputTokens: opts.MaxTokens,
				Temperature:     opts.Temperature,
			},
		}
	}
	return spec
}

// ExtractResponse reads candidates[0].content.parts[0].text.
func ExtractResponse(body []byte) (string, error) {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", provider.ErrMalformedResponse, err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: gemini api returned no candidates", provider.ErrMalformedResponse)
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}
