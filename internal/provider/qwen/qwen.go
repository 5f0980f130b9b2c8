package qwen

import (
	"encoding/json"
	"fmt"

	"github.com/vnmchuo/umlgen/internal/provider"
)

const DefaultEndpoint = "https://dashscope.aliyuncs.com/api/v1/services/aigc/text-generation/generation"

// Options configures the DashScope text-generation API, which nests messages
// under "input" and sampling knobs under "parameters".
type Options struct {
	ID            string
	Name          string
	Description   string
	Endpoint      string
	Model         string
	Models        []string
	CredentialKey string
	Temperature   float64
	MaxTokens     int
}

type qwenRequest struct {
	Model      string         `json:"model"`
	Input      qwenInput      `json:"input"`
	Parameters qwenParameters `json:"parameters"`
}

type qwenInput struct {
	Messages []qwenMessage `json:"messages"`
}

type qwenMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type qwenParameters struct {
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

type qwenResponse struct {
	Output *qwenOutput `json:"output"`
}

type qwenOutput struct {
	Choices []qwenChoice `json:"choices"`
}

type qwenChoice struct {
	Message qwenMessage `json:"message"`
}

func New(opts Options) provider.Spec {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
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
				"Authorization": fmt.Sprintf("Bearer %s", credential),
			}
		},
		ExtractResponse:   ExtractResponse,
		StreamFormat:      provider.StreamUnsupported,
		SupportsStreaming: false,
	}
	spec.BuildRequest = func(req provider.Request) any {
		return qwenRequest{
			Model: spec.Model(req.Model),
			Input: qwenInput{
				Messages: []qwenMessage{{Role: "user", Content: req.Prompt}},
			},
			Parameters: qwenParameters{
				Temperature: opts.Temperature,
				MaxTokens:   opts.MaxTokens,
			},
		}
	}
	return spec
}

// ExtractResponse reads output.choices[0].message.content.
func ExtractResponse(body []byte) (string, error) {
	var resp qwenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", provider.ErrMalformedResponse, err)
	}
	if resp.Output == nil || len(resp.Output.Choices) == 0 {
		return "", fmt.Errorf("%w: qwen api returned no choices", provider.ErrMalformedResponse)
	}
	return resp.Output.Choices[0].Message.Content, nil
}
