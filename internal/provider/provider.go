package provider

import (
	"errors"
)

var (
	ErrUnknownProvider   = errors.New("unknown provider")
	ErrMalformedResponse = errors.New("malformed provider response")
)

// StreamFormat identifies the event framing a provider uses for incremental
// token delivery. Only the stream decoder branches on it.
type StreamFormat int

const (
	StreamUnsupported StreamFormat = iota
	StreamOpenAI
	StreamAnthropic
)

func (f StreamFormat) String() string {
	switch f {
	case StreamOpenAI:
		return "openai"
	case StreamAnthropic:
		return "anthropic"
	default:
		return "unsupported"
	}
}

type Request struct {
	Prompt string
	Model  string // empty means Spec.DefaultModel
	Stream bool
}

// Event is one decoded stream event. A zero Event carries nothing and is
// dropped by the reader.
type Event struct {
	Delta string
	Done  bool
	Err   error
}

// EventDecoder decodes the payload of one "data: " line. A non-nil error
// means the payload could not be parsed and the line is skipped.
type EventDecoder func(data string) (Event, error)

// Spec describes one LLM provider: where to send a prompt, how to shape the
// request and how to read the answer back.
type Spec struct {
	ID            string
	Name          string
	Description   string
	CredentialKey string // key used against the credential store, defaults to ID
	DefaultModel  string
	Models        []string

	Endpoint        func(credential, model string) string
	Headers         func(credential string) map[string]string
	BuildRequest    func(req Request) any
	ExtractResponse func(body []byte) (string, error)

	StreamFormat      StreamFormat
	SupportsStreaming bool
}

// Model resolves the model for a request, falling back to the default.
func (s Spec) Model(override string) string {
	if override != "" {
		return override
	}
	return s.DefaultModel
}

// Summary is the public view of a spec, safe to hand to UI callers.
type Summary struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Description       string   `json:"description,omitempty"`
	DefaultModel      string   `json:"default_model"`
	Models            []string `json:"models,omitempty"`
	SupportsStreaming bool     `json:"supports_streaming"`
	Configured        bool     `json:"configured"`
}

func (s Spec) Summary(configured bool) Summary {
	return Summary{
		ID:                s.ID,
		Name:              s.Name,
		Description:       s.Description,
		DefaultModel:      s.DefaultModel,
		Models:            s.Models,
		SupportsStreaming: s.SupportsStreaming,
		Configured:        configured,
	}
}
