package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/vnmchuo/umlgen/internal/provider"
)

var (
	ErrStreamingUnsupported = errors.New("provider does not support streaming")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrRateLimited          = errors.New("rate limited")
	ErrMalformedResponse    = provider.ErrMalformedResponse
	ErrRequestTimeout       = errors.New("request timed out")
	ErrStreamInterrupted    = errors.New("stream interrupted")
)

// ProviderError is a non-2xx answer from a provider. 401 and 429 unwrap to
// ErrAuthenticationFailed and ErrRateLimited.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

func (e *ProviderError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return ErrAuthenticationFailed
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	return nil
}

// StreamInterruptedError ends a stream that stopped before completing. It
// keeps whatever text had arrived so callers can decide to keep it.
type StreamInterruptedError struct {
	Partial string
	Err     error
}

func (e *StreamInterruptedError) Error() string {
	return fmt.Sprintf("stream interrupted after %d bytes: %v", len(e.Partial), e.Err)
}

func (e *StreamInterruptedError) Unwrap() []error {
	return []error{ErrStreamInterrupted, e.Err}
}

// PartialText returns the text delivered before err interrupted a stream.
func PartialText(err error) (string, bool) {
	var sie *StreamInterruptedError
	if errors.As(err, &sie) {
		return sie.Partial, true
	}
	return "", false
}

type errorBody struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

type errorDetail struct {
	Message string `json:"message"`
}

func newProviderError(providerID string, status int, body []byte) *ProviderError {
	return &ProviderError{
		Provider:   providerID,
		StatusCode: status,
		Message:    errorMessage(status, body),
	}
}

// errorMessage pulls the provider's own message from an error body. OpenAI,
// Anthropic and Gemini nest it under error.message, DashScope puts it at the
// top level, and some gateways send error as a plain string.
func errorMessage(status int, body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		if len(eb.Error) > 0 {
			var d errorDetail
			if json.Unmarshal(eb.Error, &d) == nil && d.Message != "" {
				return d.Message
			}
			var s string
			if json.Unmarshal(eb.Error, &s) == nil && s != "" {
				return s
			}
		}
		if eb.Message != "" {
			return eb.Message
		}
	}
	return strings.TrimSpace(fmt.Sprintf("HTTP %d: %s", status, http.StatusText(status)))
}
