package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/vnmchuo/umlgen/internal/credential"
	"github.com/vnmchuo/umlgen/internal/llm"
	"github.com/vnmchuo/umlgen/internal/provider"
	"github.com/vnmchuo/umlgen/internal/service"
	"github.com/vnmchuo/umlgen/pkg/plantuml"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

// statusFor maps the error taxonomy to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrEmptyMaterials),
		errors.Is(err, provider.ErrUnknownProvider),
		errors.Is(err, credential.ErrMissingCredential),
		errors.Is(err, llm.ErrStreamingUnsupported),
		errors.Is(err, plantuml.ErrEncodingFailed):
		return http.StatusBadRequest
	case errors.Is(err, llm.ErrAuthenticationFailed):
		return http.StatusUnauthorized
	case errors.Is(err, llm.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, llm.ErrRequestTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

// errorBody is the JSON body of a failed generation.
func errorBody(err error, res *service.GenerationResult, ids []string) map[string]any {
	body := map[string]any{
		"success": false,
		"error":   err.Error(),
	}
	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		body["error"] = pe.Message
		body["status_code"] = pe.StatusCode
	}
	if errors.Is(err, provider.ErrUnknownProvider) {
		body["supported_providers"] = ids
	}
	if res != nil && res.Content != "" {
		body["partial"] = res.Content
	}
	return body
}
