package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vnmchuo/umlgen/internal/diagram"
	"github.com/vnmchuo/umlgen/internal/render"
	"github.com/vnmchuo/umlgen/internal/service"
	"github.com/vnmchuo/umlgen/pkg/ratelimit"
)

const (
	defaultProvider = "chatgpt"
	maxBodyBytes    = 1 << 20

	defaultRetryAfter = time.Minute
)

type Handler struct {
	svc     *service.Service
	limiter *ratelimit.Limiter
}

// NewHandler builds the HTTP handlers. limiter may be nil to disable rate
// limiting.
func NewHandler(svc *service.Service, limiter *ratelimit.Limiter) *Handler {
	return &Handler{svc: svc, limiter: limiter}
}

// Routes mounts every endpoint on a new chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/api/health", h.HandleHealth)
	r.Get("/api/providers", h.HandleProviders)
	r.Post("/api/credentials/status", h.HandleCredentialStatus)
	r.Post("/api/diagrams/extract", h.HandleExtract)
	r.Post("/api/diagrams/replace", h.HandleReplace)
	r.Post("/api/plantuml/render", h.HandleRender)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(h.rateLimit)
		r.Post("/api/generate-uml", h.HandleGenerate)
		r.Post("/api/generate-uml-stream", h.HandleGenerateStream)
	})
	return r
}

type generateRequest struct {
	Materials string            `json:"materials"`
	Provider  string            `json:"provider"`
	Model     string            `json:"model"`
	APIKeys   map[string]string `json:"apiKeys"`
}

func (g generateRequest) toService() service.GenerationRequest {
	id := strings.TrimSpace(g.Provider)
	if id == "" {
		id = defaultProvider
	}
	return service.GenerationRequest{
		Materials:   g.Materials,
		ProviderID:  id,
		Model:       strings.TrimSpace(g.Model),
		Credentials: g.APIKeys,
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (h *Handler) providerIDs(r *http.Request) []string {
	list := h.svc.ListProviders(r.Context(), nil)
	ids := make([]string, 0, len(list))
	for _, p := range list {
		ids = append(ids, p.ID)
	}
	return ids
}

func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var body generateRequest
	if !decode(w, r, &body) {
		return
	}

	res, err := h.svc.Generate(r.Context(), body.toService())
	if err != nil {
		writeJSON(w, statusFor(err), errorBody(err, res, h.providerIDs(r)))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"result":   res,
		"diagrams": h.svc.ExtractDiagrams(res.Content),
	})
}

type snapshotEvent struct {
	Text     string          `json:"text"`
	Delta    string          `json:"delta"`
	Diagrams []diagram.Block `json:"diagrams,omitempty"`
}

func (h *Handler) HandleGenerateStream(w http.ResponseWriter, r *http.Request) {
	var body generateRequest
	if !decode(w, r, &body) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	updates, err := h.svc.StreamWithDiagrams(r.Context(), body.toService())
	if err != nil {
		writeJSON(w, statusFor(err), errorBody(err, nil, h.providerIDs(r)))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for u := range updates {
		switch {
		case u.Err != nil:
			writeEvent(w, "error", errorBody(u.Err, u.Result, nil))
		case u.Done:
			writeEvent(w, "done", map[string]any{
				"success":  true,
				"result":   u.Result,
				"diagrams": u.Diagrams,
			})
		default:
			writeEvent(w, "snapshot", snapshotEvent{Text: u.Text, Delta: u.Delta, Diagrams: u.Diagrams})
		}
		flusher.Flush()
	}
}

func writeEvent(w http.ResponseWriter, name string, v any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		log.Printf("api: encode %s event: %v", name, err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, bytes.TrimRight(buf.Bytes(), "\n"))
}

func (h *Handler) HandleExtract(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string `json:"content"`
	}
	if !decode(w, r, &body) {
		return
	}

	blocks := h.svc.ExtractDiagrams(body.Content)
	if blocks == nil {
		blocks = []diagram.Block{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"diagrams": blocks})
}

func (h *Handler) HandleReplace(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string `json:"content"`
		Index   int    `json:"index"`
		Code    string `json:"code"`
	}
	if !decode(w, r, &body) {
		return
	}

	out, err := h.svc.ReplaceDiagram(body.Content, body.Index, body.Code)
	if err != nil {
		if errors.Is(err, diagram.ErrBlockNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"content": out})
}

func (h *Handler) HandleRender(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code   string `json:"code"`
		Format string `json:"format"`
	}
	if !decode(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Code) == "" {
		writeError(w, http.StatusBadRequest, "missing PlantUML code")
		return
	}
	format, err := render.ParseFormat(body.Format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.svc.RenderDiagram(r.Context(), body.Code, format)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	if img := res.Image; img != nil {
		w.Header().Set("Content-Type", img.ContentType())
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(img.MaxAge/time.Second)))
		w.Header().Set("ETag", etag(img.CacheKey))
		if img.Cached {
			w.Header().Set("X-Render-Cache", "hit")
		} else {
			w.Header().Set("X-Render-Cache", "miss")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(img.Data)
		return
	}

	reason := ""
	if res.Fallback.Reason != nil {
		reason = res.Fallback.Reason.Error()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  false,
		"rendered": false,
		"encoded":  res.Encoded,
		"source":   res.Source,
		"fallback": res.Fallback,
		"error":    reason,
	})
}

func etag(cacheKey string) string {
	return `"` + cacheKey[strings.LastIndex(cacheKey, ":")+1:] + `"`
}

func (h *Handler) HandleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"providers": h.svc.ListProviders(r.Context(), nil),
		"status":    h.svc.CredentialStatus(r.Context(), nil),
	})
}

func (h *Handler) HandleCredentialStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		APIKeys map[string]string `json:"apiKeys"`
	}
	if !decode(w, r, &body) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"providers": h.svc.ListProviders(r.Context(), body.APIKeys),
		"status":    h.svc.CredentialStatus(r.Context(), body.APIKeys),
	})
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":              "ok",
		"service":             "umlgen",
		"timestamp":           time.Now().UTC().Format(time.RFC3339),
		"supported_providers": h.providerIDs(r),
	})
}

// rateLimit caps generation requests per client address. Limiter errors
// deny the request. Window details come from the limiter status when it is
// available.
func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		id := clientID(r)
		allowed, err := h.limiter.Allow(r.Context(), id)
		if err != nil {
			log.Printf("api: rate limiter error: %v", err)
		}

		retryAfter := defaultRetryAfter
		if status, serr := h.limiter.Status(r.Context(), id); serr == nil && status != nil {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(status.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(status.Remaining, 10))
			if status.ResetAfter > 0 {
				retryAfter = status.ResetAfter
			}
		}

		if err != nil || !allowed {
			secs := strconv.Itoa(int(math.Ceil(retryAfter.Seconds())))
			w.Header().Set("Retry-After", secs)
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"success":     false,
				"error":       "rate limit exceeded",
				"retry_after": secs + "s",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
