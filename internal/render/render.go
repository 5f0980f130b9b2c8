// Package render turns PlantUML source into images by trying an ordered list
// of PlantUML servers, degrading to plain links when none of them answers.
package render

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vnmchuo/umlgen/internal/metrics"
	"github.com/vnmchuo/umlgen/pkg/plantuml"
)

const (
	DefaultPublicURL = "https://www.plantuml.com/plantuml"
	DefaultMaxAge    = time.Hour

	maxImageBytes = 10 << 20
)

var (
	ErrRenderingExhausted = errors.New("all rendering endpoints failed")
	ErrUnknownFormat      = errors.New("unknown render format")

	errUnrecognizedBody = errors.New("response is not an image")
	errBreakerOpen      = errors.New("circuit breaker open")
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

type Format string

const (
	FormatSVG Format = "svg"
	FormatPNG Format = "png"
)

// ParseFormat accepts "svg" and "png"; empty means svg.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatSVG:
		return FormatSVG, nil
	case FormatPNG:
		return FormatPNG, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

func (f Format) ContentType() string {
	if f == FormatPNG {
		return "image/png"
	}
	return "image/svg+xml"
}

// recognize reports whether body looks like an image of format f.
func (f Format) recognize(body []byte) bool {
	if f == FormatPNG {
		return bytes.HasPrefix(body, pngMagic)
	}
	return bytes.Contains(body, []byte("<svg"))
}

// Endpoint is one PlantUML server with its per-attempt timeout.
type Endpoint struct {
	URL     string
	Timeout time.Duration
}

// Endpoints assigns the local timeout to the first server and the public one
// to the rest.
func Endpoints(servers []string, local, public time.Duration) []Endpoint {
	eps := make([]Endpoint, 0, len(servers))
	for i, s := range servers {
		timeout := public
		if i == 0 {
			timeout = local
		}
		eps = append(eps, Endpoint{URL: strings.TrimRight(s, "/"), Timeout: timeout})
	}
	return eps
}

// Image is a rendered diagram. Since the encoding is deterministic, the image
// may be cached by CacheKey for MaxAge.
type Image struct {
	Format   Format
	Data     []byte
	Endpoint string
	CacheKey string
	MaxAge   time.Duration
	Cached   bool
}

func (i *Image) ContentType() string {
	return i.Format.ContentType()
}

// FallbackLinks point at the public server so the diagram can still be
// opened in a browser. Reason wraps ErrRenderingExhausted.
type FallbackLinks struct {
	SVG    string `json:"svg_url"`
	PNG    string `json:"png_url"`
	Edit   string `json:"edit_url"`
	Reason error  `json:"-"`
}

// Result holds exactly one of Image and Fallback.
type Result struct {
	Source   string
	Encoded  string
	Image    *Image
	Fallback *FallbackLinks
}

func (r *Result) Rendered() bool {
	return r.Image != nil
}

// Cache stores rendered images by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
}

type Renderer struct {
	endpoints  []Endpoint
	breakers   map[string]*gobreaker.CircuitBreaker
	httpClient *http.Client
	publicURL  string
	cache      Cache
	cacheTTL   time.Duration
}

type Option func(*Renderer)

func WithHTTPClient(hc *http.Client) Option {
	return func(r *Renderer) { r.httpClient = hc }
}

func WithPublicURL(u string) Option {
	return func(r *Renderer) {
		if u != "" {
			r.publicURL = strings.TrimRight(u, "/")
		}
	}
}

func WithCache(c Cache, ttl time.Duration) Option {
	return func(r *Renderer) {
		r.cache = c
		if ttl > 0 {
			r.cacheTTL = ttl
		}
	}
}

func New(endpoints []Endpoint, opts ...Option) *Renderer {
	r := &Renderer{
		endpoints:  endpoints,
		breakers:   make(map[string]*gobreaker.CircuitBreaker, len(endpoints)),
		httpClient: http.DefaultClient,
		publicURL:  DefaultPublicURL,
		cacheTTL:   DefaultMaxAge,
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, ep := range endpoints {
		settings := gobreaker.Settings{
			Name:        ep.URL,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Printf("render: endpoint %s breaker %s -> %s", name, from, to)
				metrics.RenderBreakerState.WithLabelValues(name).Set(breakerGauge(to))
			},
		}
		r.breakers[ep.URL] = gobreaker.NewCircuitBreaker(settings)
		metrics.RenderBreakerState.WithLabelValues(ep.URL).Set(0)
	}
	return r
}

func breakerGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return 0
}

// Render encodes source and fetches it from the first endpoint that returns
// a recognizable image. When every endpoint fails the result carries
// fallback links instead; the only errors are encoding failures and caller
// cancellation.
func (r *Renderer) Render(ctx context.Context, source string, format Format) (*Result, error) {
	if format == "" {
		format = FormatSVG
	}
	encoded, err := plantuml.Encode(source)
	if err != nil {
		return nil, err
	}
	res := &Result{Source: source, Encoded: encoded}
	key := CacheKey(format, encoded)

	if img := r.cached(ctx, key, format); img != nil {
		metrics.RenderOutcomes.WithLabelValues("cached").Inc()
		res.Image = img
		return res, nil
	}

	var errs []error
	for _, ep := range r.endpoints {
		data, err := r.attempt(ctx, ep, format, encoded)
		if err == nil {
			metrics.RenderOutcomes.WithLabelValues("rendered").Inc()
			res.Image = &Image{
				Format:   format,
				Data:     data,
				Endpoint: ep.URL,
				CacheKey: key,
				MaxAge:   r.cacheTTL,
			}
			r.store(ctx, key, data)
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("render: %s failed: %v", ep.URL, err)
		errs = append(errs, fmt.Errorf("%s: %w", ep.URL, err))
	}

	metrics.RenderOutcomes.WithLabelValues("fallback").Inc()
	res.Fallback = r.Links(encoded)
	res.Fallback.Reason = fmt.Errorf("%w: %w", ErrRenderingExhausted, errors.Join(errs...))
	return res, nil
}

// Links builds the public view and edit URLs of an encoded diagram.
func (r *Renderer) Links(encoded string) *FallbackLinks {
	return &FallbackLinks{
		SVG:  fmt.Sprintf("%s/svg/%s", r.publicURL, encoded),
		PNG:  fmt.Sprintf("%s/png/%s", r.publicURL, encoded),
		Edit: fmt.Sprintf("%s/uml/%s", r.publicURL, encoded),
	}
}

func (r *Renderer) attempt(ctx context.Context, ep Endpoint, format Format, encoded string) ([]byte, error) {
	cb := r.breakers[ep.URL]
	if cb != nil && cb.State() == gobreaker.StateOpen {
		metrics.RenderAttempts.WithLabelValues(ep.URL, "skipped").Inc()
		return nil, errBreakerOpen
	}

	fetch := func() (interface{}, error) {
		return r.fetch(ctx, ep, format, encoded)
	}
	var out interface{}
	var err error
	if cb != nil {
		out, err = cb.Execute(fetch)
	} else {
		out, err = fetch()
	}
	if err != nil {
		metrics.RenderAttempts.WithLabelValues(ep.URL, "error").Inc()
		return nil, err
	}
	metrics.RenderAttempts.WithLabelValues(ep.URL, "ok").Inc()
	return out.([]byte), nil
}

func (r *Renderer) fetch(ctx context.Context, ep Endpoint, format Format, encoded string) ([]byte, error) {
	if ep.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ep.Timeout)
		defer cancel()
	}

	url := fmt.Sprintf("%s/%s/%s", ep.URL, format, encoded)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", format.ContentType())

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, err
	}
	if !format.recognize(body) {
		return nil, errUnrecognizedBody
	}
	return body, nil
}

// CacheKey is the cache key of an encoded diagram in a given format.
func CacheKey(format Format, encoded string) string {
	return fmt.Sprintf("plantuml:%s:%x", format, sha256.Sum256([]byte(encoded)))
}

func (r *Renderer) cached(ctx context.Context, key string, format Format) *Image {
	if r.cache == nil {
		return nil
	}
	data, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		log.Printf("render: cache get: %v", err)
		return nil
	}
	if !ok || !format.recognize(data) {
		return nil
	}
	return &Image{Format: format, Data: data, CacheKey: key, MaxAge: r.cacheTTL, Cached: true}
}

func (r *Renderer) store(ctx context.Context, key string, data []byte) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, key, data, r.cacheTTL); err != nil {
		log.Printf("render: cache set: %v", err)
	}
}
