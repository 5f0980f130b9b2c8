// Package service is the entry point used by the HTTP layer: it validates
// generation requests, resolves providers and credentials, runs completions
// and hands generated diagrams to the renderer.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/vnmchuo/umlgen/internal/credential"
	"github.com/vnmchuo/umlgen/internal/diagram"
	"github.com/vnmchuo/umlgen/internal/llm"
	"github.com/vnmchuo/umlgen/internal/metrics"
	"github.com/vnmchuo/umlgen/internal/prompt"
	"github.com/vnmchuo/umlgen/internal/provider"
	"github.com/vnmchuo/umlgen/internal/render"
)

const (
	modeComplete = "complete"
	modeStream   = "stream"

	defaultRenderConcurrency = 4
)

var ErrEmptyMaterials = errors.New("materials must not be empty")

type GenerationRequest struct {
	Materials  string
	ProviderID string
	Model      string // optional override of the provider's default model

	// Credentials overrides the configured credential store for this call,
	// keyed by credential key.
	Credentials map[string]string
}

// GenerationResult is the outcome of one generation. When Succeeded is false
// ErrorDetail is set and Content holds whatever text arrived before the
// failure.
type GenerationResult struct {
	ID          string    `json:"id"`
	ProviderID  string    `json:"provider"`
	Model       string    `json:"model"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	LatencyMs   int64     `json:"latency_ms"`
	Succeeded   bool      `json:"succeeded"`
	ErrorDetail string    `json:"error,omitempty"`
}

type Service struct {
	registry *provider.Registry
	creds    credential.Store
	client   *llm.Client
	renderer *render.Renderer
	tracer   trace.Tracer

	renderConcurrency int
}

func New(registry *provider.Registry, creds credential.Store, client *llm.Client, renderer *render.Renderer, tracer trace.Tracer) *Service {
	return &Service{
		registry:          registry,
		creds:             creds,
		client:            client,
		renderer:          renderer,
		tracer:            tracer,
		renderConcurrency: defaultRenderConcurrency,
	}
}

type call struct {
	spec       provider.Spec
	credential string
	request    provider.Request
}

// prepare runs every check that must pass before a provider is contacted.
func (s *Service) prepare(ctx context.Context, req GenerationRequest) (*call, error) {
	if strings.TrimSpace(req.Materials) == "" {
		return nil, ErrEmptyMaterials
	}

	spec, err := s.registry.Lookup(req.ProviderID)
	if err != nil {
		return nil, err
	}

	cred, err := s.store(req.Credentials).Get(ctx, spec.CredentialKey)
	if err != nil {
		if errors.Is(err, credential.ErrMissingCredential) {
			return nil, fmt.Errorf("%w for provider %s", credential.ErrMissingCredential, spec.ID)
		}
		return nil, fmt.Errorf("credential lookup for %s: %w", spec.ID, err)
	}

	return &call{
		spec:       spec,
		credential: cred,
		request: provider.Request{
			Prompt: prompt.Build(req.Materials),
			Model:  req.Model,
		},
	}, nil
}

func (s *Service) store(overrides map[string]string) credential.Store {
	if len(overrides) == 0 {
		return s.creds
	}
	return credential.Chain{credential.MapStore(overrides), s.creds}
}

func (s *Service) startSpan(ctx context.Context, name string, req GenerationRequest) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, name)
	span.SetAttributes(
		attribute.String("provider", req.ProviderID),
		attribute.String("model", req.Model),
		attribute.Int("materials_length", len(req.Materials)),
	)
	return ctx, span
}

// Generate runs one non-streaming generation.
func (s *Service) Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	ctx, span := s.startSpan(ctx, "service.generate", req)
	defer span.End()

	c, err := s.prepare(ctx, req)
	if err != nil {
		return s.fail(span, req, modeComplete, "", 0, err)
	}
	log.Printf("service: generate provider=%s model=%s materials=%d chars", c.spec.ID, c.spec.Model(req.Model), len(req.Materials))

	res, err := s.client.Complete(ctx, c.spec, c.credential, c.request)
	if err != nil {
		return s.fail(span, req, modeComplete, "", 0, err)
	}
	return s.succeed(span, modeComplete, res), nil
}

// GenerateStreaming streams a generation, calling onProgress with the full
// text so far after every increment. onProgress is never called after ctx
// is cancelled.
func (s *Service) GenerateStreaming(ctx context.Context, req GenerationRequest, onProgress func(text string)) (*GenerationResult, error) {
	ctx, span := s.startSpan(ctx, "service.generate_stream", req)
	defer span.End()

	c, err := s.prepare(ctx, req)
	if err != nil {
		return s.fail(span, req, modeStream, "", 0, err)
	}
	log.Printf("service: stream provider=%s model=%s materials=%d chars", c.spec.ID, c.spec.Model(req.Model), len(req.Materials))

	start := time.Now()
	res, err := s.client.CompleteStreaming(ctx, c.spec, c.credential, c.request, onProgress)
	if err != nil {
		partial, _ := llm.PartialText(err)
		return s.fail(span, req, modeStream, partial, time.Since(start), err)
	}
	return s.succeed(span, modeStream, res), nil
}

// Update is one step of StreamWithDiagrams. Diagrams holds the blocks
// completed by this step only.
type Update struct {
	Text     string
	Delta    string
	Diagrams []diagram.Block
	Done     bool
	Result   *GenerationResult
	Err      error
}

// StreamWithDiagrams streams a generation and reports diagram blocks as soon
// as their close marker arrives, so rendering can start before the stream
// ends. The channel closes after the terminal update (Done or Err), or
// early once ctx is cancelled.
func (s *Service) StreamWithDiagrams(ctx context.Context, req GenerationRequest) (<-chan *Update, error) {
	ctx, span := s.startSpan(ctx, "service.stream_diagrams", req)

	c, err := s.prepare(ctx, req)
	if err != nil {
		_, err = s.fail(span, req, modeStream, "", 0, err)
		span.End()
		return nil, err
	}

	start := time.Now()
	snaps, err := s.client.Stream(ctx, c.spec, c.credential, c.request)
	if err != nil {
		_, err = s.fail(span, req, modeStream, "", time.Since(start), err)
		span.End()
		return nil, err
	}

	out := make(chan *Update)
	go func() {
		defer close(out)
		defer span.End()

		tracker := diagram.NewTracker()
		send := func(u *Update) bool {
			select {
			case out <- u:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for snap := range snaps {
			u := &Update{Text: snap.Text, Delta: snap.Delta}
			switch {
			case snap.Err != nil:
				u.Result, u.Err = s.fail(span, req, modeStream, snap.Text, time.Since(start), snap.Err)
			case snap.Done:
				u.Done = true
				u.Diagrams = tracker.Observe(snap.Text)
				u.Result = s.succeed(span, modeStream, snap.Result)
			default:
				u.Diagrams = tracker.Observe(snap.Text)
			}
			if !send(u) {
				return
			}
		}
		if n := tracker.Seen(); n > 0 {
			metrics.DiagramsExtracted.Add(float64(n))
		}
	}()
	return out, nil
}

func (s *Service) succeed(span trace.Span, mode string, res *llm.Result) *GenerationResult {
	metrics.GenerationLatency.WithLabelValues(res.ProviderID, mode).Observe(res.Latency.Seconds())
	metrics.GenerationsTotal.WithLabelValues(res.ProviderID, mode, "ok").Inc()
	span.SetAttributes(attribute.Int("content_length", len(res.Content)))
	span.SetStatus(codes.Ok, "")

	return &GenerationResult{
		ID:         res.ID,
		ProviderID: res.ProviderID,
		Model:      res.Model,
		Content:    res.Content,
		Timestamp:  res.Timestamp,
		LatencyMs:  res.Latency.Milliseconds(),
		Succeeded:  true,
	}
}

// fail records err and builds the failed result returned next to it.
func (s *Service) fail(span trace.Span, req GenerationRequest, mode, partial string, latency time.Duration, err error) (*GenerationResult, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	metrics.GenerationsTotal.WithLabelValues(metricProvider(req.ProviderID), mode, "error").Inc()
	log.Printf("service: %s generation with provider %q failed: %v", mode, req.ProviderID, err)

	return &GenerationResult{
		ProviderID:  req.ProviderID,
		Model:       req.Model,
		Content:     partial,
		Timestamp:   time.Now().UTC(),
		LatencyMs:   latency.Milliseconds(),
		ErrorDetail: err.Error(),
	}, err
}

// metricProvider bounds label cardinality for ids that did not resolve.
func metricProvider(id string) string {
	if id == "" {
		return "none"
	}
	return id
}

// ExtractDiagrams returns the complete diagram blocks of text.
func (s *Service) ExtractDiagrams(text string) []diagram.Block {
	blocks := diagram.Extract(text)
	metrics.DiagramsExtracted.Add(float64(len(blocks)))
	return blocks
}

// ReplaceDiagram rewrites the index-th diagram block of text.
func (s *Service) ReplaceDiagram(text string, index int, source string) (string, error) {
	return diagram.Replace(text, index, source)
}

// RenderDiagram renders one diagram source. Unreachable render servers
// degrade to fallback links rather than an error.
func (s *Service) RenderDiagram(ctx context.Context, source string, format render.Format) (*render.Result, error) {
	ctx, span := s.tracer.Start(ctx, "service.render")
	defer span.End()
	span.SetAttributes(
		attribute.String("format", string(format)),
		attribute.Int("source_length", len(source)),
	)

	res, err := s.renderer.Render(ctx, source, format)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Bool("rendered", res.Rendered()))
	if res.Image != nil {
		span.SetAttributes(attribute.Bool("cached", res.Image.Cached))
	}
	return res, nil
}

// RenderAll renders blocks in parallel. Results are in block order.
func (s *Service) RenderAll(ctx context.Context, blocks []diagram.Block, format render.Format) ([]*render.Result, error) {
	results := make([]*render.Result, len(blocks))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.renderConcurrency)
	for i, b := range blocks {
		g.Go(func() error {
			res, err := s.RenderDiagram(ctx, b.Raw, format)
			if err != nil {
				return fmt.Errorf("render diagram %d: %w", b.Index, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ListProviders returns every registered provider in registration order and
// whether a credential is available for it.
func (s *Service) ListProviders(ctx context.Context, overrides map[string]string) []provider.Summary {
	store := s.store(overrides)
	specs := s.registry.List()
	out := make([]provider.Summary, 0, len(specs))
	for _, spec := range specs {
		out = append(out, spec.Summary(credential.Has(ctx, store, spec.CredentialKey)))
	}
	return out
}

type CredentialStatus struct {
	Configured int      `json:"configured"`
	Total      int      `json:"total"`
	Available  []string `json:"available"`
	Missing    []string `json:"missing"`
}

// CredentialStatus summarizes which providers can be used right now.
func (s *Service) CredentialStatus(ctx context.Context, overrides map[string]string) CredentialStatus {
	st := CredentialStatus{Available: []string{}, Missing: []string{}}
	for _, p := range s.ListProviders(ctx, overrides) {
		st.Total++
		if p.Configured {
			st.Configured++
			st.Available = append(st.Available, p.ID)
		} else {
			st.Missing = append(st.Missing, p.ID)
		}
	}
	return st
}
