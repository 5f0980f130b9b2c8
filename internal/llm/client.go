package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vnmchuo/umlgen/internal/provider"
)

const (
	DefaultTimeout = 5 * time.Minute
	maxBodyBytes   = 32 << 20
)

type Result struct {
	ID         string
	ProviderID string
	Model      string
	Content    string
	Timestamp  time.Time
	Latency    time.Duration
}

// Client talks to any provider described by a provider.Spec. It holds no
// per-call state and is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the wall-clock budget of one call, streaming included.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		httpClient: http.DefaultClient,
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete sends one non-streaming request. Nothing is retried here.
func (c *Client) Complete(ctx context.Context, spec provider.Spec, credential string, req provider.Request) (*Result, error) {
	req.Stream = false
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := c.newRequest(ctx, spec, credential, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classify(ctx, spec.ID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classify(ctx, spec.ID, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newProviderError(spec.ID, resp.StatusCode, body)
	}

	content, err := spec.ExtractResponse(body)
	if err != nil {
		if !errors.Is(err, ErrMalformedResponse) {
			err = fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		return nil, err
	}

	return &Result{
		ID:         uuid.New().String(),
		ProviderID: spec.ID,
		Model:      spec.Model(req.Model),
		Content:    content,
		Timestamp:  time.Now().UTC(),
		Latency:    time.Since(start),
	}, nil
}

func (c *Client) newRequest(ctx context.Context, spec provider.Spec, credential string, req provider.Request) (*http.Request, error) {
	body, err := json.Marshal(spec.BuildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", spec.ID, err)
	}

	url := spec.Endpoint(credential, req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", spec.ID, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if spec.Headers != nil {
		for k, v := range spec.Headers(credential) {
			httpReq.Header.Set(k, v)
		}
	}
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	return httpReq, nil
}

// classify maps a transport error under ctx to the error taxonomy. A
// deadline becomes ErrRequestTimeout; caller cancellation is returned as is.
func classify(ctx context.Context, providerID string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrRequestTimeout, providerID, err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%s request failed: %w", providerID, err)
}
