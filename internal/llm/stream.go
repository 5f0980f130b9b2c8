package llm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vnmchuo/umlgen/internal/metrics"
	"github.com/vnmchuo/umlgen/internal/provider"
	"github.com/vnmchuo/umlgen/internal/provider/claude"
	"github.com/vnmchuo/umlgen/internal/provider/openai"
)

const eventPrefix = "data:"

var decoders = map[provider.StreamFormat]provider.EventDecoder{
	provider.StreamOpenAI:    openai.DecodeStreamEvent,
	provider.StreamAnthropic: claude.DecodeStreamEvent,
}

// Snapshot is one step of a stream. Text is always the full text so far;
// successive snapshots only ever extend it. The last snapshot has Done set
// (with Result) or Err set.
type Snapshot struct {
	Text   string
	Delta  string
	Done   bool
	Result *Result
	Err    error
}

// Stream opens a streaming request and returns a channel of snapshots. The
// channel is closed after the terminal snapshot, or without one once ctx is
// cancelled. Callers must drain the channel or cancel ctx.
func (c *Client) Stream(ctx context.Context, spec provider.Spec, credential string, req provider.Request) (<-chan *Snapshot, error) {
	decode, ok := decoders[spec.StreamFormat]
	if !spec.SupportsStreaming || !ok {
		return nil, fmt.Errorf("%w: %s", ErrStreamingUnsupported, spec.ID)
	}
	req.Stream = true
	start := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)

	httpReq, err := c.newRequest(callCtx, spec, credential, req)
	if err != nil {
		cancel()
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, classify(callCtx, spec.ID, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		resp.Body.Close()
		cancel()
		return nil, newProviderError(spec.ID, resp.StatusCode, body)
	}

	ch := make(chan *Snapshot)
	r := &streamReader{
		spec:   spec,
		decode: decode,
		ctx:    ctx,
		ch:     ch,
	}

	go func() {
		defer close(ch)
		defer cancel()
		defer resp.Body.Close()

		metrics.ActiveStreams.Inc()
		defer metrics.ActiveStreams.Dec()

		r.run(callCtx, resp)
		if r.skipped > 0 {
			metrics.StreamEventsSkipped.WithLabelValues(spec.ID).Add(float64(r.skipped))
			log.Printf("llm: %s stream skipped %d unparseable events", spec.ID, r.skipped)
		}
		if r.finished {
			r.send(&Snapshot{
				Text: r.text.String(),
				Done: true,
				Result: &Result{
					ID:         uuid.New().String(),
					ProviderID: spec.ID,
					Model:      spec.Model(req.Model),
					Content:    r.text.String(),
					Timestamp:  time.Now().UTC(),
					Latency:    time.Since(start),
				},
			})
		}
	}()

	return ch, nil
}

// streamReader owns the state of one stream: the accumulated text and the
// termination flag. It is never shared between calls.
type streamReader struct {
	spec     provider.Spec
	decode   provider.EventDecoder
	ctx      context.Context // caller context; its cancellation stops delivery
	ch       chan<- *Snapshot
	text     strings.Builder
	skipped  int
	finished bool
}

func (r *streamReader) run(callCtx context.Context, resp *http.Response) {
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			stop, ok := r.handleLine(line)
			if !ok {
				return
			}
			if stop {
				r.finished = true
				return
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				r.finished = true
				return
			}
			if r.ctx.Err() != nil {
				return
			}
			cause := err
			if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				cause = ErrRequestTimeout
			}
			r.send(&Snapshot{
				Text: r.text.String(),
				Err:  &StreamInterruptedError{Partial: r.text.String(), Err: cause},
			})
			return
		}
	}
}

// handleLine processes one raw line. stop reports a completion sentinel; ok
// is false when the stream must end without a Done snapshot.
func (r *streamReader) handleLine(line string) (stop bool, ok bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, eventPrefix) {
		return false, true
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, eventPrefix))
	if data == "" {
		return false, true
	}

	ev, err := r.decode(data)
	if err != nil {
		r.skipped++
		return false, true
	}

	if ev.Err != nil {
		r.send(&Snapshot{
			Text: r.text.String(),
			Err:  &StreamInterruptedError{Partial: r.text.String(), Err: ev.Err},
		})
		return false, false
	}

	if ev.Delta != "" {
		r.text.WriteString(ev.Delta)
		if !r.send(&Snapshot{Text: r.text.String(), Delta: ev.Delta}) {
			return false, false
		}
	}
	return ev.Done, true
}

func (r *streamReader) send(s *Snapshot) bool {
	select {
	case r.ch <- s:
		return true
	case <-r.ctx.Done():
		return false
	}
}

// CompleteStreaming drains Stream, calling onProgress with the accumulated
// text after every increment. onProgress runs on the caller's goroutine and
// is never called once ctx is cancelled.
func (c *Client) CompleteStreaming(ctx context.Context, spec provider.Spec, credential string, req provider.Request, onProgress func(text string)) (*Result, error) {
	ch, err := c.Stream(ctx, spec, credential, req)
	if err != nil {
		return nil, err
	}

	for snap := range ch {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		switch {
		case snap.Err != nil:
			return nil, snap.Err
		case snap.Done:
			return snap.Result, nil
		case onProgress != nil:
			onProgress(snap.Text)
		}
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, &StreamInterruptedError{Err: errors.New("stream closed without completion")}
}
