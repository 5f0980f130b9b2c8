package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vnmchuo/umlgen/internal/credential"
	"github.com/vnmchuo/umlgen/internal/llm"
	"github.com/vnmchuo/umlgen/internal/provider"
	"github.com/vnmchuo/umlgen/internal/provider/gemini"
	"github.com/vnmchuo/umlgen/internal/provider/openai"
	"github.com/vnmchuo/umlgen/internal/render"
)

const (
	loginMaterials = "User logs in, system validates credentials, shows dashboard"
	loginDiagram   = "@startuml\nUser->System: login\n@enduml"
)

type mockProvider struct {
	*httptest.Server
	hits       atomic.Int32
	lastPrompt atomic.Value
	lastAuth   atomic.Value
}

func newMockProvider(t *testing.T, h func(w http.ResponseWriter, stream bool)) *mockProvider {
	t.Helper()
	m := &mockProvider{}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.hits.Add(1)
		m.lastAuth.Store(r.Header.Get("Authorization"))

		var body struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
			Stream bool `json:"stream"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body.Messages) > 0 {
			m.lastPrompt.Store(body.Messages[0].Content)
		}
		h(w, body.Stream)
	}))
	t.Cleanup(m.Close)
	return m
}

func completion(content string) func(http.ResponseWriter, bool) {
	return func(w http.ResponseWriter, _ bool) {
		resp := map[string]any{
			"choices": []any{map[string]any{"message": map[string]string{"role": "assistant", "content": content}}},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func streamed(chunks ...string) func(http.ResponseWriter, bool) {
	return func(w http.ResponseWriter, _ bool) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, c := range chunks {
			data, _ := json.Marshal(map[string]any{
				"choices": []any{map[string]any{"delta": map[string]string{"content": c}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func mockSpec(url string) provider.Spec {
	return openai.New(openai.Options{ID: "mock", Name: "Mock", Endpoint: url, Model: "mock-model", CredentialKey: "mock"})
}

func newTestService(t *testing.T, creds credential.Store, specs ...provider.Spec) *Service {
	t.Helper()
	reg, err := provider.NewRegistry(specs...)
	require.NoError(t, err)

	renderSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<svg xmlns="http://www.w3.org/2000/svg">` + r.URL.Path + `</svg>`))
	}))
	t.Cleanup(renderSrv.Close)

	renderer := render.New(render.Endpoints([]string{renderSrv.URL}, time.Second, time.Second))
	client := llm.New(llm.WithTimeout(2 * time.Second))
	return New(reg, creds, client, renderer, noop.NewTracerProvider().Tracer("test"))
}

func TestGenerate_LoginScenario(t *testing.T) {
	mp := newMockProvider(t, completion(loginDiagram))
	svc := newTestService(t, credential.MapStore{"mock": "sk-mock"}, mockSpec(mp.URL))

	res, err := svc.Generate(context.Background(), GenerationRequest{Materials: loginMaterials, ProviderID: "mock"})
	require.NoError(t, err)

	assert.True(t, res.Succeeded)
	assert.Empty(t, res.ErrorDetail)
	assert.Equal(t, "mock", res.ProviderID)
	assert.Equal(t, "mock-model", res.Model)
	assert.NotEmpty(t, res.ID)
	assert.Contains(t, res.Content, loginDiagram)

	blocks := svc.ExtractDiagrams(res.Content)
	require.Len(t, blocks, 1)
	assert.Equal(t, loginDiagram, blocks[0].Raw)

	prompt, _ := mp.lastPrompt.Load().(string)
	assert.Contains(t, prompt, loginMaterials)
	assert.Equal(t, "Bearer sk-mock", mp.lastAuth.Load())
}

func TestGenerate_BlockedBeforeDispatch(t *testing.T) {
	mp := newMockProvider(t, completion(loginDiagram))
	svc := newTestService(t, credential.MapStore{}, mockSpec(mp.URL))

	res, err := svc.Generate(context.Background(), GenerationRequest{Materials: loginMaterials, ProviderID: "mock"})
	assert.ErrorIs(t, err, credential.ErrMissingCredential)
	require.NotNil(t, res)
	assert.False(t, res.Succeeded)
	assert.NotEmpty(t, res.ErrorDetail)

	_, err = svc.Generate(context.Background(), GenerationRequest{Materials: " \n\t", ProviderID: "mock", Credentials: map[string]string{"mock": "k"}})
	assert.ErrorIs(t, err, ErrEmptyMaterials)

	_, err = svc.Generate(context.Background(), GenerationRequest{Materials: loginMaterials, ProviderID: "nope"})
	assert.ErrorIs(t, err, provider.ErrUnknownProvider)

	assert.Equal(t, int32(0), mp.hits.Load())
}

func TestGenerate_RequestCredentialsOverride(t *testing.T) {
	mp := newMockProvider(t, completion(loginDiagram))
	svc := newTestService(t, credential.MapStore{"mock": "sk-env"}, mockSpec(mp.URL))

	_, err := svc.Generate(context.Background(), GenerationRequest{
		Materials:   loginMaterials,
		ProviderID:  "mock",
		Credentials: map[string]string{"mock": "sk-request"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-request", mp.lastAuth.Load())
}

func TestGenerate_ProviderError(t *testing.T) {
	mp := newMockProvider(t, func(w http.ResponseWriter, _ bool) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid API key"}}`))
	})
	svc := newTestService(t, credential.MapStore{"mock": "bad"}, mockSpec(mp.URL))

	res, err := svc.Generate(context.Background(), GenerationRequest{Materials: loginMaterials, ProviderID: "mock"})
	assert.ErrorIs(t, err, llm.ErrAuthenticationFailed)
	assert.False(t, res.Succeeded)
	assert.Contains(t, res.ErrorDetail, "Invalid API key")
}

func TestGenerateStreaming_ThreeChunks(t *testing.T) {
	mp := newMockProvider(t, streamed("@start", "uml\nA->B\n@enduml"))
	svc := newTestService(t, credential.MapStore{"mock": "k"}, mockSpec(mp.URL))

	var progress []string
	res, err := svc.GenerateStreaming(context.Background(), GenerationRequest{Materials: "A talks to B", ProviderID: "mock"}, func(text string) {
		progress = append(progress, text)
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(progress), 2)

	full := "@startuml\nA->B\n@enduml"
	assert.Equal(t, full, progress[len(progress)-1])
	assert.Equal(t, full, res.Content)
	assert.True(t, res.Succeeded)

	for _, text := range progress {
		blocks := svc.ExtractDiagrams(text)
		if strings.Contains(text, "@enduml") {
			require.Len(t, blocks, 1)
			assert.Equal(t, full, blocks[0].Raw)
		} else {
			assert.Empty(t, blocks, "partial text %q", text)
		}
	}
}

func TestGenerateStreaming_Unsupported(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	spec := gemini.New(gemini.Options{ID: "gemini", BaseURL: srv.URL, Model: "gemini-1.5-pro"})
	svc := newTestService(t, credential.MapStore{"gemini": "k"}, spec)

	res, err := svc.GenerateStreaming(context.Background(), GenerationRequest{Materials: loginMaterials, ProviderID: "gemini"}, nil)
	assert.ErrorIs(t, err, llm.ErrStreamingUnsupported)
	assert.False(t, res.Succeeded)
	assert.Equal(t, int32(0), hits.Load())
}

func TestGenerateStreaming_MissingCredentialBeforeUnsupported(t *testing.T) {
	spec := gemini.New(gemini.Options{ID: "gemini", BaseURL: "http://unused", Model: "gemini-1.5-pro"})
	svc := newTestService(t, credential.MapStore{}, spec)

	_, err := svc.GenerateStreaming(context.Background(), GenerationRequest{Materials: loginMaterials, ProviderID: "gemini"}, nil)
	assert.ErrorIs(t, err, credential.ErrMissingCredential)
	assert.NotErrorIs(t, err, llm.ErrStreamingUnsupported)
}

func TestGenerateStreaming_InterruptedKeepsPartial(t *testing.T) {
	mp := newMockProvider(t, func(w http.ResponseWriter, _ bool) {
		hj := w.(http.Hijacker)
		conn, buf, err := hj.Hijack()
		if err != nil {
			return
		}
		payload := "data: {\"choices\":[{\"delta\":{\"content\":\"@startuml\\nA\"}}]}\n\n"
		buf.WriteString("HTTP/1.1 200 OK\r\nContent-Type: text/event-stream\r\nTransfer-Encoding: chunked\r\n\r\n")
		fmt.Fprintf(buf, "%x\r\n%s\r\n", len(payload), payload)
		_ = buf.Flush()
		_ = conn.Close()
	})
	svc := newTestService(t, credential.MapStore{"mock": "k"}, mockSpec(mp.URL))

	res, err := svc.GenerateStreaming(context.Background(), GenerationRequest{Materials: loginMaterials, ProviderID: "mock"}, nil)
	assert.ErrorIs(t, err, llm.ErrStreamInterrupted)
	assert.False(t, res.Succeeded)
	assert.Equal(t, "@startuml\nA", res.Content)
}

func TestStreamWithDiagrams(t *testing.T) {
	mp := newMockProvider(t, streamed(
		"Intro\n@startuml\nA->B\n",
		"@enduml\nMiddle\n@start",
		"uml\nB->C\n@enduml",
		"\nOutro",
	))
	svc := newTestService(t, credential.MapStore{"mock": "k"}, mockSpec(mp.URL))

	ch, err := svc.StreamWithDiagrams(context.Background(), GenerationRequest{Materials: loginMaterials, ProviderID: "mock"})
	require.NoError(t, err)

	var updates []*Update
	for u := range ch {
		updates = append(updates, u)
	}
	require.Len(t, updates, 5)

	assert.Empty(t, updates[0].Diagrams)
	require.Len(t, updates[1].Diagrams, 1)
	assert.Equal(t, "@startuml\nA->B\n@enduml", updates[1].Diagrams[0].Raw)
	require.Len(t, updates[2].Diagrams, 1)
	assert.Equal(t, 1, updates[2].Diagrams[0].Index)
	assert.Empty(t, updates[3].Diagrams)

	last := updates[4]
	assert.True(t, last.Done)
	assert.NoError(t, last.Err)
	require.NotNil(t, last.Result)
	assert.True(t, last.Result.Succeeded)
	assert.Equal(t, last.Text, last.Result.Content)
	assert.True(t, strings.HasSuffix(last.Text, "Outro"))
}

func TestStreamWithDiagrams_MissingCredential(t *testing.T) {
	mp := newMockProvider(t, streamed("x"))
	svc := newTestService(t, credential.MapStore{}, mockSpec(mp.URL))

	_, err := svc.StreamWithDiagrams(context.Background(), GenerationRequest{Materials: loginMaterials, ProviderID: "mock"})
	assert.ErrorIs(t, err, credential.ErrMissingCredential)
	assert.Equal(t, int32(0), mp.hits.Load())
}

func TestRenderAll(t *testing.T) {
	svc := newTestService(t, credential.MapStore{}, mockSpec("http://unused"))

	text := "@startuml\nA->B\n@enduml\n@startuml\nB->C\n@enduml\n@startuml\nC->D\n@enduml"
	blocks := svc.ExtractDiagrams(text)
	require.Len(t, blocks, 3)

	results, err := svc.RenderAll(context.Background(), blocks, render.FormatSVG)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, res := range results {
		assert.Equal(t, blocks[i].Raw, res.Source)
		require.True(t, res.Rendered())
		assert.Contains(t, string(res.Image.Data), "/svg/"+res.Encoded)
	}
}

func TestReplaceDiagram(t *testing.T) {
	svc := newTestService(t, credential.MapStore{}, mockSpec("http://unused"))

	out, err := svc.ReplaceDiagram("intro\n"+loginDiagram+"\noutro", 0, "@startuml\nUser->System: logout\n@enduml")
	require.NoError(t, err)
	assert.Equal(t, "intro\n@startuml\nUser->System: logout\n@enduml\noutro", out)
}

func TestListProvidersAndCredentialStatus(t *testing.T) {
	specs := []provider.Spec{
		mockSpec("http://unused"),
		openai.New(openai.Options{ID: "chatgpt", Name: "OpenAI ChatGPT", Model: "gpt-4o", CredentialKey: "openai"}),
		gemini.New(gemini.Options{ID: "gemini", Name: "Google Gemini", Model: "gemini-1.5-pro"}),
	}
	svc := newTestService(t, credential.MapStore{"mock": "k"}, specs...)

	list := svc.ListProviders(context.Background(), map[string]string{"openai": "sk-request"})
	require.Len(t, list, 3)
	assert.Equal(t, []string{"mock", "chatgpt", "gemini"}, []string{list[0].ID, list[1].ID, list[2].ID})
	assert.True(t, list[0].Configured)
	assert.True(t, list[1].Configured)
	assert.False(t, list[2].Configured)
	assert.True(t, list[0].SupportsStreaming)
	assert.False(t, list[2].SupportsStreaming)

	st := svc.CredentialStatus(context.Background(), nil)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 1, st.Configured)
	assert.Equal(t, []string{"mock"}, st.Available)
	assert.Equal(t, []string{"chatgpt", "gemini"}, st.Missing)
}
