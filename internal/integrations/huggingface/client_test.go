package huggingface

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"starchat/internal/integrations/paramstore"
)

// ---------------------------------------------------------------------------
// modelURL helper
// ---------------------------------------------------------------------------

func TestModelURL(t *testing.T) {
	cases := []struct {
		base  string
		model string
		want  string
	}{
		{"https://api-inference.huggingface.co/models", "gpt2-medium", "https://api-inference.huggingface.co/models/gpt2-medium"},
		{"https://api-inference.huggingface.co/models/", "gpt2-medium", "https://api-inference.huggingface.co/models/gpt2-medium"},
		{"http://localhost:8080", "/org/model", "http://localhost:8080/org/model"},
		{"", "distilgpt2", "https://api-inference.huggingface.co/models/distilgpt2"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, modelURL(tc.base, tc.model), "base=%q model=%q", tc.base, tc.model)
	}
}

// ---------------------------------------------------------------------------
// NewClient
// ---------------------------------------------------------------------------

func TestNewClient_NilGetterWithoutToken(t *testing.T) {
	_, err := NewClient(nil, "/chat-history")
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")
}

func TestNewClient_EmptyPrefixWithoutToken(t *testing.T) {
	_, err := NewClient(&fakeGetter{}, " / ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "prefix")
}

func TestNewClient_StaticTokenNeedsNoGetter(t *testing.T) {
	c, err := NewClient(nil, "", WithAPIToken("hf-static"))
	require.NoError(t, err)
	tok, err := c.bearerToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "hf-static", tok)
}

func TestNewClient_Valid(t *testing.T) {
	c, err := NewClient(&fakeGetter{}, "/chat-history/")
	require.NoError(t, err)
	require.Equal(t, defaultBaseURL, c.baseURL)
	require.Equal(t, "/chat-history/inference-token", c.tokenParameterName())
}

// ---------------------------------------------------------------------------
// bearerToken
// ---------------------------------------------------------------------------

// fakeGetter is a minimal Getter stub for use within this package.
type fakeGetter struct {
	val    string
	err    error
	onCall func()
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	if f.onCall != nil {
		f.onCall()
	}
	return f.val, f.err
}

func TestBearerToken_KeptAfterSuccess(t *testing.T) {
	calls := 0
	g := &fakeGetter{val: `{"token":"hf-from-ssm"}`}
	g.onCall = func() { calls++ }
	c, err := NewClient(g, "/chat-history")
	require.NoError(t, err)

	tok, err := c.bearerToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "hf-from-ssm", tok)

	_, _ = c.bearerToken(context.Background())
	require.Equal(t, 1, calls)
}

func TestBearerToken_RetriesAfterFailure(t *testing.T) {
	g := &fakeGetter{err: errors.New("ssm unavailable")}
	c, err := NewClient(g, "/chat-history")
	require.NoError(t, err)

	_, err = c.bearerToken(context.Background())
	require.ErrorIs(t, err, ErrTokenUnavailable)

	g.err = nil
	g.val = `{"token":"hf-later"}`
	tok, err := c.bearerToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "hf-later", tok)
}

func TestLoadToken_Failures(t *testing.T) {
	cases := []struct {
		name   string
		getter *fakeGetter
		want   string
	}{
		{"missing parameter", &fakeGetter{err: fmt.Errorf("%w: %q", paramstore.ErrParameterNotFound, "/p/inference-token")}, "parameter /p/inference-token does not exist"},
		{"missing token field", &fakeGetter{val: `{"other":"x"}`}, "empty token"},
		{"blank token", &fakeGetter{val: `{"token":"  "}`}, "empty token"},
		{"malformed document", &fakeGetter{val: `{"broken`}, "is not a"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := NewClient(tc.getter, "/p")
			require.NoError(t, err)
			_, err = c.loadToken(context.Background())
			require.ErrorIs(t, err, ErrTokenUnavailable)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

// ---------------------------------------------------------------------------
// Client.Generate
// ---------------------------------------------------------------------------

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(
		&fakeGetter{val: `{"token":"hf-test"}`},
		"/chat-history",
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	)
	require.NoError(t, err)
	return c
}

func respondWith(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func TestClient_Generate_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/gpt2-medium", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer hf-test", r.Header.Get("Authorization"))
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req inferenceRequest
		require.NoError(t, json.Unmarshal(raw, &req))
		require.Equal(t, "hello", req.Inputs)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"generated_text":"hello there"},{"generated_text":"ignored"}]`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	out, err := c.Generate(context.Background(), "gpt2-medium", "hello")
	require.NoError(t, err)
	require.Equal(t, "hello there", out)
}

func TestClient_Generate_Non2xx(t *testing.T) {
	srv := httptest.NewServer(respondWith(http.StatusServiceUnavailable, `{"error":"loading"}`))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Generate(context.Background(), "gpt2-medium", "hello")
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusServiceUnavailable, statusErr.HTTPStatusCode())
	require.Equal(t, "loading", statusErr.Message)
	require.Equal(t, "gpt2-medium", statusErr.Model)
}

func TestClient_Generate_ModelLoading(t *testing.T) {
	srv := httptest.NewServer(respondWith(http.StatusServiceUnavailable,
		`{"error":"Model gpt2-medium is currently loading","estimated_time":20.5}`))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Generate(context.Background(), "gpt2-medium", "hello")

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, 20500*time.Millisecond, statusErr.Loading)
	require.Contains(t, err.Error(), "currently loading")
}

func TestClient_Generate_PlainTextFailureBody(t *testing.T) {
	srv := httptest.NewServer(respondWith(http.StatusBadGateway, "upstream down\n"))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Generate(context.Background(), "gpt2-medium", "hello")

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, "upstream down", statusErr.Message)
	require.Zero(t, statusErr.Loading)
}

func TestClient_Generate_EmptyList(t *testing.T) {
	srv := httptest.NewServer(respondWith(http.StatusOK, `[]`))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Generate(context.Background(), "gpt2-medium", "hello")
	require.ErrorIs(t, err, ErrNoContent)
}

func TestClient_Generate_ObjectPayload(t *testing.T) {
	srv := httptest.NewServer(respondWith(http.StatusOK, `{"generated_text":"not a list"}`))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Generate(context.Background(), "gpt2-medium", "hello")
	require.ErrorIs(t, err, ErrNoContent)
}

func TestClient_Generate_BlankGeneratedText(t *testing.T) {
	srv := httptest.NewServer(respondWith(http.StatusOK, `[{"generated_text":"  "}]`))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Generate(context.Background(), "gpt2-medium", "hello")
	require.ErrorIs(t, err, ErrNoContent)
}

func TestClient_Generate_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(respondWith(http.StatusOK, `not-a-json`))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Generate(context.Background(), "gpt2-medium", "hello")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNoContent)
	require.Contains(t, err.Error(), "decode response")
}

func TestClient_Generate_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(respondWith(http.StatusOK, ``))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Generate(context.Background(), "gpt2-medium", "hello")
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty response body")
}

func TestClient_Generate_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`[{"generated_text":"late"}]`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	c.httpClient = &http.Client{Timeout: 50 * time.Millisecond}
	_, err := c.Generate(context.Background(), "gpt2-medium", "hello")
	require.Error(t, err)
	require.Contains(t, err.Error(), "call model gpt2-medium")
}

func TestClient_Generate_EmptyModel(t *testing.T) {
	c, err := NewClient(nil, "", WithAPIToken("hf-test"))
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), " ", "hello")
	require.Error(t, err)
	require.Contains(t, err.Error(), "model")
}

func TestClient_Generate_TokenLookupFails(t *testing.T) {
	c, err := NewClient(&fakeGetter{err: errors.New("ssm unavailable")}, "/chat-history")
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), "gpt2-medium", "hello")
	require.ErrorIs(t, err, ErrTokenUnavailable)
	require.Contains(t, err.Error(), "ssm unavailable")
}
