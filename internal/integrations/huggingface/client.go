package huggingface

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"starchat/internal/integrations/paramstore"
)

const (
	defaultBaseURL = "https://api-inference.huggingface.co/models"
	defaultTimeout = 10 * time.Second

	maxErrorBody  = 4 << 10
	maxResultBody = 1 << 20
)

var (
	// ErrNoContent is returned when the endpoint answers 2xx with a well-formed
	// payload that carries no generated text.
	ErrNoContent = errors.New("huggingface: no generated text in response")

	// ErrTokenUnavailable wraps every failure to obtain the inference token.
	ErrTokenUnavailable = errors.New("huggingface: inference token unavailable")
)

type inferenceRequest struct {
	Inputs string `json:"inputs"`
}

// generation is one element of the list returned by text-generation models.
type generation struct {
	GeneratedText string `json:"generated_text"`
}

// inferenceFailure is the body the inference API sends with non-2xx statuses,
// e.g. {"error":"Model gpt2 is currently loading","estimated_time":20.0}.
type inferenceFailure struct {
	Error         string  `json:"error"`
	EstimatedTime float64 `json:"estimated_time"`
}

// storedToken is the JSON document kept in the parameter store.
type storedToken struct {
	Token string `json:"token"`
}

// Getter reads one named parameter; *paramstore.Client satisfies it.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// StatusError is a non-2xx answer from the inference endpoint.
type StatusError struct {
	Model  string
	Status int
	// Message is the endpoint's "error" field, or the raw body when absent.
	Message string
	// Loading is how long the endpoint expects the model to stay cold.
	Loading time.Duration
}

func (e *StatusError) Error() string {
	if e.Loading > 0 {
		return fmt.Sprintf("huggingface: model %s answered %d (loading, ~%s): %s", e.Model, e.Status, e.Loading, e.Message)
	}
	return fmt.Sprintf("huggingface: model %s answered %d: %s", e.Model, e.Status, e.Message)
}

func (e *StatusError) HTTPStatusCode() int { return e.Status }

// Client calls a hosted text-generation endpoint, one model per URL path.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string

	tokenMu sync.Mutex
	token   string
}

type Option func(*Client)

// WithBaseURL points the client at another inference host, e.g. a local
// text-generation server.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSpace(baseURL) }
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithAPIToken pins the bearer token so the parameter store is never consulted.
func WithAPIToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// NewClient creates a Client. Unless WithAPIToken is given, the token is
// read from <paramPrefix>/inference-token on first use and kept once it loads.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: defaultTimeout},
		getter:      ps,
		paramPrefix: strings.TrimRight(strings.TrimSpace(paramPrefix), "/"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.token != "" {
		return c, nil
	}
	if c.getter == nil {
		return nil, errors.New("huggingface: token getter must not be nil without a static token")
	}
	if c.paramPrefix == "" {
		return nil, errors.New("huggingface: parameter prefix must not be empty")
	}
	return c, nil
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/inference-token"
}

// bearerToken returns the token, loading it on first success. Failed lookups
// are not remembered so a later request can recover.
func (c *Client) bearerToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	tok, err := c.loadToken(ctx)
	if err != nil {
		return "", err
	}
	c.token = tok
	return tok, nil
}

func (c *Client) loadToken(ctx context.Context) (string, error) {
	name := c.tokenParameterName()
	raw, err := c.getter.GetParameter(ctx, name)
	switch {
	case errors.Is(err, paramstore.ErrParameterNotFound):
		return "", fmt.Errorf("%w: parameter %s does not exist", ErrTokenUnavailable, name)
	case err != nil:
		return "", fmt.Errorf("%w: %w", ErrTokenUnavailable, err)
	}
	var st storedToken
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return "", fmt.Errorf("%w: parameter %s is not a {\"token\": ...} document: %w", ErrTokenUnavailable, name, err)
	}
	if strings.TrimSpace(st.Token) == "" {
		return "", fmt.Errorf("%w: parameter %s has an empty token", ErrTokenUnavailable, name)
	}
	return strings.TrimSpace(st.Token), nil
}

func modelURL(baseURL, model string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return base + "/" + strings.TrimLeft(model, "/")
}

// Generate sends prompt to model and returns the first generated text.
// A 2xx body that is not a non-empty list yields ErrNoContent; a body that is
// not JSON at all is a decode error.
func (c *Client) Generate(ctx context.Context, model, prompt string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("huggingface: model must not be empty")
	}
	tok, err := c.bearerToken(ctx)
	if err != nil {
		return "", err
	}
	raw, err := c.infer(ctx, model, tok, inferenceRequest{Inputs: prompt})
	if err != nil {
		return "", err
	}
	return parseGeneration(raw)
}

// infer posts one inference request and returns the 2xx body.
func (c *Client) infer(ctx context.Context, model, token string, in inferenceRequest) ([]byte, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("huggingface: encode inputs: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, modelURL(c.baseURL, model), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("huggingface: build request for %s: %w", model, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	hc := c.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	res, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("huggingface: call model %s: %w", model, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return nil, statusError(model, res.StatusCode, body)
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, maxResultBody))
	if err != nil {
		return nil, fmt.Errorf("huggingface: read answer from %s: %w", model, err)
	}
	return body, nil
}

func statusError(model string, status int, body []byte) *StatusError {
	e := &StatusError{Model: model, Status: status, Message: strings.TrimSpace(string(body))}
	var f inferenceFailure
	if json.Unmarshal(body, &f) == nil && f.Error != "" {
		e.Message = f.Error
		e.Loading = time.Duration(f.EstimatedTime * float64(time.Second))
	}
	return e
}

func parseGeneration(raw []byte) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", errors.New("huggingface: empty response body")
	}
	var payload any
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return "", fmt.Errorf("huggingface: decode response: %w", err)
	}
	if _, ok := payload.([]any); !ok {
		return "", ErrNoContent
	}

	var gens []generation
	if err := json.Unmarshal(trimmed, &gens); err != nil {
		return "", fmt.Errorf("huggingface: decode generations: %w", err)
	}
	if len(gens) == 0 || strings.TrimSpace(gens[0].GeneratedText) == "" {
		return "", ErrNoContent
	}
	return gens[0].GeneratedText, nil
}
