package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// LocalStubModel is the model id that never leaves the process.
const LocalStubModel = "local-stub"

// Fixed texts stored as the response when no real answer is available.
const (
	StubResponse      = "Hello! How can I assist you?"
	ErrorResponse     = "Sorry, the model is unavailable right now. Please try again later."
	NoContentResponse = "The model returned no content."
)

// Outcome reports how a dispatched response was produced.
type Outcome string

const (
	OutcomeStub               Outcome = "stub"
	OutcomeGenerated          Outcome = "generated"
	OutcomeNoContent          Outcome = "no_content"
	OutcomeBackendUnavailable Outcome = "backend_unavailable"
)

// Generator is the remote text-generation client.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// strategy turns a message into response text for one model id.
type strategy interface {
	respond(ctx context.Context, message string) (string, Outcome)
}

type localStub struct{}

func (localStub) respond(context.Context, string) (string, Outcome) {
	return StubResponse, OutcomeStub
}

type remoteInference struct {
	model     string
	gen       Generator
	noContent error
	logger    *slog.Logger
}

func (r remoteInference) respond(ctx context.Context, message string) (string, Outcome) {
	text, err := r.gen.Generate(ctx, r.model, message)
	if err != nil {
		if r.noContent != nil && errors.Is(err, r.noContent) {
			return NoContentResponse, OutcomeNoContent
		}
		attrs := []any{"model", r.model, "err", err}
		if status, ok := upstreamStatusCode(err); ok {
			attrs = append(attrs, "status", status)
		}
		r.logger.WarnContext(ctx, "remote inference failed", attrs...)
		return ErrorResponse, OutcomeBackendUnavailable
	}
	if strings.TrimSpace(text) == "" {
		return NoContentResponse, OutcomeNoContent
	}
	return text, OutcomeGenerated
}

// DispatcherConfig lists the model ids a Dispatcher accepts.
type DispatcherConfig struct {
	// RemoteModels are served by the Generator.
	RemoteModels []string
	// StubModels are accepted but answered by the local stub.
	StubModels []string
	// NoContentErr is the Generator's sentinel for a well-formed empty answer.
	NoContentErr error
}

// Dispatcher maps a model id onto the strategy that answers for it.
type Dispatcher struct {
	strategies map[string]strategy
	order      []string
	logger     *slog.Logger
}

// NewDispatcher builds the fixed model set. local-stub is always present; a
// nil Generator turns every remote model into a stub.
func NewDispatcher(gen Generator, cfg DispatcherConfig, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		strategies: make(map[string]strategy),
		logger:     logger.With("component", "dispatcher"),
	}
	add := func(id string, s strategy) error {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil
		}
		if _, dup := d.strategies[id]; dup {
			return errors.New("usecase: duplicate model id " + id)
		}
		d.strategies[id] = s
		d.order = append(d.order, id)
		return nil
	}

	for _, id := range cfg.RemoteModels {
		var s strategy = localStub{}
		// local-stub never leaves the process, even when listed as remote.
		if gen != nil && strings.TrimSpace(id) != LocalStubModel {
			s = remoteInference{model: strings.TrimSpace(id), gen: gen, noContent: cfg.NoContentErr, logger: d.logger}
		}
		if err := add(id, s); err != nil {
			return nil, err
		}
	}
	for _, id := range cfg.StubModels {
		if err := add(id, localStub{}); err != nil {
			return nil, err
		}
	}
	if _, ok := d.strategies[LocalStubModel]; !ok {
		_ = add(LocalStubModel, localStub{})
	}
	return d, nil
}

// Models returns the accepted model ids; the first is the default.
func (d *Dispatcher) Models() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// Supports reports whether modelID is in the fixed model set.
func (d *Dispatcher) Supports(modelID string) bool {
	_, ok := d.strategies[modelID]
	return ok
}

// Dispatch produces the response text for message. It never fails: backend
// problems come back as one of the fixed fallback texts. Unknown model ids
// are answered by the local stub; callers check Supports first.
func (d *Dispatcher) Dispatch(ctx context.Context, modelID, message string) (string, Outcome) {
	s, ok := d.strategies[modelID]
	if !ok {
		s = localStub{}
	}
	text, outcome := s.respond(ctx, message)
	d.logger.InfoContext(ctx, "dispatched message", "model", modelID, "outcome", string(outcome))
	return text, outcome
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
