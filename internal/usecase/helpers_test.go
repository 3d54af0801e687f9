package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"starchat/internal/domain"
)

// memGateway is an in-memory Gateway with a deterministic clock.
type memGateway struct {
	mu        sync.Mutex
	clock     time.Time
	seq       int
	exchanges map[string]domain.Exchange
	markers   map[string]domain.StarMarker // by exchange id

	createExchangeErr error
	listExchangesErr  error
	listMarkersErr    error
	createMarkerErr   error
	deleteMarkerErr   error
	findCalls         int
	createMarkerCalls int
	// listNewestFirst makes ListExchanges return descending createdAt.
	listNewestFirst bool
}

func newMemGateway() *memGateway {
	return &memGateway{
		clock:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		exchanges: make(map[string]domain.Exchange),
		markers:   make(map[string]domain.StarMarker),
	}
}

func (g *memGateway) tick() time.Time {
	g.clock = g.clock.Add(time.Second)
	return g.clock
}

func (g *memGateway) nextID(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s-%03d", prefix, g.seq)
}

func (g *memGateway) CreateExchange(_ context.Context, userID, message, response, modelID string) (domain.Exchange, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createExchangeErr != nil {
		return domain.Exchange{}, g.createExchangeErr
	}
	ex := domain.Exchange{
		ID:        g.nextID("ex"),
		UserID:    userID,
		Message:   message,
		Response:  response,
		ModelUsed: modelID,
		CreatedAt: g.tick(),
	}
	g.exchanges[ex.ID] = ex
	return ex, nil
}

func (g *memGateway) GetExchange(_ context.Context, userID, exchangeID string) (domain.Exchange, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ex, ok := g.exchanges[exchangeID]
	if !ok || ex.UserID != userID {
		return domain.Exchange{}, fmt.Errorf("mem: GetExchange: %w", domain.ErrNotFound)
	}
	return ex, nil
}

func (g *memGateway) ListExchanges(_ context.Context, userID string) ([]domain.Exchange, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listExchangesErr != nil {
		return nil, g.listExchangesErr
	}
	var out []domain.Exchange
	for _, ex := range g.exchanges {
		if ex.UserID == userID {
			out = append(out, ex)
		}
	}
	if g.listNewestFirst {
		sortOldestFirst(out)
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func (g *memGateway) CreateStarMarker(_ context.Context, userID, exchangeID string) (domain.StarMarker, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createMarkerCalls++
	if g.createMarkerErr != nil {
		return domain.StarMarker{}, g.createMarkerErr
	}
	if _, ok := g.markers[exchangeID]; ok {
		return domain.StarMarker{}, domain.ErrStarExists
	}
	m := domain.StarMarker{
		ID:         g.nextID("star"),
		UserID:     userID,
		ExchangeID: exchangeID,
		StarredAt:  g.tick(),
	}
	g.markers[exchangeID] = m
	return m, nil
}

func (g *memGateway) FindStarMarker(_ context.Context, exchangeID string) (domain.StarMarker, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.findCalls++
	m, ok := g.markers[exchangeID]
	return m, ok, nil
}

func (g *memGateway) DeleteStarMarker(_ context.Context, marker domain.StarMarker) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.deleteMarkerErr != nil {
		return g.deleteMarkerErr
	}
	m, ok := g.markers[marker.ExchangeID]
	if !ok || m.ID != marker.ID {
		return domain.ErrNotFound
	}
	delete(g.markers, marker.ExchangeID)
	return nil
}

func (g *memGateway) ListStarMarkers(_ context.Context, userID string) ([]domain.StarMarker, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listMarkersErr != nil {
		return nil, g.listMarkersErr
	}
	var out []domain.StarMarker
	for _, m := range g.markers {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

// fakeGenerator records prompts and replies with a fixed result.
type fakeGenerator struct {
	text    string
	err     error
	calls   int
	models  []string
	prompts []string
}

func (f *fakeGenerator) Generate(_ context.Context, model, prompt string) (string, error) {
	f.calls++
	f.models = append(f.models, model)
	f.prompts = append(f.prompts, prompt)
	return f.text, f.err
}

func expectUsecaseError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, code, usecaseErr.Code)
	require.Equal(t, reason, usecaseErr.Reason)
}
