package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"starchat/internal/domain"
)

// StarOutput carries the live marker and whether this call created it.
type StarOutput struct {
	Marker  domain.StarMarker
	Created bool
}

// StarService creates, removes and lists star markers.
type StarService struct {
	store  Gateway
	logger *slog.Logger
}

func NewStarService(g Gateway, logger *slog.Logger) (*StarService, error) {
	if g == nil {
		return nil, errors.New("usecase: gateway must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StarService{store: g, logger: logger.With("component", "star")}, nil
}

// Star marks the exchange. Starring an already starred exchange returns the
// existing marker. The exchange must exist and belong to userID.
func (s *StarService) Star(ctx context.Context, userID, exchangeID string) (StarOutput, error) {
	userID, exchangeID, err := starArgs(userID, exchangeID)
	if err != nil {
		return StarOutput{}, err
	}

	if _, err := s.store.GetExchange(ctx, userID, exchangeID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return StarOutput{}, newError(ErrorNotFound, "exchange_not_found", nil)
		}
		return StarOutput{}, newError(ErrorInternal, "exchange_read_error", err)
	}

	existing, ok, err := s.store.FindStarMarker(ctx, exchangeID)
	if err != nil {
		return StarOutput{}, newError(ErrorInternal, "star_read_error", err)
	}
	if ok {
		return StarOutput{Marker: existing}, nil
	}

	marker, err := s.store.CreateStarMarker(ctx, userID, exchangeID)
	if errors.Is(err, domain.ErrStarExists) {
		// Lost a race with a concurrent star; the winner's marker stands.
		existing, ok, findErr := s.store.FindStarMarker(ctx, exchangeID)
		if findErr != nil {
			return StarOutput{}, newError(ErrorInternal, "star_read_error", findErr)
		}
		if ok {
			return StarOutput{Marker: existing}, nil
		}
		return StarOutput{}, newError(ErrorInternal, "star_write_error", err)
	}
	if err != nil {
		return StarOutput{}, newError(ErrorInternal, "star_write_error", err)
	}

	s.logger.InfoContext(ctx, "exchange starred", "userId", userID, "exchangeId", exchangeID, "markerId", marker.ID)
	return StarOutput{Marker: marker, Created: true}, nil
}

// Unstar removes the exchange's marker. Unstarring an exchange that is not
// starred is a NOT_FOUND error, not a no-op.
func (s *StarService) Unstar(ctx context.Context, userID, exchangeID string) error {
	userID, exchangeID, err := starArgs(userID, exchangeID)
	if err != nil {
		return err
	}

	marker, ok, err := s.store.FindStarMarker(ctx, exchangeID)
	if err != nil {
		return newError(ErrorInternal, "star_read_error", err)
	}
	if !ok || marker.UserID != userID {
		return newError(ErrorNotFound, "star_not_found", nil)
	}

	if err := s.store.DeleteStarMarker(ctx, marker); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return newError(ErrorNotFound, "star_not_found", nil)
		}
		return newError(ErrorInternal, "star_delete_error", err)
	}
	s.logger.InfoContext(ctx, "exchange unstarred", "userId", userID, "exchangeId", exchangeID, "markerId", marker.ID)
	return nil
}

// StarredFor lists the user's starred exchanges, most recently starred first.
func (s *StarService) StarredFor(ctx context.Context, userID string) ([]domain.StarredExchange, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, newError(ErrorInvalidInput, "missing_user_id", nil)
	}

	markers, err := s.store.ListStarMarkers(ctx, userID)
	if err != nil {
		return nil, newError(ErrorInternal, "star_read_error", err)
	}
	if len(markers) == 0 {
		return []domain.StarredExchange{}, nil
	}
	exchanges, err := s.store.ListExchanges(ctx, userID)
	if err != nil {
		return nil, newError(ErrorInternal, "exchange_read_error", err)
	}
	byID := make(map[string]domain.Exchange, len(exchanges))
	for _, ex := range exchanges {
		byID[ex.ID] = ex
	}

	sort.SliceStable(markers, func(i, j int) bool {
		a, b := markers[i], markers[j]
		if a.StarredAt.Equal(b.StarredAt) {
			return a.ID > b.ID
		}
		return a.StarredAt.After(b.StarredAt)
	})

	out := make([]domain.StarredExchange, 0, len(markers))
	for _, m := range markers {
		ex, ok := byID[m.ExchangeID]
		if !ok {
			s.logger.WarnContext(ctx, "star marker without exchange", "userId", userID, "markerId", m.ID, "exchangeId", m.ExchangeID)
			continue
		}
		out = append(out, domain.StarredExchange{StarMarker: m, ModelUsed: ex.ModelUsed, Exchange: ex})
	}
	return out, nil
}

func starArgs(userID, exchangeID string) (string, string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", "", newError(ErrorInvalidInput, "missing_user_id", nil)
	}
	exchangeID = strings.TrimSpace(exchangeID)
	if exchangeID == "" {
		return "", "", newError(ErrorInvalidInput, "missing_exchange_id", nil)
	}
	return userID, exchangeID, nil
}
