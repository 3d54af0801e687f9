package usecase

import (
	"context"

	"starchat/internal/domain"
)

// Gateway is the persistence surface used by the conversation and star
// services. Implementations return domain.ErrNotFound and
// domain.ErrStarExists (possibly wrapped) for the cases named below.
type Gateway interface {
	CreateExchange(ctx context.Context, userID, message, response, modelID string) (domain.Exchange, error)
	// GetExchange returns domain.ErrNotFound when userID owns no such exchange.
	GetExchange(ctx context.Context, userID, exchangeID string) (domain.Exchange, error)
	// ListExchanges returns exchanges in no particular order.
	ListExchanges(ctx context.Context, userID string) ([]domain.Exchange, error)

	// CreateStarMarker returns domain.ErrStarExists when exchangeID is already starred.
	CreateStarMarker(ctx context.Context, userID, exchangeID string) (domain.StarMarker, error)
	FindStarMarker(ctx context.Context, exchangeID string) (domain.StarMarker, bool, error)
	// DeleteStarMarker returns domain.ErrNotFound when the marker is already gone.
	DeleteStarMarker(ctx context.Context, marker domain.StarMarker) error
	ListStarMarkers(ctx context.Context, userID string) ([]domain.StarMarker, error)
}
