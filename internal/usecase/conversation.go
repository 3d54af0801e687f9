package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"starchat/internal/domain"
)

const defaultMaxMessage = 4000

// MessageDispatcher produces response text for a message. Dispatcher is the
// production implementation.
type MessageDispatcher interface {
	Dispatch(ctx context.Context, modelID, message string) (string, Outcome)
	Supports(modelID string) bool
	Models() []string
}

type SubmitInput struct {
	UserID  string
	Message string
	ModelID string
}

// ConversationService records exchanges and serves a user's history.
type ConversationService struct {
	dispatcher    MessageDispatcher
	store         Gateway
	maxMessageLen int
	logger        *slog.Logger
}

func NewConversationService(d MessageDispatcher, g Gateway, maxMessageLen int, logger *slog.Logger) (*ConversationService, error) {
	if d == nil {
		return nil, errors.New("usecase: dispatcher must not be nil")
	}
	if g == nil {
		return nil, errors.New("usecase: gateway must not be nil")
	}
	if maxMessageLen <= 0 {
		maxMessageLen = defaultMaxMessage
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationService{
		dispatcher:    d,
		store:         g,
		maxMessageLen: maxMessageLen,
		logger:        logger.With("component", "conversation"),
	}, nil
}

// Submit answers the message synchronously and persists the exchange. The
// stored response may be a fallback text; Submit still succeeds in that case.
func (s *ConversationService) Submit(ctx context.Context, in SubmitInput) (domain.Exchange, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return domain.Exchange{}, newError(ErrorInvalidInput, "missing_user_id", nil)
	}
	// Whitespace decides emptiness only; the text is stored as typed.
	message := in.Message
	if strings.TrimSpace(message) == "" {
		return domain.Exchange{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if len(message) > s.maxMessageLen {
		return domain.Exchange{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}
	modelID := strings.TrimSpace(in.ModelID)
	if modelID == "" {
		if models := s.dispatcher.Models(); len(models) > 0 {
			modelID = models[0]
		}
	}
	if !s.dispatcher.Supports(modelID) {
		return domain.Exchange{}, newError(ErrorInvalidInput, "unknown_model", nil)
	}

	response, outcome := s.dispatcher.Dispatch(ctx, modelID, message)

	ex, err := s.store.CreateExchange(ctx, userID, message, response, modelID)
	if err != nil {
		return domain.Exchange{}, newError(ErrorInternal, "exchange_write_error", err)
	}
	s.logger.InfoContext(ctx, "exchange recorded",
		"userId", userID,
		"exchangeId", ex.ID,
		"model", modelID,
		"outcome", string(outcome))
	return ex, nil
}

// History returns the user's exchanges oldest first with the starred flag
// joined from the user's star markers. The two reads are not a snapshot.
func (s *ConversationService) History(ctx context.Context, userID string) ([]domain.HistoryEntry, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, newError(ErrorInvalidInput, "missing_user_id", nil)
	}

	exchanges, err := s.store.ListExchanges(ctx, userID)
	if err != nil {
		return nil, newError(ErrorInternal, "exchange_read_error", err)
	}
	markers, err := s.store.ListStarMarkers(ctx, userID)
	if err != nil {
		return nil, newError(ErrorInternal, "star_read_error", err)
	}

	starred := make(map[string]struct{}, len(markers))
	for _, m := range markers {
		starred[m.ExchangeID] = struct{}{}
	}

	sortOldestFirst(exchanges)
	out := make([]domain.HistoryEntry, 0, len(exchanges))
	for _, ex := range exchanges {
		_, ok := starred[ex.ID]
		out = append(out, domain.HistoryEntry{Exchange: ex, Starred: ok})
	}
	return out, nil
}

// Models lists the model ids Submit accepts; the first is the default.
func (s *ConversationService) Models() []string {
	return s.dispatcher.Models()
}

func sortOldestFirst(exchanges []domain.Exchange) {
	sort.SliceStable(exchanges, func(i, j int) bool {
		a, b := exchanges[i], exchanges[j]
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}
