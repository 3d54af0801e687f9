package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"starchat/internal/domain"
	"starchat/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type ConversationUseCase interface {
	Submit(ctx context.Context, in usecase.SubmitInput) (domain.Exchange, error)
	History(ctx context.Context, userID string) ([]domain.HistoryEntry, error)
	Models() []string
}

type StarUseCase interface {
	Star(ctx context.Context, userID, exchangeID string) (usecase.StarOutput, error)
	Unstar(ctx context.Context, userID, exchangeID string) error
	StarredFor(ctx context.Context, userID string) ([]domain.StarredExchange, error)
}

type submitRequest struct {
	UserID    string `json:"userId"`
	Message   string `json:"message"`
	ModelUsed string `json:"modelUsed"`
}

type submitResponse struct {
	Response string          `json:"response"`
	Exchange domain.Exchange `json:"exchange"`
}

type starRequest struct {
	UserID     string `json:"userId"`
	ExchangeID string `json:"userChatHistoryId"`
}

type starResponse struct {
	Response domain.StarMarker `json:"response"`
}

type starredResponse struct {
	Response []domain.StarredExchange `json:"response"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type modelsResponse struct {
	Models []string `json:"models"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// Handler serves the chat and starred routes as API Gateway proxy events.
type Handler struct {
	conv   ConversationUseCase
	stars  StarUseCase
	logger *slog.Logger
}

func NewHandler(conv ConversationUseCase, stars StarUseCase) (*Handler, error) {
	if conv == nil {
		return nil, errors.New("handler: conversation use case must not be nil")
	}
	if stars == nil {
		return nil, errors.New("handler: star use case must not be nil")
	}
	return &Handler{conv: conv, stars: stars, logger: slog.Default().With("component", "handler")}, nil
}

// Handle routes one request. Failures are reported in the response; the
// returned error is always nil so API Gateway never sees a Lambda fault.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := headerValue(req.Headers, correlationHeader)
	if corrID == "" {
		corrID = uuid.NewString()
	}
	logger := h.logger.With("correlationId", corrID, "method", req.HTTPMethod, "path", req.Path)

	status, body := h.route(ctx, logger, req)
	resp := jsonResponse(status, body)
	resp.Headers[correlationHeader] = corrID

	if status >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, "request failed", "status", status)
	} else {
		logger.InfoContext(ctx, "request handled", "status", status)
	}
	return resp, nil
}

func (h *Handler) route(ctx context.Context, logger *slog.Logger, req events.APIGatewayProxyRequest) (int, any) {
	switch routePath(req.Path) {
	case "/chat":
		switch req.HTTPMethod {
		case http.MethodGet:
			return h.history(ctx, logger, req)
		case http.MethodPost:
			return h.submit(ctx, logger, req)
		}
	case "/starred":
		switch req.HTTPMethod {
		case http.MethodGet:
			return h.starred(ctx, logger, req)
		case http.MethodPost:
			return h.star(ctx, logger, req)
		case http.MethodDelete:
			return h.unstar(ctx, logger, req)
		}
	case "/models":
		if req.HTTPMethod == http.MethodGet {
			return http.StatusOK, modelsResponse{Models: h.conv.Models()}
		}
	default:
		return http.StatusNotFound, errorResponse{Error: string(usecase.ErrorNotFound), Reason: "unknown_route"}
	}
	return http.StatusMethodNotAllowed, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "method_not_allowed"}
}

// routePath normalises trailing slashes and drops an optional /api segment.
func routePath(raw string) string {
	p := "/" + strings.Trim(raw, "/")
	if p == "/api" || strings.HasPrefix(p, "/api/") {
		p = "/" + strings.TrimPrefix(strings.TrimPrefix(p, "/api"), "/")
	}
	return p
}

func (h *Handler) history(ctx context.Context, logger *slog.Logger, req events.APIGatewayProxyRequest) (int, any) {
	entries, err := h.conv.History(ctx, req.QueryStringParameters["userId"])
	if err != nil {
		return errorResult(ctx, logger, err)
	}
	return http.StatusOK, entries
}

func (h *Handler) submit(ctx context.Context, logger *slog.Logger, req events.APIGatewayProxyRequest) (int, any) {
	var in submitRequest
	if err := decodeBody(req.Body, &in); err != nil {
		return http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_body"}
	}
	ex, err := h.conv.Submit(ctx, usecase.SubmitInput{UserID: in.UserID, Message: in.Message, ModelID: in.ModelUsed})
	if err != nil {
		return errorResult(ctx, logger, err)
	}
	return http.StatusCreated, submitResponse{Response: ex.Response, Exchange: ex}
}

func (h *Handler) starred(ctx context.Context, logger *slog.Logger, req events.APIGatewayProxyRequest) (int, any) {
	items, err := h.stars.StarredFor(ctx, req.QueryStringParameters["userId"])
	if err != nil {
		return errorResult(ctx, logger, err)
	}
	return http.StatusOK, starredResponse{Response: items}
}

func (h *Handler) star(ctx context.Context, logger *slog.Logger, req events.APIGatewayProxyRequest) (int, any) {
	var in starRequest
	if err := decodeBody(req.Body, &in); err != nil {
		return http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_body"}
	}
	out, err := h.stars.Star(ctx, in.UserID, in.ExchangeID)
	if err != nil {
		return errorResult(ctx, logger, err)
	}
	status := http.StatusOK
	if out.Created {
		status = http.StatusCreated
	}
	return status, starResponse{Response: out.Marker}
}

func (h *Handler) unstar(ctx context.Context, logger *slog.Logger, req events.APIGatewayProxyRequest) (int, any) {
	var in starRequest
	if err := decodeBody(req.Body, &in); err != nil {
		return http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_body"}
	}
	if err := h.stars.Unstar(ctx, in.UserID, in.ExchangeID); err != nil {
		return errorResult(ctx, logger, err)
	}
	return http.StatusOK, messageResponse{Message: "Message unstarred successfully"}
}

func decodeBody(body string, v any) error {
	if strings.TrimSpace(body) == "" {
		return errors.New("handler: empty body")
	}
	return json.Unmarshal([]byte(body), v)
}

func errorResult(ctx context.Context, logger *slog.Logger, err error) (int, any) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		logger.ErrorContext(ctx, "unexpected error", "err", err)
		return http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)}
	}
	status := http.StatusInternalServerError
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		status = http.StatusBadRequest
	case usecase.ErrorNotFound:
		status = http.StatusNotFound
	}
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, "use case failed", "code", ucErr.Code, "reason", ucErr.Reason, "err", ucErr.Err)
		return status, errorResponse{Error: string(ucErr.Code)}
	}
	return status, errorResponse{Error: string(ucErr.Code), Reason: ucErr.Reason}
}

func jsonResponse(status int, body any) events.APIGatewayProxyResponse {
	headers := map[string]string{"Content-Type": "application/json"}
	raw, err := json.Marshal(body)
	if err != nil {
		raw = []byte(`{"error":"` + string(usecase.ErrorInternal) + `"}`)
		status = http.StatusInternalServerError
	}
	return events.APIGatewayProxyResponse{StatusCode: status, Headers: headers, Body: string(raw)}
}

// headerValue looks a header up case-insensitively.
func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
