package domain

import "time"

// Exchange is one persisted user message and the model response it produced.
type Exchange struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Message   string    `json:"message"`
	Response  string    `json:"response"`
	ModelUsed string    `json:"modelUsed"`
	CreatedAt time.Time `json:"createdAt"`
}

// StarMarker flags a single Exchange as starred by its owner.
type StarMarker struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	ExchangeID string    `json:"userChatHistoryId"`
	StarredAt  time.Time `json:"starredAt"`
}

// HistoryEntry is an Exchange with its derived starred flag.
type HistoryEntry struct {
	Exchange
	Starred bool `json:"starred"`
}

// StarredExchange is a StarMarker joined with the Exchange it marks.
type StarredExchange struct {
	StarMarker
	ModelUsed string   `json:"modelUsed"`
	Exchange  Exchange `json:"userChatHistory"`
}
