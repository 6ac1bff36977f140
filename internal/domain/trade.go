package domain

import "time"

// MaxPendingTrades is how many open offers a single sender may have.
const MaxPendingTrades = 5

// TradeStatus is the lifecycle state of a trade
type TradeStatus string

const (
	TradeStatusPending   TradeStatus = "pending"
	TradeStatusCompleted TradeStatus = "completed"
)

// Trade is a player-to-player offer. Trades are never deleted.
type Trade struct {
	TradeID         string      `json:"tradeId"`
	SenderID        string      `json:"senderId"`
	SenderName      string      `json:"senderName"`
	TargetID        string      `json:"targetId"`
	OfferGold       int64       `json:"offerGold"`
	OfferItem       *Item       `json:"offerItem"`
	ReqGold         int64       `json:"reqGold"`
	Status          TradeStatus `json:"status"`
	CreatedAt       time.Time   `json:"createdAt"`
	CompletedAt     *time.Time  `json:"completedAt,omitempty"`
	ServerValidated bool        `json:"serverValidated"`
}

// IsPending reports whether the trade can still be accepted.
func (t *Trade) IsPending() bool {
	return t.Status == TradeStatusPending
}

// CreateTradeRequest is the input of createTrade
type CreateTradeRequest struct {
	TargetID   string `json:"targetId"`
	OfferGold  int64  `json:"offerGold,omitempty"`
	OfferItem  *Item  `json:"offerItem,omitempty"`
	ReqGold    int64  `json:"reqGold,omitempty"`
	SenderName string `json:"senderName,omitempty"`
}

// CreateTradeResponse is the output of createTrade
type CreateTradeResponse struct {
	Success bool   `json:"success"`
	TradeID string `json:"tradeId"`
	Message string `json:"message"`
}

// AcceptTradeRequest is the input of acceptTrade
type AcceptTradeRequest struct {
	TradeID  string `json:"tradeId"`
	TargetID string `json:"targetId"`
}

// AcceptTradeResponse is the output of acceptTrade
type AcceptTradeResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// InboxMessage notifies an offline player of gold received
type InboxMessage struct {
	ID        string    `json:"id"`
	PlayerID  string    `json:"playerId"`
	Gold      int64     `json:"gold"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// InboxCap bounds the number of messages kept per player; oldest are dropped.
const InboxCap = 100
