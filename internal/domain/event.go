package domain

import (
	"time"
)

// EventType names an economy event published to downstream consumers
type EventType string

const (
	EventTradeCreated       EventType = "trade.created"
	EventTradeCompleted     EventType = "trade.completed"
	EventLeaderboardUpdated EventType = "leaderboard.updated"
	EventReportFiled        EventType = "report.filed"
	EventPlayerCorrected    EventType = "player.corrected"
)

// Event is an audit record of a committed economy mutation
type Event struct {
	Type      EventType   `json:"type"`
	PlayerID  string      `json:"player_id"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ScoreMessage is a score reported by a trusted game server
type ScoreMessage struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name,omitempty"`
	Category   string `json:"category"`
	Value      int64  `json:"value"`
}
