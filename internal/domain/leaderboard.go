package domain

import (
	"time"
)

// Category identifies a leaderboard
type Category string

const (
	CategoryGold   Category = "gold"
	CategoryCrafts Category = "crafts"
	CategoryKills  Category = "kills"
)

// LeaderboardSize is the number of entries kept per category.
const LeaderboardSize = 20

// ScoreTolerance is the allowed margin between a claimed score and the
// server's own record of the same stat.
const ScoreTolerance = 0.1

// Categories lists every valid leaderboard category in display order.
var Categories = []Category{CategoryGold, CategoryCrafts, CategoryKills}

// scoreCeilings are the largest plausible values per category.
var scoreCeilings = map[Category]int64{
	CategoryGold:   100_000_000,
	CategoryCrafts: 100_000,
	CategoryKills:  500_000,
}

// ParseCategory validates a category name
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if _, ok := scoreCeilings[c]; !ok {
		return "", ErrInvalidCategory
	}
	return c, nil
}

// Ceiling returns the maximum admissible score for the category.
func (c Category) Ceiling() int64 {
	return scoreCeilings[c]
}

// ActualValue returns the server-side stat a claimed score is compared to.
func (c Category) ActualValue(p *Player) int64 {
	switch c {
	case CategoryGold:
		return p.Gold
	case CategoryCrafts:
		return p.Stats.TotalItemsCrafted
	case CategoryKills:
		return p.Stats.MonstersKilled
	default:
		return 0
	}
}

// LeaderboardEntry represents a single entry in a category leaderboard
type LeaderboardEntry struct {
	PlayerID        string    `json:"playerId"`
	PlayerName      string    `json:"playerName"`
	Value           int64     `json:"value"`
	UpdatedAt       time.Time `json:"updatedAt"`
	ServerValidated bool      `json:"serverValidated"`
}

// Leaderboard is the shared document holding every category list
type Leaderboard map[Category][]LeaderboardEntry

// Rank returns the 1-based position of a player in a category, or 0.
func (lb Leaderboard) Rank(category Category, playerID string) int {
	for i, e := range lb[category] {
		if e.PlayerID == playerID {
			return i + 1
		}
	}
	return 0
}

// SubmitScoreRequest is the input of submitLeaderboardScore
type SubmitScoreRequest struct {
	Category   string `json:"category"`
	Value      int64  `json:"value"`
	PlayerName string `json:"playerName,omitempty"`
}

// SubmitScoreResponse is the output of submitLeaderboardScore. Rank is 0
// when the score did not make the top of the board.
type SubmitScoreResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Rank    int    `json:"rank"`
}
