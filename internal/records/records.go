// Package records maps economy documents (players, trades, inboxes, the
// leaderboard and reports) onto store keys and JSON values.
package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/realm-tycoon/economy-server/internal/domain"
	"github.com/realm-tycoon/economy-server/internal/store"
)

// Key prefixes
const (
	playerPrefix   = "players_"
	tradePrefix    = "trades_"
	inboxPrefix    = "inbox_"
	reportPrefix   = "reports_"
	LeaderboardKey = "leaderboard-data"
)

// PlayerKey returns the document key of a player record
func PlayerKey(playerID string) string {
	return playerPrefix + playerID
}

// TradeKey returns the document key of a trade
func TradeKey(targetID, tradeID string) string {
	return fmt.Sprintf("%s%s_%s", tradePrefix, targetID, tradeID)
}

// InboxKey returns the document key of a player's inbox
func InboxKey(playerID string) string {
	return inboxPrefix + playerID
}

// ReportKey returns the document key of a report
func ReportKey(reportID string) string {
	return reportPrefix + reportID
}

// Getter is satisfied by both store.Store and store.Tx
type Getter interface {
	Get(ctx context.Context, key string) (store.Document, error)
}

// Repository provides typed access to economy documents
type Repository struct {
	store store.Store
}

// NewRepository creates a repository over a store
func NewRepository(s store.Store) *Repository {
	return &Repository{store: s}
}

// Store returns the underlying store
func (r *Repository) Store() store.Store {
	return r.store
}

// GetPlayer loads a player outside of any transaction
func (r *Repository) GetPlayer(ctx context.Context, playerID string) (*domain.Player, error) {
	return LoadPlayer(ctx, r.store, playerID)
}

// PutPlayer overwrites a player record
func (r *Repository) PutPlayer(ctx context.Context, p *domain.Player) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling player: %w", err)
	}
	if err := r.store.Set(ctx, PlayerKey(p.ID), data); err != nil {
		return fmt.Errorf("storing player: %w", err)
	}
	return nil
}

// ListPlayers returns every player record. Records that fail to decode are
// skipped and reported through the returned skip count.
func (r *Repository) ListPlayers(ctx context.Context) ([]domain.Player, int, error) {
	docs, err := r.store.Scan(ctx, playerPrefix)
	if err != nil {
		return nil, 0, fmt.Errorf("scanning players: %w", err)
	}
	players := make([]domain.Player, 0, len(docs))
	skipped := 0
	for _, doc := range docs {
		var p domain.Player
		if err := json.Unmarshal(doc.Value, &p); err != nil {
			skipped++
			continue
		}
		if p.ID == "" {
			p.ID = strings.TrimPrefix(doc.Key, playerPrefix)
		}
		players = append(players, p)
	}
	return players, skipped, nil
}

// GetTrade loads a trade outside of any transaction
func (r *Repository) GetTrade(ctx context.Context, targetID, tradeID string) (*domain.Trade, error) {
	return LoadTrade(ctx, r.store, targetID, tradeID)
}

// PutTrade stores a new trade
func (r *Repository) PutTrade(ctx context.Context, t *domain.Trade) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshaling trade: %w", err)
	}
	if err := r.store.Set(ctx, TradeKey(t.TargetID, t.TradeID), data); err != nil {
		return fmt.Errorf("storing trade: %w", err)
	}
	return nil
}

// ListTrades returns trades matching the filter
func (r *Repository) ListTrades(ctx context.Context, match func(*domain.Trade) bool) ([]domain.Trade, error) {
	docs, err := r.store.Scan(ctx, tradePrefix)
	if err != nil {
		return nil, fmt.Errorf("scanning trades: %w", err)
	}
	return decodeTrades(docs, match), nil
}

func decodeTrades(docs []store.Document, match func(*domain.Trade) bool) []domain.Trade {
	var trades []domain.Trade
	for _, doc := range docs {
		var t domain.Trade
		if err := json.Unmarshal(doc.Value, &t); err != nil {
			continue
		}
		if match == nil || match(&t) {
			trades = append(trades, t)
		}
	}
	return trades
}

// CountPendingTrades counts open offers made by a sender
func (r *Repository) CountPendingTrades(ctx context.Context, senderID string) (int, error) {
	fields := map[string]string{"senderId": senderID, "status": string(domain.TradeStatusPending)}
	if m, ok := r.store.(store.Matcher); ok {
		n, err := m.CountMatching(ctx, tradePrefix, fields)
		if err != nil {
			return 0, fmt.Errorf("counting pending trades: %w", err)
		}
		return n, nil
	}

	trades, err := r.ListTrades(ctx, func(t *domain.Trade) bool {
		return t.SenderID == senderID && t.IsPending()
	})
	if err != nil {
		return 0, err
	}
	return len(trades), nil
}

// PendingTradesFor lists pending offers targeting a player
func (r *Repository) PendingTradesFor(ctx context.Context, targetID string) ([]domain.Trade, error) {
	if m, ok := r.store.(store.Matcher); ok {
		docs, err := m.ScanMatching(ctx, tradePrefix, map[string]string{"targetId": targetID, "status": string(domain.TradeStatusPending)})
		if err != nil {
			return nil, fmt.Errorf("scanning pending trades: %w", err)
		}
		return decodeTrades(docs, nil), nil
	}
	return r.ListTrades(ctx, func(t *domain.Trade) bool {
		return t.TargetID == targetID && t.IsPending()
	})
}

// GetInbox returns a player's inbox, empty if none exists
func (r *Repository) GetInbox(ctx context.Context, playerID string) ([]domain.InboxMessage, error) {
	return LoadInbox(ctx, r.store, playerID)
}

// GetLeaderboard returns the leaderboard document, empty if none exists
func (r *Repository) GetLeaderboard(ctx context.Context) (domain.Leaderboard, error) {
	return LoadLeaderboard(ctx, r.store)
}

// LoadPlayer reads a player through a store or a transaction
func LoadPlayer(ctx context.Context, g Getter, playerID string) (*domain.Player, error) {
	var p domain.Player
	if err := load(ctx, g, PlayerKey(playerID), &p); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("loading player %s: %w", playerID, err)
	}
	if p.ID == "" {
		p.ID = playerID
	}
	return &p, nil
}

// LoadTrade reads a trade through a store or a transaction
func LoadTrade(ctx context.Context, g Getter, targetID, tradeID string) (*domain.Trade, error) {
	var t domain.Trade
	if err := load(ctx, g, TradeKey(targetID, tradeID), &t); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.ErrTradeNotFound
		}
		return nil, fmt.Errorf("loading trade %s: %w", tradeID, err)
	}
	return &t, nil
}

// LoadInbox reads an inbox through a store or a transaction
func LoadInbox(ctx context.Context, g Getter, playerID string) ([]domain.InboxMessage, error) {
	var inbox []domain.InboxMessage
	if err := load(ctx, g, InboxKey(playerID), &inbox); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return []domain.InboxMessage{}, nil
		}
		return nil, fmt.Errorf("loading inbox: %w", err)
	}
	return inbox, nil
}

// LoadLeaderboard reads the leaderboard through a store or a transaction
func LoadLeaderboard(ctx context.Context, g Getter) (domain.Leaderboard, error) {
	lb := domain.Leaderboard{}
	if err := load(ctx, g, LeaderboardKey, &lb); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Leaderboard{}, nil
		}
		return nil, fmt.Errorf("loading leaderboard: %w", err)
	}
	if lb == nil {
		lb = domain.Leaderboard{}
	}
	return lb, nil
}

// Stage buffers a JSON-encoded write in a transaction
func Stage(tx store.Tx, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	tx.Set(key, data)
	return nil
}

func load(ctx context.Context, g Getter, key string, v interface{}) error {
	doc, err := g.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(doc.Value, v); err != nil {
		return fmt.Errorf("decoding %s: %w", key, err)
	}
	return nil
}

// FileReports appends reports as individual documents. Documents are written
// one by one; a failure leaves earlier reports in place.
func (r *Repository) FileReports(ctx context.Context, reports []domain.Report) error {
	docs := make([]store.Document, 0, len(reports))
	for _, rep := range reports {
		data, err := json.Marshal(rep)
		if err != nil {
			return fmt.Errorf("marshaling report %s: %w", rep.ID, err)
		}
		docs = append(docs, store.Document{Key: ReportKey(rep.ID), Value: data})
	}
	if err := r.store.SetMany(ctx, docs); err != nil {
		return fmt.Errorf("storing reports: %w", err)
	}
	return nil
}

// ListReports returns reports filed against a player, or all reports when
// playerID is empty.
func (r *Repository) ListReports(ctx context.Context, playerID string) ([]domain.Report, error) {
	docs, err := r.store.Scan(ctx, reportPrefix)
	if err != nil {
		return nil, fmt.Errorf("scanning reports: %w", err)
	}
	var reports []domain.Report
	for _, doc := range docs {
		var rep domain.Report
		if err := json.Unmarshal(doc.Value, &rep); err != nil {
			continue
		}
		if playerID == "" || rep.ReportedPlayerID == playerID {
			reports = append(reports, rep)
		}
	}
	return reports, nil
}
