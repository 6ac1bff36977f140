// Package settlement applies trade and leaderboard mutations as single
// optimistic store transactions. Every unit re-reads the state it depends on
// and re-checks it before writing; admission checks run earlier are not
// trusted to still hold.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/realm-tycoon/economy-server/internal/domain"
	"github.com/realm-tycoon/economy-server/internal/records"
	"github.com/realm-tycoon/economy-server/internal/store"
)

// Conflict reasons reported when a unit observes stale state
const (
	ReasonTradeNotPending   = "Trade is no longer valid"
	ReasonInsufficientGold  = "Insufficient gold (verified server-side)"
	ReasonItemGone          = "Sender no longer has the offered item"
	ReasonAccepterInventory = "Accepter inventory is full"
	ReasonParticipants      = "Trade participant mismatch"
	ReasonGoldOverflow      = "Gold balance out of range"
)

// Settler runs settlement units against a store
type Settler struct {
	store  store.Store
	policy store.RetryPolicy
	now    func() time.Time
	logger *slog.Logger
}

// NewSettler creates a settler. A nil clock defaults to time.Now.
func NewSettler(s store.Store, policy store.RetryPolicy, now func() time.Time, logger *slog.Logger) *Settler {
	if now == nil {
		now = time.Now
	}
	return &Settler{
		store:  s,
		policy: policy,
		now:    now,
		logger: logger,
	}
}

// TradeOutcome is what a committed trade settlement wrote
type TradeOutcome struct {
	Trade        domain.Trade
	SenderGold   int64
	AccepterGold int64
	Notification domain.InboxMessage
}

// SettleTrade completes the pending trade stored under (targetID, tradeID)
// on behalf of accepterID. It returns a *domain.ConflictError when the trade
// or the accepter's balance changed since admission, and wraps
// store.ErrRetriesExhausted when the store kept aborting the unit.
func (s *Settler) SettleTrade(ctx context.Context, targetID, tradeID, accepterID string) (*TradeOutcome, error) {
	var out *TradeOutcome

	err := store.Transact(ctx, s.store, s.policy, func(ctx context.Context, tx store.Tx) error {
		out = nil

		trade, err := records.LoadTrade(ctx, tx, targetID, tradeID)
		if err != nil {
			if errors.Is(err, domain.ErrTradeNotFound) {
				return &domain.ConflictError{Reason: ReasonTradeNotPending}
			}
			return err
		}
		if !trade.IsPending() {
			return &domain.ConflictError{Reason: ReasonTradeNotPending}
		}
		if trade.TargetID != accepterID || trade.SenderID == accepterID {
			return &domain.ConflictError{Reason: ReasonParticipants}
		}

		accepter, err := records.LoadPlayer(ctx, tx, accepterID)
		if err != nil {
			return err
		}
		if accepter.Gold < trade.ReqGold {
			return &domain.ConflictError{Reason: ReasonInsufficientGold}
		}

		sender, err := records.LoadPlayer(ctx, tx, trade.SenderID)
		if err != nil {
			return err
		}

		if trade.OfferItem != nil {
			item, ok := sender.RemoveItem(trade.OfferItem.ID)
			if !ok {
				return &domain.ConflictError{Reason: ReasonItemGone}
			}
			if len(accepter.Inventory) >= domain.InventoryCap {
				return &domain.ConflictError{Reason: ReasonAccepterInventory}
			}
			accepter.Inventory = append(accepter.Inventory, item)
		}

		if !canCredit(sender.Gold, trade.ReqGold) || !canCredit(accepter.Gold-trade.ReqGold, trade.OfferGold) {
			return &domain.ConflictError{Reason: ReasonGoldOverflow}
		}

		now := s.now().UTC()
		trade.Status = domain.TradeStatusCompleted
		trade.CompletedAt = &now

		sender.Gold += trade.ReqGold
		accepter.Gold = accepter.Gold - trade.ReqGold + trade.OfferGold

		inbox, err := records.LoadInbox(ctx, tx, trade.SenderID)
		if err != nil {
			return err
		}
		msg := domain.InboxMessage{
			ID:        domain.NewID(domain.InboxIDPrefix, now),
			PlayerID:  trade.SenderID,
			Gold:      trade.ReqGold,
			Message:   fmt.Sprintf("Trade Completed! You received %d Gold.", trade.ReqGold),
			Timestamp: now,
		}
		inbox = append(inbox, msg)
		if len(inbox) > domain.InboxCap {
			inbox = inbox[len(inbox)-domain.InboxCap:]
		}

		if err := records.Stage(tx, records.TradeKey(targetID, tradeID), trade); err != nil {
			return err
		}
		if err := records.Stage(tx, records.PlayerKey(sender.ID), sender); err != nil {
			return err
		}
		if err := records.Stage(tx, records.PlayerKey(accepter.ID), accepter); err != nil {
			return err
		}
		if err := records.Stage(tx, records.InboxKey(trade.SenderID), inbox); err != nil {
			return err
		}

		out = &TradeOutcome{
			Trade:        *trade,
			SenderGold:   sender.Gold,
			AccepterGold: accepter.Gold,
			Notification: msg,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("trade settled",
		"trade_id", tradeID,
		"sender_id", out.Trade.SenderID,
		"accepter_id", accepterID,
		"req_gold", out.Trade.ReqGold,
		"offer_gold", out.Trade.OfferGold,
	)
	return out, nil
}

// ScoreOutcome is the category list written by a leaderboard settlement
type ScoreOutcome struct {
	Rank    int
	Entries []domain.LeaderboardEntry
}

// SettleScore upserts the entry into its category list, re-sorts the list
// descending by value and keeps the top domain.LeaderboardSize entries. Ties
// keep their previous relative order.
func (s *Settler) SettleScore(ctx context.Context, category domain.Category, entry domain.LeaderboardEntry) (*ScoreOutcome, error) {
	var out *ScoreOutcome

	err := store.Transact(ctx, s.store, s.policy, func(ctx context.Context, tx store.Tx) error {
		lb, err := records.LoadLeaderboard(ctx, tx)
		if err != nil {
			return err
		}

		lb[category] = Upsert(lb[category], entry)
		if err := records.Stage(tx, records.LeaderboardKey, lb); err != nil {
			return err
		}

		out = &ScoreOutcome{
			Rank:    lb.Rank(category, entry.PlayerID),
			Entries: lb[category],
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Upsert replaces or appends the player's entry and returns the re-ranked,
// truncated list. The input slice is not modified.
func Upsert(entries []domain.LeaderboardEntry, entry domain.LeaderboardEntry) []domain.LeaderboardEntry {
	list := make([]domain.LeaderboardEntry, 0, len(entries)+1)
	replaced := false
	for _, e := range entries {
		if e.PlayerID == entry.PlayerID {
			if !replaced {
				list = append(list, entry)
				replaced = true
			}
			continue
		}
		list = append(list, e)
	}
	if !replaced {
		list = append(list, entry)
	}

	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Value > list[j].Value
	})
	if len(list) > domain.LeaderboardSize {
		list = list[:domain.LeaderboardSize]
	}
	return list
}

// canCredit reports whether adding amount to a non-negative balance stays
// within [0, MaxInt64].
func canCredit(balance, amount int64) bool {
	return balance >= 0 && amount >= 0 && amount <= math.MaxInt64-balance
}
