// Package validation holds the admission checks run before any economy
// mutation. Checks that need store state read it outside any transaction;
// settlement re-verifies whatever it depends on.
package validation

import (
	"context"
	"errors"
	"fmt"

	"github.com/realm-tycoon/economy-server/internal/domain"
	"github.com/realm-tycoon/economy-server/internal/records"
)

// Result is the outcome of an admission check
type Result struct {
	Valid  bool
	Errors []string
}

// Err converts a failed result into a *domain.ValidationError.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return domain.NewValidationError(r.Errors)
}

func newResult(errs []string) Result {
	return Result{Valid: len(errs) == 0, Errors: errs}
}

// TradeRequestResult carries the sender record loaded by ValidateTradeRequest.
// OfferItem is the sender's stored copy of the offered item, not the one the
// caller described.
type TradeRequestResult struct {
	Result
	Sender    *domain.Player
	OfferItem *domain.Item
}

// TradeAcceptResult carries the trade loaded by ValidateTradeAccept
type TradeAcceptResult struct {
	Result
	Trade        *domain.Trade
	AccepterGold int64
}

// Pipeline runs admission checks against current store state
type Pipeline struct {
	repo *records.Repository
}

// NewPipeline creates a validation pipeline
func NewPipeline(repo *records.Repository) *Pipeline {
	return &Pipeline{repo: repo}
}

// ValidateTradeRequest decides whether senderID may open the offer. It never
// writes. A returned error means the store could not be read.
func (p *Pipeline) ValidateTradeRequest(ctx context.Context, senderID, targetID string, offerGold int64, offerItem *domain.Item, reqGold int64) (TradeRequestResult, error) {
	if senderID == targetID {
		return TradeRequestResult{Result: newResult([]string{"Cannot trade with yourself"})}, nil
	}

	if _, err := p.repo.GetPlayer(ctx, targetID); err != nil {
		if errors.Is(err, domain.ErrPlayerNotFound) {
			return TradeRequestResult{Result: newResult([]string{"Target player does not exist"})}, nil
		}
		return TradeRequestResult{}, err
	}

	sender, err := p.repo.GetPlayer(ctx, senderID)
	if err != nil {
		if errors.Is(err, domain.ErrPlayerNotFound) {
			return TradeRequestResult{Result: newResult([]string{"Sender player does not exist"})}, nil
		}
		return TradeRequestResult{}, err
	}

	var errs []string
	if offerGold < 0 {
		errs = append(errs, "Offered gold cannot be negative")
	}
	if reqGold < 0 {
		errs = append(errs, "Requested gold cannot be negative")
	}
	if offerGold > 0 && sender.Gold < offerGold {
		errs = append(errs, fmt.Sprintf("Insufficient gold: has %d, needs %d", sender.Gold, offerGold))
	}
	var item *domain.Item
	if offerItem != nil {
		if held, ok := sender.FindItem(offerItem.ID); ok {
			item = &held
		} else {
			errs = append(errs, "Sender does not have the offered item")
		}
	}

	pending, err := p.repo.CountPendingTrades(ctx, senderID)
	if err != nil {
		return TradeRequestResult{}, err
	}
	if pending >= domain.MaxPendingTrades {
		errs = append(errs, fmt.Sprintf("Too many pending trades (max %d)", domain.MaxPendingTrades))
	}

	return TradeRequestResult{Result: newResult(errs), Sender: sender, OfferItem: item}, nil
}

// ValidateTradeAccept decides whether accepterID may settle the trade stored
// under (targetID, tradeID). The accepter must be the trade's target, and the
// requested gold is taken from the stored trade, never from the caller.
func (p *Pipeline) ValidateTradeAccept(ctx context.Context, tradeID, targetID, accepterID string) (TradeAcceptResult, error) {
	trade, err := p.repo.GetTrade(ctx, targetID, tradeID)
	if err != nil {
		if errors.Is(err, domain.ErrTradeNotFound) {
			return TradeAcceptResult{Result: newResult([]string{"Trade does not exist"})}, nil
		}
		return TradeAcceptResult{}, err
	}

	if !trade.IsPending() {
		return TradeAcceptResult{
			Result: newResult([]string{fmt.Sprintf("Trade is no longer pending (status: %s)", trade.Status)}),
			Trade:  trade,
		}, nil
	}

	if trade.TargetID != targetID || trade.TargetID != accepterID || trade.SenderID == accepterID {
		return TradeAcceptResult{Result: newResult([]string{"Trade participant mismatch"}), Trade: trade}, nil
	}

	accepter, err := p.repo.GetPlayer(ctx, accepterID)
	if err != nil {
		if errors.Is(err, domain.ErrPlayerNotFound) {
			return TradeAcceptResult{Result: newResult([]string{"Accepter does not exist"}), Trade: trade}, nil
		}
		return TradeAcceptResult{}, err
	}

	var errs []string
	if trade.ReqGold > 0 && accepter.Gold < trade.ReqGold {
		errs = append(errs, fmt.Sprintf("Insufficient gold: has %d, needs %d", accepter.Gold, trade.ReqGold))
	}

	return TradeAcceptResult{Result: newResult(errs), Trade: trade, AccepterGold: accepter.Gold}, nil
}

// ValidateLeaderboardScore checks a claimed score against the category
// ceiling and the player's own server-side stat.
func ValidateLeaderboardScore(category domain.Category, value int64, player *domain.Player) Result {
	var errs []string

	if value < 0 {
		errs = append(errs, "Score cannot be negative")
	}
	if value > category.Ceiling() {
		errs = append(errs, fmt.Sprintf("Score %d exceeds maximum reasonable value for %s", value, category))
	}

	if player != nil {
		actual := category.ActualValue(player)
		if float64(value) > float64(actual)*(1+domain.ScoreTolerance) {
			errs = append(errs, fmt.Sprintf("Claimed %s (%d) exceeds actual (%d) by more than 10%%", category, value, actual))
		}
	}

	return newResult(errs)
}
