package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/realm-tycoon/economy-server/internal/domain"
	"github.com/realm-tycoon/economy-server/internal/records"
	"github.com/realm-tycoon/economy-server/internal/settlement"
	"github.com/realm-tycoon/economy-server/internal/store"
	"github.com/realm-tycoon/economy-server/internal/validation"
)

// Response messages
const (
	msgTradeCreated   = "Trade created successfully"
	msgTradeCompleted = "Trade completed successfully"
	msgScoreSubmitted = "Score submitted successfully"
	msgReportFiled    = "Report submitted. Thank you for helping keep the game fair!"
	msgDataValid      = "Data validated successfully"
	msgDataCorrected  = "Data issues found and auto-corrected"
	defaultPlayerName = "Unknown"
)

// ReportSink stores suspicion reports for moderation
type ReportSink interface {
	FileReports(ctx context.Context, reports []domain.Report) error
}

// EventPublisher emits audit events for committed mutations
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// MultiPublisher fans an event out to every publisher
type MultiPublisher []EventPublisher

func (m MultiPublisher) Publish(ctx context.Context, event domain.Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Notifier pushes live updates to connected players
type Notifier interface {
	NotifyInbox(playerID string, msg domain.InboxMessage)
	NotifyLeaderboard(category domain.Category, entries []domain.LeaderboardEntry)
}

// Options holds the optional collaborators of an EconomyService
type Options struct {
	Reports     ReportSink
	Events      EventPublisher
	Notifier    Notifier
	RetryPolicy store.RetryPolicy
	Now         func() time.Time
}

// EconomyService implements the callable economy operations
type EconomyService struct {
	repo     *records.Repository
	pipeline *validation.Pipeline
	settler  *settlement.Settler
	reports  ReportSink
	events   EventPublisher
	notifier Notifier
	policy   store.RetryPolicy
	now      func() time.Time
	logger   *slog.Logger
}

// NewEconomyService creates a new economy service. Unset options fall back to
// the repository's own report documents, no events, no live notifications
// and the default retry policy.
func NewEconomyService(s store.Store, opts Options, logger *slog.Logger) *EconomyService {
	repo := records.NewRepository(s)
	if opts.Reports == nil {
		opts.Reports = repo
	}
	if opts.Events == nil {
		opts.Events = nopPublisher{}
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.RetryPolicy == (store.RetryPolicy{}) {
		opts.RetryPolicy = store.DefaultRetryPolicy()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &EconomyService{
		repo:     repo,
		pipeline: validation.NewPipeline(repo),
		settler:  settlement.NewSettler(s, opts.RetryPolicy, opts.Now, logger),
		reports:  opts.Reports,
		events:   opts.Events,
		notifier: opts.Notifier,
		policy:   opts.RetryPolicy,
		now:      opts.Now,
		logger:   logger,
	}
}

// SetNotifier replaces the live notifier once the hub is running
func (s *EconomyService) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	s.notifier = n
}

// CreateTrade records a pending offer from senderID to req.TargetID
func (s *EconomyService) CreateTrade(ctx context.Context, senderID string, req domain.CreateTradeRequest) (*domain.CreateTradeResponse, error) {
	if senderID == "" {
		return nil, domain.ErrUnauthenticated
	}
	if req.TargetID == "" {
		return nil, fmt.Errorf("%w: targetId required", domain.ErrInvalidArgument)
	}

	res, err := s.pipeline.ValidateTradeRequest(ctx, senderID, req.TargetID, req.OfferGold, req.OfferItem, req.ReqGold)
	if err != nil {
		return nil, s.internal("validating trade request", err)
	}
	if err := res.Err(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	name := req.SenderName
	if name == "" {
		name = defaultPlayerName
	}
	trade := &domain.Trade{
		TradeID:         domain.NewID(domain.TradeIDPrefix, now),
		SenderID:        senderID,
		SenderName:      name,
		TargetID:        req.TargetID,
		OfferGold:       req.OfferGold,
		OfferItem:       res.OfferItem,
		ReqGold:         req.ReqGold,
		Status:          domain.TradeStatusPending,
		CreatedAt:       now,
		ServerValidated: true,
	}
	if err := s.repo.PutTrade(ctx, trade); err != nil {
		return nil, s.internal("saving trade", err)
	}

	s.logger.Info("trade created",
		"trade_id", trade.TradeID,
		"sender_id", senderID,
		"target_id", trade.TargetID,
	)
	s.publish(ctx, domain.EventTradeCreated, senderID, trade)

	return &domain.CreateTradeResponse{
		Success: true,
		TradeID: trade.TradeID,
		Message: msgTradeCreated,
	}, nil
}

// AcceptTrade settles a pending trade on behalf of its target
func (s *EconomyService) AcceptTrade(ctx context.Context, accepterID string, req domain.AcceptTradeRequest) (*domain.AcceptTradeResponse, error) {
	if accepterID == "" {
		return nil, domain.ErrUnauthenticated
	}
	if req.TradeID == "" || req.TargetID == "" {
		return nil, fmt.Errorf("%w: tradeId and targetId required", domain.ErrInvalidArgument)
	}

	res, err := s.pipeline.ValidateTradeAccept(ctx, req.TradeID, req.TargetID, accepterID)
	if err != nil {
		return nil, s.internal("validating trade accept", err)
	}
	if err := res.Err(); err != nil {
		return nil, err
	}

	out, err := s.settler.SettleTrade(ctx, req.TargetID, req.TradeID, accepterID)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			s.logger.Warn("trade settlement conflict",
				"trade_id", req.TradeID,
				"accepter_id", accepterID,
				"reason", err.Error(),
			)
			return nil, err
		}
		return nil, s.internal("settling trade", err)
	}

	s.notifier.NotifyInbox(out.Trade.SenderID, out.Notification)
	s.publish(ctx, domain.EventTradeCompleted, accepterID, out.Trade)

	return &domain.AcceptTradeResponse{
		Success: true,
		Message: msgTradeCompleted,
	}, nil
}

// SubmitLeaderboardScore validates a claimed score against the caller's own
// record and writes it to the category leaderboard.
func (s *EconomyService) SubmitLeaderboardScore(ctx context.Context, playerID string, req domain.SubmitScoreRequest) (*domain.SubmitScoreResponse, error) {
	if playerID == "" {
		return nil, domain.ErrUnauthenticated
	}

	rank, err := s.submitScore(ctx, playerID, req.Category, req.Value, req.PlayerName)
	if err != nil {
		return nil, err
	}

	return &domain.SubmitScoreResponse{
		Success: true,
		Message: msgScoreSubmitted,
		Rank:    rank,
	}, nil
}

// IngestScore admits a score reported by a trusted game server. It runs the
// same checks as SubmitLeaderboardScore.
func (s *EconomyService) IngestScore(ctx context.Context, msg domain.ScoreMessage) error {
	if msg.PlayerID == "" {
		return fmt.Errorf("%w: player_id required", domain.ErrInvalidArgument)
	}
	_, err := s.submitScore(ctx, msg.PlayerID, msg.Category, msg.Value, msg.PlayerName)
	return err
}

func (s *EconomyService) submitScore(ctx context.Context, playerID, categoryName string, value int64, playerName string) (int, error) {
	category, err := domain.ParseCategory(categoryName)
	if err != nil {
		return 0, fmt.Errorf("%w: must be one of gold, crafts, kills", err)
	}

	player, err := s.repo.GetPlayer(ctx, playerID)
	if err != nil {
		if domain.IsNotFoundError(err) {
			return 0, err
		}
		return 0, s.internal("loading player", err)
	}

	if err := validation.ValidateLeaderboardScore(category, value, player).Err(); err != nil {
		return 0, err
	}

	name := playerName
	if name == "" {
		name = player.Name
	}
	if name == "" {
		name = defaultPlayerName
	}
	entry := domain.LeaderboardEntry{
		PlayerID:        playerID,
		PlayerName:      name,
		Value:           value,
		UpdatedAt:       s.now().UTC(),
		ServerValidated: true,
	}

	out, err := s.settler.SettleScore(ctx, category, entry)
	if err != nil {
		return 0, s.internal("settling score", err)
	}

	s.logger.Debug("score admitted",
		"player_id", playerID,
		"category", category,
		"value", value,
		"rank", out.Rank,
	)
	s.notifier.NotifyLeaderboard(category, out.Entries)
	s.publish(ctx, domain.EventLeaderboardUpdated, playerID, entry)

	return out.Rank, nil
}

// ReportSuspiciousActivity files a player-submitted report
func (s *EconomyService) ReportSuspiciousActivity(ctx context.Context, reporterID string, req domain.ReportRequest) (*domain.ReportResponse, error) {
	if reporterID == "" {
		return nil, domain.ErrUnauthenticated
	}
	if req.ReportedPlayerID == "" || req.Reason == "" {
		return nil, fmt.Errorf("%w: reportedPlayerId and reason required", domain.ErrInvalidArgument)
	}
	if len(req.Evidence) > domain.MaxEvidenceBytes {
		return nil, fmt.Errorf("%w: evidence exceeds %d bytes", domain.ErrInvalidArgument, domain.MaxEvidenceBytes)
	}
	if len(req.Evidence) > 0 && !json.Valid(req.Evidence) {
		return nil, fmt.Errorf("%w: evidence must be valid JSON", domain.ErrInvalidArgument)
	}

	now := s.now().UTC()
	report := domain.Report{
		ID:               domain.NewID(domain.ReportIDPrefix, now),
		ReporterID:       reporterID,
		ReportedPlayerID: req.ReportedPlayerID,
		Reason:           req.Reason,
		Evidence:         req.Evidence,
		Status:           domain.ReportStatusPending,
		CreatedAt:        now,
	}
	if err := s.reports.FileReports(ctx, []domain.Report{report}); err != nil {
		return nil, s.internal("filing report", err)
	}

	s.logger.Info("report filed",
		"report_id", report.ID,
		"reporter_id", reporterID,
		"reported_player_id", report.ReportedPlayerID,
	)
	s.publish(ctx, domain.EventReportFiled, report.ReportedPlayerID, report)

	return &domain.ReportResponse{
		Success:  true,
		ReportID: report.ID,
		Message:  msgReportFiled,
	}, nil
}

// ValidatePlayerData checks the caller's record and persists a clamped copy
// when it violates any invariant. The correction is applied in a transaction
// so a concurrent settlement is never overwritten with stale values.
func (s *EconomyService) ValidatePlayerData(ctx context.Context, playerID string) (*domain.ValidatePlayerResponse, error) {
	if playerID == "" {
		return nil, domain.ErrUnauthenticated
	}

	var issues []string
	err := store.Transact(ctx, s.repo.Store(), s.policy, func(ctx context.Context, tx store.Tx) error {
		issues = nil
		player, err := records.LoadPlayer(ctx, tx, playerID)
		if err != nil {
			return err
		}
		issues = validation.CheckPlayerIntegrity(player)
		if len(issues) == 0 {
			return nil
		}
		validation.CorrectPlayer(player)
		return records.Stage(tx, records.PlayerKey(playerID), player)
	})
	if err != nil {
		if domain.IsNotFoundError(err) {
			return nil, err
		}
		return nil, s.internal("validating player data", err)
	}

	if len(issues) == 0 {
		return &domain.ValidatePlayerResponse{Valid: true, Issues: []string{}, Message: msgDataValid}, nil
	}

	s.logger.Warn("player data corrected", "player_id", playerID, "issues", issues)
	s.publish(ctx, domain.EventPlayerCorrected, playerID, issues)

	return &domain.ValidatePlayerResponse{
		Valid:   false,
		Issues:  issues,
		Message: msgDataCorrected,
	}, nil
}

// GetLeaderboard returns the current list of a category
func (s *EconomyService) GetLeaderboard(ctx context.Context, categoryName string) ([]domain.LeaderboardEntry, error) {
	category, err := domain.ParseCategory(categoryName)
	if err != nil {
		return nil, err
	}
	lb, err := s.repo.GetLeaderboard(ctx)
	if err != nil {
		return nil, s.internal("loading leaderboard", err)
	}
	entries := lb[category]
	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}
	return entries, nil
}

// GetInbox returns the caller's inbox, oldest first
func (s *EconomyService) GetInbox(ctx context.Context, playerID string) ([]domain.InboxMessage, error) {
	if playerID == "" {
		return nil, domain.ErrUnauthenticated
	}
	inbox, err := s.repo.GetInbox(ctx, playerID)
	if err != nil {
		return nil, s.internal("loading inbox", err)
	}
	return inbox, nil
}

// PendingTrades lists offers waiting for the caller to accept
func (s *EconomyService) PendingTrades(ctx context.Context, playerID string) ([]domain.Trade, error) {
	if playerID == "" {
		return nil, domain.ErrUnauthenticated
	}
	trades, err := s.repo.PendingTradesFor(ctx, playerID)
	if err != nil {
		return nil, s.internal("listing pending trades", err)
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	return trades, nil
}

// Repository exposes the typed store view for operator tooling
func (s *EconomyService) Repository() *records.Repository {
	return s.repo
}

// internal logs an unexpected failure and hides it behind ErrInternalError
func (s *EconomyService) internal(op string, err error) error {
	s.logger.Error("economy operation failed", "op", op, "error", err)
	return fmt.Errorf("%w: %s", domain.ErrInternalError, op)
}

func (s *EconomyService) publish(ctx context.Context, typ domain.EventType, playerID string, payload interface{}) {
	event := domain.Event{
		Type:      typ,
		PlayerID:  playerID,
		Payload:   payload,
		Timestamp: s.now().UTC(),
	}
	if err := s.events.Publish(ctx, event); err != nil {
		// Don't fail the request if event publishing fails
		s.logger.Warn("failed to publish event", "type", typ, "error", err)
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, domain.Event) error { return nil }

type nopNotifier struct{}

func (nopNotifier) NotifyInbox(string, domain.InboxMessage) {}
func (nopNotifier) NotifyLeaderboard(domain.Category, []domain.LeaderboardEntry) {}
