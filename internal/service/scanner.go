package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/realm-tycoon/economy-server/internal/domain"
)

// Anomaly thresholds
const (
	maxGoldPerHour   = 1_000_000
	minFlaggedGold   = 10_000_000
	maxCraftCount    = 50_000
	minPlayTimeHours = 1.0 / 3600
	reasonGoldRate   = "Impossible gold gain rate"
	reasonCraftCount = "Impossible craft count"
)

// ScanResult summarizes one anti-cheat pass
type ScanResult struct {
	PlayersScanned int `json:"playersScanned"`
	PlayersSkipped int `json:"playersSkipped"`
	ReportsFiled   int `json:"reportsFiled"`
}

// DetectSuspiciousPatterns scans every player record and files one system
// report per anomaly found. Reports already written stay written if a later
// write fails.
func (s *EconomyService) DetectSuspiciousPatterns(ctx context.Context) (ScanResult, error) {
	s.logger.Info("running suspicious pattern detection")

	players, skipped, err := s.repo.ListPlayers(ctx)
	if err != nil {
		return ScanResult{}, fmt.Errorf("listing players: %w", err)
	}

	now := s.now().UTC()
	var reports []domain.Report
	for i := range players {
		reports = append(reports, DetectAnomalies(&players[i], now)...)
	}

	result := ScanResult{PlayersScanned: len(players), PlayersSkipped: skipped}
	if len(reports) > 0 {
		if err := s.reports.FileReports(ctx, reports); err != nil {
			return result, fmt.Errorf("filing reports: %w", err)
		}
		for _, r := range reports {
			s.publish(ctx, domain.EventReportFiled, r.ReportedPlayerID, r)
		}
	}
	result.ReportsFiled = len(reports)

	s.logger.Info("suspicious pattern detection complete",
		"players", result.PlayersScanned,
		"skipped", result.PlayersSkipped,
		"reports", result.ReportsFiled,
	)
	return result, nil
}

// DetectAnomalies returns the system reports a player record warrants
func DetectAnomalies(p *domain.Player, now time.Time) []domain.Report {
	var reports []domain.Report

	hours := p.Stats.PlayTimeHours()
	goldPerHour := float64(p.Gold) / max(hours, minPlayTimeHours)
	if goldPerHour > maxGoldPerHour && p.Gold > minFlaggedGold {
		reports = append(reports, systemReport(p.ID, reasonGoldRate, now, domain.GoldRateEvidence{
			GoldPerHour:   goldPerHour,
			TotalGold:     p.Gold,
			PlayTimeHours: hours,
		}))
	}

	if p.Stats.TotalItemsCrafted > maxCraftCount {
		reports = append(reports, systemReport(p.ID, reasonCraftCount, now, domain.CraftCountEvidence{
			Crafts: p.Stats.TotalItemsCrafted,
		}))
	}

	return reports
}

func systemReport(playerID, reason string, now time.Time, evidence interface{}) domain.Report {
	raw, _ := json.Marshal(evidence)
	return domain.Report{
		ID:               domain.NewID(domain.ReportIDPrefix, now),
		ReporterID:       domain.SystemReporterID,
		ReportedPlayerID: playerID,
		Reason:           reason,
		Evidence:         raw,
		Status:           domain.ReportStatusPending,
		AutoDetected:     true,
		CreatedAt:        now,
	}
}
