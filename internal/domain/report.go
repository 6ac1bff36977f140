package domain

import (
	"encoding/json"
	"time"
)

// SystemReporterID is the reporter of scanner-generated reports
const SystemReporterID = "system"

// MaxEvidenceBytes bounds user-submitted evidence payloads.
const MaxEvidenceBytes = 4096

// ReportStatus is the moderation state of a report
type ReportStatus string

const ReportStatusPending ReportStatus = "pending"

// Report is an append-only suspicion record consumed by moderation
type Report struct {
	ID               string          `json:"id"`
	ReporterID       string          `json:"reporterId"`
	ReportedPlayerID string          `json:"reportedPlayerId"`
	Reason           string          `json:"reason"`
	Evidence         json.RawMessage `json:"evidence,omitempty"`
	Status           ReportStatus    `json:"status"`
	AutoDetected     bool            `json:"autoDetected"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// GoldRateEvidence backs an "impossible gold gain rate" report
type GoldRateEvidence struct {
	GoldPerHour   float64 `json:"goldPerHour"`
	TotalGold     int64   `json:"totalGold"`
	PlayTimeHours float64 `json:"playTimeHours"`
}

// CraftCountEvidence backs an "impossible craft count" report
type CraftCountEvidence struct {
	Crafts int64 `json:"crafts"`
}

// ReportRequest is the input of reportSuspiciousActivity
type ReportRequest struct {
	ReportedPlayerID string          `json:"reportedPlayerId"`
	Reason           string          `json:"reason"`
	Evidence         json.RawMessage `json:"evidence,omitempty"`
}

// ReportResponse is the output of reportSuspiciousActivity
type ReportResponse struct {
	Success  bool   `json:"success"`
	ReportID string `json:"reportId"`
	Message  string `json:"message"`
}

// ValidatePlayerResponse is the output of validatePlayerData
type ValidatePlayerResponse struct {
	Valid   bool     `json:"valid"`
	Issues  []string `json:"issues"`
	Message string   `json:"message"`
}
