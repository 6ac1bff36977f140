package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/realm-tycoon/economy-server/internal/config"
	"github.com/realm-tycoon/economy-server/internal/domain"
)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Pool returns the underlying connection pool
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

// Ping checks the connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// DocumentStore returns a store.Store over the documents table. It shares
// the repository's pool.
func (r *Repository) DocumentStore() *Store {
	return &Store{pool: r.pool, logger: r.logger}
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		key TEXT PRIMARY KEY,
		value JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS suspicion_reports (
		id VARCHAR(64) PRIMARY KEY,
		reporter_id VARCHAR(128) NOT NULL,
		reported_player_id VARCHAR(128) NOT NULL,
		reason TEXT NOT NULL,
		evidence JSONB,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		auto_detected BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS economy_events (
		id BIGSERIAL PRIMARY KEY,
		event_type VARCHAR(40) NOT NULL,
		player_id VARCHAR(128) NOT NULL,
		payload JSONB,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_value ON documents USING GIN (value jsonb_path_ops)`,
	`CREATE INDEX IF NOT EXISTS idx_suspicion_reports_player ON suspicion_reports(reported_player_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_economy_events_player ON economy_events(player_id, created_at DESC)`,
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

const insertReport = `
	INSERT INTO suspicion_reports (id, reporter_id, reported_player_id, reason, evidence, status, auto_detected, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO NOTHING
`

// FileReports inserts reports into the moderation table. Re-filing a report
// with a known id is a no-op.
func (r *Repository) FileReports(ctx context.Context, reports []domain.Report) error {
	if len(reports) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rep := range reports {
		var evidence []byte
		if len(rep.Evidence) > 0 {
			evidence = rep.Evidence
		}
		batch.Queue(insertReport,
			rep.ID,
			rep.ReporterID,
			rep.ReportedPlayerID,
			rep.Reason,
			evidence,
			string(rep.Status),
			rep.AutoDetected,
			rep.CreatedAt,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range reports {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("filing reports: %w", err)
		}
	}
	return nil
}

// ListReports retrieves the reports filed against a player, newest first
func (r *Repository) ListReports(ctx context.Context, playerID string) ([]domain.Report, error) {
	query := `
		SELECT id, reporter_id, reported_player_id, reason, evidence, status, auto_detected, created_at
		FROM suspicion_reports
		WHERE reported_player_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, playerID)
	if err != nil {
		return nil, fmt.Errorf("listing reports: %w", err)
	}
	defer rows.Close()

	var reports []domain.Report
	for rows.Next() {
		var rep domain.Report
		var evidence []byte
		var status string
		err := rows.Scan(
			&rep.ID,
			&rep.ReporterID,
			&rep.ReportedPlayerID,
			&rep.Reason,
			&evidence,
			&status,
			&rep.AutoDetected,
			&rep.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning report: %w", err)
		}
		rep.Evidence = evidence
		rep.Status = domain.ReportStatus(status)
		reports = append(reports, rep)
	}
	return reports, rows.Err()
}

// Publish records an economy event for auditing
func (r *Repository) Publish(ctx context.Context, event domain.Event) error {
	var payload []byte
	var err error
	if event.Payload != nil {
		payload, err = json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("marshaling payload: %w", err)
		}
	}

	query := `
		INSERT INTO economy_events (event_type, player_id, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err = r.pool.Exec(ctx, query,
		string(event.Type),
		event.PlayerID,
		payload,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("recording event: %w", err)
	}
	return nil
}
