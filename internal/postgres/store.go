package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/realm-tycoon/economy-server/internal/store"
)

// SQLSTATEs Postgres raises when a serializable transaction must be retried
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

const (
	selectDocument = `SELECT value FROM documents WHERE key = $1`
	upsertDocument = `
		INSERT INTO documents (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`
	scanDocuments = `SELECT key, value FROM documents WHERE left(key, length($1)) = $1 ORDER BY key`
	scanMatching  = `SELECT key, value FROM documents WHERE left(key, length($1)) = $1 AND value @> $2::jsonb ORDER BY key`
	countMatching = `SELECT count(*) FROM documents WHERE left(key, length($1)) = $1 AND value @> $2::jsonb`
)

// Store is a store.Store over the documents table. Transactions run at
// SERIALIZABLE isolation; serialization failures surface as
// store.ErrConflict.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var (
	_ store.Store   = (*Store)(nil)
	_ store.Matcher = (*Store)(nil)
)

// queryer is satisfied by both the pool and a pgx.Tx
type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getDocument(ctx context.Context, q queryer, key string) (store.Document, error) {
	var value []byte
	if err := q.QueryRow(ctx, selectDocument, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Document{}, store.ErrNotFound
		}
		return store.Document{}, mapError(fmt.Errorf("getting %s: %w", key, err))
	}
	return store.Document{Key: key, Value: value}, nil
}

func (s *Store) Get(ctx context.Context, key string) (store.Document, error) {
	return getDocument(ctx, s.pool, key)
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if _, err := s.pool.Exec(ctx, upsertDocument, key, value); err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}

func (s *Store) SetMany(ctx context.Context, docs []store.Document) error {
	if len(docs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, d := range docs {
		batch.Queue(upsertDocument, d.Key, d.Value)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range docs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("setting %d documents: %w", len(docs), err)
		}
	}
	return nil
}

func (s *Store) Scan(ctx context.Context, prefix string) ([]store.Document, error) {
	return s.query(ctx, prefix, scanDocuments, prefix)
}

// ScanMatching filters with JSONB containment, served by the GIN index on
// documents.value.
func (s *Store) ScanMatching(ctx context.Context, prefix string, fields map[string]string) ([]store.Document, error) {
	filter, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding filter: %w", err)
	}
	return s.query(ctx, prefix, scanMatching, prefix, filter)
}

func (s *Store) CountMatching(ctx context.Context, prefix string, fields map[string]string) (int, error) {
	filter, err := json.Marshal(fields)
	if err != nil {
		return 0, fmt.Errorf("encoding filter: %w", err)
	}
	var n int
	if err := s.pool.QueryRow(ctx, countMatching, prefix, filter).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", prefix, err)
	}
	return n, nil
}

func (s *Store) query(ctx context.Context, prefix, sql string, args ...any) ([]store.Document, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", prefix, err)
	}
	defer rows.Close()

	var docs []store.Document
	for rows.Next() {
		var d store.Document
		if err := rows.Scan(&d.Key, &d.Value); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", prefix, err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// RunTransaction runs fn inside a SERIALIZABLE transaction. Writes are
// buffered and applied just before commit.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	t := &pgTx{tx: tx, writes: make(map[string][]byte)}
	if err := fn(ctx, t); err != nil {
		return err
	}

	for _, key := range t.order {
		if _, err := tx.Exec(ctx, upsertDocument, key, t.writes[key]); err != nil {
			return mapError(fmt.Errorf("writing %s: %w", key, err))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		err = mapError(fmt.Errorf("committing: %w", err))
		if errors.Is(err, store.ErrConflict) {
			s.logger.Debug("postgres transaction aborted by a concurrent write")
		}
		return err
	}
	return nil
}

// Close is a no-op; the pool belongs to the Repository.
func (s *Store) Close() error {
	return nil
}

type pgTx struct {
	tx     pgx.Tx
	writes map[string][]byte
	order  []string
}

func (t *pgTx) Get(ctx context.Context, key string) (store.Document, error) {
	if v, ok := t.writes[key]; ok {
		return store.Document{Key: key, Value: append([]byte(nil), v...)}, nil
	}
	return getDocument(ctx, t.tx, key)
}

func (t *pgTx) Set(key string, value []byte) {
	if _, ok := t.writes[key]; !ok {
		t.order = append(t.order, key)
	}
	t.writes[key] = append([]byte(nil), value...)
}

// mapError turns retryable serialization failures into store.ErrConflict
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Message)
		}
	}
	return err
}
