// Package app assembles the storage, reporting and event backends both
// binaries share.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/realm-tycoon/economy-server/internal/config"
	"github.com/realm-tycoon/economy-server/internal/kafka"
	"github.com/realm-tycoon/economy-server/internal/postgres"
	"github.com/realm-tycoon/economy-server/internal/redis"
	"github.com/realm-tycoon/economy-server/internal/service"
	"github.com/realm-tycoon/economy-server/internal/store"
)

// NewLogger builds the process logger. Unknown levels fall back to info.
func NewLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// Backend holds the opened document store and its optional companions
type Backend struct {
	Store store.Store
	// Reports is nil when reports live in the document store.
	Reports  service.ReportSink
	Events   service.MultiPublisher
	Producer *kafka.Producer

	pings   []func(ctx context.Context) error
	closers []func() error
}

// Open connects every backend the configuration enables. On error, whatever
// was already opened is closed.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	b := &Backend{}
	if err := b.open(ctx, cfg, logger); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) open(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	var pg *postgres.Repository
	openPostgres := func() error {
		if pg != nil {
			return nil
		}
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		repo, err := postgres.NewRepository(&cfg.Postgres, logger)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, func() error { repo.Close(); return nil })
		b.pings = append(b.pings, repo.Ping)
		if err := repo.RunMigrations(ctx); err != nil {
			return err
		}
		pg = repo
		return nil
	}

	switch cfg.Store.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory store; data is lost on restart")
		b.Store = store.NewMemoryStore()

	case config.DriverRedis:
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		rs, err := redis.NewStore(&cfg.Redis, logger)
		if err != nil {
			return err
		}
		b.Store = rs
		b.closers = append(b.closers, rs.Close)
		b.pings = append(b.pings, rs.Ping)

	case config.DriverPostgres:
		if err := openPostgres(); err != nil {
			return err
		}
		b.Store = pg.DocumentStore()

	default:
		return fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if cfg.Postgres.Reports || cfg.Store.Driver == config.DriverPostgres {
		if err := openPostgres(); err != nil {
			return err
		}
		b.Reports = pg
		b.Events = append(b.Events, pg)
	}

	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(&cfg.Kafka, logger)
		if err != nil {
			return err
		}
		b.Producer = producer
		b.Events = append(b.Events, producer)
		b.closers = append(b.closers, producer.Close)
	}

	return nil
}

// Options returns the service options for this backend
func (b *Backend) Options(cfg *config.Config) service.Options {
	opts := service.Options{
		Reports:     b.Reports,
		RetryPolicy: cfg.Settlement.RetryPolicy(),
	}
	if len(b.Events) > 0 {
		opts.Events = b.Events
	}
	return opts
}

// Ping checks every networked backend
func (b *Backend) Ping(ctx context.Context) error {
	for _, ping := range b.pings {
		if err := ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close releases backends in reverse order of opening
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}
