package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/realm-tycoon/economy-server/internal/config"
	"github.com/realm-tycoon/economy-server/internal/store"
)

const scanCount = 200

// Store is a store.Store backed by Redis strings. Transactions use
// WATCH/MULTI/EXEC: every key read inside a transaction is watched, and EXEC
// fails if any of them changed.
type Store struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

// NewStore connects to Redis and verifies the connection
func NewStore(cfg *config.RedisConfig, logger *slog.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewStoreFromClient(client, cfg.KeyPrefix, logger), nil
}

// NewStoreFromClient wraps an existing client. Every document key is stored
// under prefix.
func NewStoreFromClient(client *redis.Client, prefix string, logger *slog.Logger) *Store {
	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) redisKey(key string) string {
	return s.prefix + key
}

func (s *Store) Get(ctx context.Context, key string) (store.Document, error) {
	return get(ctx, s.client, s.redisKey(key), key)
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func get(ctx context.Context, c stringGetter, redisKey, key string) (store.Document, error) {
	val, err := c.Get(ctx, redisKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return store.Document{}, store.ErrNotFound
		}
		return store.Document{}, fmt.Errorf("getting %s: %w", key, err)
	}
	return store.Document{Key: key, Value: val}, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.redisKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}

func (s *Store) SetMany(ctx context.Context, docs []store.Document) error {
	if len(docs) == 0 {
		return nil
	}
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, d := range docs {
			pipe.Set(ctx, s.redisKey(d.Key), d.Value, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("setting %d documents: %w", len(docs), err)
	}
	return nil
}

// Scan walks the keyspace with SCAN MATCH and fetches the values with MGET.
// Keys deleted between the two steps are skipped.
func (s *Store) Scan(ctx context.Context, prefix string) ([]store.Document, error) {
	pattern := escapeGlob(s.redisKey(prefix)) + "*"

	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", prefix, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	sort.Strings(keys)

	docs := make([]store.Document, 0, len(keys))
	for start := 0; start < len(keys); start += scanCount {
		end := min(start+scanCount, len(keys))
		vals, err := s.client.MGet(ctx, keys[start:end]...).Result()
		if err != nil {
			return nil, fmt.Errorf("fetching %s: %w", prefix, err)
		}
		for i, v := range vals {
			str, ok := v.(string)
			if !ok {
				continue
			}
			docs = append(docs, store.Document{
				Key:   strings.TrimPrefix(keys[start+i], s.prefix),
				Value: []byte(str),
			})
		}
	}
	return docs, nil
}

// RunTransaction runs fn once on a dedicated connection. Writes are buffered
// and flushed in a single MULTI/EXEC.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
		t := &redisTx{
			store:  s,
			rtx:    rtx,
			writes: make(map[string][]byte),
		}
		if err := fn(ctx, t); err != nil {
			return err
		}
		if len(t.order) == 0 {
			return nil
		}

		_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, key := range t.order {
				pipe.Set(ctx, s.redisKey(key), t.writes[key], 0)
			}
			return nil
		})
		return err
	})
	if errors.Is(err, redis.TxFailedErr) {
		s.logger.Debug("redis transaction aborted by a concurrent write")
		return store.ErrConflict
	}
	return err
}

type redisTx struct {
	store  *Store
	rtx    *redis.Tx
	writes map[string][]byte
	order  []string
}

func (t *redisTx) Get(ctx context.Context, key string) (store.Document, error) {
	if v, ok := t.writes[key]; ok {
		return store.Document{Key: key, Value: append([]byte(nil), v...)}, nil
	}
	redisKey := t.store.redisKey(key)
	if err := t.rtx.Watch(ctx, redisKey).Err(); err != nil {
		return store.Document{}, fmt.Errorf("watching %s: %w", key, err)
	}
	return get(ctx, t.rtx, redisKey, key)
}

func (t *redisTx) Set(key string, value []byte) {
	if _, ok := t.writes[key]; !ok {
		t.order = append(t.order, key)
	}
	t.writes[key] = append([]byte(nil), value...)
}

// escapeGlob quotes the characters SCAN MATCH treats as wildcards
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
