package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

type memoryEntry struct {
	value   []byte
	version uint64
}

// MemoryStore is an in-process Store. Each key carries a version that is
// bumped on every write; a transaction commits only if every key it read
// still has the version it observed.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]memoryEntry
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.docs[key]
	if !ok {
		return Document{}, ErrNotFound
	}
	return Document{Key: key, Value: clone(e.value)}, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(key, value)
	return nil
}

func (s *MemoryStore) SetMany(ctx context.Context, docs []Document) error {
	for _, d := range docs {
		if err := s.Set(ctx, d.Key, d.Value); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) Scan(ctx context.Context, prefix string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Document
	for k, e := range s.docs {
		if strings.HasPrefix(k, prefix) {
			out = append(out, Document{Key: k, Value: clone(e.value)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memoryTx{
		store:  s,
		reads:  make(map[string]uint64),
		writes: make(map[string][]byte),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, seen := range tx.reads {
		if s.docs[key].version != seen {
			return ErrConflict
		}
	}
	for _, key := range tx.order {
		s.put(key, tx.writes[key])
	}
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// put must be called with mu held.
func (s *MemoryStore) put(key string, value []byte) {
	e := s.docs[key]
	s.docs[key] = memoryEntry{value: clone(value), version: e.version + 1}
}

type memoryTx struct {
	store  *MemoryStore
	reads  map[string]uint64
	writes map[string][]byte
	order  []string
}

func (tx *memoryTx) Get(ctx context.Context, key string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	if v, ok := tx.writes[key]; ok {
		return Document{Key: key, Value: clone(v)}, nil
	}
	tx.store.mu.RLock()
	e, ok := tx.store.docs[key]
	tx.store.mu.RUnlock()
	if _, seen := tx.reads[key]; !seen {
		tx.reads[key] = e.version
	}
	if !ok {
		return Document{}, ErrNotFound
	}
	return Document{Key: key, Value: clone(e.value)}, nil
}

func (tx *memoryTx) Set(key string, value []byte) {
	if _, ok := tx.writes[key]; !ok {
		tx.order = append(tx.order, key)
	}
	tx.writes[key] = clone(value)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
