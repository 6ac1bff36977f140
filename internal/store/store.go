// Package store defines the shared document store every economy component
// reads and writes, and the optimistic transaction contract settlement
// relies on.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a key has no document.
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned when a transaction read a document that another
	// committed transaction has since modified.
	ErrConflict = errors.New("transaction conflict")
	// ErrRetriesExhausted wraps ErrConflict once the retry budget is spent.
	ErrRetriesExhausted = errors.New("transaction retries exhausted")
)

// Document is a raw JSON value stored under a key
type Document struct {
	Key   string
	Value []byte
}

// Store is a key/value document store with optimistic transactions.
type Store interface {
	// Get returns ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) (Document, error)
	Set(ctx context.Context, key string, value []byte) error
	// SetMany writes every document; it is not atomic across keys.
	SetMany(ctx context.Context, docs []Document) error
	// Scan returns all documents whose key starts with prefix.
	Scan(ctx context.Context, prefix string) ([]Document, error)
	// RunTransaction runs fn once. Reads made through tx are tracked; the
	// buffered writes commit only if none of those documents changed, else
	// ErrConflict is returned and nothing is written.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}

// Tx is the view of the store inside a transaction
type Tx interface {
	// Get enrolls the key in the transaction's read set, including absent keys.
	Get(ctx context.Context, key string) (Document, error)
	// Set buffers a write; later Gets of the same key see the buffered value.
	Set(key string, value []byte)
}

// Matcher is implemented by stores that can filter documents under a prefix
// by top-level string fields of their JSON value without returning the rest.
type Matcher interface {
	ScanMatching(ctx context.Context, prefix string, fields map[string]string) ([]Document, error)
	CountMatching(ctx context.Context, prefix string, fields map[string]string) (int, error)
}
