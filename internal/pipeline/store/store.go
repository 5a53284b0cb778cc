// Package store implements the Artifact Store (C1): typed persistence for
// every entity in the document model, enforcing the immutability contract
// (reload-and-check before any mutation, atomic terminal-state commit) and
// natural-key lookups for content-addressed deduplication.
package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"docgen.io/pipeline/ent"
	apperrors "docgen.io/pipeline/internal/pkg/errors"
)

// Store wraps the generated ent client with the typed, immutability-aware
// operations every pipeline component depends on.
type Store struct {
	client *ent.Client
}

// New wraps an existing ent client.
func New(client *ent.Client) *Store {
	return &Store{client: client}
}

// Client exposes the underlying ent client for read-only queries that do
// not warrant a dedicated Store method.
func (s *Store) Client() *ent.Client {
	return s.client
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func withTx(ctx context.Context, client *ent.Client, fn func(tx *ent.Tx) error) error {
	tx, err := client.Tx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if v := recover(); v != nil {
			_ = tx.Rollback()
			panic(v)
		}
	}()
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return fmt.Errorf("%w: rolling back: %v", err, rerr)
		}
		return err
	}
	return tx.Commit()
}

// generateID returns a time-ordered UUIDv7 string id, falling back to v4.
func generateID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
