package datastore

import (
	"context"
	"fmt"

	"github.com/NicolasHaas/gostep/pkg/model"
)

// SQLiteBackend adapts a ProviderFactory to store.Backend.
type SQLiteBackend struct {
	factory *ProviderFactory
}

// NewSQLiteBackend opens the database at dbPath.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	f, err := NewProviderFactory(dbPath)
	if err != nil {
		return nil, err
	}
	return &SQLiteBackend{factory: f}, nil
}

// Load returns all stored users.
func (b *SQLiteBackend) Load() ([]model.User, error) {
	return b.factory.NonTx().ListUsers(context.Background())
}

// Save replaces the stored table with users in a single transaction.
func (b *SQLiteBackend) Save(users []model.User) error {
	ctx := context.Background()
	tx, err := b.factory.Tx(ctx)
	if err != nil {
		return fmt.Errorf("datastore: begin save: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := tx.DeleteAllUsers(ctx); err != nil {
		return err
	}
	for _, u := range users {
		if err := tx.UpsertUser(ctx, u); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("datastore: commit save: %w", err)
	}
	committed = true
	return nil
}

// Close closes the database.
func (b *SQLiteBackend) Close() error {
	return b.factory.Close()
}
