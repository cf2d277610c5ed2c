// Package datastore provides a SQLite-backed user store.
package datastore

import (
	"context"

	"github.com/NicolasHaas/gostep/pkg/model"
	"github.com/NicolasHaas/gostep/pkg/store"
)

type DataProviderFactory interface {
	NonTx() DataStore
	Tx(context.Context) (DataStoreTx, error)
}

type DataStoreTx interface {
	DataStore
	Rollback() error
	Commit() error
}

// DataStore defines the user queries available inside and outside a
// transaction.
type DataStore interface {
	UserReadProvider
	UserWriteProvider
}

type UserReadProvider interface {
	ListUsers(ctx context.Context) ([]model.User, error)
	CountUsers(ctx context.Context) (int, error)
}

type UserWriteProvider interface {
	UpsertUser(ctx context.Context, user model.User) error
	DeleteAllUsers(ctx context.Context) error
}

// Compile-time checks.
var (
	_ DataProviderFactory = (*ProviderFactory)(nil)
	_ store.Backend       = (*SQLiteBackend)(nil)
)
