// Package store defines the persistence interfaces for transactions,
// mapping groups and budget snapshots. The abstractions allow different
// backing implementations (in-memory, BigQuery).
package store

import (
	"context"
	"errors"

	"github.com/driesdb/budget-engine/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// TransactionFilter defines filtering criteria for listing transactions.
type TransactionFilter struct {
	// Years filters by booking year ("2024"). Empty means all.
	Years []string

	// Months filters by booking month ("2024-03"). Empty means all.
	Months []string

	// Limit limits the number of results. Zero means no limit.
	Limit int

	// Offset for pagination.
	Offset int
}

// TransactionStore persists bank transactions keyed by external ID.
type TransactionStore interface {
	// UpsertTransactions inserts or replaces transactions by external ID.
	UpsertTransactions(ctx context.Context, txs []domain.Transaction) error

	// ListTransactions retrieves transactions matching the filter.
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]domain.Transaction, error)

	// GetTransaction retrieves a single transaction by external ID.
	GetTransaction(ctx context.Context, externalID string) (domain.Transaction, error)

	// SetCategory records a category decision for one transaction.
	SetCategory(ctx context.Context, externalID, category string, source domain.Source) (domain.Transaction, error)
}

// MappingStore persists the mapping groups backing the registry.
type MappingStore interface {
	// LoadGroups retrieves all mapping groups.
	LoadGroups(ctx context.Context) ([]domain.MappingGroup, error)

	// SaveGroups replaces the stored mapping groups.
	SaveGroups(ctx context.Context, groups []domain.MappingGroup) error
}

// SnapshotStore persists analysis results.
type SnapshotStore interface {
	// SaveSnapshot stores a completed budget snapshot.
	SaveSnapshot(ctx context.Context, snap domain.BudgetSnapshot) error

	// LatestSnapshot retrieves the most recently saved snapshot.
	LatestSnapshot(ctx context.Context) (domain.BudgetSnapshot, error)
}
