// Package inmemory provides in-memory implementations of the store
// interfaces. Data is lost on service restart; the BigQuery-backed store
// is the persistent alternative.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/driesdb/budget-engine/internal/domain"
	"github.com/driesdb/budget-engine/internal/store"
)

// Store is an in-memory implementation of TransactionStore, MappingStore
// and SnapshotStore. It is safe for concurrent use.
type Store struct {
	mu           sync.RWMutex
	transactions map[string]domain.Transaction
	order        []string
	groups       []domain.MappingGroup
	snapshot     domain.BudgetSnapshot
	hasSnapshot  bool
}

// NewStore creates a new empty in-memory store.
func NewStore() *Store {
	return &Store{
		transactions: make(map[string]domain.Transaction),
	}
}

// UpsertTransactions implements the TransactionStore interface.
// Insertion order is preserved for listing; replacing an existing external
// ID keeps its original position.
func (s *Store) UpsertTransactions(ctx context.Context, txs []domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tx := range txs {
		if tx.ExternalID == "" {
			return fmt.Errorf("transaction external ID is required")
		}
		if _, exists := s.transactions[tx.ExternalID]; !exists {
			s.order = append(s.order, tx.ExternalID)
		}
		s.transactions[tx.ExternalID] = tx
	}
	return nil
}

// ListTransactions implements the TransactionStore interface.
func (s *Store) ListTransactions(ctx context.Context, filter store.TransactionFilter) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transaction, 0, len(s.order))
	for _, id := range s.order {
		tx := s.transactions[id]
		if !matchesPeriod(tx.BookingDate, filter) {
			continue
		}
		result = append(result, tx)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []domain.Transaction{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

// GetTransaction implements the TransactionStore interface.
func (s *Store) GetTransaction(ctx context.Context, externalID string) (domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, exists := s.transactions[externalID]
	if !exists {
		return domain.Transaction{}, fmt.Errorf("transaction %s: %w", externalID, store.ErrNotFound)
	}
	return tx, nil
}

// SetCategory implements the TransactionStore interface.
func (s *Store) SetCategory(ctx context.Context, externalID, category string, source domain.Source) (domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, exists := s.transactions[externalID]
	if !exists {
		return domain.Transaction{}, fmt.Errorf("transaction %s: %w", externalID, store.ErrNotFound)
	}
	tx.Category = category
	tx.Source = source
	s.transactions[externalID] = tx
	return tx, nil
}

// LoadGroups implements the MappingStore interface.
func (s *Store) LoadGroups(ctx context.Context) ([]domain.MappingGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.MappingGroup, len(s.groups))
	for i, g := range s.groups {
		out[i] = g
		out[i].Keywords = append([]string(nil), g.Keywords...)
	}
	return out, nil
}

// SaveGroups implements the MappingStore interface.
func (s *Store) SaveGroups(ctx context.Context, groups []domain.MappingGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.groups = make([]domain.MappingGroup, len(groups))
	for i, g := range groups {
		s.groups[i] = g
		s.groups[i].Keywords = append([]string(nil), g.Keywords...)
	}
	return nil
}

// SaveSnapshot implements the SnapshotStore interface.
func (s *Store) SaveSnapshot(ctx context.Context, snap domain.BudgetSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot = snap
	s.hasSnapshot = true
	return nil
}

// LatestSnapshot implements the SnapshotStore interface.
func (s *Store) LatestSnapshot(ctx context.Context) (domain.BudgetSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hasSnapshot {
		return domain.BudgetSnapshot{}, fmt.Errorf("budget snapshot: %w", store.ErrNotFound)
	}
	return s.snapshot, nil
}

// Years returns the distinct booking years present in the store, sorted.
func (s *Store) Years(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, tx := range s.transactions {
		if len(tx.BookingDate) >= 4 {
			seen[tx.BookingDate[:4]] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for y := range seen {
		out = append(out, y)
	}
	sort.Strings(out)
	return out, nil
}

func matchesPeriod(bookingDate string, filter store.TransactionFilter) bool {
	if len(filter.Years) > 0 && !hasPrefixIn(bookingDate, filter.Years) {
		return false
	}
	if len(filter.Months) > 0 && !hasPrefixIn(bookingDate, filter.Months) {
		return false
	}
	return true
}

func hasPrefixIn(date string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(date, p) {
			return true
		}
	}
	return false
}

// Ensure Store implements the store interfaces.
var _ store.TransactionStore = (*Store)(nil)
var _ store.MappingStore = (*Store)(nil)
var _ store.SnapshotStore = (*Store)(nil)
