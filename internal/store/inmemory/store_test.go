package inmemory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/driesdb/budget-engine/internal/domain"
	"github.com/driesdb/budget-engine/internal/store"
)

func seed(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	err := s.UpsertTransactions(context.Background(), []domain.Transaction{
		{ExternalID: "a", BookingDate: "2024-01-15", Amount: decimal.NewFromInt(100)},
		{ExternalID: "b", BookingDate: "2024-02-01", Amount: decimal.NewFromInt(-50)},
		{ExternalID: "c", BookingDate: "2025-03-09", Amount: decimal.NewFromInt(-20)},
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestUpsertPreservesOrderOnReplace(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	err := s.UpsertTransactions(ctx, []domain.Transaction{
		{ExternalID: "a", BookingDate: "2024-01-15", Amount: decimal.NewFromInt(100), Category: "Loon"},
	})
	if err != nil {
		t.Fatal(err)
	}

	list, err := s.ListTransactions(ctx, store.TransactionFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("got %d transactions, want 3", len(list))
	}
	if list[0].ExternalID != "a" || list[0].Category != "Loon" {
		t.Errorf("first = %+v, want updated 'a' in original position", list[0])
	}
}

func TestUpsertRequiresExternalID(t *testing.T) {
	s := NewStore()
	if err := s.UpsertTransactions(context.Background(), []domain.Transaction{{}}); err == nil {
		t.Error("expected error for missing external ID")
	}
}

func TestListTransactionsPeriodFilter(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	list, err := s.ListTransactions(ctx, store.TransactionFilter{Years: []string{"2024"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Errorf("year filter: got %d, want 2", len(list))
	}

	list, err = s.ListTransactions(ctx, store.TransactionFilter{Months: []string{"2024-02"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ExternalID != "b" {
		t.Errorf("month filter: got %+v, want only 'b'", list)
	}
}

func TestListTransactionsLimitOffset(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	list, err := s.ListTransactions(ctx, store.TransactionFilter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Errorf("limit: got %d, want 2", len(list))
	}

	list, err = s.ListTransactions(ctx, store.TransactionFilter{Offset: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("offset past end: got %d, want 0", len(list))
	}
}

func TestSetCategory(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	tx, err := s.SetCategory(ctx, "b", "Boodschappen", domain.SourceManual)
	if err != nil {
		t.Fatal(err)
	}
	if tx.Category != "Boodschappen" || tx.Source != domain.SourceManual {
		t.Errorf("got %+v, want manual Boodschappen", tx)
	}

	got, err := s.GetTransaction(ctx, "b")
	if err != nil {
		t.Fatal(err)
	}
	if got.Category != "Boodschappen" {
		t.Errorf("stored category = %q, want Boodschappen", got.Category)
	}

	if _, err := s.SetCategory(ctx, "missing", "x", domain.SourceManual); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMappingGroupsRoundTripIsolated(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	in := []domain.MappingGroup{
		{ID: "g1", Category: "Boodschappen", Flow: domain.FlowExpense, Keywords: []string{"delhaize"}, VisibleInBudget: true},
	}
	if err := s.SaveGroups(ctx, in); err != nil {
		t.Fatal(err)
	}

	// Mutating the caller's slice must not leak into the store.
	in[0].Keywords[0] = "mutated"

	out, err := s.LoadGroups(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].Keywords[0] != "delhaize" {
		t.Errorf("got %+v, want the stored copy unchanged", out)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	if _, err := s.LatestSnapshot(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("empty store err = %v, want ErrNotFound", err)
	}

	snap := domain.BudgetSnapshot{Provider: "gemini", Model: "gemini-2.0-flash", MappingsCount: 4}
	if err := s.SaveSnapshot(ctx, snap); err != nil {
		t.Fatal(err)
	}

	got, err := s.LatestSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.Provider != "gemini" || got.MappingsCount != 4 {
		t.Errorf("got %+v, want the saved snapshot", got)
	}
}

func TestYears(t *testing.T) {
	s := seed(t)
	years, err := s.Years(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(years) != 2 || years[0] != "2024" || years[1] != "2025" {
		t.Errorf("years = %v, want [2024 2025]", years)
	}
}
