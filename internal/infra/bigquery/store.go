package bigquery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"

	"github.com/driesdb/budget-engine/internal/domain"
	"github.com/driesdb/budget-engine/internal/store"
)

const (
	transactionsTable = "transactions"
	mappingsTable     = "mapping_groups"
	snapshotsTable    = "budget_snapshots"
)

// amountExp is the decimal exponent used when reading NUMERIC amounts
// back; bank amounts carry two fraction digits.
const amountExp = 2

// Store is the BigQuery-backed implementation of the store interfaces,
// sharing one client across all operations.
type Store struct {
	client  *bigquery.Client
	project string
	dataset string
}

// NewStore creates a BigQuery-backed store with a shared client.
func NewStore(ctx context.Context, projectID, datasetID string) (*Store, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewStore: bigquery client: %w", err)
	}
	return &Store{client: client, project: projectID, dataset: datasetID}, nil
}

// Close closes the BigQuery client connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *Store) table(name string) string {
	return "`" + s.project + "." + s.dataset + "." + name + "`"
}

// UpsertTransactions implements the TransactionStore interface. Existing
// rows with the same external id are replaced.
func (s *Store) UpsertTransactions(ctx context.Context, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	ids := make([]string, len(txs))
	rows := make([]*TransactionRow, len(txs))
	for i, tx := range txs {
		if tx.ExternalID == "" {
			return fmt.Errorf("UpsertTransactions: transaction external ID is required")
		}
		ids[i] = tx.ExternalID
		rows[i] = toTransactionRow(tx)
	}

	q := s.client.Query(`
		DELETE FROM ` + s.table(transactionsTable) + `
		WHERE external_transaction_id IN UNNEST(@ids)
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "ids", Value: ids},
	}
	if err := runAndWait(ctx, q); err != nil {
		return fmt.Errorf("UpsertTransactions: deleting existing rows: %w", err)
	}

	inserter := s.client.DatasetInProject(s.project, s.dataset).Table(transactionsTable).Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return fmt.Errorf("UpsertTransactions: inserting rows: %w", err)
	}
	return nil
}

// ListTransactions implements the TransactionStore interface.
func (s *Store) ListTransactions(ctx context.Context, filter store.TransactionFilter) ([]domain.Transaction, error) {
	query := `
		SELECT
			external_transaction_id,
			booking_date,
			booking_date_raw,
			value_date_raw,
			amount,
			currency,
			counterparty_name,
			remittance_information,
			movement_type,
			category,
			flow,
			source,
			linked_document_id,
			updated_ts
		FROM ` + s.table(transactionsTable) + `
		WHERE TRUE
	`
	var params []bigquery.QueryParameter
	if len(filter.Years) > 0 {
		query += " AND SUBSTR(booking_date_raw, 1, 4) IN UNNEST(@years)"
		params = append(params, bigquery.QueryParameter{Name: "years", Value: filter.Years})
	}
	if len(filter.Months) > 0 {
		query += " AND SUBSTR(booking_date_raw, 1, 7) IN UNNEST(@months)"
		params = append(params, bigquery.QueryParameter{Name: "months", Value: filter.Months})
	}
	query += " ORDER BY booking_date_raw, external_transaction_id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	q := s.client.Query(query)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: query read: %w", err)
	}

	var out []domain.Transaction
	for {
		var r TransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListTransactions: iter next: %w", err)
		}
		out = append(out, fromTransactionRow(&r))
	}
	return out, nil
}

// GetTransaction implements the TransactionStore interface.
func (s *Store) GetTransaction(ctx context.Context, externalID string) (domain.Transaction, error) {
	q := s.client.Query(`
		SELECT
			external_transaction_id,
			booking_date,
			booking_date_raw,
			value_date_raw,
			amount,
			currency,
			counterparty_name,
			remittance_information,
			movement_type,
			category,
			flow,
			source,
			linked_document_id,
			updated_ts
		FROM ` + s.table(transactionsTable) + `
		WHERE external_transaction_id = @external_id
		LIMIT 1
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "external_id", Value: externalID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("GetTransaction: query read: %w", err)
	}

	var r TransactionRow
	if err := it.Next(&r); err == iterator.Done {
		return domain.Transaction{}, fmt.Errorf("transaction %s: %w", externalID, store.ErrNotFound)
	} else if err != nil {
		return domain.Transaction{}, fmt.Errorf("GetTransaction: iter next: %w", err)
	}
	return fromTransactionRow(&r), nil
}

// SetCategory implements the TransactionStore interface.
func (s *Store) SetCategory(ctx context.Context, externalID, category string, source domain.Source) (domain.Transaction, error) {
	q := s.client.Query(`
		UPDATE ` + s.table(transactionsTable) + `
		SET category = @category,
		    source = @source,
		    updated_ts = CURRENT_TIMESTAMP()
		WHERE external_transaction_id = @external_id
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "category", Value: category},
		{Name: "source", Value: string(source)},
		{Name: "external_id", Value: externalID},
	}
	if err := runAndWait(ctx, q); err != nil {
		return domain.Transaction{}, fmt.Errorf("SetCategory: update: %w", err)
	}
	return s.GetTransaction(ctx, externalID)
}

// LoadGroups implements the MappingStore interface.
func (s *Store) LoadGroups(ctx context.Context) ([]domain.MappingGroup, error) {
	q := s.client.Query(`
		SELECT group_id, category, flow, keywords, visible_in_budget, position, updated_ts
		FROM ` + s.table(mappingsTable) + `
		ORDER BY position
	`)

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("LoadGroups: query read: %w", err)
	}

	var out []domain.MappingGroup
	for {
		var r MappingGroupRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("LoadGroups: iter next: %w", err)
		}
		out = append(out, domain.MappingGroup{
			ID:              r.GroupID,
			Category:        r.Category,
			Flow:            domain.Flow(r.Flow),
			Keywords:        r.Keywords,
			VisibleInBudget: r.VisibleInBudget,
		})
	}
	return out, nil
}

// SaveGroups implements the MappingStore interface. The stored set is
// replaced wholesale; group order is kept through the position column.
func (s *Store) SaveGroups(ctx context.Context, groups []domain.MappingGroup) error {
	q := s.client.Query(`DELETE FROM ` + s.table(mappingsTable) + ` WHERE TRUE`)
	if err := runAndWait(ctx, q); err != nil {
		return fmt.Errorf("SaveGroups: clearing table: %w", err)
	}

	if len(groups) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([]*MappingGroupRow, len(groups))
	for i, g := range groups {
		rows[i] = &MappingGroupRow{
			GroupID:         g.ID,
			Category:        g.Category,
			Flow:            string(g.Flow),
			Keywords:        g.Keywords,
			VisibleInBudget: g.VisibleInBudget,
			Position:        int64(i),
			UpdatedTS:       now,
		}
	}

	inserter := s.client.DatasetInProject(s.project, s.dataset).Table(mappingsTable).Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return fmt.Errorf("SaveGroups: inserting rows: %w", err)
	}
	return nil
}

// SaveSnapshot implements the SnapshotStore interface.
func (s *Store) SaveSnapshot(ctx context.Context, snap domain.BudgetSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("SaveSnapshot: marshal payload: %w", err)
	}
	row := &SnapshotRow{
		GeneratedAt:   snap.GeneratedAt,
		Provider:      snap.Provider,
		Model:         snap.Model,
		MappingsCount: int64(snap.MappingsCount),
		Payload:       string(payload),
	}

	inserter := s.client.DatasetInProject(s.project, s.dataset).Table(snapshotsTable).Inserter()
	if err := inserter.Put(ctx, []*SnapshotRow{row}); err != nil {
		return fmt.Errorf("SaveSnapshot: inserting row: %w", err)
	}
	return nil
}

// LatestSnapshot implements the SnapshotStore interface.
func (s *Store) LatestSnapshot(ctx context.Context) (domain.BudgetSnapshot, error) {
	q := s.client.Query(`
		SELECT generated_at, provider, model, mappings_count, payload
		FROM ` + s.table(snapshotsTable) + `
		ORDER BY generated_at DESC
		LIMIT 1
	`)

	it, err := q.Read(ctx)
	if err != nil {
		return domain.BudgetSnapshot{}, fmt.Errorf("LatestSnapshot: query read: %w", err)
	}

	var r SnapshotRow
	if err := it.Next(&r); err == iterator.Done {
		return domain.BudgetSnapshot{}, fmt.Errorf("budget snapshot: %w", store.ErrNotFound)
	} else if err != nil {
		return domain.BudgetSnapshot{}, fmt.Errorf("LatestSnapshot: iter next: %w", err)
	}

	var snap domain.BudgetSnapshot
	if err := json.Unmarshal([]byte(r.Payload), &snap); err != nil {
		return domain.BudgetSnapshot{}, fmt.Errorf("LatestSnapshot: unmarshal payload: %w", err)
	}
	return snap, nil
}

func runAndWait(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("run query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("wait for job: %w", err)
	}
	if status.Err() != nil {
		return fmt.Errorf("job completed with error: %w", status.Err())
	}
	return nil
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}

func toTransactionRow(tx domain.Transaction) *TransactionRow {
	row := &TransactionRow{
		ExternalID:            tx.ExternalID,
		BookingDateRaw:        tx.BookingDate,
		ValueDateRaw:          tx.ValueDate,
		Amount:                tx.Amount.Rat(),
		Currency:              tx.Currency,
		CounterpartyName:      nullString(tx.CounterpartyName),
		RemittanceInformation: nullString(tx.RemittanceInformation),
		MovementType:          nullString(tx.MovementType),
		Category:              nullString(tx.Category),
		Flow:                  nullString(string(tx.Flow)),
		Source:                nullString(string(tx.Source)),
		LinkedDocumentID:      nullString(tx.LinkedDocumentID),
		UpdatedTS:             time.Now().UTC(),
	}
	if row.Currency == "" {
		row.Currency = domain.DefaultCurrency
	}
	if d, err := civil.ParseDate(tx.BookingDate); err == nil {
		row.BookingDate = bigquery.NullDate{Date: d, Valid: true}
	}
	return row
}

func fromTransactionRow(r *TransactionRow) domain.Transaction {
	tx := domain.Transaction{
		ExternalID:            r.ExternalID,
		BookingDate:           r.BookingDateRaw,
		ValueDate:             r.ValueDateRaw,
		Currency:              r.Currency,
		CounterpartyName:      r.CounterpartyName.StringVal,
		RemittanceInformation: r.RemittanceInformation.StringVal,
		MovementType:          r.MovementType.StringVal,
		Category:              r.Category.StringVal,
		Flow:                  domain.Flow(r.Flow.StringVal),
		Source:                domain.Source(r.Source.StringVal),
		LinkedDocumentID:      r.LinkedDocumentID.StringVal,
	}
	if r.Amount != nil {
		tx.Amount = decimal.NewFromBigRat(r.Amount, amountExp)
	}
	if tx.BookingDate == "" && r.BookingDate.Valid {
		tx.BookingDate = r.BookingDate.Date.String()
	}
	return tx
}

// Ensure Store implements the store interfaces.
var _ store.TransactionStore = (*Store)(nil)
var _ store.MappingStore = (*Store)(nil)
var _ store.SnapshotStore = (*Store)(nil)
