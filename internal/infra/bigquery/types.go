// Package bigquery persists transactions, mapping groups and budget
// snapshots in BigQuery. It is the durable alternative to the in-memory
// store for single-tenant deployments.
package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
)

type TransactionRow struct {
	ExternalID string `bigquery:"external_transaction_id"` // REQUIRED

	BookingDate    bigquery.NullDate `bigquery:"booking_date"`     // NULLABLE, only when parseable
	BookingDateRaw string            `bigquery:"booking_date_raw"` // the source string, verbatim
	ValueDateRaw   string            `bigquery:"value_date_raw"`   // NULLABLE

	Amount   *big.Rat `bigquery:"amount"`   // REQUIRED NUMERIC
	Currency string   `bigquery:"currency"` // REQUIRED STRING

	CounterpartyName      bigquery.NullString `bigquery:"counterparty_name"`
	RemittanceInformation bigquery.NullString `bigquery:"remittance_information"`
	MovementType          bigquery.NullString `bigquery:"movement_type"`

	Category bigquery.NullString `bigquery:"category"`
	Flow     bigquery.NullString `bigquery:"flow"`
	Source   bigquery.NullString `bigquery:"source"`

	LinkedDocumentID bigquery.NullString `bigquery:"linked_document_id"`

	UpdatedTS time.Time `bigquery:"updated_ts"`
}

type MappingGroupRow struct {
	GroupID  string `bigquery:"group_id"` // REQUIRED
	Category string `bigquery:"category"` // REQUIRED
	Flow     string `bigquery:"flow"`     // income / expense / all

	Keywords []string `bigquery:"keywords"` // REPEATED STRING

	VisibleInBudget bool `bigquery:"visible_in_budget"`

	// Position preserves user-defined group order, which breaks keyword
	// match ties.
	Position int64 `bigquery:"position"`

	UpdatedTS time.Time `bigquery:"updated_ts"`
}

type SnapshotRow struct {
	GeneratedAt   time.Time `bigquery:"generated_at"` // REQUIRED
	Provider      string    `bigquery:"provider"`
	Model         string    `bigquery:"model"`
	MappingsCount int64     `bigquery:"mappings_count"`

	// Payload is the full snapshot serialized as JSON. Snapshots are
	// written once and read whole, so relational columns add nothing.
	Payload string `bigquery:"payload"`
}
