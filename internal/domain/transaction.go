package domain

import (
	"github.com/shopspring/decimal"
)

// Flow is the direction of money movement on a transaction or mapping rule.
type Flow string

const (
	FlowIncome  Flow = "income"
	FlowExpense Flow = "expense"
	// FlowAll is only valid on mapping groups and matches both directions.
	FlowAll Flow = "all"
)

// Source records how a transaction's category was decided.
type Source string

const (
	// SourceManual marks a user-set category. It is never overwritten by
	// re-classification.
	SourceManual Source = "manual"
	// SourceMapping marks a match against an explicit user mapping rule.
	SourceMapping Source = "mapping"
	// SourceLLM marks a category assigned by the external AI provider.
	SourceLLM Source = "llm"
	// SourceHeuristic marks a built-in rule table or fallback result, kept
	// distinct from SourceMapping so provenance stays auditable.
	SourceHeuristic Source = "heuristic"
)

// DefaultCurrency is assumed when the source delivered no currency code.
const DefaultCurrency = "EUR"

// Transaction is one bank transaction as delivered by the ingest side
// (synced or CSV-imported). ExternalID is the sole identity: re-importing
// the same external id updates the record, never duplicates it.
//
// Dates are kept as the "YYYY-MM-DD" strings the source delivered; the
// aggregator buckets unparseable values explicitly instead of dropping them.
type Transaction struct {
	ExternalID string `json:"external_transaction_id"`

	BookingDate string `json:"booking_date,omitempty"`
	ValueDate   string `json:"value_date,omitempty"`

	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency,omitempty"`

	CounterpartyName      string `json:"counterparty_name,omitempty"`
	RemittanceInformation string `json:"remittance_information,omitempty"`
	MovementType          string `json:"movement_type,omitempty"`

	Category string `json:"category,omitempty"`
	Flow     Flow   `json:"flow,omitempty"`
	Source   Source `json:"source,omitempty"`

	// LinkedDocumentID is an opaque foreign reference, display only.
	LinkedDocumentID string `json:"linked_document_id,omitempty"`
}

// InferredFlow returns the transaction's explicit flow, or derives it from
// the amount sign: zero or positive is income, negative is expense.
func (t Transaction) InferredFlow() Flow {
	if t.Flow == FlowIncome || t.Flow == FlowExpense {
		return t.Flow
	}
	if t.Amount.Sign() >= 0 {
		return FlowIncome
	}
	return FlowExpense
}
