// Package llm integrates an external AI provider into the classification
// pipeline. The provider receives only transactions the mapping rules could
// not resolve and proposes one category per transaction.
package llm

import (
	"context"

	"github.com/driesdb/budget-engine/internal/domain"
)

// DefaultChunkSize bounds how many transactions go into a single model
// request. Larger batches degrade answer quality and risk truncation.
const DefaultChunkSize = 80

// Assignment is one category proposal returned by the provider.
type Assignment struct {
	ExternalID string `json:"external_transaction_id"`
	Category   string `json:"category"`
}

// Request carries the context the provider needs for a classification
// batch.
type Request struct {
	// Transactions to classify. Already filtered down to the ones the
	// mapping rules left unresolved.
	Transactions []domain.Transaction

	// Groups is the active mapping configuration, sent so the model
	// prefers configured category names.
	Groups []domain.MappingGroup

	// KnownCategories lists every category label currently in use.
	KnownCategories []string

	// OnChunk, when set, is called after each request chunk completes with
	// the number of transactions in that chunk. Implementations invoke it
	// sequentially; callers use it to advance progress counters.
	OnChunk func(classified int)
}

// Provider defines the interface for AI-backed classification and
// summary text generation. Implementations must be safe for concurrent
// use.
type Provider interface {
	// Name identifies the provider for snapshot metadata.
	Name() string

	// Model identifies the configured model for snapshot metadata.
	Model() string

	// ClassifyBatch proposes a category per transaction. A transaction
	// missing from the result keeps its rule-based category.
	ClassifyBatch(ctx context.Context, req Request) ([]Assignment, error)

	// Summarize produces a short natural-language budget summary.
	Summarize(ctx context.Context, summary domain.Summary) (string, error)
}
