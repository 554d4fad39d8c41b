// Package classify assigns a category, flow and provenance tag to bank
// transactions. The decision is a strict precedence chain: manual override,
// explicit mapping (flow-matched, then flow-relaxed), movement-type
// heuristic, built-in rule tables, fixed fallback. Classification never
// fails; missing data degrades to the fallback category so budget totals
// stay computable with zero configured mappings.
package classify

import (
	"strings"

	"github.com/driesdb/budget-engine/internal/domain"
	"github.com/driesdb/budget-engine/internal/mappings"
	"github.com/driesdb/budget-engine/internal/normalize"
)

// Result is the outcome of classifying one transaction.
type Result struct {
	Category string        `json:"category"`
	Flow     domain.Flow   `json:"flow"`
	Source   domain.Source `json:"source"`
}

// Options tunes how existing classifications are treated.
type Options struct {
	// SkipClassified keeps pre-existing mapping/llm results instead of
	// re-evaluating them. Bulk analysis runs with this off (a full pass is
	// destructive to non-manual categorizations); interactive display may
	// turn it on. Manual results are always kept regardless.
	SkipClassified bool
}

// Classify runs the precedence chain for one transaction against the given
// registry snapshot. The registry is read, never written.
func Classify(tx domain.Transaction, reg *mappings.Registry) Result {
	return ClassifyWith(tx, reg, Options{})
}

// ClassifyWith is Classify with explicit options.
func ClassifyWith(tx domain.Transaction, reg *mappings.Registry, opts Options) Result {
	flow := tx.InferredFlow()

	// 1. Manual override is authoritative.
	if tx.Source == domain.SourceManual && tx.Category != "" {
		return Result{Category: tx.Category, Flow: flow, Source: domain.SourceManual}
	}
	if opts.SkipClassified && tx.Category != "" &&
		(tx.Source == domain.SourceMapping || tx.Source == domain.SourceLLM) {
		return Result{Category: tx.Category, Flow: flow, Source: tx.Source}
	}

	search := searchText(tx)

	// 2. Explicit mapping, flow-matched. Longest keyword wins, registry
	// order breaks ties.
	if reg != nil {
		if m := reg.FindMatches(search, flow); len(m) > 0 {
			return Result{Category: m[0].Category, Flow: flow, Source: domain.SourceMapping}
		}
		// 3. Flow-relaxed retry catches rules saved under the wrong direction.
		if m := reg.FindRelaxedMatches(search, flow); len(m) > 0 {
			return Result{Category: m[0].Category, Flow: flow, Source: domain.SourceMapping}
		}
	}

	// 4. Movement-type bank-fee heuristic.
	if flow == domain.FlowExpense {
		movementNorm := normalize.Text(tx.MovementType)
		for _, indicator := range movementTypeFeeIndicators {
			if movementNorm != "" && strings.Contains(movementNorm, indicator) {
				return Result{Category: CategoryBankFees, Flow: flow, Source: domain.SourceHeuristic}
			}
		}
	}

	// 5. Built-in rule tables, first hit wins.
	table := expenseRules
	if flow == domain.FlowIncome {
		table = incomeRules
	}
	lowered := strings.ToLower(search)
	for _, rule := range table {
		for _, kw := range rule.keywords {
			if strings.Contains(lowered, kw) {
				return Result{Category: rule.category, Flow: flow, Source: domain.SourceHeuristic}
			}
		}
	}

	// 6. Fixed fallback.
	if flow == domain.FlowIncome {
		return Result{Category: CategoryOtherIncome, Flow: flow, Source: domain.SourceHeuristic}
	}
	return Result{Category: CategoryOtherExpense, Flow: flow, Source: domain.SourceHeuristic}
}

// Apply classifies the transaction and returns a copy with the category,
// flow and source fields set.
func Apply(tx domain.Transaction, reg *mappings.Registry, opts Options) domain.Transaction {
	res := ClassifyWith(tx, reg, opts)
	tx.Category = res.Category
	tx.Flow = res.Flow
	tx.Source = res.Source
	return tx
}

// searchText joins the free-text fields the rules match against.
func searchText(tx domain.Transaction) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{tx.CounterpartyName, tx.RemittanceInformation, tx.MovementType} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	return strings.Join(parts, " ")
}
