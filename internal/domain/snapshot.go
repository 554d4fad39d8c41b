package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CategoryTotal is one row of the per-category breakdown.
type CategoryTotal struct {
	Category string          `json:"category"`
	Income   decimal.Decimal `json:"income"`
	Expense  decimal.Decimal `json:"expense"`
	Net      decimal.Decimal `json:"net"`
}

// PeriodTotal is one row of the per-year or per-month breakdown. Period is
// "YYYY" or "YYYY-MM", or the unknown bucket for unparseable dates.
type PeriodTotal struct {
	Period  string          `json:"period"`
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
}

// Summary is the chart-ready aggregate over a set of classified
// transactions. It is derived purely from the transaction set and the
// registry visibility flags; no state survives between calls.
type Summary struct {
	TotalIncome      decimal.Decimal `json:"total_income"`
	TotalExpense     decimal.Decimal `json:"total_expense"`
	Net              decimal.Decimal `json:"net"`
	TransactionCount int             `json:"transaction_count"`

	CategoryTotals []CategoryTotal `json:"category_totals"`
	YearTotals     []PeriodTotal   `json:"year_totals"`
	MonthTotals    []PeriodTotal   `json:"month_totals"`
}

// BudgetSnapshot is the immutable output of one completed analysis pass.
// A new successful pass replaces the stored snapshot wholesale.
type BudgetSnapshot struct {
	GeneratedAt   time.Time `json:"generated_at"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model"`
	MappingsCount int       `json:"mappings_count"`

	Transactions []Transaction `json:"transactions"`

	// SummaryPoints are optional natural-language highlights passed through
	// from the AI provider. They are not part of the determinism contract.
	SummaryPoints []string `json:"summary_points,omitempty"`
}
