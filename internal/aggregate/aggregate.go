// Package aggregate computes chart-ready budget summaries from classified
// transactions. The summary is derived purely from the transaction set and
// the registry's visibility flags; nothing is accumulated between calls.
package aggregate

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/driesdb/budget-engine/internal/domain"
	"github.com/driesdb/budget-engine/internal/mappings"
	"github.com/driesdb/budget-engine/internal/normalize"
)

// UnknownPeriod buckets transactions whose booking date cannot be parsed.
// They are never dropped from totals, and the bucket always sorts last.
const UnknownPeriod = "Onbekend"

// UncategorizedLabel buckets transactions that reach the aggregator without
// a category.
const UncategorizedLabel = "Ongecategoriseerd"

// Filter restricts the summary to selected booking years ("2024") and
// months ("2024-03"). Empty selections mean "all".
type Filter struct {
	Years  []string
	Months []string
}

func (f Filter) matches(year, month string) bool {
	if len(f.Years) > 0 && !contains(f.Years, year) {
		return false
	}
	if len(f.Months) > 0 && !contains(f.Months, month) {
		return false
	}
	return true
}

type flowSums struct {
	income  decimal.Decimal
	expense decimal.Decimal
}

// Summarize aggregates the given transactions under the active filter.
// Categories hidden in the registry are excluded from the per-category
// breakdown but still count toward the period and overall totals.
func Summarize(txs []domain.Transaction, reg *mappings.Registry, filter Filter) domain.Summary {
	type categoryAgg struct {
		label string
		sums  flowSums
	}

	categories := make(map[string]*categoryAgg)
	years := make(map[string]*flowSums)
	months := make(map[string]*flowSums)

	summary := domain.Summary{
		TotalIncome:  decimal.Zero,
		TotalExpense: decimal.Zero,
		Net:          decimal.Zero,
	}

	for _, tx := range txs {
		year, month := periodKeys(tx.BookingDate)
		if !filter.matches(year, month) {
			continue
		}

		abs := tx.Amount.Abs()
		income := tx.InferredFlow() == domain.FlowIncome

		label := tx.Category
		if label == "" {
			label = UncategorizedLabel
		}
		key := normalize.CategoryKey(label)
		agg, ok := categories[key]
		if !ok {
			agg = &categoryAgg{label: label}
			categories[key] = agg
		}

		if income {
			summary.TotalIncome = summary.TotalIncome.Add(abs)
			agg.sums.income = agg.sums.income.Add(abs)
		} else {
			summary.TotalExpense = summary.TotalExpense.Add(abs)
			agg.sums.expense = agg.sums.expense.Add(abs)
		}
		summary.TransactionCount++

		addPeriod(years, year, abs, income)
		addPeriod(months, month, abs, income)
	}

	summary.Net = summary.TotalIncome.Sub(summary.TotalExpense)

	for key, agg := range categories {
		if reg != nil && reg.IsHidden(key) {
			continue
		}
		net := agg.sums.income.Sub(agg.sums.expense)
		summary.CategoryTotals = append(summary.CategoryTotals, domain.CategoryTotal{
			Category: agg.label,
			Income:   agg.sums.income,
			Expense:  agg.sums.expense,
			Net:      net,
		})
	}
	sort.SliceStable(summary.CategoryTotals, func(i, j int) bool {
		mi := summary.CategoryTotals[i].Net.Abs()
		mj := summary.CategoryTotals[j].Net.Abs()
		if !mi.Equal(mj) {
			return mi.GreaterThan(mj)
		}
		return summary.CategoryTotals[i].Category < summary.CategoryTotals[j].Category
	})

	summary.YearTotals = sortedPeriods(years)
	summary.MonthTotals = sortedPeriods(months)
	return summary
}

func addPeriod(buckets map[string]*flowSums, key string, abs decimal.Decimal, income bool) {
	sums, ok := buckets[key]
	if !ok {
		sums = &flowSums{}
		buckets[key] = sums
	}
	if income {
		sums.income = sums.income.Add(abs)
	} else {
		sums.expense = sums.expense.Add(abs)
	}
}

func sortedPeriods(buckets map[string]*flowSums) []domain.PeriodTotal {
	out := make([]domain.PeriodTotal, 0, len(buckets))
	for period, sums := range buckets {
		out = append(out, domain.PeriodTotal{Period: period, Income: sums.income, Expense: sums.expense})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Period == UnknownPeriod {
			return false
		}
		if out[j].Period == UnknownPeriod {
			return true
		}
		return out[i].Period < out[j].Period
	})
	return out
}

// periodKeys derives the "YYYY" and "YYYY-MM" bucket keys from a booking
// date string. Unparseable values land in the unknown bucket.
func periodKeys(bookingDate string) (year, month string) {
	year, month = UnknownPeriod, UnknownPeriod
	if len(bookingDate) >= 4 && allDigits(bookingDate[:4]) {
		year = bookingDate[:4]
	} else {
		return
	}
	if len(bookingDate) >= 7 && bookingDate[4] == '-' && allDigits(bookingDate[5:7]) {
		month = bookingDate[:7]
	}
	return
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func contains(values []string, v string) bool {
	for _, item := range values {
		if item == v {
			return true
		}
	}
	return false
}
