package domain

// MappingGroup is a user-maintained categorization rule: any transaction
// whose search text contains one of the keywords is assigned the category.
type MappingGroup struct {
	ID       string   `json:"id"`
	Category string   `json:"category"`
	Flow     Flow     `json:"flow"`
	Keywords []string `json:"keywords"`

	// VisibleInBudget controls whether the category appears in the
	// per-category breakdown. Hidden categories still count toward the
	// overall income/expense totals.
	VisibleInBudget bool `json:"visible_in_budget"`
}
