// Package mappings holds the user-maintained category mapping rules and
// answers keyword-match queries for the classifier. The registry is an
// explicit value handed to classify/aggregate calls; there is no package
// level mapping state.
package mappings

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/driesdb/budget-engine/internal/domain"
	"github.com/driesdb/budget-engine/internal/normalize"
)

var (
	// ErrDuplicateCategory is returned when adding a category whose
	// normalized name already exists. Renames merge instead (see Rename).
	ErrDuplicateCategory = errors.New("mappings: duplicate category")
	// ErrNotFound is returned when no group has the given id.
	ErrNotFound = errors.New("mappings: group not found")
)

// Match is one mapping rule hit for a search string. KeywordLength ranks
// matches: the longest keyword is the most specific.
type Match struct {
	Category      string
	Keyword       string
	KeywordLength int
}

// Registry stores mapping groups in user order. Group order is the
// tie-breaker when two matched keywords have equal length, so it is stable
// across queries.
type Registry struct {
	mu     sync.RWMutex
	groups []domain.MappingGroup
}

// NewRegistry builds a registry from existing groups, preserving order.
// Groups without an id get one assigned.
func NewRegistry(groups ...domain.MappingGroup) *Registry {
	r := &Registry{groups: make([]domain.MappingGroup, 0, len(groups))}
	for _, g := range groups {
		if g.ID == "" {
			g.ID = uuid.NewString()
		}
		g.Keywords = cleanKeywords(g.Keywords)
		if g.Flow == "" {
			g.Flow = domain.FlowAll
		}
		r.groups = append(r.groups, g)
	}
	return r
}

// Add creates a new category group. It fails with ErrDuplicateCategory when
// a normalized-equal category already exists; the caller surfaces that as an
// edit-time conflict.
func (r *Registry) Add(name string, flow domain.Flow) (domain.MappingGroup, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.MappingGroup{}, fmt.Errorf("mappings: category name is empty")
	}
	if flow != domain.FlowIncome && flow != domain.FlowExpense {
		flow = domain.FlowAll
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := normalize.CategoryKey(name)
	for _, g := range r.groups {
		if normalize.CategoryKey(g.Category) == key {
			return domain.MappingGroup{}, fmt.Errorf("%w: %q", ErrDuplicateCategory, name)
		}
	}
	group := domain.MappingGroup{
		ID:              uuid.NewString(),
		Category:        name,
		Flow:            flow,
		VisibleInBudget: true,
	}
	r.groups = append(r.groups, group)
	return group, nil
}

// Rename changes a group's display name. When the new normalized name
// collides with another group, the two are merged into the destination:
// keyword sets are unioned and the destination's flow wins, unless the
// destination was "all" and the source was more specific. This merge is the
// documented resolution for accidental duplicate categories.
func (r *Registry) Rename(id, newName string) (domain.MappingGroup, error) {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return domain.MappingGroup{}, fmt.Errorf("mappings: category name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	srcIdx := r.indexOf(id)
	if srcIdx < 0 {
		return domain.MappingGroup{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	key := normalize.CategoryKey(newName)
	dstIdx := -1
	for i, g := range r.groups {
		if i != srcIdx && normalize.CategoryKey(g.Category) == key {
			dstIdx = i
			break
		}
	}
	if dstIdx < 0 {
		r.groups[srcIdx].Category = newName
		return r.groups[srcIdx], nil
	}

	src := r.groups[srcIdx]
	dst := &r.groups[dstIdx]
	dst.Keywords = unionKeywords(dst.Keywords, src.Keywords)
	if dst.Flow == domain.FlowAll && src.Flow != domain.FlowAll {
		dst.Flow = src.Flow
	}
	merged := *dst
	r.groups = append(r.groups[:srcIdx], r.groups[srcIdx+1:]...)
	return merged, nil
}

// Remove deletes a group. Transactions already classified under it keep
// their stored category string until the next full re-classification pass.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.groups = append(r.groups[:idx], r.groups[idx+1:]...)
	return nil
}

// SetKeywords replaces a group's keyword set. Keywords are stored trimmed
// and lowercased; empty entries are dropped.
func (r *Registry) SetKeywords(id string, keywords []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.groups[idx].Keywords = cleanKeywords(keywords)
	return nil
}

// ToggleVisibility flips whether the group's category shows up in the
// budget breakdown.
func (r *Registry) ToggleVisibility(id string) (domain.MappingGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(id)
	if idx < 0 {
		return domain.MappingGroup{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.groups[idx].VisibleInBudget = !r.groups[idx].VisibleInBudget
	return r.groups[idx], nil
}

// FindMatches returns all groups whose flow equals the given flow (or is
// "all") and whose keyword appears in the search text, ranked by matched
// keyword length descending. Ties keep registry order. Keywords match on
// both the raw-lowercased and the alphanumeric-normalized form of the text.
func (r *Registry) FindMatches(text string, flow domain.Flow) []Match {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findMatches(text, func(f domain.Flow) bool {
		return f == domain.FlowAll || f == flow
	})
}

// FindRelaxedMatches returns matches whose flow is the opposite of the
// given flow. The classifier consults it only when flow-matched lookup
// found nothing, to catch mapping rules saved under the wrong direction.
func (r *Registry) FindRelaxedMatches(text string, flow domain.Flow) []Match {
	opposite := domain.FlowExpense
	if flow == domain.FlowExpense {
		opposite = domain.FlowIncome
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findMatches(text, func(f domain.Flow) bool {
		return f == opposite
	})
}

func (r *Registry) findMatches(text string, flowOK func(domain.Flow) bool) []Match {
	raw := strings.ToLower(text)
	norm := normalize.Text(text)

	var out []Match
	for _, g := range r.groups {
		if !flowOK(g.Flow) {
			continue
		}
		for _, kw := range g.Keywords {
			kwNorm := normalize.Text(kw)
			if !strings.Contains(raw, kw) && (kwNorm == "" || !strings.Contains(norm, kwNorm)) {
				continue
			}
			length := len(kwNorm)
			if length == 0 {
				length = len(kw)
			}
			out = append(out, Match{Category: g.Category, Keyword: kw, KeywordLength: length})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].KeywordLength > out[j].KeywordLength
	})
	return out
}

// IsHidden reports whether the category (by normalized key) is excluded
// from the budget breakdown. Categories not present in the registry are
// visible by default.
func (r *Registry) IsHidden(categoryKey string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, g := range r.groups {
		if normalize.CategoryKey(g.Category) == categoryKey {
			return !g.VisibleInBudget
		}
	}
	return false
}

// Groups returns a copy of the groups in registry order.
func (r *Registry) Groups() []domain.MappingGroup {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.MappingGroup, len(r.groups))
	copy(out, r.groups)
	for i := range out {
		out[i].Keywords = append([]string(nil), out[i].Keywords...)
	}
	return out
}

// Len returns the number of mapping groups.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups)
}

// Clone returns an independent copy. The job controller clones the registry
// at job start so user edits mid-run only apply to the next run.
func (r *Registry) Clone() *Registry {
	return NewRegistry(r.Groups()...)
}

func (r *Registry) indexOf(id string) int {
	for i, g := range r.groups {
		if g.ID == id {
			return i
		}
	}
	return -1
}

func cleanKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	seen := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	return out
}

func unionKeywords(a, b []string) []string {
	return cleanKeywords(append(append([]string(nil), a...), b...))
}
