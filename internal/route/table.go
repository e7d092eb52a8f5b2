package route

import (
	"errors"
	"sort"
)

var ErrNoRules = errors.New("route: at least one rule is required")

// Table is an immutable set of rules ordered most specific first.
type Table struct {
	rules []Rule
}

// NewTable copies rules and orders them by descending prefix length. Rules
// with equally long prefixes keep their registration order, so the first
// registered one wins a tie.
func NewTable(rules []Rule) (*Table, error) {
	if len(rules) == 0 {
		return nil, ErrNoRules
	}

	sorted := make([]Rule, len(rules))
	copy(sorted, rules)

	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})

	return &Table{rules: sorted}, nil
}

// Match returns the most specific rule for path.
func (t *Table) Match(path string) (Rule, bool) {
	for _, r := range t.rules {
		if r.Matches(path) {
			return r, true
		}
	}

	return Rule{}, false
}

// Rules returns the rules in match order.
func (t *Table) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

func (t *Table) Len() int {
	return len(t.rules)
}
