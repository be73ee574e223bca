package ledger

import (
	"strings"

	"finpulse/internal/core"
)

// AllCategories is the list filter value that matches every category.
const AllCategories = "All"

// DefaultRecent is how many records the recent list shows.
const DefaultRecent = 5

// ListFilter narrows a snapshot for the transaction list.
type ListFilter struct {
	Search   string `json:"search"`
	Category string `json:"category"`
}

// Active reports whether the filter excludes anything.
func (f ListFilter) Active() bool {
	return strings.TrimSpace(f.Search) != "" || !matchesAll(f.Category)
}

func matchesAll(category string) bool {
	c := strings.TrimSpace(category)
	return c == "" || strings.EqualFold(c, AllCategories)
}

// Filter returns the records whose title contains the search text
// (case-insensitive) and whose category matches. Snapshot order is kept.
func Filter(txs []core.Transaction, f ListFilter) []core.Transaction {
	needle := strings.ToLower(strings.TrimSpace(f.Search))
	all := matchesAll(f.Category)
	var want core.Category
	if !all {
		want = core.NormalizeCategory(f.Category)
	}
	out := make([]core.Transaction, 0, len(txs))
	for _, tx := range txs {
		if needle != "" && !strings.Contains(strings.ToLower(tx.Title), needle) {
			continue
		}
		if !all && tx.Category != want {
			continue
		}
		out = append(out, tx)
	}
	return out
}

// Recent returns the first n records of a snapshot, which are the newest.
func Recent(txs []core.Transaction, n int) []core.Transaction {
	if n <= 0 {
		n = DefaultRecent
	}
	if len(txs) < n {
		n = len(txs)
	}
	out := make([]core.Transaction, n)
	copy(out, txs[:n])
	return out
}
