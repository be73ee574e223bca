package ledger

import (
	"time"

	"finpulse/internal/core"
)

// MonthOverview is a compact summary for a specific year+month.
type MonthOverview struct {
	Year       int             `json:"year"`
	Month      int             `json:"month"` // 1-12
	Totals     Totals          `json:"totals"`
	Net        core.Money      `json:"net"`
	ByCategory []CategoryTotal `json:"byCategory"`
}

// Overview summarises the records of one local calendar month.
func Overview(txs []core.Transaction, year int, month time.Month, loc *time.Location) MonthOverview {
	in := FilterMonth(txs, year, month, loc)
	totals := FlowTotals(in)
	return MonthOverview{
		Year:       year,
		Month:      int(month),
		Totals:     totals,
		Net:        totals.Net(),
		ByCategory: CategoryBreakdown(in),
	}
}
