// Package ledger computes the derived views of a transaction snapshot:
// balance, flow totals, category breakdown, daily series, budget pulse and
// savings-goal progress.
//
// Every function here is pure. Inputs are never mutated and results depend
// only on the arguments, so callers may share a snapshot between goroutines.
package ledger

import (
	"errors"
	"sort"
	"time"

	"finpulse/internal/core"

	"github.com/shopspring/decimal"
)

var ErrInvalidWindow = errors.New("window length must be at least one day")

var hundred = decimal.NewFromInt(100)

// Totals holds the separate inflow and outflow sums.
type Totals struct {
	Income  core.Money `json:"income"`
	Expense core.Money `json:"expense"`
}

// Net is income minus expense.
func (t Totals) Net() core.Money {
	return t.Income.Sub(t.Expense)
}

// CategoryTotal is one bucket of the expense breakdown. Share is the
// bucket's percentage of all expenses in the input.
type CategoryTotal struct {
	Category core.Category `json:"category"`
	Total    core.Money    `json:"total"`
	Share    float64       `json:"share"`
}

// DayBucket is the expense total of one local calendar day.
type DayBucket struct {
	Date  time.Time  `json:"date"`
	Total core.Money `json:"total"`
}

// Balance returns income minus expense. An empty snapshot yields zero.
func Balance(txs []core.Transaction) core.Money {
	return FlowTotals(txs).Net()
}

// FlowTotals sums income and expense separately.
func FlowTotals(txs []core.Transaction) Totals {
	var t Totals
	for _, tx := range txs {
		switch tx.Kind {
		case core.Income:
			t.Income = t.Income.Add(tx.Amount)
		case core.Expense:
			t.Expense = t.Expense.Add(tx.Amount)
		}
	}
	return t
}

// CategoryBreakdown groups expenses by category, largest total first.
// Equal totals keep the order in which their category first appeared.
func CategoryBreakdown(txs []core.Transaction) []CategoryTotal {
	index := make(map[core.Category]int)
	var out []CategoryTotal
	var sum int64
	for _, tx := range txs {
		if !tx.IsExpense() {
			continue
		}
		cat := tx.Category
		if cat == "" {
			cat = core.Other
		}
		i, ok := index[cat]
		if !ok {
			i = len(out)
			index[cat] = i
			out = append(out, CategoryTotal{Category: cat})
		}
		out[i].Total = out[i].Total.Add(tx.Amount)
		sum += tx.Amount.Cents
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Total.Cents > out[b].Total.Cents
	})
	if sum > 0 {
		for i := range out {
			out[i].Share = percent(out[i].Total.Cents, sum)
		}
	}
	return out
}

// FilterMonth keeps the records created in the given local calendar month.
// Records without a timestamp are dropped.
func FilterMonth(txs []core.Transaction, year int, month time.Month, loc *time.Location) []core.Transaction {
	if loc == nil {
		loc = time.Local
	}
	var out []core.Transaction
	for _, tx := range txs {
		if !tx.HasTimestamp() {
			continue
		}
		y, m, _ := tx.CreatedAt.In(loc).Date()
		if y == year && m == month {
			out = append(out, tx)
		}
	}
	return out
}

// WindowEnd returns the last day of a series for the month containing ref:
// now itself when ref falls in now's month, otherwise the month's last day.
// The result is local midnight in now's location.
func WindowEnd(ref, now time.Time) time.Time {
	loc := now.Location()
	ry, rm, _ := ref.In(loc).Date()
	ny, nm, nd := now.Date()
	if ry == ny && rm == nm {
		return time.Date(ny, nm, nd, 0, 0, 0, 0, loc)
	}
	// day 0 of the next month is the last day of this one
	return time.Date(ry, rm+1, 0, 0, 0, 0, 0, loc)
}

// DailySeries returns exactly days buckets ending at WindowEnd(ref, now),
// oldest first, holding the expense total of each local day. Records
// outside the window or without a timestamp are ignored.
func DailySeries(txs []core.Transaction, ref, now time.Time, days int) ([]DayBucket, error) {
	if days < 1 {
		return nil, ErrInvalidWindow
	}
	loc := now.Location()
	end := WindowEnd(ref, now)
	buckets := make([]DayBucket, days)
	index := make(map[dayKey]int, days)
	for i := 0; i < days; i++ {
		d := time.Date(end.Year(), end.Month(), end.Day()-(days-1-i), 0, 0, 0, 0, loc)
		buckets[i] = DayBucket{Date: d}
		index[keyOf(d)] = i
	}
	for _, tx := range txs {
		if !tx.IsExpense() || !tx.HasTimestamp() {
			continue
		}
		i, ok := index[keyOf(tx.CreatedAt.In(loc))]
		if !ok {
			continue
		}
		buckets[i].Total = buckets[i].Total.Add(tx.Amount)
	}
	return buckets, nil
}

type dayKey struct {
	year  int
	month time.Month
	day   int
}

func keyOf(t time.Time) dayKey {
	y, m, d := t.Date()
	return dayKey{y, m, d}
}

// percent returns 100*part/whole, computed exactly before conversion.
func percent(part, whole int64) float64 {
	f, _ := decimal.NewFromInt(part).Mul(hundred).Div(decimal.NewFromInt(whole)).Float64()
	return f
}
