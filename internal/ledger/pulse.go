package ledger

import (
	"time"

	"finpulse/internal/core"

	"github.com/shopspring/decimal"
)

// Severity classifies a spend percentage.
type Severity string

const (
	Nominal  Severity = "nominal"
	Warning  Severity = "warning"
	Critical Severity = "critical"
	Breached Severity = "breached"
)

// Classify maps a percentage onto its tier: below 70 nominal, below 90
// warning, up to and including 100 critical, above 100 breached.
func Classify(pct float64) Severity {
	switch {
	case pct < 70:
		return Nominal
	case pct < 90:
		return Warning
	case pct <= 100:
		return Critical
	default:
		return Breached
	}
}

// Limits are the daily and monthly spend thresholds. Both must be positive.
type Limits struct {
	Daily   core.Money `json:"daily"`
	Monthly core.Money `json:"monthly"`
}

func (l Limits) Validate() error {
	if l.Daily.Cents <= 0 {
		return core.InvalidConfiguration("daily limit", l.Daily)
	}
	if l.Monthly.Cents <= 0 {
		return core.InvalidConfiguration("monthly limit", l.Monthly)
	}
	return nil
}

// Gauge is one side of the pulse.
type Gauge struct {
	Spent     core.Money `json:"spent"`
	Limit     core.Money `json:"limit"`
	Remaining core.Money `json:"remaining"`
	Progress  float64    `json:"progress"`
	Severity  Severity   `json:"severity"`
}

// Pulse compares today's online spend and this month's total spend with
// their limits. Progress is not capped at 100.
type Pulse struct {
	Daily   Gauge `json:"daily"`
	Monthly Gauge `json:"monthly"`
}

// BudgetPulse computes the pulse as of now, using now's location for the
// calendar day and month. Cash expenses count towards the month only.
func BudgetPulse(txs []core.Transaction, now time.Time, limits Limits) (Pulse, error) {
	if err := limits.Validate(); err != nil {
		return Pulse{}, err
	}
	loc := now.Location()
	today := keyOf(now)
	var daily, monthly core.Money
	for _, tx := range txs {
		if !tx.IsExpense() || !tx.HasTimestamp() {
			continue
		}
		local := tx.CreatedAt.In(loc)
		if local.Year() != today.year || local.Month() != today.month {
			continue
		}
		monthly = monthly.Add(tx.Amount)
		if local.Day() == today.day && tx.Method == core.Online {
			daily = daily.Add(tx.Amount)
		}
	}
	return Pulse{
		Daily:   gauge(daily, limits.Daily),
		Monthly: gauge(monthly, limits.Monthly),
	}, nil
}

func gauge(spent, limit core.Money) Gauge {
	pct := percent(spent.Cents, limit.Cents)
	remaining := limit.Sub(spent)
	if remaining.Cents < 0 {
		remaining = core.Money{}
	}
	return Gauge{
		Spent:     spent,
		Limit:     limit,
		Remaining: remaining,
		Progress:  pct,
		Severity:  Classify(pct),
	}
}

// Progress describes how far a balance is towards a savings target.
// Raw is unclamped; Display is rounded and clamped to [0, 100].
type Progress struct {
	Balance core.Money `json:"balance"`
	Target  core.Money `json:"target"`
	Raw     float64    `json:"raw"`
	Display int        `json:"display"`
	Met     bool       `json:"met"`
}

// GoalProgress computes progress of balance towards target. The goal is met
// once the raw ratio reaches 100.
func GoalProgress(balance, target core.Money) (Progress, error) {
	if target.Cents <= 0 {
		return Progress{}, core.InvalidConfiguration("goal target", target)
	}
	raw := decimal.NewFromInt(balance.Cents).Mul(hundred).Div(decimal.NewFromInt(target.Cents))
	display := raw.Round(0).IntPart()
	switch {
	case display < 0:
		display = 0
	case display > 100:
		display = 100
	}
	f, _ := raw.Float64()
	return Progress{
		Balance: balance,
		Target:  target,
		Raw:     f,
		Display: int(display),
		Met:     raw.GreaterThanOrEqual(hundred),
	}, nil
}
