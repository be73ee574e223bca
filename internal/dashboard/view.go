package dashboard

import (
	"fmt"
	"time"

	"finpulse/internal/core"
	"finpulse/internal/ledger"
)

// GoalView is the savings goal card. Default is set when the owner has no
// stored goal and the configured default is shown instead.
type GoalView struct {
	Name      string          `json:"name"`
	Target    core.Money      `json:"target"`
	Progress  ledger.Progress `json:"progress"`
	Default   bool            `json:"default"`
	Celebrate bool            `json:"celebrate"`
}

// View is everything the dashboard renders for one owner at one moment.
type View struct {
	Owner        string                 `json:"-"`
	TxVersion    uint64                 `json:"txVersion"`
	GoalVersion  uint64                 `json:"goalVersion"`
	GeneratedAt  time.Time              `json:"generatedAt"`
	State        State                  `json:"state"`
	Balance      core.Money             `json:"balance"`
	Totals       ledger.Totals          `json:"totals"`
	Breakdown    []ledger.CategoryTotal `json:"breakdown"`
	Series       []ledger.DayBucket     `json:"series"`
	Pulse        ledger.Pulse           `json:"pulse"`
	Goal         GoalView               `json:"goal"`
	Month        ledger.MonthOverview   `json:"month"`
	Recent       []core.Transaction     `json:"recent"`
	Transactions []core.Transaction     `json:"transactions"`
	Stale        bool                   `json:"stale"`
}

// Inputs is the data a view is computed from.
type Inputs struct {
	Owner       string
	TxVersion   uint64
	GoalVersion uint64
	Txs         []core.Transaction
	Goals       []core.Goal
	State       State
	Defaults    Defaults
	Now         time.Time
	Stale       bool
}

// Compute builds a view. It has no side effects.
func Compute(in Inputs) (View, error) {
	v := View{
		Owner:       in.Owner,
		TxVersion:   in.TxVersion,
		GoalVersion: in.GoalVersion,
		GeneratedAt: in.Now,
		State:       in.State,
		Stale:       in.Stale,
	}

	v.Totals = ledger.FlowTotals(in.Txs)
	v.Balance = v.Totals.Net()
	v.Breakdown = ledger.CategoryBreakdown(in.Txs)

	days := in.Defaults.SeriesDays
	if days < 1 {
		days = DefaultSeriesDays
	}
	series, err := ledger.DailySeries(in.Txs, in.Now, in.Now, days)
	if err != nil {
		return View{}, fmt.Errorf("daily series: %w", err)
	}
	v.Series = series

	pulse, err := ledger.BudgetPulse(in.Txs, in.Now, in.State.Limits)
	if err != nil {
		return View{}, fmt.Errorf("budget pulse: %w", err)
	}
	v.Pulse = pulse

	goal, isDefault := pickGoal(in.Owner, in.Goals, in.Defaults.Goal)
	progress, err := ledger.GoalProgress(v.Balance, goal.TargetAmount)
	if err != nil {
		return View{}, fmt.Errorf("goal progress: %w", err)
	}
	v.Goal = GoalView{
		Name:      goal.Name,
		Target:    goal.TargetAmount,
		Progress:  progress,
		Default:   isDefault,
		Celebrate: progress.Met,
	}

	v.Month = ledger.Overview(in.Txs, in.Now.Year(), in.Now.Month(), in.Now.Location())
	recent := in.Defaults.Recent
	if recent < 1 {
		recent = ledger.DefaultRecent
	}
	v.Recent = ledger.Recent(in.Txs, recent)
	v.Transactions = ledger.Filter(in.Txs, in.State.Filter)
	return v, nil
}

// pickGoal prefers the document keyed by the owner id and falls back to
// any other stored goal, then to the default.
func pickGoal(owner string, goals []core.Goal, def core.GoalInput) (core.Goal, bool) {
	for _, g := range goals {
		if g.ID == owner {
			return g, false
		}
	}
	if len(goals) > 0 {
		return goals[0], false
	}
	return core.Goal{ID: owner, Owner: owner, Name: def.Name, TargetAmount: def.TargetAmount}, true
}
