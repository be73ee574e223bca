// Package dashboard owns the per-session UI state and turns live feed
// snapshots into ready-to-render views.
package dashboard

import (
	"fmt"
	"strings"

	"finpulse/internal/core"
	"finpulse/internal/ledger"
)

type (
	Theme string
	Tab   string
)

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"

	TabDashboard    Tab = "dashboard"
	TabTransactions Tab = "transactions"
	TabAnalytics    Tab = "analytics"
)

const DefaultSeriesDays = 7

// Defaults apply to owners who have not configured anything yet.
type Defaults struct {
	Limits     ledger.Limits
	Goal       core.GoalInput
	SeriesDays int
	Recent     int
}

// StandardDefaults are the out-of-the-box limits and goal.
func StandardDefaults() Defaults {
	return Defaults{
		Limits: ledger.Limits{
			Daily:   core.Money{Cents: 50000_00},
			Monthly: core.Money{Cents: 150000_00},
		},
		Goal:       core.GoalInput{Name: "MacBook Pro M4", TargetAmount: core.Money{Cents: 250000_00}},
		SeriesDays: DefaultSeriesDays,
		Recent:     ledger.DefaultRecent,
	}
}

// Validate rejects defaults no view could be computed from.
func (d Defaults) Validate() error {
	if err := d.Limits.Validate(); err != nil {
		return err
	}
	if d.Goal.TargetAmount.Cents <= 0 {
		return core.InvalidConfiguration("default goal target", d.Goal.TargetAmount)
	}
	if d.SeriesDays < 1 {
		return fmt.Errorf("%w: series days must be positive, got %d", core.ErrInvalidConfiguration, d.SeriesDays)
	}
	return nil
}

// State is everything the user can toggle that is not stored in the
// document store.
type State struct {
	Theme  Theme             `json:"theme"`
	Tab    Tab               `json:"tab"`
	Limits ledger.Limits     `json:"limits"`
	Filter ledger.ListFilter `json:"filter"`
}

func initialState(d Defaults) State {
	return State{
		Theme:  ThemeDark,
		Tab:    TabDashboard,
		Limits: d.Limits,
		Filter: ledger.ListFilter{Category: ledger.AllCategories},
	}
}

func ParseTheme(s string) (Theme, error) {
	switch t := Theme(strings.ToLower(strings.TrimSpace(s))); t {
	case ThemeDark, ThemeLight:
		return t, nil
	default:
		return "", core.NewValidationError("theme", fmt.Sprintf("must be %s or %s", ThemeDark, ThemeLight))
	}
}

func ParseTab(s string) (Tab, error) {
	switch t := Tab(strings.ToLower(strings.TrimSpace(s))); t {
	case TabDashboard, TabTransactions, TabAnalytics:
		return t, nil
	default:
		return "", core.NewValidationError("tab", "unknown tab")
	}
}

// Toggle returns the other theme.
func (t Theme) Toggle() Theme {
	if t == ThemeLight {
		return ThemeDark
	}
	return ThemeLight
}

// normalizeFilter maps the category onto the closed list, keeping "All".
func normalizeFilter(f ledger.ListFilter) ledger.ListFilter {
	f.Search = strings.TrimSpace(f.Search)
	c := strings.TrimSpace(f.Category)
	if c == "" || strings.EqualFold(c, ledger.AllCategories) {
		f.Category = ledger.AllCategories
	} else {
		f.Category = string(core.NormalizeCategory(c))
	}
	return f
}
