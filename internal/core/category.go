package core

import "strings"

// Category is a closed enumeration of ledger categories. Unknown or blank
// labels collapse into Other.
type Category string

const (
	Salary     Category = "Salary"
	Freelance  Category = "Freelance"
	Investment Category = "Investment"
	Gift       Category = "Gift"

	FoodDining    Category = "Food & Dining"
	Shopping      Category = "Shopping"
	Grocery       Category = "Grocery"
	Rent          Category = "Rent"
	Transport     Category = "Transport"
	Bills         Category = "Bills"
	Entertainment Category = "Entertainment"

	Other Category = "Other"
)

var (
	incomeCategories  = []Category{Salary, Freelance, Investment, Gift, Other}
	expenseCategories = []Category{FoodDining, Shopping, Grocery, Rent, Transport, Bills, Entertainment, Other}

	categoryIndex = buildCategoryIndex()
)

func buildCategoryIndex() map[string]Category {
	idx := make(map[string]Category)
	for _, list := range [][]Category{incomeCategories, expenseCategories} {
		for _, c := range list {
			idx[categoryKey(string(c))] = c
		}
	}
	return idx
}

func categoryKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// NormalizeCategory maps a free-text label onto the enumeration, ignoring
// case and whitespace variants.
func NormalizeCategory(s string) Category {
	if c, ok := categoryIndex[categoryKey(s)]; ok {
		return c
	}
	return Other
}

// CategoriesFor lists the selectable categories for a kind.
func CategoriesFor(k Kind) []Category {
	switch k {
	case Income:
		return append([]Category(nil), incomeCategories...)
	case Expense:
		return append([]Category(nil), expenseCategories...)
	default:
		return nil
	}
}

// AllCategories lists every category once, income first.
func AllCategories() []Category {
	seen := make(map[Category]bool)
	var out []Category
	for _, c := range append(append([]Category(nil), incomeCategories...), expenseCategories...) {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// QuickAction is a one-tap expense preset.
type QuickAction struct {
	Label    string
	Amount   Money
	Category Category
}

var quickActions = []QuickAction{
	{Label: "Food", Amount: Money{Cents: 200_00}, Category: FoodDining},
	{Label: "Fuel", Amount: Money{Cents: 1000_00}, Category: Transport},
	{Label: "Shop", Amount: Money{Cents: 500_00}, Category: Shopping},
	{Label: "Bills", Amount: Money{Cents: 1500_00}, Category: Bills},
}

func QuickActions() []QuickAction {
	return append([]QuickAction(nil), quickActions...)
}

// FindQuickAction looks a preset up by label, case-insensitively.
func FindQuickAction(label string) (QuickAction, bool) {
	for _, a := range quickActions {
		if strings.EqualFold(a.Label, strings.TrimSpace(label)) {
			return a, true
		}
	}
	return QuickAction{}, false
}

// Input turns the preset into an online expense, optionally overriding the amount.
func (a QuickAction) Input(amount *Money) TransactionInput {
	in := TransactionInput{
		Title:    a.Label,
		Amount:   a.Amount,
		Kind:     Expense,
		Category: string(a.Category),
		Method:   Online,
	}
	if amount != nil {
		in.Amount = *amount
	}
	return in
}
