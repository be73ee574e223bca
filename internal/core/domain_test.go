package core

import (
	"errors"
	"testing"
)

func TestTransactionInputValidate(t *testing.T) {
	good := TransactionInput{
		Title:    "Lunch",
		Amount:   Money{Cents: 1200},
		Kind:     Expense,
		Category: "Food & Dining",
		Method:   Online,
	}
	if err := good.Normalize().Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	cases := []struct {
		name  string
		in    TransactionInput
		field string
	}{
		{"negative amount", TransactionInput{Title: "a", Amount: Money{Cents: -1}, Kind: Expense}, "amount"},
		{"unknown kind", TransactionInput{Title: "a", Amount: Money{Cents: 1}, Kind: "transfer"}, "kind"},
		{"missing kind", TransactionInput{Title: "a", Amount: Money{Cents: 1}}, "kind"},
		{"blank title", TransactionInput{Title: "   ", Amount: Money{Cents: 1}, Kind: Income}, "title"},
		{"bad method", TransactionInput{Title: "a", Amount: Money{Cents: 1}, Kind: Income, Method: "card"}, "method"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.in.Normalize().Validate()
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if got := FieldOf(err); got != tc.field {
				t.Fatalf("expected field %q, got %q (%v)", tc.field, got, err)
			}
		})
	}
}

func TestZeroAmountIsAllowed(t *testing.T) {
	in := TransactionInput{Title: "Freebie", Kind: Income}
	if err := in.Normalize().Validate(); err != nil {
		t.Fatalf("zero amount should be valid: %v", err)
	}
}

func TestTransactionInputNormalize(t *testing.T) {
	in := TransactionInput{
		Title:    "  <b>Coffee</b>\tbeans ",
		Kind:     "EXPENSE",
		Category: "  food   &   dining ",
	}.Normalize()

	if in.Title != "Coffee beans" {
		t.Fatalf("unexpected title %q", in.Title)
	}
	if in.Kind != Expense {
		t.Fatalf("unexpected kind %q", in.Kind)
	}
	if in.Category != string(FoodDining) {
		t.Fatalf("unexpected category %q", in.Category)
	}
	if in.Method != Online {
		t.Fatalf("blank method should default to online, got %q", in.Method)
	}
}

func TestTransactionPatchValidate(t *testing.T) {
	if err := (TransactionPatch{}).Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty patch should fail, got %v", err)
	}
	title := "Rent"
	if err := (TransactionPatch{Title: &title}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	blank := " "
	if err := (TransactionPatch{Title: &blank}).Validate(); FieldOf(err) != "title" {
		t.Fatalf("expected title error, got %v", err)
	}
	neg := Money{Cents: -5}
	if err := (TransactionPatch{Amount: &neg}).Validate(); FieldOf(err) != "amount" {
		t.Fatalf("expected amount error, got %v", err)
	}
}

func TestGoalInputValidate(t *testing.T) {
	if err := (GoalInput{Name: "Laptop", TargetAmount: Money{Cents: 1}}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (GoalInput{Name: "Laptop"}).Validate(); FieldOf(err) != "targetAmount" {
		t.Fatalf("expected targetAmount error, got %v", err)
	}
	if err := (GoalInput{TargetAmount: Money{Cents: 1}}).Validate(); FieldOf(err) != "name" {
		t.Fatalf("expected name error, got %v", err)
	}
}

func TestTransactionValidate(t *testing.T) {
	if err := (Transaction{Kind: Income}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Transaction{Kind: "gift"}).Validate(); FieldOf(err) != "kind" {
		t.Fatalf("expected kind error, got %v", err)
	}
	if err := (Transaction{Kind: Expense, Amount: Money{Cents: -1}}).Validate(); FieldOf(err) != "amount" {
		t.Fatalf("expected amount error, got %v", err)
	}
}

func TestNormalizeCategory(t *testing.T) {
	cases := map[string]Category{
		"Salary":          Salary,
		"salary":          Salary,
		" Food &  Dining": FoodDining,
		"":                Other,
		"Crypto":          Other,
		"BILLS":           Bills,
	}
	for in, want := range cases {
		if got := NormalizeCategory(in); got != want {
			t.Errorf("NormalizeCategory(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestQuickActions(t *testing.T) {
	a, ok := FindQuickAction("fuel")
	if !ok {
		t.Fatal("expected fuel preset")
	}
	in := a.Input(nil)
	if in.Kind != Expense || in.Method != Online || in.Category != string(Transport) || in.Amount.Cents != 100000 {
		t.Fatalf("unexpected preset input: %+v", in)
	}
	custom := Money{Cents: 4200}
	if got := a.Input(&custom).Amount; got != custom {
		t.Fatalf("custom amount ignored: %v", got)
	}
	if _, ok := FindQuickAction("rocket"); ok {
		t.Fatal("unexpected preset")
	}
}
