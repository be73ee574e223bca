package core

import (
	"fmt"
	"strings"
	"time"
)

// Document field names as stored.
const (
	FieldTitle      = "title"
	FieldAmount     = "amount"
	FieldKind       = "type"
	FieldCategory   = "category"
	FieldMethod     = "method"
	FieldGoalName   = "goalName"
	FieldGoalAmount = "goalAmount"
)

// Fields encodes a normalized input for storage. Amounts are stored in
// major units.
func (in TransactionInput) Fields() map[string]any {
	return map[string]any{
		FieldTitle:    in.Title,
		FieldAmount:   in.Amount.Major(),
		FieldKind:     string(in.Kind),
		FieldCategory: in.Category,
		FieldMethod:   string(in.Method),
	}
}

// Fields encodes only the fields the patch changes.
func (p TransactionPatch) Fields() map[string]any {
	out := make(map[string]any, 2)
	if p.Title != nil {
		out[FieldTitle] = *p.Title
	}
	if p.Amount != nil {
		out[FieldAmount] = p.Amount.Major()
	}
	return out
}

func (g GoalInput) Fields() map[string]any {
	return map[string]any{
		FieldGoalName:   g.Name,
		FieldGoalAmount: g.TargetAmount.Major(),
	}
}

// DecodeTransaction builds a Transaction from stored fields. A missing or
// non-numeric amount and an unknown kind are validation errors; the record
// is never coerced. Category and method are normalized.
func DecodeTransaction(id, owner string, createdAt *time.Time, fields map[string]any) (Transaction, error) {
	tx := Transaction{ID: id, Owner: owner, CreatedAt: createdAt}

	raw, ok := fields[FieldAmount]
	if !ok {
		return tx, NewValidationError(FieldAmount, "missing")
	}
	amount, err := ParseAmount(raw)
	if err != nil {
		return tx, NewValidationError(FieldAmount, fmt.Sprintf("not a non-negative number: %v", raw))
	}
	tx.Amount = amount

	kind, err := ParseKind(stringField(fields, FieldKind))
	if err != nil {
		return tx, NewValidationError("kind", err.Error())
	}
	tx.Kind = kind

	method, err := ParseMethod(stringField(fields, FieldMethod))
	if err != nil {
		// method only feeds the daily pulse; an unknown value counts as cash
		method = Cash
	}
	tx.Method = method
	tx.Title = stringField(fields, FieldTitle)
	tx.Category = NormalizeCategory(stringField(fields, FieldCategory))
	return tx, nil
}

// DecodeGoal builds a Goal from stored settings fields.
func DecodeGoal(id, owner string, fields map[string]any) (Goal, error) {
	g := Goal{ID: id, Owner: owner, Name: strings.TrimSpace(stringField(fields, FieldGoalName))}
	target, err := ParseAmount(fields[FieldGoalAmount])
	if err != nil || target.Cents <= 0 {
		return g, NewValidationError("targetAmount", fmt.Sprintf("not a positive number: %v", fields[FieldGoalAmount]))
	}
	g.TargetAmount = target
	return g, nil
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}
