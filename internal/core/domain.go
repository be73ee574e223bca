package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Income  Kind = "income"
	Expense Kind = "expense"

	Online Method = "online"
	Cash   Method = "cash"
)

type (
	Kind   string
	Method string

	Money struct {
		Cents int64
	}

	// Transaction is a single ledger record as observed through the live feed.
	// CreatedAt is nil while the store has not assigned a timestamp.
	Transaction struct {
		ID        string     `json:"id"`
		Owner     string     `json:"-"`
		Title     string     `json:"title"`
		Amount    Money      `json:"amount"`
		Kind      Kind       `json:"type"`
		Category  Category   `json:"category"`
		Method    Method     `json:"method"`
		CreatedAt *time.Time `json:"createdAt"`
	}

	// Goal is the owner's savings target.
	Goal struct {
		ID           string `json:"id"`
		Owner        string `json:"-"`
		Name         string `json:"goalName"`
		TargetAmount Money  `json:"goalAmount"`
	}

	// TransactionInput is a candidate record submitted by a user.
	TransactionInput struct {
		Title    string `validate:"required,max=120"`
		Amount   Money
		Kind     Kind   `validate:"required,oneof=income expense"`
		Category string `validate:"max=60"`
		Method   Method `validate:"omitempty,oneof=online cash"`
	}

	// TransactionPatch carries the editable fields of an existing record.
	// Nil fields are left untouched.
	TransactionPatch struct {
		Title  *string `validate:"omitempty,min=1,max=120"`
		Amount *Money
	}

	// GoalInput is the editable part of a savings goal.
	GoalInput struct {
		Name         string `validate:"required,max=100"`
		TargetAmount Money
	}
)

var (
	ErrEmptyTitle     = errors.New("empty title")
	ErrInvalidKind    = errors.New("invalid kind")
	ErrInvalidMethod  = errors.New("invalid method")
	ErrNegativeAmount = errors.New("amount must not be negative")
	ErrEmptyPatch     = errors.New("nothing to update")
)

// ParseKind accepts the two kinds case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case Income:
		return Income, nil
	case Expense:
		return Expense, nil
	default:
		return "", ErrInvalidKind
	}
}

func (k Kind) Valid() bool {
	return k == Income || k == Expense
}

// ParseMethod accepts "online" and "cash" case-insensitively; blank means online.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(s))) {
	case "", Online:
		return Online, nil
	case Cash:
		return Cash, nil
	default:
		return "", ErrInvalidMethod
	}
}

func (m Money) Validate() error {
	if m.Cents < 0 {
		return ErrNegativeAmount
	}
	return nil
}

func (m Money) Add(o Money) Money {
	return Money{Cents: m.Cents + o.Cents}
}

func (m Money) Sub(o Money) Money {
	return Money{Cents: m.Cents - o.Cents}
}

// IsIncome reports whether the record counts towards inflow.
func (t Transaction) IsIncome() bool {
	return t.Kind == Income
}

// IsExpense reports whether the record counts towards outflow.
func (t Transaction) IsExpense() bool {
	return t.Kind == Expense
}

// HasTimestamp reports whether the record can take part in time-windowed views.
func (t Transaction) HasTimestamp() bool {
	return t.CreatedAt != nil && !t.CreatedAt.IsZero()
}

// Validate checks structure only: amount and kind.
func (t Transaction) Validate() error {
	if err := t.Amount.Validate(); err != nil {
		return NewValidationError("amount", err.Error())
	}
	if !t.Kind.Valid() {
		return NewValidationError("kind", ErrInvalidKind.Error())
	}
	return nil
}

// Normalize trims the input, sanitises the title and maps the category onto
// the closed enumeration for the record's kind.
func (in TransactionInput) Normalize() TransactionInput {
	in.Title = SanitizeTitle(in.Title)
	if k, err := ParseKind(string(in.Kind)); err == nil {
		in.Kind = k
	}
	if m, err := ParseMethod(string(in.Method)); err == nil {
		in.Method = m
	}
	in.Category = string(NormalizeCategory(in.Category))
	return in
}

// Validate rejects malformed candidate records before any network call.
func (in TransactionInput) Validate() error {
	if err := validateStruct(in); err != nil {
		return err
	}
	if err := in.Amount.Validate(); err != nil {
		return NewValidationError("amount", err.Error())
	}
	return nil
}

func (p TransactionPatch) Normalize() TransactionPatch {
	if p.Title != nil {
		title := SanitizeTitle(*p.Title)
		p.Title = &title
	}
	return p
}

func (p TransactionPatch) Validate() error {
	if p.Title == nil && p.Amount == nil {
		return NewValidationError("patch", ErrEmptyPatch.Error())
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return NewValidationError("title", ErrEmptyTitle.Error())
	}
	if err := validateStruct(p); err != nil {
		return err
	}
	if p.Amount != nil {
		if err := p.Amount.Validate(); err != nil {
			return NewValidationError("amount", err.Error())
		}
	}
	return nil
}

func (g GoalInput) Normalize() GoalInput {
	g.Name = SanitizeTitle(g.Name)
	return g
}

func (g GoalInput) Validate() error {
	if err := validateStruct(g); err != nil {
		return err
	}
	if g.TargetAmount.Cents <= 0 {
		return NewValidationError("targetAmount", "must be greater than zero")
	}
	return nil
}
