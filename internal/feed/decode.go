package feed

import (
	"finpulse/internal/core"
	"finpulse/internal/store"
)

// DecodeTransaction maps a transactions document to a record.
func DecodeTransaction(doc store.Document) (core.Transaction, error) {
	return core.DecodeTransaction(doc.ID, doc.Owner, doc.CreatedAt, doc.Fields)
}

// DecodeGoal maps a settings document to the owner's goal.
func DecodeGoal(doc store.Document) (core.Goal, error) {
	return core.DecodeGoal(doc.ID, doc.Owner, doc.Fields)
}

// NewTransactions follows the owner's transactions, newest first.
func NewTransactions(st store.Subscriber, opts ...Option) *Feed[core.Transaction] {
	return New(st, store.Transactions, DecodeTransaction, opts...)
}

// NewGoals follows the owner's settings documents. The snapshot carries
// every goal record the owner has; callers pick the one keyed by the owner.
func NewGoals(st store.Subscriber, opts ...Option) *Feed[core.Goal] {
	return New(st, store.Settings, DecodeGoal, opts...)
}
