// Package gateway validates user input and forwards owner-stamped writes to
// the document store. It never returns the written record; callers observe
// the effect through the live feed.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"finpulse/internal/core"
	"finpulse/internal/log"
	"finpulse/internal/store"
)

var ErrUnknownQuickAction = errors.New("unknown quick action")

// Backend is the part of the store the gateway writes through.
type Backend interface {
	store.Reader
	store.Writer
}

type Option func(*Gateway)

func WithLogger(l *log.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithErrorHook receives every upstream failure in addition to the caller.
func WithErrorHook(fn func(error)) Option {
	return func(g *Gateway) { g.onError = fn }
}

type Gateway struct {
	st      Backend
	logger  *log.Logger
	events  *log.StructuredLogger
	onError func(error)
}

func New(st Backend, opts ...Option) *Gateway {
	g := &Gateway{st: st}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = log.Discard()
	}
	g.logger = g.logger.WithComponent(log.ComponentGateway)
	g.events = log.NewStructuredLogger(g.logger)
	return g
}

// SubmitTransaction appends a new record for owner. The store assigns the id
// and creation time.
func (g *Gateway) SubmitTransaction(ctx context.Context, owner string, in core.TransactionInput) error {
	if err := requireOwner(owner); err != nil {
		return err
	}
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return err
	}

	id, err := g.st.Create(ctx, store.Transactions, store.Document{Owner: owner, Fields: in.Fields()})
	if err != nil {
		return g.upstream(ctx, "create transaction", err)
	}
	g.events.LogTransactionSubmitted(ctx, owner, in.Title, in.Amount.Cents, string(in.Kind), in.Category)
	g.logger.DebugContext(ctx, "Transaction created", log.FieldDocumentID, id)
	return nil
}

// QuickLog submits a preset expense, optionally with a custom amount.
func (g *Gateway) QuickLog(ctx context.Context, owner, label string, amount *core.Money) error {
	action, ok := core.FindQuickAction(label)
	if !ok {
		return core.NewValidationError("action", fmt.Sprintf("%s: %q", ErrUnknownQuickAction, label))
	}
	return g.SubmitTransaction(ctx, owner, action.Input(amount))
}

// EditTransaction changes only the fields set in patch. Records that do not
// exist or belong to someone else are reported as store.ErrNotFound.
func (g *Gateway) EditTransaction(ctx context.Context, owner, id string, patch core.TransactionPatch) error {
	if err := requireOwner(owner); err != nil {
		return err
	}
	if err := requireID(id); err != nil {
		return err
	}
	patch = patch.Normalize()
	if err := patch.Validate(); err != nil {
		return err
	}
	if err := g.checkOwnership(ctx, owner, id); err != nil {
		return err
	}
	if err := g.st.Update(ctx, store.Transactions, id, patch.Fields()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("update transaction %s: %w", id, err)
		}
		return g.upstream(ctx, "update transaction", err)
	}
	g.logger.InfoContext(ctx, "Transaction updated", log.FieldOwner, owner, log.FieldDocumentID, id)
	return nil
}

func (g *Gateway) DeleteTransaction(ctx context.Context, owner, id string) error {
	if err := requireOwner(owner); err != nil {
		return err
	}
	if err := requireID(id); err != nil {
		return err
	}
	if err := g.checkOwnership(ctx, owner, id); err != nil {
		return err
	}
	if err := g.st.Delete(ctx, store.Transactions, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("delete transaction %s: %w", id, err)
		}
		return g.upstream(ctx, "delete transaction", err)
	}
	g.logger.InfoContext(ctx, "Transaction deleted", log.FieldOwner, owner, log.FieldDocumentID, id)
	return nil
}

// SaveGoal writes the owner's single goal. The document id is the owner id,
// so repeated saves replace the same record.
func (g *Gateway) SaveGoal(ctx context.Context, owner string, in core.GoalInput) error {
	if err := requireOwner(owner); err != nil {
		return err
	}
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return err
	}
	doc := store.Document{ID: owner, Owner: owner, Fields: in.Fields()}
	if err := g.st.Set(ctx, store.Settings, doc); err != nil {
		return g.upstream(ctx, "save goal", err)
	}
	g.logger.InfoContext(ctx, "Goal saved", log.FieldOwner, owner, "goal", in.Name)
	return nil
}

func (g *Gateway) checkOwnership(ctx context.Context, owner, id string) error {
	doc, err := g.st.Get(ctx, store.Transactions, id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("transaction %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return g.upstream(ctx, "load transaction", err)
	}
	if doc.Owner != owner {
		g.logger.WarnContext(ctx, "Write to foreign record refused", log.FieldOwner, owner, log.FieldDocumentID, id)
		return fmt.Errorf("transaction %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (g *Gateway) upstream(ctx context.Context, op string, err error) error {
	wrapped := core.NewUpstreamError(op, err)
	g.logger.ErrorContext(ctx, "Store write failed",
		log.FieldOperation, op,
		log.FieldError, err,
		log.FieldErrorType, log.ErrorTypeUpstream)
	if g.onError != nil {
		g.onError(wrapped)
	}
	return wrapped
}

func requireOwner(owner string) error {
	if strings.TrimSpace(owner) == "" {
		return core.ErrUnauthenticated
	}
	return nil
}

func requireID(id string) error {
	if strings.TrimSpace(id) == "" {
		return core.NewValidationError("id", "required")
	}
	return nil
}
