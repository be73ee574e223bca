// Package worker copies newly created transactions from the sqlite store to
// a spreadsheet. Change messages drive it; a periodic catch-up covers
// messages lost while the worker or the broker was down.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"finpulse/internal/amqp"
	"finpulse/internal/feed"
	"finpulse/internal/log"
	"finpulse/internal/sheets"
	"finpulse/internal/store"
)

// Ledger is the part of the sqlite repository the worker needs.
type Ledger interface {
	store.Reader
	PendingMirror(ctx context.Context, collection string, limit int) ([]store.Document, error)
	MarkMirrored(ctx context.Context, collection, id string) error
	MarkMirrorError(ctx context.Context, collection, id string, cause error) error
	IsMirrored(ctx context.Context, collection, id string) (bool, error)
}

// MirrorWorker appends transactions to a sheet exactly once per record,
// as far as the mirror log can tell.
type MirrorWorker struct {
	ledger    Ledger
	sheet     sheets.TransactionAppender
	batchSize int
	logger    *log.Logger
	events    *log.StructuredLogger

	// one record at a time, so a message and the catch-up never race
	mu sync.Mutex
}

func NewMirrorWorker(ledger Ledger, sheet sheets.TransactionAppender, batchSize int, logger *log.Logger) *MirrorWorker {
	if batchSize <= 0 {
		batchSize = 25
	}
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentWorker)
	return &MirrorWorker{
		ledger:    ledger,
		sheet:     sheet,
		batchSize: batchSize,
		logger:    logger,
		events:    log.NewStructuredLogger(logger),
	}
}

// Bindings are the routing keys the worker's queue needs.
func Bindings() []string {
	return []string{amqp.RoutingKey(store.Transactions, store.OpCreate)}
}

// HandleChange mirrors the transaction a create message announces. Other
// messages are acknowledged and ignored. A failed append is recorded in
// the mirror log and left to the catch-up rather than requeued.
func (w *MirrorWorker) HandleChange(ctx context.Context, msg *amqp.ChangeMessage) error {
	if msg.Collection != store.Transactions || msg.Op != store.OpCreate {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	done, err := w.ledger.IsMirrored(ctx, store.Transactions, msg.ID)
	if err != nil {
		return fmt.Errorf("check mirror log: %w", err)
	}
	if done {
		w.logger.DebugContext(ctx, "Transaction already mirrored", log.FieldDocumentID, msg.ID)
		return nil
	}

	doc, err := w.ledger.Get(ctx, store.Transactions, msg.ID)
	if errors.Is(err, store.ErrNotFound) {
		w.logger.InfoContext(ctx, "Transaction deleted before mirroring", log.FieldDocumentID, msg.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get transaction: %w", err)
	}

	_ = w.mirrorLocked(ctx, doc)
	return nil
}

// ProcessPending mirrors up to one batch of unmirrored transactions and
// reports how many were appended.
func (w *MirrorWorker) ProcessPending(ctx context.Context) (int, error) {
	return w.processPending(ctx, w.batchSize)
}

// StartupCheck runs a larger catch-up batch, for use before consuming.
func (w *MirrorWorker) StartupCheck(ctx context.Context) error {
	n, err := w.processPending(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("startup mirror check: %w", err)
	}
	w.logger.InfoContext(ctx, "Startup mirror check completed", "mirrored", n)
	return nil
}

// Run repeats ProcessPending every interval until ctx is done.
func (w *MirrorWorker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.ProcessPending(ctx); err != nil && ctx.Err() == nil {
				w.logger.ErrorContext(ctx, "Periodic mirror catch-up failed", log.FieldError, err)
			}
		}
	}
}

func (w *MirrorWorker) processPending(ctx context.Context, limit int) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	docs, err := w.ledger.PendingMirror(ctx, store.Transactions, limit)
	if err != nil {
		return 0, fmt.Errorf("get pending transactions: %w", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	w.logger.InfoContext(ctx, "Processing pending transactions", "count", len(docs))

	mirrored := 0
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return mirrored, err
		}
		if w.mirrorLocked(ctx, doc) == nil {
			mirrored++
		}
	}
	return mirrored, nil
}

// mirrorLocked appends one document and records the outcome. Records that
// cannot be decoded are logged as errors so they stop being retried after
// the attempt limit.
func (w *MirrorWorker) mirrorLocked(ctx context.Context, doc store.Document) error {
	tx, err := feed.DecodeTransaction(doc)
	if err == nil {
		var ref string
		ref, err = w.sheet.AppendTransaction(ctx, tx)
		if err == nil {
			if markErr := w.ledger.MarkMirrored(ctx, store.Transactions, doc.ID); markErr != nil {
				// the row exists; a retry would duplicate it
				w.logger.ErrorContext(ctx, "Failed to mark as mirrored", log.FieldDocumentID, doc.ID, log.FieldError, markErr)
			}
			w.events.LogMirrored(ctx, doc.ID, doc.Owner, ref)
			return nil
		}
		err = fmt.Errorf("append to sheet: %w", err)
	} else {
		err = fmt.Errorf("decode transaction: %w", err)
	}

	w.events.LogError(ctx, "Failed to mirror transaction", err, log.ComponentWorker, "mirror",
		log.NewFields().WithDocument(store.Transactions, doc.ID, doc.Owner))
	if markErr := w.ledger.MarkMirrorError(ctx, store.Transactions, doc.ID, err); markErr != nil {
		w.logger.ErrorContext(ctx, "Failed to mark mirror error", log.FieldDocumentID, doc.ID, log.FieldError, markErr)
	}
	return err
}
