package worker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"finpulse/internal/amqp"
	"finpulse/internal/core"
	"finpulse/internal/sheets/memory"
	"finpulse/internal/store"
	"finpulse/internal/store/sqlite"
)

func newTestRepo(t *testing.T) *sqlite.Repository {
	t.Helper()
	repo, err := sqlite.NewRepository(filepath.Join(t.TempDir(), "finpulse.db"))
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func createTx(t *testing.T, repo *sqlite.Repository, title string, cents int64) string {
	t.Helper()
	in := core.TransactionInput{Title: title, Amount: core.Money{Cents: cents}, Kind: core.Expense, Category: "Transport", Method: core.Cash}
	id, err := repo.Create(context.Background(), store.Transactions, store.Document{Owner: "alice", Fields: in.Fields()})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return id
}

func createMsg(id string) *amqp.ChangeMessage {
	return amqp.NewChangeMessage(store.Change{Collection: store.Transactions, Owner: "alice", ID: id, Op: store.OpCreate})
}

func TestMirrorWorker_HandleChange(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	sheet := memory.New()
	w := NewMirrorWorker(repo, sheet, 10, nil)

	id := createTx(t, repo, "Train", 1250)
	if err := w.HandleChange(ctx, createMsg(id)); err != nil {
		t.Fatalf("HandleChange() error = %v", err)
	}
	// redelivery does not append twice
	if err := w.HandleChange(ctx, createMsg(id)); err != nil {
		t.Fatal(err)
	}

	rows := sheet.Rows()
	if len(rows) != 1 || rows[0].ID != id || rows[0].Amount.Cents != 1250 || rows[0].Owner != "alice" {
		t.Fatalf("rows = %+v", rows)
	}
	if ok, _ := repo.IsMirrored(ctx, store.Transactions, id); !ok {
		t.Error("transaction should be marked mirrored")
	}
}

func TestMirrorWorker_IgnoresOtherMessages(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	sheet := memory.New()
	w := NewMirrorWorker(repo, sheet, 10, nil)

	id := createTx(t, repo, "Bus", 300)
	tests := []*amqp.ChangeMessage{
		{Collection: store.Transactions, ID: id, Op: store.OpUpdate},
		{Collection: store.Transactions, ID: id, Op: store.OpDelete},
		{Collection: store.Settings, ID: "alice", Op: store.OpSet},
		// deleted before the worker saw it
		{Collection: store.Transactions, ID: "gone", Op: store.OpCreate},
	}
	for _, msg := range tests {
		if err := w.HandleChange(ctx, msg); err != nil {
			t.Errorf("HandleChange(%s %s) error = %v", msg.Collection, msg.Op, err)
		}
	}
	if n := len(sheet.Rows()); n != 0 {
		t.Errorf("appended %d rows", n)
	}
}

func TestMirrorWorker_FailureLeavesRecordPending(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	sheet := memory.New()
	w := NewMirrorWorker(repo, sheet, 10, nil)

	id := createTx(t, repo, "Taxi", 2000)
	sheet.FailWith(errors.New("quota exceeded"))
	if err := w.HandleChange(ctx, createMsg(id)); err != nil {
		t.Fatalf("append failures are not requeued, got %v", err)
	}
	if ok, _ := repo.IsMirrored(ctx, store.Transactions, id); ok {
		t.Fatal("failed append must not be marked mirrored")
	}

	sheet.FailWith(nil)
	n, err := w.ProcessPending(ctx)
	if err != nil || n != 1 {
		t.Fatalf("ProcessPending() = %d, %v", n, err)
	}
	if rows := sheet.Rows(); len(rows) != 1 || rows[0].ID != id {
		t.Errorf("rows = %+v", rows)
	}
}

func TestMirrorWorker_CatchUp(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	sheet := memory.New()
	w := NewMirrorWorker(repo, sheet, 2, nil)

	for i, title := range []string{"a", "b", "c"} {
		createTx(t, repo, title, int64(100*(i+1)))
	}
	// undecodable record: no amount
	if _, err := repo.Create(ctx, store.Transactions, store.Document{Owner: "alice", Fields: map[string]any{"title": "broken"}}); err != nil {
		t.Fatal(err)
	}

	n, err := w.ProcessPending(ctx)
	if err != nil || n != 2 {
		t.Fatalf("first batch = %d, %v", n, err)
	}
	if err := w.StartupCheck(ctx); err != nil {
		t.Fatal(err)
	}
	if rows := sheet.Rows(); len(rows) != 3 || rows[0].Title != "a" || rows[2].Title != "c" {
		t.Fatalf("rows = %+v", rows)
	}

	// the broken record is retried until the attempt limit, then dropped
	for i := 0; i < sqlite.MaxMirrorAttempts; i++ {
		if _, err := w.ProcessPending(ctx); err != nil {
			t.Fatal(err)
		}
	}
	pending, err := repo.PendingMirror(ctx, store.Transactions, 10)
	if err != nil || len(pending) != 0 {
		t.Errorf("pending = %d, %v", len(pending), err)
	}
}

func TestMirrorWorker_Run(t *testing.T) {
	repo := newTestRepo(t)
	sheet := memory.New()
	w := NewMirrorWorker(repo, sheet, 10, nil)
	createTx(t, repo, "Parking", 450)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, 10*time.Millisecond) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(sheet.Rows()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v", err)
	}
	if len(sheet.Rows()) != 1 {
		t.Errorf("rows = %d", len(sheet.Rows()))
	}
}

func TestBindings(t *testing.T) {
	if b := Bindings(); len(b) != 1 || b[0] != "transactions.create" {
		t.Errorf("Bindings() = %v", b)
	}
}
