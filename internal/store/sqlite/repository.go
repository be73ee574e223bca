// Package sqlite is the durable document store. Documents live in a single
// table keyed by (collection, id) with their fields encoded as JSON.
// Subscriptions are served from an in-process hub that re-queries after
// local writes and after changes announced by other processes.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"finpulse/internal/store"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite"
)

const queryTimeout = 5 * time.Second

type Repository struct {
	db        *sql.DB
	hub       *store.Hub
	group     singleflight.Group
	now       func() time.Time
	newID     func() string
	publisher store.ChangePublisher
	origin    string
}

type Option func(*Repository)

// WithPublisher announces every committed write through p.
func WithPublisher(p store.ChangePublisher) Option {
	return func(r *Repository) { r.publisher = p }
}

func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

func NewRepository(dbPath string, opts ...Option) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single writer connection avoids SQLITE_BUSY between pool members.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	r := &Repository{
		db:     db,
		now:    time.Now,
		newID:  func() string { return ulid.Make().String() },
		origin: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.hub = store.NewHub(r.query)
	return r, nil
}

// Origin identifies this process in published changes.
func (r *Repository) Origin() string {
	return r.origin
}

// Ping checks the database connection, for readiness probes.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	r.hub.Close()
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *Repository) Subscribe(q store.Query, onSnapshot store.SnapshotFunc, onError store.ErrorFunc) func() {
	return r.hub.Subscribe(q, onSnapshot, onError)
}

// ApplyChange refreshes subscriptions affected by a write made elsewhere.
// Changes this process published itself are ignored.
func (r *Repository) ApplyChange(c store.Change) {
	if c.Origin != "" && c.Origin == r.origin {
		return
	}
	r.group.Forget(queryKey(c.Collection, c.Owner))
	r.hub.Notify(c.Collection, c.Owner)
}

func (r *Repository) Get(ctx context.Context, collection, id string) (store.Document, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, owner, created_at, fields FROM documents WHERE collection = ? AND id = ?`,
		collection, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, fmt.Errorf("get %s/%s: %w", collection, id, store.ErrNotFound)
	}
	if err != nil {
		return store.Document{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

func (r *Repository) Create(ctx context.Context, collection string, doc store.Document) (string, error) {
	if doc.Owner == "" {
		return "", store.ErrMissingOwner
	}
	fields, err := encodeFields(doc.Fields)
	if err != nil {
		return "", err
	}
	id := r.newID()
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, owner, created_at, fields) VALUES (?, ?, ?, ?, ?)`,
		collection, id, doc.Owner, r.now().UnixMicro(), fields)
	if err != nil {
		return "", fmt.Errorf("insert document: %w", err)
	}

	slog.DebugContext(ctx, "Document created", "collection", collection, "id", id, "owner", doc.Owner)
	r.committed(ctx, store.Change{Collection: collection, Owner: doc.Owner, ID: id, Op: store.OpCreate})
	return id, nil
}

func (r *Repository) Set(ctx context.Context, collection string, doc store.Document) error {
	if doc.Owner == "" {
		return store.ErrMissingOwner
	}
	if doc.ID == "" {
		return fmt.Errorf("set %s: empty id", collection)
	}
	fields, err := encodeFields(doc.Fields)
	if err != nil {
		return err
	}

	var prevOwner string
	err = r.tx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT owner FROM documents WHERE collection = ? AND id = ?`, collection, doc.ID).Scan(&prevOwner)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (collection, id, owner, created_at, fields) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (collection, id) DO UPDATE SET owner = excluded.owner, fields = excluded.fields`,
			collection, doc.ID, doc.Owner, r.now().UnixMicro(), fields)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}

	r.committed(ctx, store.Change{Collection: collection, Owner: doc.Owner, ID: doc.ID, Op: store.OpSet})
	if prevOwner != "" && prevOwner != doc.Owner {
		r.group.Forget(queryKey(collection, prevOwner))
		r.hub.Notify(collection, prevOwner)
	}
	return nil
}

func (r *Repository) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	var owner string
	err := r.tx(ctx, func(tx *sql.Tx) error {
		var raw string
		err := tx.QueryRowContext(ctx,
			`SELECT owner, fields FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&owner, &raw)
		if err != nil {
			return err
		}
		current, err := decodeFields(raw)
		if err != nil {
			return err
		}
		for k, v := range fields {
			current[k] = v
		}
		encoded, err := encodeFields(current)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE documents SET fields = ? WHERE collection = ? AND id = ?`, encoded, collection, id)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update %s/%s: %w", collection, id, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}

	r.committed(ctx, store.Change{Collection: collection, Owner: owner, ID: id, Op: store.OpUpdate})
	return nil
}

func (r *Repository) Delete(ctx context.Context, collection, id string) error {
	var owner string
	err := r.db.QueryRowContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ? RETURNING owner`, collection, id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("delete %s/%s: %w", collection, id, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}

	r.committed(ctx, store.Change{Collection: collection, Owner: owner, ID: id, Op: store.OpDelete})
	return nil
}

// committed refreshes local subscribers and announces the change. A failed
// announcement does not undo the write; remote views catch up on their next
// change.
func (r *Repository) committed(ctx context.Context, c store.Change) {
	// a fetch already in flight may predate the write
	r.group.Forget(queryKey(c.Collection, c.Owner))
	r.hub.Notify(c.Collection, c.Owner)
	if r.publisher == nil {
		return
	}
	c.At = r.now()
	c.Origin = r.origin
	if err := r.publisher.PublishChange(ctx, c); err != nil {
		slog.WarnContext(ctx, "Failed to publish change",
			"collection", c.Collection, "id", c.ID, "op", c.Op, "error", err)
	}
}

// query serves the hub. Concurrent fetches of the same query share one
// round trip.
func (r *Repository) query(ctx context.Context, q store.Query) ([]store.Document, error) {
	v, err, _ := r.group.Do(queryKey(q.Collection, q.Owner), func() (any, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), queryTimeout)
		defer cancel()
		return r.list(qctx, q)
	})
	if err != nil {
		return nil, err
	}
	return v.([]store.Document), nil
}

func queryKey(collection, owner string) string {
	return collection + "\x00" + owner
}

func (r *Repository) list(ctx context.Context, q store.Query) ([]store.Document, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner, created_at, fields FROM documents
		WHERE collection = ? AND owner = ?
		ORDER BY created_at IS NULL, created_at DESC, id DESC`,
		q.Collection, q.Owner)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	docs := make([]store.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.Collection, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", q.Collection, err)
	}
	return docs, nil
}

func (r *Repository) tx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(s scanner) (store.Document, error) {
	var (
		doc     store.Document
		created sql.NullInt64
		raw     string
	)
	if err := s.Scan(&doc.ID, &doc.Owner, &created, &raw); err != nil {
		return store.Document{}, err
	}
	if created.Valid {
		ts := time.UnixMicro(created.Int64).UTC()
		doc.CreatedAt = &ts
	}
	fields, err := decodeFields(raw)
	if err != nil {
		return store.Document{}, err
	}
	doc.Fields = fields
	return doc, nil
}

func encodeFields(fields map[string]any) (string, error) {
	if fields == nil {
		return "{}", nil
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}
	return string(b), nil
}

func decodeFields(raw string) (map[string]any, error) {
	fields := make(map[string]any)
	if raw == "" {
		return fields, nil
	}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return fields, nil
}
