package sqlite

import (
	"context"
	"fmt"
	"log/slog"

	"finpulse/internal/store"
)

// MaxMirrorAttempts is how often a document is retried before the mirror
// gives up on it.
const MaxMirrorAttempts = 5

// PendingMirror returns documents of collection that have not been
// mirrored yet, oldest first.
func (r *Repository) PendingMirror(ctx context.Context, collection string, limit int) ([]store.Document, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT d.id, d.owner, d.created_at, d.fields
		FROM documents d
		LEFT JOIN mirror_log m ON m.collection = d.collection AND m.id = d.id
		WHERE d.collection = ? AND m.mirrored_at IS NULL AND COALESCE(m.attempts, 0) < ?
		ORDER BY d.created_at IS NULL, d.created_at, d.id
		LIMIT ?`,
		collection, MaxMirrorAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending mirror documents: %w", err)
	}
	defer rows.Close()

	var docs []store.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending mirror document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// MarkMirrored records a successful export.
func (r *Repository) MarkMirrored(ctx context.Context, collection, id string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mirror_log (collection, id, mirrored_at, attempts) VALUES (?, ?, ?, 1)
		ON CONFLICT (collection, id) DO UPDATE SET
			mirrored_at = excluded.mirrored_at, attempts = attempts + 1, last_error = ''`,
		collection, id, r.now().UnixMicro())
	if err != nil {
		return fmt.Errorf("mark document mirrored: %w", err)
	}

	slog.DebugContext(ctx, "Document marked as mirrored", "collection", collection, "id", id)
	return nil
}

// MarkMirrorError records a failed export attempt.
func (r *Repository) MarkMirrorError(ctx context.Context, collection, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mirror_log (collection, id, attempts, last_error) VALUES (?, ?, 1, ?)
		ON CONFLICT (collection, id) DO UPDATE SET attempts = attempts + 1, last_error = excluded.last_error`,
		collection, id, msg)
	if err != nil {
		return fmt.Errorf("mark mirror error: %w", err)
	}

	slog.WarnContext(ctx, "Document marked with mirror error", "collection", collection, "id", id, "error", msg)
	return nil
}

// IsMirrored reports whether a document was already exported.
func (r *Repository) IsMirrored(ctx context.Context, collection, id string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mirror_log WHERE collection = ? AND id = ? AND mirrored_at IS NOT NULL`,
		collection, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check mirrored: %w", err)
	}
	return n > 0, nil
}
