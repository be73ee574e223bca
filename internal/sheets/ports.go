// Package sheets defines the spreadsheet export ports used by the ledger
// mirror.
package sheets

import (
	"context"
	"time"

	"finpulse/internal/core"
)

// Header is the first row of every yearly transactions sheet.
var Header = []any{"Date", "Title", "Type", "Category", "Method", "Amount", "ID", "Owner"}

// Ports for outbound adapters.
type (
	// TransactionAppender writes one transaction as a new spreadsheet row.
	TransactionAppender interface {
		AppendTransaction(ctx context.Context, tx core.Transaction) (rowRef string, err error)
	}
)

// Row renders a transaction in Header order. Dates are written in loc; a
// record without a timestamp gets an empty date cell.
func Row(tx core.Transaction, loc *time.Location) []any {
	date := ""
	if tx.CreatedAt != nil {
		if loc == nil {
			loc = time.UTC
		}
		date = tx.CreatedAt.In(loc).Format(time.DateOnly)
	}
	return []any{
		date,
		tx.Title,
		string(tx.Kind),
		string(tx.Category),
		string(tx.Method),
		tx.Amount.Major(),
		tx.ID,
		tx.Owner,
	}
}
