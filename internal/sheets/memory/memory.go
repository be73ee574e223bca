// Package memory is an in-process TransactionAppender for tests and local
// runs without spreadsheet credentials.
package memory

import (
	"context"
	"fmt"
	"sync"

	"finpulse/internal/core"
	"finpulse/internal/sheets"
)

var _ sheets.TransactionAppender = (*Sheet)(nil)

type Sheet struct {
	mu   sync.Mutex
	rows []core.Transaction
	fail error
}

func New() *Sheet {
	return &Sheet{}
}

// AppendTransaction stores the transaction and returns a synthetic row
// reference.
func (s *Sheet) AppendTransaction(ctx context.Context, tx core.Transaction) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return "", s.fail
	}
	s.rows = append(s.rows, tx)
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

// FailWith makes subsequent appends return err. Nil clears it.
func (s *Sheet) FailWith(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

// Rows returns a copy of everything appended so far.
func (s *Sheet) Rows() []core.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Transaction(nil), s.rows...)
}
