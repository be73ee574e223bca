// Package backend assembles the document store, the user directory and the
// optional change broker selected by configuration.
package backend

import (
	"context"

	"finpulse/internal/amqp"
	"finpulse/internal/auth"
	"finpulse/internal/store"
	"finpulse/internal/store/sqlite"
)

// CleanupFunc releases resources held by a backend.
type CleanupFunc func() error

// BackendResult is everything the API process needs from storage.
type BackendResult struct {
	Store store.Store
	Users auth.Directory
	// Ready reports whether the store can serve requests.
	Ready func(context.Context) error
	// Repository is set only for the sqlite backend; the mirror worker
	// reads its bookkeeping.
	Repository *sqlite.Repository
	// Broker is nil when AMQP is not configured.
	Broker  *amqp.Client
	Cleanup CleanupFunc
}

// Close runs the cleanup function, if any.
func (r *BackendResult) Close() error {
	if r == nil || r.Cleanup == nil {
		return nil
	}
	return r.Cleanup()
}

// Factory creates backends based on configuration.
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation.
type Config struct {
	Type BackendType

	// sqlite
	SQLiteDBPath string

	// Cross-process change notifications. An empty URL disables them.
	AMQPURL      string
	AMQPExchange string
}

// BackendType represents the type of backend.
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid.
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
