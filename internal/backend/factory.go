package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"finpulse/internal/amqp"
	"finpulse/internal/auth"
	"finpulse/internal/log"
	"finpulse/internal/store"
	"finpulse/internal/store/memory"
	"finpulse/internal/store/sqlite"
)

// DefaultFactory implements the Factory interface.
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory.
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Discard()
	}
	return &DefaultFactory{logger: logger.WithComponent(log.ComponentBackend)}
}

// CreateBackend implements Factory.CreateBackend.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteBackend(ctx, config)
	case MemoryBackend:
		return f.createMemoryBackend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteBackend(ctx context.Context, config Config) (*BackendResult, error) {
	// Broker first so the repository can announce its writes.
	var broker *amqp.Client
	var opts []sqlite.Option
	if config.AMQPURL != "" {
		var err error
		broker, err = amqp.NewClient(config.AMQPURL, config.AMQPExchange)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without change notifications",
				log.FieldError, err)
			broker = nil
		} else {
			opts = append(opts, sqlite.WithPublisher(broker))
			f.logger.Info("Initialized AMQP client", "exchange", config.AMQPExchange)
		}
	}

	repo, err := sqlite.NewRepository(config.SQLiteDBPath, opts...)
	if err != nil {
		if broker != nil {
			broker.Close()
		}
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	cleanup := []func() error{repo.Close}
	if broker != nil {
		stop := f.followChanges(ctx, broker, repo)
		// consumer stops before the connection closes
		cleanup = append([]func() error{func() error { stop(); return broker.Close() }}, cleanup...)
	}

	f.logger.Info("Initialized SQLite backend",
		"db_path", config.SQLiteDBPath,
		"amqp_enabled", broker != nil)

	return &BackendResult{
		Store:      repo,
		Users:      repo.Users(),
		Ready:      repo.Ping,
		Repository: repo,
		Broker:     broker,
		Cleanup:    closeAll(cleanup),
	}, nil
}

// followChanges refreshes local subscriptions when another process writes.
// It reads from an exclusive queue so every API process sees every change.
func (f *DefaultFactory) followChanges(ctx context.Context, broker *amqp.Client, repo *sqlite.Repository) (stop func()) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	sub := amqp.Subscription{BindingKeys: []string{
		store.Transactions + ".*",
		store.Settings + ".*",
	}}
	go func() {
		defer close(done)
		err := broker.ConsumeChanges(ctx, sub, func(_ context.Context, msg *amqp.ChangeMessage) error {
			repo.ApplyChange(msg.Change())
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			f.logger.Error("Change consumer stopped", log.FieldError, err)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (f *DefaultFactory) createMemoryBackend(config Config) (*BackendResult, error) {
	if config.AMQPURL != "" {
		f.logger.Warn("AMQP is ignored by the memory backend")
	}
	st := memory.New()

	f.logger.Info("Initialized memory backend")

	return &BackendResult{
		Store:   st,
		Users:   auth.NewMemoryDirectory(),
		Cleanup: st.Close,
	}, nil
}

// closeAll runs every function once, in order, joining their errors.
func closeAll(fns []func() error) CleanupFunc {
	var once sync.Once
	var err error
	return func() error {
		once.Do(func() {
			errs := make([]error, 0, len(fns))
			for _, fn := range fns {
				errs = append(errs, fn())
			}
			err = errors.Join(errs...)
		})
		return err
	}
}
