package repositories

import (
	"context"
	"time"

	"chatty/internal/core/domain"
	"chatty/internal/core/ports"
	"chatty/pkg/circuitbreaker"

	"go.uber.org/zap"
)

// breakerStore fails fast while the backend keeps erroring, so dispatchers do
// not each wait out the store timeout during an outage.
type breakerStore struct {
	next ports.DocumentStore
	cb   *circuitbreaker.CircuitBreaker
}

// WithCircuitBreaker guards store with a breaker. Missing documents are
// answers, not failures.
func WithCircuitBreaker(store ports.DocumentStore, cfg circuitbreaker.Config, logger *zap.SugaredLogger) ports.DocumentStore {
	cfg.Ignore = append(cfg.Ignore, domain.ErrDocumentNotFound)
	cb := circuitbreaker.New(cfg)
	cb.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("document store circuit changed", "from", from.String(), "to", to.String())
	})
	return &breakerStore{next: store, cb: cb}
}

func (s *breakerStore) Get(ctx context.Context, collection, id string) ([]byte, error) {
	var doc []byte
	err := s.cb.Execute(func() error {
		var err error
		doc, err = s.next.Get(ctx, collection, id)
		return err
	})
	return doc, err
}

func (s *breakerStore) Put(ctx context.Context, collection, id string, doc []byte) error {
	return s.cb.Execute(func() error { return s.next.Put(ctx, collection, id, doc) })
}

func (s *breakerStore) Delete(ctx context.Context, collection, id string) error {
	return s.cb.Execute(func() error { return s.next.Delete(ctx, collection, id) })
}

func (s *breakerStore) List(ctx context.Context, collection string) ([][]byte, error) {
	var docs [][]byte
	err := s.cb.Execute(func() error {
		var err error
		docs, err = s.next.List(ctx, collection)
		return err
	})
	return docs, err
}

func (s *breakerStore) Ping(ctx context.Context) error {
	return s.cb.Execute(func() error { return s.next.Ping(ctx) })
}

func (s *breakerStore) Close() error {
	return s.next.Close()
}

// timeoutStore bounds every round trip that arrives without a deadline.
type timeoutStore struct {
	next    ports.DocumentStore
	timeout time.Duration
}

func WithOpTimeout(store ports.DocumentStore, timeout time.Duration) ports.DocumentStore {
	if timeout <= 0 {
		return store
	}
	return &timeoutStore{next: store, timeout: timeout}
}

func (s *timeoutStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *timeoutStore) Get(ctx context.Context, collection, id string) ([]byte, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.next.Get(ctx, collection, id)
}

func (s *timeoutStore) Put(ctx context.Context, collection, id string, doc []byte) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.next.Put(ctx, collection, id, doc)
}

func (s *timeoutStore) Delete(ctx context.Context, collection, id string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.next.Delete(ctx, collection, id)
}

func (s *timeoutStore) List(ctx context.Context, collection string) ([][]byte, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.next.List(ctx, collection)
}

func (s *timeoutStore) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.next.Ping(ctx)
}

func (s *timeoutStore) Close() error {
	return s.next.Close()
}
