package memory

import (
	"context"
	"sort"
	"sync"

	"chatty/internal/core/domain"
	"chatty/internal/core/ports"
)

// DocumentStore keeps documents in process memory. Values are copied on the way
// in and out so callers never share backing arrays with the store.
type DocumentStore struct {
	collections map[string]map[string][]byte
	mu          sync.RWMutex
}

func NewDocumentStore() ports.DocumentStore {
	return &DocumentStore{
		collections: make(map[string]map[string][]byte),
	}
}

func (s *DocumentStore) Get(ctx context.Context, collection, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, exists := s.collections[collection][id]
	if !exists {
		return nil, domain.ErrDocumentNotFound
	}
	return append([]byte(nil), doc...), nil
}

func (s *DocumentStore) Put(ctx context.Context, collection, id string, doc []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, ok := s.collections[collection]
	if !ok {
		docs = make(map[string][]byte)
		s.collections[collection] = docs
	}
	docs[id] = append([]byte(nil), doc...)
	return nil
}

func (s *DocumentStore) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.collections[collection][id]; !exists {
		return domain.ErrDocumentNotFound
	}
	delete(s.collections[collection], id)
	return nil
}

// List returns the collection's documents ordered by id.
func (s *DocumentStore) List(ctx context.Context, collection string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := s.collections[collection]
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([][]byte, 0, len(ids))
	for _, id := range ids {
		out = append(out, append([]byte(nil), docs[id]...))
	}
	return out, nil
}

func (s *DocumentStore) Ping(ctx context.Context) error { return nil }

func (s *DocumentStore) Close() error { return nil }
