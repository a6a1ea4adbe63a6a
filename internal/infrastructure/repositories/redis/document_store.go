package redis

import (
	"context"
	"fmt"
	"sort"

	"chatty/internal/core/domain"
	"chatty/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// DocumentStore keeps each document under chatty:{collection}:{id} and tracks the
// ids of a collection in the set chatty:{collection}:index.
type DocumentStore struct {
	client *redis.Client
}

func NewDocumentStore(client *redis.Client) ports.DocumentStore {
	return &DocumentStore{client: client}
}

func docKey(collection, id string) string {
	return keyPrefix + collection + ":" + id
}

func indexKey(collection string) string {
	return keyPrefix + collection + ":index"
}

func (s *DocumentStore) Get(ctx context.Context, collection, id string) ([]byte, error) {
	data, err := s.client.Get(ctx, docKey(collection, id)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s from Redis: %w", collection, id, err)
	}
	return data, nil
}

func (s *DocumentStore) Put(ctx context.Context, collection, id string, doc []byte) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, docKey(collection, id), doc, 0)
	pipe.SAdd(ctx, indexKey(collection), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to put %s/%s in Redis: %w", collection, id, err)
	}
	return nil
}

func (s *DocumentStore) Delete(ctx context.Context, collection, id string) error {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, docKey(collection, id))
	pipe.SRem(ctx, indexKey(collection), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete %s/%s from Redis: %w", collection, id, err)
	}
	if del.Val() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

// List returns the collection's documents ordered by id.
func (s *DocumentStore) List(ctx context.Context, collection string) ([][]byte, error) {
	ids, err := s.client.SMembers(ctx, indexKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s ids: %w", collection, err)
	}
	if len(ids) == 0 {
		return [][]byte{}, nil
	}
	sort.Strings(ids)

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = docKey(collection, id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load %s documents: %w", collection, err)
	}

	out := make([][]byte, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			// index entry without a document; skipped
			continue
		}
		out = append(out, []byte(str))
	}
	return out, nil
}

func (s *DocumentStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *DocumentStore) Close() error {
	return s.client.Close()
}
