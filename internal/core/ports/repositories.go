package ports

import (
	"context"

	"chatty/internal/core/domain"
)

// DocumentStore is the key-addressed persistence service. Documents are opaque
// JSON blobs grouped by collection; Get returns domain.ErrDocumentNotFound for a
// missing key.
type DocumentStore interface {
	Get(ctx context.Context, collection, id string) ([]byte, error)
	Put(ctx context.Context, collection, id string, doc []byte) error
	Delete(ctx context.Context, collection, id string) error
	List(ctx context.Context, collection string) ([][]byte, error)
	Ping(ctx context.Context) error
	Close() error
}

type GroupRepository interface {
	Get(ctx context.Context, id string) (*domain.Group, error)
	List(ctx context.Context) ([]*domain.Group, error)
	Save(ctx context.Context, group *domain.Group) error
	Delete(ctx context.Context, id string) error
}

type UserRepository interface {
	Get(ctx context.Context, username string) (*domain.User, error)
	List(ctx context.Context) ([]*domain.User, error)
	Save(ctx context.Context, user *domain.User) error
	Delete(ctx context.Context, username string) error
}

type ReportRepository interface {
	Append(ctx context.Context, report *domain.Report) error
	List(ctx context.Context) ([]*domain.Report, error)
}

// Locker serializes work on a key. The returned function releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
