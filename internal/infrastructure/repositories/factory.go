package repositories

import (
	"context"

	"chatty/internal/core/ports"
	"chatty/internal/infrastructure/repositories/memory"
	redisrepo "chatty/internal/infrastructure/repositories/redis"
	"chatty/internal/infrastructure/repositories/sqlite"
	"chatty/pkg/circuitbreaker"
	"chatty/pkg/config"
	"chatty/pkg/distributed"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory selects the document store backend and builds the typed
// repositories and group locker on top of it.
type RepositoryFactory struct {
	driver      string
	store       ports.DocumentStore
	redisClient *redis.Client
	locker      ports.Locker
	observe     Observer
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory opens the configured backend. An unreachable Redis falls
// back to the memory store, as the coordinator can still run single-instance.
func NewRepositoryFactory(cfg *config.Config, observe Observer, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	f := &RepositoryFactory{driver: cfg.Storage.Driver, observe: observe, logger: logger}

	switch cfg.Storage.Driver {
	case "redis":
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory store",
				"error", err,
			)
			f.driver = "memory"
			break
		}
		f.redisClient = client
		f.store = WithCircuitBreaker(redisrepo.NewDocumentStore(client), circuitbreaker.DefaultConfig(), logger)
		f.locker = distributed.NewRedisLocker(client, "chatty:lock:", cfg.Redis.LockTTL, cfg.Redis.LockWait)
	case "sqlite":
		store, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		f.store = store
	}

	if f.store == nil {
		f.driver = "memory"
		f.store = memory.NewDocumentStore()
	}
	if f.locker == nil {
		f.locker = distributed.NewKeyedMutex()
	}
	f.store = WithOpTimeout(f.store, cfg.Storage.OpTimeout)

	logger.Infow("document store ready", "driver", f.driver)
	return f, nil
}

// NewFactoryForStore wraps an existing store, used by tests and tools.
func NewFactoryForStore(store ports.DocumentStore, locker ports.Locker, logger *zap.SugaredLogger) *RepositoryFactory {
	if locker == nil {
		locker = distributed.NewKeyedMutex()
	}
	return &RepositoryFactory{driver: "custom", store: store, locker: locker, logger: logger}
}

func (f *RepositoryFactory) Driver() string { return f.driver }

func (f *RepositoryFactory) Store() ports.DocumentStore { return f.store }

func (f *RepositoryFactory) Locker() ports.Locker { return f.locker }

func (f *RepositoryFactory) CreateGroupRepository() ports.GroupRepository {
	return NewGroupRepository(f.store, f.observe)
}

func (f *RepositoryFactory) CreateUserRepository() ports.UserRepository {
	return NewUserRepository(f.store, f.observe)
}

func (f *RepositoryFactory) CreateReportRepository() ports.ReportRepository {
	return NewReportRepository(f.store, f.observe)
}

// HealthCheck pings the active backend.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	return f.store.Ping(ctx)
}

func (f *RepositoryFactory) Close() error {
	return f.store.Close()
}
