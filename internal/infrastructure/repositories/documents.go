package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"chatty/internal/core/domain"
	"chatty/internal/core/ports"
	"chatty/pkg/tracing"
)

const (
	CollectionGroups  = "groups"
	CollectionUsers   = "users"
	CollectionReports = "reports"
)

// Observer receives the outcome of every document store round trip.
type Observer func(collection, op string, took time.Duration, err error)

// docs wraps a DocumentStore with JSON coding and observation for one collection.
type docs[T any] struct {
	store      ports.DocumentStore
	collection string
	observe    Observer
}

// begin opens a store span; the returned func ends it and reports the outcome.
func (d docs[T]) begin(ctx context.Context, op string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := tracing.TraceStoreOperation(ctx, op, d.collection)
	return ctx, func(err error) {
		if err != nil && !errors.Is(err, domain.ErrDocumentNotFound) {
			tracing.RecordError(ctx, err)
		}
		span.End()
		if d.observe != nil {
			d.observe(d.collection, op, time.Since(start), err)
		}
	}
}

func (d docs[T]) get(ctx context.Context, id string) (_ *T, err error) {
	ctx, done := d.begin(ctx, "get")
	defer func() { done(err) }()

	raw, err := d.store.Get(ctx, d.collection, id)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to decode %s/%s: %w", d.collection, id, err)
	}
	return &v, nil
}

func (d docs[T]) put(ctx context.Context, id string, v *T) (err error) {
	ctx, done := d.begin(ctx, "put")
	defer func() { done(err) }()

	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", d.collection, id, err)
	}
	return d.store.Put(ctx, d.collection, id, raw)
}

func (d docs[T]) delete(ctx context.Context, id string) (err error) {
	ctx, done := d.begin(ctx, "delete")
	defer func() { done(err) }()
	return d.store.Delete(ctx, d.collection, id)
}

func (d docs[T]) list(ctx context.Context) (_ []*T, err error) {
	ctx, done := d.begin(ctx, "list")
	defer func() { done(err) }()

	raws, err := d.store.List(ctx, d.collection)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(raws))
	for _, raw := range raws {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("failed to decode %s document: %w", d.collection, err)
		}
		out = append(out, &v)
	}
	return out, nil
}

// notFound maps a missing document onto the domain error for its collection.
func notFound(err, domainErr error) error {
	if errors.Is(err, domain.ErrDocumentNotFound) {
		return domainErr
	}
	return err
}

type GroupRepository struct {
	docs docs[domain.Group]
}

func NewGroupRepository(store ports.DocumentStore, observe Observer) *GroupRepository {
	return &GroupRepository{docs: docs[domain.Group]{store: store, collection: CollectionGroups, observe: observe}}
}

func (r *GroupRepository) Get(ctx context.Context, id string) (*domain.Group, error) {
	g, err := r.docs.get(ctx, id)
	if err != nil {
		return nil, notFound(err, domain.ErrGroupNotFound)
	}
	return g, nil
}

// List returns every group ordered by creation time.
func (r *GroupRepository) List(ctx context.Context) ([]*domain.Group, error) {
	groups, err := r.docs.list(ctx)
	if err != nil {
		return nil, err
	}
	domain.SortGroups(groups)
	return groups, nil
}

func (r *GroupRepository) Save(ctx context.Context, group *domain.Group) error {
	return r.docs.put(ctx, group.ID, group)
}

func (r *GroupRepository) Delete(ctx context.Context, id string) error {
	return notFound(r.docs.delete(ctx, id), domain.ErrGroupNotFound)
}

type UserRepository struct {
	docs docs[domain.User]
}

func NewUserRepository(store ports.DocumentStore, observe Observer) *UserRepository {
	return &UserRepository{docs: docs[domain.User]{store: store, collection: CollectionUsers, observe: observe}}
}

func (r *UserRepository) Get(ctx context.Context, username string) (*domain.User, error) {
	u, err := r.docs.get(ctx, username)
	if err != nil {
		return nil, notFound(err, domain.ErrUserNotFound)
	}
	return u, nil
}

func (r *UserRepository) List(ctx context.Context) ([]*domain.User, error) {
	return r.docs.list(ctx)
}

func (r *UserRepository) Save(ctx context.Context, user *domain.User) error {
	return r.docs.put(ctx, user.Username, user)
}

func (r *UserRepository) Delete(ctx context.Context, username string) error {
	return notFound(r.docs.delete(ctx, username), domain.ErrUserNotFound)
}

type ReportRepository struct {
	docs docs[domain.Report]
}

func NewReportRepository(store ports.DocumentStore, observe Observer) *ReportRepository {
	return &ReportRepository{docs: docs[domain.Report]{store: store, collection: CollectionReports, observe: observe}}
}

func (r *ReportRepository) Append(ctx context.Context, report *domain.Report) error {
	return r.docs.put(ctx, report.ID, report)
}

// List returns reports oldest first.
func (r *ReportRepository) List(ctx context.Context) ([]*domain.Report, error) {
	reports, err := r.docs.list(ctx)
	if err != nil {
		return nil, err
	}
	sortReports(reports)
	return reports, nil
}

func sortReports(reports []*domain.Report) {
	sort.SliceStable(reports, func(i, j int) bool {
		if reports[i].Timestamp == reports[j].Timestamp {
			return reports[i].ID < reports[j].ID
		}
		return reports[i].Timestamp < reports[j].Timestamp
	})
}

var (
	_ ports.GroupRepository  = (*GroupRepository)(nil)
	_ ports.UserRepository   = (*UserRepository)(nil)
	_ ports.ReportRepository = (*ReportRepository)(nil)
)
