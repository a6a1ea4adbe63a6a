package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatty/internal/core/domain"
	"chatty/internal/core/ports"

	"github.com/google/uuid"
)

// groupTx runs read-modify-write cycles on single group documents under the
// group's lock. Writes are never retried; a failed save surfaces to the caller.
type groupTx struct {
	groups ports.GroupRepository
	locker ports.Locker
}

func groupLockKey(groupID string) string { return "group:" + groupID }

// update loads the group, applies fn and saves it when fn reports a change.
func (t groupTx) update(ctx context.Context, groupID string, fn func(g *domain.Group) (bool, error)) (*domain.Group, error) {
	unlock, err := t.locker.Lock(ctx, groupLockKey(groupID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock group %s: %w", groupID, err)
	}
	defer unlock()

	group, err := t.groups.Get(ctx, groupID)
	if err != nil {
		return nil, err
	}

	changed, err := fn(group)
	if err != nil {
		return nil, err
	}
	if !changed {
		return group, nil
	}
	if err := t.groups.Save(ctx, group); err != nil {
		return nil, fmt.Errorf("failed to save group %s: %w", groupID, err)
	}
	return group, nil
}

// resolveUser returns the stored user or, when none exists, an implicit member.
func resolveUser(ctx context.Context, users ports.UserRepository, username string) (*domain.User, error) {
	user, err := users.Get(ctx, username)
	if errors.Is(err, domain.ErrUserNotFound) {
		return domain.Anonymous(username), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", username, err)
	}
	return user, nil
}

type idSource func() string

func newUUID() string { return uuid.New().String() }

type clock func() time.Time
