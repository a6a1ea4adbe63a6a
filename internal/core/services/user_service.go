package services

import (
	"context"
	"errors"
	"fmt"

	"chatty/internal/core/domain"
	"chatty/internal/core/ports"

	"go.uber.org/zap"
)

type userService struct {
	tx     groupTx
	users  ports.UserRepository
	groups ports.GroupRepository
	logger *zap.SugaredLogger
}

func NewUserService(
	users ports.UserRepository,
	groups ports.GroupRepository,
	locker ports.Locker,
	logger *zap.SugaredLogger,
) ports.UserService {
	return &userService{
		tx:     groupTx{groups: groups, locker: locker},
		users:  users,
		groups: groups,
		logger: logger,
	}
}

func (s *userService) GetUser(ctx context.Context, username string) (*domain.User, error) {
	return s.users.Get(ctx, username)
}

func (s *userService) ListUsers(ctx context.Context) ([]*domain.User, error) {
	return s.users.List(ctx)
}

// EnsureUser creates the user or merges the given roles into the stored record.
func (s *userService) EnsureUser(ctx context.Context, user *domain.User) error {
	stored, err := s.users.Get(ctx, user.Username)
	if errors.Is(err, domain.ErrUserNotFound) {
		return s.users.Save(ctx, user)
	}
	if err != nil {
		return err
	}

	changed := false
	for _, role := range user.Roles {
		if stored.AddRole(role) {
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.users.Save(ctx, stored)
}

// DeleteUser removes every trace of username from all groups, then the record.
func (s *userService) DeleteUser(ctx context.Context, actor, username string) error {
	actingUser, err := resolveUser(ctx, s.users, actor)
	if err != nil {
		return err
	}
	if actor != username && !actingUser.IsSuperAdmin() {
		return domain.ErrUnauthorized
	}

	groups, err := s.groups.List(ctx)
	if err != nil {
		return err
	}
	for _, g := range groups {
		_, err := s.tx.update(ctx, g.ID, func(g *domain.Group) (bool, error) {
			return g.Purge(username), nil
		})
		if err != nil && !errors.Is(err, domain.ErrGroupNotFound) {
			return fmt.Errorf("failed to purge %s from group %s: %w", username, g.ID, err)
		}
	}

	if err := s.users.Delete(ctx, username); err != nil && !errors.Is(err, domain.ErrUserNotFound) {
		return err
	}

	s.logger.Infow("user deleted", "username", username, "performed_by", actor)
	return nil
}

func (s *userService) PromoteUser(ctx context.Context, actor, username string, role domain.Role, groupID string) error {
	actingUser, err := resolveUser(ctx, s.users, actor)
	if err != nil {
		return err
	}

	switch {
	case role == domain.RoleSuperAdmin, role == domain.RoleGroupAdmin && groupID == "":
		if !actingUser.IsSuperAdmin() {
			return domain.ErrUnauthorized
		}
	case role == domain.RoleGroupAdmin:
		_, err := s.tx.update(ctx, groupID, func(g *domain.Group) (bool, error) {
			if !g.CanManage(actingUser) {
				return false, domain.ErrUnauthorized
			}
			if g.IsBanned(username) {
				return false, domain.ErrBanned
			}
			return g.PromoteAdmin(username), nil
		})
		if err != nil {
			return err
		}
	default:
		return domain.ErrInvalidRole
	}

	target, err := resolveUser(ctx, s.users, username)
	if err != nil {
		return err
	}
	if target.AddRole(role) {
		if err := s.users.Save(ctx, target); err != nil {
			return fmt.Errorf("failed to save user %s: %w", username, err)
		}
	}

	s.logger.Infow("user promoted",
		"username", username,
		"role", role,
		"group_id", groupID,
		"performed_by", actor,
	)
	return nil
}
