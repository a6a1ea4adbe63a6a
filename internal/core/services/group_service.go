package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatty/internal/core/domain"
	"chatty/internal/core/ports"
	"chatty/pkg/validation"

	"go.uber.org/zap"
)

type groupService struct {
	tx            groupTx
	groups        ports.GroupRepository
	users         ports.UserRepository
	newID         idSource
	now           clock
	maxNameLength int
	logger        *zap.SugaredLogger
}

func NewGroupService(
	groups ports.GroupRepository,
	users ports.UserRepository,
	locker ports.Locker,
	maxNameLength int,
	logger *zap.SugaredLogger,
) ports.GroupService {
	return &groupService{
		tx:            groupTx{groups: groups, locker: locker},
		groups:        groups,
		users:         users,
		newID:         newUUID,
		now:           time.Now,
		maxNameLength: maxNameLength,
		logger:        logger,
	}
}

func (s *groupService) ListGroups(ctx context.Context) ([]*domain.Group, error) {
	return s.groups.List(ctx)
}

func (s *groupService) GetGroup(ctx context.Context, groupID string) (*domain.Group, error) {
	return s.groups.Get(ctx, groupID)
}

func (s *groupService) CreateGroup(ctx context.Context, actor, groupID, name string) (*domain.Group, error) {
	user, err := resolveUser(ctx, s.users, actor)
	if err != nil {
		return nil, err
	}
	if !user.CanCreateGroups() {
		return nil, domain.ErrUnauthorized
	}
	name = strings.TrimSpace(name)
	if err := validation.ValidateName(name, "group name", s.maxNameLength); err != nil {
		return nil, err
	}

	if groupID == "" || validation.ValidateID(groupID, "group id") != nil || s.exists(ctx, groupID) {
		groupID = s.newID()
	}

	unlock, err := s.tx.locker.Lock(ctx, groupLockKey(groupID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock group %s: %w", groupID, err)
	}
	defer unlock()

	group := domain.NewGroup(groupID, name, actor, s.now().UTC())
	if err := s.groups.Save(ctx, group); err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}

	s.logger.Infow("group created", "group_id", groupID, "created_by", actor)
	return group, nil
}

func (s *groupService) exists(ctx context.Context, groupID string) bool {
	_, err := s.groups.Get(ctx, groupID)
	return err == nil
}

func (s *groupService) DeleteGroup(ctx context.Context, actor, groupID string) error {
	user, err := resolveUser(ctx, s.users, actor)
	if err != nil {
		return err
	}

	unlock, err := s.tx.locker.Lock(ctx, groupLockKey(groupID))
	if err != nil {
		return fmt.Errorf("failed to lock group %s: %w", groupID, err)
	}
	defer unlock()

	group, err := s.groups.Get(ctx, groupID)
	if err != nil {
		return err
	}
	if !group.CanManage(user) {
		return domain.ErrUnauthorized
	}
	if err := s.groups.Delete(ctx, groupID); err != nil {
		return fmt.Errorf("failed to delete group %s: %w", groupID, err)
	}

	s.logger.Infow("group deleted", "group_id", groupID, "performed_by", actor)
	return nil
}

// selfOrManager allows an operation when actor acts on themself or manages the group.
func selfOrManager(g *domain.Group, user *domain.User, username string) error {
	if user.Username == username || g.CanManage(user) {
		return nil
	}
	return domain.ErrUnauthorized
}

func manager(g *domain.Group, user *domain.User) error {
	if g.CanManage(user) {
		return nil
	}
	return domain.ErrUnauthorized
}

// membership runs a membership mutation on behalf of actor.
func (s *groupService) membership(ctx context.Context, actor, groupID string, fn func(g *domain.Group, user *domain.User) (bool, error)) error {
	user, err := resolveUser(ctx, s.users, actor)
	if err != nil {
		return err
	}
	_, err = s.tx.update(ctx, groupID, func(g *domain.Group) (bool, error) {
		return fn(g, user)
	})
	return err
}

func (s *groupService) RequestJoin(ctx context.Context, actor, groupID, username string) error {
	return s.membership(ctx, actor, groupID, func(g *domain.Group, user *domain.User) (bool, error) {
		if err := selfOrManager(g, user, username); err != nil {
			return false, err
		}
		if g.IsBanned(username) {
			return false, domain.ErrBanned
		}
		return g.AddJoinRequest(username), nil
	})
}

func (s *groupService) ApproveJoin(ctx context.Context, actor, groupID, username string) error {
	return s.membership(ctx, actor, groupID, func(g *domain.Group, user *domain.User) (bool, error) {
		if err := manager(g, user); err != nil {
			return false, err
		}
		if !g.HasRequest(username) {
			return false, domain.ErrUserNotFound
		}
		return g.AddMember(username), nil
	})
}

func (s *groupService) DeclineJoin(ctx context.Context, actor, groupID, username string) error {
	return s.membership(ctx, actor, groupID, func(g *domain.Group, user *domain.User) (bool, error) {
		if err := manager(g, user); err != nil {
			return false, err
		}
		if !g.HasRequest(username) {
			return false, domain.ErrUserNotFound
		}
		return g.DropJoinRequest(username), nil
	})
}

func (s *groupService) JoinGroup(ctx context.Context, actor, groupID, username string) error {
	return s.membership(ctx, actor, groupID, func(g *domain.Group, user *domain.User) (bool, error) {
		if err := selfOrManager(g, user, username); err != nil {
			return false, err
		}
		if g.IsBanned(username) {
			return false, domain.ErrBanned
		}
		return g.AddMember(username), nil
	})
}

func (s *groupService) LeaveGroup(ctx context.Context, actor, groupID, username string) error {
	return s.membership(ctx, actor, groupID, func(g *domain.Group, user *domain.User) (bool, error) {
		if err := selfOrManager(g, user, username); err != nil {
			return false, err
		}
		return g.RemoveUser(username), nil
	})
}

// protectCreator refuses removal of the group creator by anyone but a super admin.
func protectCreator(g *domain.Group, user *domain.User, username string) error {
	if username == g.CreatedBy && !user.IsSuperAdmin() {
		return domain.ErrUnauthorized
	}
	return nil
}

func (s *groupService) RemoveMember(ctx context.Context, actor, groupID, username string) error {
	return s.membership(ctx, actor, groupID, func(g *domain.Group, user *domain.User) (bool, error) {
		if err := manager(g, user); err != nil {
			return false, err
		}
		if err := protectCreator(g, user, username); err != nil {
			return false, err
		}
		return g.RemoveUser(username), nil
	})
}

func (s *groupService) BanMember(ctx context.Context, actor, groupID, username string) error {
	return s.membership(ctx, actor, groupID, func(g *domain.Group, user *domain.User) (bool, error) {
		if err := manager(g, user); err != nil {
			return false, err
		}
		if err := protectCreator(g, user, username); err != nil {
			return false, err
		}
		return g.Ban(username), nil
	})
}

func (s *groupService) UnbanMember(ctx context.Context, actor, groupID, username string) error {
	return s.membership(ctx, actor, groupID, func(g *domain.Group, user *domain.User) (bool, error) {
		if err := manager(g, user); err != nil {
			return false, err
		}
		return g.Unban(username), nil
	})
}

func (s *groupService) PromoteToAdmin(ctx context.Context, actor, groupID, username string) error {
	return s.membership(ctx, actor, groupID, func(g *domain.Group, user *domain.User) (bool, error) {
		if err := manager(g, user); err != nil {
			return false, err
		}
		if !g.IsMember(username) {
			return false, domain.ErrUserNotFound
		}
		return g.PromoteAdmin(username), nil
	})
}

func (s *groupService) CreateChannel(ctx context.Context, actor, groupID, channelID, name string) (*domain.Channel, error) {
	name = strings.TrimSpace(name)
	if err := validation.ValidateName(name, "channel name", s.maxNameLength); err != nil {
		return nil, err
	}

	var created *domain.Channel
	err := s.membership(ctx, actor, groupID, func(g *domain.Group, user *domain.User) (bool, error) {
		if err := manager(g, user); err != nil {
			return false, err
		}
		id := channelID
		if id == "" || validation.ValidateID(id, "channel id") != nil || g.Channel(id) != nil {
			id = s.newID()
		}
		created = domain.NewChannel(id, name)
		return g.AddChannel(created), nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *groupService) DeleteChannel(ctx context.Context, actor, groupID, channelID string) error {
	return s.membership(ctx, actor, groupID, func(g *domain.Group, user *domain.User) (bool, error) {
		if err := manager(g, user); err != nil {
			return false, err
		}
		if !g.RemoveChannel(channelID) {
			return false, domain.ErrChannelNotFound
		}
		return true, nil
	})
}

func (s *groupService) CanEnter(ctx context.Context, room domain.RoomKey, username string) error {
	group, err := s.groups.Get(ctx, room.GroupID)
	if err != nil {
		return err
	}
	if group.Channel(room.ChannelID) == nil {
		return domain.ErrChannelNotFound
	}
	return canSpeak(ctx, s.users, group, username)
}

// canSpeak checks that username may take part in the group's channels.
func canSpeak(ctx context.Context, users ports.UserRepository, group *domain.Group, username string) error {
	if group.IsBanned(username) {
		return domain.ErrBanned
	}
	if group.IsMember(username) {
		return nil
	}
	user, err := resolveUser(ctx, users, username)
	if err != nil {
		return err
	}
	if user.IsSuperAdmin() {
		return nil
	}
	return domain.ErrUnauthorized
}

// AddPresence re-checks access under the group lock.
func (s *groupService) AddPresence(ctx context.Context, room domain.RoomKey, username string) error {
	_, err := s.tx.update(ctx, room.GroupID, func(g *domain.Group) (bool, error) {
		ch := g.Channel(room.ChannelID)
		if ch == nil {
			return false, domain.ErrChannelNotFound
		}
		if err := canSpeak(ctx, s.users, g, username); err != nil {
			return false, err
		}
		return ch.AddUser(username), nil
	})
	return err
}

func (s *groupService) RemovePresence(ctx context.Context, room domain.RoomKey, username string) error {
	_, err := s.tx.update(ctx, room.GroupID, func(g *domain.Group) (bool, error) {
		ch := g.Channel(room.ChannelID)
		if ch == nil {
			return false, domain.ErrChannelNotFound
		}
		return ch.RemoveUser(username), nil
	})
	return err
}

// ClearPresence empties every channel's presence set; used once at startup.
func (s *groupService) ClearPresence(ctx context.Context) error {
	groups, err := s.groups.List(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, g := range groups {
		_, err := s.tx.update(ctx, g.ID, func(g *domain.Group) (bool, error) {
			return g.ClearPresence(), nil
		})
		if err != nil && !errors.Is(err, domain.ErrGroupNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
