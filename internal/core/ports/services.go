package ports

import (
	"context"

	"chatty/internal/core/domain"
)

type GroupService interface {
	ListGroups(ctx context.Context) ([]*domain.Group, error)
	GetGroup(ctx context.Context, groupID string) (*domain.Group, error)

	CreateGroup(ctx context.Context, actor, groupID, name string) (*domain.Group, error)
	DeleteGroup(ctx context.Context, actor, groupID string) error
	RequestJoin(ctx context.Context, actor, groupID, username string) error
	ApproveJoin(ctx context.Context, actor, groupID, username string) error
	DeclineJoin(ctx context.Context, actor, groupID, username string) error
	JoinGroup(ctx context.Context, actor, groupID, username string) error
	LeaveGroup(ctx context.Context, actor, groupID, username string) error
	RemoveMember(ctx context.Context, actor, groupID, username string) error
	BanMember(ctx context.Context, actor, groupID, username string) error
	UnbanMember(ctx context.Context, actor, groupID, username string) error
	PromoteToAdmin(ctx context.Context, actor, groupID, username string) error

	CreateChannel(ctx context.Context, actor, groupID, channelID, name string) (*domain.Channel, error)
	DeleteChannel(ctx context.Context, actor, groupID, channelID string) error

	// CanEnter reports whether username may join the room's fanout.
	CanEnter(ctx context.Context, room domain.RoomKey, username string) error
	AddPresence(ctx context.Context, room domain.RoomKey, username string) error
	RemovePresence(ctx context.Context, room domain.RoomKey, username string) error
	ClearPresence(ctx context.Context) error
}

type UserService interface {
	GetUser(ctx context.Context, username string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]*domain.User, error)
	EnsureUser(ctx context.Context, user *domain.User) error
	DeleteUser(ctx context.Context, actor, username string) error
	PromoteUser(ctx context.Context, actor, username string, role domain.Role, groupID string) error
}

type MessagingService interface {
	Send(ctx context.Context, room domain.RoomKey, msg domain.Message) (*domain.Message, error)
	History(ctx context.Context, room domain.RoomKey) ([]domain.Message, error)
}

type ReportService interface {
	CreateReport(ctx context.Context, actor string, report domain.Report) (*domain.Report, error)
	VisibleReports(ctx context.Context, username string) ([]*domain.Report, error)
}
