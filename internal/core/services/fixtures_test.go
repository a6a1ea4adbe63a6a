package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"chatty/internal/core/domain"
	"chatty/internal/infrastructure/repositories"
	"chatty/internal/infrastructure/repositories/memory"
	"chatty/pkg/distributed"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	groups   *repositories.GroupRepository
	users    *repositories.UserRepository
	reports  *repositories.ReportRepository
	groupSvc *groupService
	userSvc  *userService
	msgSvc   *messagingService
	repSvc   *reportService
}

func sequentialIDs(prefix string) idSource {
	var n int64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, atomic.AddInt64(&n, 1))
	}
}

func fixedClock() clock {
	var tick int64
	base := time.Unix(1700000000, 0)
	return func() time.Time {
		return base.Add(time.Duration(atomic.AddInt64(&tick, 1)) * time.Second)
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewDocumentStore()
	locker := distributed.NewKeyedMutex()
	logger := zap.NewNop().Sugar()

	f := &fixture{
		groups:  repositories.NewGroupRepository(store, nil),
		users:   repositories.NewUserRepository(store, nil),
		reports: repositories.NewReportRepository(store, nil),
	}
	f.groupSvc = NewGroupService(f.groups, f.users, locker, 64, logger).(*groupService)
	f.groupSvc.newID = sequentialIDs("id")
	f.groupSvc.now = fixedClock()
	f.userSvc = NewUserService(f.users, f.groups, locker, logger).(*userService)
	f.msgSvc = NewMessagingService(f.groups, f.users, locker, 50).(*messagingService)
	f.msgSvc.newID = sequentialIDs("msg")
	f.msgSvc.now = fixedClock()
	f.repSvc = NewReportService(f.reports, f.groups, f.users, 200).(*reportService)
	f.repSvc.newID = sequentialIDs("rep")
	f.repSvc.now = fixedClock()
	return f
}

func (f *fixture) user(t *testing.T, name string, roles ...domain.Role) {
	t.Helper()
	if len(roles) == 0 {
		roles = []domain.Role{domain.RoleMember}
	}
	require.NoError(t, f.users.Save(context.Background(), &domain.User{Username: name, Roles: roles}))
}

// newGroupWithChannel creates group g1 owned by owner with channel c1.
func (f *fixture) newGroupWithChannel(t *testing.T, owner string) domain.RoomKey {
	t.Helper()
	ctx := context.Background()
	g, err := f.groupSvc.CreateGroup(ctx, owner, "g1", "Group One")
	require.NoError(t, err)
	ch, err := f.groupSvc.CreateChannel(ctx, owner, g.ID, "c1", "general")
	require.NoError(t, err)
	return domain.RoomKey{GroupID: g.ID, ChannelID: ch.ID}
}

func (f *fixture) group(t *testing.T, id string) *domain.Group {
	t.Helper()
	g, err := f.groups.Get(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, g.CheckInvariants())
	return g
}
