package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chatty/internal/core/domain"
	"chatty/internal/core/ports"
	"chatty/internal/core/services"
	"chatty/internal/infrastructure/middleware"
	"chatty/internal/infrastructure/repositories"
	"chatty/internal/infrastructure/repositories/memory"
	"chatty/pkg/circuitbreaker"
	"chatty/pkg/config"
	"chatty/pkg/distributed"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	router   *gin.Engine
	auth     services.AuthService
	groups   ports.GroupService
	messages ports.MessagingService
}

var lobby = domain.RoomKey{GroupID: "g1", ChannelID: "c1"}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewDocumentStore()
	locker := distributed.NewKeyedMutex()
	logger := zap.NewNop().Sugar()

	groupRepo := repositories.NewGroupRepository(store, nil)
	userRepo := repositories.NewUserRepository(store, nil)
	groups := services.NewGroupService(groupRepo, userRepo, locker, 64, logger)
	messages := services.NewMessagingService(groupRepo, userRepo, locker, 4000)
	auth := services.NewAuthService("test-secret", time.Hour)

	require.NoError(t, userRepo.Save(ctx, &domain.User{Username: "alice", Roles: []domain.Role{domain.RoleGroupAdmin}}))
	require.NoError(t, userRepo.Save(ctx, &domain.User{Username: "mallory", Roles: []domain.Role{domain.RoleMember}}))
	_, err := groups.CreateGroup(ctx, "alice", "g1", "General")
	require.NoError(t, err)
	_, err = groups.CreateChannel(ctx, "alice", "g1", "c1", "lobby")
	require.NoError(t, err)
	for _, text := range []string{"one", "two", "three"} {
		_, err := messages.Send(ctx, lobby, domain.Message{Username: "alice", Text: text})
		require.NoError(t, err)
	}

	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(logger))
	ice := []config.ICEServer{{URLs: []string{"stun:stun.example.com:3478"}}}
	api := router.Group("")
	api.Use(middleware.OptionalAuthMiddleware(auth))
	NewGroupHandler(groups, messages, ice).SetupRoutes(api)
	NewAuthHandler(auth).SetupRoutes(router)

	return &fixture{router: router, auth: auth, groups: groups, messages: messages}
}

func (f *fixture) get(t *testing.T, method, path, token string) (int, map[string]json.RawMessage) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return w.Code, body
}

func (f *fixture) token(t *testing.T, username string) string {
	t.Helper()
	token, err := f.auth.GenerateToken(username)
	require.NoError(t, err)
	return token
}

func decodeField[T any](t *testing.T, body map[string]json.RawMessage, key string) T {
	t.Helper()
	var out T
	require.Contains(t, body, key)
	require.NoError(t, json.Unmarshal(body[key], &out))
	return out
}

func TestGroupHandler_ListGroups(t *testing.T) {
	f := newFixture(t)

	code, body := f.get(t, http.MethodGet, "/api/v1/groups", "")
	require.Equal(t, http.StatusOK, code)

	groups := decodeField[[]domain.Group](t, body, "groups")
	require.Len(t, groups, 1)
	assert.Equal(t, "General", groups[0].Name)
	require.Len(t, groups[0].Channels, 1)
	assert.Empty(t, groups[0].Channels[0].Messages)
}

func TestGroupHandler_GetGroup(t *testing.T) {
	f := newFixture(t)

	code, body := f.get(t, http.MethodGet, "/api/v1/groups/g1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alice", decodeField[domain.Group](t, body, "group").CreatedBy)

	code, body = f.get(t, http.MethodGet, "/api/v1/groups/missing", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", decodeField[string](t, body, "error"))

	code, _ = f.get(t, http.MethodGet, "/api/v1/groups/bad%20id", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestGroupHandler_GetMessages(t *testing.T) {
	f := newFixture(t)

	code, body := f.get(t, http.MethodGet, "/api/v1/groups/g1/channels/c1/messages", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decodeField[[]domain.Message](t, body, "messages"), 3)

	code, body = f.get(t, http.MethodGet, "/api/v1/groups/g1/channels/c1/messages?limit=2", "")
	require.Equal(t, http.StatusOK, code)
	msgs := decodeField[[]domain.Message](t, body, "messages")
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].Text)
	assert.Equal(t, "three", msgs[1].Text)

	code, _ = f.get(t, http.MethodGet, "/api/v1/groups/g1/channels/c1/messages?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.get(t, http.MethodGet, "/api/v1/groups/g1/channels/nope/messages", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestGroupHandler_GetMessagesChecksAccess(t *testing.T) {
	f := newFixture(t)

	code, _ := f.get(t, http.MethodGet, "/api/v1/groups/g1/channels/c1/messages", f.token(t, "alice"))
	assert.Equal(t, http.StatusOK, code)

	code, body := f.get(t, http.MethodGet, "/api/v1/groups/g1/channels/c1/messages", f.token(t, "mallory"))
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", decodeField[string](t, body, "error"))

	require.NoError(t, f.groups.BanMember(context.Background(), "alice", "g1", "mallory"))
	code, _ = f.get(t, http.MethodGet, "/api/v1/groups/g1/channels/c1/messages", f.token(t, "mallory"))
	assert.Equal(t, http.StatusForbidden, code)
}

func TestGroupHandler_WebRTCConfig(t *testing.T) {
	f := newFixture(t)

	code, body := f.get(t, http.MethodGet, "/api/v1/webrtc/config", "")
	require.Equal(t, http.StatusOK, code)
	servers := decodeField[[]config.ICEServer](t, body, "iceServers")
	require.Len(t, servers, 1)
	assert.Equal(t, []string{"stun:stun.example.com:3478"}, servers[0].URLs)
}

func TestAuthHandler(t *testing.T) {
	f := newFixture(t)

	code, _ := f.get(t, http.MethodGet, "/api/v1/auth/me", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	token := f.token(t, "alice")
	code, body := f.get(t, http.MethodGet, "/api/v1/auth/me", token)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alice", decodeField[string](t, body, "username"))

	code, body = f.get(t, http.MethodPost, "/api/v1/auth/refresh", token)
	require.Equal(t, http.StatusOK, code)
	refreshed := decodeField[string](t, body, "access_token")
	claims, err := f.auth.ValidateToken(refreshed)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
}

func TestTranslate(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("load: %w", domain.ErrGroupNotFound), http.StatusNotFound},
		{domain.ErrBanned, http.StatusForbidden},
		{fmt.Errorf("store get: %w", context.DeadlineExceeded), http.StatusServiceUnavailable},
		{circuitbreaker.ErrOpen, http.StatusServiceUnavailable},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, translate(tc.err).HTTPStatus, tc.err.Error())
	}
}
