package http

import (
	"net/http"
	"strconv"

	"chatty/internal/core/domain"
	"chatty/internal/core/ports"
	"chatty/internal/infrastructure/middleware"
	"chatty/pkg/config"
	"chatty/pkg/errors"
	"chatty/pkg/validation"

	"github.com/gin-gonic/gin"
)

// GroupHandler serves read-only views of the group store. Mutations only go
// through the WebSocket coordinator so every change is broadcast.
type GroupHandler struct {
	groupService     ports.GroupService
	messagingService ports.MessagingService
	iceServers       []config.ICEServer
}

func NewGroupHandler(
	groupService ports.GroupService,
	messagingService ports.MessagingService,
	iceServers []config.ICEServer,
) *GroupHandler {
	return &GroupHandler{
		groupService:     groupService,
		messagingService: messagingService,
		iceServers:       iceServers,
	}
}

func (h *GroupHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1")
	{
		api.GET("/groups", h.ListGroups)
		api.GET("/groups/:id", h.GetGroup)
		api.GET("/groups/:id/channels/:channelId/messages", h.GetMessages)
		api.GET("/webrtc/config", h.GetWebRTCConfig)
	}
}

func (h *GroupHandler) ListGroups(c *gin.Context) {
	groups, err := h.groupService.ListGroups(c.Request.Context())
	if err != nil {
		c.Error(translate(err))
		return
	}

	summaries := make([]*domain.Group, 0, len(groups))
	for _, g := range groups {
		summaries = append(summaries, g.Summary())
	}
	c.JSON(http.StatusOK, gin.H{
		"groups": summaries,
	})
}

func (h *GroupHandler) GetGroup(c *gin.Context) {
	groupID := c.Param("id")
	if err := validation.ValidateID(groupID, "group ID"); err != nil {
		c.Error(translate(err))
		return
	}

	group, err := h.groupService.GetGroup(c.Request.Context(), groupID)
	if err != nil {
		c.Error(translate(err).WithContext("group_id", groupID))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"group": group.Summary(),
	})
}

// GetMessages returns a channel's log, or its last ?limit= entries. A caller
// identified by token must be allowed into the channel.
func (h *GroupHandler) GetMessages(c *gin.Context) {
	room := domain.RoomKey{GroupID: c.Param("id"), ChannelID: c.Param("channelId")}
	if err := validation.ValidateID(room.GroupID, "group ID"); err != nil {
		c.Error(translate(err))
		return
	}
	if err := validation.ValidateID(room.ChannelID, "channel ID"); err != nil {
		c.Error(translate(err))
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.Error(errors.NewInvalidInputError("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	ctx := c.Request.Context()
	if username := c.GetString(middleware.UsernameKey); username != "" {
		if err := h.groupService.CanEnter(ctx, room, username); err != nil {
			c.Error(translate(err))
			return
		}
	}

	messages, err := h.messagingService.History(ctx, room)
	if err != nil {
		c.Error(translate(err).WithContext("group_id", room.GroupID).WithContext("channel_id", room.ChannelID))
		return
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": messages,
	})
}

func (h *GroupHandler) GetWebRTCConfig(c *gin.Context) {
	servers := h.iceServers
	if servers == nil {
		servers = []config.ICEServer{}
	}
	c.JSON(http.StatusOK, gin.H{
		"iceServers": servers,
	})
}
