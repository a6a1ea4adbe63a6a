package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chatty/internal/core/domain"
	"chatty/internal/core/ports"
	"chatty/internal/core/services"
	"chatty/pkg/distributed"
	"chatty/pkg/tracing"
	"chatty/pkg/validation"

	"go.uber.org/zap"
)

type handlerFunc func(ctx context.Context, c *Client, data json.RawMessage) error

type Dependencies struct {
	Groups   ports.GroupService
	Users    ports.UserService
	Messages ports.MessagingService
	Reports  ports.ReportService
	Relay    *services.BroadcastRelay
}

// Coordinator owns the transient room state of one process and dispatches
// client events against the store services.
type Coordinator struct {
	hub      *Hub
	groups   ports.GroupService
	users    ports.UserService
	messages ports.MessagingService
	reports  ports.ReportService
	relay    *services.BroadcastRelay
	rooms    *distributed.KeyedMutex
	metrics  Metrics

	// trustPayload lets an unbound connection act as the user its payload names.
	trustPayload bool

	handlers map[string]handlerFunc
	now      func() time.Time
	logger   *zap.SugaredLogger
}

func NewCoordinator(hub *Hub, deps Dependencies, metrics Metrics, authEnabled bool, logger *zap.SugaredLogger) *Coordinator {
	co := &Coordinator{
		hub:          hub,
		groups:       deps.Groups,
		users:        deps.Users,
		messages:     deps.Messages,
		reports:      deps.Reports,
		relay:        deps.Relay,
		rooms:        distributed.NewKeyedMutex(),
		metrics:      metrics,
		trustPayload: !authEnabled,
		now:          time.Now,
		logger:       logger,
	}
	co.handlers = map[string]handlerFunc{
		EventUserRegister: co.handleRegister,

		EventGroupsGetAll: co.handleGroupsGetAll,
		EventGroupsCreate: co.handleGroupsCreate,
		EventGroupsDelete: co.handleGroupsDelete,
		EventGroupsJoin: co.groupOp(groupOp{
			run: deps.Groups.JoinGroup, self: true, reportBan: true,
		}),
		EventGroupsLeave: co.groupOp(groupOp{
			run: deps.Groups.LeaveGroup, self: true, evict: true,
		}),
		EventGroupsPromote: co.groupOp(groupOp{run: deps.Groups.PromoteToAdmin}),
		EventGroupsRemove:  co.groupOp(groupOp{run: deps.Groups.RemoveMember, evict: true}),
		EventGroupsBan:     co.groupOp(groupOp{run: deps.Groups.BanMember, evict: true}),
		EventGroupsUnban:   co.groupOp(groupOp{run: deps.Groups.UnbanMember}),
		EventGroupsRequestJoin: co.groupOp(groupOp{
			run: deps.Groups.RequestJoin, self: true, reportBan: true,
		}),
		EventGroupsApproveJoin: co.groupOp(groupOp{run: deps.Groups.ApproveJoin}),
		EventGroupsDeclineJoin: co.groupOp(groupOp{run: deps.Groups.DeclineJoin}),

		EventChannelsCreate:      co.handleChannelsCreate,
		EventChannelsDelete:      co.handleChannelsDelete,
		EventChannelsJoin:        co.handleChannelsJoin,
		EventChannelsLeave:       co.handleChannelsLeave,
		EventChannelsMessage:     co.handleChannelsMessage,
		EventChannelsGetMessages: co.handleChannelsGetMessages,

		EventVideoBroadcast:  co.handleVideoBroadcast,
		EventVideoStop:       co.handleVideoStop,
		EventScreenBroadcast: co.handleScreenBroadcast,
		EventScreenStop:      co.handleScreenStop,

		EventUsersGetAll:  co.handleUsersGetAll,
		EventUsersDelete:  co.handleUsersDelete,
		EventUsersPromote: co.handleUsersPromote,

		EventReportsCreate: co.handleReportsCreate,
		EventReportsGetAll: co.handleReportsGetAll,

		EventSignalOffer:     co.relaySignal(EventSignalOffer),
		EventSignalAnswer:    co.relaySignal(EventSignalAnswer),
		EventSignalCandidate: co.relaySignal(EventSignalCandidate),
	}
	return co
}

func (co *Coordinator) Hub() *Hub { return co.hub }

func (co *Coordinator) Connect(c *Client) {
	co.hub.Register(c)
	co.metrics.RecordConnectionOpened()
	co.logger.Infow("client connected", "conn_id", c.ID(), "username", c.Username())
}

// Disconnect releases everything the connection held. Stop events for its
// broadcasts go out before the disconnected notice.
func (co *Coordinator) Disconnect(ctx context.Context, c *Client) {
	left := co.leaveRoom(ctx, c, SystemDisconnected)
	co.stopSessions(co.relay.DropConnection(c.ID()), c.ID())
	co.hub.Unregister(c)
	co.metrics.RecordConnectionClosed()
	if left {
		co.broadcastGroups(ctx)
	}
	co.logger.Infow("client disconnected", "conn_id", c.ID(), "username", c.Username())
}

// Dispatch runs one client event to completion. Only malformed envelopes are
// reported back to the client; the returned error is for the caller's logs.
func (co *Coordinator) Dispatch(ctx context.Context, c *Client, env Envelope) (err error) {
	handler, ok := co.handlers[env.Event]
	if !ok {
		return co.classify(ctx, c, env.Event, fmt.Errorf("%w: unknown event %q", ErrMalformedPayload, env.Event))
	}
	co.metrics.RecordEvent(env.Event)

	ctx, span := tracing.TraceEvent(ctx, env.Event, string(c.ID()), c.Username())
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			co.logger.Errorw("panic while dispatching event",
				"event", env.Event,
				"conn_id", c.ID(),
				"panic", r,
			)
			err = nil
		}
	}()

	return co.classify(ctx, c, env.Event, handler(ctx, c, env.Data))
}

func (co *Coordinator) classify(ctx context.Context, c *Client, event string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrMalformedPayload):
		co.logger.Debugw("malformed event", "event", event, "conn_id", c.ID(), "error", err)
		co.hub.SendTo(c, EventError, ErrorEvent{Message: err.Error()})
		return err
	case expected(err):
		co.logger.Debugw("event ignored",
			"event", event,
			"conn_id", c.ID(),
			"username", c.Username(),
			"reason", err,
		)
		return nil
	default:
		tracing.RecordError(ctx, err)
		co.logger.Errorw("event failed",
			"event", event,
			"conn_id", c.ID(),
			"username", c.Username(),
			"error", err,
		)
		return nil
	}
}

// expected reports whether err is a domain outcome rather than a store failure.
func expected(err error) bool {
	for _, target := range []error{
		domain.ErrUnauthorized,
		domain.ErrBanned,
		domain.ErrGroupNotFound,
		domain.ErrChannelNotFound,
		domain.ErrUserNotFound,
		domain.ErrPeerNotFound,
		domain.ErrEmptyMessage,
		domain.ErrNotInRoom,
		domain.ErrScreenShareBlocked,
		domain.ErrPeerTaken,
		domain.ErrAlreadyExists,
		domain.ErrInvalidRole,
		validation.ErrInvalid,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrGroupNotFound) || errors.Is(err, domain.ErrChannelNotFound)
}

// actor resolves who performs an event: the bound identity, or the claimed
// name when payload identities are trusted.
func (co *Coordinator) actor(c *Client, claimed string) (string, error) {
	if name := c.Username(); name != "" {
		return name, nil
	}
	if co.trustPayload && claimed != "" {
		return claimed, nil
	}
	return "", fmt.Errorf("connection %s has no identity: %w", c.ID(), domain.ErrUnauthorized)
}

func (co *Coordinator) lockRoom(ctx context.Context, room domain.RoomKey) (func(), error) {
	return co.rooms.Lock(ctx, "room:"+room.String())
}

func (co *Coordinator) groupsSnapshot(ctx context.Context) ([]*domain.Group, error) {
	groups, err := co.groups.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Group, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.Summary())
	}
	return out, nil
}

func (co *Coordinator) broadcastGroups(ctx context.Context) {
	snapshot, err := co.groupsSnapshot(ctx)
	if err != nil {
		co.logger.Errorw("failed to load groups snapshot", "error", err)
		return
	}
	co.hub.BroadcastAll(EventGroupsUpdate, snapshot)
}

func (co *Coordinator) usersSnapshot(ctx context.Context) ([]*domain.User, error) {
	users, err := co.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []*domain.User{}
	}
	return users, nil
}

func (co *Coordinator) broadcastUsers(ctx context.Context) {
	users, err := co.usersSnapshot(ctx)
	if err != nil {
		co.logger.Errorw("failed to load users snapshot", "error", err)
		return
	}
	co.hub.BroadcastAll(EventUsersUpdate, users)
}

func (co *Coordinator) notice(kind, username string) SystemNotice {
	var text string
	switch kind {
	case SystemJoined:
		text = username + " joined the channel"
	case SystemLeft:
		text = username + " left the channel"
	default:
		text = username + " disconnected"
	}
	return SystemNotice{Type: kind, Username: username, Text: text, Timestamp: co.now().UnixMilli()}
}

func (co *Coordinator) stopSessions(dropped []domain.BroadcastSession, except domain.ConnID) {
	for _, s := range dropped {
		event := EventVideoStop
		if s.Kind == domain.MediaScreen {
			event = EventScreenStop
		}
		co.hub.BroadcastToRoom(s.Room, event, stopEvent(s), except)
	}
}

// joinRoom moves c into room. Joining the current room again only replays it.
func (co *Coordinator) joinRoom(ctx context.Context, c *Client, room domain.RoomKey) error {
	current := c.Room()
	if !current.IsZero() && current != room {
		co.leaveRoom(ctx, c, SystemLeft)
	}

	unlock, err := co.lockRoom(ctx, room)
	if err != nil {
		return err
	}
	defer unlock()

	if current == room {
		co.replay(ctx, c, room)
		return nil
	}

	// The pointer is set before the presence write so an eviction racing the
	// join either finds c here or is already visible to AddPresence.
	username := c.Username()
	c.setRoom(room)
	if err := co.groups.AddPresence(ctx, room, username); err != nil {
		c.clearRoom(room)
		return err
	}
	co.metrics.RecordRoomJoined()

	co.hub.BroadcastToRoom(room, EventChannelsSystem, co.notice(SystemJoined, username), "")
	co.replay(ctx, c, room)
	co.logger.Infow("client joined room", "conn_id", c.ID(), "username", username, "room", room.String())
	return nil
}

// replay sends the room's history and every active broadcast to c only.
func (co *Coordinator) replay(ctx context.Context, c *Client, room domain.RoomKey) {
	history, err := co.messages.History(ctx, room)
	if err != nil {
		co.logger.Errorw("failed to load history", "room", room.String(), "error", err)
	} else {
		if history == nil {
			history = []domain.Message{}
		}
		co.hub.SendTo(c, EventChannelsLoad, history)
	}

	videos, screen := co.relay.Active(room)
	for _, v := range videos {
		if v.Conn != c.ID() {
			co.hub.SendTo(c, EventVideoBroadcast, broadcastEvent(v, true))
		}
	}
	if screen != nil && screen.Conn != c.ID() {
		co.hub.SendTo(c, EventScreenBroadcast, broadcastEvent(*screen, true))
	}
}

// leaveRoom takes c out of its room, stopping the broadcasts it owned there.
// It reports whether c was in a room.
func (co *Coordinator) leaveRoom(ctx context.Context, c *Client, notice string) bool {
	room := c.Room()
	if room.IsZero() {
		return false
	}

	unlock, err := co.lockRoom(ctx, room)
	if err != nil {
		co.logger.Warnw("leaving room without lock", "room", room.String(), "error", err)
		unlock = func() {}
	}
	defer unlock()

	if !c.clearRoom(room) {
		return false
	}
	co.stopSessions(co.relay.DropConnectionInRoom(room, c.ID()), c.ID())

	username := c.Username()
	if username != "" && !co.present(room, username) {
		if err := co.groups.RemovePresence(ctx, room, username); err != nil && !isNotFound(err) {
			co.logger.Errorw("failed to remove presence", "room", room.String(), "username", username, "error", err)
		}
	}
	co.metrics.RecordRoomLeft()
	co.hub.BroadcastToRoom(room, EventChannelsSystem, co.notice(notice, username), "")
	return true
}

// present reports whether another connection of username is still in room.
func (co *Coordinator) present(room domain.RoomKey, username string) bool {
	return len(co.hub.Select(func(o *Client) bool {
		return o.Room() == room && o.Username() == username
	})) > 0
}

// evict pulls every matching connection out of its room.
func (co *Coordinator) evict(ctx context.Context, match func(c *Client) bool) {
	for _, c := range co.hub.Select(func(c *Client) bool { return !c.Room().IsZero() && match(c) }) {
		co.leaveRoom(ctx, c, SystemLeft)
	}
}

func (co *Coordinator) evictUser(ctx context.Context, username, groupID string) {
	co.evict(ctx, func(c *Client) bool {
		return c.Username() == username && (groupID == "" || c.Room().GroupID == groupID)
	})
}

func (co *Coordinator) handleRegister(ctx context.Context, c *Client, data json.RawMessage) error {
	var p RegisterPayload
	if err := decode(data, &p); err != nil {
		return err
	}

	if c.authenticated() {
		c.register(c.Username(), p.Avatar)
	} else {
		if err := validation.ValidateUsername(p.Username); err != nil {
			return err
		}
		if !c.register(p.Username, p.Avatar) {
			return fmt.Errorf("connection already bound to %s: %w", c.Username(), domain.ErrUnauthorized)
		}
	}

	if p.PeerID != "" {
		if err := validation.ValidatePeerID(string(p.PeerID)); err != nil {
			return err
		}
		if err := co.hub.BindPeer(c, p.PeerID); err != nil {
			return err
		}
	}
	co.logger.Infow("client registered", "conn_id", c.ID(), "username", c.Username(), "peer_id", p.PeerID)
	return nil
}

func (co *Coordinator) handleGroupsGetAll(ctx context.Context, c *Client, _ json.RawMessage) error {
	snapshot, err := co.groupsSnapshot(ctx)
	if err != nil {
		return err
	}
	co.hub.SendTo(c, EventGroupsUpdate, snapshot)
	return nil
}

func (co *Coordinator) handleGroupsCreate(ctx context.Context, c *Client, data json.RawMessage) error {
	var p GroupPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	actor, err := co.actor(c, p.CreatedBy)
	if err != nil {
		return err
	}
	group, err := co.groups.CreateGroup(ctx, actor, p.ID, p.Name)
	if err != nil {
		return err
	}
	co.logger.Infow("group created", "group_id", group.ID, "created_by", actor)
	co.broadcastGroups(ctx)
	return nil
}

func (co *Coordinator) handleGroupsDelete(ctx context.Context, c *Client, data json.RawMessage) error {
	var p GroupPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	actor, err := co.actor(c, p.performer())
	if err != nil {
		return err
	}
	if err := co.groups.DeleteGroup(ctx, actor, p.GroupID); err != nil {
		return err
	}
	co.evict(ctx, func(c *Client) bool { return c.Room().GroupID == p.GroupID })
	co.logger.Infow("group deleted", "group_id", p.GroupID, "performed_by", actor)
	co.broadcastGroups(ctx)
	return nil
}

type groupOp struct {
	run func(ctx context.Context, actor, groupID, username string) error
	// self marks operations a user performs on themself.
	self bool
	// evict pulls the target's connections out of the group's rooms.
	evict bool
	// reportBan answers a banned attempt with groups:joinFailed.
	reportBan bool
}

func (co *Coordinator) groupOp(op groupOp) handlerFunc {
	return func(ctx context.Context, c *Client, data json.RawMessage) error {
		var p GroupPayload
		if err := decode(data, &p); err != nil {
			return err
		}
		claimed := p.performer()
		if op.self && claimed == "" {
			claimed = p.Username
		}
		actor, err := co.actor(c, claimed)
		if err != nil {
			return err
		}
		username := p.Username
		if username == "" && op.self {
			username = actor
		}

		if err := op.run(ctx, actor, p.GroupID, username); err != nil {
			if op.reportBan && errors.Is(err, domain.ErrBanned) {
				co.hub.SendTo(c, EventGroupsJoinFailed, JoinFailed{GroupID: p.GroupID, Reason: JoinFailedBanned})
			}
			return err
		}
		if op.evict {
			co.evictUser(ctx, username, p.GroupID)
		}
		co.broadcastGroups(ctx)
		return nil
	}
}

func (co *Coordinator) handleChannelsCreate(ctx context.Context, c *Client, data json.RawMessage) error {
	var p ChannelPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	actor, err := co.actor(c, p.PerformedBy)
	if err != nil {
		return err
	}
	ch, err := co.groups.CreateChannel(ctx, actor, p.GroupID, p.Channel.ID, p.Channel.Name)
	if err != nil {
		return err
	}
	co.logger.Infow("channel created", "group_id", p.GroupID, "channel_id", ch.ID, "performed_by", actor)
	co.broadcastGroups(ctx)
	return nil
}

func (co *Coordinator) handleChannelsDelete(ctx context.Context, c *Client, data json.RawMessage) error {
	var p ChannelPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	actor, err := co.actor(c, p.PerformedBy)
	if err != nil {
		return err
	}
	if err := co.groups.DeleteChannel(ctx, actor, p.GroupID, p.ChannelID); err != nil {
		return err
	}
	room := p.Room()
	co.evict(ctx, func(c *Client) bool { return c.Room() == room })
	co.broadcastGroups(ctx)
	return nil
}

func (co *Coordinator) handleChannelsJoin(ctx context.Context, c *Client, data json.RawMessage) error {
	var p ChannelPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	actor, err := co.actor(c, p.Username)
	if err != nil {
		return err
	}
	room := p.Room()
	if err := co.groups.CanEnter(ctx, room, actor); err != nil {
		return err
	}
	if c.Username() == "" {
		c.register(actor, "")
	}
	if err := co.joinRoom(ctx, c, room); err != nil {
		return err
	}
	co.broadcastGroups(ctx)
	return nil
}

func (co *Coordinator) handleChannelsLeave(ctx context.Context, c *Client, _ json.RawMessage) error {
	if co.leaveRoom(ctx, c, SystemLeft) {
		co.broadcastGroups(ctx)
	}
	return nil
}

func (co *Coordinator) avatarFor(ctx context.Context, c *Client, claimed string) string {
	if claimed != "" {
		return claimed
	}
	if avatar := c.Avatar(); avatar != "" {
		return avatar
	}
	if user, err := co.users.GetUser(ctx, c.Username()); err == nil {
		return user.Avatar
	}
	return ""
}

func (co *Coordinator) handleChannelsMessage(ctx context.Context, c *Client, data json.RawMessage) error {
	var p MessagePayload
	if err := decode(data, &p); err != nil {
		return err
	}
	room := domain.RoomKey{GroupID: p.GroupID, ChannelID: p.ChannelID}
	if c.Room() != room {
		return fmt.Errorf("message for %s: %w", room, domain.ErrNotInRoom)
	}
	sender, err := co.actor(c, p.Username)
	if err != nil {
		return err
	}

	unlock, err := co.lockRoom(ctx, room)
	if err != nil {
		return err
	}
	defer unlock()

	msg, err := co.messages.Send(ctx, room, domain.Message{
		Username: sender,
		Text:     p.Text,
		ImageURL: p.ImageURL,
		Avatar:   co.avatarFor(ctx, c, p.Avatar),
	})
	if err != nil {
		return err
	}
	co.metrics.RecordMessage()
	co.hub.BroadcastToRoom(room, EventChannelsMessage, msg, "")
	return nil
}

func (co *Coordinator) handleChannelsGetMessages(ctx context.Context, c *Client, data json.RawMessage) error {
	var p ChannelPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	actor, err := co.actor(c, p.Username)
	if err != nil {
		return err
	}
	room := p.Room()
	if err := co.groups.CanEnter(ctx, room, actor); err != nil {
		return err
	}
	history, err := co.messages.History(ctx, room)
	if err != nil {
		return err
	}
	if history == nil {
		history = []domain.Message{}
	}
	co.hub.SendTo(c, EventChannelsLoad, history)
	return nil
}

// mediaSession builds the session c announces. The announcing connection must
// be in the payload's room.
func (co *Coordinator) mediaSession(ctx context.Context, c *Client, p MediaPayload) (domain.BroadcastSession, error) {
	room := p.Room()
	if c.Room() != room || room.IsZero() {
		return domain.BroadcastSession{}, fmt.Errorf("announce for %s: %w", room, domain.ErrNotInRoom)
	}
	peer := p.PeerID
	if peer == "" {
		peer = c.PeerID()
	}
	if err := validation.ValidatePeerID(string(peer)); err != nil {
		return domain.BroadcastSession{}, err
	}
	if c.PeerID() != peer {
		if err := co.hub.BindPeer(c, peer); err != nil {
			return domain.BroadcastSession{}, err
		}
	}
	return domain.BroadcastSession{
		PeerID:   peer,
		Username: c.Username(),
		Avatar:   co.avatarFor(ctx, c, p.Avatar),
		Room:     room,
		Conn:     c.ID(),
	}, nil
}

// stopTarget resolves the room and peer a stop event refers to.
func stopTarget(c *Client, p MediaPayload) (domain.RoomKey, domain.PeerID) {
	room := p.Room()
	if room.IsZero() {
		room = c.Room()
	}
	peer := p.PeerID
	if peer == "" {
		peer = c.PeerID()
	}
	return room, peer
}

func (co *Coordinator) handleVideoBroadcast(ctx context.Context, c *Client, data json.RawMessage) error {
	var p MediaPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	session, err := co.mediaSession(ctx, c, p)
	if err != nil {
		return err
	}

	unlock, err := co.lockRoom(ctx, session.Room)
	if err != nil {
		return err
	}
	defer unlock()

	if session, err = co.relay.Announce(session); err != nil {
		return err
	}
	co.hub.BroadcastToRoom(session.Room, EventVideoBroadcast, broadcastEvent(session, false), c.ID())
	co.logger.Infow("video broadcast started",
		"room", session.Room.String(),
		"peer_id", session.PeerID,
		"session_id", session.SessionID,
	)
	return nil
}

func (co *Coordinator) handleVideoStop(ctx context.Context, c *Client, data json.RawMessage) error {
	var p MediaPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	room, peer := stopTarget(c, p)

	unlock, err := co.lockRoom(ctx, room)
	if err != nil {
		return err
	}
	defer unlock()

	if stopped, ok := co.relay.Stop(room, peer, c.ID()); ok {
		co.hub.BroadcastToRoom(room, EventVideoStop, stopEvent(stopped), c.ID())
	}
	return nil
}

func (co *Coordinator) handleScreenBroadcast(ctx context.Context, c *Client, data json.RawMessage) error {
	var p MediaPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	session, err := co.mediaSession(ctx, c, p)
	if err != nil {
		return err
	}

	unlock, err := co.lockRoom(ctx, session.Room)
	if err != nil {
		return err
	}
	defer unlock()

	session, err = co.relay.AnnounceScreen(session)
	if errors.Is(err, domain.ErrScreenShareBlocked) {
		co.metrics.RecordScreenShareBlocked()
		co.hub.SendTo(c, EventScreenBlocked, Blocked{Username: session.Username})
		return err
	}
	co.hub.BroadcastToRoom(session.Room, EventScreenBroadcast, broadcastEvent(session, false), c.ID())
	co.logger.Infow("screen share started",
		"room", session.Room.String(),
		"peer_id", session.PeerID,
		"session_id", session.SessionID,
	)
	return nil
}

func (co *Coordinator) handleScreenStop(ctx context.Context, c *Client, data json.RawMessage) error {
	var p MediaPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	room, peer := stopTarget(c, p)

	unlock, err := co.lockRoom(ctx, room)
	if err != nil {
		return err
	}
	defer unlock()

	if stopped, ok := co.relay.StopScreen(room, peer, c.ID()); ok {
		co.hub.BroadcastToRoom(room, EventScreenStop, stopEvent(stopped), c.ID())
	}
	return nil
}

func (co *Coordinator) handleUsersGetAll(ctx context.Context, c *Client, _ json.RawMessage) error {
	users, err := co.usersSnapshot(ctx)
	if err != nil {
		return err
	}
	co.hub.SendTo(c, EventUsersUpdate, users)
	return nil
}

func (co *Coordinator) handleUsersDelete(ctx context.Context, c *Client, data json.RawMessage) error {
	var p UserPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	claimed := p.PerformedBy
	if claimed == "" {
		claimed = p.Username
	}
	actor, err := co.actor(c, claimed)
	if err != nil {
		return err
	}
	if err := co.users.DeleteUser(ctx, actor, p.Username); err != nil {
		return err
	}
	co.evictUser(ctx, p.Username, "")
	co.logger.Infow("user deleted", "username", p.Username, "performed_by", actor)
	co.broadcastUsers(ctx)
	co.broadcastGroups(ctx)
	return nil
}

func (co *Coordinator) handleUsersPromote(ctx context.Context, c *Client, data json.RawMessage) error {
	var p UserPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	actor, err := co.actor(c, p.PerformedBy)
	if err != nil {
		return err
	}
	role, err := domain.ParseRole(p.Role)
	if err != nil {
		return err
	}
	if err := co.users.PromoteUser(ctx, actor, p.Username, role, p.GroupID); err != nil {
		return err
	}
	co.logger.Infow("user promoted", "username", p.Username, "role", role, "group_id", p.GroupID, "performed_by", actor)
	co.broadcastUsers(ctx)
	co.broadcastGroups(ctx)
	return nil
}

func (co *Coordinator) handleReportsCreate(ctx context.Context, c *Client, data json.RawMessage) error {
	var p ReportPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	actor, err := co.actor(c, p.ReportedBy)
	if err != nil {
		return err
	}
	report, err := co.reports.CreateReport(ctx, actor, domain.Report{
		GroupID: p.GroupID,
		Member:  p.Member,
		Text:    p.Text,
	})
	if err != nil {
		return err
	}
	co.logger.Infow("report filed", "report_id", report.ID, "group_id", report.GroupID, "reported_by", actor)
	co.pushReports(ctx)
	return nil
}

// pushReports sends every privileged connection the reports it may see.
func (co *Coordinator) pushReports(ctx context.Context) {
	visible := make(map[string][]*domain.Report)
	for _, c := range co.hub.Clients() {
		username := c.Username()
		if username == "" {
			continue
		}
		reports, seen := visible[username]
		if !seen {
			var err error
			reports, err = co.reports.VisibleReports(ctx, username)
			if err != nil {
				co.logger.Errorw("failed to load reports", "username", username, "error", err)
				continue
			}
			visible[username] = reports
		}
		if len(reports) > 0 {
			co.hub.SendTo(c, EventReportsUpdate, reports)
		}
	}
}

func (co *Coordinator) handleReportsGetAll(ctx context.Context, c *Client, _ json.RawMessage) error {
	actor, err := co.actor(c, "")
	if err != nil {
		return err
	}
	reports, err := co.reports.VisibleReports(ctx, actor)
	if err != nil {
		return err
	}
	if reports == nil {
		reports = []*domain.Report{}
	}
	co.hub.SendTo(c, EventReportsUpdate, reports)
	return nil
}

// relaySignal forwards SDP and ICE messages to the connection registered with
// the target peer id, stamping the sender's own peer id.
func (co *Coordinator) relaySignal(event string) handlerFunc {
	return func(ctx context.Context, c *Client, data json.RawMessage) error {
		var p SignalPayload
		if err := decode(data, &p); err != nil {
			return err
		}
		from := c.PeerID()
		if from == "" {
			return fmt.Errorf("connection %s has no peer id: %w", c.ID(), domain.ErrUnauthorized)
		}
		target := co.hub.ByPeer(p.TargetPeerID)
		if target == nil {
			return fmt.Errorf("%s: %w", p.TargetPeerID, domain.ErrPeerNotFound)
		}
		p.FromPeerID = from
		p.Username = c.Username()
		co.hub.SendTo(target, event, p)
		co.logger.Debugw("relayed signal", "event", event, "from_peer", from, "to_peer", p.TargetPeerID, "call_id", p.CallID)
		return nil
	}
}
