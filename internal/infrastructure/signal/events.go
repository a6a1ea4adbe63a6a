package signal

import (
	"encoding/json"
	"errors"
	"fmt"

	"chatty/internal/core/domain"
)

// Envelope is one WebSocket text frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client to server events.
const (
	EventUserRegister = "user:register"

	EventGroupsGetAll      = "groups:getAll"
	EventGroupsCreate      = "groups:create"
	EventGroupsDelete      = "groups:delete"
	EventGroupsJoin        = "groups:join"
	EventGroupsLeave       = "groups:leave"
	EventGroupsPromote     = "groups:promote"
	EventGroupsRemove      = "groups:removeMember"
	EventGroupsBan         = "groups:ban"
	EventGroupsUnban       = "groups:unban"
	EventGroupsRequestJoin = "groups:requestJoin"
	EventGroupsApproveJoin = "groups:approveJoin"
	EventGroupsDeclineJoin = "groups:declineJoin"

	EventChannelsCreate      = "channels:create"
	EventChannelsDelete      = "channels:delete"
	EventChannelsJoin        = "channels:join"
	EventChannelsLeave       = "channels:leave"
	EventChannelsMessage     = "channels:message"
	EventChannelsGetMessages = "channels:getMessages"

	EventVideoBroadcast  = "video:broadcast"
	EventVideoStop       = "video:stop"
	EventScreenBroadcast = "screenshare:broadcast"
	EventScreenStop      = "screenshare:stop"

	EventUsersGetAll  = "users:getAll"
	EventUsersDelete  = "users:delete"
	EventUsersPromote = "users:promote"

	EventReportsCreate = "reports:create"
	EventReportsGetAll = "reports:getAll"

	EventSignalOffer     = "signal:offer"
	EventSignalAnswer    = "signal:answer"
	EventSignalCandidate = "signal:candidate"
)

// Server to client events. Relay events reuse the client event names.
const (
	EventGroupsUpdate     = "groups:update"
	EventGroupsJoinFailed = "groups:joinFailed"
	EventChannelsLoad     = "channels:loadMessages"
	EventChannelsSystem   = "channels:system"
	EventScreenBlocked    = "screenshare:blocked"
	EventUsersUpdate      = "users:update"
	EventReportsUpdate    = "reports:update"
	EventError            = "error"
)

const (
	SystemJoined       = "joined"
	SystemLeft         = "left"
	SystemDisconnected = "disconnected"

	JoinFailedBanned = "banned"
)

// ErrMalformedPayload marks an envelope whose data does not decode. It is the
// only failure reported back to the client as an error event.
var ErrMalformedPayload = errors.New("malformed payload")

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 || string(data) == "null" {
		return fmt.Errorf("%w: missing data", ErrMalformedPayload)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

// Encode renders an outbound envelope.
func Encode(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

type RegisterPayload struct {
	Username string        `json:"username"`
	PeerID   domain.PeerID `json:"peerId,omitempty"`
	Avatar   string        `json:"avatar,omitempty"`
}

// GroupPayload covers every groups:* mutation. Which of the acting fields is
// filled depends on the event.
type GroupPayload struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	CreatedBy   string `json:"createdBy,omitempty"`
	GroupID     string `json:"groupId,omitempty"`
	Username    string `json:"username,omitempty"`
	PerformedBy string `json:"performedBy,omitempty"`
	ActingUser  string `json:"actingUser,omitempty"`
}

func (p GroupPayload) performer() string {
	if p.PerformedBy != "" {
		return p.PerformedBy
	}
	return p.ActingUser
}

type ChannelSpec struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

type ChannelPayload struct {
	GroupID     string      `json:"groupId"`
	ChannelID   string      `json:"channelId,omitempty"`
	Channel     ChannelSpec `json:"channel,omitempty"`
	Username    string      `json:"username,omitempty"`
	PerformedBy string      `json:"performedBy,omitempty"`
}

func (p ChannelPayload) Room() domain.RoomKey {
	return domain.RoomKey{GroupID: p.GroupID, ChannelID: p.ChannelID}
}

type MessagePayload struct {
	GroupID   string `json:"groupId"`
	ChannelID string `json:"channelId"`
	Username  string `json:"username,omitempty"`
	Text      string `json:"text,omitempty"`
	ImageURL  string `json:"imageUrl,omitempty"`
	Avatar    string `json:"avatar,omitempty"`
}

// MediaPayload is the shape of video:* and screenshare:* client events.
type MediaPayload struct {
	PeerID    domain.PeerID `json:"peerId"`
	Username  string        `json:"username,omitempty"`
	Avatar    string        `json:"avatar,omitempty"`
	GroupID   string        `json:"groupId"`
	ChannelID string        `json:"channelId"`
}

func (p MediaPayload) Room() domain.RoomKey {
	return domain.RoomKey{GroupID: p.GroupID, ChannelID: p.ChannelID}
}

type UserPayload struct {
	Username    string `json:"username"`
	Role        string `json:"role,omitempty"`
	GroupID     string `json:"groupId,omitempty"`
	PerformedBy string `json:"performedBy,omitempty"`
}

// UnmarshalJSON also accepts a bare username string.
func (p *UserPayload) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*p = UserPayload{Username: name}
		return nil
	}
	type plain UserPayload
	return json.Unmarshal(data, (*plain)(p))
}

type ReportPayload struct {
	GroupID    string `json:"groupId"`
	Member     string `json:"member"`
	ReportedBy string `json:"reportedBy,omitempty"`
	Text       string `json:"text"`
}

// SignalPayload is routed verbatim to the connection owning TargetPeerID.
type SignalPayload struct {
	TargetPeerID domain.PeerID   `json:"targetPeerId"`
	FromPeerID   domain.PeerID   `json:"fromPeerId"`
	CallID       string          `json:"callId,omitempty"`
	Username     string          `json:"username,omitempty"`
	SDP          string          `json:"sdp,omitempty"`
	Candidate    json.RawMessage `json:"candidate,omitempty"`
}

// BroadcastEvent announces a camera or screen session to a room.
type BroadcastEvent struct {
	SessionID string           `json:"sessionId"`
	PeerID    domain.PeerID    `json:"peerId"`
	Username  string           `json:"username"`
	Avatar    string           `json:"avatar,omitempty"`
	GroupID   string           `json:"groupId"`
	ChannelID string           `json:"channelId"`
	Kind      domain.MediaKind `json:"kind"`
	StartedAt int64            `json:"startedAt"`
	Replay    bool             `json:"replay"`
}

func broadcastEvent(s domain.BroadcastSession, replay bool) BroadcastEvent {
	return BroadcastEvent{
		SessionID: s.SessionID,
		PeerID:    s.PeerID,
		Username:  s.Username,
		Avatar:    s.Avatar,
		GroupID:   s.Room.GroupID,
		ChannelID: s.Room.ChannelID,
		Kind:      s.Kind,
		StartedAt: s.StartedAt.UnixMilli(),
		Replay:    replay,
	}
}

type StopEvent struct {
	SessionID string        `json:"sessionId"`
	PeerID    domain.PeerID `json:"peerId"`
	Username  string        `json:"username"`
	GroupID   string        `json:"groupId"`
	ChannelID string        `json:"channelId"`
}

func stopEvent(s domain.BroadcastSession) StopEvent {
	return StopEvent{
		SessionID: s.SessionID,
		PeerID:    s.PeerID,
		Username:  s.Username,
		GroupID:   s.Room.GroupID,
		ChannelID: s.Room.ChannelID,
	}
}

type SystemNotice struct {
	Type      string `json:"type"`
	Username  string `json:"username"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

type JoinFailed struct {
	GroupID string `json:"groupId"`
	Reason  string `json:"reason"`
}

type Blocked struct {
	Username string `json:"username"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}
