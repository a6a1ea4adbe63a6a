package domain

import "time"

// PeerID is the opaque media-layer identifier a client announces.
type PeerID string

// ConnID identifies one live WebSocket connection.
type ConnID string

// RoomKey is the (group, channel) pair that scopes fanout.
type RoomKey struct {
	GroupID   string `json:"groupId"`
	ChannelID string `json:"channelId"`
}

func (k RoomKey) String() string { return k.GroupID + "/" + k.ChannelID }

func (k RoomKey) IsZero() bool { return k.GroupID == "" && k.ChannelID == "" }

type MediaKind string

const (
	MediaCamera MediaKind = "camera"
	MediaScreen MediaKind = "screen"
)

// BroadcastSession is an announced stream in a room. Screen shares use the same
// shape with Kind set to MediaScreen.
type BroadcastSession struct {
	SessionID string    `json:"sessionId"`
	PeerID    PeerID    `json:"peerId"`
	Username  string    `json:"username"`
	Avatar    string    `json:"avatar,omitempty"`
	Room      RoomKey   `json:"room"`
	Kind      MediaKind `json:"kind"`
	StartedAt time.Time `json:"startedAt"`
	Conn      ConnID    `json:"-"`
}
