package mesh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"chatty/internal/core/domain"
	"chatty/internal/infrastructure/signal"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeTimeout = 10 * time.Second

var ErrNotInRoom = errors.New("not in a channel")

// Identity is what the client registers with the coordinator.
type Identity struct {
	Username string
	PeerID   domain.PeerID
	Avatar   string
}

// SignalHandler consumes relayed signal:* events.
type SignalHandler interface {
	HandleSignal(ctx context.Context, event string, msg signal.SignalPayload) error
}

// Observers are optional callbacks for room traffic the mesh does not handle.
type Observers struct {
	OnMessage func(msg domain.Message)
	OnSystem  func(notice signal.SystemNotice)
	OnHistory func(msgs []domain.Message)
	OnError   func(message string)
}

// SignalClient speaks the coordinator's envelope protocol.
type SignalClient struct {
	conn     *websocket.Conn
	identity Identity

	writeMu sync.Mutex
	mu      sync.RWMutex
	room    domain.RoomKey

	logger *zap.SugaredLogger
}

// DialSignal connects to url. A non-empty token is sent as a bearer header.
func DialSignal(ctx context.Context, url, token string, identity Identity, logger *zap.SugaredLogger) (*SignalClient, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if resp != nil {
		resp.Body.Close()
	}
	if err != nil && resp != nil && resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: coordinator refused the token", domain.ErrUnauthorized)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return &SignalClient{conn: conn, identity: identity, logger: logger}, nil
}

func (c *SignalClient) Identity() Identity { return c.identity }

func (c *SignalClient) Room() domain.RoomKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.room
}

// Send writes one envelope. Safe for concurrent use.
func (c *SignalClient) Send(event string, data interface{}) error {
	frame, err := signal.Encode(event, data)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *SignalClient) Register() error {
	return c.Send(signal.EventUserRegister, signal.RegisterPayload{
		Username: c.identity.Username,
		PeerID:   c.identity.PeerID,
		Avatar:   c.identity.Avatar,
	})
}

// JoinChannel enters room. The coordinator answers with the history and a
// replay of active broadcasts.
func (c *SignalClient) JoinChannel(room domain.RoomKey) error {
	if err := c.Send(signal.EventChannelsJoin, signal.ChannelPayload{
		GroupID:   room.GroupID,
		ChannelID: room.ChannelID,
		Username:  c.identity.Username,
	}); err != nil {
		return err
	}
	c.mu.Lock()
	c.room = room
	c.mu.Unlock()
	return nil
}

func (c *SignalClient) SendMessage(text string) error {
	room := c.Room()
	if room.IsZero() {
		return ErrNotInRoom
	}
	return c.Send(signal.EventChannelsMessage, signal.MessagePayload{
		GroupID:   room.GroupID,
		ChannelID: room.ChannelID,
		Username:  c.identity.Username,
		Text:      text,
		Avatar:    c.identity.Avatar,
	})
}

func (c *SignalClient) media(kind domain.MediaKind, start bool) (string, signal.MediaPayload, error) {
	room := c.Room()
	if room.IsZero() {
		return "", signal.MediaPayload{}, ErrNotInRoom
	}
	event := signal.EventVideoBroadcast
	switch {
	case kind == domain.MediaScreen && start:
		event = signal.EventScreenBroadcast
	case kind == domain.MediaScreen:
		event = signal.EventScreenStop
	case !start:
		event = signal.EventVideoStop
	}
	return event, signal.MediaPayload{
		PeerID:    c.identity.PeerID,
		Username:  c.identity.Username,
		Avatar:    c.identity.Avatar,
		GroupID:   room.GroupID,
		ChannelID: room.ChannelID,
	}, nil
}

func (c *SignalClient) Announce(ctx context.Context, kind domain.MediaKind) error {
	event, payload, err := c.media(kind, true)
	if err != nil {
		return err
	}
	return c.Send(event, payload)
}

func (c *SignalClient) Withdraw(ctx context.Context, kind domain.MediaKind) error {
	event, payload, err := c.media(kind, false)
	if err != nil {
		return err
	}
	return c.Send(event, payload)
}

// Run reads events until ctx is done or the connection fails, feeding
// broadcasts into m and relayed SDP into signals.
func (c *SignalClient) Run(ctx context.Context, m *Mesh, signals SignalHandler, obs Observers) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			c.conn.Close()
		case <-stop:
		}
	}()

	for {
		var env signal.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("signal connection closed: %w", err)
		}
		if err := c.route(ctx, env, m, signals, obs); err != nil {
			c.logger.Debugw("failed to handle event", "event", env.Event, "error", err)
		}
	}
}

func (c *SignalClient) route(ctx context.Context, env signal.Envelope, m *Mesh, signals SignalHandler, obs Observers) error {
	switch env.Event {
	case signal.EventVideoBroadcast, signal.EventScreenBroadcast:
		var ev signal.BroadcastEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return err
		}
		m.HandleAnnounce(ctx, Announcement{
			PeerID:    ev.PeerID,
			SessionID: ev.SessionID,
			Username:  ev.Username,
			Avatar:    ev.Avatar,
			Kind:      ev.Kind,
		})

	case signal.EventVideoStop, signal.EventScreenStop:
		var ev signal.StopEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return err
		}
		if ev.PeerID != c.identity.PeerID {
			kind := domain.MediaCamera
			if env.Event == signal.EventScreenStop {
				kind = domain.MediaScreen
			}
			m.HandleStop(ev.PeerID, kind)
		}

	case signal.EventSignalOffer, signal.EventSignalAnswer, signal.EventSignalCandidate:
		var msg signal.SignalPayload
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return err
		}
		return signals.HandleSignal(ctx, env.Event, msg)

	case signal.EventChannelsMessage:
		var msg domain.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return err
		}
		if obs.OnMessage != nil {
			obs.OnMessage(msg)
		}

	case signal.EventChannelsLoad:
		var msgs []domain.Message
		if err := json.Unmarshal(env.Data, &msgs); err != nil {
			return err
		}
		if obs.OnHistory != nil {
			obs.OnHistory(msgs)
		}

	case signal.EventChannelsSystem:
		var notice signal.SystemNotice
		if err := json.Unmarshal(env.Data, &notice); err != nil {
			return err
		}
		if obs.OnSystem != nil {
			obs.OnSystem(notice)
		}

	case signal.EventScreenBlocked:
		c.logger.Infow("screen share refused, another member is sharing")

	case signal.EventError:
		var ev signal.ErrorEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return err
		}
		if obs.OnError != nil {
			obs.OnError(ev.Message)
		}
	}
	return nil
}

func (c *SignalClient) Close() error {
	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
	c.writeMu.Unlock()
	return c.conn.Close()
}
