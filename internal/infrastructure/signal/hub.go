package signal

import (
	"fmt"
	"sync"

	"chatty/internal/core/domain"

	"go.uber.org/zap"
)

// Metrics is the subset of the Prometheus collector the signal layer reports to.
type Metrics interface {
	RecordConnectionOpened()
	RecordConnectionClosed()
	RecordEvent(event string)
	RecordOutboundDropped()
	RecordInboundLimited()
	RecordRoomJoined()
	RecordRoomLeft()
	RecordScreenShareBlocked()
	RecordMessage()
}

// Client is one live connection: its identity, its current room and a bounded
// queue of encoded frames waiting for the write pump.
type Client struct {
	id   domain.ConnID
	send chan []byte
	done chan struct{}
	once sync.Once

	mu       sync.RWMutex
	username string
	peerID   domain.PeerID
	avatar   string
	bound    bool
	room     domain.RoomKey
}

func NewClient(id domain.ConnID, queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Client{
		id:   id,
		send: make(chan []byte, queueSize),
		done: make(chan struct{}),
	}
}

func (c *Client) ID() domain.ConnID { return c.id }

// Send exposes the outbound queue to the write pump.
func (c *Client) Send() <-chan []byte { return c.send }

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

func (c *Client) PeerID() domain.PeerID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.peerID
}

func (c *Client) Avatar() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.avatar
}

func (c *Client) Room() domain.RoomKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.room
}

// Authenticate binds username from a verified token. A token-bound identity
// cannot be replaced by user:register.
func (c *Client) Authenticate(username string) {
	c.mu.Lock()
	c.username = username
	c.bound = true
	c.mu.Unlock()
}

// register binds the identity announced by the client. It reports false when the
// connection already carries a different identity.
func (c *Client) register(username, avatar string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.username != "" && c.username != username {
		return false
	}
	c.username = username
	if avatar != "" {
		c.avatar = avatar
	}
	return true
}

func (c *Client) authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bound
}

func (c *Client) setPeer(peerID domain.PeerID) domain.PeerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.peerID
	c.peerID = peerID
	return old
}

func (c *Client) setRoom(room domain.RoomKey) {
	c.mu.Lock()
	c.room = room
	c.mu.Unlock()
}

// clearRoom resets the room pointer if it still equals room.
func (c *Client) clearRoom(room domain.RoomKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room != room {
		return false
	}
	c.room = domain.RoomKey{}
	return true
}

// enqueue reports false when the frame was dropped.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Hub is the connection registry and the room fanout.
type Hub struct {
	mu      sync.RWMutex
	clients map[domain.ConnID]*Client
	peers   map[domain.PeerID]*Client

	metrics Metrics
	logger  *zap.SugaredLogger
}

func NewHub(metrics Metrics, logger *zap.SugaredLogger) *Hub {
	return &Hub{
		clients: make(map[domain.ConnID]*Client),
		peers:   make(map[domain.PeerID]*Client),
		metrics: metrics,
		logger:  logger,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID()] = c
	h.mu.Unlock()
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.ID())
	if peer := c.PeerID(); peer != "" && h.peers[peer] == c {
		delete(h.peers, peer)
	}
	h.mu.Unlock()
}

// BindPeer routes peerID to c. A peer id held by another live connection is
// refused with domain.ErrPeerTaken until that connection unregisters.
func (h *Hub) BindPeer(c *Client, peerID domain.PeerID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if holder, ok := h.peers[peerID]; ok && holder != c {
		return fmt.Errorf("bind %s: %w", peerID, domain.ErrPeerTaken)
	}
	if old := c.setPeer(peerID); old != "" && old != peerID && h.peers[old] == c {
		delete(h.peers, old)
	}
	h.peers[peerID] = c
	return nil
}

func (h *Hub) ByPeer(peerID domain.PeerID) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.peers[peerID]
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Clients() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

// Select returns the clients matching keep.
func (h *Hub) Select(keep func(c *Client) bool) []*Client {
	var out []*Client
	for _, c := range h.Clients() {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) InRoom(room domain.RoomKey) []*Client {
	return h.Select(func(c *Client) bool { return c.Room() == room })
}

// SendTo queues one event for c.
func (h *Hub) SendTo(c *Client, event string, data interface{}) {
	frame, err := Encode(event, data)
	if err != nil {
		h.logger.Errorw("failed to encode event", "event", event, "error", err)
		return
	}
	h.deliver(c, event, frame)
}

// BroadcastToRoom queues the event for every client in room except the one
// with id except.
func (h *Hub) BroadcastToRoom(room domain.RoomKey, event string, data interface{}, except domain.ConnID) {
	h.fanout(h.InRoom(room), event, data, except)
}

// BroadcastAll queues the event for every connection.
func (h *Hub) BroadcastAll(event string, data interface{}) {
	h.fanout(h.Clients(), event, data, "")
}

func (h *Hub) fanout(targets []*Client, event string, data interface{}, except domain.ConnID) {
	if len(targets) == 0 {
		return
	}
	frame, err := Encode(event, data)
	if err != nil {
		h.logger.Errorw("failed to encode event", "event", event, "error", err)
		return
	}
	for _, c := range targets {
		if c.ID() == except {
			continue
		}
		h.deliver(c, event, frame)
	}
}

func (h *Hub) deliver(c *Client, event string, frame []byte) {
	if c.enqueue(frame) {
		return
	}
	h.metrics.RecordOutboundDropped()
	h.logger.Warnw("dropping event for slow client",
		"conn_id", c.ID(),
		"username", c.Username(),
		"event", event,
	)
}

// CloseAll closes every registered client.
func (h *Hub) CloseAll() {
	for _, c := range h.Clients() {
		c.Close()
	}
}
