package mesh

import (
	"context"
	"sync"

	"chatty/internal/core/domain"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// MediaSource is a set of local tracks offered on a call.
type MediaSource interface {
	Tracks() []webrtc.TrackLocal
	Stop()
}

// RemoteStream describes the media a peer started sending on a call.
type RemoteStream struct {
	StreamID string
	Codecs   []string
}

// Call is one peer connection, outgoing or answered.
type Call interface {
	ID() string
	Peer() domain.PeerID
	Close() error
}

// IncomingCall is a call a remote peer opened to pull our stream.
type IncomingCall interface {
	Call
	Answer(ctx context.Context, src MediaSource) error
	Reject()
}

// CallEvents receives what a Connector observes on its calls.
type CallEvents interface {
	RemoteStream(call Call, stream RemoteStream)
	CallClosed(call Call)
	IncomingCall(call IncomingCall)
}

// Connector opens peer connections. Placeholder returns a stand-in source so a
// peer that is not broadcasting can still open a call and pull remote media.
type Connector interface {
	Attach(events CallEvents)
	Placeholder() (MediaSource, error)
	Dial(ctx context.Context, peer domain.PeerID, src MediaSource) (Call, error)
}

// Signaler tells the room about our own broadcast.
type Signaler interface {
	Announce(ctx context.Context, kind domain.MediaKind) error
	Withdraw(ctx context.Context, kind domain.MediaKind) error
}

// Announcement is a broadcast learned from the room, live or replayed.
type Announcement struct {
	PeerID    domain.PeerID
	SessionID string
	Username  string
	Avatar    string
	Kind      domain.MediaKind
}

type PeerInfo struct {
	Username  string
	Avatar    string
	SessionID string
	Kind      domain.MediaKind
}

type Handlers struct {
	OnRemoteStream func(peer domain.PeerID, stream RemoteStream)
	OnRemoveStream func(peer domain.PeerID)
}

type callState struct {
	call        Call
	sessionID   string
	kind        domain.MediaKind
	placeholder MediaSource
	answered    bool
	streaming   bool
}

// Mesh keeps one client's view of the room's broadcasts and the calls opened to
// pull them.
type Mesh struct {
	self      domain.PeerID
	connector Connector
	signaler  Signaler
	handlers  Handlers

	mu        sync.Mutex
	local     MediaSource
	localKind domain.MediaKind
	peers     map[domain.PeerID]PeerInfo
	current   map[domain.PeerID]*callState
	calls     map[string]*callState
	pending   map[domain.PeerID]string

	wg     sync.WaitGroup
	logger *zap.SugaredLogger
}

func New(self domain.PeerID, connector Connector, signaler Signaler, handlers Handlers, logger *zap.SugaredLogger) *Mesh {
	m := &Mesh{
		self:      self,
		connector: connector,
		signaler:  signaler,
		handlers:  handlers,
		peers:     make(map[domain.PeerID]PeerInfo),
		current:   make(map[domain.PeerID]*callState),
		calls:     make(map[string]*callState),
		pending:   make(map[domain.PeerID]string),
		logger:    logger,
	}
	connector.Attach(m)
	return m
}

func (m *Mesh) Peers() map[domain.PeerID]PeerInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[domain.PeerID]PeerInfo, len(m.peers))
	for id, info := range m.peers {
		out[id] = info
	}
	return out
}

// CallCount counts open calls, including superseded ones still alive.
func (m *Mesh) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *Mesh) Broadcasting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.local != nil
}

// HandleAnnounce records the peer and dials it unless a call for the same
// session is already open or a dial is in flight. A new session id for a peer
// we already call means the peer restarted: a second call is opened and becomes
// current while the old one is left to die on its own.
func (m *Mesh) HandleAnnounce(ctx context.Context, a Announcement) {
	if a.PeerID == "" || a.PeerID == m.self {
		return
	}

	m.mu.Lock()
	m.peers[a.PeerID] = PeerInfo{Username: a.Username, Avatar: a.Avatar, SessionID: a.SessionID, Kind: a.Kind}
	if _, dialing := m.pending[a.PeerID]; dialing {
		m.mu.Unlock()
		m.logger.Debugw("dial already in flight", "peer_id", a.PeerID, "session_id", a.SessionID)
		return
	}
	if cs := m.current[a.PeerID]; cs != nil && cs.sessionID == a.SessionID {
		m.mu.Unlock()
		m.logger.Debugw("ignoring duplicate announce", "peer_id", a.PeerID, "session_id", a.SessionID)
		return
	}
	m.pending[a.PeerID] = a.SessionID
	local := m.local
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.dial(ctx, a.PeerID, a.SessionID, a.Kind, local)
	}()
}

func (m *Mesh) dial(ctx context.Context, peer domain.PeerID, sessionID string, kind domain.MediaKind, local MediaSource) {
	src, placeholder := local, MediaSource(nil)
	if src == nil {
		p, err := m.connector.Placeholder()
		if err != nil {
			m.logger.Warnw("failed to create placeholder stream", "peer_id", peer, "error", err)
			m.clearPending(peer)
			return
		}
		src, placeholder = p, p
	}

	call, err := m.connector.Dial(ctx, peer, src)
	if err != nil {
		m.logger.Warnw("failed to call peer", "peer_id", peer, "session_id", sessionID, "error", err)
		if placeholder != nil {
			placeholder.Stop()
		}
		m.clearPending(peer)
		return
	}

	m.mu.Lock()
	delete(m.pending, peer)
	info, ok := m.peers[peer]
	if !ok {
		// The peer stopped while we were dialing.
		m.mu.Unlock()
		call.Close()
		if placeholder != nil {
			placeholder.Stop()
		}
		return
	}
	cs := &callState{call: call, sessionID: sessionID, kind: kind, placeholder: placeholder}
	m.calls[call.ID()] = cs
	m.current[peer] = cs
	m.mu.Unlock()

	m.logger.Infow("called peer", "peer_id", peer, "session_id", sessionID, "call_id", call.ID(), "placeholder", placeholder != nil)

	// The peer restarted while we were dialing.
	if info.SessionID != sessionID {
		m.HandleAnnounce(ctx, Announcement{
			PeerID:    peer,
			SessionID: info.SessionID,
			Username:  info.Username,
			Avatar:    info.Avatar,
			Kind:      info.Kind,
		})
	}
}

func (m *Mesh) clearPending(peer domain.PeerID) {
	m.mu.Lock()
	delete(m.pending, peer)
	m.mu.Unlock()
}

// HandleStop closes the calls pulling peer's broadcast of the given kind. A
// call for the peer's other broadcast stays open and becomes current. The peer
// is forgotten only when its latest broadcast is the stopped one and nothing
// else is left to pull.
func (m *Mesh) HandleStop(peer domain.PeerID, kind domain.MediaKind) {
	m.mu.Lock()
	info, known := m.peers[peer]
	var (
		closing   []*callState
		remaining *callState
	)
	for id, cs := range m.calls {
		if cs.call.Peer() != peer || cs.answered {
			continue
		}
		if cs.kind != kind {
			if remaining == nil || m.current[peer] == cs {
				remaining = cs
			}
			continue
		}
		closing = append(closing, cs)
		delete(m.calls, id)
	}
	if cs := m.current[peer]; cs != nil && cs.kind == kind {
		delete(m.current, peer)
	}

	forget := false
	switch {
	case remaining != nil:
		m.current[peer] = remaining
		if known && info.Kind == kind {
			info.SessionID, info.Kind = remaining.sessionID, remaining.kind
			m.peers[peer] = info
		}
	case known && info.Kind != kind:
		// its other broadcast is still being dialed
	default:
		delete(m.peers, peer)
		forget = known
	}
	m.mu.Unlock()

	for _, cs := range closing {
		cs.call.Close()
		if cs.placeholder != nil {
			cs.placeholder.Stop()
		}
	}
	if forget && m.handlers.OnRemoveStream != nil {
		m.handlers.OnRemoveStream(peer)
	}
}

// RemoteStream stops the placeholder used for the call, since the remote side
// is now sending.
func (m *Mesh) RemoteStream(call Call, stream RemoteStream) {
	m.mu.Lock()
	cs := m.calls[call.ID()]
	if cs == nil || cs.streaming {
		m.mu.Unlock()
		return
	}
	cs.streaming = true
	placeholder := cs.placeholder
	cs.placeholder = nil
	m.mu.Unlock()

	if placeholder != nil {
		placeholder.Stop()
	}
	if m.handlers.OnRemoteStream != nil {
		m.handlers.OnRemoteStream(call.Peer(), stream)
	}
}

func (m *Mesh) CallClosed(call Call) {
	m.mu.Lock()
	cs := m.calls[call.ID()]
	delete(m.calls, call.ID())
	if cs != nil && m.current[call.Peer()] == cs {
		delete(m.current, call.Peer())
	}
	m.mu.Unlock()

	if cs != nil && cs.placeholder != nil {
		cs.placeholder.Stop()
	}
}

// IncomingCall answers with our stream, or rejects when we are not
// broadcasting.
func (m *Mesh) IncomingCall(call IncomingCall) {
	m.mu.Lock()
	local := m.local
	if local != nil {
		m.calls[call.ID()] = &callState{call: call, answered: true}
	}
	m.mu.Unlock()

	if local == nil {
		m.logger.Debugw("rejecting call, not broadcasting", "peer_id", call.Peer(), "call_id", call.ID())
		call.Reject()
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := call.Answer(context.Background(), local); err != nil {
			m.logger.Warnw("failed to answer call", "peer_id", call.Peer(), "call_id", call.ID(), "error", err)
			m.CallClosed(call)
			call.Close()
		}
	}()
}

// StartBroadcast makes src the stream answered to pulling peers and announces
// it to the room.
func (m *Mesh) StartBroadcast(ctx context.Context, src MediaSource, kind domain.MediaKind) error {
	m.mu.Lock()
	m.local = src
	m.localKind = kind
	m.mu.Unlock()

	if err := m.signaler.Announce(ctx, kind); err != nil {
		m.mu.Lock()
		m.local = nil
		m.mu.Unlock()
		return err
	}
	return nil
}

// StopBroadcast withdraws the announcement and closes the calls that only
// carried our stream. Calls pulling remote media stay open.
func (m *Mesh) StopBroadcast(ctx context.Context) error {
	m.mu.Lock()
	if m.local == nil {
		m.mu.Unlock()
		return nil
	}
	kind := m.localKind
	m.local = nil
	var closing []Call
	for id, cs := range m.calls {
		if cs.answered {
			closing = append(closing, cs.call)
			delete(m.calls, id)
		}
	}
	m.mu.Unlock()

	for _, call := range closing {
		call.Close()
	}
	return m.signaler.Withdraw(ctx, kind)
}

// Close ends every call and waits for dials in flight.
func (m *Mesh) Close() {
	m.wg.Wait()

	m.mu.Lock()
	calls := m.calls
	m.calls = make(map[string]*callState)
	m.current = make(map[domain.PeerID]*callState)
	m.mu.Unlock()

	for _, cs := range calls {
		cs.call.Close()
		if cs.placeholder != nil {
			cs.placeholder.Stop()
		}
	}
}

// wait blocks until dials and answers in flight are done.
func (m *Mesh) wait() {
	m.wg.Wait()
}
