package mesh

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"chatty/internal/core/domain"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSource struct {
	mu      sync.Mutex
	stopped bool
}

func (s *fakeSource) Tracks() []webrtc.TrackLocal { return nil }

func (s *fakeSource) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *fakeSource) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type fakeCall struct {
	id   string
	peer domain.PeerID

	mu       sync.Mutex
	closed   bool
	answered MediaSource
	rejected bool
}

func (c *fakeCall) ID() string          { return c.id }
func (c *fakeCall) Peer() domain.PeerID { return c.peer }

func (c *fakeCall) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeCall) Answer(ctx context.Context, src MediaSource) error {
	c.mu.Lock()
	c.answered = src
	c.mu.Unlock()
	return nil
}

func (c *fakeCall) Reject() {
	c.mu.Lock()
	c.rejected = true
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeCall) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type dialed struct {
	call *fakeCall
	src  MediaSource
}

type fakeConnector struct {
	events CallEvents
	gate   chan struct{}

	mu           sync.Mutex
	dials        []dialed
	placeholders []*fakeSource
}

func (f *fakeConnector) Attach(events CallEvents) { f.events = events }

func (f *fakeConnector) Placeholder() (MediaSource, error) {
	src := &fakeSource{}
	f.mu.Lock()
	f.placeholders = append(f.placeholders, src)
	f.mu.Unlock()
	return src, nil
}

func (f *fakeConnector) Dial(ctx context.Context, peer domain.PeerID, src MediaSource) (Call, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	call := &fakeCall{id: fmt.Sprintf("call-%d", len(f.dials)+1), peer: peer}
	f.dials = append(f.dials, dialed{call: call, src: src})
	return call, nil
}

func (f *fakeConnector) dialed() []dialed {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dialed(nil), f.dials...)
}

type fakeSignaler struct {
	mu        sync.Mutex
	announced []domain.MediaKind
	withdrawn []domain.MediaKind
}

func (s *fakeSignaler) Announce(ctx context.Context, kind domain.MediaKind) error {
	s.mu.Lock()
	s.announced = append(s.announced, kind)
	s.mu.Unlock()
	return nil
}

func (s *fakeSignaler) Withdraw(ctx context.Context, kind domain.MediaKind) error {
	s.mu.Lock()
	s.withdrawn = append(s.withdrawn, kind)
	s.mu.Unlock()
	return nil
}

type recorder struct {
	mu      sync.Mutex
	streams []domain.PeerID
	removed []domain.PeerID
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnRemoteStream: func(peer domain.PeerID, _ RemoteStream) {
			r.mu.Lock()
			r.streams = append(r.streams, peer)
			r.mu.Unlock()
		},
		OnRemoveStream: func(peer domain.PeerID) {
			r.mu.Lock()
			r.removed = append(r.removed, peer)
			r.mu.Unlock()
		},
	}
}

func newTestMesh() (*Mesh, *fakeConnector, *fakeSignaler, *recorder) {
	conn := &fakeConnector{}
	sig := &fakeSignaler{}
	rec := &recorder{}
	m := New("peer-self", conn, sig, rec.handlers(), zap.NewNop().Sugar())
	return m, conn, sig, rec
}

func announce(peer, session string) Announcement {
	return Announcement{PeerID: domain.PeerID(peer), SessionID: session, Username: peer, Kind: domain.MediaCamera}
}

func TestMesh_DuplicateAnnounceDialsOnce(t *testing.T) {
	m, conn, _, _ := newTestMesh()
	ctx := context.Background()

	m.HandleAnnounce(ctx, announce("peer-bob", "s1"))
	m.wait()
	m.HandleAnnounce(ctx, announce("peer-bob", "s1"))
	m.wait()

	assert.Len(t, conn.dialed(), 1)
	assert.Equal(t, 1, m.CallCount())
	assert.Equal(t, "s1", m.Peers()["peer-bob"].SessionID)
}

func TestMesh_AnnounceDuringDialIsSkipped(t *testing.T) {
	m, conn, _, _ := newTestMesh()
	conn.gate = make(chan struct{})
	ctx := context.Background()

	m.HandleAnnounce(ctx, announce("peer-bob", "s1"))
	m.HandleAnnounce(ctx, announce("peer-bob", "s1"))
	close(conn.gate)
	m.wait()

	assert.Len(t, conn.dialed(), 1)
}

func TestMesh_IgnoresOwnAnnounce(t *testing.T) {
	m, conn, _, _ := newTestMesh()

	m.HandleAnnounce(context.Background(), announce("peer-self", "s1"))
	m.wait()

	assert.Empty(t, conn.dialed())
	assert.Empty(t, m.Peers())
}

func TestMesh_RestartOpensParallelCall(t *testing.T) {
	m, conn, _, _ := newTestMesh()
	ctx := context.Background()

	m.HandleAnnounce(ctx, announce("peer-bob", "s1"))
	m.wait()
	m.HandleAnnounce(ctx, announce("peer-bob", "s2"))
	m.wait()

	dials := conn.dialed()
	require.Len(t, dials, 2)
	assert.False(t, dials[0].call.isClosed(), "old call is left open")
	assert.Equal(t, 2, m.CallCount())
	assert.Equal(t, "s2", m.Peers()["peer-bob"].SessionID)
}

func TestMesh_RestartDuringDialRedials(t *testing.T) {
	m, conn, _, _ := newTestMesh()
	conn.gate = make(chan struct{})
	ctx := context.Background()

	m.HandleAnnounce(ctx, announce("peer-bob", "s1"))
	m.HandleAnnounce(ctx, announce("peer-bob", "s2"))
	close(conn.gate)
	m.wait()

	assert.Len(t, conn.dialed(), 2)
}

func TestMesh_PlaceholderStoppedOnRemoteStream(t *testing.T) {
	m, conn, _, rec := newTestMesh()

	m.HandleAnnounce(context.Background(), announce("peer-bob", "s1"))
	m.wait()

	dials := conn.dialed()
	require.Len(t, dials, 1)
	require.Len(t, conn.placeholders, 1)
	placeholder := conn.placeholders[0]
	assert.Same(t, placeholder, dials[0].src)
	assert.False(t, placeholder.isStopped())

	m.RemoteStream(dials[0].call, RemoteStream{StreamID: "bob-cam"})
	m.RemoteStream(dials[0].call, RemoteStream{StreamID: "bob-cam"})

	assert.True(t, placeholder.isStopped())
	assert.Equal(t, []domain.PeerID{"peer-bob"}, rec.streams)
}

func TestMesh_BroadcasterOffersRealStream(t *testing.T) {
	m, conn, sig, _ := newTestMesh()
	ctx := context.Background()
	camera := &fakeSource{}

	require.NoError(t, m.StartBroadcast(ctx, camera, domain.MediaCamera))
	assert.True(t, m.Broadcasting())
	assert.Equal(t, []domain.MediaKind{domain.MediaCamera}, sig.announced)

	m.HandleAnnounce(ctx, announce("peer-bob", "s1"))
	m.wait()

	dials := conn.dialed()
	require.Len(t, dials, 1)
	assert.Same(t, camera, dials[0].src)
	assert.Empty(t, conn.placeholders)
}

func TestMesh_StopForgetsPeer(t *testing.T) {
	m, conn, _, rec := newTestMesh()
	ctx := context.Background()

	m.HandleAnnounce(ctx, announce("peer-bob", "s1"))
	m.wait()
	m.HandleAnnounce(ctx, announce("peer-bob", "s2"))
	m.wait()

	m.HandleStop("peer-bob", domain.MediaCamera)

	for _, d := range conn.dialed() {
		assert.True(t, d.call.isClosed())
	}
	for _, p := range conn.placeholders {
		assert.True(t, p.isStopped())
	}
	assert.Empty(t, m.Peers())
	assert.Zero(t, m.CallCount())
	assert.Equal(t, []domain.PeerID{"peer-bob"}, rec.removed)

	m.HandleStop("peer-bob", domain.MediaCamera)
	assert.Len(t, rec.removed, 1, "unknown peer is not reported twice")
}

func TestMesh_ScreenStopKeepsCameraCall(t *testing.T) {
	m, conn, _, rec := newTestMesh()
	ctx := context.Background()

	m.HandleAnnounce(ctx, announce("peer-bob", "s1"))
	m.wait()
	screen := announce("peer-bob", "s2")
	screen.Kind = domain.MediaScreen
	m.HandleAnnounce(ctx, screen)
	m.wait()
	dials := conn.dialed()
	require.Len(t, dials, 2)

	m.HandleStop("peer-bob", domain.MediaScreen)
	assert.False(t, dials[0].call.isClosed())
	assert.True(t, dials[1].call.isClosed())
	assert.Equal(t, 1, m.CallCount())
	assert.Empty(t, rec.removed)
	info := m.Peers()["peer-bob"]
	assert.Equal(t, domain.MediaCamera, info.Kind)
	assert.Equal(t, "s1", info.SessionID)

	// re-announcing the camera session does not dial again
	m.HandleAnnounce(ctx, announce("peer-bob", "s1"))
	m.wait()
	assert.Len(t, conn.dialed(), 2)

	m.HandleStop("peer-bob", domain.MediaCamera)
	assert.True(t, dials[0].call.isClosed())
	assert.Zero(t, m.CallCount())
	assert.Empty(t, m.Peers())
	assert.Equal(t, []domain.PeerID{"peer-bob"}, rec.removed)
}

func TestMesh_IncomingCall(t *testing.T) {
	m, _, sig, _ := newTestMesh()
	ctx := context.Background()

	idle := &fakeCall{id: "in-1", peer: "peer-bob"}
	m.IncomingCall(idle)
	m.wait()
	assert.True(t, idle.rejected)
	assert.Zero(t, m.CallCount())

	camera := &fakeSource{}
	require.NoError(t, m.StartBroadcast(ctx, camera, domain.MediaCamera))
	pulled := &fakeCall{id: "in-2", peer: "peer-bob"}
	m.IncomingCall(pulled)
	m.wait()
	assert.Same(t, camera, pulled.answered)
	assert.Equal(t, 1, m.CallCount())

	m.HandleAnnounce(ctx, announce("peer-carol", "s1"))
	m.wait()
	require.Equal(t, 2, m.CallCount())

	require.NoError(t, m.StopBroadcast(ctx))
	assert.True(t, pulled.isClosed())
	assert.Equal(t, 1, m.CallCount(), "pulling call stays open")
	assert.Equal(t, []domain.MediaKind{domain.MediaCamera}, sig.withdrawn)

	require.NoError(t, m.StopBroadcast(ctx))
	assert.Len(t, sig.withdrawn, 1)
}

func TestMesh_CallClosedClearsState(t *testing.T) {
	m, conn, _, _ := newTestMesh()
	ctx := context.Background()

	m.HandleAnnounce(ctx, announce("peer-bob", "s1"))
	m.wait()
	dials := conn.dialed()
	require.Len(t, dials, 1)

	m.CallClosed(dials[0].call)
	assert.Zero(t, m.CallCount())
	assert.True(t, conn.placeholders[0].isStopped())

	m.HandleAnnounce(ctx, announce("peer-bob", "s1"))
	m.wait()
	assert.Len(t, conn.dialed(), 2, "closed call is redialed")
}
