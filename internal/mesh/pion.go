package mesh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"chatty/internal/core/domain"
	"chatty/internal/infrastructure/signal"
	"chatty/pkg/config"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"
)

const placeholderFrame = 20 * time.Millisecond

// Opus comfort-noise frame.
var silentOpus = []byte{0xf8, 0xff, 0xfe}

var ErrCallNotFound = errors.New("call not found")

// SignalSender carries SDP and candidates to the remote peer.
type SignalSender interface {
	Send(event string, data interface{}) error
}

// PacketSink consumes the RTP packets of remote tracks.
type PacketSink interface {
	WritePacket(peer domain.PeerID, kind webrtc.RTPCodecType, pkt *rtp.Packet)
}

// DiscardSink drops every packet.
type DiscardSink struct{}

func (DiscardSink) WritePacket(domain.PeerID, webrtc.RTPCodecType, *rtp.Packet) {}

// ICEServers converts the configured servers for pion.
func ICEServers(servers []config.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		out = append(out, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out
}

// PionConnector implements Connector with pion peer connections. Offers,
// answers and candidates travel as signal:* events.
type PionConnector struct {
	api    *webrtc.API
	config webrtc.Configuration
	signal SignalSender
	sink   PacketSink

	mu     sync.Mutex
	calls  map[string]*pionCall
	events CallEvents

	logger *zap.SugaredLogger
}

func NewPionConnector(iceServers []webrtc.ICEServer, sender SignalSender, sink PacketSink, logger *zap.SugaredLogger) *PionConnector {
	if sink == nil {
		sink = DiscardSink{}
	}
	return &PionConnector{
		api: webrtc.NewAPI(),
		config: webrtc.Configuration{
			ICEServers: iceServers,
		},
		signal: sender,
		sink:   sink,
		calls:  make(map[string]*pionCall),
		logger: logger,
	}
}

func (p *PionConnector) Attach(events CallEvents) {
	p.mu.Lock()
	p.events = events
	p.mu.Unlock()
}

func (p *PionConnector) observer() CallEvents {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events
}

// Placeholder returns a silent Opus track and a VP8 track that carries no
// frames until the call is replaced by real media.
func (p *PionConnector) Placeholder() (MediaSource, error) {
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"placeholder-audio", "placeholder",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create placeholder audio: %w", err)
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"placeholder-video", "placeholder",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create placeholder video: %w", err)
	}

	src := &placeholderSource{audio: audio, video: video, stop: make(chan struct{})}
	go src.run()
	return src, nil
}

type placeholderSource struct {
	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample
	stop  chan struct{}
	once  sync.Once
}

func (s *placeholderSource) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.audio, s.video}
}

func (s *placeholderSource) Stop() {
	s.once.Do(func() { close(s.stop) })
}

func (s *placeholderSource) run() {
	ticker := time.NewTicker(placeholderFrame)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			// Not yet bound to a connection is not an error worth reporting.
			_ = s.audio.WriteSample(media.Sample{Data: silentOpus, Duration: placeholderFrame})
		case <-s.stop:
			return
		}
	}
}

type pionCall struct {
	id        string
	peer      domain.PeerID
	pc        *webrtc.PeerConnection
	connector *PionConnector

	mu        sync.Mutex
	offer     webrtc.SessionDescription
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	announced bool
	closed    bool
}

func (c *pionCall) ID() string          { return c.id }
func (c *pionCall) Peer() domain.PeerID { return c.peer }

func (c *pionCall) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.connector.forget(c.id)
	return c.pc.Close()
}

// Answer accepts a pulled call with src.
func (c *pionCall) Answer(ctx context.Context, src MediaSource) error {
	if err := c.setRemote(c.offer); err != nil {
		return err
	}
	// Added after the offer so the offered transceivers are reused.
	for _, track := range src.Tracks() {
		if _, err := c.pc.AddTrack(track); err != nil {
			return fmt.Errorf("failed to add track: %w", err)
		}
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("failed to create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}
	return c.connector.signal.Send(signal.EventSignalAnswer, signal.SignalPayload{
		TargetPeerID: c.peer,
		CallID:       c.id,
		SDP:          answer.SDP,
	})
}

func (c *pionCall) Reject() {
	c.Close()
}

func (c *pionCall) setRemote(desc webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	c.mu.Lock()
	c.remoteSet = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, cand := range pending {
		if err := c.pc.AddICECandidate(cand); err != nil {
			c.connector.logger.Debugw("failed to add buffered candidate", "call_id", c.id, "error", err)
		}
	}
	return nil
}

func (c *pionCall) addCandidate(cand webrtc.ICECandidateInit) error {
	c.mu.Lock()
	if !c.remoteSet {
		c.pending = append(c.pending, cand)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.pc.AddICECandidate(cand)
}

func (p *PionConnector) newCall(id string, peer domain.PeerID) (*pionCall, error) {
	pc, err := p.api.NewPeerConnection(p.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	call := &pionCall{id: id, peer: peer, pc: pc, connector: p}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		raw, err := json.Marshal(cand.ToJSON())
		if err != nil {
			return
		}
		if err := p.signal.Send(signal.EventSignalCandidate, signal.SignalPayload{
			TargetPeerID: peer,
			CallID:       id,
			Candidate:    raw,
		}); err != nil {
			p.logger.Debugw("failed to send candidate", "call_id", id, "error", err)
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		p.handleTrack(call, track)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.logger.Debugw("peer connection state changed", "call_id", id, "peer_id", peer, "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			call.Close()
			if events := p.observer(); events != nil {
				events.CallClosed(call)
			}
		}
	})

	p.mu.Lock()
	p.calls[id] = call
	p.mu.Unlock()
	return call, nil
}

func (p *PionConnector) forget(id string) {
	p.mu.Lock()
	delete(p.calls, id)
	p.mu.Unlock()
}

func (p *PionConnector) call(id string) *pionCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[id]
}

// Dial offers src to peer.
func (p *PionConnector) Dial(ctx context.Context, peer domain.PeerID, src MediaSource) (Call, error) {
	call, err := p.newCall(uuid.New().String(), peer)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (Call, error) {
		call.Close()
		return nil, err
	}

	for _, track := range src.Tracks() {
		if _, err := call.pc.AddTrack(track); err != nil {
			return fail(fmt.Errorf("failed to add track: %w", err))
		}
	}
	offer, err := call.pc.CreateOffer(nil)
	if err != nil {
		return fail(fmt.Errorf("failed to create offer: %w", err))
	}
	if err := call.pc.SetLocalDescription(offer); err != nil {
		return fail(fmt.Errorf("failed to set local description: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	if err := p.signal.Send(signal.EventSignalOffer, signal.SignalPayload{
		TargetPeerID: peer,
		CallID:       call.id,
		SDP:          offer.SDP,
	}); err != nil {
		return fail(fmt.Errorf("failed to send offer: %w", err))
	}
	return call, nil
}

// HandleSignal applies a relayed offer, answer or candidate.
func (p *PionConnector) HandleSignal(ctx context.Context, event string, msg signal.SignalPayload) error {
	switch event {
	case signal.EventSignalOffer:
		call, err := p.newCall(msg.CallID, msg.FromPeerID)
		if err != nil {
			return err
		}
		call.offer = webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP}
		events := p.observer()
		if events == nil {
			call.Reject()
			return nil
		}
		events.IncomingCall(call)
		return nil

	case signal.EventSignalAnswer:
		call := p.call(msg.CallID)
		if call == nil {
			return ErrCallNotFound
		}
		return call.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP})

	case signal.EventSignalCandidate:
		call := p.call(msg.CallID)
		if call == nil {
			return ErrCallNotFound
		}
		var cand webrtc.ICECandidateInit
		if err := json.Unmarshal(msg.Candidate, &cand); err != nil {
			return fmt.Errorf("failed to decode candidate: %w", err)
		}
		return call.addCandidate(cand)
	}
	return fmt.Errorf("unexpected signal event %q", event)
}

// handleTrack reports the first remote track of a call and pumps its packets
// into the sink. Video tracks get a PLI so the sender starts with a key frame.
func (p *PionConnector) handleTrack(call *pionCall, track *webrtc.TrackRemote) {
	p.logger.Infow("remote track started",
		"call_id", call.id,
		"peer_id", call.peer,
		"kind", track.Kind().String(),
		"codec", track.Codec().MimeType,
	)

	if track.Kind() == webrtc.RTPCodecTypeVideo {
		if err := call.pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
		}); err != nil {
			p.logger.Debugw("failed to request key frame", "call_id", call.id, "error", err)
		}
	}

	call.mu.Lock()
	first := !call.announced
	call.announced = true
	call.mu.Unlock()
	if first {
		if events := p.observer(); events != nil {
			events.RemoteStream(call, RemoteStream{
				StreamID: track.StreamID(),
				Codecs:   []string{track.Codec().MimeType},
			})
		}
	}

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		p.sink.WritePacket(call.peer, track.Kind(), pkt)
	}
}

// Close ends every open call.
func (p *PionConnector) Close() {
	p.mu.Lock()
	calls := make([]*pionCall, 0, len(p.calls))
	for _, c := range p.calls {
		calls = append(calls, c)
	}
	p.mu.Unlock()

	for _, c := range calls {
		c.Close()
	}
}
