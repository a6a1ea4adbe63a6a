package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"chatty/internal/core/domain"
	signalproto "chatty/internal/infrastructure/signal"
	"chatty/internal/mesh"
	"chatty/pkg/config"
	"chatty/pkg/logger"
	"chatty/pkg/retry"
	"chatty/pkg/validation"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// countingSink tallies received RTP packets per media kind.
type countingSink struct {
	audio atomic.Int64
	video atomic.Int64
}

func (s *countingSink) WritePacket(_ domain.PeerID, kind webrtc.RTPCodecType, _ *rtp.Packet) {
	if kind == webrtc.RTPCodecTypeVideo {
		s.video.Add(1)
		return
	}
	s.audio.Add(1)
}

// fetchICEServers asks the coordinator for its STUN/TURN list.
func fetchICEServers(ctx context.Context, baseURL, token string) ([]config.ICEServer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/api/v1/webrtc/config", nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, req.URL)
	}

	var body struct {
		ICEServers []config.ICEServer `json:"iceServers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.ICEServers, nil
}

func main() {
	apiURL := flag.String("api", "http://localhost:8080", "coordinator HTTP base URL")
	wsURL := flag.String("ws", "ws://localhost:8080/ws", "coordinator WebSocket URL")
	token := flag.String("token", "", "bearer token when the coordinator requires auth")
	username := flag.String("username", "", "username to register")
	groupID := flag.String("group", "", "group id")
	channelID := flag.String("channel", "", "channel id")
	broadcast := flag.Bool("broadcast", false, "announce a synthetic camera stream")
	message := flag.String("message", "", "send this message after joining")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	zapLogger, err := logger.New(*logLevel, "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if *groupID == "" || *channelID == "" {
		log.Fatal("-group and -channel are required")
	}
	for _, err := range []error{
		validation.ValidateUsername(*username),
		validation.ValidateURL(*apiURL),
		validation.ValidateURL(*wsURL),
	} {
		if err != nil {
			log.Fatalw("invalid flags", "error", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, options{
		apiURL:    *apiURL,
		wsURL:     *wsURL,
		token:     *token,
		identity:  mesh.Identity{Username: *username, PeerID: domain.PeerID("peer-" + uuid.New().String())},
		room:      domain.RoomKey{GroupID: *groupID, ChannelID: *channelID},
		broadcast: *broadcast,
		message:   *message,
	}, log); err != nil {
		log.Fatalw("mesh client failed", "error", err)
	}
}

type options struct {
	apiURL    string
	wsURL     string
	token     string
	identity  mesh.Identity
	room      domain.RoomKey
	broadcast bool
	message   string
}

func run(ctx context.Context, opts options, log *zap.SugaredLogger) error {
	servers, err := fetchICEServers(ctx, opts.apiURL, opts.token)
	if err != nil {
		log.Warnw("failed to fetch ICE servers, using host candidates only", "error", err)
	}

	var client *mesh.SignalClient
	err = retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
		c, err := mesh.DialSignal(ctx, opts.wsURL, opts.token, opts.identity, log)
		if errors.Is(err, domain.ErrUnauthorized) {
			return retry.Permanent(err)
		}
		if err != nil {
			log.Warnw("coordinator not reachable", "url", opts.wsURL, "error", err)
			return err
		}
		client = c
		return nil
	})
	if err != nil {
		return err
	}
	defer client.Close()

	sink := &countingSink{}
	connector := mesh.NewPionConnector(mesh.ICEServers(servers), client, sink, log)
	defer connector.Close()

	m := mesh.New(opts.identity.PeerID, connector, client, mesh.Handlers{
		OnRemoteStream: func(peer domain.PeerID, stream mesh.RemoteStream) {
			log.Infow("receiving stream", "peer_id", peer, "stream_id", stream.StreamID, "codecs", stream.Codecs)
		},
		OnRemoveStream: func(peer domain.PeerID) {
			log.Infow("stream ended", "peer_id", peer)
		},
	}, log)
	defer m.Close()

	if err := client.Register(); err != nil {
		return fmt.Errorf("failed to register: %w", err)
	}
	if err := client.JoinChannel(opts.room); err != nil {
		return fmt.Errorf("failed to join %s: %w", opts.room, err)
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- client.Run(ctx, m, connector, mesh.Observers{
			OnMessage: func(msg domain.Message) {
				log.Infow("message", "from", msg.Username, "text", msg.Text, "image_url", msg.ImageURL)
			},
			OnHistory: func(msgs []domain.Message) {
				log.Infow("joined channel", "room", opts.room.String(), "history", len(msgs))
			},
			OnSystem: func(notice signalproto.SystemNotice) {
				log.Infow("system", "type", notice.Type, "text", notice.Text)
			},
			OnError: func(message string) {
				log.Warnw("coordinator rejected event", "message", message)
			},
		})
	}()

	if opts.broadcast {
		camera, err := connector.Placeholder()
		if err != nil {
			return err
		}
		defer camera.Stop()
		if err := m.StartBroadcast(ctx, camera, domain.MediaCamera); err != nil {
			return fmt.Errorf("failed to start broadcast: %w", err)
		}
		defer m.StopBroadcast(context.Background())
	}
	if opts.message != "" {
		if err := client.SendMessage(opts.message); err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}
	}

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case err := <-runErr:
			return err
		case <-ticker.C:
			log.Debugw("media stats",
				"calls", m.CallCount(),
				"peers", len(m.Peers()),
				"audio_packets", sink.audio.Load(),
				"video_packets", sink.video.Load(),
			)
		}
	}
}
