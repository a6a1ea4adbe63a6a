package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"chatty/internal/core/domain"
	"chatty/internal/core/services"
	"chatty/internal/infrastructure/middleware"
	"chatty/pkg/config"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const cleanupTimeout = 10 * time.Second

type WebSocketServer struct {
	coordinator *Coordinator
	auth        services.AuthService
	upgrader    websocket.Upgrader
	metrics     Metrics

	authEnabled      bool
	pingInterval     time.Duration
	pongTimeout      time.Duration
	writeTimeout     time.Duration
	sendQueueSize    int
	inboundQueueSize int
	maxMessageSize   int64
	maxConnections   int
	limitMessages    bool
	messageRate      rate.Limit
	messageBurst     int

	wg     sync.WaitGroup
	logger *zap.SugaredLogger
}

// NewWebSocketServer builds the /ws endpoint. auth may be nil when tokens are
// not in use.
func NewWebSocketServer(cfg *config.Config, coordinator *Coordinator, auth services.AuthService, metrics Metrics, logger *zap.SugaredLogger) *WebSocketServer {
	s := &WebSocketServer{
		coordinator:      coordinator,
		auth:             auth,
		metrics:          metrics,
		authEnabled:      cfg.Auth.Enabled,
		pingInterval:     cfg.Signal.PingInterval,
		pongTimeout:      cfg.Signal.PongTimeout,
		writeTimeout:     cfg.Signal.WriteTimeout,
		sendQueueSize:    cfg.Signal.SendQueueSize,
		inboundQueueSize: cfg.Signal.InboundQueueSize,
		maxMessageSize:   cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
		maxConnections:   cfg.RateLimiting.WebSocket.MaxConnections,
		limitMessages:    cfg.RateLimiting.Enabled,
		messageRate:      rate.Limit(cfg.RateLimiting.WebSocket.MessagesPerSecond),
		messageBurst:     cfg.RateLimiting.WebSocket.Burst,
		logger:           logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.Auth.AllowedOrigins),
	}
	return s
}

// originChecker accepts requests without an Origin header, any origin when the
// list holds "*", and otherwise only listed origins.
func originChecker(allowed []string) func(r *http.Request) bool {
	wildcard := false
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			wildcard = true
		}
		set[strings.TrimRight(strings.ToLower(o), "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || wildcard {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return set[strings.ToLower(u.Scheme+"://"+u.Host)]
	}
}

// identify validates the request token. It returns "" when no identity is
// bound and false when the request must be refused.
func (s *WebSocketServer) identify(r *http.Request) (string, bool) {
	token := middleware.TokenFromRequest(r)
	if token == "" || s.auth == nil {
		return "", !s.authEnabled
	}
	claims, err := s.auth.ValidateToken(token)
	if err != nil {
		s.logger.Debugw("rejecting websocket token", "error", err)
		return "", !s.authEnabled
	}
	return claims.Username, true
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	hub := s.coordinator.Hub()
	if s.maxConnections > 0 && hub.Count() >= s.maxConnections {
		s.logger.Warnw("refusing websocket connection", "reason", "max connections", "limit", s.maxConnections)
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	username, ok := s.identify(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(domain.ConnID(uuid.New().String()), s.sendQueueSize)
	if username != "" {
		client.Authenticate(username)
	}
	s.coordinator.Connect(client)

	inbound := make(chan Envelope, s.inboundQueueSize)
	s.wg.Add(2)
	go s.writePump(conn, client)
	go s.dispatch(client, inbound)
	s.readPump(conn, client, inbound)
}

// readPump decodes frames into inbound until the connection fails.
func (s *WebSocketServer) readPump(conn *websocket.Conn, c *Client, inbound chan<- Envelope) {
	defer close(inbound)

	if s.maxMessageSize > 0 {
		conn.SetReadLimit(s.maxMessageSize)
	}
	conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
	})

	var limiter *rate.Limiter
	if s.limitMessages {
		limiter = rate.NewLimiter(s.messageRate, s.messageBurst)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("error reading from client", "conn_id", c.ID(), "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.pongTimeout))

		if limiter != nil && !limiter.Allow() {
			s.metrics.RecordInboundLimited()
			continue
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			s.coordinator.Hub().SendTo(c, EventError, ErrorEvent{Message: "malformed envelope"})
			continue
		}

		select {
		case inbound <- env:
		case <-c.Done():
			return
		}
	}
}

// dispatch handles the connection's events in arrival order, then runs the
// disconnect cleanup once the read side is gone.
func (s *WebSocketServer) dispatch(c *Client, inbound <-chan Envelope) {
	defer s.wg.Done()
	for env := range inbound {
		s.coordinator.Dispatch(context.Background(), c, env)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	s.coordinator.Disconnect(ctx, c)
	c.Close()
}

func (s *WebSocketServer) writePump(conn *websocket.Conn, c *Client) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame := <-c.Send():
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.Infow("error writing to client", "conn_id", c.ID(), "error", err)
				c.Close()
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "conn_id", c.ID(), "error", err)
				c.Close()
				return
			}

		case <-c.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.writeTimeout))
			return
		}
	}
}

// Shutdown closes every connection and waits for their cleanup.
func (s *WebSocketServer) Shutdown(ctx context.Context) error {
	s.coordinator.Hub().CloseAll()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *WebSocketServer) ConnectionCount() int {
	return s.coordinator.Hub().Count()
}
