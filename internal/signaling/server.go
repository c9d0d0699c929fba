package signaling

import (
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"webrtc-signal-relay/internal/metrics"
	"webrtc-signal-relay/internal/ratelimit"
	"webrtc-signal-relay/internal/relay"
)

// Config wires together the runtime dependencies for the signaling surface.
type Config struct {
	Router  *relay.Router
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// AllowedOrigins is a list of normalized scheme://host[:port] origins
	// accepted on upgrade. Empty allows all origins (dev mode).
	AllowedOrigins []string

	// Idle/keepalive: the read deadline is IdleTimeout from the last read or
	// pong; pings are sent every PingInterval.
	IdleTimeout  time.Duration
	PingInterval time.Duration

	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	SendQueueDepth       int

	// Clock drives the per-connection rate limiter. Nil means wall clock.
	Clock ratelimit.Clock
}

// Server implements the relay's WebSocket signaling surface.
//
// Endpoints:
//   - GET /signal : WebSocket signaling (register/join/leave/signal/end_call)
type Server struct {
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	channels map[*wsChannel]struct{}
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 64 * 1024
	}
	if cfg.MaxMessagesPerSecond <= 0 {
		cfg.MaxMessagesPerSecond = 50
	}
	if cfg.SendQueueDepth <= 0 {
		cfg.SendQueueDepth = 64
	}
	return &Server{
		cfg:      cfg,
		log:      cfg.Logger,
		channels: make(map[*wsChannel]struct{}),
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /signal", s.handleSignal)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Close tears down every live connection. Used on shutdown.
func (s *Server) Close() {
	s.mu.Lock()
	channels := make([]*wsChannel, 0, len(s.channels))
	for ch := range s.channels {
		channels = append(channels, ch)
	}
	s.channels = nil
	s.mu.Unlock()

	for _, ch := range channels {
		_ = ch.Close()
	}
}

func (s *Server) track(ch *wsChannel) {
	s.mu.Lock()
	if s.channels == nil {
		s.channels = make(map[*wsChannel]struct{})
	}
	s.channels[ch] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(ch *wsChannel) {
	s.mu.Lock()
	if s.channels != nil {
		delete(s.channels, ch)
	}
	s.mu.Unlock()
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ch := newWSChannel(conn, s.cfg.SendQueueDepth, s.cfg.Metrics)
	s.track(ch)
	go ch.writeLoop()
	go s.pingLoop(ch)

	s.cfg.Router.Connect(ch)
	s.readLoop(ch)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients send no Origin header.
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	normalized := u.Scheme + "://" + u.Host
	for _, allowed := range s.cfg.AllowedOrigins {
		if normalized == allowed {
			return true
		}
	}
	return false
}

func (s *Server) readLoop(ch *wsChannel) {
	defer func() {
		s.untrack(ch)
		s.cfg.Router.Disconnect(ch)
		_ = ch.Close()
	}()

	conn := ch.conn
	conn.SetReadLimit(s.cfg.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	})

	limiter := ratelimit.NewTokenBucket(
		s.cfg.Clock,
		int64(s.cfg.MaxMessagesPerSecond),
		int64(s.cfg.MaxMessagesPerSecond),
	)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))

		// Apply the rate limit *after* reading the message so we consume any
		// bytes already in the TCP receive buffer.
		//
		// If we close before reading, the OS may send an abortive close (RST)
		// due to unread data, preventing clients from reliably observing the
		// WebSocket close code/reason.
		if !limiter.Allow(1) {
			s.cfg.Metrics.Inc(metrics.DropReasonRateLimited)
			ch.fail("rate_limited", "rate limit exceeded", websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			s.cfg.Metrics.Inc(metrics.DropReasonBadMessage)
			ch.fail("bad_message", "expected text message", websocket.CloseUnsupportedData, "expected text message")
			return
		}

		msg, err := parseClientMessage(data)
		if err != nil {
			s.cfg.Metrics.Inc(metrics.DropReasonBadMessage)
			ch.fail("bad_message", err.Error(), websocket.ClosePolicyViolation, "bad message")
			return
		}

		switch msg.Type {
		case messageTypeRegister:
			s.cfg.Router.Register(ch, msg.Identity)
		case messageTypeJoin:
			s.cfg.Router.Join(ch, msg.Room)
		case messageTypeLeave:
			s.cfg.Router.Leave(ch, msg.Room)
		case messageTypeSignal:
			s.cfg.Router.Signal(ch, msg.Room, msg.To, msg.Payload)
		case messageTypeEndCall:
			s.cfg.Router.EndCall(ch)
		}
	}
}

// pingLoop keeps idle but healthy connections alive: a pong extends the read
// deadline, so only a peer that answers nothing for IdleTimeout gets closed.
func (s *Server) pingLoop(ch *wsChannel) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ch.done:
			return
		case <-ticker.C:
			ch.writeControl(websocket.PingMessage, nil)
		}
	}
}
