package signaling

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"webrtc-signal-relay/internal/metrics"
	"webrtc-signal-relay/internal/relay"
)

func newTestServer(t *testing.T, mutate func(*Config)) (*httptest.Server, *Server, *metrics.Metrics) {
	t.Helper()

	m := metrics.New()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := Config{
		Router:  relay.NewRouter(relay.RouterConfig{Logger: log, Metrics: m}),
		Logger:  log,
		Metrics: m,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv := NewServer(cfg)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return ts, srv, m
}

func dialSignal(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/signal"
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func sendText(t *testing.T, c *websocket.Conn, msg string) {
	t.Helper()
	if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readServerMessage(t *testing.T, c *websocket.Conn) serverMessage {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return msg
}

// register performs the register handshake and consumes the ack.
func register(t *testing.T, c *websocket.Conn, identity string) {
	t.Helper()
	sendText(t, c, `{"type":"register","identity":"`+identity+`"}`)
	msg := readServerMessage(t, c)
	if msg.Type != messageTypeRegistered || msg.Identity != identity {
		t.Fatalf("register ack = %+v", msg)
	}
}

func TestWebSocketRegisterAck(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)
	c := dialSignal(t, ts)
	register(t, c, "alice")
}

func TestWebSocketRoomCallFlow(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	alice := dialSignal(t, ts)
	bob := dialSignal(t, ts)
	register(t, alice, "alice")
	register(t, bob, "bob")

	sendText(t, alice, `{"type":"join","room":"call-1"}`)
	sendText(t, bob, `{"type":"join","room":"call-1"}`)

	joined := readServerMessage(t, alice)
	if joined.Type != messageTypeUserJoined || joined.Identity != "bob" || joined.Room != "call-1" {
		t.Fatalf("user_joined = %+v", joined)
	}

	sendText(t, alice, `{"type":"signal","room":"call-1","payload":{"type":"offer","sdp":"v=0"}}`)
	offer := readServerMessage(t, bob)
	if offer.Type != messageTypeSignal || offer.From != "alice" {
		t.Fatalf("offer = %+v", offer)
	}
	if string(offer.Payload) != `{"type":"offer","sdp":"v=0"}` {
		t.Fatalf("payload relayed as %s", offer.Payload)
	}

	sendText(t, bob, `{"type":"signal","to":"alice","payload":{"type":"answer"}}`)
	answer := readServerMessage(t, alice)
	if answer.Type != messageTypeSignal || answer.From != "bob" {
		t.Fatalf("answer = %+v", answer)
	}

	sendText(t, bob, `{"type":"end_call"}`)
	ended := readServerMessage(t, alice)
	if ended.Type != messageTypeCallEnded || ended.Identity != "bob" {
		t.Fatalf("call_ended = %+v", ended)
	}
}

func TestWebSocketDisconnectNotifiesRoom(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	alice := dialSignal(t, ts)
	bob := dialSignal(t, ts)
	register(t, alice, "alice")
	register(t, bob, "bob")

	sendText(t, alice, `{"type":"join","room":"lobby"}`)
	sendText(t, bob, `{"type":"join","room":"lobby"}`)
	if msg := readServerMessage(t, alice); msg.Type != messageTypeUserJoined {
		t.Fatalf("user_joined = %+v", msg)
	}

	bob.Close()

	left := readServerMessage(t, alice)
	if left.Type != messageTypeUserLeft || left.Identity != "bob" || left.Room != "lobby" {
		t.Fatalf("user_left = %+v", left)
	}
}

func TestWebSocketBadMessageClosesConnection(t *testing.T) {
	ts, _, m := newTestServer(t, nil)
	c := dialSignal(t, ts)

	sendText(t, c, `{"type":"shout"}`)

	errMsg := readServerMessage(t, c)
	if errMsg.Type != messageTypeError || errMsg.Code != "bad_message" {
		t.Fatalf("error = %+v", errMsg)
	}

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := c.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("close error = %v", err)
	}
	if m.Get(metrics.DropReasonBadMessage) != 1 {
		t.Fatalf("bad_message counter = %d", m.Get(metrics.DropReasonBadMessage))
	}
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestWebSocketRateLimitCloses(t *testing.T) {
	ts, _, m := newTestServer(t, func(cfg *Config) {
		cfg.MaxMessagesPerSecond = 2
		// A frozen clock means the bucket never refills past its burst.
		cfg.Clock = fixedClock{now: time.Now()}
	})
	c := dialSignal(t, ts)
	register(t, c, "alice")

	sendText(t, c, `{"type":"join","room":"a"}`)
	sendText(t, c, `{"type":"join","room":"b"}`)

	var sawRateLimited bool
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
				t.Fatalf("close error = %v", err)
			}
			break
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal %q: %v", data, err)
		}
		if msg.Type == messageTypeError && msg.Code == "rate_limited" {
			sawRateLimited = true
		}
	}
	if !sawRateLimited {
		t.Fatal("expected a rate_limited error before close")
	}
	if m.Get(metrics.DropReasonRateLimited) != 1 {
		t.Fatalf("rate_limited counter = %d", m.Get(metrics.DropReasonRateLimited))
	}
}

func TestWebSocketOriginAllowlist(t *testing.T) {
	ts, _, _ := newTestServer(t, func(cfg *Config) {
		cfg.AllowedOrigins = []string{"https://app.example.com"}
	})
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/signal"

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	if _, resp, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Fatal("disallowed origin accepted")
	} else if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 handshake rejection, got %v", resp)
	}

	header = http.Header{"Origin": []string{"https://app.example.com"}}
	c, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}
	c.Close()
}

func TestWebSocketSupersededConnectionIsClosed(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	first := dialSignal(t, ts)
	register(t, first, "alice")

	second := dialSignal(t, ts)
	register(t, second, "alice")

	// The first connection is torn down server-side.
	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Fatal("superseded connection still open")
	}

	// The second connection keeps working.
	sendText(t, second, `{"type":"join","room":"lobby"}`)
	sendText(t, second, `{"type":"leave","room":"lobby"}`)
}

func TestWebSocketIdleTimeoutClosesWithoutPong(t *testing.T) {
	ts, _, _ := newTestServer(t, func(cfg *Config) {
		cfg.IdleTimeout = 500 * time.Millisecond
		cfg.PingInterval = 50 * time.Millisecond
	})
	c := dialSignal(t, ts)

	pingSeen := make(chan struct{}, 1)
	c.SetPingHandler(func(string) error {
		select {
		case pingSeen <- struct{}{}:
		default:
		}
		// No pong: the server's read deadline must eventually fire.
		return nil
	})

	done := make(chan error, 1)
	go func() {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				done <- err
				return
			}
		}
	}()

	select {
	case <-pingSeen:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for server ping")
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for server to close idle websocket")
	}
}

func TestWebSocketPongKeepsConnectionOpen(t *testing.T) {
	ts, _, _ := newTestServer(t, func(cfg *Config) {
		cfg.IdleTimeout = 500 * time.Millisecond
		cfg.PingInterval = 50 * time.Millisecond
	})
	c := dialSignal(t, ts)

	c.SetPingHandler(func(appData string) error {
		return c.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-closed:
		t.Fatal("connection closed despite pongs")
	case <-time.After(1200 * time.Millisecond):
	}
}
